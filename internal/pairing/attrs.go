package pairing

import (
	"log/slog"

	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/session"
)

func slogPeer(id session.UserID) slog.Attr {
	return slog.String("peer", logger.Pseudonym(id))
}
