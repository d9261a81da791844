// Package throttle limits how many actions a user may take inside a
// sliding time window.
package throttle

import (
	"context"
	"time"

	"github.com/oggyb/anon-relay/internal/session"
)

type Decision int

const (
	Allowed Decision = iota
	Throttled
)

func (d Decision) String() string {
	if d == Throttled {
		return "throttled"
	}
	return "allowed"
}

// Guard decides whether a user may act at now.
//
// Allowed iff fewer than MaxActions actions fall in [now-Window, now]; an
// allowed action is recorded. A throttled check has no side effect.
type Guard interface {
	Check(ctx context.Context, id session.UserID, now time.Time) (Decision, error)
}

// Config is the single tunable window.
type Config struct {
	MaxActions int
	Window     time.Duration
}

func (c Config) normalized() Config {
	if c.MaxActions < 1 {
		c.MaxActions = 1
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	return c
}
