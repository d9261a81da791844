// Package relay forwards content between the two members of a pair.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/metrics"
	"github.com/oggyb/anon-relay/internal/pairing"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
)

const defaultTimeout = 5 * time.Second

// ErrPartnerGone is returned when the partner could not be reached any
// more and the pair was ended. It matches ErrNoPartner.
var ErrPartnerGone = fmt.Errorf("%w: partner unavailable", svcErr.ErrNoPartner)

type Engine struct {
	store   repository.SessionStore
	locks   *pairing.Locker
	sink    transport.Sink
	timeout time.Duration
	metrics *metrics.Metrics
}

// NewEngine builds a relay sharing locks with the pairing engine.
func NewEngine(store repository.SessionStore, locks *pairing.Locker, sink transport.Sink, timeout time.Duration, m *metrics.Metrics) *Engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Engine{store: store, locks: locks, sink: sink, timeout: timeout, metrics: m}
}

// Relay delivers content to sender's partner.
//
// The sender's lock is held for the whole delivery, so stop or next on the
// pair waits until it finishes. The recipient only ever sees the content.
//
// Errors:
//   - ErrNoPartner: sender is not paired, or the link was stale and has been cleared.
//   - ErrPartnerGone: the transport reported the recipient gone; the pair was ended.
//   - ErrDeliveryFailed: any other transport failure; the pair is untouched.
func (e *Engine) Relay(ctx context.Context, sender session.UserID, content transport.Content) error {
	if err := content.Validate(); err != nil {
		return err
	}

	e.locks.Lock(sender)
	defer e.locks.Unlock(sender)

	rec, err := e.store.Load(ctx, sender)
	if errors.Is(err, svcErr.ErrNotFound) {
		e.metrics.Relayed(metrics.RelayNoPartner)
		return svcErr.ErrNoPartner
	}
	if err != nil {
		return err
	}
	partner, ok := rec.Status.Partner()
	if !ok {
		e.metrics.Relayed(metrics.RelayNoPartner)
		return svcErr.ErrNoPartner
	}

	other, err := e.store.Load(ctx, partner)
	if err != nil && !errors.Is(err, svcErr.ErrNotFound) {
		return err
	}
	if err != nil || !other.PairedWith(sender) {
		logger.Warn("stale link, clearing", logger.UserAttr(sender))
		if err := e.heal(ctx, rec); err != nil {
			return err
		}
		return svcErr.ErrNoPartner
	}

	dctx, cancel := context.WithTimeout(ctx, e.timeout)
	err = e.sink.Forward(dctx, partner, content)
	cancel()

	switch {
	case err == nil:
		e.metrics.Relayed(metrics.RelayDelivered)
		return nil
	case errors.Is(err, transport.ErrRecipientGone):
		logger.Info("recipient gone, ending pair", logger.UserAttr(sender))
		if herr := e.heal(ctx, rec); herr != nil {
			return herr
		}
		return ErrPartnerGone
	default:
		e.metrics.Relayed(metrics.RelayFailed)
		logger.Warn("relay failed", logger.UserAttr(sender), "kind", string(content.Kind), "err", err)
		return fmt.Errorf("%w: %v", svcErr.ErrDeliveryFailed, err)
	}
}

// heal clears seen's link, and the partner's too when it points back.
// Expects seen.ID locked.
func (e *Engine) heal(ctx context.Context, seen session.Record) error {
	partner, _ := seen.Status.Partner()
	if e.locks.Extend(seen.ID, partner) {
		cur, err := e.store.Load(ctx, seen.ID)
		if err != nil {
			e.locks.Unlock(partner)
			return err
		}
		if cur.Status != seen.Status {
			// somebody else already changed the link
			e.locks.Unlock(partner)
			return nil
		}
	}
	defer e.locks.Unlock(partner)

	if _, _, err := e.store.AtomicUnpair(ctx, seen.ID); err != nil {
		return err
	}
	e.metrics.Relayed(metrics.RelayHealed)
	e.metrics.Disconnected()
	return nil
}
