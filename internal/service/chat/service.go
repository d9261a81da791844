// Package chat dispatches inbound user events to the pairing, relay and
// report engines and answers the user with service notices.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/oggyb/anon-relay/internal/app"
	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/pairing"
	"github.com/oggyb/anon-relay/internal/recovery"
	"github.com/oggyb/anon-relay/internal/relay"
	"github.com/oggyb/anon-relay/internal/report"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/throttle"
	"github.com/oggyb/anon-relay/internal/transport"
)

// Service is the single entry point for user events.
// Until Recover succeeds every event is rejected with ErrNotReady.
type Service struct {
	appCtx   *app.AppContext
	sessions *repository.SessionRepository
	pairing  *pairing.Engine
	relay    *relay.Engine
	guard    throttle.Guard
	reports  report.Sink
	sink     transport.Sink
	ready    atomic.Bool
}

// NewService wires the engines from AppContext. Outbound messages go to sink.
//
// The throttle guard lives in Redis when AppContext carries a RedisCache and
// in process memory otherwise.
func NewService(appCtx *app.AppContext, sink transport.Sink) *Service {
	cfg := appCtx.Config
	sessions := repository.NewSessionRepository(appCtx.DB, appCtx.Clock)
	engine := pairing.NewEngine(sessions, sink, appCtx.Metrics)

	limits := throttle.Config{MaxActions: cfg.Throttle.MaxActions, Window: cfg.Throttle.Window}
	var guard throttle.Guard
	if appCtx.RedisCache != nil {
		guard = throttle.NewRedisGuard(limits, appCtx.RedisCache)
	} else {
		guard = throttle.NewMemoryGuard(limits, cfg.Throttle.CacheSize)
	}

	return &Service{
		appCtx:   appCtx,
		sessions: sessions,
		pairing:  engine,
		relay:    relay.NewEngine(sessions, engine.Locker(), sink, cfg.Relay.Timeout, appCtx.Metrics),
		guard:    guard,
		reports:  report.NewService(repository.NewReportRepository(appCtx.DB), sink, cfg.Admin.ChatID),
		sink:     sink,
	}
}

// Recover repairs the store and rebuilds the waiting pool, then starts
// accepting events.
func (s *Service) Recover(ctx context.Context) (recovery.Report, error) {
	rep, err := recovery.Run(ctx, s.sessions, s.pairing, s.appCtx.Metrics)
	if err != nil {
		return rep, err
	}
	s.ready.Store(true)
	return rep, nil
}

func (s *Service) Ready() bool { return s.ready.Load() }

// PoolLen reports how many users are waiting.
func (s *Service) PoolLen() int { return s.pairing.PoolLen() }

// Handle processes one event from id.
//
// Behavior:
//   - The user record is created on first contact.
//   - Every event passes the throttle guard first.
//   - Failures are answered with a notice and also returned to the caller.
func (s *Service) Handle(ctx context.Context, id session.UserID, ev transport.Event) error {
	if !s.ready.Load() {
		return svcErr.ErrNotReady
	}

	err := s.handle(ctx, id, ev)
	if err != nil {
		if kind, ok := NoticeFor(err); ok {
			s.notify(ctx, id, kind)
		}
		if !isUserError(err) {
			logger.Error("event failed", logger.UserAttr(id), "err", err)
		}
	}
	return err
}

func (s *Service) handle(ctx context.Context, id session.UserID, ev transport.Event) error {
	if _, err := s.sessions.LoadOrCreate(ctx, id); err != nil {
		return err
	}

	d, err := s.guard.Check(ctx, id, s.appCtx.Clock.Now())
	if err != nil {
		return err
	}
	if d == throttle.Throttled {
		s.appCtx.Metrics.Throttled()
		return svcErr.ErrThrottled
	}

	switch ev := ev.(type) {
	case transport.Command:
		return s.command(ctx, id, ev)
	case transport.Message:
		return s.relay.Relay(ctx, id, ev.Content)
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
}

func (s *Service) command(ctx context.Context, id session.UserID, cmd transport.Command) error {
	switch cmd.Name {
	case transport.CmdStart, transport.CmdHelp:
		s.notify(ctx, id, transport.NoticeWelcome)
		return nil

	case transport.CmdFind:
		res, err := s.pairing.Find(ctx, id)
		if err != nil {
			return err
		}
		s.answerFind(ctx, id, res)
		return nil

	case transport.CmdNext:
		res, err := s.pairing.Next(ctx, id)
		if err != nil {
			return err
		}
		s.answerFind(ctx, id, res)
		return nil

	case transport.CmdStop:
		res, err := s.pairing.Stop(ctx, id)
		if err != nil {
			return err
		}
		if res == pairing.LeftQueue {
			s.notify(ctx, id, transport.NoticeLeftQueue)
		} else {
			s.notify(ctx, id, transport.NoticeChatEnded)
		}
		return nil

	case transport.CmdReport:
		partner, err := s.pairing.Partner(ctx, id)
		if err != nil {
			return err
		}
		if err := s.reports.RecordReport(ctx, id, partner, cmd.Args); err != nil {
			return err
		}
		s.notify(ctx, id, transport.NoticeReportSubmitted)
		return nil
	}
	return fmt.Errorf("unknown command %q", cmd.Name)
}

// answerFind tells the requester what happened. Matched notices were
// already sent to both sides by the engine.
func (s *Service) answerFind(ctx context.Context, id session.UserID, res pairing.FindResult) {
	switch res.Outcome {
	case pairing.Queued:
		s.notify(ctx, id, transport.NoticeSearching)
	case pairing.AlreadyActive:
		if res.Current == session.StateWaiting {
			s.notify(ctx, id, transport.NoticeAlreadySearching)
		} else {
			s.notify(ctx, id, transport.NoticeAlreadyConnected)
		}
	}
}

func (s *Service) notify(ctx context.Context, id session.UserID, kind transport.NoticeKind) {
	if err := s.sink.Notify(ctx, id, transport.N(kind)); err != nil {
		logger.Warn("notice not delivered", logger.UserAttr(id), "notice", string(kind), "err", err)
	}
}

// NoticeFor maps an event error to the notice the user sees.
func NoticeFor(err error) (transport.NoticeKind, bool) {
	switch {
	case err == nil, errors.Is(err, svcErr.ErrNotReady):
		return "", false
	case errors.Is(err, svcErr.ErrThrottled):
		return transport.NoticeSlowDown, true
	case errors.Is(err, relay.ErrPartnerGone):
		return transport.NoticePartnerUnavailable, true
	case errors.Is(err, svcErr.ErrNoPartner):
		return transport.NoticeNotInChat, true
	case errors.Is(err, svcErr.ErrDeliveryFailed), errors.Is(err, transport.ErrInvalidContent):
		return transport.NoticeDeliveryFailed, true
	default:
		return transport.NoticeTryAgain, true
	}
}

func isUserError(err error) bool {
	return errors.Is(err, svcErr.ErrThrottled) ||
		errors.Is(err, svcErr.ErrNoPartner) ||
		errors.Is(err, transport.ErrInvalidContent)
}
