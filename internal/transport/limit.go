package transport

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/oggyb/anon-relay/internal/session"
)

// LimitedSink paces outbound calls with a global token bucket and retries
// ErrTransient failures a bounded number of times.
type LimitedSink struct {
	next       Sink
	limiter    *rate.Limiter
	maxRetries int
}

var _ Sink = (*LimitedSink)(nil)

// NewLimitedSink wraps next. perSecond <= 0 disables pacing.
func NewLimitedSink(next Sink, perSecond float64, burst, maxRetries int) *LimitedSink {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst < 1 {
		burst = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &LimitedSink{
		next:       next,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: maxRetries,
	}
}

func (s *LimitedSink) Notify(ctx context.Context, to session.UserID, n Notice) error {
	return s.do(ctx, func() error { return s.next.Notify(ctx, to, n) })
}

func (s *LimitedSink) Forward(ctx context.Context, to session.UserID, c Content) error {
	return s.do(ctx, func() error { return s.next.Forward(ctx, to, c) })
}

func (s *LimitedSink) do(ctx context.Context, call func() error) error {
	for attempt := 0; ; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		err := call()
		if err == nil || !errors.Is(err, ErrTransient) || attempt >= s.maxRetries {
			return err
		}
	}
}
