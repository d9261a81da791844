// Package report records abuse reports and forwards them to the admin chat.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/oggyb/anon-relay/internal/db"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
)

// DefaultReason is stored when the reporter gave none.
const DefaultReason = "[no reason given]"

type Sink interface {
	RecordReport(ctx context.Context, reporter, reported session.UserID, reason string) error
}

// Service persists reports and notifies the admin. Admin delivery goes
// through a circuit breaker so a dead admin chat does not slow reporters down.
type Service struct {
	repo    *repository.ReportRepository
	sink    transport.Sink
	adminID session.UserID
	breaker *gobreaker.CircuitBreaker
}

var _ Sink = (*Service)(nil)

// NewService builds a report sink. adminID 0 disables admin notices.
func NewService(repo *repository.ReportRepository, sink transport.Sink, adminID session.UserID) *Service {
	return &Service{
		repo:    repo,
		sink:    sink,
		adminID: adminID,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "admin-notify",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Info("breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// RecordReport stores the report. A failed admin notice is logged only;
// the report itself is already durable at that point.
func (s *Service) RecordReport(ctx context.Context, reporter, reported session.UserID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultReason
	}

	r, err := s.repo.Create(ctx, reporter, reported, reason)
	if err != nil {
		return err
	}
	logger.Info("report stored", "report_id", r.ID, logger.UserAttr(reporter))

	if s.adminID == 0 {
		return nil
	}
	total, err := s.repo.CountAgainst(ctx, reported)
	if err != nil {
		logger.Warn("count reports failed", "err", err)
	}
	if err := s.notifyAdmin(ctx, r, total); err != nil {
		logger.Warn("admin notice failed", "report_id", r.ID, "err", err)
	}
	return nil
}

func (s *Service) notifyAdmin(ctx context.Context, r db.Report, total int64) error {
	body := fmt.Sprintf("Report #%d\nReporter: %d\nPartner: %d (%d reports)\nReason: %s",
		r.ID, r.ReporterID, r.ReportedID, total, r.Reason)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.sink.Notify(ctx, s.adminID, transport.Notice{Kind: transport.NoticeAdminReport, Body: body})
	})
	return err
}
