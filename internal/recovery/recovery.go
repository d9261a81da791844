// Package recovery repairs the session store after a restart and rebuilds
// the in-memory waiting pool. It runs once, before any event is handled.
package recovery

import (
	"context"
	"time"

	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/metrics"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
)

// Restorer receives the rebuilt waiting pool, oldest first.
type Restorer interface {
	Restore(ids []session.UserID)
}

// Report summarizes one recovery run.
type Report struct {
	// Normalized rows did not encode a valid status at all.
	Normalized int64
	// Repaired paired records whose partner did not point back.
	Repaired int
	// Requeued waiting users put back in the pool.
	Requeued int
}

// Run makes the store consistent and restores the pool. Running it twice
// in a row repairs nothing the second time.
//
// Steps:
//  1. reset rows that are malformed at the column level
//  2. reset every paired record whose partner is missing or linked elsewhere
//  3. restore waiting users ordered by state_changed_at, then id
func Run(ctx context.Context, store repository.SessionStore, pool Restorer, m *metrics.Metrics) (Report, error) {
	start := time.Now()
	var rep Report

	n, err := store.NormalizeMalformed(ctx)
	if err != nil {
		return rep, err
	}
	rep.Normalized = n

	paired, err := store.ListByState(ctx, session.StatePaired)
	if err != nil {
		return rep, err
	}
	links := make(map[session.UserID]session.UserID, len(paired))
	for _, rec := range paired {
		p, _ := rec.Status.Partner()
		links[rec.ID] = p
	}

	var broken []session.UserID
	for _, rec := range paired {
		p := links[rec.ID]
		if back, ok := links[p]; !ok || back != rec.ID {
			broken = append(broken, rec.ID)
		}
	}
	if err := store.Reset(ctx, broken...); err != nil {
		return rep, err
	}
	rep.Repaired = len(broken)
	for _, id := range broken {
		logger.Info("recovery: cleared ghost link", logger.UserAttr(id))
	}

	waiting, err := store.ListByState(ctx, session.StateWaiting)
	if err != nil {
		return rep, err
	}
	ids := make([]session.UserID, len(waiting))
	for i, rec := range waiting {
		ids[i] = rec.ID
	}
	pool.Restore(ids)
	rep.Requeued = len(ids)

	m.Repaired(int(rep.Normalized) + rep.Repaired)
	m.SetWaiting(len(ids))
	logger.Info("recovery complete",
		"normalized", rep.Normalized,
		"repaired", rep.Repaired,
		"requeued", rep.Requeued,
		"took", time.Since(start).String(),
	)
	return rep, nil
}
