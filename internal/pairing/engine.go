// Package pairing runs the Idle -> Waiting -> Paired state machine.
//
// Every state change of a user happens under that user's lock; a pair
// change holds both locks. The waiting pool is an in-memory FIFO that
// recovery rebuilds from the store on startup.
package pairing

import (
	"context"
	"errors"

	svcErr "github.com/oggyb/anon-relay/internal/errors"
	"github.com/oggyb/anon-relay/internal/logger"
	"github.com/oggyb/anon-relay/internal/metrics"
	"github.com/oggyb/anon-relay/internal/repository"
	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
)

// maxConflicts bounds how often one Find retries after the store reported
// a concurrent pairing.
const maxConflicts = 3

type Outcome int

const (
	Matched Outcome = iota + 1
	Queued
	AlreadyActive
)

func (o Outcome) String() string {
	switch o {
	case Matched:
		return "matched"
	case Queued:
		return "queued"
	case AlreadyActive:
		return "already_active"
	}
	return "unknown"
}

// FindResult never names the partner.
type FindResult struct {
	Outcome Outcome
	// Current is the requester's state when Outcome is AlreadyActive.
	Current session.State
	// Ended is set by Next when a previous pair was ended first.
	Ended bool
}

type StopResult int

const (
	Disconnected StopResult = iota + 1
	LeftQueue
)

type Engine struct {
	store   repository.SessionStore
	sink    transport.Sink
	locks   *Locker
	pool    *Pool
	metrics *metrics.Metrics
}

func NewEngine(store repository.SessionStore, sink transport.Sink, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   store,
		sink:    sink,
		locks:   NewLocker(),
		pool:    NewPool(),
		metrics: m,
	}
}

// Locker is shared with the relay so deliveries serialize with stop/next.
func (e *Engine) Locker() *Locker { return e.locks }

// Store returns the session store the engine writes through.
func (e *Engine) Store() repository.SessionStore { return e.store }

func (e *Engine) PoolLen() int { return e.pool.Len() }

// Waiting returns the pool contents, oldest first.
func (e *Engine) Waiting() []session.UserID { return e.pool.Snapshot() }

// Restore replaces the waiting pool. Only recovery calls this, before any
// event is handled.
func (e *Engine) Restore(ids []session.UserID) {
	e.pool.Restore(ids)
	e.metrics.SetWaiting(e.pool.Len())
}

// Find pairs id with the oldest waiting user, or queues id when nobody waits.
// A user that is already waiting or paired gets AlreadyActive and nothing changes.
func (e *Engine) Find(ctx context.Context, id session.UserID) (FindResult, error) {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	rec, err := e.store.LoadOrCreate(ctx, id)
	if err != nil {
		return FindResult{}, err
	}
	if !rec.Status.IsIdle() {
		return FindResult{Outcome: AlreadyActive, Current: rec.Status.State()}, nil
	}
	return e.findLocked(ctx, id)
}

// Stop ends id's pair or takes id out of the queue. The former partner is
// told exactly once; the requester is not notified here.
func (e *Engine) Stop(ctx context.Context, id session.UserID) (StopResult, error) {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)
	return e.stopLocked(ctx, id)
}

// Next is Stop followed by Find, without releasing id's lock in between,
// so nobody observes id as Idle. A waiting user leaves the queue first and
// is then matched with the oldest other waiter, or queued again at the tail.
func (e *Engine) Next(ctx context.Context, id session.UserID) (FindResult, error) {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	rec, err := e.store.LoadOrCreate(ctx, id)
	if err != nil {
		return FindResult{}, err
	}

	ended := false
	if !rec.Status.IsIdle() {
		res, err := e.stopLocked(ctx, id)
		if err != nil && !errors.Is(err, svcErr.ErrNoPartner) {
			return FindResult{}, err
		}
		ended = err == nil && res == Disconnected
	}

	res, err := e.findLocked(ctx, id)
	res.Ended = ended
	return res, err
}

// Partner returns id's current partner or ErrNoPartner.
func (e *Engine) Partner(ctx context.Context, id session.UserID) (session.UserID, error) {
	e.locks.Lock(id)
	defer e.locks.Unlock(id)

	rec, err := e.store.Load(ctx, id)
	if errors.Is(err, svcErr.ErrNotFound) {
		return 0, svcErr.ErrNoPartner
	}
	if err != nil {
		return 0, err
	}
	p, ok := rec.Status.Partner()
	if !ok {
		return 0, svcErr.ErrNoPartner
	}
	return p, nil
}

// findLocked expects id locked and Idle in the store.
func (e *Engine) findLocked(ctx context.Context, id session.UserID) (FindResult, error) {
	conflicts := 0
	for {
		peer, ok := e.pool.PopOrPush(id)
		if !ok {
			if err := e.store.Upsert(ctx, session.Record{ID: id, Status: session.Waiting()}); err != nil {
				e.pool.Remove(id)
				return FindResult{}, err
			}
			e.metrics.SetWaiting(e.pool.Len())
			logger.Debug("queued for pairing", logger.UserAttr(id))
			return FindResult{Outcome: Queued}, nil
		}

		res, done, err := e.tryPair(ctx, id, peer)
		if errors.Is(err, svcErr.ErrConflict) {
			conflicts++
			if conflicts >= maxConflicts {
				return FindResult{}, err
			}
			continue
		}
		if done || err != nil {
			return res, err
		}
	}
}

// tryPair attempts id <-> peer. done=false means peer was a stale pool
// entry and the caller should poll again.
func (e *Engine) tryPair(ctx context.Context, id, peer session.UserID) (FindResult, bool, error) {
	dropped := e.locks.Extend(id, peer)
	defer e.locks.Unlock(peer)

	if dropped {
		self, err := e.store.Load(ctx, id)
		if err != nil {
			e.requeue(ctx, peer)
			return FindResult{}, true, err
		}
		if !self.Status.IsIdle() {
			e.requeue(ctx, peer)
			return FindResult{Outcome: AlreadyActive, Current: self.Status.State()}, true, nil
		}
	}

	other, err := e.store.Load(ctx, peer)
	switch {
	case errors.Is(err, svcErr.ErrNotFound):
		return FindResult{}, false, nil
	case err != nil:
		e.pool.PushFront(peer)
		return FindResult{}, true, err
	case !other.Status.IsWaiting():
		// left the queue while popped
		return FindResult{}, false, nil
	}

	if err := e.store.AtomicPair(ctx, id, peer); err != nil {
		e.requeue(ctx, peer)
		if errors.Is(err, svcErr.ErrConflict) {
			self, lerr := e.store.Load(ctx, id)
			if lerr == nil && !self.Status.IsIdle() {
				return FindResult{Outcome: AlreadyActive, Current: self.Status.State()}, true, nil
			}
		}
		return FindResult{}, true, err
	}

	e.metrics.PairFormed()
	e.metrics.SetWaiting(e.pool.Len())
	logger.Info("pair formed", logger.UserAttr(id), slogPeer(peer))

	e.notify(ctx, id, transport.NoticeMatched)
	e.notify(ctx, peer, transport.NoticeMatched)
	return FindResult{Outcome: Matched}, true, nil
}

// requeue puts peer back at the head if the store still has it waiting.
// peer must be locked.
func (e *Engine) requeue(ctx context.Context, peer session.UserID) {
	rec, err := e.store.Load(ctx, peer)
	if err == nil && !rec.Status.IsWaiting() {
		return
	}
	// on a read error keep the entry; a stale one is skipped on the next pop
	e.pool.PushFront(peer)
}

func (e *Engine) stopLocked(ctx context.Context, id session.UserID) (StopResult, error) {
	for {
		rec, err := e.store.LoadOrCreate(ctx, id)
		if err != nil {
			return 0, err
		}

		partner, paired := rec.Status.Partner()
		switch {
		case rec.Status.IsIdle():
			return 0, svcErr.ErrNoPartner
		case rec.Status.IsWaiting():
			if err := e.store.Reset(ctx, id); err != nil {
				return 0, err
			}
			e.pool.Remove(id)
			e.metrics.SetWaiting(e.pool.Len())
			return LeftQueue, nil
		case !paired:
			return 0, svcErr.ErrNoPartner
		}

		if e.locks.Extend(id, partner) {
			cur, err := e.store.Load(ctx, id)
			if err != nil {
				e.locks.Unlock(partner)
				return 0, err
			}
			if cur.Status != rec.Status {
				e.locks.Unlock(partner)
				continue
			}
		}
		res, err := e.unpairLocked(ctx, id, partner)
		e.locks.Unlock(partner)
		return res, err
	}
}

// unpairLocked expects both id and partner locked.
func (e *Engine) unpairLocked(ctx context.Context, id, partner session.UserID) (StopResult, error) {
	other, err := e.store.Load(ctx, partner)
	if err != nil && !errors.Is(err, svcErr.ErrNotFound) {
		return 0, err
	}
	symmetric := err == nil && other.PairedWith(id)

	if _, _, err := e.store.AtomicUnpair(ctx, id); err != nil {
		return 0, err
	}
	e.metrics.Disconnected()
	logger.Info("pair ended", logger.UserAttr(id), slogPeer(partner))

	if symmetric {
		e.notify(ctx, partner, transport.NoticePartnerLeft)
	}
	return Disconnected, nil
}

func (e *Engine) notify(ctx context.Context, to session.UserID, kind transport.NoticeKind) {
	if err := e.sink.Notify(ctx, to, transport.N(kind)); err != nil {
		logger.Warn("notice not delivered", logger.UserAttr(to), "notice", string(kind), "err", err)
	}
}
