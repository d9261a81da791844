package pairing

import (
	"sync"

	"github.com/oggyb/anon-relay/internal/session"
)

// Locker hands out one mutex per user. Entries are reference counted and
// dropped once nobody holds or waits for them.
//
// Two locks are always taken in ascending id order. A lock on a lower id
// while holding a higher one is only attempted with TryLock.
type Locker struct {
	mu    sync.Mutex
	locks map[session.UserID]*keyedMutex
}

type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[session.UserID]*keyedMutex)}
}

func (l *Locker) ref(id session.UserID) *keyedMutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &keyedMutex{}
		l.locks[id] = m
	}
	m.refs++
	return m
}

func (l *Locker) unref(id session.UserID, m *keyedMutex) {
	m.refs--
	if m.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *Locker) Lock(id session.UserID) {
	l.ref(id).mu.Lock()
}

// TryLock locks id if it is free right now.
func (l *Locker) TryLock(id session.UserID) bool {
	m := l.ref(id)
	if m.mu.TryLock() {
		return true
	}
	l.mu.Lock()
	l.unref(id, m)
	l.mu.Unlock()
	return false
}

func (l *Locker) Unlock(id session.UserID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		panic("pairing: unlock of unlocked user")
	}
	m.mu.Unlock()
	l.unref(id, m)
}

// LockPair locks a and b in ascending order. a == b locks once.
func (l *Locker) LockPair(a, b session.UserID) {
	if a == b {
		l.Lock(a)
		return
	}
	if b < a {
		a, b = b, a
	}
	l.Lock(a)
	l.Lock(b)
}

func (l *Locker) UnlockPair(a, b session.UserID) {
	l.Unlock(a)
	if a != b {
		l.Unlock(b)
	}
}

// Extend locks other while held is already locked by the caller.
//
// It reports whether held had to be released on the way; in that case
// anything read under held is stale and must be re-validated.
func (l *Locker) Extend(held, other session.UserID) (dropped bool) {
	if other == held {
		return false
	}
	if other > held {
		l.Lock(other)
		return false
	}
	if l.TryLock(other) {
		return false
	}
	l.Unlock(held)
	l.LockPair(held, other)
	return true
}

// size is the number of live entries, for tests.
func (l *Locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
