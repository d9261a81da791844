package pairing

import (
	"container/list"
	"sync"

	"github.com/oggyb/anon-relay/internal/session"
)

// Pool is the FIFO of waiting users. It has its own mutex and never does
// I/O while holding it.
type Pool struct {
	mu    sync.Mutex
	order *list.List
	index map[session.UserID]*list.Element
}

func NewPool() *Pool {
	return &Pool{order: list.New(), index: make(map[session.UserID]*list.Element)}
}

// PopOrPush pops the oldest waiter other than id. With nobody else waiting
// it appends id instead. Both happen in one critical section, so two
// concurrent finders can never both end up waiting.
func (p *Pool) PopOrPush(id session.UserID) (session.UserID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for front := p.order.Front(); front != nil; front = p.order.Front() {
		peer := p.removeLocked(front)
		if peer != id {
			return peer, true
		}
	}
	p.pushBackLocked(id)
	return 0, false
}

// Push appends id unless it is already queued.
func (p *Pool) Push(id session.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[id]; ok {
		return false
	}
	p.pushBackLocked(id)
	return true
}

// PushFront puts id back at the head, keeping its place after a failed pairing.
func (p *Pool) PushFront(id session.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.index[id]; ok {
		return false
	}
	p.index[id] = p.order.PushFront(id)
	return true
}

func (p *Pool) Remove(id session.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.index[id]
	if !ok {
		return false
	}
	p.removeLocked(e)
	return true
}

func (p *Pool) Contains(id session.UserID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.index[id]
	return ok
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// Snapshot returns the queued ids, oldest first.
func (p *Pool) Snapshot() []session.UserID {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]session.UserID, 0, p.order.Len())
	for e := p.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(session.UserID))
	}
	return out
}

// Restore replaces the contents with ids in the given order. Duplicates
// keep their first position.
func (p *Pool) Restore(ids []session.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.order.Init()
	p.index = make(map[session.UserID]*list.Element, len(ids))
	for _, id := range ids {
		if _, ok := p.index[id]; !ok {
			p.pushBackLocked(id)
		}
	}
}

func (p *Pool) pushBackLocked(id session.UserID) {
	p.index[id] = p.order.PushBack(id)
}

func (p *Pool) removeLocked(e *list.Element) session.UserID {
	id := p.order.Remove(e).(session.UserID)
	delete(p.index, id)
	return id
}
