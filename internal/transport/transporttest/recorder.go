// Package transporttest provides an in-memory transport.Sink for tests.
package transporttest

import (
	"context"
	"sync"

	"github.com/oggyb/anon-relay/internal/session"
	"github.com/oggyb/anon-relay/internal/transport"
)

// Delivery is one Forward call as the sink saw it.
type Delivery struct {
	To      session.UserID
	Content transport.Content
}

// Recorder records every outbound call. Failures can be injected per
// recipient with FailForward / FailNotify.
type Recorder struct {
	mu          sync.Mutex
	notices     map[session.UserID][]transport.Notice
	deliveries  []Delivery
	failForward map[session.UserID]error
	failNotify  map[session.UserID]error
}

var _ transport.Sink = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{
		notices:     make(map[session.UserID][]transport.Notice),
		failForward: make(map[session.UserID]error),
		failNotify:  make(map[session.UserID]error),
	}
}

func (r *Recorder) Notify(_ context.Context, to session.UserID, n transport.Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failNotify[to]; err != nil {
		return err
	}
	r.notices[to] = append(r.notices[to], n)
	return nil
}

func (r *Recorder) Forward(_ context.Context, to session.UserID, c transport.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failForward[to]; err != nil {
		return err
	}
	r.deliveries = append(r.deliveries, Delivery{To: to, Content: c})
	return nil
}

// FailForward makes every Forward to id return err. nil clears it.
func (r *Recorder) FailForward(id session.UserID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failForward, id)
		return
	}
	r.failForward[id] = err
}

// FailNotify makes every Notify to id return err. nil clears it.
func (r *Recorder) FailNotify(id session.UserID, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failNotify, id)
		return
	}
	r.failNotify[id] = err
}

// Notices returns the notices sent to id so far.
func (r *Recorder) Notices(id session.UserID) []transport.Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Notice(nil), r.notices[id]...)
}

// Kinds returns the notice kinds sent to id, in order.
func (r *Recorder) Kinds(id session.UserID) []transport.NoticeKind {
	var out []transport.NoticeKind
	for _, n := range r.Notices(id) {
		out = append(out, n.Kind)
	}
	return out
}

// Count returns how many notices of kind id received.
func (r *Recorder) Count(id session.UserID, kind transport.NoticeKind) int {
	n := 0
	for _, k := range r.Kinds(id) {
		if k == kind {
			n++
		}
	}
	return n
}

// Deliveries returns all Forward calls so far.
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// Reset forgets all recorded calls; injected failures stay.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = make(map[session.UserID][]transport.Notice)
	r.deliveries = nil
}
