// Package session holds the per-user pairing state as a closed variant.
//
// A user is Idle, Waiting, or Paired with exactly one partner. Status can
// only be built through Idle, Waiting and PairedWith, so a waiting user with
// a partner or a paired user without one cannot be expressed.
package session

import (
	"fmt"
	"time"
)

// UserID is the opaque platform identifier of a user.
type UserID = int64

// State is the tag of a Status.
type State string

const (
	StateIdle    State = "idle"
	StateWaiting State = "waiting"
	StatePaired  State = "paired"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateWaiting, StatePaired:
		return true
	}
	return false
}

// Status is Idle | Waiting | Paired(partner).
type Status struct {
	state   State
	partner UserID
}

func Idle() Status    { return Status{state: StateIdle} }
func Waiting() Status { return Status{state: StateWaiting} }

// PairedWith returns the Paired status linked to partner.
func PairedWith(partner UserID) Status {
	return Status{state: StatePaired, partner: partner}
}

// State returns the tag. The zero Status reports Idle.
func (s Status) State() State {
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// Partner returns the linked partner, ok is false unless Paired.
func (s Status) Partner() (UserID, bool) {
	if s.state != StatePaired {
		return 0, false
	}
	return s.partner, true
}

func (s Status) IsIdle() bool    { return s.State() == StateIdle }
func (s Status) IsWaiting() bool { return s.state == StateWaiting }
func (s Status) IsPaired() bool  { return s.state == StatePaired }

func (s Status) String() string {
	if p, ok := s.Partner(); ok {
		return fmt.Sprintf("paired(%d)", p)
	}
	return string(s.State())
}

// Record is one known user.
type Record struct {
	ID             UserID
	Status         Status
	StateChangedAt time.Time
}

// PairedWith reports whether r is linked to other.
func (r Record) PairedWith(other UserID) bool {
	p, ok := r.Status.Partner()
	return ok && p == other
}
