package errors

import (
	"context"
	"errors"
	"fmt"
)

// Core error taxonomy. Every operation of the pairing, relay and throttle
// layers returns one of these (possibly wrapped) or nil.
var (
	// ErrStorage is an I/O or durability fault in the session store.
	ErrStorage = errors.New("storage error")

	// ErrThrottled means the user exceeded the action window.
	ErrThrottled = errors.New("throttled")

	// ErrNoPartner means the operation needs an active link and there is none.
	ErrNoPartner = errors.New("no partner")

	// ErrConflict means a concurrent pairing attempt won the race.
	ErrConflict = errors.New("pairing conflict")

	// ErrNotFound means the user record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDeliveryFailed means the transport could not deliver relayed content.
	ErrDeliveryFailed = errors.New("delivery failed")

	// ErrNotReady means recovery has not finished yet.
	ErrNotReady = errors.New("not ready")
)

// Storage wraps a driver error as ErrStorage, keeping the detail for logs.
// ErrNotFound, ErrConflict and context errors pass through unchanged.
func Storage(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}
