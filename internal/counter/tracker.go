// Package counter implements the per-device monotonic counter tracker.
//
// The tracker is the engine's only shared mutable state. A counter is
// accepted only if it is strictly greater than the last accepted value for
// the device; acceptance is provisional (a reservation) until the whole
// submission verifies, at which point the reservation commits, otherwise it
// rolls back. Reservations are serialized per device so two concurrent
// submissions from the same device can never both accept the same or an
// out-of-order counter.
package counter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Outcome classifies a check_and_reserve attempt.
type Outcome int

const (
	// Accepted: counter reserved, pending commit or rollback.
	Accepted Outcome = iota
	// Replayed: counter equals the last accepted value or a live
	// reservation. Logged as a potential attack by callers.
	Replayed
	// OutOfOrder: counter is below the last accepted value or a live
	// reservation.
	OutOfOrder
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Replayed:
		return "replayed"
	case OutOfOrder:
		return "out_of_order"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Record is the durable per-device state: the last accepted counter and
// when it was accepted. Mutated only on commit, never during verification.
type Record struct {
	DeviceID       string
	LastCounter    uint64
	LastAcceptedAt time.Time
}

// Store is the durable backend for counter records. Implementations must
// make Commit atomic and conditional on strict increase.
type Store interface {
	// Get returns the record for a device, or ok=false when the device has
	// never committed a counter.
	Get(ctx context.Context, deviceID string) (rec Record, ok bool, err error)

	// Commit durably records counter as the device's last accepted value.
	// It must fail if the stored value is already >= counter.
	Commit(ctx context.Context, deviceID string, counter uint64, at time.Time) error

	Close() error
}

// ErrCommitConflict is returned by Store.Commit when the stored counter is
// not strictly below the one being committed.
var ErrCommitConflict = errors.New("counter: commit conflict, stored counter not below committed value")

// Tracker coordinates reservations over a Store.
type Tracker struct {
	store Store

	mu      sync.Mutex
	devices map[string]*deviceState
}

// deviceState is the in-process view of one device's counter line. Its
// mutex is the per-device critical section required by the concurrency
// model.
type deviceState struct {
	mu      sync.Mutex
	loaded  bool
	hasLast bool
	last    uint64
	pending map[uint64]bool
}

// NewTracker creates a tracker over a durable store.
func NewTracker(store Store) *Tracker {
	return &Tracker{
		store:   store,
		devices: make(map[string]*deviceState),
	}
}

// Reservation is a provisional counter acceptance. Exactly one of Commit or
// Rollback must be called; Rollback after Commit is a no-op.
type Reservation struct {
	tracker  *Tracker
	state    *deviceState
	deviceID string
	counter  uint64
	done     bool
	mu       sync.Mutex
}

// CheckAndReserve attempts to reserve a counter for a device. When the
// outcome is Accepted the returned reservation is non-nil and must be
// committed or rolled back by the caller.
func (t *Tracker) CheckAndReserve(ctx context.Context, deviceID string, counter uint64) (Outcome, *Reservation, error) {
	st := t.stateFor(deviceID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		rec, ok, err := t.store.Get(ctx, deviceID)
		if err != nil {
			return OutOfOrder, nil, fmt.Errorf("load counter record: %w", err)
		}
		st.loaded = true
		st.hasLast = ok
		if ok {
			st.last = rec.LastCounter
		}
	}

	if st.hasLast {
		if counter == st.last {
			return Replayed, nil, nil
		}
		if counter < st.last {
			return OutOfOrder, nil, nil
		}
	}

	for p := range st.pending {
		if counter == p {
			return Replayed, nil, nil
		}
		if counter < p {
			// Committing it after the higher reservation would break
			// strict per-device ordering, so it is rejected up front.
			return OutOfOrder, nil, nil
		}
	}

	st.pending[counter] = true
	return Accepted, &Reservation{
		tracker:  t,
		state:    st,
		deviceID: deviceID,
		counter:  counter,
	}, nil
}

// Commit durably records the reserved counter as accepted. Called only after
// the whole submission verified; after commit the submission can no longer
// be cancelled.
func (r *Reservation) Commit(ctx context.Context, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return errors.New("counter: reservation already resolved")
	}

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if err := r.tracker.store.Commit(ctx, r.deviceID, r.counter, at); err != nil {
		delete(r.state.pending, r.counter)
		r.done = true
		return err
	}

	delete(r.state.pending, r.counter)
	r.state.hasLast = true
	r.state.last = r.counter
	r.done = true
	return nil
}

// Raise extends the reservation to a higher counter observed later in the
// same submission, such as the final checkpoint counter. Commit then
// records the raised value, making every counter up to it unacceptable for
// the device afterwards. A value at or below the current reservation is a
// no-op.
func (r *Reservation) Raise(counter uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done || counter <= r.counter {
		return
	}
	r.state.mu.Lock()
	delete(r.state.pending, r.counter)
	r.state.pending[counter] = true
	r.state.mu.Unlock()
	r.counter = counter
}

// Rollback releases the reservation without side effects. Safe to defer.
func (r *Reservation) Rollback() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return
	}
	r.state.mu.Lock()
	delete(r.state.pending, r.counter)
	r.state.mu.Unlock()
	r.done = true
}

// Counter returns the reserved value.
func (r *Reservation) Counter() uint64 { return r.counter }

// LastAccepted returns the device's last committed counter, loading the
// record on first use. ok is false for a device never seen before.
func (t *Tracker) LastAccepted(ctx context.Context, deviceID string) (uint64, bool, error) {
	st := t.stateFor(deviceID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.loaded {
		rec, ok, err := t.store.Get(ctx, deviceID)
		if err != nil {
			return 0, false, fmt.Errorf("load counter record: %w", err)
		}
		st.loaded = true
		st.hasLast = ok
		if ok {
			st.last = rec.LastCounter
		}
	}
	return st.last, st.hasLast, nil
}

func (t *Tracker) stateFor(deviceID string) *deviceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.devices[deviceID]
	if !ok {
		st = &deviceState{pending: make(map[uint64]bool)}
		t.devices[deviceID] = st
	}
	return st
}
