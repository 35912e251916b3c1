// Package tracker counts in-flight requests and gates new admissions
// during drain, per spec §4.J. All state is a pair of atomics; no task
// holds a lock across an I/O suspension point here because there is no
// lock at all.
package tracker

import (
	"sync/atomic"
	"time"
)

type state int32

const (
	accepting state = iota
	draining
)

// Tracker is the shared connection/request counter the supervisor drains
// during shutdown.
type Tracker struct {
	inFlight int64
	state    int32 // atomic state
}

// New returns a Tracker in the Accepting state.
func New() *Tracker {
	return &Tracker{state: int32(accepting)}
}

// Enter admits one request if the tracker is Accepting, incrementing the
// in-flight counter. ok is false if the tracker is Draining; the caller
// must then emit 503 with Connection: close and must not call Exit.
func (t *Tracker) Enter() (ok bool) {
	if state(atomic.LoadInt32(&t.state)) == draining {
		return false
	}
	atomic.AddInt64(&t.inFlight, 1)
	// Re-check after incrementing: a drain may have started concurrently
	// with this Enter. If so, back out rather than let the request race
	// the drain's zero-check.
	if state(atomic.LoadInt32(&t.state)) == draining {
		atomic.AddInt64(&t.inFlight, -1)
		return false
	}
	return true
}

// Exit releases one in-flight slot. Must be called exactly once for every
// Enter that returned true.
func (t *Tracker) Exit() {
	atomic.AddInt64(&t.inFlight, -1)
}

// InFlight returns the current in-flight count.
func (t *Tracker) InFlight() int64 {
	return atomic.LoadInt64(&t.inFlight)
}

// Drain flips the tracker to Draining, refusing new admissions, and
// blocks until InFlight reaches zero or deadline elapses. Returns true if
// drain completed cleanly (zero in-flight), false if the deadline was
// hit with requests still outstanding.
func (t *Tracker) Drain(deadline time.Duration) bool {
	atomic.StoreInt32(&t.state, int32(draining))

	if atomic.LoadInt64(&t.inFlight) == 0 {
		return true
	}

	timeout := time.After(deadline)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timeout:
			return atomic.LoadInt64(&t.inFlight) == 0
		case <-ticker.C:
			if atomic.LoadInt64(&t.inFlight) == 0 {
				return true
			}
		}
	}
}

// IsDraining reports whether the tracker has begun draining.
func (t *Tracker) IsDraining() bool {
	return state(atomic.LoadInt32(&t.state)) == draining
}
