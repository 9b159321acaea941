// Package clock provides the time sources used to stamp stored records.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Clock = systemClock{}

// Monotonic hands out UTC instants truncated to microseconds (the
// precision of TIMESTAMPTZ) that strictly increase across calls.
type Monotonic struct {
	src  Clock
	mu   sync.Mutex
	last time.Time
}

func NewMonotonic(src Clock) *Monotonic {
	if src == nil {
		src = System
	}
	return &Monotonic{src: src}
}

func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.src.Now().UTC().Truncate(time.Microsecond)
	if !now.After(m.last) {
		now = m.last.Add(time.Microsecond)
	}
	m.last = now
	return now
}

// After returns an instant from the clock that is strictly later than t.
func (m *Monotonic) After(t time.Time) time.Time {
	now := m.Now()
	if now.After(t) {
		return now
	}
	return t.UTC().Truncate(time.Microsecond).Add(time.Microsecond)
}

// Fixed always returns the same instant. Useful in tests.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }
