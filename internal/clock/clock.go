// Package clock provides the time sources swap engines compare timelocks against.
//
// Production deployments read time from the chain head so that timelocks
// agree with the contracts; tests and local development use Manual.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time at second precision.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// Now returns the current UTC time truncated to the second.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

// Manual is a settable clock. It is safe for concurrent use.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual creates a manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC().Truncate(time.Second)}
}

// Now returns the clock's current value.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Set moves the clock to t. Moving backwards is allowed.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC().Truncate(time.Second)
}

// Advance moves the clock forward by d and returns the new value.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d).Truncate(time.Second)
	return m.now
}
