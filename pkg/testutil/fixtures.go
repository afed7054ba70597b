package testutil

import (
	"sync"
	"time"
)

// TestIDs provides stable identifiers for tests.
var TestIDs = struct {
	UserID1 string
	UserID2 string
	UserID3 string
}{
	UserID1: "user-001",
	UserID2: "user-002",
	UserID3: "user-003",
}

// FixedTime is the default starting point of a FakeClock.
var FixedTime = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

// FakeClock is a manually advanced time source, safe for concurrent use.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at start. A zero start uses FixedTime.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = FixedTime
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time. Pass c.Now wherever a func() time.Time
// is expected.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Days is shorthand for n whole days.
func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// IntPtr returns a pointer to n, for optional integer fields.
func IntPtr(n int) *int {
	return &n
}
