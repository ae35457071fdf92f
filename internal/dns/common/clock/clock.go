// Package clock abstracts wall-clock time so request bookkeeping can be
// tested deterministically.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (c RealClock) Now() time.Time {
	return time.Now()
}

// MockClock is a manually advanced clock. It is safe for concurrent use.
type MockClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// NewMockClock returns a MockClock frozen at t.
func NewMockClock(t time.Time) *MockClock {
	return &MockClock{CurrentTime: t}
}

func (c *MockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CurrentTime
}

func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.CurrentTime = c.CurrentTime.Add(d)
	c.mu.Unlock()
}
