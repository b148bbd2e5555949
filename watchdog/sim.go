package watchdog

import (
	"sync"
	"time"
)

// Sim is a deterministic stand-in for the hardware countdown, used on host
// builds and in tests. Check advances it: once the time since the last feed
// exceeds the budget, OnReset runs exactly once; the stall has to end (a
// Feed) before it can fire again.
type Sim struct {
	OnReset func()

	mu      sync.Mutex
	timeout time.Duration
	armed   bool
	fired   bool
	last    time.Time
}

func (s *Sim) Configure(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
	s.armed = true
	s.fired = false
	s.last = time.Time{}
	return nil
}

func (s *Sim) Feed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = time.Now()
	s.fired = false
}

// FeedAt is the test hook for a synthetic clock.
func (s *Sim) FeedAt(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = now
	s.fired = false
}

// Check fires OnReset if the budget has been exceeded since the last feed.
// Returns whether it fired. The first Check after arming establishes the
// baseline.
func (s *Sim) Check(now time.Time) bool {
	s.mu.Lock()
	if !s.armed || s.fired {
		s.mu.Unlock()
		return false
	}
	if s.last.IsZero() {
		s.last = now
		s.mu.Unlock()
		return false
	}
	if now.Sub(s.last) <= s.timeout {
		s.mu.Unlock()
		return false
	}
	s.fired = true
	fn := s.OnReset
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	return true
}
