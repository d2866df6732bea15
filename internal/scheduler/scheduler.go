// Package scheduler arms keyed, cancellable one-shot timers. At most one
// timer is pending per key: scheduling a key again replaces its pending
// timer instead of adding a second one.
package scheduler

import (
	"sync"
	"time"
)

// FireFunc is called on the timer's goroutine when a timer fires.
type FireFunc func(key string, payload any)

type entry struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	fire FireFunc

	mu      sync.Mutex
	pending map[string]entry
	gen     uint64
	stopped bool
}

// New returns a Scheduler that calls fire for every timer that expires.
func New(fire FireFunc) *Scheduler {
	return &Scheduler{
		fire:    fire,
		pending: make(map[string]entry),
	}
}

// Schedule cancels any pending timer for key and arms a new one that fires
// after delay with payload. It returns the number of timers it replaced.
// Scheduling on a stopped Scheduler does nothing.
func (s *Scheduler) Schedule(key string, delay time.Duration, payload any) (replaced int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return 0
	}

	replaced = s.cancelLocked(key)

	s.gen++
	gen := s.gen
	t := time.AfterFunc(delay, func() {
		if !s.claim(key, gen) {
			return
		}
		s.fire(key, payload)
	})
	s.pending[key] = entry{timer: t, gen: gen}
	return replaced
}

// CancelAll cancels the pending timer for key, if any, and returns how many
// were cancelled. Unknown and already fired keys are a no-op.
func (s *Scheduler) CancelAll(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancelLocked(key)
}

// Pending returns the number of timers waiting to fire for key.
func (s *Scheduler) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[key]; ok {
		return 1
	}
	return 0
}

// Len returns the number of timers waiting to fire.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Stop cancels every pending timer. Later calls to Schedule are ignored.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key := range s.pending {
		s.cancelLocked(key)
	}
}

func (s *Scheduler) cancelLocked(key string) int {
	e, ok := s.pending[key]
	if !ok {
		return 0
	}
	e.timer.Stop()
	delete(s.pending, key)
	return 1
}

// claim removes the entry for key if it still belongs to generation gen.
// A timer that lost a race with Schedule or CancelAll sees a newer
// generation, or none, and must not fire.
func (s *Scheduler) claim(key string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[key]
	if !ok || e.gen != gen {
		return false
	}
	delete(s.pending, key)
	return true
}
