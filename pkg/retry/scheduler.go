package retry

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Scheduler runs deferred resumptions on a clock instead of sleeping in the caller.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	nextID  int
	pending map[int]clockwork.Timer
	stopped bool
}

func NewScheduler(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Scheduler{clock: clock, pending: make(map[int]clockwork.Timer)}
}

// Schedule runs fn once after delay. The returned cancel reports whether fn was prevented.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (cancel func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return func() bool { return false }
	}

	id := s.nextID
	s.nextID++

	// The callback may fire before Schedule returns, so it waits for the lock on its own goroutine.
	s.pending[id] = s.clock.AfterFunc(delay, func() { go s.fire(id, fn) })

	return func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()

		timer, ok := s.pending[id]
		if !ok {
			return false
		}

		delete(s.pending, id)
		timer.Stop()

		return true
	}
}

// fire runs fn unless its entry was cancelled or stopped in the meantime.
func (s *Scheduler) fire(id int, fn func()) {
	s.mu.Lock()
	_, live := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()

	if live {
		fn()
	}
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Stop cancels every pending callback and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
}
