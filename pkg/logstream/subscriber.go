package logstream

import (
	"context"
	"sync"

	"github.com/dukex/leadflow/pkg/models"
)

const subscriberBuffer = 64

// subscriber queues entries without bound so Append never waits on a slow reader.
type subscriber struct {
	mu      sync.Mutex
	pending []models.ExecutionLog
	done    bool
	wake    chan struct{}
	out     chan models.ExecutionLog
}

func newSubscriber(history []models.ExecutionLog) *subscriber {
	return &subscriber{
		pending: history,
		wake:    make(chan struct{}, 1),
		out:     make(chan models.ExecutionLog, subscriberBuffer),
	}
}

func (s *subscriber) push(entry models.ExecutionLog) {
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	s.mu.Unlock()

	s.signal()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()

	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.out)

	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		finished := s.done && len(batch) == 0
		s.mu.Unlock()

		if finished {
			return
		}

		for _, entry := range batch {
			select {
			case s.out <- entry:
			case <-ctx.Done():
				return
			}
		}

		if len(batch) > 0 {
			continue
		}

		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}
