// Package logstream assigns, persists and fans out execution log entries.
package logstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/jonboulle/clockwork"
)

var ErrMissingExecutionID = errors.New("log entry has no execution id")

type Filter = persistence.LogFilter

// Stream owns sequence assignment for every execution it sees. Entries are persisted before
// subscribers see them, and both happen under the execution's lock, so a subscriber's replay plus
// live feed has no gaps or duplicates.
type Stream struct {
	logger     *slog.Logger
	logs       persistence.LogRepository
	executions persistence.ExecutionRepository
	clock      clockwork.Clock

	mu      sync.Mutex
	streams map[string]*executionStream
}

type executionStream struct {
	mu          sync.Mutex
	seeded      bool
	last        int64
	live        bool // set by Open or Append; Complete will follow
	done        bool
	removed     bool
	nextSubID   int
	subscribers map[int]*subscriber
}

func New(logger *slog.Logger, logs persistence.LogRepository, executions persistence.ExecutionRepository, clock clockwork.Clock) *Stream {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Stream{
		logger:     logger.With("module", "logstream"),
		logs:       logs,
		executions: executions,
		clock:      clock,
		streams:    make(map[string]*executionStream),
	}
}

// Append stamps entry with the next sequence and the current time, persists it and publishes it.
// A failed write does not consume a sequence number.
func (s *Stream) Append(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error) {
	if entry.ExecutionID == "" {
		return models.ExecutionLog{}, ErrMissingExecutionID
	}

	es := s.lock(entry.ExecutionID)
	defer es.mu.Unlock()

	es.live = true

	if !es.seeded {
		last, err := s.logs.LastSequence(ctx, entry.ExecutionID)
		if err != nil {
			return models.ExecutionLog{}, fmt.Errorf("failed to seed log sequence: %w", err)
		}

		es.last = last
		es.seeded = true
	}

	entry.Sequence = es.last + 1
	entry.Timestamp = s.clock.Now().UTC()

	err := s.logs.Append(ctx, entry)
	if err != nil {
		// Another writer may have advanced the sequence; reseed on the next append.
		es.seeded = false

		return models.ExecutionLog{}, err
	}

	es.last = entry.Sequence

	for _, sub := range es.subscribers {
		sub.push(entry)
	}

	return entry, nil
}

func (s *Stream) Query(ctx context.Context, executionID string, filter Filter) ([]models.ExecutionLog, error) {
	return s.logs.Query(ctx, executionID, filter)
}

// Subscribe replays the persisted history and then follows live entries. The channel closes once
// the execution is terminal and everything has been delivered, or when ctx is done. While this
// stream is still appending for the execution, only Complete ends the feed, so the logs written
// after the terminal status is persisted still reach the subscriber.
func (s *Stream) Subscribe(ctx context.Context, executionID string) (<-chan models.ExecutionLog, error) {
	es := s.lock(executionID)

	sub, id, err := s.subscribe(ctx, executionID, es)

	es.mu.Unlock()

	if err != nil {
		s.release(executionID, es, -1)

		return nil, err
	}

	go func() {
		sub.run(ctx)
		s.release(executionID, es, id)
	}()

	return sub.out, nil
}

// subscribe registers a subscriber on es, whose mutex the caller holds.
func (s *Stream) subscribe(ctx context.Context, executionID string, es *executionStream) (*subscriber, int, error) {
	if !es.done && !es.live {
		execution, err := s.executions.GetByID(ctx, executionID)
		if err != nil {
			return nil, 0, err
		}

		es.done = execution.Status.IsTerminal()
	}

	history, err := s.logs.Query(ctx, executionID, Filter{})
	if err != nil {
		return nil, 0, err
	}

	sub := newSubscriber(history)
	if es.done {
		sub.finish()
	}

	id := es.nextSubID
	es.nextSubID++
	es.subscribers[id] = sub

	return sub, id, nil
}

// Open declares that this process writes the execution's logs and will call Complete. Until
// then a subscriber trusts the persisted status to decide whether the feed is already over.
func (s *Stream) Open(executionID string) {
	es := s.lock(executionID)
	es.live = true
	es.mu.Unlock()
}

// Complete marks the execution terminal. Subscribers close after draining.
func (s *Stream) Complete(executionID string) {
	es := s.lock(executionID)
	es.done = true

	for _, sub := range es.subscribers {
		sub.finish()
	}

	empty := len(es.subscribers) == 0
	es.mu.Unlock()

	if empty {
		s.release(executionID, es, -1)
	}
}

// lock returns the live stream for executionID with its mutex held.
func (s *Stream) lock(executionID string) *executionStream {
	for {
		s.mu.Lock()

		es, ok := s.streams[executionID]
		if !ok {
			es = &executionStream{subscribers: make(map[int]*subscriber)}
			s.streams[executionID] = es
		}

		s.mu.Unlock()

		es.mu.Lock()

		if !es.removed {
			return es
		}

		es.mu.Unlock()
	}
}

// release drops subscriber id and forgets the stream once it is unobserved and either done or
// never written to by this process.
func (s *Stream) release(executionID string, es *executionStream, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	es.mu.Lock()
	defer es.mu.Unlock()

	delete(es.subscribers, id)

	if len(es.subscribers) == 0 && (es.done || !es.live) && !es.removed {
		es.removed = true

		if s.streams[executionID] == es {
			delete(s.streams, executionID)
		}
	}
}
