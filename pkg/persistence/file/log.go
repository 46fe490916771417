package file

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
)

// LogRepository appends one JSON line per entry to logs/<execution>.jsonl.
type LogRepository struct {
	store *store
	// last caches the highest stored sequence per execution.
	last map[string]int64
}

func (r *LogRepository) path(executionID string) string {
	return r.store.path("logs", executionID+".jsonl")
}

func (r *LogRepository) Append(_ context.Context, entry models.ExecutionLog) error {
	err := validateID(entry.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	last, err := r.lastSequence(entry.ExecutionID)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	if entry.Sequence <= last {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID,
			fmt.Errorf("%w: %d <= %d", persistence.ErrLogSequenceConflict, entry.Sequence, last))
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	err = os.MkdirAll(r.store.path("logs"), 0750)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	f, err := os.OpenFile(r.path(entry.ExecutionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	_, err = f.Write(append(line, '\n'))
	if err == nil {
		err = f.Sync()
	}

	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}

	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	r.last[entry.ExecutionID] = entry.Sequence

	return nil
}

func (r *LogRepository) Query(_ context.Context, executionID string, filter persistence.LogFilter) ([]models.ExecutionLog, error) {
	if validateID(executionID) != nil {
		return []models.ExecutionLog{}, nil
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	logs := make([]models.ExecutionLog, 0)

	err := r.scan(executionID, func(entry models.ExecutionLog) bool {
		if filter.Matches(entry) {
			logs = append(logs, entry)
		}

		return filter.Limit <= 0 || len(logs) < filter.Limit
	})
	if err != nil {
		return nil, persistence.NewExecutionError("QueryLogs", executionID, err)
	}

	return logs, nil
}

func (r *LogRepository) LastSequence(_ context.Context, executionID string) (int64, error) {
	if validateID(executionID) != nil {
		return 0, nil
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.lastSequence(executionID)
}

// lastSequence must be called with the store lock held.
func (r *LogRepository) lastSequence(executionID string) (int64, error) {
	if last, ok := r.last[executionID]; ok {
		return last, nil
	}

	var last int64

	err := r.scan(executionID, func(entry models.ExecutionLog) bool {
		last = max(last, entry.Sequence)

		return true
	})
	if err != nil {
		return 0, err
	}

	r.last[executionID] = last

	return last, nil
}

// scan calls visit for each stored entry in file order until visit returns false.
func (r *LogRepository) scan(executionID string, visit func(models.ExecutionLog) bool) error {
	f, err := os.Open(r.path(executionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return err
	}

	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}

		var entry models.ExecutionLog

		err := json.Unmarshal(scanner.Bytes(), &entry)
		if err != nil {
			return fmt.Errorf("corrupt log line: %w", err)
		}

		if !visit(entry) {
			return nil
		}
	}

	return scanner.Err()
}
