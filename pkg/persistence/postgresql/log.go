package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/lib/pq"
)

type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// Append inserts entry only when its sequence is above the stored maximum.
func (r *LogRepository) Append(ctx context.Context, entry models.ExecutionLog) error {
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, sequence, node_id, level, message, payload, logged_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE $2 > COALESCE((SELECT MAX(sequence) FROM execution_logs WHERE execution_id = $1), 0)
	`, entry.ExecutionID, entry.Sequence, entry.NodeID, entry.Level, entry.Message, payload, entry.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return persistence.NewExecutionError("AppendLog", entry.ExecutionID, persistence.ErrLogSequenceConflict)
		}

		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, fmt.Errorf("failed to append log: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID, err)
	}

	if affected == 0 {
		return persistence.NewExecutionError("AppendLog", entry.ExecutionID,
			fmt.Errorf("%w: sequence %d", persistence.ErrLogSequenceConflict, entry.Sequence))
	}

	return nil
}

func (r *LogRepository) Query(ctx context.Context, executionID string, filter persistence.LogFilter) ([]models.ExecutionLog, error) {
	levels := make([]string, 0, len(filter.Levels))
	for _, level := range filter.Levels {
		levels = append(levels, string(level))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT execution_id, sequence, node_id, level, message, payload, logged_at
		FROM execution_logs
		WHERE execution_id = $1
		  AND sequence > $2
		  AND ($3 = '' OR node_id = $3)
		  AND (cardinality($4::text[]) = 0 OR level = ANY($4))
		ORDER BY sequence
		LIMIT NULLIF($5, 0)
	`, executionID, filter.AfterSequence, filter.NodeID, pq.Array(levels), filter.Limit)
	if err != nil {
		return nil, persistence.NewExecutionError("QueryLogs", executionID, fmt.Errorf("failed to query logs: %w", err))
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	logs := make([]models.ExecutionLog, 0)

	for rows.Next() {
		var (
			entry   models.ExecutionLog
			payload []byte
		)

		err := rows.Scan(&entry.ExecutionID, &entry.Sequence, &entry.NodeID, &entry.Level, &entry.Message, &payload, &entry.Timestamp)
		if err != nil {
			return nil, persistence.NewExecutionError("QueryLogs", executionID, fmt.Errorf("failed to scan log: %w", err))
		}

		if len(payload) > 0 {
			err = json.Unmarshal(payload, &entry.Payload)
			if err != nil {
				return nil, persistence.NewExecutionError("QueryLogs", executionID, fmt.Errorf("failed to decode payload: %w", err))
			}
		}

		logs = append(logs, entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewExecutionError("QueryLogs", executionID, err)
	}

	return logs, nil
}

func (r *LogRepository) LastSequence(ctx context.Context, executionID string) (int64, error) {
	var last int64

	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM execution_logs WHERE execution_id = $1`, executionID,
	).Scan(&last)
	if err != nil {
		return 0, persistence.NewExecutionError("LastSequence", executionID, err)
	}

	return last, nil
}
