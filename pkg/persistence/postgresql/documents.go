package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

type scanner interface {
	Scan(dest ...any) error
}

// scanDocument decodes a single JSONB document column. sql.ErrNoRows becomes notFound.
func scanDocument[T any](row scanner, notFound error) (*T, error) {
	var raw []byte

	err := row.Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}

		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	var value T

	err = json.Unmarshal(raw, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	return &value, nil
}

// queryDocuments runs a query selecting one JSONB column and decodes every row.
func queryDocuments[T any](ctx context.Context, db *sql.DB, logger *slog.Logger, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	values := make([]*T, 0)

	for rows.Next() {
		value, err := scanDocument[T](rows, sql.ErrNoRows)
		if err != nil {
			return nil, err
		}

		values = append(values, value)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	return values, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
