// Package dbquery provides the db-query node, a parameterized read through database/sql.
package dbquery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/template"
)

// MaxRows caps how many rows a single query returns as node output.
const MaxRows = 1000

type Node struct {
	db *sql.DB
}

func New(db *sql.DB) *Node {
	return &Node{db: db}
}

// Handle binds the rendered params positionally and returns {"rows": [...], "count": n}.
func (n *Node) Handle(ctx context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.DBQueryConfig](req)
	if err != nil {
		return nil, err
	}

	data := nodes.Data(req)
	args := make([]any, 0, len(config.Params))

	for i, param := range config.Params {
		value, err := template.Render(param, data)
		if err != nil {
			return nil, &protocol.StructuralError{
				WorkflowID: req.WorkflowID,
				NodeID:     req.Node.ID,
				Err:        fmt.Errorf("param %d: %w", i+1, err),
			}
		}

		args = append(args, value)
	}

	rows, err := n.db.QueryContext(ctx, config.Query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	defer func() { _ = rows.Close() }()

	result, err := scan(rows)
	if err != nil {
		return nil, err
	}

	return map[string]any{"rows": result, "count": len(result)}, nil
}

func scan(rows *sql.Rows) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := []any{}

	for rows.Next() && len(result) < MaxRows {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))

		for i := range values {
			pointers[i] = &values[i]
		}

		err := rows.Scan(pointers...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]any, len(columns))

		for i, column := range columns {
			if raw, ok := values[i].([]byte); ok {
				row[column] = string(raw)

				continue
			}

			row[column] = values[i]
		}

		result = append(result, row)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return result, nil
}
