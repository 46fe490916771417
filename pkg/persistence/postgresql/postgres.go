// Package postgresql provides the PostgreSQL persistence backend.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq" // registers the postgres driver
)

// Persistence implements persistence.Persistence on PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	workflows      *WorkflowRepository
	templates      *TemplateRepository
	executions     *ExecutionRepository
	logs           *LogRepository
	agents         *AgentRepository
	orchestrations *OrchestrationRepository
}

// NewPersistence connects to databaseURL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, database, migrations()).RunMigrations(ctx)
	if err != nil {
		_ = database.Close()

		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return New(database, logger), nil
}

// New wraps an open database without running migrations.
func New(db *sql.DB, logger *slog.Logger) *Persistence {
	return &Persistence{
		db:             db,
		logger:         logger,
		workflows:      NewWorkflowRepository(db, logger),
		templates:      NewTemplateRepository(db, logger),
		executions:     NewExecutionRepository(db, logger),
		logs:           NewLogRepository(db, logger),
		agents:         NewAgentRepository(db, logger),
		orchestrations: NewOrchestrationRepository(db),
	}
}

func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository { return p.workflows }

func (p *Persistence) TemplateRepository() persistence.TemplateRepository { return p.templates }

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executions }

func (p *Persistence) LogRepository() persistence.LogRepository { return p.logs }

func (p *Persistence) AgentRepository() persistence.AgentRepository { return p.agents }

func (p *Persistence) OrchestrationRepository() persistence.OrchestrationRepository {
	return p.orchestrations
}

func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}
