// Package schedule runs workflows that declare a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/engine"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/triggers"
	"github.com/robfig/cron/v3"
)

const DefaultResyncInterval = time.Minute

type entry struct {
	id   cron.EntryID
	spec string
}

// Scheduler keeps one cron entry per scheduled workflow and resyncs with storage periodically.
type Scheduler struct {
	logger    *slog.Logger
	workflows persistence.WorkflowRepository
	runner    triggers.Runner
	resync    time.Duration
	cron      *cron.Cron

	mu      sync.Mutex
	entries map[string]entry
}

func New(logger *slog.Logger, workflows persistence.WorkflowRepository, runner triggers.Runner, resync time.Duration) *Scheduler {
	if resync <= 0 {
		resync = DefaultResyncInterval
	}

	logger = logger.With("module", "schedule_trigger")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))

	return &Scheduler{
		logger:    logger,
		workflows: workflows,
		runner:    runner,
		resync:    resync,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		entries: make(map[string]entry),
	}
}

// Sync adds, replaces and removes cron entries to match the scheduled workflows in storage.
func (s *Scheduler) Sync(ctx context.Context) error {
	workflows, err := s.workflows.ListScheduled(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scheduled workflows: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(workflows))

	for _, workflow := range workflows {
		seen[workflow.ID] = true

		current, exists := s.entries[workflow.ID]
		if exists && current.spec == workflow.Schedule {
			continue
		}

		if exists {
			s.cron.Remove(current.id)
			delete(s.entries, workflow.ID)
		}

		id, err := s.cron.AddFunc(workflow.Schedule, s.fire(workflow.TenantID, workflow.ID, workflow.Schedule))
		if err != nil {
			s.logger.WarnContext(ctx, "Skipping workflow with invalid schedule",
				"workflow_id", workflow.ID, "schedule", workflow.Schedule, "error", err)

			continue
		}

		s.entries[workflow.ID] = entry{id: id, spec: workflow.Schedule}
		s.logger.InfoContext(ctx, "Scheduled workflow", "workflow_id", workflow.ID, "schedule", workflow.Schedule)
	}

	for workflowID, current := range s.entries {
		if seen[workflowID] {
			continue
		}

		s.cron.Remove(current.id)
		delete(s.entries, workflowID)
		s.logger.InfoContext(ctx, "Unscheduled workflow", "workflow_id", workflowID)
	}

	return nil
}

// Len returns how many workflows are scheduled.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Run syncs, starts the cron and blocks until ctx is done. Running jobs are waited for on exit.
func (s *Scheduler) Run(ctx context.Context) error {
	err := s.Sync(ctx)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Schedule trigger started", "workflows", s.Len())

	ticker := time.NewTicker(s.resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-s.cron.Stop().Done()
			s.logger.Info("Schedule trigger stopped")

			return nil
		case <-ticker.C:
			err := s.Sync(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to resync schedules", "error", err)
			}
		}
	}
}

func (s *Scheduler) fire(tenantID, workflowID, spec string) func() {
	return func() {
		ctx := context.Background()

		executionID, err := s.runner.Run(ctx, workflowID, engine.RunRequest{
			TenantID: tenantID,
			Source:   models.TriggerSchedule,
			Input: map[string]any{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"schedule":  spec,
			},
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled run was rejected", "workflow_id", workflowID, "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Scheduled run started", "workflow_id", workflowID, "execution_id", executionID)
	}
}
