// Package engine runs workflow executions: it walks the graph in topological order, calls node
// handlers, consults the retry manager on failure and persists every status transition.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/eventbus"
	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/metrics"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/retry"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrTenantConcurrencyLimit = errors.New("tenant concurrency limit reached")
	ErrExecutionNotFailed     = errors.New("only failed executions can be retried")
	ErrNodeNotInWorkflow      = errors.New("node is not part of the workflow")
	ErrShuttingDown           = errors.New("engine is shutting down")
	ErrInvalidTrigger         = errors.New("invalid trigger source")
	ErrInvalidTransition      = errors.New("invalid execution status transition")
)

const DefaultNodeTimeout = 30 * time.Second

type Config struct {
	// MaxConcurrentPerTenant caps non-terminal executions per tenant; zero means unbounded.
	MaxConcurrentPerTenant int
	NodeTimeout            time.Duration
	KindTimeouts           map[models.NodeKind]time.Duration
}

func DefaultConfig() Config {
	return Config{NodeTimeout: DefaultNodeTimeout}
}

func (c Config) timeoutFor(kind models.NodeKind) time.Duration {
	if timeout, ok := c.KindTimeouts[kind]; ok && timeout > 0 {
		return timeout
	}

	if c.NodeTimeout > 0 {
		return c.NodeTimeout
	}

	return DefaultNodeTimeout
}

type RunRequest struct {
	TenantID string
	Source   models.TriggerSource
	Input    map[string]any
}

type HandlerResolver interface {
	Handler(kind models.NodeKind) (protocol.Handler, error)
}

type LogStream interface {
	Open(executionID string)
	Append(ctx context.Context, entry models.ExecutionLog) (models.ExecutionLog, error)
	Complete(executionID string)
}

type FailureManager interface {
	OnNodeFailure(ctx context.Context, failure retry.FailureContext) (retry.Decision, error)
	Attempts(executionID, nodeID string) int
	Reset(executionID, nodeID string)
	Forget(executionID string)
}

type Scheduler interface {
	Schedule(delay time.Duration, fn func()) (cancel func() bool)
}

type Deps struct {
	Logger     *slog.Logger
	Workflows  persistence.WorkflowRepository
	Executions persistence.ExecutionRepository
	Handlers   HandlerResolver
	Logs       LogStream
	Retries    FailureManager
	Scheduler  Scheduler
	// Publisher is optional.
	Publisher eventbus.EventPublisher
	Metrics   *metrics.Collector
	Tracer    trace.Tracer
	Clock     clockwork.Clock
}

type Engine struct {
	logger     *slog.Logger
	workflows  persistence.WorkflowRepository
	executions persistence.ExecutionRepository
	handlers   HandlerResolver
	logs       LogStream
	retries    FailureManager
	scheduler  Scheduler
	publisher  eventbus.EventPublisher
	metrics    *metrics.Collector
	tracer     trace.Tracer
	clock      clockwork.Clock
	validate   *validator.Validate
	config     Config

	mu           sync.Mutex
	runs         map[string]*run
	tenantActive map[string]int
	closed       bool
	wg           sync.WaitGroup
}

func New(deps Deps, config Config) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	if deps.Tracer == nil {
		deps.Tracer = otelhelper.NoopTracer()
	}

	return &Engine{
		logger:       deps.Logger.With("module", "engine"),
		workflows:    deps.Workflows,
		executions:   deps.Executions,
		handlers:     deps.Handlers,
		logs:         deps.Logs,
		retries:      deps.Retries,
		scheduler:    deps.Scheduler,
		publisher:    deps.Publisher,
		metrics:      deps.Metrics,
		tracer:       deps.Tracer,
		clock:        deps.Clock,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		config:       config,
		runs:         make(map[string]*run),
		tenantActive: make(map[string]int),
	}
}

// Run starts an execution of the workflow's current version and returns its id without waiting.
func (e *Engine) Run(ctx context.Context, workflowID string, req RunRequest) (string, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.run",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.TenantIDKey, req.TenantID),
		attribute.String(otelhelper.TriggerSourceKey, string(req.Source)))
	defer span.End()

	if !req.Source.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidTrigger, req.Source)
	}

	workflow, err := e.workflows.GetByID(ctx, req.TenantID, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	execution := e.newExecution(workflow, req.Source, req.Input)

	err = e.start(ctx, &run{workflow: workflow, execution: execution})
	if err != nil {
		otelhelper.SetError(span, err)

		return "", err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	return execution.ID, nil
}

// Retry re-enters a failed execution at nodeID in a new linked execution. Nodes that succeeded
// before, other than nodeID and its descendants, keep their outputs and are not run again.
func (e *Engine) Retry(ctx context.Context, executionID, nodeID string) (string, error) {
	original, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return "", err
	}

	if original.Status != models.ExecutionFailed {
		return "", fmt.Errorf("%w: %s is %s", ErrExecutionNotFailed, executionID, original.Status)
	}

	workflow, err := e.workflows.GetVersion(ctx, original.TenantID, original.WorkflowID, original.WorkflowVersion)
	if err != nil {
		return "", err
	}

	if workflow.Node(nodeID) == nil {
		return "", fmt.Errorf("%w: %s", ErrNodeNotInWorkflow, nodeID)
	}

	execution := e.newExecution(workflow, original.TriggerSource, original.TriggerInput)
	execution.RetryOf = original.ID

	rerun := graph.Descendants(workflow, nodeID)
	rerun[nodeID] = true

	for id, state := range original.NodeStates {
		if state == models.NodeSuccess && !rerun[id] {
			execution.NodeStates[id] = models.NodeSuccess
			execution.NodeOutputs[id] = original.NodeOutputs[id]
		}
	}

	e.retries.Reset(execution.ID, nodeID)

	err = e.start(ctx, &run{workflow: workflow, execution: execution, retryFrom: nodeID})
	if err != nil {
		return "", err
	}

	return execution.ID, nil
}

// Status returns the persisted execution.
func (e *Engine) Status(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return e.executions.GetByID(ctx, executionID)
}

// Cancel stops future node dispatch. An idle execution is cancelled at once; one with a handler
// call in flight is cancelled as soon as that call returns and its result is recorded.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r := e.runs[executionID]
	e.mu.Unlock()

	if r == nil {
		return e.cancelOrphan(ctx, executionID)
	}

	r.mu.Lock()

	if r.execution.Status.IsTerminal() || r.finished {
		r.mu.Unlock()

		return persistence.NewExecutionError("Cancel", executionID, persistence.ErrExecutionTerminal)
	}

	r.cancelRequested = true

	idle := r.cancelRetry != nil && r.cancelRetry()
	if idle {
		r.cancelRetry = nil
	}

	r.mu.Unlock()

	if idle {
		e.cancelRun(ctx, r, "")
	}

	return nil
}

// cancelOrphan cancels a non-terminal execution that no goroutine of this engine owns.
func (e *Engine) cancelOrphan(ctx context.Context, executionID string) error {
	execution, err := e.executions.GetByID(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Status.IsTerminal() {
		return persistence.NewExecutionError("Cancel", executionID, persistence.ErrExecutionTerminal)
	}

	from := execution.Status
	now := e.clock.Now().UTC()
	execution.Status = models.ExecutionCancelled
	execution.FinishedAt = &now
	execution.UpdatedAt = now

	e.logs.Open(executionID)

	err = e.executions.Update(ctx, execution)
	if err != nil {
		e.logs.Complete(executionID)

		return err
	}

	e.appendLog(ctx, executionID, "", models.LevelInfo, "execution cancelled", nil)
	e.announce(ctx, execution, from)
	e.logs.Complete(executionID)

	return nil
}

// Shutdown stops accepting work, fails executions parked on a retry timer and waits for the
// running ones to finish.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true

	parked := make([]*run, 0)

	for _, r := range e.runs {
		r.mu.Lock()
		if r.cancelRetry != nil && r.cancelRetry() {
			r.cancelRetry = nil
			parked = append(parked, r)
		}
		r.mu.Unlock()
	}
	e.mu.Unlock()

	for _, r := range parked {
		e.abandon(ctx, r)
	}

	done := make(chan struct{})

	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) newExecution(workflow *models.Workflow, source models.TriggerSource, input map[string]any) *models.WorkflowExecution {
	now := e.clock.Now().UTC()

	return &models.WorkflowExecution{
		ID:              uuid.New().String(),
		WorkflowID:      workflow.ID,
		WorkflowVersion: workflow.Version,
		TenantID:        workflow.TenantID,
		TriggerSource:   source,
		TriggerInput:    input,
		Status:          models.ExecutionPending,
		NodeStates:      make(map[string]models.NodeState),
		NodeOutputs:     make(map[string]map[string]any),
		StartedAt:       now,
		UpdatedAt:       now,
	}
}

// start reserves a tenant slot, persists the pending execution and launches its goroutine.
func (e *Engine) start(ctx context.Context, r *run) error {
	workflow, execution := r.workflow, r.execution

	e.mu.Lock()

	if e.closed {
		e.mu.Unlock()

		return ErrShuttingDown
	}

	limit := e.config.MaxConcurrentPerTenant
	if limit > 0 && e.tenantActive[execution.TenantID] >= limit {
		e.mu.Unlock()
		e.metrics.ExecutionRejected("tenant_limit")

		return fmt.Errorf("%w: tenant %s has %d active executions", ErrTenantConcurrencyLimit, execution.TenantID, limit)
	}

	e.tenantActive[execution.TenantID]++
	e.mu.Unlock()

	err := e.executions.Create(ctx, execution)
	if err != nil {
		e.releaseTenant(execution.TenantID)

		return err
	}

	e.logs.Open(execution.ID)

	e.mu.Lock()
	e.runs[execution.ID] = r
	e.wg.Add(1)
	e.mu.Unlock()

	e.logger.InfoContext(ctx, "Execution created",
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"version", workflow.Version,
		"tenant_id", execution.TenantID,
		"source", execution.TriggerSource)

	go e.execute(context.WithoutCancel(ctx), r)

	return nil
}

func (e *Engine) releaseTenant(tenantID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tenantActive[tenantID]--
	if e.tenantActive[tenantID] <= 0 {
		delete(e.tenantActive, tenantID)
	}
}

// ActiveCount reports non-terminal executions of a tenant owned by this engine.
func (e *Engine) ActiveCount(tenantID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.tenantActive[tenantID]
}
