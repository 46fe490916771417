package dispatcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/dispatcher"
	"github.com/dukex/leadflow/pkg/log"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence/file"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingExecutor records which agent ran each task and holds calls until released.
type blockingExecutor struct {
	mu      sync.Mutex
	calls   []string
	started chan string
	release chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan string, 16), release: make(chan struct{})}
}

func (e *blockingExecutor) Execute(_ context.Context, agent models.Agent, _ dispatcher.Task) (map[string]any, error) {
	e.mu.Lock()
	e.calls = append(e.calls, agent.ID)
	e.mu.Unlock()

	e.started <- agent.ID
	<-e.release

	return map[string]any{"agent": agent.ID}, nil
}

func agent(id string, overrides ...func(*models.Agent)) models.Agent {
	a := testutil.CreateTestAgent(func(a *models.Agent) { a.ID = id; a.TenantID = "t1" })
	for _, override := range overrides {
		override(a)
	}

	return *a
}

func TestDispatch_PrefersLeastLoadedThenRegistrationOrder(t *testing.T) {
	d := dispatcher.New(log.Discard(), nil)
	executor := newBlockingExecutor()

	require.NoError(t, d.Register(agent("a1"), executor))
	require.NoError(t, d.Register(agent("a2"), executor))

	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := d.Dispatch(context.Background(), "t1", models.RoleSpecialist, dispatcher.Task{NodeID: "qualify"})
			assert.NoError(t, err)
		}()

		<-executor.started
	}

	// a1 and a2 each took one, the third went back to a1 by registration order.
	assert.Equal(t, []string{"a1", "a2", "a1"}, executor.calls)
	assert.Equal(t, map[string]int{"a1": 2, "a2": 1}, d.Load("t1"))

	close(executor.release)
	wg.Wait()

	assert.Equal(t, map[string]int{"a1": 0, "a2": 0}, d.Load("t1"))
}

func TestDispatch_NoEligibleAgent(t *testing.T) {
	d := dispatcher.New(log.Discard(), nil)
	executor := dispatcher.ExecutorFunc(func(context.Context, models.Agent, dispatcher.Task) (map[string]any, error) {
		return map[string]any{}, nil
	})

	require.NoError(t, d.Register(agent("paused", func(a *models.Agent) { a.Status = models.AgentPaused }), executor))
	require.NoError(t, d.Register(agent("manager", func(a *models.Agent) { a.Role = models.RoleManager }), executor))
	require.NoError(t, d.Register(agent("other-tenant", func(a *models.Agent) { a.TenantID = "t2" }), executor))

	_, err := d.Dispatch(context.Background(), "t1", models.RoleSpecialist, dispatcher.Task{NodeID: "qualify"})
	require.ErrorIs(t, err, dispatcher.ErrNoEligibleAgent)
	assert.True(t, protocol.IsDispatchError(err))

	require.NoError(t, d.SetStatus("t1", "paused", models.AgentActive))

	_, err = d.Dispatch(context.Background(), "t1", models.RoleSpecialist, dispatcher.Task{NodeID: "qualify"})
	require.NoError(t, err)
}

func TestDispatch_RespectsMaxConcurrency(t *testing.T) {
	d := dispatcher.New(log.Discard(), nil)
	executor := newBlockingExecutor()

	require.NoError(t, d.Register(agent("solo", func(a *models.Agent) { a.MaxConcurrency = 1 }), executor))

	done := make(chan error, 1)

	go func() {
		_, err := d.Dispatch(context.Background(), "t1", models.RoleSpecialist, dispatcher.Task{})
		done <- err
	}()

	<-executor.started

	_, err := d.Dispatch(context.Background(), "t1", models.RoleSpecialist, dispatcher.Task{NodeID: "second"})
	require.ErrorIs(t, err, dispatcher.ErrNoEligibleAgent)

	close(executor.release)
	require.NoError(t, <-done)
}

func TestRegisterAndDeregister(t *testing.T) {
	d := dispatcher.New(log.Discard(), nil)

	err := d.Register(models.Agent{ID: "bad", TenantID: "t1"}, nil)
	require.Error(t, err)

	require.NoError(t, d.Register(agent("a1"), nil))
	require.NoError(t, d.Deregister("t1", "a1"))
	require.ErrorIs(t, d.Deregister("t1", "a1"), dispatcher.ErrAgentNotRegistered)
	assert.Empty(t, d.Load("t1"))
}

func TestHandler_RendersTaskPayload(t *testing.T) {
	d := dispatcher.New(log.Discard(), nil)

	var received dispatcher.Task

	require.NoError(t, d.Register(agent("a1"), dispatcher.ExecutorFunc(func(_ context.Context, _ models.Agent, task dispatcher.Task) (map[string]any, error) {
		received = task

		return map[string]any{"qualified": true}, nil
	})))

	node := &models.Node{ID: "qualify", Kind: models.KindAgentTask, Config: &models.AgentTaskConfig{
		Role:         models.RoleSpecialist,
		Task:         "qualify {{.input.name}}",
		Instructions: "budget {{.input.budget}}",
	}}

	out, err := d.Handler().Handle(context.Background(), protocol.Request{
		ExecutionID: "exec-1",
		TenantID:    "t1",
		Node:        node,
		Inbound:     map[string]any{"name": "Ana", "budget": 300000},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out["qualified"])
	assert.Equal(t, "qualify Ana", received.Task)
	assert.Equal(t, "budget 300000", received.Instructions)
	assert.Equal(t, "Ana", received.Input["name"])

	_, err = d.Handler().Handle(context.Background(), protocol.Request{Node: &models.Node{ID: "x", Config: &models.EmailSendConfig{}}})
	assert.True(t, protocol.IsStructuralError(err))
}

func TestHTTPExecutor(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)

			return
		}

		if body["task"] == "explode" {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"agent_id": body["agent_id"], "score": 87})
	}))
	defer server.Close()

	executor := dispatcher.NewHTTPExecutor(&http.Client{Timeout: 2 * time.Second})
	a := agent("remote", func(a *models.Agent) { a.Endpoint = server.URL })

	out, err := executor.Execute(context.Background(), a, dispatcher.Task{Task: "qualify"})
	require.NoError(t, err)
	assert.Equal(t, "remote", out["agent_id"])
	assert.Equal(t, float64(87), out["score"])

	_, err = executor.Execute(context.Background(), a, dispatcher.Task{Task: "explode"})
	require.ErrorContains(t, err, "status 502")

	_, err = executor.Execute(context.Background(), agent("local"), dispatcher.Task{})
	require.ErrorIs(t, err, dispatcher.ErrAgentHasNoEndpoint)
}

func TestSync_RegistersStoredAgents(t *testing.T) {
	ctx := context.Background()
	p := file.NewPersistence(t.TempDir())

	stored := agent("stored")
	require.NoError(t, p.AgentRepository().Save(ctx, &stored))

	d := dispatcher.New(log.Discard(), nil)
	require.NoError(t, d.Sync(ctx, p.AgentRepository(), dispatcher.ExecutorFunc(func(context.Context, models.Agent, dispatcher.Task) (map[string]any, error) {
		return nil, errors.New("unused")
	})))

	assert.Equal(t, map[string]int{"stored": 0}, d.Load("t1"))
}
