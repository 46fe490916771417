// Package custom provides the custom node, which runs a named function from a registry.
package custom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/nodes"
	"github.com/dukex/leadflow/pkg/protocol"
	"github.com/dukex/leadflow/pkg/template"
)

var ErrFunctionNotRegistered = errors.New("custom function not registered")

// Call is what a custom function receives. String params are already rendered against the inbound data.
type Call struct {
	Request protocol.Request
	Params  map[string]any
}

type Func func(ctx context.Context, call Call) (map[string]any, error)

type Registry struct {
	logger *slog.Logger
	mu     sync.RWMutex
	funcs  map[string]Func
}

// NewRegistry returns a registry holding the built-in functions.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger: logger.With("module", "custom_nodes"),
		funcs:  make(map[string]Func),
	}

	r.Register("transform", transform)
	r.Register("switch", switchCase)
	r.Register("merge", merge)
	r.Register("log", r.log)

	return r
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.funcs[name] = fn
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

func (r *Registry) lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.funcs[name]

	return fn, ok
}

// Handle runs a custom node.
func (r *Registry) Handle(ctx context.Context, req protocol.Request) (map[string]any, error) {
	config, err := nodes.Config[*models.CustomConfig](req)
	if err != nil {
		return nil, err
	}

	fn, ok := r.lookup(config.Handler)
	if !ok {
		return nil, &protocol.DispatchError{NodeID: req.Node.ID, Err: fmt.Errorf("%w: %s", ErrFunctionNotRegistered, config.Handler)}
	}

	params, err := renderParams(req, config.Params)
	if err != nil {
		return nil, err
	}

	output, err := fn(ctx, Call{Request: req, Params: params})
	if err != nil {
		return nil, err
	}

	if output == nil {
		output = map[string]any{}
	}

	return output, nil
}

func renderParams(req protocol.Request, params map[string]any) (map[string]any, error) {
	data := nodes.Data(req)
	rendered := make(map[string]any, len(params))

	for key, value := range params {
		text, ok := value.(string)
		if !ok {
			rendered[key] = value

			continue
		}

		out, err := template.Render(text, data)
		if err != nil {
			return nil, &protocol.StructuralError{
				WorkflowID: req.WorkflowID,
				NodeID:     req.Node.ID,
				Err:        fmt.Errorf("param %s: %w", key, err),
			}
		}

		rendered[key] = out
	}

	return rendered, nil
}
