// Package registry maps node kinds to the handlers that run them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/protocol"
)

var ErrHandlerNotRegistered = errors.New("no handler registered for node kind")

type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.NodeKind]protocol.Handler
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log.With("module", "registry"),
		handlers: make(map[models.NodeKind]protocol.Handler),
	}
}

// Register installs handler for kind, replacing any previous one.
func (r *Registry) Register(kind models.NodeKind, handler protocol.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[kind]; exists {
		r.logger.Warn("Replacing node handler", "kind", kind)
	}

	r.handlers[kind] = handler
}

func (r *Registry) Handler(kind models.NodeKind) (protocol.Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotRegistered, kind)
	}

	return handler, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []models.NodeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]models.NodeKind, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}

	slices.Sort(kinds)

	return kinds
}
