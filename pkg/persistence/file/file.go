// Package file provides a JSON file persistence backend for development and single-node use.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/leadflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on a directory tree.
type Persistence struct {
	store *store

	workflows      *WorkflowRepository
	templates      *TemplateRepository
	executions     *ExecutionRepository
	logs           *LogRepository
	agents         *AgentRepository
	orchestrations *OrchestrationRepository
}

// NewPersistence creates a backend rooted at root. A "file://" prefix is accepted.
func NewPersistence(root string) *Persistence {
	s := &store{root: strings.Replace(root, "file://", "", 1)}

	return &Persistence{
		store:          s,
		workflows:      &WorkflowRepository{store: s},
		templates:      &TemplateRepository{store: s},
		executions:     &ExecutionRepository{store: s},
		logs:           &LogRepository{store: s, last: make(map[string]int64)},
		agents:         &AgentRepository{store: s},
		orchestrations: &OrchestrationRepository{store: s},
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

// HealthCheck verifies the root directory exists or can be created.
func (p *Persistence) HealthCheck(_ context.Context) error {
	err := os.MkdirAll(p.store.root, 0750)
	if err != nil {
		return fmt.Errorf("persistence root is not usable: %w", err)
	}

	return nil
}

func (p *Persistence) Close(_ context.Context) error {
	return nil
}

// store serializes access to the tree. Writes go through a temp file and rename.
type store struct {
	root string
	mu   sync.RWMutex
}

func (s *store) path(parts ...string) string {
	return filepath.Join(append([]string{s.root}, parts...)...)
}

func (s *store) writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	dir := filepath.Dir(path)

	err = os.MkdirAll(dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tmp.Name(), 0600)
	}

	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// readJSON decodes path into value. It returns notFound when the file does not exist.
func (s *store) readJSON(path string, value any, notFound error) error {
	data, err := os.ReadFile(path) // #nosec G304 -- ids are validated before building paths
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return notFound
		}

		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	err = json.Unmarshal(data, value)
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return nil
}

func (s *store) jsonFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	files := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		files = append(files, filepath.Join(dir, entry.Name()))
	}

	return files, nil
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", persistence.ErrInvalidID, id)
	}

	return nil
}
