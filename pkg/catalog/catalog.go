// Package catalog ships the built-in workflow templates as embedded YAML.
package catalog

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/services"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.yaml
var files embed.FS

// Load decodes every embedded template, sorted by id.
func Load() ([]*models.WorkflowTemplate, error) {
	return load(files, "templates")
}

func load(fsys fs.FS, dir string) ([]*models.WorkflowTemplate, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	templates := make([]*models.WorkflowTemplate, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		template, err := Decode(data)
		if err != nil {
			return nil, fmt.Errorf("catalog entry %s: %w", entry.Name(), err)
		}

		templates = append(templates, template)
	}

	sort.Slice(templates, func(i, j int) bool { return templates[i].ID < templates[j].ID })

	return templates, nil
}

// Decode reads a YAML template. The document goes through JSON so node configs are typed by kind.
func Decode(data []byte) (*models.WorkflowTemplate, error) {
	var document map[string]any

	err := yaml.Unmarshal(data, &document)
	if err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	encoded, err := json.Marshal(document)
	if err != nil {
		return nil, fmt.Errorf("template is not representable as json: %w", err)
	}

	var template models.WorkflowTemplate

	err = json.Unmarshal(encoded, &template)
	if err != nil {
		return nil, err
	}

	return &template, nil
}

// Seed publishes the catalog templates that are not stored yet and returns how many it added.
func Seed(ctx context.Context, templates *services.Templates) (int, error) {
	catalog, err := Load()
	if err != nil {
		return 0, err
	}

	added := 0

	for _, template := range catalog {
		_, err := templates.Publish(ctx, template)
		if services.IsConflictError(err) {
			continue
		}

		if err != nil {
			return added, fmt.Errorf("failed to seed template %s: %w", template.ID, err)
		}

		added++
	}

	return added, nil
}
