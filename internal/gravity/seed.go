package gravity

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/forgeos/graph/internal/store"
	"gopkg.in/yaml.v3"
)

// DefaultConfig is the on-disk shape for seeding project_roles and named
// lens configurations (spec §3's Project role / Lens configuration
// entities) at startup, mirroring the teacher's reliance on yaml.v3 for its
// own indirect config-shaped data.
type DefaultConfig struct {
	ProjectRoles []struct {
		Project string  `yaml:"project"`
		Role    string  `yaml:"role"`
		Weight  float64 `yaml:"weight,omitempty"`
	} `yaml:"project_roles"`
	Lenses []struct {
		Name          string  `yaml:"name"`
		DefaultBudget int     `yaml:"default_budget,omitempty"`
		Lenses        []Lens  `yaml:"lenses"`
	} `yaml:"lenses"`
}

// LoadDefaultConfigFile parses a project-role/lens-configuration YAML file.
// A missing file is not an error — callers run with an empty default set
// and rely on explicit lenses per call.
func LoadDefaultConfigFile(path string) (*DefaultConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &DefaultConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("gravity: read config %s: %w", path, err)
	}
	var cfg DefaultConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("gravity: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Seed writes cfg's project roles and named lens sets into the store,
// overwriting any existing rows with the same keys. Intended as a one-shot
// startup step in cmd/, not a registry operation callers invoke per-request.
func Seed(ctx context.Context, s *store.SQLiteStore, cfg *DefaultConfig) error {
	now := time.Now().UnixMilli()
	for _, pr := range cfg.ProjectRoles {
		if err := s.Put(ctx, projectRolesCollection, store.Envelope{
			ID: "role:" + pr.Project, Project: pr.Project, Status: pr.Role,
			CreatedAtMs: now, UpdatedAtMs: now,
		}, pr); err != nil {
			return err
		}
	}
	for _, l := range cfg.Lenses {
		if err := s.Put(ctx, lensesCollection, store.Envelope{
			ID: "lens:" + l.Name, Project: l.Name, Status: "active",
			CreatedAtMs: now, UpdatedAtMs: now,
		}, l); err != nil {
			return err
		}
	}
	return nil
}
