package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads an inventory snapshot from a JSON file. Used by the CLI
// for one-off runs and by local development setups; production deployments
// point the engine at the sync service's store instead.
type FileSource struct {
	resources   []Resource
	preferences map[string]*Preferences
}

type fileSnapshot struct {
	Resources   []Resource    `json:"resources"`
	Preferences []Preferences `json:"preferences"`
}

// NewFileSource loads a snapshot file eagerly so malformed input fails at
// startup, not mid-run.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var snap fileSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	src := &FileSource{
		resources:   snap.Resources,
		preferences: make(map[string]*Preferences),
	}
	for i := range snap.Preferences {
		p := snap.Preferences[i]
		src.preferences[p.TenantID] = &p
	}
	return src, nil
}

// ListResources returns the resources recorded for a tenant.
func (s *FileSource) ListResources(ctx context.Context, tenantID string) ([]Resource, error) {
	var out []Resource
	for _, r := range s.resources {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Preferences returns tenant preferences, defaulting to all providers the
// snapshot mentions when none were recorded.
func (s *FileSource) Preferences(ctx context.Context, tenantID string) (*Preferences, error) {
	if p, ok := s.preferences[tenantID]; ok {
		return p, nil
	}

	seen := make(map[string]bool)
	prefs := &Preferences{TenantID: tenantID}
	for _, r := range s.resources {
		if r.TenantID == tenantID && !seen[r.Provider] {
			seen[r.Provider] = true
			prefs.EnabledProviders = append(prefs.EnabledProviders, r.Provider)
		}
	}
	return prefs, nil
}
