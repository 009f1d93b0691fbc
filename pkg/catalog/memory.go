package catalog

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used in tests and local development.
type MemoryStore struct {
	mu   sync.RWMutex
	rows []PriceRow
}

// NewMemoryStore creates an empty in-memory catalog.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Add appends rows to the catalog.
func (s *MemoryStore) Add(rows ...PriceRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rows...)
}

// Rows returns rows matching the query.
func (s *MemoryStore) Rows(ctx context.Context, q Query) ([]PriceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []PriceRow
	for _, row := range s.rows {
		if len(q.Providers) > 0 && !containsString(q.Providers, row.Provider) {
			continue
		}
		if q.ResourceType != "" && row.ResourceType != q.ResourceType {
			continue
		}
		if q.Region != "" && row.Region != q.Region {
			continue
		}
		if q.Region == "" && q.RegionPrefix != "" && !strings.HasPrefix(row.Region, q.RegionPrefix) {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
