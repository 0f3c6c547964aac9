// Package memory provides mutex-guarded in-memory store implementations.
// They back tests and the STORE_BACKEND=memory mode; semantics mirror the
// postgres implementations.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"filebridge/internal/mapping"
)

// MappingStore keeps mapping config versions per client. One version per
// client is active at a time; activation swaps are atomic under the lock.
type MappingStore struct {
	mu      sync.RWMutex
	configs map[string][]mapping.Config // client code -> versions ascending
}

func NewMappingStore() *MappingStore {
	return &MappingStore{configs: make(map[string][]mapping.Config)}
}

func (s *MappingStore) ListActive(ctx context.Context) ([]mapping.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []mapping.Config
	for _, versions := range s.configs {
		for _, cfg := range versions {
			if cfg.Active {
				active = append(active, cfg)
			}
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ClientCode < active[j].ClientCode })
	return active, nil
}

func (s *MappingStore) ListVersions(ctx context.Context, clientCode string) ([]mapping.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, ok := s.configs[clientCode]
	if !ok {
		return nil, mapping.ErrNotFound
	}
	out := make([]mapping.Config, len(versions))
	for i, cfg := range versions {
		out[len(versions)-1-i] = cfg // newest first
	}
	return out, nil
}

func (s *MappingStore) ListClients(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]string, 0, len(s.configs))
	for code := range s.configs {
		clients = append(clients, code)
	}
	sort.Strings(clients)
	return clients, nil
}

func (s *MappingStore) Create(ctx context.Context, cfg mapping.Config, activate bool) (mapping.Config, error) {
	if err := cfg.Validate(); err != nil {
		return mapping.Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.configs[cfg.ClientCode]
	cfg.Version = 1
	if n := len(versions); n > 0 {
		cfg.Version = versions[n-1].Version + 1
	}
	cfg.Active = activate
	cfg.CreatedAt = time.Now().UTC()

	if activate {
		for i := range versions {
			versions[i].Active = false
		}
	}
	s.configs[cfg.ClientCode] = append(versions, cfg)
	return cfg, nil
}

func (s *MappingStore) Activate(ctx context.Context, clientCode string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.configs[clientCode]
	if !ok {
		return mapping.ErrNotFound
	}

	found := false
	for i := range versions {
		if versions[i].Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("client %q version %d: %w", clientCode, version, mapping.ErrNotFound)
	}

	for i := range versions {
		versions[i].Active = versions[i].Version == version
	}
	return nil
}

func (s *MappingStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for _, versions := range s.configs {
		total += len(versions)
	}
	return total, nil
}
