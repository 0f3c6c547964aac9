package mapping

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrNotFound is returned by Resolve when a client has no active mapping.
// This is a file-fatal condition for processing: it is not retried.
var ErrNotFound = errors.New("no active mapping for client")

// Store is the persistence contract for mapping configs. The write path
// enforces one active version per client: Create with activate, and
// Activate, atomically deactivate prior versions of the same client.
type Store interface {
	// ListActive returns the active config of every client.
	ListActive(ctx context.Context) ([]Config, error)

	// ListVersions returns all stored versions for a client, newest first.
	ListVersions(ctx context.Context, clientCode string) ([]Config, error)

	// ListClients returns all client codes with at least one stored version.
	ListClients(ctx context.Context) ([]string, error)

	// Create stores a new version (assigned version = latest+1). When
	// activate is true the new version becomes the single active one.
	Create(ctx context.Context, cfg Config, activate bool) (Config, error)

	// Activate switches the active version for a client.
	Activate(ctx context.Context, clientCode string, version int) error

	// Count returns the total number of stored versions.
	Count(ctx context.Context) (int, error)
}

// Registry resolves client codes to compiled mapping configs.
//
// It holds an immutable snapshot behind an atomic pointer: readers never
// observe a partially written config, and Reload swaps the whole snapshot in
// one step. Resolve is safe for concurrent use from all pipeline workers.
type Registry struct {
	store Store
	log   *slog.Logger
	snap  atomic.Pointer[snapshot]
}

type snapshot struct {
	byClient map[string]*Compiled
}

// NewRegistry creates a registry with an empty snapshot. Call Reload to
// populate it from the store.
func NewRegistry(store Store, log *slog.Logger) *Registry {
	r := &Registry{store: store, log: log}
	r.snap.Store(&snapshot{byClient: map[string]*Compiled{}})
	return r
}

// Reload compiles all active configs and atomically swaps the snapshot.
// A config that fails to compile is skipped with a warning so one broken
// client cannot take resolution down for everyone else.
func (r *Registry) Reload(ctx context.Context) error {
	configs, err := r.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active mappings: %w", err)
	}

	byClient := make(map[string]*Compiled, len(configs))
	for i := range configs {
		compiled, err := Compile(&configs[i])
		if err != nil {
			r.log.Warn("skipping uncompilable mapping",
				"client_code", configs[i].ClientCode,
				"version", configs[i].Version,
				"error", err,
			)
			continue
		}
		byClient[compiled.ClientCode] = compiled
	}

	r.snap.Store(&snapshot{byClient: byClient})
	r.log.Info("mapping registry reloaded", "clients", len(byClient))
	return nil
}

// Resolve returns the compiled active config for a client, or an error
// wrapping ErrNotFound when none is active.
func (r *Registry) Resolve(clientCode string) (*Compiled, error) {
	snap := r.snap.Load()
	compiled, ok := snap.byClient[clientCode]
	if !ok {
		return nil, fmt.Errorf("client %q: %w", clientCode, ErrNotFound)
	}
	return compiled, nil
}

// Clients returns the client codes in the current snapshot, for diagnostics.
func (r *Registry) Clients() []string {
	snap := r.snap.Load()
	out := make([]string, 0, len(snap.byClient))
	for code := range snap.byClient {
		out = append(out, code)
	}
	return out
}
