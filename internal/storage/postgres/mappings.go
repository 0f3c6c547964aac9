package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"filebridge/internal/mapping"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MappingStore persists mapping config versions. A partial unique index on
// (client_code) WHERE is_active backs the one-active-version invariant; the
// activation swap runs in a transaction so it can never be observed half
// done.
type MappingStore struct {
	pool *pgxpool.Pool
}

func NewMappingStore(pool *pgxpool.Pool) *MappingStore {
	return &MappingStore{pool: pool}
}

const mappingColumns = `client_code, version, field_map, validation_rules, is_active, created_at`

func scanMapping(row pgx.Row) (mapping.Config, error) {
	var (
		cfg      mapping.Config
		fieldMap []byte
		rules    []byte
	)
	if err := row.Scan(&cfg.ClientCode, &cfg.Version, &fieldMap, &rules, &cfg.Active, &cfg.CreatedAt); err != nil {
		return mapping.Config{}, err
	}
	if err := json.Unmarshal(fieldMap, &cfg.FieldMap); err != nil {
		return mapping.Config{}, fmt.Errorf("decode field_map for %s v%d: %w", cfg.ClientCode, cfg.Version, err)
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &cfg.Rules); err != nil {
			return mapping.Config{}, fmt.Errorf("decode validation_rules for %s v%d: %w", cfg.ClientCode, cfg.Version, err)
		}
	}
	return cfg, nil
}

func collectMappings(rows pgx.Rows) ([]mapping.Config, error) {
	defer rows.Close()
	var out []mapping.Config
	for rows.Next() {
		cfg, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, rows.Err()
}

func (s *MappingStore) ListActive(ctx context.Context) ([]mapping.Config, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM mapping_configs
		WHERE is_active
		ORDER BY client_code`)
	if err != nil {
		return nil, err
	}
	return collectMappings(rows)
}

func (s *MappingStore) ListVersions(ctx context.Context, clientCode string) ([]mapping.Config, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+mappingColumns+`
		FROM mapping_configs
		WHERE client_code = $1
		ORDER BY version DESC`, clientCode)
	if err != nil {
		return nil, err
	}
	configs, err := collectMappings(rows)
	if err != nil {
		return nil, err
	}
	if len(configs) == 0 {
		return nil, mapping.ErrNotFound
	}
	return configs, nil
}

func (s *MappingStore) ListClients(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT client_code FROM mapping_configs ORDER BY client_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		clients = append(clients, code)
	}
	return clients, rows.Err()
}

func (s *MappingStore) Create(ctx context.Context, cfg mapping.Config, activate bool) (mapping.Config, error) {
	if err := cfg.Validate(); err != nil {
		return mapping.Config{}, err
	}

	fieldMap, err := json.Marshal(cfg.FieldMap)
	if err != nil {
		return mapping.Config{}, fmt.Errorf("encode field_map: %w", err)
	}
	rules, err := json.Marshal(cfg.Rules)
	if err != nil {
		return mapping.Config{}, fmt.Errorf("encode validation_rules: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapping.Config{}, err
	}
	defer tx.Rollback(ctx)

	// Serialize writers per client so concurrent creates cannot race the
	// version counter.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, cfg.ClientCode); err != nil {
		return mapping.Config{}, err
	}

	if activate {
		if _, err := tx.Exec(ctx, `
			UPDATE mapping_configs SET is_active = false
			WHERE client_code = $1 AND is_active`, cfg.ClientCode); err != nil {
			return mapping.Config{}, err
		}
	}

	created, err := scanMapping(tx.QueryRow(ctx, `
		INSERT INTO mapping_configs (client_code, version, field_map, validation_rules, is_active)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3, $4
		FROM mapping_configs WHERE client_code = $1
		RETURNING `+mappingColumns,
		cfg.ClientCode, fieldMap, rules, activate))
	if err != nil {
		return mapping.Config{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapping.Config{}, err
	}
	return created, nil
}

func (s *MappingStore) Activate(ctx context.Context, clientCode string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM mapping_configs
			WHERE client_code = $1 AND version = $2
		)`, clientCode, version).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("client %q version %d: %w", clientCode, version, mapping.ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE mapping_configs SET is_active = false
		WHERE client_code = $1 AND is_active`, clientCode); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE mapping_configs SET is_active = true
		WHERE client_code = $1 AND version = $2`, clientCode, version); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *MappingStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM mapping_configs`).Scan(&count)
	return count, err
}
