package mapping

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML bootstrap format for initial client mappings:
//
//	mappings:
//	  - client_code: CLIENTE_REMESA
//	    activate: true
//	    field_map:
//	      nombre: NOMBRE
//	      name: {source: first_name, transform: upper}
//	      documento: 1
//	    validation_rules:
//	      nombre: {required: true, min_length: 2}
type SeedFile struct {
	Mappings []SeedMapping `yaml:"mappings"`
}

// SeedMapping is one client entry in a seed file.
type SeedMapping struct {
	ClientCode string   `yaml:"client_code"`
	Activate   bool     `yaml:"activate"`
	FieldMap   FieldMap `yaml:"field_map"`
	Rules      Rules    `yaml:"validation_rules"`
}

// LoadSeedFile parses a YAML seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// ApplySeed loads initial mappings into an empty store. It is a no-op when
// the store already has any version, so restarts never duplicate seeds.
func ApplySeed(ctx context.Context, store Store, path string, log *slog.Logger) error {
	if path == "" {
		return nil
	}

	count, err := store.Count(ctx)
	if err != nil {
		return fmt.Errorf("count mappings: %w", err)
	}
	if count > 0 {
		log.Debug("mapping store not empty, skipping seed", "versions", count)
		return nil
	}

	seed, err := LoadSeedFile(path)
	if err != nil {
		return err
	}

	for _, m := range seed.Mappings {
		cfg := Config{
			ClientCode: m.ClientCode,
			FieldMap:   m.FieldMap,
			Rules:      m.Rules,
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("seed mapping %s: %w", m.ClientCode, err)
		}
		created, err := store.Create(ctx, cfg, m.Activate)
		if err != nil {
			return fmt.Errorf("seed mapping %s: %w", m.ClientCode, err)
		}
		log.Info("seeded client mapping",
			"client_code", created.ClientCode,
			"version", created.Version,
			"active", created.Active,
		)
	}

	return nil
}
