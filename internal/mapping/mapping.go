// Package mapping holds per-client transformation configuration: the field
// map that translates raw file columns into normalized target fields, and the
// declarative validation rules applied to the result.
//
// Configs are versioned per client. At most one version is active at a time;
// activation atomically deactivates prior versions. The registry compiles the
// active configs once into a static op list so the per-row transform never
// re-interprets configuration.
package mapping

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Transform names the built-in field transforms. The set is closed: unknown
// names are rejected when a config is compiled, never at row time.
type Transform string

const (
	TransformDirect Transform = "direct"
	TransformUpper  Transform = "upper"
	TransformLower  Transform = "lower"
	TransformStrip  Transform = "strip"
)

// KnownTransform reports whether t is one of the built-in transforms.
func KnownTransform(t Transform) bool {
	switch t {
	case TransformDirect, TransformUpper, TransformLower, TransformStrip:
		return true
	}
	return false
}

// FieldSpec is one field_map entry binding a target field. The wire form is
// one of:
//
//	"SOURCE COLUMN"                         copy of a raw column
//	{"source": "COLUMN", "transform": "upper"}  transform of a raw column
//	16, true, null                          literal constant (non-string scalar)
type FieldSpec struct {
	// Source is the raw column name for column and transform specs.
	Source string

	// Transform applies to transform specs; TransformDirect for plain copies.
	Transform Transform

	// Literal holds the constant for literal specs.
	Literal any

	// IsLiteral distinguishes a literal binding from a column reference.
	IsLiteral bool
}

// transformSpec is the object wire form of a FieldSpec.
type transformSpec struct {
	Source    string    `json:"source" yaml:"source"`
	Transform Transform `json:"transform,omitempty" yaml:"transform,omitempty"`
}

// UnmarshalJSON accepts the three wire forms of a field_map entry.
func (s *FieldSpec) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = FieldSpec{Source: str, Transform: TransformDirect}
		return nil
	}

	// An object is always a transform-spec; a malformed one is rejected
	// here rather than falling through as a literal.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		var spec transformSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return fmt.Errorf("field spec: %w", err)
		}
		if spec.Source == "" {
			return fmt.Errorf("field spec: transform object requires a source")
		}
		if spec.Transform == "" {
			spec.Transform = TransformDirect
		}
		*s = FieldSpec{Source: spec.Source, Transform: spec.Transform}
		return nil
	}

	var lit any
	if err := json.Unmarshal(data, &lit); err != nil {
		return fmt.Errorf("field spec: %w", err)
	}
	*s = FieldSpec{Literal: normalizeLiteral(lit), IsLiteral: true}
	return nil
}

// MarshalJSON writes the most compact wire form.
func (s FieldSpec) MarshalJSON() ([]byte, error) {
	if s.IsLiteral {
		return json.Marshal(s.Literal)
	}
	if s.Transform == TransformDirect || s.Transform == "" {
		return json.Marshal(s.Source)
	}
	return json.Marshal(transformSpec{Source: s.Source, Transform: s.Transform})
}

// UnmarshalYAML accepts the same three forms from YAML seed files.
func (s *FieldSpec) UnmarshalYAML(unmarshal func(any) error) error {
	var str string
	if err := unmarshal(&str); err == nil {
		*s = FieldSpec{Source: str, Transform: TransformDirect}
		return nil
	}

	var obj map[string]any
	if err := unmarshal(&obj); err == nil {
		var spec transformSpec
		if err := unmarshal(&spec); err != nil {
			return fmt.Errorf("field spec: %w", err)
		}
		if spec.Source == "" {
			return fmt.Errorf("field spec: transform object requires a source")
		}
		if spec.Transform == "" {
			spec.Transform = TransformDirect
		}
		*s = FieldSpec{Source: spec.Source, Transform: spec.Transform}
		return nil
	}

	var lit any
	if err := unmarshal(&lit); err != nil {
		return fmt.Errorf("field spec: %w", err)
	}
	*s = FieldSpec{Literal: normalizeLiteral(lit), IsLiteral: true}
	return nil
}

// normalizeLiteral collapses integral numbers to int64 regardless of the
// decoder (JSON yields float64, YAML yields int) so literal constants
// round-trip as written.
func normalizeLiteral(v any) any {
	switch t := v.(type) {
	case float64:
		// Only integral values that fit; out-of-range conversions to
		// int64 are undefined, so huge constants stay float64.
		if t == math.Trunc(t) && t >= math.MinInt64 && t < math.MaxInt64 {
			return int64(t)
		}
	case int:
		return int64(t)
	}
	return v
}

// Rule is the declarative validation rule-set for one target field.
type Rule struct {
	Required  bool   `json:"required,omitempty" yaml:"required,omitempty"`
	MinLength int    `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	Type      string `json:"type,omitempty" yaml:"type,omitempty"`
}

// FieldMap binds target field names to their source specs.
type FieldMap map[string]FieldSpec

// Rules binds target field names to their validation rules.
type Rules map[string]Rule

// Config is one stored version of a client's mapping configuration.
type Config struct {
	ClientCode string    `json:"client_code"`
	Version    int       `json:"version"`
	FieldMap   FieldMap  `json:"field_map"`
	Rules      Rules     `json:"validation_rules,omitempty"`
	Active     bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks that the config is structurally sound and compilable.
func (c *Config) Validate() error {
	if c.ClientCode == "" {
		return fmt.Errorf("client_code is required")
	}
	if len(c.FieldMap) == 0 {
		return fmt.Errorf("field_map must not be empty")
	}
	for target, spec := range c.FieldMap {
		if spec.IsLiteral {
			continue
		}
		if spec.Source == "" {
			return fmt.Errorf("field %q: source column is empty", target)
		}
		if !KnownTransform(spec.Transform) {
			return fmt.Errorf("field %q: unknown transform %q", target, spec.Transform)
		}
	}
	return nil
}
