package mapping

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// OpKind discriminates the compiled field operations.
type OpKind int

const (
	// OpLiteral binds a constant value to the target field.
	OpLiteral OpKind = iota
	// OpCopy copies a raw column value unchanged.
	OpCopy
	// OpTransform applies a named transform to a raw column value.
	OpTransform
)

// FieldOp is one compiled field_map entry. Fn is resolved once at compile
// time so the row loop dispatches through a function table, not a string
// switch.
type FieldOp struct {
	Target    string
	Kind      OpKind
	Literal   any
	Source    string
	Transform Transform
	Fn        func(string) string
}

// Compiled is an immutable, ready-to-apply form of a client's active config.
// It is safe for concurrent use.
type Compiled struct {
	ClientCode string
	Version    int
	Ops        []FieldOp
	Rules      Rules
}

// Compile resolves a config into its compiled form. Unknown transform names
// and empty source references fail here, never during row processing.
func Compile(cfg *Config) (*Compiled, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mapping %s: %w", cfg.ClientCode, err)
	}

	ops := make([]FieldOp, 0, len(cfg.FieldMap))
	for target, spec := range cfg.FieldMap {
		op := FieldOp{Target: target}
		switch {
		case spec.IsLiteral:
			op.Kind = OpLiteral
			op.Literal = spec.Literal
		case spec.Transform == TransformDirect:
			op.Kind = OpCopy
			op.Source = spec.Source
			op.Transform = TransformDirect
		default:
			fn, err := transformFunc(spec.Transform)
			if err != nil {
				return nil, fmt.Errorf("mapping %s, field %q: %w", cfg.ClientCode, target, err)
			}
			op.Kind = OpTransform
			op.Source = spec.Source
			op.Transform = spec.Transform
			op.Fn = fn
		}
		ops = append(ops, op)
	}

	// Deterministic op order keeps transform output and diagnostics stable.
	sort.Slice(ops, func(i, j int) bool { return ops[i].Target < ops[j].Target })

	return &Compiled{
		ClientCode: cfg.ClientCode,
		Version:    cfg.Version,
		Ops:        ops,
		Rules:      cfg.Rules,
	}, nil
}

// transformFunc maps a transform name to its implementation.
func transformFunc(t Transform) (func(string) string, error) {
	switch t {
	case TransformDirect:
		return func(s string) string { return s }, nil
	case TransformUpper:
		return upperFold, nil
	case TransformLower:
		return lowerFold, nil
	case TransformStrip:
		return strings.TrimSpace, nil
	default:
		return nil, fmt.Errorf("unknown transform %q", t)
	}
}

// A cases.Caser is stateful, so a fresh one is built per call.

func upperFold(s string) string {
	return cases.Upper(language.Und).String(s)
}

func lowerFold(s string) string {
	return cases.Lower(language.Und).String(s)
}
