package pipeline

import (
	"reflect"
	"testing"

	"filebridge/internal/mapping"
)

func TestValidate_Valid(t *testing.T) {
	rules := mapping.Rules{
		"name":      {Required: true, MinLength: 2},
		"documento": {Required: true, Type: "document"},
	}
	verr := Validate(Record{"name": "ANA MARÍA", "documento": "1012345678"}, rules)
	if verr != nil {
		t.Fatalf("Validate() = %v, want nil", verr)
	}
}

func TestValidate_TooShort(t *testing.T) {
	rules := mapping.Rules{"name": {Required: true, MinLength: 5}}

	verr := Validate(Record{"name": "ANA"}, rules)
	if verr == nil {
		t.Fatal("Validate() = nil, want too_short violation")
	}
	want := []Violation{{Field: "name", Rule: "min_length", Reason: "too_short"}}
	if !reflect.DeepEqual(verr.Violations, want) {
		t.Errorf("Violations = %v, want %v", verr.Violations, want)
	}
}

func TestValidate_NoShortCircuit(t *testing.T) {
	rules := mapping.Rules{
		"documento": {Required: true, Type: "document"},
		"name":      {Required: true, MinLength: 5},
		"ciudad":    {Required: true},
	}

	verr := Validate(Record{"name": "ANA", "documento": "12A45"}, rules)
	if verr == nil {
		t.Fatal("Validate() = nil, want violations")
	}

	// Deterministic order: fields sorted, rules in required, min_length,
	// type order within a field.
	want := []Violation{
		{Field: "ciudad", Rule: "required", Reason: "missing_required_field"},
		{Field: "documento", Rule: "type", Reason: "invalid_type"},
		{Field: "name", Rule: "min_length", Reason: "too_short"},
	}
	if !reflect.DeepEqual(verr.Violations, want) {
		t.Errorf("Violations = %v, want %v", verr.Violations, want)
	}
}

func TestValidate_RequiredEmptyString(t *testing.T) {
	rules := mapping.Rules{"name": {Required: true}}

	verr := Validate(Record{"name": "   "}, rules)
	if verr == nil {
		t.Fatal("Validate() = nil, want required violation for blank value")
	}
	if verr.Violations[0].Reason != "missing_required_field" {
		t.Errorf("Reason = %q, want missing_required_field", verr.Violations[0].Reason)
	}
}

func TestValidate_TypeSkippedWhenEmpty(t *testing.T) {
	// Optional field with a type rule: no violation when the value is empty.
	rules := mapping.Rules{"documento": {Type: "document"}}

	if verr := Validate(Record{"documento": ""}, rules); verr != nil {
		t.Errorf("Validate() = %v, want nil for empty optional field", verr)
	}
	if verr := Validate(Record{}, rules); verr != nil {
		t.Errorf("Validate() = %v, want nil for absent optional field", verr)
	}
}

func TestValidate_UnknownType(t *testing.T) {
	rules := mapping.Rules{"x": {Type: "zip_code"}}

	verr := Validate(Record{"x": "99999"}, rules)
	if verr == nil {
		t.Fatal("Validate() = nil, want unknown_type violation")
	}
	want := Violation{Field: "x", Rule: "type", Reason: "unknown_type"}
	if verr.Violations[0] != want {
		t.Errorf("Violations[0] = %v, want %v", verr.Violations[0], want)
	}
}

func TestValidate_LiteralValue(t *testing.T) {
	// Literal-bound values are scalars, not strings; rules still apply.
	rules := mapping.Rules{"id": {Required: true, MinLength: 2}}

	if verr := Validate(Record{"id": int64(16)}, rules); verr != nil {
		t.Errorf("Validate() = %v, want nil", verr)
	}

	verr := Validate(Record{"id": int64(7)}, rules)
	if verr == nil || verr.Violations[0].Reason != "too_short" {
		t.Errorf("Validate() = %v, want too_short for single-digit literal", verr)
	}
}

func TestValidate_MinLengthCountsRunes(t *testing.T) {
	rules := mapping.Rules{"name": {MinLength: 5}}

	if verr := Validate(Record{"name": "MARÍA"}, rules); verr != nil {
		t.Errorf("Validate() = %v, want nil for 5-rune value", verr)
	}
}

func TestIsDANECode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"11001", true},  // Bogotá
		{"05001", true},  // Medellín
		{"76001", true},  // Cali
		{"00001", false}, // unknown department
		{"1100", false},
		{"110011", false},
		{"11A01", false},
	}
	for _, tt := range tests {
		if got := isDANECode(tt.code); got != tt.want {
			t.Errorf("isDANECode(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestKnownRuleType(t *testing.T) {
	if !KnownRuleType("document") || !KnownRuleType("dane_code") {
		t.Error("registered type checks reported unknown")
	}
	if KnownRuleType("zip_code") {
		t.Error(`KnownRuleType("zip_code") = true, want false`)
	}
}
