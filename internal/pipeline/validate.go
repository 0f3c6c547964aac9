package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"filebridge/internal/mapping"
)

// Rule and reason identifiers carried on violations.
const (
	ruleRequired  = "required"
	ruleMinLength = "min_length"
	ruleType      = "type"

	reasonMissingRequired = "missing_required_field"
	reasonTooShort        = "too_short"
	reasonInvalidType     = "invalid_type"
	reasonUnknownType     = "unknown_type"
)

// typeCheckers are the named format checks available to validation rules.
// The key is the value of a rule's "type" field.
var typeCheckers = map[string]func(string) bool{
	// document: identification number, digits only
	"document": isDigits,
	// dane_code: 5-digit DANE municipality code with a known department prefix
	"dane_code": isDANECode,
}

// KnownRuleType reports whether name is a registered type check. Used by the
// mapping API to reject rule sets referencing checks that do not exist.
func KnownRuleType(name string) bool {
	_, ok := typeCheckers[name]
	return ok
}

// Validate applies a mapping's declarative rules to a normalized record.
//
// All applicable rules are evaluated, never short-circuited, so a single
// verdict carries the complete list of violations. Fields are checked in
// sorted order and, within a field, in required, min_length, type order, so
// the violation list is deterministic. Returns nil when the record is valid.
func Validate(rec Record, rules mapping.Rules) *ValidationError {
	if len(rules) == 0 {
		return nil
	}

	fields := make([]string, 0, len(rules))
	for f := range rules {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var violations []Violation
	for _, field := range fields {
		rule := rules[field]
		val, present := rec[field]
		str := stringify(val)
		empty := !present || strings.TrimSpace(str) == ""

		if rule.Required && empty {
			violations = append(violations, Violation{Field: field, Rule: ruleRequired, Reason: reasonMissingRequired})
		}

		if rule.MinLength > 0 && present && utf8.RuneCountInString(str) < rule.MinLength {
			violations = append(violations, Violation{Field: field, Rule: ruleMinLength, Reason: reasonTooShort})
		}

		if rule.Type != "" && !empty {
			check, known := typeCheckers[rule.Type]
			switch {
			case !known:
				violations = append(violations, Violation{Field: field, Rule: ruleType, Reason: reasonUnknownType})
			case !check(strings.TrimSpace(str)):
				violations = append(violations, Violation{Field: field, Rule: ruleType, Reason: reasonInvalidType})
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

// stringify renders a record value for rule evaluation. Column-derived
// values are already strings; literals are scalars.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// daneDepartments are the two-digit DANE department prefixes of Colombia.
var daneDepartments = map[string]bool{
	"05": true, "08": true, "11": true, "13": true, "15": true,
	"17": true, "18": true, "19": true, "20": true, "23": true,
	"25": true, "27": true, "41": true, "44": true, "47": true,
	"50": true, "52": true, "54": true, "63": true, "66": true,
	"68": true, "70": true, "73": true, "76": true, "81": true,
	"85": true, "86": true, "88": true, "91": true, "94": true,
	"95": true, "97": true, "99": true,
}

func isDANECode(s string) bool {
	return len(s) == 5 && isDigits(s) && daneDepartments[s[:2]]
}
