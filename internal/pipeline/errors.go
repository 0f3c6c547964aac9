package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for control flow. Callers match with errors.Is.
var (
	// ErrAlreadyInProgress rejects a second concurrent processing attempt
	// on the same file.
	ErrAlreadyInProgress = errors.New("file is already being processed")

	// ErrJobNotFound reports an unknown file id.
	ErrJobNotFound = errors.New("file job not found")

	// ErrLeaseLost reports that the processing lease expired and was taken
	// over before the attempt could finish.
	ErrLeaseLost = errors.New("processing lease lost")

	// ErrDuplicateOutcome rejects a second terminal outcome for the same
	// (file, row, attempt) key.
	ErrDuplicateOutcome = errors.New("row outcome already recorded")
)

// ConfigError is file-fatal: the client has no usable mapping configuration.
// It is not retried.
type ConfigError struct {
	ClientCode string
	Err        error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("mapping configuration for client %q: %v", e.ClientCode, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ParseError is file-fatal: the source file cannot be read or parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TransformError is a per-row failure: a referenced source column is absent
// from the raw row. The row is recorded and skipped; the file continues.
type TransformError struct {
	Field  string
	Reason string
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform field %q: %s", e.Field, e.Reason)
}

// Violation is one failed validation rule.
type Violation struct {
	Field  string `json:"field"`
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// ValidationError carries the complete ordered list of violated rules for
// one record; rules are never short-circuited.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s: %s (%s)", v.Field, v.Reason, v.Rule)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}
