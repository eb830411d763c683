package types

import (
	"fmt"
	"strings"
	"time"
)

// CircuitOpenError is returned when the circuit breaker is open and the
// wrapped call was not attempted. Callers should degrade to the fallback
// chain immediately rather than retry.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open until %s", e.RetryAt.Format(time.RFC3339))
}

// CircuitTimeoutError is returned when the wrapped provider call exceeded
// its deadline. The timeout is counted as a breaker failure.
type CircuitTimeoutError struct {
	Timeout time.Duration
}

func (e *CircuitTimeoutError) Error() string {
	return fmt.Sprintf("provider call exceeded %s timeout", e.Timeout)
}

// SchemaValidationError reports a provider response that failed the
// structural schema for a decomposition level. It is never coerced or
// swallowed; the generator surfaces it so callers can fall back.
type SchemaValidationError struct {
	Level      string
	Violations []string
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("level %q response failed schema validation: %s",
		e.Level, strings.Join(e.Violations, "; "))
}

// MutationRejectedError reports a guarded tree mutation that violated the
// writing function's field permissions. The tree has been rolled back to
// its pre-call state when this error is returned.
type MutationRejectedError struct {
	Function   string
	Violations []string
}

func (e *MutationRejectedError) Error() string {
	return fmt.Sprintf("mutation by %q rejected (tree rolled back): %s",
		e.Function, strings.Join(e.Violations, "; "))
}

// TreeNotFoundError indicates no tree exists for the project/path pair.
// Callers must build a tree before selecting tasks.
type TreeNotFoundError struct {
	ProjectID string
	PathName  string
}

func (e *TreeNotFoundError) Error() string {
	return fmt.Sprintf("no task tree for project %q path %q", e.ProjectID, e.PathName)
}

// GenerationError is the composite error raised only when both the
// schema-driven generator and the fallback chain fail. Ordinary
// generation failures degrade to the fallback and are not surfaced.
type GenerationError struct {
	Stage    string
	Primary  error
	Fallback error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at %s: primary: %v; fallback: %v",
		e.Stage, e.Primary, e.Fallback)
}

func (e *GenerationError) Unwrap() error { return e.Primary }
