package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the core failure taxonomy.
var (
	// ErrNotFound marks any reference to a nonexistent node id. Lookups
	// never silently no-op.
	ErrNotFound = errors.New("not found")

	// Numeric degeneracy in vector math. Surfaced instead of NaN.
	ErrZeroVector        = errors.New("zero vector")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyVectorSet    = errors.New("empty vector set")

	// ErrProvider marks an external embedding/vector-store failure.
	ErrProvider = errors.New("provider failure")

	// Validation sentinels.
	ErrMissingID          = errors.New("missing id")
	ErrUnknownNodeType    = errors.New("unknown node type")
	ErrUnknownRelType     = errors.New("unknown relationship type")
	ErrScoreOutOfRange    = errors.New("score out of range")
	ErrSelfRelationship   = errors.New("self relationship")
)

// NotFoundError wraps ErrNotFound with the missing reference.
type NotFoundError struct {
	Kind string // "node", "source node", "target node"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNodeNotFound reports a missing node on a direct lookup.
func NewNodeNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "node", ID: id}
}

// NewSourceNotFound reports a missing relationship source endpoint.
func NewSourceNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "source node", ID: id}
}

// NewTargetNotFound reports a missing relationship target endpoint.
func NewTargetNotFound(id string) *NotFoundError {
	return &NotFoundError{Kind: "target node", ID: id}
}

// ValidationError wraps a validation sentinel with field context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ProviderError wraps ErrProvider with the failing operation. The graph
// core never lets a provider failure corrupt store state; it surfaces the
// tagged error to the caller instead.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider: %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return ErrProvider }

// NewProviderError tags an external provider failure.
func NewProviderError(op string, err error) *ProviderError {
	return &ProviderError{Op: op, Err: err}
}
