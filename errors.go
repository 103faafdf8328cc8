package schemagov

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoActiveSchema is returned by ValidateData before a schema was adopted
	ErrNoActiveSchema = errors.New("schemagov: no active schema")
	// ErrPayloadNotMapping is returned for payloads that are not a JSON object
	ErrPayloadNotMapping = errors.New("schemagov: payload is not a mapping")
	// ErrPayloadNotEncodable is returned for payloads that cannot be encoded to JSON
	ErrPayloadNotEncodable = errors.New("schemagov: payload is not JSON encodable")
)

// SchemaCompatibilityError means the latest schema cannot replace the active
// one and no migration path exists
type SchemaCompatibilityError struct {
	CurrentVersion  string
	TargetVersion   string
	BreakingChanges []string
}

func (e *SchemaCompatibilityError) Error() string {
	return fmt.Sprintf("schema %s is incompatible with %s: %s",
		e.TargetVersion, e.CurrentVersion, strings.Join(e.BreakingChanges, "; "))
}

// SchemaValidationError means ValidateData could not run at all. Invalid
// payload content is reported in the ValidationResult instead.
type SchemaValidationError struct {
	Op  string
	Err error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("schema validation %s: %v", e.Op, e.Err)
}

func (e *SchemaValidationError) Unwrap() error {
	return e.Err
}
