package registry

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized  = errors.New("registry: not initialized")
	ErrCorruptIndex    = errors.New("registry: corrupt index")
	ErrSchemaNotFound  = errors.New("registry: schema not found")
	ErrVersionConflict = errors.New("registry: version already registered")
	ErrActiveVersion   = errors.New("registry: version is active")
	ErrLastVersion     = errors.New("registry: version is the last remaining version")
)

// Error describes a failed registry operation
type Error struct {
	Op      string // Operation that failed
	Version string // Schema version involved, if any
	Err     error  // Underlying error
}

func (e *Error) Error() string {
	if e.Version != "" {
		return fmt.Sprintf("registry %s %s: %v", e.Op, e.Version, e.Err)
	}
	return fmt.Sprintf("registry %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the requested schema does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSchemaNotFound)
}
