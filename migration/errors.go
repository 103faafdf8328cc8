package migration

import (
	"errors"
	"fmt"
)

var (
	// Migration errors
	ErrMigrationInProgress = errors.New("migration: another migration is in progress")
	ErrStepFailed          = errors.New("migration: step failed")
	ErrCheckFailed         = errors.New("migration: validation check failed")
	ErrPlanFailed          = errors.New("migration: planning failed")

	// Rollback errors
	ErrNoRollbackScripts = errors.New("migration: no rollback scripts recorded")
	ErrMigrationNotFound = errors.New("migration: migration not found")
	ErrVersionMismatch   = errors.New("migration: migration target is not the current version")
	ErrUnknownStep       = errors.New("migration: recorded step is not part of the plan")
)

// MigrationError represents a failed migration attempt.
// Completed steps were rolled back before it was returned.
type MigrationError struct {
	Op          string // Operation that failed
	MigrationID string
	FromVersion string
	ToVersion   string
	StepID      string // Step that failed, if any
	Err         error  // Underlying error
}

func (e *MigrationError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("migration %s %s -> %s: %s failed at step %s: %v",
			e.MigrationID, e.FromVersion, e.ToVersion, e.Op, e.StepID, e.Err)
	}
	return fmt.Sprintf("migration %s %s -> %s: %s failed: %v",
		e.MigrationID, e.FromVersion, e.ToVersion, e.Op, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// RollbackError represents a manual rollback that could not start
type RollbackError struct {
	MigrationID string
	Err         error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of migration %s: %v", e.MigrationID, e.Err)
}

func (e *RollbackError) Unwrap() error {
	return e.Err
}

// MigrationRollbackError means a rollback statement itself failed.
// The database state is ambiguous and needs operator attention.
type MigrationRollbackError struct {
	MigrationID string
	StepID      string   // Rollback step that failed
	RolledBack  []string // Steps rolled back before the failure
	Cause       error    // Failure that triggered the rollback, nil for manual rollback
	Err         error    // Rollback failure
}

func (e *MigrationRollbackError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("EMERGENCY: migration %s rollback failed at step %s: %v (rollback triggered by: %v)",
			e.MigrationID, e.StepID, e.Err, e.Cause)
	}
	return fmt.Sprintf("EMERGENCY: migration %s rollback failed at step %s: %v",
		e.MigrationID, e.StepID, e.Err)
}

func (e *MigrationRollbackError) Unwrap() error {
	return e.Err
}

// IsEmergency reports whether err is a failed rollback
func IsEmergency(err error) bool {
	var rbErr *MigrationRollbackError
	return errors.As(err, &rbErr)
}
