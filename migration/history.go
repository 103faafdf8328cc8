package migration

import "github.com/glimte/schemagov/internal/journal"

// History is the durable audit record of one migration attempt
type History = journal.Entry

// Status is the lifecycle state of a migration attempt
type Status = journal.Status

const (
	StatusPending    = journal.StatusPending
	StatusRunning    = journal.StatusRunning
	StatusSuccess    = journal.StatusSuccess
	StatusFailed     = journal.StatusFailed
	StatusRolledBack = journal.StatusRolledBack
)
