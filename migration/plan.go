package migration

import (
	"fmt"
	"time"

	"github.com/glimte/schemagov/database"
	"github.com/glimte/schemagov/schema"
)

// Category classifies a migration step
type Category string

const (
	CategoryDDL        Category = "ddl"
	CategoryDML        Category = "dml"
	CategoryIndex      Category = "index"
	CategoryConstraint Category = "constraint"
)

// Direction of a plan
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
	DirectionNone     Direction = "none"
)

// Bookkeeping tables maintained through the executor
const (
	VersionTable = "schema_version"
	LedgerTable  = "schema_migration_ledger"
)

// Step is one independently rollbackable unit of a migration
type Step struct {
	ID                string        `json:"id"`
	Description       string        `json:"description"`
	ForwardSQL        string        `json:"forward_sql"`
	RollbackSQL       string        `json:"rollback_sql"`
	Category          Category      `json:"category"`
	Dependencies      []string      `json:"dependencies"`
	PreCheck          string        `json:"pre_check,omitempty"`
	PostCheck         string        `json:"post_check,omitempty"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Plan is the ordered list of steps between two versions
type Plan struct {
	ID          string    `json:"id"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Direction   Direction `json:"direction"`
	Steps       []Step    `json:"steps"`
}

// EstimatedDuration sums the step estimates
func (p *Plan) EstimatedDuration() time.Duration {
	var total time.Duration
	for _, s := range p.Steps {
		total += s.EstimatedDuration
	}
	return total
}

// Step returns the step with id
func (p *Plan) Step(id string) (Step, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return Step{}, false
}

// Planner builds migration plans. Plan must be deterministic for the same
// arguments so recorded step ids can be replayed later.
type Planner interface {
	Plan(id, from, to string) (*Plan, error)
}

// PlannerFunc adapts a function to Planner
type PlannerFunc func(id, from, to string) (*Plan, error)

// Plan calls f
func (f PlannerFunc) Plan(id, from, to string) (*Plan, error) {
	return f(id, from, to)
}

// DefaultPlanner emits one step per differing version component.
// Forward plans run major, minor, patch; backward plans run patch, minor,
// major so the major step is isolated first going up and last going down.
type DefaultPlanner struct{}

// Plan implements Planner
func (DefaultPlanner) Plan(id, from, to string) (*Plan, error) {
	fv, err := schema.ParseVersion(from)
	if err != nil {
		return nil, err
	}
	tv, err := schema.ParseVersion(to)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		ID:          id,
		FromVersion: from,
		ToVersion:   to,
		Direction:   DirectionNone,
		Steps:       make([]Step, 0, 3),
	}
	switch c := fv.Compare(tv); {
	case c < 0:
		plan.Direction = DirectionForward
	case c > 0:
		plan.Direction = DirectionBackward
	default:
		return plan, nil
	}

	components := []struct {
		name       string
		from, to   int
		category   Category
		estimation time.Duration
	}{
		{"major", fv.Major, tv.Major, CategoryDDL, 30 * time.Second},
		{"minor", fv.Minor, tv.Minor, CategoryDDL, 10 * time.Second},
		{"patch", fv.Patch, tv.Patch, CategoryDML, time.Second},
	}
	if plan.Direction == DirectionBackward {
		components[0], components[2] = components[2], components[0]
	}

	for _, c := range components {
		if c.from == c.to {
			continue
		}
		stepID := fmt.Sprintf("%s_%d_to_%d", c.name, c.from, c.to)
		step := Step{
			ID:                stepID,
			Description:       fmt.Sprintf("%s version change %d -> %d (%s %s)", c.name, c.from, c.to, from, to),
			ForwardSQL:        ledgerInsert(id, stepID),
			RollbackSQL:       ledgerDelete(id, stepID),
			Category:          c.category,
			Dependencies:      make([]string, 0, 1),
			PostCheck:         ledgerCount(id, stepID),
			EstimatedDuration: c.estimation,
		}
		if n := len(plan.Steps); n > 0 {
			step.Dependencies = append(step.Dependencies, plan.Steps[n-1].ID)
		}
		plan.Steps = append(plan.Steps, step)
	}
	return plan, nil
}

// BookkeepingDDL creates the tables the default steps and the version pointer use
func BookkeepingDDL() []string {
	return []string{
		"CREATE TABLE IF NOT EXISTS " + VersionTable +
			" (id INTEGER PRIMARY KEY, version TEXT NOT NULL, updated_at TIMESTAMP NOT NULL)",
		"CREATE TABLE IF NOT EXISTS " + LedgerTable +
			" (migration_id TEXT NOT NULL, step_id TEXT NOT NULL, applied_at TIMESTAMP NOT NULL," +
			" PRIMARY KEY (migration_id, step_id))",
	}
}

// VersionPointerSQL upserts the stored schema version
func VersionPointerSQL(version string) string {
	return fmt.Sprintf(
		"INSERT INTO %s (id, version, updated_at) VALUES (1, %s, CURRENT_TIMESTAMP) "+
			"ON CONFLICT (id) DO UPDATE SET version = excluded.version, updated_at = excluded.updated_at",
		VersionTable, database.Quote(version))
}

func ledgerInsert(id, stepID string) string {
	return fmt.Sprintf("INSERT INTO %s (migration_id, step_id, applied_at) VALUES (%s, %s, CURRENT_TIMESTAMP)",
		LedgerTable, database.Quote(id), database.Quote(stepID))
}

func ledgerDelete(id, stepID string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE migration_id = %s AND step_id = %s",
		LedgerTable, database.Quote(id), database.Quote(stepID))
}

func ledgerCount(id, stepID string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE migration_id = %s AND step_id = %s",
		LedgerTable, database.Quote(id), database.Quote(stepID))
}
