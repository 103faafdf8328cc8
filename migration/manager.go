// Package migration plans and executes transitions of the stored data model
// between schema versions.
//
// At most one migration runs at a time: a second MigrateSchema or
// RollbackMigration call while one is in flight fails immediately with
// ErrMigrationInProgress instead of waiting. A failing step rolls back every
// completed step in reverse order. A failing rollback is never retried; it
// is reported as a *MigrationRollbackError and flags the manager as being in
// an emergency state until ClearEmergency is called.
//
// Migrations are not cancellable once started: MigrateSchema and
// RollbackMigration detach from the caller's cancellation so the
// active-migration token is always released.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/schemagov/database"
	"github.com/glimte/schemagov/events"
	"github.com/glimte/schemagov/internal/journal"
	"github.com/glimte/schemagov/storage"
	"github.com/google/uuid"
)

// Outcomes reported to MetricsRecorder
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeRolledBack = "rolled_back"
	OutcomeEmergency  = "emergency"
)

// MetricsRecorder receives migration measurements
type MetricsRecorder interface {
	ObserveMigration(outcome string, duration time.Duration)
	ObserveStep(category string, outcome string)
	SetEmergency(active bool)
}

// BackupFunc snapshots state before a plan's first step runs
type BackupFunc func(ctx context.Context, plan *Plan) error

// Result summarizes one migration or rollback run
type Result struct {
	MigrationID    string        `json:"migration_id"`
	FromVersion    string        `json:"from_version"`
	ToVersion      string        `json:"to_version"`
	Success        bool          `json:"success"`
	StepsCompleted int           `json:"steps_completed"`
	TotalSteps     int           `json:"total_steps"`
	Duration       time.Duration `json:"duration"`
	Error          string        `json:"error,omitempty"`
	RolledBack     bool          `json:"rolled_back"`
}

// Stats summarizes every recorded migration
type Stats struct {
	Total          int     `json:"total"`
	Successful     int     `json:"successful"`
	Failed         int     `json:"failed"`
	RolledBack     int     `json:"rolled_back"`
	SuccessRate    float64 `json:"success_rate"`
	CurrentVersion string  `json:"current_version"`
	Emergency      bool    `json:"emergency"`
}

// Manager plans, executes and rolls back migrations
type Manager struct {
	journal    *journal.Journal
	journalDir string
	exec       database.Executor
	planner    Planner
	backup     BackupFunc
	publisher  events.Publisher
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time

	token atomic.Pointer[string]

	mu          sync.RWMutex
	initialized bool
	current     string
	emergency   error
}

// Option configures the manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithPlanner replaces the DefaultPlanner
func WithPlanner(p Planner) Option {
	return func(m *Manager) {
		if p != nil {
			m.planner = p
		}
	}
}

// WithBackupFunc runs fn before the first step of every migration
func WithBackupFunc(fn BackupFunc) Option {
	return func(m *Manager) {
		m.backup = fn
	}
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(r MetricsRecorder) Option {
	return func(m *Manager) {
		m.metrics = r
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithJournalDir places the history files under dir within the store
func WithJournalDir(dir string) Option {
	return func(m *Manager) {
		m.journalDir = dir
	}
}

// NewManager creates a manager keeping its history in store and running
// steps through exec
func NewManager(store storage.FileStore, exec database.Executor, opts ...Option) *Manager {
	m := &Manager{
		exec:      exec,
		planner:   DefaultPlanner{},
		publisher: events.NopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.journal = journal.New(store,
		journal.WithDir(m.journalDir),
		journal.WithLogger(m.logger),
		journal.WithClock(m.now))
	return m
}

// Initialize loads the history, prepares the bookkeeping tables and restores
// the current version from the newest successful or rolled back record.
// Attempts left running by a crash are marked failed.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initializeLocked(ctx)
}

func (m *Manager) initializeLocked(ctx context.Context) error {
	if m.initialized {
		return nil
	}
	if err := m.journal.Load(ctx); err != nil {
		return fmt.Errorf("load migration journal: %w", err)
	}
	for _, stmt := range BookkeepingDDL() {
		if err := m.exec.Execute(ctx, stmt); err != nil {
			return fmt.Errorf("prepare bookkeeping tables: %w", err)
		}
	}

	var (
		newest   time.Time
		restored string
	)
	for _, e := range m.journal.List() {
		if !e.Status.Finalized() {
			m.logger.Warn("marking interrupted migration as failed",
				"migration_id", e.ID,
				"from", e.FromVersion,
				"to", e.ToVersion)
			completed := m.now().UTC()
			if _, err := m.journal.Update(ctx, e.ID, func(h *journal.Entry) {
				h.Status = journal.StatusFailed
				h.Error = "interrupted before completion"
				h.CompletedAt = &completed
			}); err != nil {
				return fmt.Errorf("finalize interrupted migration %s: %w", e.ID, err)
			}
			continue
		}

		at, version := finalizedAt(e)
		if !at.IsZero() && !at.Before(newest) {
			newest = at
			restored = version
		}
	}
	m.current = restored
	m.initialized = true

	m.logger.Info("migration manager initialized",
		"history", len(m.journal.List()),
		"current_version", m.current)
	return nil
}

// finalizedAt returns when e reached its state and the version it left behind
func finalizedAt(e *journal.Entry) (time.Time, string) {
	switch e.Status {
	case journal.StatusSuccess:
		if e.CompletedAt != nil {
			return *e.CompletedAt, e.ToVersion
		}
	case journal.StatusRolledBack:
		if e.RolledBackAt != nil {
			return *e.RolledBackAt, e.FromVersion
		}
	}
	return time.Time{}, ""
}

// PlanMigration builds the plan MigrateSchema would execute
func (m *Manager) PlanMigration(id, from, to string) (*Plan, error) {
	plan, err := m.planner.Plan(id, from, to)
	if err != nil {
		return nil, &MigrationError{Op: "plan", MigrationID: id, FromVersion: from, ToVersion: to,
			Err: fmt.Errorf("%w: %w", ErrPlanFailed, err)}
	}
	return plan, nil
}

// MigrateSchema migrates the stored data model from one version to another.
// On failure the returned Result describes how far it got and whether the
// completed steps were rolled back.
func (m *Manager) MigrateSchema(ctx context.Context, from, to string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	id := uuid.New().String()

	if !m.token.CompareAndSwap(nil, &id) {
		m.logger.Warn("migration rejected, another migration is in progress",
			"from", from, "to", to, "active_migration", m.ActiveMigration())
		return nil, &MigrationError{Op: "migrate", MigrationID: id, FromVersion: from, ToVersion: to,
			Err: ErrMigrationInProgress}
	}
	defer m.token.Store(nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initializeLocked(ctx); err != nil {
		return nil, &MigrationError{Op: "migrate", MigrationID: id, FromVersion: from, ToVersion: to, Err: err}
	}

	start := m.now()
	plan, err := m.PlanMigration(id, from, to)
	if err != nil {
		m.observe(OutcomeFailed, start)
		return nil, err
	}

	result := &Result{
		MigrationID: id,
		FromVersion: from,
		ToVersion:   to,
		TotalSteps:  len(plan.Steps),
	}

	if _, err := m.journal.Begin(ctx, &journal.Entry{
		ID:          id,
		FromVersion: from,
		ToVersion:   to,
		Status:      journal.StatusRunning,
		StartedAt:   start.UTC(),
		TotalSteps:  len(plan.Steps),
	}); err != nil {
		m.observe(OutcomeFailed, start)
		return nil, &MigrationError{Op: "record", MigrationID: id, FromVersion: from, ToVersion: to, Err: err}
	}

	m.logger.Info("starting migration",
		"migration_id", id,
		"from", from,
		"to", to,
		"direction", plan.Direction,
		"steps", len(plan.Steps))
	events.Emit(ctx, m.publisher, m.logger,
		events.New(events.MigrationStarted, "migration").WithMigration(id).WithVersion(to).
			With("from", from).With("steps", len(plan.Steps)))

	if m.backup != nil {
		if err := m.backup(ctx, plan); err != nil {
			migErr := &MigrationError{Op: "backup", MigrationID: id, FromVersion: from, ToVersion: to, Err: err}
			return m.failMigration(ctx, plan, result, nil, migErr, start)
		}
	}

	completed := make([]Step, 0, len(plan.Steps))
	for _, step := range plan.Steps {
		m.logger.Info("executing migration step",
			"migration_id", id,
			"step", step.ID,
			"category", step.Category)

		if err := m.runStep(ctx, step); err != nil {
			m.recordStep(step, OutcomeFailed)
			migErr := &MigrationError{Op: "migrate", MigrationID: id, FromVersion: from, ToVersion: to,
				StepID: step.ID, Err: err}
			return m.failMigration(ctx, plan, result, completed, migErr, start)
		}
		m.recordStep(step, OutcomeSuccess)
		completed = append(completed, step)
		result.StepsCompleted = len(completed)

		if _, err := m.journal.Update(ctx, id, func(h *journal.Entry) {
			h.StepsCompleted = len(completed)
		}); err != nil {
			m.logger.Warn("failed to record migration progress", "migration_id", id, "error", err)
		}
	}

	if err := m.exec.Execute(ctx, VersionPointerSQL(to)); err != nil {
		migErr := &MigrationError{Op: "update version", MigrationID: id, FromVersion: from, ToVersion: to, Err: err}
		return m.failMigration(ctx, plan, result, completed, migErr, start)
	}

	rollbackIDs := make([]string, 0, len(completed))
	for i := len(completed) - 1; i >= 0; i-- {
		rollbackIDs = append(rollbackIDs, completed[i].ID)
	}
	if err := m.journal.SaveRollbackSteps(ctx, id, rollbackIDs); err != nil {
		migErr := &MigrationError{Op: "record", MigrationID: id, FromVersion: from, ToVersion: to, Err: err}
		return m.failMigration(ctx, plan, result, completed, migErr, start)
	}

	finished := m.now().UTC()
	if _, err := m.journal.Update(ctx, id, func(h *journal.Entry) {
		h.Status = journal.StatusSuccess
		h.StepsCompleted = len(completed)
		h.CompletedAt = &finished
	}); err != nil {
		if delErr := m.journal.DeleteRollbackSteps(ctx, id); delErr != nil {
			m.logger.Error("failed to discard rollback steps", "migration_id", id, "error", delErr)
		}
		migErr := &MigrationError{Op: "record", MigrationID: id, FromVersion: from, ToVersion: to, Err: err}
		return m.failMigration(ctx, plan, result, completed, migErr, start)
	}

	m.current = to
	result.Success = true
	result.Duration = m.now().Sub(start)
	m.observe(OutcomeSuccess, start)

	m.logger.Info("migration completed",
		"migration_id", id,
		"from", from,
		"to", to,
		"steps", result.StepsCompleted,
		"duration", result.Duration)
	events.Emit(ctx, m.publisher, m.logger,
		events.New(events.MigrationCompleted, "migration").WithMigration(id).WithVersion(to).
			With("from", from).With("steps", result.StepsCompleted))
	return result, nil
}

// failMigration rolls back completed steps in reverse order and finalizes the
// attempt as failed
func (m *Manager) failMigration(ctx context.Context, plan *Plan, result *Result, completed []Step, cause *MigrationError, start time.Time) (*Result, error) {
	m.logger.Error("migration failed, rolling back",
		"migration_id", plan.ID,
		"completed_steps", len(completed),
		"error", cause.Err)

	rolled, failedStep, rbErr := m.rollbackSteps(ctx, plan.ID, completed)

	result.Error = cause.Error()
	result.Duration = m.now().Sub(start)
	result.RolledBack = rbErr == nil

	finished := m.now().UTC()
	if _, err := m.journal.Update(ctx, plan.ID, func(h *journal.Entry) {
		h.Status = journal.StatusFailed
		h.StepsCompleted = len(completed)
		h.CompletedAt = &finished
		h.RollbackSteps = rolled
		h.Error = cause.Error()
		if rbErr != nil {
			h.Error = fmt.Sprintf("%s; rollback failed at %s: %v", cause.Error(), failedStep, rbErr)
		}
	}); err != nil {
		m.logger.Error("failed to record migration failure", "migration_id", plan.ID, "error", err)
	}

	if rbErr != nil {
		emergency := &MigrationRollbackError{
			MigrationID: plan.ID,
			StepID:      failedStep,
			RolledBack:  rolled,
			Cause:       cause,
			Err:         rbErr,
		}
		m.raiseEmergency(ctx, emergency)
		m.observe(OutcomeEmergency, start)
		return result, emergency
	}

	m.observe(OutcomeFailed, start)
	events.Emit(ctx, m.publisher, m.logger,
		events.New(events.MigrationFailed, "migration").WithMigration(plan.ID).WithVersion(plan.ToVersion).
			With("from", plan.FromVersion).With("error", cause.Error()).With("rolled_back", rolled))
	return result, cause
}

// rollbackSteps runs the rollback script of every completed step in reverse
// order. It stops at the first failure.
func (m *Manager) rollbackSteps(ctx context.Context, id string, completed []Step) ([]string, string, error) {
	rolled := make([]string, 0, len(completed))
	if len(completed) == 0 {
		return rolled, "", nil
	}
	m.logger.Info("starting rollback", "migration_id", id, "steps", len(completed))

	for i := len(completed) - 1; i >= 0; i-- {
		step := completed[i]
		m.logger.Info("rolling back step", "migration_id", id, "step", step.ID)

		if step.RollbackSQL != "" {
			if err := m.exec.Execute(ctx, step.RollbackSQL); err != nil {
				m.recordStep(step, OutcomeEmergency)
				m.logger.Error("rollback step failed",
					"migration_id", id,
					"step", step.ID,
					"error", err)
				return rolled, step.ID, err
			}
		}
		m.recordStep(step, OutcomeRolledBack)
		rolled = append(rolled, step.ID)
		m.logger.Info("step rolled back", "migration_id", id, "step", step.ID)
	}
	return rolled, "", nil
}

func (m *Manager) runStep(ctx context.Context, step Step) error {
	if step.PreCheck != "" {
		ok, err := m.exec.QueryCheck(ctx, step.PreCheck)
		if err != nil {
			return fmt.Errorf("%w: pre-check: %w", ErrCheckFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: pre-check did not hold", ErrCheckFailed)
		}
	}
	if err := m.exec.Execute(ctx, step.ForwardSQL); err != nil {
		return fmt.Errorf("%w: %w", ErrStepFailed, err)
	}
	if step.PostCheck != "" {
		ok, err := m.exec.QueryCheck(ctx, step.PostCheck)
		if err != nil {
			return fmt.Errorf("%w: post-check: %w", ErrCheckFailed, err)
		}
		if !ok {
			return fmt.Errorf("%w: post-check did not hold", ErrCheckFailed)
		}
	}
	return nil
}

// RollbackMigration undoes a previously successful migration by replaying
// its recorded rollback steps. Only the migration that produced the current
// version can be rolled back.
func (m *Manager) RollbackMigration(ctx context.Context, id string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	if !m.token.CompareAndSwap(nil, &id) {
		return nil, &MigrationError{Op: "rollback", MigrationID: id, Err: ErrMigrationInProgress}
	}
	defer m.token.Store(nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.initializeLocked(ctx); err != nil {
		return nil, &RollbackError{MigrationID: id, Err: err}
	}

	entry, ok := m.journal.Get(id)
	if !ok {
		return nil, &RollbackError{MigrationID: id, Err: ErrMigrationNotFound}
	}
	stepIDs, ok := m.journal.RollbackSteps(id)
	if !ok {
		return nil, &RollbackError{MigrationID: id, Err: ErrNoRollbackScripts}
	}
	if entry.ToVersion != m.current {
		return nil, &RollbackError{MigrationID: id,
			Err: fmt.Errorf("%w: migration produced %s, current is %s", ErrVersionMismatch, entry.ToVersion, m.current)}
	}

	plan, err := m.planner.Plan(id, entry.FromVersion, entry.ToVersion)
	if err != nil {
		return nil, &RollbackError{MigrationID: id, Err: fmt.Errorf("%w: %w", ErrPlanFailed, err)}
	}
	steps := make([]Step, 0, len(stepIDs))
	for _, sid := range stepIDs {
		step, ok := plan.Step(sid)
		if !ok {
			return nil, &RollbackError{MigrationID: id, Err: fmt.Errorf("%w: %s", ErrUnknownStep, sid)}
		}
		steps = append(steps, step)
	}

	start := m.now()
	result := &Result{
		MigrationID: id,
		FromVersion: entry.ToVersion,
		ToVersion:   entry.FromVersion,
		TotalSteps:  len(steps),
	}
	m.logger.Info("rolling back migration",
		"migration_id", id,
		"from", entry.ToVersion,
		"to", entry.FromVersion,
		"steps", len(steps))

	// steps are stored in rollback order; rollbackSteps walks backwards
	reversed := make([]Step, len(steps))
	for i, s := range steps {
		reversed[len(steps)-1-i] = s
	}
	rolled, failedStep, rbErr := m.rollbackSteps(ctx, id, reversed)
	result.StepsCompleted = len(rolled)
	result.Duration = m.now().Sub(start)

	if rbErr == nil {
		if err := m.exec.Execute(ctx, VersionPointerSQL(entry.FromVersion)); err != nil {
			rbErr = err
			failedStep = "version_pointer"
		}
	}
	if rbErr != nil {
		emergency := &MigrationRollbackError{MigrationID: id, StepID: failedStep, RolledBack: rolled, Err: rbErr}
		result.Error = emergency.Error()
		if _, err := m.journal.Update(ctx, id, func(h *journal.Entry) {
			h.Error = emergency.Error()
		}); err != nil {
			m.logger.Error("failed to record rollback failure", "migration_id", id, "error", err)
		}
		m.raiseEmergency(ctx, emergency)
		m.observe(OutcomeEmergency, start)
		return result, emergency
	}

	rolledBackAt := m.now().UTC()
	if _, err := m.journal.Update(ctx, id, func(h *journal.Entry) {
		h.Status = journal.StatusRolledBack
		h.RolledBackAt = &rolledBackAt
		h.RollbackSteps = rolled
	}); err != nil {
		return result, &RollbackError{MigrationID: id, Err: fmt.Errorf("record rollback: %w", err)}
	}
	if err := m.journal.DeleteRollbackSteps(ctx, id); err != nil {
		m.logger.Warn("failed to discard rollback steps", "migration_id", id, "error", err)
	}

	m.current = entry.FromVersion
	result.Success = true
	result.RolledBack = true
	m.observe(OutcomeRolledBack, start)

	m.logger.Info("migration rolled back",
		"migration_id", id,
		"version", entry.FromVersion,
		"steps", len(rolled))
	events.Emit(ctx, m.publisher, m.logger,
		events.New(events.MigrationRolledBack, "migration").WithMigration(id).WithVersion(entry.FromVersion).
			With("steps", rolled))
	return result, nil
}

func (m *Manager) raiseEmergency(ctx context.Context, err *MigrationRollbackError) {
	m.emergency = err
	if m.metrics != nil {
		m.metrics.SetEmergency(true)
	}
	m.logger.Error("migration rollback failed, manual intervention required",
		"migration_id", err.MigrationID,
		"step", err.StepID,
		"rolled_back", err.RolledBack,
		"error", err.Err)
	events.Emit(ctx, m.publisher, m.logger,
		events.New(events.MigrationEmergency, "migration").WithMigration(err.MigrationID).
			With("step", err.StepID).With("error", err.Error()))
}

func (m *Manager) observe(outcome string, start time.Time) {
	if m.metrics != nil {
		m.metrics.ObserveMigration(outcome, m.now().Sub(start))
	}
}

func (m *Manager) recordStep(step Step, outcome string) {
	if m.metrics != nil {
		m.metrics.ObserveStep(string(step.Category), outcome)
	}
}

// Emergency returns the last rollback failure, or nil
func (m *Manager) Emergency() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.emergency == nil {
		return nil
	}
	return m.emergency
}

// ClearEmergency acknowledges a rollback failure after manual repair
func (m *Manager) ClearEmergency() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.emergency != nil {
		m.logger.Warn("migration emergency cleared", "error", m.emergency)
	}
	m.emergency = nil
	if m.metrics != nil {
		m.metrics.SetEmergency(false)
	}
}

// IsMigrating reports whether a migration or rollback is in flight
func (m *Manager) IsMigrating() bool {
	return m.token.Load() != nil
}

// ActiveMigration returns the id of the in-flight migration, or ""
func (m *Manager) ActiveMigration() string {
	if p := m.token.Load(); p != nil {
		return *p
	}
	return ""
}

// CurrentVersion returns the version the last completed or rolled back
// migration left behind
func (m *Manager) CurrentVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// History returns every recorded attempt in start order
func (m *Manager) History() []*History {
	return m.journal.List()
}

// GetHistory returns the record of one attempt
func (m *Manager) GetHistory(id string) (*History, error) {
	e, ok := m.journal.Get(id)
	if !ok {
		return nil, &RollbackError{MigrationID: id, Err: ErrMigrationNotFound}
	}
	return e, nil
}

// Stats summarizes every recorded attempt
func (m *Manager) Stats() Stats {
	js := m.journal.Stats()
	stats := Stats{
		Total:          js.Total,
		Successful:     js.Successful,
		Failed:         js.Failed,
		RolledBack:     js.RolledBack,
		CurrentVersion: m.CurrentVersion(),
		Emergency:      m.Emergency() != nil,
	}
	if js.Total > 0 {
		stats.SuccessRate = float64(js.Successful) / float64(js.Total)
	}
	return stats
}
