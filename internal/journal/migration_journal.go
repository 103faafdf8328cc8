// Package journal keeps the durable migration history and the rollback step
// ledger of successful migrations.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/glimte/schemagov/storage"
	"github.com/google/uuid"
)

// Persisted file names
const (
	HistoryFile         = "migration_history.json"
	RollbackScriptsFile = "rollback_scripts.json"
)

// ErrCorruptJournal is returned when a persisted journal file cannot be decoded
var ErrCorruptJournal = errors.New("journal: corrupt journal file")

// ErrEntryNotFound is returned for an unknown migration id
var ErrEntryNotFound = errors.New("journal: entry not found")

// Status is the lifecycle state of a migration attempt
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusRolledBack Status = "rolled_back"
)

// Finalized reports whether s is a terminal state
func (s Status) Finalized() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusRolledBack
}

// Entry is the audit record of one migration attempt
type Entry struct {
	ID             string     `json:"id"`
	FromVersion    string     `json:"from_version"`
	ToVersion      string     `json:"to_version"`
	Status         Status     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	StepsCompleted int        `json:"steps_completed"`
	TotalSteps     int        `json:"total_steps"`
	Error          string     `json:"error,omitempty"`
	RollbackSteps  []string   `json:"rollback_steps"`
	RolledBackAt   *time.Time `json:"rolled_back_at,omitempty"`
}

func (e *Entry) clone() *Entry {
	c := *e
	c.RollbackSteps = append([]string(nil), e.RollbackSteps...)
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		c.CompletedAt = &t
	}
	if e.RolledBackAt != nil {
		t := *e.RolledBackAt
		c.RolledBackAt = &t
	}
	return &c
}

// Stats summarizes the journal
type Stats struct {
	Total      int       `json:"total"`
	Successful int       `json:"successful"`
	Failed     int       `json:"failed"`
	RolledBack int       `json:"rolled_back"`
	Running    int       `json:"running"`
	LastEntry  time.Time `json:"last_entry"`
}

// Journal is a migration history backed by a storage.FileStore.
// Every mutation is persisted before it returns; a failed write leaves the
// in-memory state unchanged.
type Journal struct {
	store   storage.FileStore
	dir     string
	entries []*Entry
	byID    map[string]*Entry
	scripts map[string][]string
	mu      sync.RWMutex
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the journal
type Option func(*Journal)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(j *Journal) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithDir places the journal files under dir within the store
func WithDir(dir string) Option {
	return func(j *Journal) {
		j.dir = dir
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// New creates an empty journal; call Load to read persisted state
func New(store storage.FileStore, opts ...Option) *Journal {
	j := &Journal{
		store:   store,
		entries: make([]*Entry, 0),
		byID:    make(map[string]*Entry),
		scripts: make(map[string][]string),
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *Journal) file(name string) string {
	if j.dir == "" {
		return name
	}
	return path.Join(j.dir, name)
}

// Load reads the history and rollback ledger. Missing files mean an empty journal.
func (j *Journal) Load(ctx context.Context) error {
	var entries []*Entry
	if err := j.readJSON(ctx, HistoryFile, &entries); err != nil {
		return err
	}
	scripts := make(map[string][]string)
	if err := j.readJSON(ctx, RollbackScriptsFile, &scripts); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = make([]*Entry, 0, len(entries))
	j.byID = make(map[string]*Entry, len(entries))
	for _, e := range entries {
		if e == nil || e.ID == "" {
			continue
		}
		j.entries = append(j.entries, e)
		j.byID[e.ID] = e
	}
	if scripts == nil {
		scripts = make(map[string][]string)
	}
	j.scripts = scripts

	j.logger.Debug("migration journal loaded", "entries", len(j.entries), "rollback_sets", len(j.scripts))
	return nil
}

func (j *Journal) readJSON(ctx context.Context, name string, v interface{}) error {
	data, err := j.store.Read(ctx, j.file(name))
	if errors.Is(err, storage.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorruptJournal, name, err)
	}
	return nil
}

// Begin records a new attempt and persists it
func (j *Journal) Begin(ctx context.Context, entry *Entry) (*Entry, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry cannot be nil")
	}
	e := entry.clone()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.StartedAt.IsZero() {
		e.StartedAt = j.now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.RollbackSteps == nil {
		e.RollbackSteps = make([]string, 0)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.byID[e.ID]; exists {
		return nil, fmt.Errorf("journal: duplicate entry %s", e.ID)
	}

	j.entries = append(j.entries, e)
	j.byID[e.ID] = e
	if err := j.persistHistory(ctx); err != nil {
		j.entries = j.entries[:len(j.entries)-1]
		delete(j.byID, e.ID)
		return nil, err
	}
	return e.clone(), nil
}

// Update applies fn to the entry with id and persists the history
func (j *Journal) Update(ctx context.Context, id string, fn func(*Entry)) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	e, ok := j.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	before := e.clone()
	fn(e)
	e.ID = before.ID

	if err := j.persistHistory(ctx); err != nil {
		*e = *before
		return nil, err
	}
	return e.clone(), nil
}

// SaveRollbackSteps records the ordered rollback step ids for a migration
func (j *Journal) SaveRollbackSteps(ctx context.Context, id string, steps []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, had := j.scripts[id]
	j.scripts[id] = append([]string(nil), steps...)
	if err := j.persistScripts(ctx); err != nil {
		if had {
			j.scripts[id] = prev
		} else {
			delete(j.scripts, id)
		}
		return err
	}
	return nil
}

// RollbackSteps returns the recorded rollback step ids for a migration
func (j *Journal) RollbackSteps(id string) ([]string, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	steps, ok := j.scripts[id]
	if !ok {
		return nil, false
	}
	return append([]string(nil), steps...), true
}

// DeleteRollbackSteps forgets the rollback ledger of a migration
func (j *Journal) DeleteRollbackSteps(ctx context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	prev, had := j.scripts[id]
	if !had {
		return nil
	}
	delete(j.scripts, id)
	if err := j.persistScripts(ctx); err != nil {
		j.scripts[id] = prev
		return err
	}
	return nil
}

// Get returns a copy of the entry with id
func (j *Journal) Get(id string) (*Entry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	e, ok := j.byID[id]
	if !ok {
		return nil, false
	}
	return e.clone(), true
}

// List returns copies of every entry in start order
func (j *Journal) List() []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*Entry, len(j.entries))
	for i, e := range j.entries {
		out[i] = e.clone()
	}
	return out
}

// Stats summarizes the recorded attempts
func (j *Journal) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var stats Stats
	for _, e := range j.entries {
		stats.Total++
		switch e.Status {
		case StatusSuccess:
			stats.Successful++
		case StatusFailed:
			stats.Failed++
		case StatusRolledBack:
			stats.RolledBack++
		case StatusPending, StatusRunning:
			stats.Running++
		}
		if e.StartedAt.After(stats.LastEntry) {
			stats.LastEntry = e.StartedAt
		}
	}
	return stats
}

func (j *Journal) persistHistory(ctx context.Context) error {
	data, err := json.MarshalIndent(j.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode migration history: %w", err)
	}
	if err := j.store.Write(ctx, j.file(HistoryFile), data); err != nil {
		return fmt.Errorf("write migration history: %w", err)
	}
	return nil
}

func (j *Journal) persistScripts(ctx context.Context) error {
	data, err := json.MarshalIndent(j.scripts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rollback scripts: %w", err)
	}
	if err := j.store.Write(ctx, j.file(RollbackScriptsFile), data); err != nil {
		return fmt.Errorf("write rollback scripts: %w", err)
	}
	return nil
}
