// Package registry is the durable store of schema definitions.
//
// Every version lives in its own schema_<version>.json file next to a
// registry_index.json holding per-version metadata, the registration history
// and the single active version. All mutations persist the index before they
// return; a failed write leaves the in-memory state as it was.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/glimte/schemagov/events"
	"github.com/glimte/schemagov/schema"
	"github.com/glimte/schemagov/storage"
)

const (
	// DefaultMaxVersions is the number of versions kept before eviction
	DefaultMaxVersions = 10
	// DefaultCreator is recorded when registration names no creator
	DefaultCreator = "schemagov"
)

// SchemaRegistry keeps versioned schema definitions in a storage.FileStore
type SchemaRegistry struct {
	store       storage.FileStore
	dir         string
	schemas     map[string]*schema.Definition
	metadata    map[string]*Metadata
	history     []string
	active      string
	initialized bool
	maxVersions int
	creator     string
	publisher   events.Publisher
	logger      *slog.Logger
	now         func() time.Time
	mu          sync.RWMutex
}

// Option configures the registry
type Option func(*SchemaRegistry)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *SchemaRegistry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMaxVersions caps the number of stored versions
func WithMaxVersions(n int) Option {
	return func(r *SchemaRegistry) {
		if n > 0 {
			r.maxVersions = n
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) Option {
	return func(r *SchemaRegistry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithCreator sets the creator recorded when none is given
func WithCreator(name string) Option {
	return func(r *SchemaRegistry) {
		if name != "" {
			r.creator = name
		}
	}
}

// WithDir places the registry files under dir within the store
func WithDir(dir string) Option {
	return func(r *SchemaRegistry) {
		r.dir = dir
	}
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(r *SchemaRegistry) {
		r.publisher = p
	}
}

// New creates a registry over store; call Initialize before use
func New(store storage.FileStore, opts ...Option) *SchemaRegistry {
	r := &SchemaRegistry{
		store:       store,
		schemas:     make(map[string]*schema.Definition),
		metadata:    make(map[string]*Metadata),
		history:     make([]string, 0),
		maxVersions: DefaultMaxVersions,
		creator:     DefaultCreator,
		publisher:   events.NopPublisher{},
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *SchemaRegistry) file(name string) string {
	if r.dir == "" {
		return name
	}
	return path.Join(r.dir, name)
}

// Initialize loads persisted schemas and the index. An unreadable schema
// file is skipped; an unparsable index fails. An empty registry receives
// the built-in default definition as its active version.
func (r *SchemaRegistry) Initialize(ctx context.Context) error {
	idx, err := r.loadIndex(ctx)
	if err != nil {
		return err
	}
	loaded, err := r.loadSchemas(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.schemas = loaded
	r.metadata = make(map[string]*Metadata, len(loaded))
	r.history = make([]string, 0, len(loaded))
	r.active = ""

	for _, v := range idx.VersionHistory {
		if _, ok := loaded[v]; ok && !contains(r.history, v) {
			r.history = append(r.history, v)
		}
	}
	for v, def := range loaded {
		if m, ok := idx.Metadata[v]; ok && m != nil {
			m.Version = v
			m.Hash = def.Hash
			if m.Tags == nil {
				m.Tags = make([]string, 0)
			}
			r.metadata[v] = m
			continue
		}
		r.logger.Warn("schema file has no index entry", "version", v)
		r.metadata[v] = &Metadata{
			Name:      def.Name,
			Version:   v,
			Hash:      def.Hash,
			CreatedBy: r.creator,
			CreatedAt: def.CreatedAt,
			Tags:      make([]string, 0),
		}
	}
	for _, v := range sortedVersions(loaded) {
		if !contains(r.history, v) {
			r.history = append(r.history, v)
		}
	}
	for v := range idx.Metadata {
		if _, ok := loaded[v]; !ok {
			r.logger.Warn("index entry has no schema file, dropping", "version", v)
		}
	}

	repaired := false
	if _, ok := loaded[idx.ActiveVersion]; ok {
		r.setActiveLocked(idx.ActiveVersion)
	} else if len(loaded) > 0 {
		latest := sortedVersions(loaded)[len(loaded)-1]
		r.logger.Warn("active version missing from registry, activating latest",
			"indexed_active", idx.ActiveVersion,
			"activated", latest)
		r.setActiveLocked(latest)
		repaired = true
	}
	r.initialized = true
	empty := len(loaded) == 0
	if repaired {
		if err := r.persistIndexLocked(ctx); err != nil {
			r.mu.Unlock()
			return &Error{Op: "initialize", Err: err}
		}
	}
	r.mu.Unlock()

	if empty {
		def := schema.DefaultDefinition()
		if _, err := r.RegisterSchema(ctx, def, def.Version, &RegisterOptions{
			Description: "built-in default schema",
			Activate:    true,
		}); err != nil {
			return &Error{Op: "initialize", Version: def.Version, Err: err}
		}
	}

	r.logger.Info("schema registry initialized",
		"versions", len(r.ListVersions()),
		"active_version", r.ActiveVersion())
	return nil
}

func (r *SchemaRegistry) loadIndex(ctx context.Context) (*index, error) {
	idx := &index{Metadata: make(map[string]*Metadata)}
	data, err := r.store.Read(ctx, r.file(IndexFile))
	if errors.Is(err, storage.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return nil, &Error{Op: "initialize", Err: fmt.Errorf("read index: %w", err)}
	}
	if err := json.Unmarshal(data, idx); err != nil {
		return nil, &Error{Op: "initialize", Err: fmt.Errorf("%w: %v", ErrCorruptIndex, err)}
	}
	if idx.Metadata == nil {
		idx.Metadata = make(map[string]*Metadata)
	}
	return idx, nil
}

func (r *SchemaRegistry) loadSchemas(ctx context.Context) (map[string]*schema.Definition, error) {
	dir := r.dir
	if dir == "" {
		dir = "."
	}
	names, err := r.store.List(ctx, dir)
	if err != nil {
		return nil, &Error{Op: "initialize", Err: fmt.Errorf("list schemas: %w", err)}
	}

	loaded := make(map[string]*schema.Definition)
	for _, name := range names {
		version, ok := versionFromFileName(name)
		if !ok {
			continue
		}
		if _, err := schema.ParseVersion(version); err != nil {
			r.logger.Warn("skipping schema file with invalid version", "file", name, "error", err)
			continue
		}
		data, err := r.store.Read(ctx, r.file(name))
		if err != nil {
			r.logger.Warn("skipping unreadable schema file", "file", name, "error", err)
			continue
		}
		def, err := schema.UnmarshalDefinition(data)
		if err != nil {
			r.logger.Warn("skipping unparsable schema file", "file", name, "error", err)
			continue
		}
		if def.Version != version {
			r.logger.Warn("schema file version does not match its name, using file name",
				"file", name, "declared", def.Version)
			def.Version = version
		}
		hash := def.ComputeHash()
		if def.Hash != "" && def.Hash != hash {
			r.logger.Warn("stored schema hash is stale, recomputed", "version", version)
		}
		def.Hash = hash
		loaded[version] = def
	}
	return loaded, nil
}

// RegisterSchema stores def under version
func (r *SchemaRegistry) RegisterSchema(ctx context.Context, def *schema.Definition, version string, opts *RegisterOptions) (*Metadata, error) {
	if opts == nil {
		opts = &RegisterOptions{}
	}
	if _, err := schema.ParseVersion(version); err != nil {
		return nil, &Error{Op: "register", Version: version, Err: err}
	}
	if err := def.Validate(); err != nil {
		return nil, &Error{Op: "register", Version: version, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return nil, &Error{Op: "register", Version: version, Err: ErrNotInitialized}
	}
	if _, exists := r.schemas[version]; exists {
		return nil, &Error{Op: "register", Version: version, Err: ErrVersionConflict}
	}

	stored := def.Clone()
	stored.Version = version
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now().UTC()
	}
	stored.Hash = stored.ComputeHash()

	for v, other := range r.schemas {
		if other.Hash == stored.Hash {
			r.logger.Warn("schema content duplicates an existing version",
				"version", version,
				"duplicate_of", v)
		}
	}

	creator := opts.CreatedBy
	if creator == "" {
		creator = r.creator
	}
	meta := &Metadata{
		Name:        stored.Name,
		Version:     version,
		Hash:        stored.Hash,
		CreatedBy:   creator,
		CreatedAt:   stored.CreatedAt,
		Description: opts.Description,
		Tags:        append(make([]string, 0, len(opts.Tags)), opts.Tags...),
	}

	data, err := schema.MarshalDefinition(stored)
	if err != nil {
		return nil, &Error{Op: "register", Version: version, Err: err}
	}
	if err := r.store.Write(ctx, r.file(SchemaFileName(version)), data); err != nil {
		return nil, &Error{Op: "register", Version: version, Err: fmt.Errorf("write schema: %w", err)}
	}

	snap := r.snapshotLocked()
	r.schemas[version] = stored
	r.metadata[version] = meta
	r.history = append(r.history, version)
	activated := r.active == "" || opts.Activate
	if activated {
		r.setActiveLocked(version)
	}
	evicted := r.evictLocked(version)

	if err := r.persistIndexLocked(ctx); err != nil {
		r.restoreLocked(snap)
		if delErr := r.store.Delete(ctx, r.file(SchemaFileName(version))); delErr != nil {
			r.logger.Error("failed to remove orphaned schema file", "version", version, "error", delErr)
		}
		return nil, &Error{Op: "register", Version: version, Err: err}
	}

	for _, v := range evicted {
		if err := r.store.Delete(ctx, r.file(SchemaFileName(v))); err != nil && !errors.Is(err, storage.ErrNotExist) {
			r.logger.Warn("failed to remove evicted schema file", "version", v, "error", err)
		}
		r.logger.Info("schema version evicted", "version", v)
	}

	r.logger.Info("schema registered",
		"version", version,
		"name", stored.Name,
		"hash", stored.Hash,
		"active", activated)

	events.Emit(ctx, r.publisher, r.logger,
		events.New(events.SchemaRegistered, "registry").WithVersion(version).With("hash", stored.Hash))
	if activated {
		events.Emit(ctx, r.publisher, r.logger,
			events.New(events.SchemaActivated, "registry").WithVersion(version))
	}
	return meta.clone(), nil
}

// GetSchema returns a copy of the definition registered under version
func (r *SchemaRegistry) GetSchema(version string) (*schema.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, &Error{Op: "get", Version: version, Err: ErrNotInitialized}
	}
	def, ok := r.schemas[version]
	if !ok {
		return nil, &Error{Op: "get", Version: version, Err: ErrSchemaNotFound}
	}
	return def.Clone(), nil
}

// GetCurrentSchema returns a copy of the active definition
func (r *SchemaRegistry) GetCurrentSchema() (*schema.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, &Error{Op: "get current", Err: ErrNotInitialized}
	}
	def, ok := r.schemas[r.active]
	if !ok {
		return nil, &Error{Op: "get current", Err: ErrSchemaNotFound}
	}
	return def.Clone(), nil
}

// GetLatestSchema returns a copy of the highest version by semantic ordering
func (r *SchemaRegistry) GetLatestSchema() (*schema.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.initialized {
		return nil, &Error{Op: "get latest", Err: ErrNotInitialized}
	}
	if len(r.schemas) == 0 {
		return nil, &Error{Op: "get latest", Err: ErrSchemaNotFound}
	}
	versions := sortedVersions(r.schemas)
	return r.schemas[versions[len(versions)-1]].Clone(), nil
}

// GetDefaultSchema returns the built-in default definition
func (r *SchemaRegistry) GetDefaultSchema() (*schema.Definition, error) {
	return schema.DefaultDefinition(), nil
}

// SetActiveVersion makes version the single active version
func (r *SchemaRegistry) SetActiveVersion(ctx context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return &Error{Op: "activate", Version: version, Err: ErrNotInitialized}
	}
	if _, ok := r.schemas[version]; !ok {
		return &Error{Op: "activate", Version: version, Err: ErrSchemaNotFound}
	}
	if r.active == version {
		return nil
	}

	snap := r.snapshotLocked()
	previous := r.active
	r.setActiveLocked(version)
	if err := r.persistIndexLocked(ctx); err != nil {
		r.restoreLocked(snap)
		return &Error{Op: "activate", Version: version, Err: err}
	}

	r.logger.Info("active schema version changed", "previous", previous, "active", version)
	events.Emit(ctx, r.publisher, r.logger,
		events.New(events.SchemaActivated, "registry").WithVersion(version).With("previous", previous))
	return nil
}

// ActiveVersion returns the active version, or "" before initialization
func (r *SchemaRegistry) ActiveVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ListVersions returns metadata for every version, newest-created first
func (r *SchemaRegistry) ListVersions() []*Metadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Metadata, 0, len(r.metadata))
	for _, m := range r.metadata {
		out = append(out, m.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return versionLess(out[j].Version, out[i].Version)
	})
	return out
}

// History returns versions in registration order
func (r *SchemaRegistry) History() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.history...)
}

// DeleteVersion removes a version that is neither active nor the last one
func (r *SchemaRegistry) DeleteVersion(ctx context.Context, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.initialized {
		return &Error{Op: "delete", Version: version, Err: ErrNotInitialized}
	}
	if _, ok := r.schemas[version]; !ok {
		return &Error{Op: "delete", Version: version, Err: ErrSchemaNotFound}
	}
	if version == r.active {
		return &Error{Op: "delete", Version: version, Err: ErrActiveVersion}
	}
	if len(r.schemas) == 1 {
		return &Error{Op: "delete", Version: version, Err: ErrLastVersion}
	}

	snap := r.snapshotLocked()
	r.removeLocked(version)
	if err := r.persistIndexLocked(ctx); err != nil {
		r.restoreLocked(snap)
		return &Error{Op: "delete", Version: version, Err: err}
	}
	if err := r.store.Delete(ctx, r.file(SchemaFileName(version))); err != nil && !errors.Is(err, storage.ErrNotExist) {
		r.logger.Warn("failed to remove schema file", "version", version, "error", err)
	}

	r.logger.Info("schema version deleted", "version", version)
	events.Emit(ctx, r.publisher, r.logger,
		events.New(events.SchemaDeleted, "registry").WithVersion(version))
	return nil
}

// Stats summarizes the registry
func (r *SchemaRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		Versions:      len(r.schemas),
		ActiveVersion: r.active,
		MaxVersions:   r.maxVersions,
	}
	if versions := sortedVersions(r.schemas); len(versions) > 0 {
		stats.LatestVersion = versions[len(versions)-1]
	}
	return stats
}

func (r *SchemaRegistry) setActiveLocked(version string) {
	for v, m := range r.metadata {
		m.IsActive = v == version
	}
	r.active = version
}

func (r *SchemaRegistry) removeLocked(version string) {
	delete(r.schemas, version)
	delete(r.metadata, version)
	for i, v := range r.history {
		if v == version {
			r.history = append(r.history[:i:i], r.history[i+1:]...)
			break
		}
	}
}

// evictLocked drops the oldest versions beyond maxVersions. The active
// version and keep are never evicted.
func (r *SchemaRegistry) evictLocked(keep string) []string {
	excess := len(r.schemas) - r.maxVersions
	if excess <= 0 {
		return nil
	}

	candidates := make([]*Metadata, 0, len(r.metadata))
	for v, m := range r.metadata {
		if v != r.active && v != keep {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return versionLess(candidates[i].Version, candidates[j].Version)
	})

	evicted := make([]string, 0, excess)
	for _, m := range candidates {
		if len(evicted) == excess {
			break
		}
		evicted = append(evicted, m.Version)
	}
	for _, v := range evicted {
		r.removeLocked(v)
	}
	return evicted
}

func (r *SchemaRegistry) persistIndexLocked(ctx context.Context) error {
	data, err := r.encodeIndexLocked()
	if err != nil {
		return err
	}
	if err := r.store.Write(ctx, r.file(IndexFile), data); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

func (r *SchemaRegistry) encodeIndexLocked() ([]byte, error) {
	idx := index{
		ActiveVersion:  r.active,
		VersionHistory: append(make([]string, 0, len(r.history)), r.history...),
		Metadata:       r.metadata,
		LastUpdated:    r.now().UTC(),
	}
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return data, nil
}

type snapshot struct {
	schemas  map[string]*schema.Definition
	metadata map[string]*Metadata
	history  []string
	active   string
}

func (r *SchemaRegistry) snapshotLocked() snapshot {
	s := snapshot{
		schemas:  make(map[string]*schema.Definition, len(r.schemas)),
		metadata: make(map[string]*Metadata, len(r.metadata)),
		history:  append([]string(nil), r.history...),
		active:   r.active,
	}
	for v, d := range r.schemas {
		s.schemas[v] = d
	}
	for v, m := range r.metadata {
		s.metadata[v] = m.clone()
	}
	return s
}

func (r *SchemaRegistry) restoreLocked(s snapshot) {
	r.schemas = s.schemas
	r.metadata = s.metadata
	r.history = s.history
	r.active = s.active
}

func sortedVersions(defs map[string]*schema.Definition) []string {
	versions := make([]string, 0, len(defs))
	for v := range defs {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versionLess(versions[i], versions[j]) })
	return versions
}

func versionLess(a, b string) bool {
	c, err := schema.CompareVersions(a, b)
	if err != nil {
		return a < b
	}
	return c < 0
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
