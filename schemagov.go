// Copyright 2024 Schemagov Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schemagov keeps a stored data model governed by a versioned
// schema: it adopts the newest compatible schema version, migrating the
// storage when needed, and validates payloads against the active version.
package schemagov

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimte/schemagov/database"
	"github.com/glimte/schemagov/events"
	"github.com/glimte/schemagov/migration"
	"github.com/glimte/schemagov/registry"
	"github.com/glimte/schemagov/schema"
	"github.com/glimte/schemagov/storage"
)

// DefaultCacheSize bounds the validation cache unless configured otherwise
const DefaultCacheSize = 1000

// Registry is the schema source the validator adopts versions from
type Registry interface {
	Initialize(ctx context.Context) error
	GetCurrentSchema() (*schema.Definition, error)
	GetLatestSchema() (*schema.Definition, error)
	GetSchema(version string) (*schema.Definition, error)
	GetDefaultSchema() (*schema.Definition, error)
	SetActiveVersion(ctx context.Context, version string) error
}

// Migrator moves the stored data model between versions
type Migrator interface {
	Initialize(ctx context.Context) error
	MigrateSchema(ctx context.Context, from, to string) (*migration.Result, error)
}

// MetricsRecorder receives validation measurements
type MetricsRecorder interface {
	ObserveValidation(valid bool, duration time.Duration)
	CacheHit()
	CacheMiss()
	SchemaAdopted(version string)
}

var (
	_ Registry = (*registry.SchemaRegistry)(nil)
	_ Migrator = (*migration.Manager)(nil)
)

// SchemaValidator validates payloads against the active schema version and
// keeps that version in step with the registry
type SchemaValidator struct {
	registry  Registry
	migrator  Migrator
	logger    *slog.Logger
	strict    bool
	metrics   MetricsRecorder
	publisher events.Publisher

	mu     sync.RWMutex
	active *schema.Definition
	cache  *resultCache
}

type config struct {
	logger    *slog.Logger
	strict    bool
	cacheSize int
	metrics   MetricsRecorder
	publisher events.Publisher
}

// Option configures the validator
type Option func(*config)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStrictMode rejects payload keys the schema does not declare
func WithStrictMode(strict bool) Option {
	return func(c *config) {
		c.strict = strict
	}
}

// WithCacheSize bounds the number of cached validation results
func WithCacheSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.cacheSize = size
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m MetricsRecorder) Option {
	return func(c *config) {
		c.metrics = m
	}
}

// WithPublisher sets the lifecycle event publisher
func WithPublisher(p events.Publisher) Option {
	return func(c *config) {
		if p != nil {
			c.publisher = p
		}
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{
		logger:    slog.Default(),
		cacheSize: DefaultCacheSize,
		publisher: events.NopPublisher{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// New creates a validator over reg and mig. Call Initialize before use.
func New(reg Registry, mig Migrator, opts ...Option) *SchemaValidator {
	cfg := newConfig(opts)
	return &SchemaValidator{
		registry:  reg,
		migrator:  mig,
		logger:    cfg.logger,
		strict:    cfg.strict,
		metrics:   cfg.metrics,
		publisher: cfg.publisher,
		cache:     newResultCache(cfg.cacheSize),
	}
}

// InMemory is a validator whose registry and migration history live in
// memory and whose migration steps are only recorded
type InMemory struct {
	*SchemaValidator
	SchemaRegistry *registry.SchemaRegistry
	Manager        *migration.Manager
	Executor       *database.SimulatedExecutor
}

// NewInMemory creates the lightweight in-memory variant
func NewInMemory(opts ...Option) *InMemory {
	cfg := newConfig(opts)
	reg := registry.New(storage.NewMemoryStore(),
		registry.WithLogger(cfg.logger),
		registry.WithPublisher(cfg.publisher))
	exec := database.NewSimulatedExecutor(cfg.logger)
	mig := migration.NewManager(storage.NewMemoryStore(), exec,
		migration.WithLogger(cfg.logger),
		migration.WithPublisher(cfg.publisher))
	return &InMemory{
		SchemaValidator: New(reg, mig, opts...),
		SchemaRegistry:  reg,
		Manager:         mig,
		Executor:        exec,
	}
}

// Initialize initializes the registry and the migrator, then adopts a schema
func (v *SchemaValidator) Initialize(ctx context.Context) error {
	if err := v.registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	if err := v.migrator.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize migrations: %w", err)
	}
	if _, err := v.ValidateOrCreateSchema(ctx); err != nil {
		return err
	}
	v.logger.Info("schema validator initialized", "version", v.CurrentVersion(), "strict", v.strict)
	return nil
}

// ValidateOrCreateSchema adopts the registry's latest schema if it can
// replace the active one, migrating the stored data model when required.
// It returns nil when the active schema already is the latest.
func (v *SchemaValidator) ValidateOrCreateSchema(ctx context.Context) (*schema.CompatibilityResult, error) {
	current, err := v.registry.GetCurrentSchema()
	if errors.Is(err, registry.ErrSchemaNotFound) {
		return nil, v.adoptDefault(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load current schema: %w", err)
	}

	latest, err := v.registry.GetLatestSchema()
	if err != nil {
		return nil, fmt.Errorf("load latest schema: %w", err)
	}

	if latest.Version == current.Version {
		v.adopt(ctx, current)
		return nil, nil
	}

	result := schema.CheckCompatibility(current, latest)
	if !result.Compatible && !result.MajorChange() {
		v.logger.Error("latest schema is incompatible",
			"current", current.Version,
			"target", latest.Version,
			"breaking_changes", result.BreakingChanges)
		return result, &SchemaCompatibilityError{
			CurrentVersion:  current.Version,
			TargetVersion:   latest.Version,
			BreakingChanges: result.BreakingChanges,
		}
	}

	if result.MigrationRequired {
		v.logger.Info("schema migration required",
			"current", current.Version,
			"target", latest.Version,
			"breaking_changes", len(result.BreakingChanges),
			"warnings", len(result.Warnings))
		if _, err := v.migrator.MigrateSchema(ctx, current.Version, latest.Version); err != nil {
			return result, err
		}
	}

	if err := v.registry.SetActiveVersion(ctx, latest.Version); err != nil {
		return result, fmt.Errorf("activate schema %s: %w", latest.Version, err)
	}
	v.adopt(ctx, latest)
	return result, nil
}

// adoptDefault enforces the default schema when the registry has no active one
func (v *SchemaValidator) adoptDefault(ctx context.Context) error {
	def, err := v.registry.GetDefaultSchema()
	if err != nil {
		return fmt.Errorf("load default schema: %w", err)
	}
	v.logger.Warn("no active schema, adopting default", "version", def.Version)
	if err := v.registry.SetActiveVersion(ctx, def.Version); err != nil {
		v.logger.Warn("failed to record default schema as active",
			"version", def.Version,
			"error", err)
	}
	v.adopt(ctx, def)
	return nil
}

// adopt makes def the enforced schema and drops every cached result
func (v *SchemaValidator) adopt(ctx context.Context, def *schema.Definition) {
	v.mu.Lock()
	previous := ""
	if v.active != nil {
		previous = v.active.Version
	}
	v.active = def
	v.cache.clear()
	v.mu.Unlock()

	if v.metrics != nil {
		v.metrics.SchemaAdopted(def.Version)
	}
	v.logger.Info("schema adopted", "version", def.Version, "previous", previous)
	events.Emit(ctx, v.publisher, v.logger,
		events.New(events.SchemaActivated, "validator").WithVersion(def.Version).With("previous", previous))
}

// ValidateData validates payload against the active schema. payload may be
// a map, a JSON object as []byte or json.RawMessage, or any value that
// encodes to a JSON object.
func (v *SchemaValidator) ValidateData(ctx context.Context, payload any) (*schema.ValidationResult, error) {
	start := time.Now()

	v.mu.RLock()
	active := v.active
	v.mu.RUnlock()
	if active == nil {
		return nil, &SchemaValidationError{Op: "validate", Err: ErrNoActiveSchema}
	}

	data, err := toMapping(payload)
	if err != nil {
		return nil, &SchemaValidationError{Op: "decode payload", Err: err}
	}
	digest, err := payloadDigest(data)
	if err != nil {
		return nil, &SchemaValidationError{Op: "digest payload", Err: err}
	}

	v.mu.RLock()
	cached, ok := v.cache.get(digest, time.Since(start))
	v.mu.RUnlock()
	if ok {
		v.record(true, cached.Duration, true)
		return cached, nil
	}

	result := schema.ValidatePayload(active, data, v.strict)
	if result.Valid {
		v.mu.Lock()
		if v.active == active {
			v.cache.put(digest, result)
		}
		v.mu.Unlock()
	}
	v.record(result.Valid, result.Duration, false)

	if !result.Valid {
		v.logger.Debug("payload failed validation",
			"version", active.Version,
			"errors", len(result.Errors))
	}
	return result, nil
}

func (v *SchemaValidator) record(valid bool, duration time.Duration, hit bool) {
	if v.metrics == nil {
		return
	}
	if hit {
		v.metrics.CacheHit()
	} else {
		v.metrics.CacheMiss()
	}
	v.metrics.ObserveValidation(valid, duration)
}

// toMapping turns payload into the generic JSON object form. Maps are
// re-decoded too so typed values like []string validate as arrays.
func toMapping(payload any) (map[string]interface{}, error) {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return nil, ErrPayloadNotMapping
	case json.RawMessage:
		raw = p
	case []byte:
		raw = p
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrPayloadNotEncodable, err)
		}
		raw = b
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPayloadNotMapping, err)
	}
	m, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, ErrPayloadNotMapping
	}
	return m, nil
}

// payloadDigest hashes the canonical JSON form; encoding/json sorts map keys
func payloadDigest(data map[string]interface{}) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrPayloadNotEncodable, err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// CurrentVersion returns the version of the active schema, or ""
func (v *SchemaValidator) CurrentVersion() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.active == nil {
		return ""
	}
	return v.active.Version
}

// ActiveSchema returns a copy of the active schema, or nil
func (v *SchemaValidator) ActiveSchema() *schema.Definition {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.active == nil {
		return nil
	}
	return v.active.Clone()
}

// ActiveVersion implements health.SchemaSource
func (v *SchemaValidator) ActiveVersion() string {
	return v.CurrentVersion()
}

// CacheLen returns the number of cached results
func (v *SchemaValidator) CacheLen() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.cache.len()
}

// ClearCache drops every cached result
func (v *SchemaValidator) ClearCache() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache.clear()
}
