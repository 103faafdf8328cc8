package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/glimte/schemagov"
	"github.com/glimte/schemagov/database"
	"github.com/glimte/schemagov/events"
	"github.com/glimte/schemagov/health"
	"github.com/glimte/schemagov/internal/config"
	"github.com/glimte/schemagov/internal/rabbitmq"
	"github.com/glimte/schemagov/internal/reliability"
	"github.com/glimte/schemagov/metrics"
	"github.com/glimte/schemagov/migration"
	"github.com/glimte/schemagov/registry"
	"github.com/glimte/schemagov/schema"
	"github.com/glimte/schemagov/storage"
	amqptransport "github.com/glimte/schemagov/transports/rabbitmq"
	"gopkg.in/yaml.v3"
)

// app holds every component built from one configuration
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.FileStore
	exec      database.Executor
	publisher events.Publisher
	broker    *amqptransport.EventPublisher
	metrics   *metrics.Collector
	registry  *registry.SchemaRegistry
	manager   *migration.Manager
	validator *schemagov.SchemaValidator
	closers   []io.Closer
}

// newApp wires the components described by cfg. Nothing is initialized.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store

	exec, err := a.openExecutor(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.exec = exec

	a.publisher = a.openPublisher(ctx)
	a.metrics = metrics.NewCollectorWithConfig(metrics.Config{Namespace: cfg.Metrics.Namespace})

	a.registry = registry.New(store,
		registry.WithLogger(logger),
		registry.WithDir(cfg.Registry.Path),
		registry.WithMaxVersions(cfg.Registry.MaxVersions),
		registry.WithCreator(cfg.Registry.Creator),
		registry.WithPublisher(a.publisher))

	migOpts := []migration.Option{
		migration.WithLogger(logger),
		migration.WithJournalDir(cfg.Migrations.Path),
		migration.WithPublisher(a.publisher),
		migration.WithMetrics(a.metrics),
	}
	if cfg.Migrations.BackupBeforeMigrate {
		migOpts = append(migOpts, migration.WithBackupFunc(a.backupRegistry))
	}
	a.manager = migration.NewManager(store, exec, migOpts...)

	a.validator = schemagov.New(a.registry, a.manager,
		schemagov.WithLogger(logger),
		schemagov.WithStrictMode(cfg.Validation.Strict),
		schemagov.WithCacheSize(cfg.Validation.CacheSize),
		schemagov.WithMetrics(a.metrics),
		schemagov.WithPublisher(a.publisher))
	return a, nil
}

func (a *app) openStore(ctx context.Context) (storage.FileStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(), nil
	case config.BackendRedis:
		rc := a.cfg.Storage.Redis
		store, err := storage.NewRedisStore(ctx, storage.RedisConfig{
			Address:  rc.Address,
			Password: rc.Password,
			DB:       rc.DB,
			Prefix:   rc.Prefix,
		}, storage.WithRedisLogger(a.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to open redis storage: %w", err)
		}
		a.closers = append(a.closers, store)
		return store, nil
	default:
		return storage.NewLocalStore(a.cfg.Storage.Root, storage.WithLocalLogger(a.logger)), nil
	}
}

func (a *app) openExecutor(ctx context.Context) (database.Executor, error) {
	if a.cfg.Database.Driver == config.DriverNone {
		a.logger.Warn("no database configured, migration steps are simulated")
		return database.NewSimulatedExecutor(a.logger), nil
	}
	if a.cfg.Database.Driver == config.DriverSQLite {
		if dir := filepath.Dir(a.cfg.Database.DSN); dir != "." && !strings.HasPrefix(a.cfg.Database.DSN, ":memory:") {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}
	exec, err := database.Open(ctx, a.cfg.Database.Driver, a.cfg.Database.DSN, database.WithLogger(a.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, exec)
	return exec, nil
}

// openPublisher connects to the broker when configured. An unreachable
// broker downgrades to a no-op publisher.
func (a *app) openPublisher(ctx context.Context) events.Publisher {
	if a.cfg.Events.URL == "" {
		return events.NopPublisher{}
	}
	pub, err := amqptransport.NewEventPublisher(ctx, a.cfg.Events.URL,
		amqptransport.WithExchange(a.cfg.Events.Exchange),
		amqptransport.WithLogger(a.logger),
		amqptransport.WithConnectionOptions(rabbitmq.WithDialTimeout(a.cfg.Events.Timeout)),
		amqptransport.WithPublisherOptions(rabbitmq.WithPublishTimeout(a.cfg.Events.Timeout)))
	if err != nil {
		a.logger.Warn("event broker unavailable, events disabled",
			"url", rabbitmq.SanitizeURL(a.cfg.Events.URL),
			"error", err)
		return events.NopPublisher{}
	}
	a.broker = pub
	a.closers = append(a.closers, pub)
	return reliability.NewGuardedPublisher(pub, reliability.WithLogger(a.logger))
}

func (a *app) backupRegistry(ctx context.Context, plan *migration.Plan) error {
	dest := path.Join(registry.BackupDir, "pre_"+plan.ID)
	_, err := a.registry.BackupRegistry(ctx, dest)
	return err
}

// initialize loads the registry and the migration journal and adopts the
// latest compatible schema
func (a *app) initialize(ctx context.Context) error {
	return a.validator.Initialize(ctx)
}

// initializeStores loads the registry and the journal without adopting a schema
func (a *app) initializeStores(ctx context.Context) error {
	if err := a.registry.Initialize(ctx); err != nil {
		return err
	}
	return a.manager.Initialize(ctx)
}

// healthRegistry assembles the checks for every configured dependency
func (a *app) healthRegistry() *health.Registry {
	reg := health.NewRegistry(
		health.NewSchemaChecker(a.validator),
		health.NewMigrationChecker(a.manager),
	)
	if p, ok := a.store.(health.Pinger); ok {
		reg.Register(health.NewPingChecker("storage", p))
	}
	if p, ok := a.exec.(health.Pinger); ok {
		reg.Register(health.NewPingChecker("database", p))
	}
	if a.broker != nil {
		reg.Register(health.NewBrokerChecker(a.broker))
	}
	return reg
}

// Close releases every opened connection
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadDefinition reads a schema definition from a JSON or YAML file
func loadDefinition(file string) (*schema.Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	var def *schema.Definition
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		def = &schema.Definition{}
		if err := yaml.Unmarshal(data, def); err != nil {
			return nil, fmt.Errorf("%w: %v", schema.ErrInvalidDefinition, err)
		}
	default:
		if def, err = schema.UnmarshalDefinition(data); err != nil {
			return nil, err
		}
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
