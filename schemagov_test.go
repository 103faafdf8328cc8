package schemagov

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/glimte/schemagov/events"
	"github.com/glimte/schemagov/metrics"
	"github.com/glimte/schemagov/migration"
	"github.com/glimte/schemagov/registry"
	"github.com/glimte/schemagov/schema"
	"github.com/glimte/schemagov/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMigrator struct {
	mock.Mock
}

func (m *mockMigrator) Initialize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockMigrator) MigrateSchema(ctx context.Context, from, to string) (*migration.Result, error) {
	args := m.Called(ctx, from, to)
	result, _ := args.Get(0).(*migration.Result)
	return result, args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validComponent() map[string]interface{} {
	return map[string]interface{}{
		"id":             "c1",
		"name":           "Component",
		"component_type": "button",
		"content":        map[string]interface{}{"label": "ok"},
	}
}

// withField returns the default definition with fn applied to the named field
func withField(name string, fn func(*schema.Field)) *schema.Definition {
	def := schema.DefaultDefinition()
	for i := range def.Fields {
		if def.Fields[i].Name == name {
			fn(&def.Fields[i])
		}
	}
	return def
}

func newInMemory(t *testing.T, opts ...Option) *InMemory {
	t.Helper()
	v := NewInMemory(append([]Option{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, v.Initialize(context.Background()))
	return v
}

// emptyRegistry stores nothing and only serves the default schema
type emptyRegistry struct {
	activated []string
}

func (r *emptyRegistry) Initialize(context.Context) error { return nil }

func (r *emptyRegistry) GetCurrentSchema() (*schema.Definition, error) {
	return nil, registry.ErrSchemaNotFound
}

func (r *emptyRegistry) GetLatestSchema() (*schema.Definition, error) {
	return nil, registry.ErrSchemaNotFound
}

func (r *emptyRegistry) GetSchema(string) (*schema.Definition, error) {
	return nil, registry.ErrSchemaNotFound
}

func (r *emptyRegistry) GetDefaultSchema() (*schema.Definition, error) {
	return schema.DefaultDefinition(), nil
}

func (r *emptyRegistry) SetActiveVersion(_ context.Context, version string) error {
	r.activated = append(r.activated, version)
	return registry.ErrSchemaNotFound
}

func register(t *testing.T, reg *registry.SchemaRegistry, def *schema.Definition, version string) {
	t.Helper()
	_, err := reg.RegisterSchema(context.Background(), def, version, nil)
	require.NoError(t, err)
}

func TestSchemaValidator_Initialize(t *testing.T) {
	t.Run("fresh in-memory validator adopts the default schema", func(t *testing.T) {
		v := newInMemory(t)

		assert.Equal(t, schema.DefaultVersion, v.CurrentVersion())
		assert.Equal(t, schema.DefaultVersion, v.ActiveVersion())
		require.NotNil(t, v.ActiveSchema())
		assert.Equal(t, "component_store", v.ActiveSchema().Name)
	})

	t.Run("registry failure is reported", func(t *testing.T) {
		store := storage.NewMemoryStore()
		require.NoError(t, store.Write(context.Background(), registry.IndexFile, []byte("{broken")))
		mig := &mockMigrator{}

		v := New(registry.New(store, registry.WithLogger(quietLogger())), mig, WithLogger(quietLogger()))
		err := v.Initialize(context.Background())
		assert.ErrorIs(t, err, registry.ErrCorruptIndex)
		mig.AssertNotCalled(t, "Initialize", mock.Anything)
	})

	t.Run("registry without schemas adopts the default", func(t *testing.T) {
		reg := &emptyRegistry{}
		mig := &mockMigrator{}
		mig.On("Initialize", mock.Anything).Return(nil)

		v := New(reg, mig, WithLogger(quietLogger()))
		require.NoError(t, v.Initialize(context.Background()))

		assert.Equal(t, schema.DefaultVersion, v.CurrentVersion())
		assert.Equal(t, []string{schema.DefaultVersion}, reg.activated)
		mig.AssertNotCalled(t, "MigrateSchema", mock.Anything, mock.Anything, mock.Anything)

		result, err := v.ValidateData(context.Background(), validComponent())
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})
}

func TestSchemaValidator_ValidateData(t *testing.T) {
	ctx := context.Background()

	t.Run("valid payload is filled with defaults", func(t *testing.T) {
		v := newInMemory(t)

		result, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)

		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)
		assert.Equal(t, 1, result.Data["version"])
		assert.Equal(t, []interface{}{}, result.Data["tags"])
		assert.Equal(t, schema.DefaultVersion, result.SchemaVersion)
	})

	t.Run("missing required field gives exactly one error naming it", func(t *testing.T) {
		v := newInMemory(t)
		payload := validComponent()
		delete(payload, "name")

		result, err := v.ValidateData(ctx, payload)
		require.NoError(t, err)

		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, "name", result.Errors[0].Field)
		assert.Equal(t, schema.CodeRequiredFieldMissing, result.Errors[0].Code)
	})

	t.Run("JSON bytes and structs are accepted", func(t *testing.T) {
		v := newInMemory(t)

		raw, err := json.Marshal(validComponent())
		require.NoError(t, err)

		result, err := v.ValidateData(ctx, json.RawMessage(raw))
		require.NoError(t, err)
		assert.True(t, result.Valid)

		type component struct {
			ID            string                 `json:"id"`
			Name          string                 `json:"name"`
			ComponentType string                 `json:"component_type"`
			Content       map[string]interface{} `json:"content"`
		}
		result, err = v.ValidateData(ctx, component{ID: "c2", Name: "B", ComponentType: "card", Content: map[string]interface{}{}})
		require.NoError(t, err)
		assert.True(t, result.Valid)
	})

	t.Run("strict mode reports unknown fields", func(t *testing.T) {
		v := newInMemory(t, WithStrictMode(true))
		payload := validComponent()
		payload["zeta"] = 1
		payload["alpha"] = 2

		result, err := v.ValidateData(ctx, payload)
		require.NoError(t, err)
		require.Len(t, result.Errors, 2)
		assert.Equal(t, "alpha", result.Errors[0].Field)
		assert.Equal(t, schema.CodeUnknownField, result.Errors[1].Code)
	})

	t.Run("malformed calls return SchemaValidationError", func(t *testing.T) {
		v := newInMemory(t)

		tests := []struct {
			name    string
			payload any
			want    error
		}{
			{"nil payload", nil, ErrPayloadNotMapping},
			{"JSON array", []byte(`[1, 2]`), ErrPayloadNotMapping},
			{"invalid JSON", []byte(`{"id":`), ErrPayloadNotMapping},
			{"scalar", 42, ErrPayloadNotMapping},
			{"unencodable value", struct{ C chan int }{make(chan int)}, ErrPayloadNotEncodable},
			{"unencodable map value", map[string]interface{}{"c": make(chan int)}, ErrPayloadNotEncodable},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := v.ValidateData(ctx, tt.payload)
				var valErr *SchemaValidationError
				require.ErrorAs(t, err, &valErr)
				assert.ErrorIs(t, err, tt.want)
			})
		}
	})

	t.Run("validation before a schema is adopted fails", func(t *testing.T) {
		v := NewInMemory(WithLogger(quietLogger()))

		_, err := v.ValidateData(ctx, validComponent())
		assert.ErrorIs(t, err, ErrNoActiveSchema)
	})
}

func TestSchemaValidator_Cache(t *testing.T) {
	ctx := context.Background()

	t.Run("identical payloads give identical results from cache", func(t *testing.T) {
		collector := metrics.NewCollector()
		v := newInMemory(t, WithMetrics(collector))

		first, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)
		second, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)

		assert.Equal(t, 1, v.CacheLen())
		assert.Equal(t, first.Valid, second.Valid)
		assert.Equal(t, first.Errors, second.Errors)
		assert.Equal(t, first.Data, second.Data)
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.CacheLookups.WithLabelValues("hit")))
		assert.Equal(t, 1.0, testutil.ToFloat64(collector.CacheLookups.WithLabelValues("miss")))
		assert.Equal(t, 2.0, testutil.ToFloat64(collector.Validations.WithLabelValues("valid")))
	})

	t.Run("cached results are copies", func(t *testing.T) {
		v := newInMemory(t)

		first, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)
		first.Data["name"] = "mutated"
		first.Warnings = append(first.Warnings, "mutated")

		second, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)
		assert.Equal(t, "Component", second.Data["name"])
		assert.NotContains(t, second.Warnings, "mutated")
	})

	t.Run("typed Go values validate the same as their JSON form", func(t *testing.T) {
		generic := validComponent()
		generic["tags"] = []interface{}{}
		typed := validComponent()
		typed["tags"] = []string{}
		typed["content"] = map[string]string{"label": "ok"}

		fresh := newInMemory(t)
		result, err := fresh.ValidateData(ctx, typed)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Empty(t, result.Errors)

		v := newInMemory(t)
		first, err := v.ValidateData(ctx, generic)
		require.NoError(t, err)
		second, err := v.ValidateData(ctx, typed)
		require.NoError(t, err)
		assert.True(t, first.Valid)
		assert.Equal(t, first.Valid, second.Valid)

		withValues := validComponent()
		withValues["tags"] = []string{"a", "b"}
		result, err = fresh.ValidateData(ctx, withValues)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, []interface{}{"a", "b"}, result.Data["tags"])
	})

	t.Run("invalid results are not cached", func(t *testing.T) {
		v := newInMemory(t)
		payload := validComponent()
		delete(payload, "id")

		_, err := v.ValidateData(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, 0, v.CacheLen())
	})

	t.Run("full cache drops its oldest fifth", func(t *testing.T) {
		v := newInMemory(t, WithCacheSize(10))

		for i := 0; i < 10; i++ {
			payload := validComponent()
			payload["id"] = fmt.Sprintf("c%d", i)
			_, err := v.ValidateData(ctx, payload)
			require.NoError(t, err)
		}
		assert.Equal(t, 10, v.CacheLen())

		payload := validComponent()
		payload["id"] = "c10"
		_, err := v.ValidateData(ctx, payload)
		require.NoError(t, err)
		assert.Equal(t, 9, v.CacheLen())
	})

	t.Run("ClearCache empties the cache", func(t *testing.T) {
		v := newInMemory(t)
		_, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)

		v.ClearCache()
		assert.Equal(t, 0, v.CacheLen())
	})

	t.Run("concurrent validations share the cache", func(t *testing.T) {
		v := newInMemory(t)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				payload := validComponent()
				payload["id"] = fmt.Sprintf("c%d", i%5)
				result, err := v.ValidateData(ctx, payload)
				assert.NoError(t, err)
				assert.True(t, result.Valid)
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 5, v.CacheLen())
	})
}

func TestSchemaValidator_ValidateOrCreateSchema(t *testing.T) {
	ctx := context.Background()

	t.Run("same version returns no compatibility result", func(t *testing.T) {
		v := newInMemory(t)

		result, err := v.ValidateOrCreateSchema(ctx)
		require.NoError(t, err)
		assert.Nil(t, result)
	})

	t.Run("added default is adopted without migration", func(t *testing.T) {
		v := newInMemory(t)
		payload := validComponent()
		delete(payload, "name")

		before, err := v.ValidateData(ctx, payload)
		require.NoError(t, err)
		assert.False(t, before.Valid)

		register(t, v.SchemaRegistry, withField("name", func(f *schema.Field) { f.Default = "unnamed" }), "1.0.1")
		result, err := v.ValidateOrCreateSchema(ctx)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.True(t, result.Compatible)
		assert.False(t, result.MigrationRequired)
		assert.Empty(t, v.Manager.History())

		after, err := v.ValidateData(ctx, payload)
		require.NoError(t, err)
		assert.True(t, after.Valid)
		assert.Equal(t, "unnamed", after.Data["name"])
		assert.NotEmpty(t, after.Warnings)
		assert.Equal(t, "1.0.1", after.SchemaVersion)
	})

	t.Run("adoption invalidates results cached as valid", func(t *testing.T) {
		pub := events.NewMemoryPublisher()
		v := newInMemory(t, WithPublisher(pub))

		first, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)
		require.True(t, first.Valid)
		require.Equal(t, 1, v.CacheLen())

		register(t, v.SchemaRegistry, withField("name", func(f *schema.Field) {
			f.Constraints = map[string]interface{}{schema.ConstraintMaxLength: 3}
		}), "1.0.1")
		_, err = v.ValidateOrCreateSchema(ctx)
		require.NoError(t, err)
		assert.Equal(t, 0, v.CacheLen())

		second, err := v.ValidateData(ctx, validComponent())
		require.NoError(t, err)
		assert.False(t, second.Valid)
		assert.Equal(t, schema.CodeMaxLengthViolation, second.Errors[0].Code)
		assert.Contains(t, pub.Types(), events.SchemaActivated)
	})

	t.Run("migration required runs the migrator and activates the target", func(t *testing.T) {
		v := newInMemory(t)

		def := schema.DefaultDefinition()
		def.Fields = append(def.Fields, schema.Field{Name: "owner", Type: schema.TypeString})
		register(t, v.SchemaRegistry, def, "1.1.0")

		result, err := v.ValidateOrCreateSchema(ctx)
		require.NoError(t, err)
		assert.True(t, result.MigrationRequired)

		assert.Equal(t, "1.1.0", v.CurrentVersion())
		assert.Equal(t, "1.1.0", v.SchemaRegistry.ActiveVersion())
		assert.Equal(t, "1.1.0", v.Manager.CurrentVersion())
		require.Len(t, v.Manager.History(), 1)
		assert.Equal(t, migration.StatusSuccess, v.Manager.History()[0].Status)

		again, err := v.ValidateOrCreateSchema(ctx)
		require.NoError(t, err)
		assert.Nil(t, again)
		assert.Len(t, v.Manager.History(), 1)
	})

	t.Run("breaking change without major bump is rejected", func(t *testing.T) {
		v := newInMemory(t)

		def := schema.DefaultDefinition()
		def.Fields = def.Fields[:len(def.Fields)-1]
		register(t, v.SchemaRegistry, def, "1.1.0")

		result, err := v.ValidateOrCreateSchema(ctx)
		var compatErr *SchemaCompatibilityError
		require.ErrorAs(t, err, &compatErr)
		assert.Equal(t, "1.1.0", compatErr.TargetVersion)
		assert.Contains(t, compatErr.BreakingChanges, "field removed: created_at")
		assert.False(t, result.Compatible)
		assert.Equal(t, schema.DefaultVersion, v.CurrentVersion())
	})

	t.Run("major bump with breaking changes migrates", func(t *testing.T) {
		reg := registry.New(storage.NewMemoryStore(), registry.WithLogger(quietLogger()))
		mig := &mockMigrator{}
		mig.On("Initialize", mock.Anything).Return(nil)
		mig.On("MigrateSchema", mock.Anything, "1.0.0", "2.0.0").
			Return(&migration.Result{Success: true}, nil).Once()

		v := New(reg, mig, WithLogger(quietLogger()))
		require.NoError(t, v.Initialize(ctx))

		register(t, reg, withField("version", func(f *schema.Field) { f.Type = schema.TypeString; f.Default = "1" }), "2.0.0")
		result, err := v.ValidateOrCreateSchema(ctx)
		require.NoError(t, err)
		assert.False(t, result.Compatible)
		assert.True(t, result.MigrationRequired)
		assert.Equal(t, "2.0.0", v.CurrentVersion())
		mig.AssertExpectations(t)
	})

	t.Run("failed migration keeps the current schema", func(t *testing.T) {
		reg := registry.New(storage.NewMemoryStore(), registry.WithLogger(quietLogger()))
		mig := &mockMigrator{}
		mig.On("Initialize", mock.Anything).Return(nil)
		migErr := &migration.MigrationError{Op: "migrate", Err: migration.ErrStepFailed}
		mig.On("MigrateSchema", mock.Anything, "1.0.0", "1.1.0").Return(nil, migErr)

		v := New(reg, mig, WithLogger(quietLogger()))
		require.NoError(t, v.Initialize(ctx))

		def := schema.DefaultDefinition()
		def.Indexes = append(def.Indexes, "created_at")
		register(t, reg, def, "1.1.0")

		_, err := v.ValidateOrCreateSchema(ctx)
		assert.ErrorIs(t, err, migration.ErrStepFailed)
		assert.Equal(t, schema.DefaultVersion, v.CurrentVersion())
		assert.Equal(t, schema.DefaultVersion, reg.ActiveVersion())
	})

	t.Run("migrator initialization failure is reported", func(t *testing.T) {
		mig := &mockMigrator{}
		mig.On("Initialize", mock.Anything).Return(errors.New("journal corrupt"))

		v := New(registry.New(storage.NewMemoryStore(), registry.WithLogger(quietLogger())), mig,
			WithLogger(quietLogger()))
		err := v.Initialize(ctx)
		assert.ErrorContains(t, err, "journal corrupt")
	})
}
