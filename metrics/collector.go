// Package metrics exposes schema governance measurements to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "schemagov"

// Config holds configuration for the Collector
type Config struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Subsystem string `yaml:"subsystem" json:"subsystem"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{Namespace: DefaultNamespace}
}

// Collector records validation, cache, adoption and migration metrics
// into its own Prometheus registry
type Collector struct {
	registry *prometheus.Registry

	Validations        *prometheus.CounterVec
	ValidationDuration prometheus.Histogram
	CacheLookups       *prometheus.CounterVec
	Adoptions          prometheus.Counter
	ActiveSchema       *prometheus.GaugeVec
	Migrations         *prometheus.CounterVec
	MigrationDuration  *prometheus.HistogramVec
	MigrationSteps     *prometheus.CounterVec
	Emergency          prometheus.Gauge
}

// NewCollector creates a collector with the default configuration
func NewCollector() *Collector {
	return NewCollectorWithConfig(DefaultConfig())
}

// NewCollectorWithConfig creates a collector with its own registry
func NewCollectorWithConfig(cfg Config) *Collector {
	ns, sub := cfg.Namespace, cfg.Subsystem
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		Validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "validations_total",
			Help:      "Total number of payload validations",
		}, []string{"result"}),
		ValidationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "validation_duration_seconds",
			Help:      "Duration of payload validations in seconds",
			Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "validation_cache_lookups_total",
			Help:      "Validation cache lookups by outcome",
		}, []string{"outcome"}),
		Adoptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "schema_adoptions_total",
			Help:      "Number of times a schema version became active",
		}),
		ActiveSchema: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_schema_info",
			Help:      "Currently active schema version, value is always 1",
		}, []string{"version"}),
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "migrations_total",
			Help:      "Total number of migrations and rollbacks by outcome",
		}, []string{"outcome"}),
		MigrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "migration_duration_seconds",
			Help:      "Duration of migrations in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		MigrationSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "migration_steps_total",
			Help:      "Migration steps by category and outcome",
		}, []string{"category", "outcome"}),
		Emergency: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "migration_emergency",
			Help:      "1 while a failed rollback awaits manual intervention",
		}),
	}

	reg.MustRegister(
		c.Validations,
		c.ValidationDuration,
		c.CacheLookups,
		c.Adoptions,
		c.ActiveSchema,
		c.Migrations,
		c.MigrationDuration,
		c.MigrationSteps,
		c.Emergency,
	)
	return c
}

// Registry returns the underlying Prometheus registry
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveValidation records one validation outcome
func (c *Collector) ObserveValidation(valid bool, duration time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	c.Validations.WithLabelValues(result).Inc()
	c.ValidationDuration.Observe(duration.Seconds())
}

// CacheHit records a validation served from cache
func (c *Collector) CacheHit() {
	c.CacheLookups.WithLabelValues("hit").Inc()
}

// CacheMiss records a validation that had to run
func (c *Collector) CacheMiss() {
	c.CacheLookups.WithLabelValues("miss").Inc()
}

// SchemaAdopted records that version became the active schema
func (c *Collector) SchemaAdopted(version string) {
	c.Adoptions.Inc()
	c.ActiveSchema.Reset()
	c.ActiveSchema.WithLabelValues(version).Set(1)
}

// ObserveMigration records a finished migration or rollback
func (c *Collector) ObserveMigration(outcome string, duration time.Duration) {
	c.Migrations.WithLabelValues(outcome).Inc()
	c.MigrationDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveStep records one executed or rolled back step
func (c *Collector) ObserveStep(category string, outcome string) {
	c.MigrationSteps.WithLabelValues(category, outcome).Inc()
}

// SetEmergency raises or clears the emergency gauge
func (c *Collector) SetEmergency(active bool) {
	if active {
		c.Emergency.Set(1)
		return
	}
	c.Emergency.Set(0)
}
