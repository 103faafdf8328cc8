package health

import (
	"context"
	"fmt"
	"time"
)

// SchemaSource reports the active schema version
type SchemaSource interface {
	ActiveVersion() string
}

// MigrationSource reports migration state
type MigrationSource interface {
	Emergency() error
	IsMigrating() bool
	ActiveMigration() string
	CurrentVersion() string
}

// Pinger is anything that can confirm its backend is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// BrokerConnection reports the state of a message broker connection
type BrokerConnection interface {
	IsConnected() bool
}

// SchemaChecker is unhealthy while no schema version is active
type SchemaChecker struct {
	source SchemaSource
}

// NewSchemaChecker creates a checker over source
func NewSchemaChecker(source SchemaSource) *SchemaChecker {
	return &SchemaChecker{source: source}
}

func (c *SchemaChecker) Name() string {
	return "schema"
}

func (c *SchemaChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: make(map[string]interface{})}

	version := c.source.ActiveVersion()
	result.Details["active_version"] = version
	if version == "" {
		result.Status = StatusUnhealthy
		result.Message = "no active schema"
	} else {
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("schema %s active", version)
	}
	result.Duration = time.Since(start)
	return result
}

// MigrationChecker is unhealthy while a failed rollback awaits manual
// intervention and degraded while a migration is running
type MigrationChecker struct {
	source MigrationSource
}

// NewMigrationChecker creates a checker over source
func NewMigrationChecker(source MigrationSource) *MigrationChecker {
	return &MigrationChecker{source: source}
}

func (c *MigrationChecker) Name() string {
	return "migration"
}

func (c *MigrationChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: make(map[string]interface{})}
	result.Details["current_version"] = c.source.CurrentVersion()

	switch err := c.source.Emergency(); {
	case err != nil:
		result.Status = StatusUnhealthy
		result.Message = "rollback failed, manual intervention required"
		result.Error = err.Error()
	case c.source.IsMigrating():
		result.Status = StatusDegraded
		result.Message = "migration in progress"
		result.Details["migration_id"] = c.source.ActiveMigration()
	default:
		result.Status = StatusHealthy
		result.Message = "no migration in progress"
	}
	result.Duration = time.Since(start)
	return result
}

// PingChecker is unhealthy when its backend does not answer a ping
type PingChecker struct {
	name   string
	target Pinger
}

// NewPingChecker creates a checker named name over target
func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{name: name, target: target}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: make(map[string]interface{})}

	if err := c.target.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "ping failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "reachable"
	}
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// BrokerChecker reports a dropped broker connection as degraded, since
// event delivery is best effort
type BrokerChecker struct {
	conn BrokerConnection
}

// NewBrokerChecker creates a checker over conn
func NewBrokerChecker(conn BrokerConnection) *BrokerChecker {
	return &BrokerChecker{conn: conn}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: c.Name(), Timestamp: start, Details: make(map[string]interface{})}

	connected := c.conn.IsConnected()
	result.Details["connection_open"] = connected
	if connected {
		result.Status = StatusHealthy
		result.Message = "connection is healthy"
	} else {
		result.Status = StatusDegraded
		result.Message = "connection is closed"
	}
	result.Duration = time.Since(start)
	return result
}
