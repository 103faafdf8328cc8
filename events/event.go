// Package events defines the lifecycle events emitted by the registry, the
// migration manager and the validator, and the Publisher seam they go through.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type names an event
type Type string

const (
	SchemaRegistered    Type = "schema.registered"
	SchemaActivated     Type = "schema.activated"
	SchemaDeleted       Type = "schema.deleted"
	MigrationStarted    Type = "migration.started"
	MigrationCompleted  Type = "migration.completed"
	MigrationFailed     Type = "migration.failed"
	MigrationRolledBack Type = "migration.rolled_back"
	MigrationEmergency  Type = "migration.emergency"
)

// Event is a single lifecycle notification
type Event struct {
	ID          string                 `json:"id"`
	Type        Type                   `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	Source      string                 `json:"source"`
	Version     string                 `json:"version,omitempty"`
	MigrationID string                 `json:"migrationId,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// New creates an event with a generated id and the current time
func New(t Type, source string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// WithVersion sets the schema version the event concerns
func (e *Event) WithVersion(version string) *Event {
	e.Version = version
	return e
}

// WithMigration sets the migration id the event concerns
func (e *Event) WithMigration(id string) *Event {
	e.MigrationID = id
	return e
}

// With adds a data attribute
func (e *Event) With(key string, value interface{}) *Event {
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[key] = value
	return e
}

// RoutingKey returns the key the event is published under
func (e *Event) RoutingKey() string {
	return "schemagov." + string(e.Type)
}
