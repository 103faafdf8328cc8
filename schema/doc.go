// Package schema describes the stored data model and checks payloads against it.
//
// A Definition is an immutable, versioned list of typed fields plus index
// names and table constraint expressions. Definitions carry a content hash
// that depends only on name, fields, indexes and constraints, so the same
// model registered twice under different versions hashes equal.
//
// The package provides three pure operations used by the registry, the
// migration manager and the validator façade:
//
//   - ParseVersion / Version.Compare for MAJOR.MINOR.PATCH ordering
//   - CheckCompatibility, which classifies every difference between two
//     definitions as breaking or as requiring a migration
//   - ValidatePayload, which checks a decoded payload field by field and
//     fills declared defaults
//
// Basic usage:
//
//	def := schema.DefaultDefinition()
//	result := schema.ValidatePayload(def, payload, false)
//	if !result.Valid {
//	    for _, e := range result.Errors {
//	        log.Printf("%s: %s", e.Field, e.Message)
//	    }
//	}
//
// Invalid payload content is reported through ValidationResult and is never
// returned as a Go error.
package schema
