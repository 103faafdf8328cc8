package registry

import (
	"fmt"
	"strings"
	"time"
)

// File names inside the registry directory
const (
	IndexFile    = "registry_index.json"
	schemaPrefix = "schema_"
	schemaSuffix = ".json"
)

// Metadata is the per-version bookkeeping kept in the index
type Metadata struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Hash        string    `json:"hash"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	IsActive    bool      `json:"is_active"`
}

func (m *Metadata) clone() *Metadata {
	c := *m
	c.Tags = append([]string(nil), m.Tags...)
	return &c
}

// RegisterOptions carries optional registration metadata
type RegisterOptions struct {
	Description string
	Tags        []string
	CreatedBy   string
	Activate    bool
}

// Stats summarizes the registry
type Stats struct {
	Versions      int    `json:"versions"`
	ActiveVersion string `json:"active_version"`
	LatestVersion string `json:"latest_version"`
	MaxVersions   int    `json:"max_versions"`
}

// index is the persisted form of registry_index.json
type index struct {
	ActiveVersion  string               `json:"active_version"`
	VersionHistory []string             `json:"version_history"`
	Metadata       map[string]*Metadata `json:"metadata"`
	LastUpdated    time.Time            `json:"last_updated"`
}

// SchemaFileName returns the file name a version is persisted under
func SchemaFileName(version string) string {
	return fmt.Sprintf("%s%s%s", schemaPrefix, version, schemaSuffix)
}

// versionFromFileName extracts the version from a schema file name
func versionFromFileName(name string) (string, bool) {
	if !strings.HasPrefix(name, schemaPrefix) || !strings.HasSuffix(name, schemaSuffix) {
		return "", false
	}
	v := strings.TrimSuffix(strings.TrimPrefix(name, schemaPrefix), schemaSuffix)
	return v, v != ""
}
