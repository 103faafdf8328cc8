package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/glimte/schemagov/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerSchema = `version: 1.1.0
name: component_store
fields:
  - name: id
    field_type: string
    required: true
    constraints: {min_length: 1, max_length: 128}
  - name: name
    field_type: string
    required: true
    constraints: {min_length: 1, max_length: 255}
  - name: component_type
    field_type: string
    required: true
    constraints: {pattern: "^[a-z][a-z0-9_]*$"}
  - name: content
    field_type: object
    required: true
  - name: version
    field_type: integer
    default: 1
    constraints: {min_value: 1}
  - name: tags
    field_type: array
    default: []
  - name: created_at
    field_type: string
  - name: owner
    field_type: string
    default: platform
indexes: [id, name, component_type]
constraints: ["UNIQUE(id)"]
`

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Storage.Root = filepath.Join(dir, "store")
	cfg.Database.DSN = filepath.Join(dir, "data.db")
	cfg.Log.Level = "error"

	path := filepath.Join(dir, "schemagov.yaml")
	require.NoError(t, cfg.SaveToFile(path))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func execute(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestSchemactl(t *testing.T) {
	t.Run("fresh registry lists the default schema as active", func(t *testing.T) {
		cfg := writeConfig(t)

		out, err := execute(t, cfg, "list")
		require.NoError(t, err)
		assert.Contains(t, out, "1.0.0")
		assert.Contains(t, out, "component_store")
	})

	t.Run("register and sync migrates to the new version", func(t *testing.T) {
		cfg := writeConfig(t)
		schemaFile := writeFile(t, "owner.yaml", ownerSchema)

		out, err := execute(t, cfg, "register", schemaFile, "--tag", "owner")
		require.NoError(t, err)
		assert.Contains(t, out, "Registered component_store version 1.1.0")

		out, err = execute(t, cfg, "check", "1.0.0", "1.1.0")
		require.NoError(t, err)
		assert.Contains(t, out, "Compatible: true")
		assert.Contains(t, out, "field added: owner")

		out, err = execute(t, cfg, "sync")
		require.NoError(t, err)
		assert.Contains(t, out, "Adopted schema 1.1.0 (was 1.0.0)")

		out, err = execute(t, cfg, "history")
		require.NoError(t, err)
		assert.Contains(t, out, "success")

		out, err = execute(t, cfg, "stats")
		require.NoError(t, err)
		assert.Contains(t, out, "Active: 1.1.0")
		assert.Contains(t, out, "Data Model Version: 1.1.0")

		out, err = execute(t, cfg, "sync")
		require.NoError(t, err)
		assert.Contains(t, out, "Schema 1.1.0 is up to date")
	})

	t.Run("validate reports defaults and errors", func(t *testing.T) {
		cfg := writeConfig(t)

		valid := writeFile(t, "valid.json", `{"id":"c1","name":"Button","component_type":"button","content":{}}`)
		out, err := execute(t, cfg, "validate", valid)
		require.NoError(t, err)
		assert.Contains(t, out, "Payload is valid against schema 1.0.0")

		invalid := writeFile(t, "invalid.json", `{"id":"c1","component_type":"Button","content":{}}`)
		out, err = execute(t, cfg, "validate", invalid)
		assert.Error(t, err)
		assert.Contains(t, out, "REQUIRED_FIELD_MISSING")
		assert.Contains(t, out, "PATTERN_VIOLATION")
	})

	t.Run("migrate dry run prints the plan without executing it", func(t *testing.T) {
		cfg := writeConfig(t)

		out, err := execute(t, cfg, "migrate", "1.0.0", "2.0.0", "--dry-run")
		require.NoError(t, err)
		assert.Contains(t, out, "Plan 1.0.0 -> 2.0.0")

		out, err = execute(t, cfg, "history")
		require.NoError(t, err)
		assert.Contains(t, out, "No migrations recorded")
	})

	t.Run("show prints a JSON Schema document", func(t *testing.T) {
		cfg := writeConfig(t)

		out, err := execute(t, cfg, "show", "--json-schema")
		require.NoError(t, err)
		assert.Contains(t, out, `"required"`)
		assert.Contains(t, out, `"component_type"`)
	})

	t.Run("health is healthy after initialization", func(t *testing.T) {
		cfg := writeConfig(t)

		out, err := execute(t, cfg, "health")
		require.NoError(t, err)
		assert.Contains(t, out, "System Health: healthy")
		assert.Contains(t, out, "database")
	})

	t.Run("invalid configuration is rejected", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "storage:\n  backend: tape\n")

		_, err := execute(t, path, "list")
		assert.ErrorContains(t, err, "storage.backend")
	})
}

func TestLoadDefinition(t *testing.T) {
	t.Run("YAML and JSON definitions are accepted", func(t *testing.T) {
		def, err := loadDefinition(writeFile(t, "s.yaml", ownerSchema))
		require.NoError(t, err)
		assert.Equal(t, "1.1.0", def.Version)
		assert.Len(t, def.Fields, 8)

		def, err = loadDefinition(writeFile(t, "s.json",
			`{"version":"1.0.0","name":"n","fields":[{"name":"id","field_type":"string","required":true}]}`))
		require.NoError(t, err)
		assert.Equal(t, "n", def.Name)
	})

	t.Run("definitions failing validation are rejected", func(t *testing.T) {
		_, err := loadDefinition(writeFile(t, "s.json", `{"version":"1.0.0","fields":[]}`))
		assert.Error(t, err)
	})
}
