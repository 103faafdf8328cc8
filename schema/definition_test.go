package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDefinition() *Definition {
	return &Definition{
		Version: "1.0.0",
		Name:    "widgets",
		Fields: []Field{
			{Name: "id", Type: TypeString, Required: true},
			{Name: "count", Type: TypeInteger, Default: 0},
			{Name: "labels", Type: TypeArray},
		},
		Indexes:     []string{"id", "count"},
		Constraints: []string{"UNIQUE(id)", "CHECK(count >= 0)"},
	}
}

func TestDefinitionHash(t *testing.T) {
	t.Run("identical content hashes equal", func(t *testing.T) {
		assert.Equal(t, testDefinition().ComputeHash(), testDefinition().ComputeHash())
	})

	t.Run("hash ignores field index and constraint order", func(t *testing.T) {
		a := testDefinition()
		b := testDefinition()
		b.Fields[0], b.Fields[2] = b.Fields[2], b.Fields[0]
		b.Indexes = []string{"count", "id"}
		b.Constraints = []string{"CHECK(count >= 0)", "UNIQUE(id)"}

		assert.Equal(t, a.ComputeHash(), b.ComputeHash())
	})

	t.Run("hash ignores version metadata and creation time", func(t *testing.T) {
		a := testDefinition()
		b := testDefinition()
		b.Version = "9.9.9"
		b.Metadata = map[string]interface{}{"owner": "ops"}

		assert.Equal(t, a.ComputeHash(), b.ComputeHash())
	})

	t.Run("changing a field name type or required flag changes the hash", func(t *testing.T) {
		base := testDefinition().ComputeHash()

		renamed := testDefinition()
		renamed.Fields[1].Name = "total"
		renamed.Indexes = []string{"id", "total"}
		assert.NotEqual(t, base, renamed.ComputeHash())

		retyped := testDefinition()
		retyped.Fields[1].Type = TypeNumber
		assert.NotEqual(t, base, retyped.ComputeHash())

		required := testDefinition()
		required.Fields[1].Required = true
		assert.NotEqual(t, base, required.ComputeHash())
	})

	t.Run("changing indexes or constraints changes the hash", func(t *testing.T) {
		base := testDefinition().ComputeHash()

		idx := testDefinition()
		idx.Indexes = []string{"id"}
		assert.NotEqual(t, base, idx.ComputeHash())

		con := testDefinition()
		con.Constraints = nil
		assert.NotEqual(t, base, con.ComputeHash())
	})
}

func TestDefinitionValidate(t *testing.T) {
	t.Run("valid definition passes", func(t *testing.T) {
		assert.NoError(t, testDefinition().Validate())
		assert.NoError(t, DefaultDefinition().Validate())
	})

	t.Run("duplicate field names are rejected", func(t *testing.T) {
		def := testDefinition()
		def.Fields = append(def.Fields, Field{Name: "id", Type: TypeString})

		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})

	t.Run("unknown field types are rejected", func(t *testing.T) {
		def := testDefinition()
		def.Fields[0].Type = "uuid"

		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})

	t.Run("bad patterns are rejected", func(t *testing.T) {
		def := testDefinition()
		def.Fields[0].Constraints = map[string]interface{}{ConstraintPattern: "(["}

		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})

	t.Run("indexes must name declared fields", func(t *testing.T) {
		def := testDefinition()
		def.Indexes = append(def.Indexes, "missing")

		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		def := testDefinition()
		def.Name = ""

		assert.ErrorIs(t, def.Validate(), ErrInvalidDefinition)
	})
}

func TestDefinitionCloneAndEncoding(t *testing.T) {
	t.Run("Clone shares no mutable state", func(t *testing.T) {
		def := testDefinition()
		def.Fields[2].Default = []interface{}{"a"}
		def.Metadata = map[string]interface{}{"k": "v"}

		c := def.Clone()
		c.Fields[0].Name = "changed"
		c.Fields[2].Default.([]interface{})[0] = "b"
		c.Indexes[0] = "changed"
		c.Metadata["k"] = "other"

		assert.Equal(t, "id", def.Fields[0].Name)
		assert.Equal(t, "a", def.Fields[2].Default.([]interface{})[0])
		assert.Equal(t, "id", def.Indexes[0])
		assert.Equal(t, "v", def.Metadata["k"])
	})

	t.Run("persisted form uses field_type and round trips the hash", func(t *testing.T) {
		def := DefaultDefinition()

		data, err := MarshalDefinition(def)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"field_type": "string"`)

		decoded, err := UnmarshalDefinition(data)
		require.NoError(t, err)
		assert.Equal(t, def.Hash, decoded.ComputeHash())
		assert.Equal(t, def.FieldNames(), decoded.FieldNames())
	})

	t.Run("UnmarshalDefinition wraps decode errors", func(t *testing.T) {
		_, err := UnmarshalDefinition([]byte("{"))
		assert.ErrorIs(t, err, ErrInvalidDefinition)
	})
}
