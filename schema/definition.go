package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// ErrInvalidDefinition is returned when a definition is structurally unusable
var ErrInvalidDefinition = errors.New("schema: invalid definition")

// FieldType is the declared type of a schema field
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeInteger FieldType = "integer"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Valid reports whether t is one of the supported field types
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Named field constraints
const (
	ConstraintMinLength = "min_length"
	ConstraintMaxLength = "max_length"
	ConstraintMinValue  = "min_value"
	ConstraintMaxValue  = "max_value"
	ConstraintPattern   = "pattern"
)

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Field describes one field of a stored record
type Field struct {
	Name        string                 `json:"name" yaml:"name"`
	Type        FieldType              `json:"field_type" yaml:"field_type"`
	Required    bool                   `json:"required" yaml:"required"`
	Default     interface{}            `json:"default" yaml:"default"`
	Constraints map[string]interface{} `json:"constraints" yaml:"constraints"`
	Description string                 `json:"description" yaml:"description"`
}

// HasDefault reports whether the field declares a non-null default
func (f Field) HasDefault() bool {
	return f.Default != nil
}

// Definition is a versioned description of the stored data model.
// Once registered a definition is never edited; new versions are new definitions.
type Definition struct {
	Version     string                 `json:"version" yaml:"version"`
	Name        string                 `json:"name" yaml:"name"`
	Fields      []Field                `json:"fields" yaml:"fields"`
	Indexes     []string               `json:"indexes" yaml:"indexes"`
	Constraints []string               `json:"constraints" yaml:"constraints"`
	Metadata    map[string]interface{} `json:"metadata" yaml:"metadata"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	Hash        string                 `json:"hash,omitempty" yaml:"hash,omitempty"`
}

// Validate checks that the definition can be registered
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("%w: definition cannot be nil", ErrInvalidDefinition)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}

	seen := make(map[string]bool, len(d.Fields))
	for _, f := range d.Fields {
		if !fieldNameRe.MatchString(f.Name) {
			return fmt.Errorf("%w: invalid field name %q", ErrInvalidDefinition, f.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: duplicate field %q", ErrInvalidDefinition, f.Name)
		}
		seen[f.Name] = true

		if !f.Type.Valid() {
			return fmt.Errorf("%w: field %q has unknown type %q", ErrInvalidDefinition, f.Name, f.Type)
		}
		if p, ok := f.Constraints[ConstraintPattern]; ok {
			s, isString := p.(string)
			if !isString {
				return fmt.Errorf("%w: field %q pattern must be a string", ErrInvalidDefinition, f.Name)
			}
			if _, err := compilePattern(s); err != nil {
				return fmt.Errorf("%w: field %q pattern: %v", ErrInvalidDefinition, f.Name, err)
			}
		}
	}

	for _, idx := range d.Indexes {
		if !seen[idx] {
			return fmt.Errorf("%w: index references unknown field %q", ErrInvalidDefinition, idx)
		}
	}
	return nil
}

// Field returns the field with the given name
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns field names in declared order
func (d *Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// ParsedVersion parses the definition's version string
func (d *Definition) ParsedVersion() (Version, error) {
	return ParseVersion(d.Version)
}

// canonicalField is the hashed projection of a field
type canonicalField struct {
	Name        string                 `json:"name"`
	Type        FieldType              `json:"field_type"`
	Required    bool                   `json:"required"`
	Default     interface{}            `json:"default"`
	Constraints map[string]interface{} `json:"constraints"`
}

// ComputeHash returns the content hash over name, fields, indexes and constraints.
// Field, index and constraint order do not affect the result.
func (d *Definition) ComputeHash() string {
	fields := make([]canonicalField, len(d.Fields))
	for i, f := range d.Fields {
		fields[i] = canonicalField{
			Name:        f.Name,
			Type:        f.Type,
			Required:    f.Required,
			Default:     f.Default,
			Constraints: f.Constraints,
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })

	indexes := append([]string(nil), d.Indexes...)
	sort.Strings(indexes)
	constraints := append([]string(nil), d.Constraints...)
	sort.Strings(constraints)

	payload := struct {
		Name        string           `json:"name"`
		Fields      []canonicalField `json:"fields"`
		Indexes     []string         `json:"indexes"`
		Constraints []string         `json:"constraints"`
	}{d.Name, fields, indexes, constraints}

	data, err := json.Marshal(payload)
	if err != nil {
		// NaN/Inf defaults cannot be encoded
		data = []byte(fmt.Sprintf("%#v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of the definition
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Fields = make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		f.Default = copyValue(f.Default)
		f.Constraints = copyMap(f.Constraints)
		c.Fields[i] = f
	}
	c.Indexes = append([]string(nil), d.Indexes...)
	c.Constraints = append([]string(nil), d.Constraints...)
	c.Metadata = copyMap(d.Metadata)
	return &c
}

// MarshalDefinition encodes a definition in its persisted form
func MarshalDefinition(d *Definition) ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// UnmarshalDefinition decodes a persisted definition
func UnmarshalDefinition(data []byte) (*Definition, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &d, nil
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return copyMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
