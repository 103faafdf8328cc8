package schema

import "time"

// DefaultVersion is the version of the built-in definition
const DefaultVersion = "1.0.0"

// DefaultDefinition returns the built-in definition a fresh registry starts with.
// It describes generated components as stored by the hosting component store.
func DefaultDefinition() *Definition {
	def := &Definition{
		Version: DefaultVersion,
		Name:    "component_store",
		Fields: []Field{
			{
				Name:        "id",
				Type:        TypeString,
				Required:    true,
				Constraints: map[string]interface{}{ConstraintMinLength: 1, ConstraintMaxLength: 128},
				Description: "Unique component identifier",
			},
			{
				Name:        "name",
				Type:        TypeString,
				Required:    true,
				Constraints: map[string]interface{}{ConstraintMinLength: 1, ConstraintMaxLength: 255},
				Description: "Human readable component name",
			},
			{
				Name:        "component_type",
				Type:        TypeString,
				Required:    true,
				Constraints: map[string]interface{}{ConstraintPattern: `^[a-z][a-z0-9_]*$`},
				Description: "Kind of generated component",
			},
			{
				Name:        "content",
				Type:        TypeObject,
				Required:    true,
				Description: "Component body",
			},
			{
				Name:        "version",
				Type:        TypeInteger,
				Required:    false,
				Default:     1,
				Constraints: map[string]interface{}{ConstraintMinValue: 1},
				Description: "Revision of the component",
			},
			{
				Name:        "tags",
				Type:        TypeArray,
				Required:    false,
				Default:     []interface{}{},
				Description: "Free-form labels",
			},
			{
				Name:        "created_at",
				Type:        TypeString,
				Required:    false,
				Description: "RFC 3339 creation timestamp",
			},
		},
		Indexes:     []string{"id", "name", "component_type"},
		Constraints: []string{"UNIQUE(id)"},
		Metadata:    map[string]interface{}{"source": "builtin"},
		CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	def.Hash = def.ComputeHash()
	return def
}
