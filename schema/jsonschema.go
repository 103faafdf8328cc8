package schema

import (
	"encoding/json"
	"fmt"
)

// GenerateJSONSchema renders def as a draft-07 JSON Schema document
func GenerateJSONSchema(def *Definition) (json.RawMessage, error) {
	properties := make(map[string]interface{}, len(def.Fields))
	required := make([]string, 0)

	for _, f := range def.Fields {
		prop := map[string]interface{}{
			"type": string(f.Type),
		}
		if f.Description != "" {
			prop["description"] = f.Description
		}
		if f.HasDefault() {
			prop["default"] = f.Default
		}
		applyJSONSchemaConstraints(f, prop)
		properties[f.Name] = prop

		if f.Required {
			required = append(required, f.Name)
		}
	}

	doc := map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"$id":         fmt.Sprintf("urn:schema:%s:%s", def.Name, def.Version),
		"title":       def.Name,
		"description": fmt.Sprintf("Schema for %s version %s", def.Name, def.Version),
		"type":        "object",
		"properties":  properties,
		"required":    required,
	}
	return json.Marshal(doc)
}

func applyJSONSchemaConstraints(f Field, prop map[string]interface{}) {
	for name, value := range f.Constraints {
		switch name {
		case ConstraintPattern:
			prop["pattern"] = value
		case ConstraintMinLength:
			if f.Type == TypeArray {
				prop["minItems"] = value
			} else {
				prop["minLength"] = value
			}
		case ConstraintMaxLength:
			if f.Type == TypeArray {
				prop["maxItems"] = value
			} else {
				prop["maxLength"] = value
			}
		case ConstraintMinValue:
			prop["minimum"] = value
		case ConstraintMaxValue:
			prop["maximum"] = value
		}
	}
}
