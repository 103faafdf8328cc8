package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

// Validation error codes
const (
	CodeRequiredFieldMissing = "REQUIRED_FIELD_MISSING"
	CodeNullValue            = "NULL_VALUE"
	CodeTypeMismatch         = "TYPE_MISMATCH"
	CodeMinLengthViolation   = "MIN_LENGTH_VIOLATION"
	CodeMaxLengthViolation   = "MAX_LENGTH_VIOLATION"
	CodeMinimumViolation     = "MINIMUM_VIOLATION"
	CodeMaximumViolation     = "MAXIMUM_VIOLATION"
	CodePatternViolation     = "PATTERN_VIOLATION"
	CodeInvalidPattern       = "INVALID_PATTERN"
	CodeUnknownField         = "UNKNOWN_FIELD"
)

// ValidationResult represents the result of payload validation
type ValidationResult struct {
	Valid         bool                   `json:"valid"`
	Errors        []ValidationError      `json:"errors"`
	Warnings      []string               `json:"warnings"`
	Data          map[string]interface{} `json:"data,omitempty"`
	SchemaVersion string                 `json:"schema_version"`
	Duration      time.Duration          `json:"duration"`
}

// Clone returns a copy that shares nothing mutable with r
func (r *ValidationResult) Clone() *ValidationResult {
	if r == nil {
		return nil
	}
	c := *r
	c.Errors = append([]ValidationError(nil), r.Errors...)
	c.Warnings = append([]string(nil), r.Warnings...)
	c.Data = copyMap(r.Data)
	return &c
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

// Error implements the error interface for ValidationError
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

func (r *ValidationResult) addError(field, code, msg string, value interface{}) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: msg, Code: code, Value: value})
}

// ValidatePayload checks payload against def. Errors accumulate across all
// fields. Missing fields with a default are filled into Data; the input map
// is never modified.
func ValidatePayload(def *Definition, payload map[string]interface{}, strict bool) *ValidationResult {
	start := time.Now()
	result := &ValidationResult{
		Valid:         true,
		Errors:        make([]ValidationError, 0),
		Warnings:      make([]string, 0),
		Data:          make(map[string]interface{}, len(payload)),
		SchemaVersion: def.Version,
	}
	for k, v := range payload {
		result.Data[k] = v
	}

	for _, f := range def.Fields {
		value, present := payload[f.Name]
		if !present {
			switch {
			case f.HasDefault():
				result.Data[f.Name] = copyValue(f.Default)
				if f.Required {
					result.Warnings = append(result.Warnings,
						fmt.Sprintf("required field '%s' missing, default applied", f.Name))
				}
			case f.Required:
				result.addError(f.Name, CodeRequiredFieldMissing, "required field is missing", nil)
			}
			continue
		}

		if value == nil {
			if f.Required {
				result.addError(f.Name, CodeNullValue, "required field cannot be null", nil)
			}
			continue
		}
		validateField(f, value, result)
	}

	unknown := make([]string, 0)
	for k := range payload {
		if _, ok := def.Field(k); !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	for _, k := range unknown {
		if strict {
			result.addError(k, CodeUnknownField, "field is not declared in schema", payload[k])
			continue
		}
		result.Warnings = append(result.Warnings, fmt.Sprintf("unknown field '%s'", k))
	}

	result.Duration = time.Since(start)
	return result
}

func validateField(f Field, value interface{}, result *ValidationResult) {
	if !matchesType(value, f.Type) {
		result.addError(f.Name, CodeTypeMismatch,
			fmt.Sprintf("expected type %s, got %T", f.Type, value), value)
		return
	}

	switch t := value.(type) {
	case string:
		validateLength(f, utf8.RuneCountInString(t), value, result)
		validatePattern(f, t, result)
	case []interface{}:
		validateLength(f, len(t), value, result)
	default:
		if n, ok := toFloat(value); ok {
			validateBounds(f, n, value, result)
		}
	}
}

// matchesType checks if value matches expected type
func matchesType(value interface{}, expected FieldType) bool {
	switch expected {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := toFloat(value)
		return ok
	case TypeInteger:
		switch t := value.(type) {
		case float64:
			return !math.IsInf(t, 0) && t == math.Trunc(t)
		case float32:
			return t == float32(math.Trunc(float64(t)))
		case json.Number:
			_, err := t.Int64()
			return err == nil
		}
		return isInt(value)
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		_, ok := value.([]interface{})
		return ok
	case TypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	}
	return false
}

func validateLength(f Field, length int, value interface{}, result *ValidationResult) {
	if min, ok := constraintFloat(f, ConstraintMinLength); ok && float64(length) < min {
		result.addError(f.Name, CodeMinLengthViolation,
			fmt.Sprintf("length %d is less than minimum %v", length, min), value)
	}
	if max, ok := constraintFloat(f, ConstraintMaxLength); ok && float64(length) > max {
		result.addError(f.Name, CodeMaxLengthViolation,
			fmt.Sprintf("length %d exceeds maximum %v", length, max), value)
	}
}

func validateBounds(f Field, n float64, value interface{}, result *ValidationResult) {
	if min, ok := constraintFloat(f, ConstraintMinValue); ok && n < min {
		result.addError(f.Name, CodeMinimumViolation,
			fmt.Sprintf("value %v is less than minimum %v", n, min), value)
	}
	if max, ok := constraintFloat(f, ConstraintMaxValue); ok && n > max {
		result.addError(f.Name, CodeMaximumViolation,
			fmt.Sprintf("value %v exceeds maximum %v", n, max), value)
	}
}

func validatePattern(f Field, s string, result *ValidationResult) {
	raw, ok := f.Constraints[ConstraintPattern]
	if !ok {
		return
	}
	pattern, _ := raw.(string)
	re, err := compilePattern(pattern)
	if err != nil {
		result.addError(f.Name, CodeInvalidPattern, fmt.Sprintf("invalid regex pattern: %s", pattern), s)
		return
	}
	if !re.MatchString(s) {
		result.addError(f.Name, CodePatternViolation,
			fmt.Sprintf("value does not match pattern: %s", pattern), s)
	}
}

func constraintFloat(f Field, name string) (float64, bool) {
	raw, ok := f.Constraints[name]
	if !ok || raw == nil {
		return 0, false
	}
	return toFloat(raw)
}

func isInt(v interface{}) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

var patternCache sync.Map

// compilePattern compiles and memoizes a constraint pattern
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}
