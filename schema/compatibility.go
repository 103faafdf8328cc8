package schema

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// CompatibilityResult describes whether a target definition can replace the current one
type CompatibilityResult struct {
	Compatible        bool     `json:"compatible"`
	CurrentVersion    string   `json:"current_version"`
	TargetVersion     string   `json:"target_version"`
	MigrationRequired bool     `json:"migration_required"`
	BreakingChanges   []string `json:"breaking_changes"`
	Warnings          []string `json:"warnings"`
}

// MajorChange reports whether the target raises the major version
func (r *CompatibilityResult) MajorChange() bool {
	cur, err := ParseVersion(r.CurrentVersion)
	if err != nil {
		return false
	}
	tgt, err := ParseVersion(r.TargetVersion)
	if err != nil {
		return false
	}
	return tgt.Major > cur.Major
}

// CheckCompatibility classifies every difference between current and target.
//
// Breaking: major version change, removed field, changed field type,
// optional field becoming required, new required field without a default.
// Non-breaking but requiring migration: required field becoming optional,
// new optional or defaulted field, changed index set, changed table constraints.
func CheckCompatibility(current, target *Definition) *CompatibilityResult {
	result := &CompatibilityResult{
		CurrentVersion:  current.Version,
		TargetVersion:   target.Version,
		BreakingChanges: make([]string, 0),
		Warnings:        make([]string, 0),
	}

	cv, cerr := ParseVersion(current.Version)
	tv, terr := ParseVersion(target.Version)
	switch {
	case cerr != nil:
		result.BreakingChanges = append(result.BreakingChanges, fmt.Sprintf("invalid current version %q", current.Version))
	case terr != nil:
		result.BreakingChanges = append(result.BreakingChanges, fmt.Sprintf("invalid target version %q", target.Version))
	case !cv.IsCompatible(tv):
		result.BreakingChanges = append(result.BreakingChanges,
			fmt.Sprintf("major version change: %d -> %d", cv.Major, tv.Major))
		result.MigrationRequired = true
	}

	for _, cf := range current.Fields {
		tf, ok := target.Field(cf.Name)
		if !ok {
			result.BreakingChanges = append(result.BreakingChanges, fmt.Sprintf("field removed: %s", cf.Name))
			continue
		}
		if cf.Type != tf.Type {
			result.BreakingChanges = append(result.BreakingChanges,
				fmt.Sprintf("field type changed: %s (%s -> %s)", cf.Name, cf.Type, tf.Type))
		}
		switch {
		case !cf.Required && tf.Required:
			result.BreakingChanges = append(result.BreakingChanges,
				fmt.Sprintf("field became required: %s", cf.Name))
		case cf.Required && !tf.Required:
			result.MigrationRequired = true
			result.Warnings = append(result.Warnings, fmt.Sprintf("field became optional: %s", cf.Name))
		}
		if !reflect.DeepEqual(cf.Default, tf.Default) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("default changed: %s", cf.Name))
		}
		if !reflect.DeepEqual(cf.Constraints, tf.Constraints) && (len(cf.Constraints) > 0 || len(tf.Constraints) > 0) {
			result.Warnings = append(result.Warnings, fmt.Sprintf("constraints changed: %s", cf.Name))
		}
	}

	for _, tf := range target.Fields {
		if _, ok := current.Field(tf.Name); ok {
			continue
		}
		if tf.Required && !tf.HasDefault() {
			result.BreakingChanges = append(result.BreakingChanges,
				fmt.Sprintf("new required field without default: %s", tf.Name))
			continue
		}
		result.MigrationRequired = true
		result.Warnings = append(result.Warnings, fmt.Sprintf("field added: %s", tf.Name))
	}

	if added, removed := setDiff(current.Indexes, target.Indexes); len(added)+len(removed) > 0 {
		result.MigrationRequired = true
		result.Warnings = append(result.Warnings, describeSetChange("index set changed", added, removed))
	}
	if added, removed := setDiff(current.Constraints, target.Constraints); len(added)+len(removed) > 0 {
		result.MigrationRequired = true
		result.Warnings = append(result.Warnings, describeSetChange("constraints changed", added, removed))
	}

	result.Compatible = len(result.BreakingChanges) == 0
	return result
}

// setDiff returns the sorted elements only in b (added) and only in a (removed)
func setDiff(a, b []string) (added, removed []string) {
	inA := make(map[string]bool, len(a))
	for _, s := range a {
		inA[s] = true
	}
	inB := make(map[string]bool, len(b))
	for _, s := range b {
		inB[s] = true
		if !inA[s] {
			added = append(added, s)
		}
	}
	for _, s := range a {
		if !inB[s] {
			removed = append(removed, s)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func describeSetChange(prefix string, added, removed []string) string {
	var parts []string
	if len(added) > 0 {
		parts = append(parts, "added "+strings.Join(added, ", "))
	}
	if len(removed) > 0 {
		parts = append(parts, "removed "+strings.Join(removed, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, strings.Join(parts, "; "))
}
