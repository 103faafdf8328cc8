package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/glimte/schemagov/health"
	"github.com/glimte/schemagov/migration"
	"github.com/glimte/schemagov/registry"
	"github.com/glimte/schemagov/schema"
)

// Output formatting functions

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printVersions(w io.Writer, versions []*registry.Metadata, active string) {
	if len(versions) == 0 {
		fmt.Fprintln(w, "No schema versions registered")
		return
	}

	fmt.Fprintf(w, "%-3s %-12s %-24s %-14s %-20s %-20s\n", "", "Version", "Name", "Hash", "Created", "Tags")
	fmt.Fprintln(w, strings.Repeat("-", 98))

	for _, m := range versions {
		marker := ""
		if m.Version == active {
			marker = "*"
		}
		fmt.Fprintf(w, "%-3s %-12s %-24s %-14s %-20s %-20s\n",
			marker,
			truncate(m.Version, 12),
			truncate(m.Name, 24),
			shortHash(m.Hash),
			m.CreatedAt.Format("2006-01-02 15:04:05"),
			truncate(joinOrNone(m.Tags), 20),
		)
	}
}

func printDefinition(w io.Writer, def *schema.Definition) {
	fmt.Fprintf(w, "Schema: %s\n", def.Name)
	fmt.Fprintf(w, "Version: %s\n", def.Version)
	fmt.Fprintf(w, "Hash: %s\n", def.Hash)
	fmt.Fprintf(w, "Created: %s\n", def.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Indexes: %s\n", joinOrNone(def.Indexes))
	fmt.Fprintf(w, "Constraints: %s\n", joinOrNone(def.Constraints))

	fmt.Fprintf(w, "\n%-20s %-10s %-9s %-14s %s\n", "Field", "Type", "Required", "Default", "Constraints")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, f := range def.Fields {
		dflt := "-"
		if f.HasDefault() {
			dflt = fmt.Sprintf("%v", f.Default)
		}
		fmt.Fprintf(w, "%-20s %-10s %-9t %-14s %s\n",
			truncate(f.Name, 20),
			f.Type,
			f.Required,
			truncate(dflt, 14),
			formatConstraints(f.Constraints),
		)
	}
}

func formatConstraints(c map[string]interface{}) string {
	if len(c) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(c))
	for _, name := range []string{
		schema.ConstraintMinLength,
		schema.ConstraintMaxLength,
		schema.ConstraintMinValue,
		schema.ConstraintMaxValue,
		schema.ConstraintPattern,
	} {
		if v, ok := c[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%v", name, v))
		}
	}
	return strings.Join(parts, " ")
}

func printCompatibility(w io.Writer, result *schema.CompatibilityResult) {
	fmt.Fprintf(w, "Compatibility %s -> %s\n", result.CurrentVersion, result.TargetVersion)
	fmt.Fprintf(w, "  Compatible: %t\n", result.Compatible)
	fmt.Fprintf(w, "  Migration Required: %t\n", result.MigrationRequired)

	if len(result.BreakingChanges) > 0 {
		fmt.Fprintf(w, "\nBREAKING CHANGES:\n")
		for _, c := range result.BreakingChanges {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
	if len(result.Warnings) > 0 {
		fmt.Fprintf(w, "\nWarnings:\n")
		for _, c := range result.Warnings {
			fmt.Fprintf(w, "  - %s\n", c)
		}
	}
}

func printPlan(w io.Writer, plan *migration.Plan) {
	fmt.Fprintf(w, "Plan %s -> %s (%s, estimated %s)\n",
		plan.FromVersion, plan.ToVersion, plan.Direction, plan.EstimatedDuration())
	if len(plan.Steps) == 0 {
		fmt.Fprintln(w, "No steps")
		return
	}
	for i, step := range plan.Steps {
		fmt.Fprintf(w, "\nStep %d: %s [%s]\n", i+1, step.ID, step.Category)
		fmt.Fprintf(w, "  %s\n", step.Description)
		fmt.Fprintf(w, "  Depends on: %s\n", joinOrNone(step.Dependencies))
		fmt.Fprintf(w, "  Forward:  %s\n", oneLine(step.ForwardSQL))
		fmt.Fprintf(w, "  Rollback: %s\n", oneLine(step.RollbackSQL))
	}
}

func printResult(w io.Writer, result *migration.Result) {
	status := "SUCCESS"
	switch {
	case !result.Success:
		status = "FAILED"
	case result.RolledBack:
		status = "ROLLED BACK"
	}
	fmt.Fprintf(w, "Migration %s: %s\n", result.MigrationID, status)
	fmt.Fprintf(w, "  %s -> %s\n", result.FromVersion, result.ToVersion)
	fmt.Fprintf(w, "  Steps: %d/%d\n", result.StepsCompleted, result.TotalSteps)
	fmt.Fprintf(w, "  Duration: %s\n", result.Duration.Round(time.Millisecond))
	if result.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", result.Error)
	}
}

func printHistory(w io.Writer, history []*migration.History) {
	if len(history) == 0 {
		fmt.Fprintln(w, "No migrations recorded")
		return
	}

	fmt.Fprintf(w, "%-38s %-10s %-10s %-12s %-8s %-20s\n", "ID", "From", "To", "Status", "Steps", "Started")
	fmt.Fprintln(w, strings.Repeat("-", 102))

	for _, h := range history {
		fmt.Fprintf(w, "%-38s %-10s %-10s %-12s %-8s %-20s\n",
			truncate(h.ID, 38),
			truncate(h.FromVersion, 10),
			truncate(h.ToVersion, 10),
			h.Status,
			fmt.Sprintf("%d/%d", h.StepsCompleted, h.TotalSteps),
			h.StartedAt.Format("2006-01-02 15:04:05"),
		)
	}
}

func printStats(w io.Writer, reg registry.Stats, mig migration.Stats) {
	fmt.Fprintf(w, "Registry:\n")
	fmt.Fprintf(w, "  Versions: %d/%d\n", reg.Versions, reg.MaxVersions)
	fmt.Fprintf(w, "  Active: %s\n", reg.ActiveVersion)
	fmt.Fprintf(w, "  Latest: %s\n", reg.LatestVersion)

	fmt.Fprintf(w, "\nMigrations:\n")
	fmt.Fprintf(w, "  Total: %d\n", mig.Total)
	fmt.Fprintf(w, "  Successful: %d\n", mig.Successful)
	fmt.Fprintf(w, "  Failed: %d\n", mig.Failed)
	fmt.Fprintf(w, "  Rolled Back: %d\n", mig.RolledBack)
	fmt.Fprintf(w, "  Success Rate: %.1f%%\n", mig.SuccessRate*100)
	fmt.Fprintf(w, "  Data Model Version: %s\n", mig.CurrentVersion)
	if mig.Emergency {
		fmt.Fprintf(w, "\nEMERGENCY: a rollback failed, manual intervention required\n")
	}
}

func printValidation(w io.Writer, result *schema.ValidationResult) {
	if result.Valid {
		fmt.Fprintf(w, "Payload is valid against schema %s\n", result.SchemaVersion)
	} else {
		fmt.Fprintf(w, "Payload is INVALID against schema %s\n", result.SchemaVersion)
	}
	for _, e := range result.Errors {
		fmt.Fprintf(w, "  - %s [%s]: %s\n", e.Field, e.Code, e.Message)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
}

func printHealth(w io.Writer, report health.Report) {
	fmt.Fprintf(w, "System Health: %s\n", report.Status)
	fmt.Fprintf(w, "Checked in %s\n\n", report.Duration.Round(time.Millisecond))
	for _, name := range report.Names() {
		check := report.Checks[name]
		line := fmt.Sprintf("  %-12s %-10s", name, check.Status)
		if check.Message != "" {
			line += " " + check.Message
		}
		if check.Error != "" {
			line += " (" + check.Error + ")"
		}
		fmt.Fprintln(w, line)
	}
}

func oneLine(s string) string {
	return truncate(strings.Join(strings.Fields(s), " "), 100)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
