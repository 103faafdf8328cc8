package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/schemagov"
	"github.com/glimte/schemagov/health"
	"github.com/glimte/schemagov/internal/config"
	"github.com/glimte/schemagov/registry"
	"github.com/glimte/schemagov/schema"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}

// options carries the global flags
type options struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "schemactl",
		Short: "Govern the component store schema",
		Long: `schemactl manages the versioned schema registry of the component store.
It registers and activates schema versions, checks compatibility, runs and rolls
back data model migrations and validates payloads against the active schema.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the configuration file (default ./"+config.DefaultFile+")")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(
		newInitCmd(opts),
		newRegisterCmd(opts),
		newListCmd(opts),
		newShowCmd(opts),
		newActivateCmd(opts),
		newDeleteCmd(opts),
		newBackupCmd(opts),
		newCheckCmd(opts),
		newSyncCmd(opts),
		newMigrateCmd(opts),
		newRollbackCmd(opts),
		newHistoryCmd(opts),
		newStatsCmd(opts),
		newValidateCmd(opts),
		newHealthCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

// run loads the configuration, wires the app and calls fn. With adopt set
// the validator adopts the latest schema first; otherwise only the registry
// and the migration journal are loaded.
func run(cmd *cobra.Command, opts *options, adopt bool, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to close resources", "error", err)
		}
	}()

	if adopt {
		err = a.initialize(ctx)
	} else {
		err = a.initializeStores(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	return fn(ctx, a)
}

func newInitCmd(opts *options) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration and create the registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.configPath
			if path == "" {
				path = config.DefaultFile
			}
			if _, err := os.Stat(path); err == nil && !force {
				fmt.Fprintf(cmd.OutOrStdout(), "Configuration %s already exists\n", path)
			} else {
				if err := config.DefaultConfig().SaveToFile(path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote configuration to %s\n", path)
			}
			opts.configPath = path

			return run(cmd, opts, true, func(ctx context.Context, a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Registry ready, active schema %s\n", a.validator.CurrentVersion())
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing configuration")
	return cmd
}

func newRegisterCmd(opts *options) *cobra.Command {
	var (
		schemaVersion string
		description   string
		tags          []string
		activate      bool
	)
	cmd := &cobra.Command{
		Use:   "register <schema-file>",
		Short: "Register a schema definition from a JSON or YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadDefinition(args[0])
			if err != nil {
				return err
			}
			if schemaVersion == "" {
				schemaVersion = def.Version
			}
			if schemaVersion == "" {
				return fmt.Errorf("schema version is required: set --version or the version field")
			}

			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				meta, err := a.registry.RegisterSchema(ctx, def, schemaVersion, &registry.RegisterOptions{
					Description: description,
					Tags:        tags,
					Activate:    activate,
				})
				if err != nil {
					return fmt.Errorf("failed to register schema: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered %s version %s (hash %s)\n", meta.Name, meta.Version, shortHash(meta.Hash))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&schemaVersion, "version", "", "Version to register (defaults to the file's version field)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description recorded in the metadata")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "Tag recorded in the metadata (repeatable)")
	cmd.Flags().BoolVar(&activate, "activate", false, "Activate the version after registering it")
	return cmd
}

func newListCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schema versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				printVersions(cmd.OutOrStdout(), a.registry.ListVersions(), a.registry.ActiveVersion())
				return nil
			})
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	var jsonSchema bool
	cmd := &cobra.Command{
		Use:   "show [version]",
		Short: "Show a schema version, the active one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				var (
					def *schema.Definition
					err error
				)
				if len(args) == 1 {
					def, err = a.registry.GetSchema(args[0])
				} else {
					def, err = a.registry.GetCurrentSchema()
				}
				if err != nil {
					return err
				}

				if jsonSchema {
					doc, err := schema.GenerateJSONSchema(def)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), doc)
				}
				printDefinition(cmd.OutOrStdout(), def)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonSchema, "json-schema", false, "Print the version as a JSON Schema document")
	return cmd
}

func newActivateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <version>",
		Short: "Mark a registered version as active without migrating",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				if err := a.registry.SetActiveVersion(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Active schema version is now %s\n", args[0])
				return nil
			})
		},
	}
}

func newDeleteCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <version>",
		Short: "Delete an inactive schema version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				if err := a.registry.DeleteVersion(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted schema version %s\n", args[0])
				return nil
			})
		},
	}
}

func newBackupCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "backup [destination]",
		Short: "Copy the registry into a backup directory of the storage backend",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := ""
			if len(args) == 1 {
				dest = args[0]
			}
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				dir, err := a.registry.BackupRegistry(ctx, dest)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registry backed up to %s\n", dir)
				return nil
			})
		},
	}
}

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check <from-version> <to-version>",
		Short: "Report compatibility between two registered versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				from, err := a.registry.GetSchema(args[0])
				if err != nil {
					return err
				}
				to, err := a.registry.GetSchema(args[1])
				if err != nil {
					return err
				}
				printCompatibility(cmd.OutOrStdout(), schema.CheckCompatibility(from, to))
				return nil
			})
		},
	}
}

func newSyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Adopt the latest registered schema, migrating when required",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				before := a.registry.ActiveVersion()
				result, err := a.validator.ValidateOrCreateSchema(ctx)
				if result != nil {
					printCompatibility(cmd.OutOrStdout(), result)
				}
				var compatErr *schemagov.SchemaCompatibilityError
				if errors.As(err, &compatErr) {
					return fmt.Errorf("refusing to adopt %s: %w", compatErr.TargetVersion, err)
				}
				if err != nil {
					return err
				}
				if after := a.validator.CurrentVersion(); after != before {
					fmt.Fprintf(cmd.OutOrStdout(), "Adopted schema %s (was %s)\n", after, before)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Schema %s is up to date\n", after)
				}
				return nil
			})
		},
	}
}

func newMigrateCmd(opts *options) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "migrate <from-version> <to-version>",
		Short: "Run the migration plan between two versions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				if dryRun {
					plan, err := a.manager.PlanMigration("dry-run", args[0], args[1])
					if err != nil {
						return err
					}
					printPlan(cmd.OutOrStdout(), plan)
					return nil
				}

				result, err := a.manager.MigrateSchema(ctx, args[0], args[1])
				if result != nil {
					printResult(cmd.OutOrStdout(), result)
				}
				if err != nil {
					return err
				}
				if _, err := a.registry.GetSchema(args[1]); err == nil {
					return a.registry.SetActiveVersion(ctx, args[1])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print the plan without executing it")
	return cmd
}

func newRollbackCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <migration-id>",
		Short: "Roll back a completed migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				result, err := a.manager.RollbackMigration(ctx, args[0])
				if result != nil {
					printResult(cmd.OutOrStdout(), result)
				}
				if err != nil {
					return err
				}
				if err := a.registry.SetActiveVersion(ctx, result.ToVersion); err != nil {
					return fmt.Errorf("rolled back but failed to reactivate %s: %w", result.ToVersion, err)
				}
				return nil
			})
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history [migration-id]",
		Short: "Show migration history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					h, err := a.manager.GetHistory(args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), h)
				}
				printHistory(cmd.OutOrStdout(), a.manager.History())
				return nil
			})
		},
	}
}

func newStatsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show registry and migration statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, false, func(ctx context.Context, a *app) error {
				printStats(cmd.OutOrStdout(), a.registry.Stats(), a.manager.Stats())
				return nil
			})
		},
	}
}

func newValidateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <payload.json>",
		Short: "Validate a JSON payload against the active schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			return run(cmd, opts, true, func(ctx context.Context, a *app) error {
				result, err := a.validator.ValidateData(ctx, json.RawMessage(data))
				if err != nil {
					return err
				}
				printValidation(cmd.OutOrStdout(), result)
				if !result.Valid {
					return fmt.Errorf("payload is invalid against schema %s", result.SchemaVersion)
				}
				return nil
			})
		},
	}
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check schema, migration and dependency health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, true, func(ctx context.Context, a *app) error {
				checkCtx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()

				report := a.healthRegistry().Check(checkCtx)
				printHealth(cmd.OutOrStdout(), report)
				if report.Status == health.StatusUnhealthy {
					return fmt.Errorf("system is %s", report.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Timeout for all checks")
	return cmd
}

func newServeCmd(opts *options) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve Prometheus metrics and health over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, true, func(ctx context.Context, a *app) error {
				ctx, cancel := context.WithCancel(ctx)
				defer cancel()

				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sigChan)
				go func() {
					select {
					case <-sigChan:
						cancel()
					case <-ctx.Done():
					}
				}()

				if listen == "" {
					listen = a.cfg.Metrics.Listen
				}
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.metrics.Handler())
				mux.Handle("/healthz", health.NewHandler(a.healthRegistry(), 5*time.Second))

				server := &http.Server{
					Addr:              listen,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				errCh := make(chan error, 1)
				go func() {
					errCh <- server.ListenAndServe()
				}()
				a.logger.Info("serving metrics and health", "address", listen)

				select {
				case err := <-errCh:
					return err
				case <-ctx.Done():
				}

				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer shutdownCancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return err
				}
				a.logger.Info("server stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (defaults to metrics.listen)")
	return cmd
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
