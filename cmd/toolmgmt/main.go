// Command toolmgmt runs the workshop tool management service and its
// maintenance commands.
//
// The serve subcommand is the long-running process. The remaining
// subcommands work directly against the local database and are meant for
// installation scripts and operators at the shell.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "github.com/verkstad/toolmgmt/migrations"

	"github.com/verkstad/toolmgmt/internal/infrastructure/config"
	"github.com/verkstad/toolmgmt/internal/infrastructure/database"
	"github.com/verkstad/toolmgmt/internal/infrastructure/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when neither --config nor TOOLMGMT_CONFIG is set.
	defaultConfigPath = "configs/config.yaml"

	configEnvVar = "TOOLMGMT_CONFIG"
)

// exitError carries a process exit code other than 1.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func main() {
	// Cancel on Ctrl+C and SIGTERM so serve shuts down gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "toolmgmt",
		Short:         "Workshop tool management service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "",
		"config file (default $"+configEnvVar+" or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newResolveCommand(opts),
		newUserCommand(opts),
		newMachineCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "toolmgmt %s (commit %s, built %s)\n", version, commit, date)
			return err
		},
	}
}

// resolveConfigPath returns the configuration file path: the flag, then
// TOOLMGMT_CONFIG, then the default.
func (o *globalOptions) resolveConfigPath() string {
	if o.configPath != "" {
		return o.configPath
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path
	}
	return defaultConfigPath
}

// loadConfig loads the configuration and builds the configured logger.
func (o *globalOptions) loadConfig() (*config.Config, *logging.Logger, error) {
	path := o.resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, logging.New(cfg.Logging, version), nil
}

// openDatabase opens the configured database. When migrate is set pending
// migrations are applied before returning.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger, migrate bool) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	log.Debug("database opened", "path", cfg.Database.Path)

	if !migrate {
		return db, nil
	}
	applied, err := db.Migrate(ctx)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if applied > 0 {
		log.Info("database migrations applied", "count", applied)
	}
	return db, nil
}

// closeDatabase closes db and logs a failure.
func closeDatabase(db *database.DB, log *logging.Logger) {
	if err := db.Close(); err != nil {
		log.Error("error closing database", "error", err)
	}
}
