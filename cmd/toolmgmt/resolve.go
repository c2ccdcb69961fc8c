package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/verkstad/toolmgmt/internal/machine"
	"github.com/verkstad/toolmgmt/internal/machineset"
)

// Exit codes of the resolve command besides 0 and 1.
const (
	exitNotFound    = 2
	exitUnavailable = 3
)

func newResolveCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolve a machine path against the registry",
		Long: `Resolve parses a path such as /machines/5701-5703/tool-changes, checks the
machine numbers against the database and prints the selection as JSON.

Exit status is 2 when no listed machine exists and 3 when the registry
could not be loaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			registry := machine.NewRegistry(
				machine.NewSQLiteRepository(db.DB),
				machine.WithFetchTimeout(cfg.Registry.FetchTimeoutDuration()),
			)
			registry.SetLogger(log.Component("registry"))
			if refreshErr := registry.RefreshCache(cmd.Context()); refreshErr != nil {
				log.Debug("registry load failed", "error", refreshErr)
			}

			res := machineset.NewResolver(registry).Resolve(args[0])

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("encoding resolution: %w", err)
			}

			switch res.State {
			case machineset.StateValid:
				return nil
			case machineset.StateInvalid:
				return &exitError{code: exitNotFound, err: fmt.Errorf("no known machine in %q (%s)", args[0], res.Reason)}
			default:
				return &exitError{code: exitUnavailable, err: machine.StateError(registry.Snapshot())}
			}
		},
	}
}
