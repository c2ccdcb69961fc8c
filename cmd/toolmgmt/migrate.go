package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database schema migrations",
	}
	cmd.AddCommand(
		newMigrateUpCommand(opts),
		newMigrateDownCommand(opts),
		newMigrateStatusCommand(opts),
	)
	return cmd
}

func newMigrateUpCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			applied, err := db.Migrate(cmd.Context())
			if err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return err
		},
	}
}

func newMigrateDownCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			ver, err := db.MigrateDown(cmd.Context())
			if err != nil {
				return fmt.Errorf("rolling back migration: %w", err)
			}
			if ver == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "no migrations to roll back")
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", ver)
			return err
		},
	}
}

func newMigrateStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := opts.loadConfig()
			if err != nil {
				return err
			}
			db, err := openDatabase(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer closeDatabase(db, log)

			applied, pending, err := db.GetMigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading migration status: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATUS\tAPPLIED AT")
			for _, m := range applied {
				fmt.Fprintf(tw, "%s\tapplied\t%s\n", m.Version, m.AppliedAt.Format(time.RFC3339))
			}
			for _, m := range pending {
				fmt.Fprintf(tw, "%s\tpending\t%s\n", m.Version, m.Name)
			}
			return tw.Flush()
		},
	}
}
