package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/verkstad/toolmgmt/internal/machine"
)

func newMachineCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machine",
		Short: "Inspect the machine registry",
	}
	cmd.AddCommand(newMachineListCommand(opts))
	return cmd
}

func newMachineListCommand(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List machines ordered by number",
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

			machines, err := machine.NewSQLiteRepository(db.DB).List(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing machines: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(machines)
			}
			return printMachines(cmd, machines)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printMachines(cmd *cobra.Command, machines []machine.Machine) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tNAME\tSECTIONS\tCOUNTER")
	for i := range machines {
		m := &machines[i]
		caps := make([]string, 0, m.Capabilities.Len())
		for _, c := range m.Capabilities.List() {
			caps = append(caps, string(c))
		}
		ip := m.IPAddress
		if ip == "" {
			ip = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Number, m.DisplayName, strings.Join(caps, ","), ip)
	}
	return tw.Flush()
}
