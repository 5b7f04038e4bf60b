package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jessdabre/gmail-to-sheets/state"
)

func newStateCommand() *cobra.Command {
	var list bool

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Show how many message ids are recorded as synced",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			set, err := state.Open(cfg.StateBackend, cfg.StateDir)
			if err != nil {
				return fmt.Errorf("open state: %w", err)
			}
			defer set.Close()

			ids, err := set.Load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Backend: %s\n", cfg.StateBackend)
			fmt.Fprintf(out, "Directory: %s\n", cfg.StateDir)
			fmt.Fprintf(out, "Synced ids: %d\n", len(ids))

			if list {
				sorted := make([]string, 0, len(ids))
				for id := range ids {
					sorted = append(sorted, id)
				}
				sort.Strings(sorted)
				for _, id := range sorted {
					fmt.Fprintln(out, id)
				}
			}
			return nil
		},
	}

	stateCmd.Flags().BoolVar(&list, "list", false, "Print every synced id")
	return stateCmd
}
