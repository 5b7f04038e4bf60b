package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jessdabre/gmail-to-sheets/config"
	"github.com/jessdabre/gmail-to-sheets/model"
)

func newInitSheetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init-sheet",
		Short: "Write the header row to the target sheet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			if err := cfg.RequireStore(); err != nil {
				return err
			}

			ctx := cmd.Context()
			clientOpts, err := googleClientOptions(ctx, cfg, cfg.Store == config.StoreSheets)
			if err != nil {
				return fmt.Errorf("google credentials: %w", err)
			}
			store, err := openStore(ctx, cfg, clientOpts, logger)
			if err != nil {
				return fmt.Errorf("%s store: %w", cfg.Store, err)
			}

			t := target(cfg)
			if err := store.WriteHeader(ctx, t); err != nil {
				return fmt.Errorf("write header: %w", err)
			}
			logger.Info("header written", "target", t.String(), "columns", model.Columns)
			fmt.Fprintf(cmd.OutOrStdout(), "Header row written to %s\n", t)
			return nil
		},
	}
}
