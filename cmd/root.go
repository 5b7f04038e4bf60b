// Package cmd holds the gmail-to-sheets command tree.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jessdabre/gmail-to-sheets/config"
)

// NewRootCommand returns the sync command with every subcommand attached.
func NewRootCommand() (*cobra.Command, error) {
	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "Append unread mail to a spreadsheet, once per message",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := prepare(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			logger.Info("starting "+appName,
				"source", cfg.Source,
				"store", cfg.Store,
				"sheet", cfg.Sheet,
				"dryRun", cfg.DryRun,
				"interval", cfg.Interval,
			)
			return Sync(cmd.Context(), cfg, logger, cmd.OutOrStdout())
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		return nil, fmt.Errorf("register CLI flags: %w", err)
	}

	rootCmd.AddCommand(newInitSheetCommand(), newAuthCommand(), newStateCommand())
	return rootCmd, nil
}

func prepare(cmd *cobra.Command) (config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, cleanup, err := SetupLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return config.Config{}, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, cleanup, nil
}
