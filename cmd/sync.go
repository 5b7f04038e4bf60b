package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jessdabre/gmail-to-sheets/config"
	"github.com/jessdabre/gmail-to-sheets/filter"
	"github.com/jessdabre/gmail-to-sheets/normalize"
	"github.com/jessdabre/gmail-to-sheets/progress"
	"github.com/jessdabre/gmail-to-sheets/provider"
	"github.com/jessdabre/gmail-to-sheets/runner"
	"github.com/jessdabre/gmail-to-sheets/state"
	"github.com/jessdabre/gmail-to-sheets/stats"
	"github.com/jessdabre/gmail-to-sheets/syncer"
)

const topSenders = 10

// Sync wires the configured mailbox, store and state into a runner and
// runs it once, or repeatedly when an interval is set.
func Sync(ctx context.Context, cfg config.Config, logger *slog.Logger, out io.Writer) error {
	if err := cfg.RequireSource(); err != nil {
		return err
	}
	if !cfg.DryRun {
		if err := cfg.RequireStore(); err != nil {
			return err
		}
	}

	clientOpts, err := googleClientOptions(ctx, cfg, cfg.NeedsGoogle())
	if err != nil {
		return fmt.Errorf("google credentials: %w", err)
	}

	mailbox, closeMailbox, err := openMailbox(ctx, cfg, clientOpts, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeMailbox(); err != nil {
			logger.Debug("close mailbox", "err", err)
		}
	}()

	var store provider.Store
	if !cfg.DryRun {
		store, err = openStore(ctx, cfg, clientOpts, logger)
		if err != nil {
			return fmt.Errorf("%s store: %w", cfg.Store, err)
		}
		if cfg.Store == config.StoreCSV {
			if err := store.WriteHeader(ctx, target(cfg)); err != nil {
				return fmt.Errorf("write csv header: %w", err)
			}
		}
	}

	set, err := state.Open(cfg.StateBackend, cfg.StateDir)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer set.Close()

	f, err := filter.New(filter.Options{
		IncludeSubject: cfg.IncludeSubject,
		IncludeSender:  cfg.IncludeSender,
		ExcludeSubject: cfg.ExcludeSubject,
		ExcludeSender:  cfg.ExcludeSender,
		MaxAge:         cfg.MaxAge,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	r, err := runner.New(runner.Options{
		Mailbox:    mailbox,
		Normalizer: normalize.New(logger),
		Filter:     f,
		Syncer:     syncer.New(store, set, target(cfg), logger),
		Logger:     logger,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	stats.NewReporter(r, logger)
	if cfg.Progress {
		progress.NewProgressReporter(r, progress.New(cfg.LogLevel), logger)
	}

	var runErr error
	if cfg.DryRun && cfg.Interval == 0 {
		var result runner.Result
		result, runErr = r.RunOnce(ctx)
		if runErr == nil {
			printPending(out, result)
		}
	} else {
		runErr = r.Run(ctx, cfg.Interval)
	}

	return errors.Join(runErr, r.Close())
}

func printPending(out io.Writer, result runner.Result) {
	fmt.Fprintf(out, "%d message(s) would be appended, %d already synced\n", len(result.Pending), result.Duplicates)
	if len(result.Pending) == 0 {
		return
	}

	senders := make(map[string]int)
	for _, rec := range result.Pending {
		senders[rec.Sender]++
	}
	fmt.Fprintln(out, "Top senders:")
	stats.PrettyPrintTop(out, senders, topSenders)
}
