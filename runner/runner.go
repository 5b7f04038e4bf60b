package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jessdabre/gmail-to-sheets/filter"
	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/normalize"
	"github.com/jessdabre/gmail-to-sheets/provider"
	"github.com/jessdabre/gmail-to-sheets/state"
	"github.com/jessdabre/gmail-to-sheets/stats"
	"github.com/jessdabre/gmail-to-sheets/syncer"
)

const eventBuffer = 128

type Options struct {
	Mailbox    provider.Mailbox
	Normalizer *normalize.Normalizer
	Filter     *filter.Filter
	Syncer     *syncer.Syncer
	Logger     *slog.Logger
	DryRun     bool
}

// Result describes one sync pass.
type Result struct {
	RunID      string
	Listed     int
	Normalized int
	Failed     int
	Filtered   int
	Duplicates int
	Appended   int
	MarkedRead int
	// Unfetched counts listed messages left for the next pass after the
	// mailbox throttled or failed mid-fetch.
	Unfetched int
	// Pending holds the records a dry run would append.
	Pending []model.FlatRecord
}

// Runner drives list, fetch, normalize, filter, sync and mark-read in
// sequence. Stats subscribers each receive every event on their own channel.
type Runner struct {
	opts   Options
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	subMu       sync.Mutex
	subscribers []chan stats.Event
	closed      bool
	statsWG     sync.WaitGroup

	errMu sync.Mutex
	err   error
}

func New(opts Options) (*Runner, error) {
	if opts.Mailbox == nil {
		return nil, fmt.Errorf("mailbox must not be nil")
	}
	if opts.Normalizer == nil {
		return nil, fmt.Errorf("normalizer must not be nil")
	}
	if opts.Syncer == nil {
		return nil, fmt.Errorf("syncer must not be nil")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:   opts,
		logger: opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, eventBuffer)

	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
		for range ch {
		}
	}()
}

// EmitEvent delivers evt to every subscriber. Events after Close are dropped.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	if r.closed {
		return
	}
	for _, ch := range r.subscribers {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// Close ends the event stream, waits for subscribers and returns the first
// subscriber error.
func (r *Runner) Close() error {
	r.subMu.Lock()
	if !r.closed {
		r.closed = true
		for _, ch := range r.subscribers {
			close(ch)
		}
	}
	r.subMu.Unlock()

	r.statsWG.Wait()
	r.cancel()

	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Run performs a sync pass, then repeats it every interval until ctx is
// done. A zero interval runs once.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	if _, err := r.RunOnce(ctx); err != nil {
		return err
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("watch stopped", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// RunOnce performs one sync pass. Provider failures that a later pass can
// recover from are logged and reported as zero progress; only fatal errors
// are returned.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	result := Result{RunID: uuid.NewString()}
	logger := r.logger.With("run", result.RunID)
	started := time.Now()

	ids, err := r.opts.Mailbox.ListUnread(ctx)
	if err != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeError, Err: err})
		return result, r.stepFailed(logger, "list unread", err)
	}
	result.Listed = len(ids)
	r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeListed, Count: len(ids)})
	logger.Info("unread messages listed", "count", len(ids))

	records := make([]model.FlatRecord, 0, len(ids))
	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		raw, err := r.opts.Mailbox.GetFull(ctx, id)
		if err != nil {
			r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeError, MessageID: id, Err: err})
			if provider.IsFatal(err) {
				return result, err
			}
			result.Failed++
			if stopsFetching(err) {
				result.Unfetched = len(ids) - i - 1
				logger.Warn("fetch stopped; remaining messages wait for the next run",
					"id", id, "kind", provider.KindOf(err), "remaining", result.Unfetched, "err", err)
				break
			}
			logger.Warn("fetch message failed", "id", id, "err", err)
			continue
		}
		r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeScanned, MessageID: id})

		rec, err := r.opts.Normalizer.Normalize(raw)
		if err != nil {
			result.Failed++
			logger.Warn("normalize message failed", "id", id, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypeError, MessageID: id, Err: err})
			continue
		}
		if err := state.ValidateID(rec.ID); err != nil {
			result.Failed++
			logger.Warn("message id cannot be recorded as synced", "from", rec.Sender, "subject", rec.Subject, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypeError, MessageID: id, Err: err})
			continue
		}
		result.Normalized++
		r.EmitEvent(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypeNormalized, MessageID: id})

		if r.opts.Filter != nil && !r.opts.Filter.Allows(rec) {
			result.Filtered++
			logger.Debug("message filtered", "id", id, "from", rec.Sender, "subject", rec.Subject)
			r.EmitEvent(stats.Event{Stage: stats.StageNormalize, Type: stats.EventTypeFiltered, MessageID: id})
			continue
		}

		records = append(records, rec)
	}

	if r.opts.DryRun {
		return r.dryRun(ctx, logger, result, records)
	}

	appended, syncErr := r.opts.Syncer.Sync(ctx, records)
	if syncErr != nil && !errors.Is(syncErr, syncer.ErrPersistIDs) {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Count: len(records), Err: syncErr})
		return result, r.stepFailed(logger, "sync", syncErr)
	}

	result.Appended = appended
	result.Duplicates = len(records) - appended
	if appended > 0 {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeAppended, Count: appended})
	}
	if result.Duplicates > 0 {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeDuplicate, Count: result.Duplicates})
	}

	r.markRead(ctx, logger, &result, records)

	logger.Info("sync pass completed",
		"listed", result.Listed,
		"appended", result.Appended,
		"duplicates", result.Duplicates,
		"filtered", result.Filtered,
		"failed", result.Failed,
		"unfetched", result.Unfetched,
		"markedRead", result.MarkedRead,
		"duration", time.Since(started),
	)

	if syncErr != nil {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeError, Err: syncErr})
		return result, syncErr
	}
	return result, nil
}

func (r *Runner) dryRun(ctx context.Context, logger *slog.Logger, result Result, records []model.FlatRecord) (Result, error) {
	fresh, dupes, err := r.opts.Syncer.Pending(ctx, records)
	if err != nil {
		return result, err
	}

	result.Pending = fresh
	result.Duplicates = len(dupes)
	if len(fresh) > 0 {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypePending, Count: len(fresh)})
	}
	if len(dupes) > 0 {
		r.EmitEvent(stats.Event{Stage: stats.StageStore, Type: stats.EventTypeDuplicate, Count: len(dupes)})
	}
	for _, rec := range fresh {
		logger.Debug("dry-run pending row", "id", rec.ID, "from", rec.Sender, "subject", rec.Subject, "date", rec.Timestamp)
	}
	logger.Info("dry-run completed", "pending", len(fresh), "duplicates", len(dupes), "filtered", result.Filtered, "failed", result.Failed)
	return result, nil
}

// markRead clears the unread state of every record handed to the store,
// duplicates included. A failure leaves the mailbox stale but the store
// correct, so it is only logged.
func (r *Runner) markRead(ctx context.Context, logger *slog.Logger, result *Result, records []model.FlatRecord) {
	if len(records) == 0 {
		return
	}
	ids := make([]string, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
	}

	if err := r.opts.Mailbox.MarkRead(ctx, ids); err != nil {
		logger.Warn("mark read failed; messages stay unread", "count", len(ids), "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeError, Count: len(ids), Err: err})
		return
	}
	result.MarkedRead = len(ids)
	r.EmitEvent(stats.Event{Stage: stats.StageMailbox, Type: stats.EventTypeMarkedRead, Count: len(ids)})
}

// stopsFetching reports whether err means the mailbox as a whole is
// throttled or failing, rather than one message being unreadable.
func stopsFetching(err error) bool {
	switch provider.KindOf(err) {
	case provider.KindRateLimit, provider.KindServer:
		return true
	}
	return false
}

// stepFailed returns err when it is fatal or not a provider failure, and
// nil otherwise so the next pass retries.
func (r *Runner) stepFailed(logger *slog.Logger, step string, err error) error {
	var perr *provider.Error
	if errors.As(err, &perr) && !perr.Fatal() {
		logger.Error(step+" failed; nothing was recorded, the next run retries", "kind", perr.Kind, "err", err)
		return nil
	}
	logger.Error(step+" failed", "err", err)
	return fmt.Errorf("%s: %w", step, err)
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
}
