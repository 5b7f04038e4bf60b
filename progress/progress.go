package progress

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/jessdabre/gmail-to-sheets/stats"
)

// Bar shows a progress bar per sync pass. A pass starts when the mailbox
// reports how many unread messages it listed.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
	writer  io.Writer
}

// New creates a progress bar that is only drawn when logLevel is "info".
func New(logLevel string) *Bar {
	return &Bar{enabled: logLevel == "info"}
}

// Enabled reports whether the bar draws anything.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.Enabled() {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeListed:
		b.stopLocked()
		b.total = evt.Count
		if b.total == 0 {
			pterm.Info.Println("No unread messages")
			return
		}
		printer := pterm.DefaultProgressbar.WithTotal(b.total).WithTitle("Fetching messages")
		if b.writer != nil {
			printer = printer.WithWriter(b.writer)
		}
		pb, err := printer.Start()
		if err != nil {
			return
		}
		b.pb = pb
	case stats.EventTypeScanned:
		if b.pb == nil {
			return
		}
		b.pb.Increment()
		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Fetching: " + displayID)
		}
	case stats.EventTypeAppended, stats.EventTypePending:
		b.stopLocked()
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the current bar, if any.
func (b *Bar) Stop() {
	if !b.Enabled() {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopLocked()
}

func (b *Bar) stopLocked() {
	if b.pb == nil {
		return
	}
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
	b.pb = nil
}

// Subscriber is a stats subscriber that updates the bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter pairs the bar with a pterm summary printed when the
// event stream closes.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes the bar and its summary to stream. It does
// nothing when the bar is disabled.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

// Summary returns the counters collected so far.
func (pr *ProgressReporter) Summary() stats.Summary {
	return pr.collector.Snapshot()
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
	pterm.Info.Printf("Listed: %d\n", summary.Listed)
	pterm.Info.Printf("Fetched: %d\n", summary.Scanned)
	pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
	pterm.Info.Printf("Appended: %d\n", summary.Appended)
	if summary.Pending > 0 {
		pterm.Info.Printf("Pending (dry-run): %d\n", summary.Pending)
	}
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Marked read: %d\n", summary.MarkedRead)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
	if pr.logger != nil {
		pr.logger.Debug("progress summary printed", summary.LogAttrs()...)
	}

	return nil
}
