package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMailbox   Stage = "mailbox"
	StageNormalize Stage = "normalize"
	StageStore     Stage = "store"
)

type EventType string

const (
	EventTypeListed     EventType = "listed"
	EventTypeScanned    EventType = "scanned"
	EventTypeNormalized EventType = "normalized"
	EventTypeFiltered   EventType = "filtered"
	EventTypeDuplicate  EventType = "duplicate"
	EventTypeAppended   EventType = "appended"
	EventTypePending    EventType = "pending"
	EventTypeMarkedRead EventType = "marked_read"
	EventTypeError      EventType = "error"
)

// Event is one observation from a run. Count is the number of messages it
// covers; zero means one.
type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Count     int
	Err       error
	Detail    string
}

func (e Event) n() int {
	if e.Count <= 0 {
		return 1
	}
	return e.Count
}

type Summary struct {
	// Passes counts completed mailbox listings.
	Passes     int
	Listed     int
	Scanned    int
	Normalized int
	Filtered   int
	Duplicates int
	Appended   int
	Pending    int
	MarkedRead int
	Errors     int
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"passes", s.Passes,
		"listed", s.Listed,
		"scanned", s.Scanned,
		"normalized", s.Normalized,
		"filtered", s.Filtered,
		"duplicates", s.Duplicates,
		"appended", s.Appended,
		"pending", s.Pending,
		"markedRead", s.MarkedRead,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := evt.n()
	switch evt.Type {
	case EventTypeListed:
		c.summary.Passes++
		c.summary.Listed += evt.Count
	case EventTypeScanned:
		c.summary.Scanned += n
	case EventTypeNormalized:
		c.summary.Normalized += n
	case EventTypeFiltered:
		c.summary.Filtered += n
	case EventTypeDuplicate:
		c.summary.Duplicates += n
	case EventTypeAppended:
		c.summary.Appended += n
	case EventTypePending:
		c.summary.Pending += n
	case EventTypeMarkedRead:
		c.summary.MarkedRead += n
	case EventTypeError:
		c.summary.Errors += n
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter logs the totals of every pass once the event stream closes. In
// watch mode that is the sum over all passes.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)

	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started).Round(time.Millisecond))
	switch {
	case ctx.Err() != nil:
		r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		return ctx.Err()
	case summary.Errors > 0:
		r.logger.Warn("sync summary (with errors)", attrs...)
	default:
		r.logger.Info("sync summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// PrettyPrintTop writes the top N most frequent items in a map to w.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	type pair struct {
		Key   string
		Value int
	}

	var pairs []pair
	for k, v := range m {
		pairs = append(pairs, pair{k, v})
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})

	for i := 0; i < limit && i < len(pairs); i++ {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, pairs[i].Key, pairs[i].Value)
	}
}
