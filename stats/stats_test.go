package stats

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestCollector_Apply(t *testing.T) {
	c := NewCollector()
	boom := errors.New("boom")

	c.Apply(Event{Type: EventTypeListed, Count: 5})
	c.Apply(Event{Type: EventTypeListed})
	c.Apply(Event{Type: EventTypeScanned})
	c.Apply(Event{Type: EventTypeScanned})
	c.Apply(Event{Type: EventTypeDuplicate})
	c.Apply(Event{Type: EventTypeAppended, Count: 3})
	c.Apply(Event{Type: EventTypeError, Err: boom})

	s := c.Snapshot()
	if s.Passes != 2 || s.Listed != 5 || s.Scanned != 2 || s.Duplicates != 1 || s.Appended != 3 || s.Errors != 1 {
		t.Fatalf("Snapshot() = %+v", s)
	}
	if !errors.Is(s.LastError, boom) {
		t.Fatalf("LastError = %v", s.LastError)
	}
}

func TestCollector_RunStopsOnClose(t *testing.T) {
	c := NewCollector()
	events := make(chan Event, 2)
	events <- Event{Type: EventTypeNormalized}
	events <- Event{Type: EventTypeFiltered}
	close(events)

	c.Run(context.Background(), events)

	s := c.Snapshot()
	if s.Normalized != 1 || s.Filtered != 1 {
		t.Fatalf("Snapshot() = %+v", s)
	}
}

func TestPrettyPrintTop(t *testing.T) {
	var buf bytes.Buffer
	PrettyPrintTop(&buf, map[string]int{"a": 1, "b": 3, "c": 3, "d": 2}, 3)

	want := "1. b (3)\n2. c (3)\n3. d (2)\n"
	if buf.String() != want {
		t.Fatalf("PrettyPrintTop() = %q, want %q", buf.String(), want)
	}
}

type chanStream struct {
	events chan Event
	done   chan error
}

func (s *chanStream) SubscribeStats(_ string, fn func(context.Context, <-chan Event) error) {
	go func() { s.done <- fn(context.Background(), s.events) }()
}

func TestReporterLogsSummary(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	stream := &chanStream{events: make(chan Event, 4), done: make(chan error, 1)}

	reporter := NewReporter(stream, logger)
	stream.events <- Event{Type: EventTypeListed, Count: 2}
	stream.events <- Event{Type: EventTypeAppended, Count: 2}
	stream.events <- Event{Type: EventTypeError, Err: errors.New("boom")}
	close(stream.events)

	if err := <-stream.done; err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got := reporter.Summary(); got.Appended != 2 || got.Errors != 1 {
		t.Fatalf("Summary() = %+v", got)
	}
	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "appended=2") || !strings.Contains(out, "lastError=boom") {
		t.Fatalf("unexpected log output %q", out)
	}
}
