package progress

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/jessdabre/gmail-to-sheets/stats"
)

type fakeStream struct {
	names []string
}

func (f *fakeStream) SubscribeStats(name string, _ func(context.Context, <-chan stats.Event) error) {
	f.names = append(f.names, name)
}

func TestDisabledBarIgnoresEvents(t *testing.T) {
	bar := New("debug")
	if bar.Enabled() {
		t.Fatal("bar should be disabled outside info level")
	}
	bar.Update(stats.Event{Type: stats.EventTypeListed, Count: 3})
	bar.Update(stats.Event{Type: stats.EventTypeScanned})
	bar.Stop()
	if bar.pb != nil {
		t.Fatal("disabled bar must not start a printer")
	}
}

func TestBarFollowsPass(t *testing.T) {
	bar := New("info")
	bar.writer = &bytes.Buffer{}

	bar.Update(stats.Event{Type: stats.EventTypeListed, Count: 2})
	if bar.pb == nil || bar.total != 2 {
		t.Fatalf("bar not started: total=%d", bar.total)
	}
	bar.Update(stats.Event{Type: stats.EventTypeScanned, MessageID: "a"})
	if bar.pb.Current != 1 {
		t.Fatalf("current = %d, want 1", bar.pb.Current)
	}
	bar.Update(stats.Event{Type: stats.EventTypeAppended, Count: 1})
	if bar.pb != nil {
		t.Fatal("bar should stop once the pass is stored")
	}
}

func TestSubscriberStopsOnClosedStream(t *testing.T) {
	bar := New("info")
	bar.writer = &bytes.Buffer{}
	events := make(chan stats.Event, 2)
	events <- stats.Event{Type: stats.EventTypeListed, Count: 1}
	events <- stats.Event{Type: stats.EventTypeError, Err: errors.New("boom")}
	close(events)

	if err := bar.Subscriber(context.Background(), events); err != nil {
		t.Fatalf("Subscriber: %v", err)
	}
	if bar.pb != nil {
		t.Fatal("bar should be stopped after the stream closes")
	}
}

func TestNewProgressReporterSubscribesOnlyWhenEnabled(t *testing.T) {
	stream := &fakeStream{}
	NewProgressReporter(stream, New("warn"), nil)
	if len(stream.names) != 0 {
		t.Fatalf("unexpected subscriptions %v", stream.names)
	}

	NewProgressReporter(stream, New("info"), nil)
	if len(stream.names) != 2 {
		t.Fatalf("expected two subscriptions, got %v", stream.names)
	}
}
