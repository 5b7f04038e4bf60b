package mbox

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jessdabre/gmail-to-sheets/normalize"
	"github.com/jessdabre/gmail-to-sheets/provider"
)

//go:embed test_data/inbox.mbox
var inboxData []byte

func newTestMailbox(t *testing.T, data []byte) *Mailbox {
	t.Helper()
	mb, err := New(Options{
		Path: "test_data/inbox.mbox",
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return mb
}

func TestMailbox_ListUnread(t *testing.T) {
	mb := newTestMailbox(t, inboxData)

	ids, err := mb.ListUnread(context.Background())
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("ListUnread() = %v, want 3 ids", ids)
	}
	if ids[0] != "a1@example.com" {
		t.Errorf("ids[0] = %q", ids[0])
	}
	if !strings.HasPrefix(ids[1], "sha256:") {
		t.Errorf("ids[1] = %q, want content hash", ids[1])
	}
	if ids[2] != "d4@example.com" {
		t.Errorf("ids[2] = %q", ids[2])
	}
}

func TestMailbox_HashIDIsStable(t *testing.T) {
	first, err := newTestMailbox(t, inboxData).ListUnread(context.Background())
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	second, err := newTestMailbox(t, inboxData).ListUnread(context.Background())
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	if first[1] != second[1] {
		t.Fatalf("hash id changed between loads: %q vs %q", first[1], second[1])
	}
}

func TestMailbox_GetFullKeepsFirstCopy(t *testing.T) {
	mb := newTestMailbox(t, inboxData)

	msg, err := mb.GetFull(context.Background(), "a1@example.com")
	if err != nil {
		t.Fatalf("GetFull() error = %v", err)
	}
	rec, err := normalize.New(nil).Normalize(msg)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Subject != "Quarterly report" {
		t.Errorf("Subject = %q, want the first copy", rec.Subject)
	}
	if rec.Body != "Numbers are attached." {
		t.Errorf("Body = %q", rec.Body)
	}
	if rec.Timestamp != "2024-01-02 10:00:00" {
		t.Errorf("Timestamp = %q", rec.Timestamp)
	}
}

func TestMailbox_GetFullHTML(t *testing.T) {
	mb := newTestMailbox(t, inboxData)

	msg, err := mb.GetFull(context.Background(), "d4@example.com")
	if err != nil {
		t.Fatalf("GetFull() error = %v", err)
	}
	rec, err := normalize.New(nil).Normalize(msg)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if rec.Body != "Hi & bye" {
		t.Errorf("Body = %q, want %q", rec.Body, "Hi & bye")
	}
}

func TestMailbox_GetFullUnknown(t *testing.T) {
	mb := newTestMailbox(t, inboxData)

	_, err := mb.GetFull(context.Background(), "b2@example.com")
	if provider.KindOf(err) != provider.KindNotFound {
		t.Fatalf("GetFull() kind = %s, want not_found", provider.KindOf(err))
	}
}

func TestMailbox_MarkRead(t *testing.T) {
	mb := newTestMailbox(t, inboxData)
	ctx := context.Background()

	if err := mb.MarkRead(ctx, []string{"a1@example.com"}); err != nil {
		t.Fatalf("MarkRead() error = %v", err)
	}
	ids, err := mb.ListUnread(ctx)
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ListUnread() = %v, want 2 ids after MarkRead", ids)
	}
}

func TestMailbox_Empty(t *testing.T) {
	mb := newTestMailbox(t, nil)

	ids, err := mb.ListUnread(context.Background())
	if err != nil {
		t.Fatalf("ListUnread() error = %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("ListUnread() = %v, want none", ids)
	}
}

func TestNew_EmptyPath(t *testing.T) {
	if _, err := New(Options{Path: "  "}, nil); err == nil {
		t.Fatal("New() expected error for empty path")
	}
}
