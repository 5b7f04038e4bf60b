package filter

import (
	"testing"
	"time"

	"github.com/jessdabre/gmail-to-sheets/model"
)

func rec(sender, subject string) model.FlatRecord {
	return model.FlatRecord{ID: "id", Sender: sender, Subject: subject}
}

func TestFilter_Allows_IncludeMode(t *testing.T) {
	f, err := New(Options{IncludeSubject: []string{"^Invoice"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(rec("billing@example.com", "Invoice #42")) {
		t.Error("Expected record to be allowed (subject matches)")
	}
	if f.Allows(rec("billing@example.com", "Newsletter")) {
		t.Error("Expected record to be filtered out (subject doesn't match)")
	}
}

func TestFilter_Allows_IncludeEitherField(t *testing.T) {
	f, err := New(Options{
		IncludeSubject: []string{"urgent"},
		IncludeSender:  []string{"@boss\\.example\\.com"},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(rec("ceo@boss.example.com", "lunch")) {
		t.Error("Expected record to be allowed (sender matches)")
	}
	if !f.Allows(rec("someone@example.com", "urgent: fix")) {
		t.Error("Expected record to be allowed (subject matches)")
	}
	if f.Allows(rec("someone@example.com", "lunch")) {
		t.Error("Expected record to be filtered out")
	}
}

func TestFilter_Allows_ExcludeMode(t *testing.T) {
	f, err := New(Options{ExcludeSender: []string{"spam"}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if !f.Allows(rec("sender@example.com", "Normal Message")) {
		t.Error("Expected record to be allowed (no spam)")
	}
	if f.Allows(rec("spammer@example.com", "Buy now")) {
		t.Error("Expected record to be filtered out (spam sender)")
	}
}

func TestFilter_MutuallyExclusive(t *testing.T) {
	_, err := New(Options{
		IncludeSubject: []string{"test"},
		ExcludeSender:  []string{"spam"},
	})
	if err == nil {
		t.Error("Expected error when both include and exclude are specified")
	}
}

func TestFilter_NoFilters(t *testing.T) {
	f, err := New(Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("Expected inactive filter")
	}
	if !f.Allows(rec("any@example.com", "Any Message")) {
		t.Error("Expected record to be allowed when no filters are active")
	}
}

func TestFilter_InvalidPattern(t *testing.T) {
	if _, err := New(Options{IncludeSubject: []string{"("}}); err == nil {
		t.Error("Expected error for invalid regex")
	}
}

func TestFilter_EmptyPatternsIgnored(t *testing.T) {
	f, err := New(Options{IncludeSubject: []string{"  ", ""}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if f.Active() {
		t.Error("Expected blank patterns to be ignored")
	}
}

func TestFilter_MaxAge(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	f, err := New(Options{MaxAge: 24 * time.Hour, Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name       string
		receivedAt time.Time
		want       bool
	}{
		{name: "recent", receivedAt: now.Add(-time.Hour), want: true},
		{name: "old", receivedAt: now.Add(-48 * time.Hour), want: false},
		{name: "unparsed date", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := rec("a@example.com", "s")
			r.ReceivedAt = tt.receivedAt
			if got := f.Allows(r); got != tt.want {
				t.Fatalf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}
