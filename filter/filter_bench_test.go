package filter

import (
	"testing"

	"github.com/jessdabre/gmail-to-sheets/model"
)

var benchRecord = model.FlatRecord{
	ID:      "18c2f1e0a1b2c3d4",
	Sender:  "Test Sender <test@example.com>",
	Subject: "Weekly report for the infrastructure team",
	Body:    "This is a test message body with some content.",
}

// BenchmarkFilter_Allows_NoFilters benchmarks the filter when no filters are active
func BenchmarkFilter_Allows_NoFilters(b *testing.B) {
	f, err := New(Options{})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(benchRecord)
	}
}

// BenchmarkFilter_Allows_WithIncludeFilter benchmarks the filter with include patterns
func BenchmarkFilter_Allows_WithIncludeFilter(b *testing.B) {
	f, err := New(Options{
		IncludeSender: []string{"@example\\.com"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(benchRecord)
	}
}

// BenchmarkFilter_Allows_WithExcludeFilter benchmarks the filter with exclude patterns
func BenchmarkFilter_Allows_WithExcludeFilter(b *testing.B) {
	f, err := New(Options{
		ExcludeSubject: []string{"(?i)unsubscribe", "(?i)newsletter"},
	})
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Allows(benchRecord)
	}
}
