package state

import (
	"context"
	"fmt"
	"testing"
)

// BenchmarkFileSet_Append benchmarks the synced-id log write performance
func BenchmarkFileSet_Append(b *testing.B) {
	set, err := NewFileSet(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := set.Append(ctx, []string{fmt.Sprintf("msg-%d", i)}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFileSet_Load benchmarks loading a populated log
func BenchmarkFileSet_Load(b *testing.B) {
	set, err := NewFileSet(b.TempDir())
	if err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()

	ids := make([]string, 10000)
	for i := range ids {
		ids[i] = fmt.Sprintf("msg-%d", i)
	}
	if err := set.Append(ctx, ids); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		loaded, err := set.Load(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if len(loaded) != len(ids) {
			b.Fatalf("loaded %d ids, want %d", len(loaded), len(ids))
		}
	}
}

func BenchmarkIDs_Contains(b *testing.B) {
	ids := make(IDs, 1000)
	for i := 0; i < 1000; i++ {
		ids[fmt.Sprintf("msg-%d", i)] = struct{}{}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = ids.Contains(fmt.Sprintf("msg-%d", i%1000))
	}
}
