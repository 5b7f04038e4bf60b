package sheets

import (
	"context"
	"encoding/csv"
	"os"
	"reflect"
	"strings"
	"testing"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return records
}

func TestCSVStore_HeaderAndRows(t *testing.T) {
	ctx := context.Background()
	store, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	target := model.Target{Sheet: "Email Log"}

	if err := store.WriteHeader(ctx, target); err != nil {
		t.Fatalf("WriteHeader() error = %v", err)
	}
	rows := [][]string{{"a@x", "multi\nline", "2024-01-01 00:00:00", `say "hi", ok`}}
	if err := store.AppendRows(ctx, target, rows); err != nil {
		t.Fatalf("AppendRows() error = %v", err)
	}
	if err := store.WriteHeader(ctx, target); err != nil {
		t.Fatalf("second WriteHeader() error = %v", err)
	}

	if !strings.HasSuffix(store.Path(target), "email_log.csv") {
		t.Errorf("Path() = %s", store.Path(target))
	}

	got := readCSV(t, store.Path(target))
	want := [][]string{model.Columns, rows[0]}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("csv = %v, want %v", got, want)
	}
}

func TestCSVStore_RejectsOversizedCell(t *testing.T) {
	store, err := NewCSVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewCSVStore() error = %v", err)
	}
	target := model.Target{Sheet: "EmailLog"}

	rows := [][]string{{"a", "b", "c", strings.Repeat("x", provider.CellLimit+1)}}
	err = store.AppendRows(context.Background(), target, rows)
	if !provider.IsCellLimit(err) {
		t.Fatalf("AppendRows() error = %v, want cell limit", err)
	}
	if _, statErr := os.Stat(store.Path(target)); !os.IsNotExist(statErr) {
		t.Fatalf("file should not exist after rejected append")
	}
}
