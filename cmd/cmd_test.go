package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jessdabre/gmail-to-sheets/config"
	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/state"
)

const fixture = "../mbox/test_data/inbox.mbox"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, err := NewRootCommand()
	if err != nil {
		t.Fatalf("NewRootCommand() error = %v", err)
	}
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(""))
	root.SetArgs(append(args, "--env-file", "", "--log-level", "error"))
	err = root.ExecuteContext(context.Background())
	return out.String(), err
}

func syncArgs(dir string) []string {
	return []string{
		"--source", "mbox",
		"--mbox", fixture,
		"--store", "csv",
		"--csv-dir", dir,
		"--state-dir", filepath.Join(dir, "state"),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return records
}

func TestSyncMboxToCSVIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		if _, err := execute(t, syncArgs(dir)...); err != nil {
			t.Fatalf("sync run %d: %v", i, err)
		}
	}

	records := readCSV(t, filepath.Join(dir, "emaillog.csv"))
	if len(records) != 4 {
		t.Fatalf("expected header and 3 rows, got %d records", len(records))
	}
	if !slices.Equal(records[0], model.Columns) {
		t.Fatalf("header = %v", records[0])
	}
	if strings.Contains(records[3][3], "<p>") {
		t.Fatalf("html body was not converted: %q", records[3][3])
	}

	set, err := state.NewFileSet(filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("NewFileSet: %v", err)
	}
	ids, err := set.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ids) != 3 || !ids.Contains("a1@example.com") || !ids.Contains("d4@example.com") {
		t.Fatalf("unexpected synced ids %v", ids)
	}
}

func TestSyncDryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, append(syncArgs(dir), "--dry-run")...)
	if err != nil {
		t.Fatalf("dry-run: %v", err)
	}
	if !strings.Contains(out, "3 message(s) would be appended") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "Top senders:") {
		t.Fatalf("missing sender summary in %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "emaillog.csv")); !os.IsNotExist(err) {
		t.Fatalf("dry run created the csv file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "state", state.FileName)); !os.IsNotExist(err) {
		t.Fatalf("dry run wrote state: %v", err)
	}
}

func TestSyncRequiresMboxPath(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--source", "mbox", "--store", "csv", "--csv-dir", dir, "--state-dir", dir)
	if err == nil || !strings.Contains(err.Error(), "--mbox") {
		t.Fatalf("expected missing --mbox error, got %v", err)
	}
}

func TestInitSheetCSV(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 2; i++ {
		if _, err := execute(t, "init-sheet", "--store", "csv", "--csv-dir", dir, "--sheet", "Mail Log"); err != nil {
			t.Fatalf("init-sheet run %d: %v", i, err)
		}
	}

	records := readCSV(t, filepath.Join(dir, "mail_log.csv"))
	if len(records) != 1 || !slices.Equal(records[0], model.Columns) {
		t.Fatalf("unexpected records %v", records)
	}
}

func TestStateCommand(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, syncArgs(dir)...); err != nil {
		t.Fatalf("sync: %v", err)
	}

	out, err := execute(t, "state", "--list", "--state-dir", filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, "Synced ids: 3") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(out, "a1@example.com") {
		t.Fatalf("id list missing from %q", out)
	}
}

func TestStateCommandSQLite(t *testing.T) {
	dir := t.TempDir()
	if _, err := execute(t, append(syncArgs(dir), "--state-backend", "sqlite")...); err != nil {
		t.Fatalf("sync: %v", err)
	}

	out, err := execute(t, "state", "--state-backend", "sqlite", "--state-dir", filepath.Join(dir, "state"))
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, "Synced ids: 3") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestSetupLoggerWritesLogDir(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	logger, cleanup, err := SetupLogger(config.Config{LogLevel: "debug", LogDir: dir}, &out)
	if err != nil {
		t.Fatalf("SetupLogger: %v", err)
	}
	logger.Debug("hello", "k", "v")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	if !strings.Contains(out.String(), "msg=hello") {
		t.Fatalf("stdout copy missing: %q", out.String())
	}
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), appName+"-") {
		t.Fatalf("unexpected log dir contents %v (%v)", entries, err)
	}
}
