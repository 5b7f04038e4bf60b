package state

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileName is the synced-id log inside the state directory.
const FileName = "synced_ids.txt"

var ErrInvalidID = errors.New("invalid message id")

// Set is the durable record of message ids already appended to the store.
// It only grows: Load reads every id, Append adds ids in order.
type Set interface {
	Load(ctx context.Context) (IDs, error)
	Append(ctx context.Context, ids []string) error
	Close() error
}

// IDs is a snapshot of a Set.
type IDs map[string]struct{}

func (s IDs) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// ValidateID reports whether id can be stored and read back unchanged: it
// must be non-empty, single-line and free of surrounding whitespace.
func ValidateID(id string) error {
	if id == "" || strings.TrimSpace(id) != id || strings.ContainsAny(id, "\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func validateIDs(ids []string) error {
	for _, id := range ids {
		if err := ValidateID(id); err != nil {
			return err
		}
	}
	return nil
}

type MemorySet struct {
	mu  sync.RWMutex
	ids []string
}

func NewMemorySet(ids ...string) *MemorySet {
	return &MemorySet{ids: append([]string(nil), ids...)}
}

func (m *MemorySet) Load(_ context.Context) (IDs, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(IDs, len(m.ids))
	for _, id := range m.ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *MemorySet) Append(_ context.Context, ids []string) error {
	if err := validateIDs(ids); err != nil {
		return err
	}
	m.mu.Lock()
	m.ids = append(m.ids, ids...)
	m.mu.Unlock()
	return nil
}

// Snapshot returns the ids in append order.
func (m *MemorySet) Snapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.ids...)
}

func (m *MemorySet) Close() error {
	return nil
}

// FileSet persists ids as an append-only log, one id per line.
// The file is never rewritten.
type FileSet struct {
	path    string
	writeMu sync.Mutex
}

func NewFileSet(stateDir string) (*FileSet, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	return &FileSet{path: filepath.Join(stateDir, FileName)}, nil
}

func (f *FileSet) Path() string {
	return f.path
}

func (f *FileSet) Load(ctx context.Context) (IDs, error) {
	ids := make(IDs)

	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return ids, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		ids[id] = struct{}{}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	return ids, nil
}

// Append writes ids in order and fsyncs before returning. A previous write
// cut short by a crash is terminated first so the new ids start on a fresh line.
func (f *FileSet) Append(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := validateIDs(ids); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open state file for append: %w", err)
	}
	defer file.Close()

	needsNewline, err := endsWithoutNewline(file)
	if err != nil {
		return err
	}

	writer := bufio.NewWriterSize(file, 64*1024)
	if needsNewline {
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}
	for _, id := range ids {
		if _, err := writer.WriteString(id); err != nil {
			return fmt.Errorf("write state record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	return nil
}

func endsWithoutNewline(file *os.File) (bool, error) {
	info, err := file.Stat()
	if err != nil {
		return false, fmt.Errorf("stat state file: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read state file tail: %w", err)
	}
	return last[0] != '\n', nil
}

func (f *FileSet) Close() error {
	return nil
}
