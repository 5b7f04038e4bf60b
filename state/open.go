package state

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open returns the Set for backend rooted at stateDir.
func Open(backend, stateDir string) (Set, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile:
		return NewFileSet(stateDir)
	case BackendSQLite:
		if _, err := NewFileSet(stateDir); err != nil {
			return nil, err
		}
		return NewSQLiteSet(filepath.Join(stateDir, DBFileName))
	case BackendMemory:
		return NewMemorySet(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", backend)
	}
}
