package sheets

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
)

const csvProviderName = "csv"

// CSVStore appends rows to <dir>/<sheet>.csv. Each batch is encoded in
// memory and written with a single write call.
type CSVStore struct {
	dir string
	mu  sync.Mutex
}

func NewCSVStore(dir string) (*CSVStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("csv directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	return &CSVStore{dir: dir}, nil
}

// Path returns the file rows for target are appended to.
func (c *CSVStore) Path(target model.Target) string {
	name := strings.ToLower(strings.TrimSpace(target.Sheet))
	if name == "" {
		name = "sheet"
	}
	name = strings.NewReplacer("/", "_", "\\", "_", " ", "_", "-", "_").Replace(name)
	return filepath.Join(c.dir, name+".csv")
}

func (c *CSVStore) AppendRows(_ context.Context, target model.Target, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	for i, row := range rows {
		for j, cell := range row {
			if n := utf8.RuneCountInString(cell); n > provider.CellLimit {
				err := fmt.Errorf("row %d column %d has %d characters", i, j, n)
				return provider.NewError(csvProviderName, provider.KindCellLimit, "append", err)
			}
		}
	}
	return c.write(target, rows, false)
}

// WriteHeader writes model.Columns when the file is empty.
func (c *CSVStore) WriteHeader(_ context.Context, target model.Target) error {
	return c.write(target, [][]string{model.Columns}, true)
}

func (c *CSVStore) write(target model.Target, rows [][]string, onlyIfEmpty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.Path(target)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return provider.NewError(csvProviderName, provider.KindInvalid, "open "+path, err)
	}
	defer file.Close()

	if onlyIfEmpty {
		info, err := file.Stat()
		if err != nil {
			return provider.NewError(csvProviderName, provider.KindServer, "stat "+path, err)
		}
		if info.Size() > 0 {
			return nil
		}
	}

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return provider.NewError(csvProviderName, provider.KindInvalid, "encode", err)
	}

	if _, err := file.Write(buf.Bytes()); err != nil {
		return provider.NewError(csvProviderName, provider.KindServer, "write "+path, err)
	}
	if err := file.Sync(); err != nil {
		return provider.NewError(csvProviderName, provider.KindServer, "sync "+path, err)
	}
	return file.Close()
}
