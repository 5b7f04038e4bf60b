// Package mbox serves an mbox file as a read-only mailbox, for offline
// imports of exported mail.
package mbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
	"github.com/jessdabre/gmail-to-sheets/rfc822"
)

const ProviderName = "mbox"

type Options struct {
	Path string
	// Open overrides how Path is opened.
	Open func() (io.ReadCloser, error)
}

// Mailbox implements provider.Mailbox over an mbox file. Messages whose
// Status header carries R are already read. MarkRead only affects this
// process; the file is never written.
type Mailbox struct {
	opts   Options
	logger *slog.Logger

	loadOnce sync.Once
	loadErr  error

	mu       sync.Mutex
	order    []string
	messages map[string][]byte
	read     map[string]struct{}
}

func New(opts Options, logger *slog.Logger) (*Mailbox, error) {
	opts.Path = strings.TrimSpace(opts.Path)
	if opts.Path == "" && opts.Open == nil {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if opts.Open == nil {
		path := opts.Path
		opts.Open = func() (io.ReadCloser, error) { return os.Open(path) }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{
		opts:     opts,
		logger:   logger,
		messages: make(map[string][]byte),
		read:     make(map[string]struct{}),
	}, nil
}

// ListUnread returns every unread message in file order.
func (m *Mailbox) ListUnread(ctx context.Context) ([]string, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.order))
	for _, id := range m.order {
		if _, ok := m.read[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *Mailbox) GetFull(ctx context.Context, id string) (model.RawMessage, error) {
	if err := m.load(ctx); err != nil {
		return model.RawMessage{}, err
	}

	m.mu.Lock()
	raw, ok := m.messages[id]
	m.mu.Unlock()
	if !ok {
		return model.RawMessage{}, provider.NewError(ProviderName, provider.KindNotFound, "get message", fmt.Errorf("message %s not in %s", id, m.opts.Path))
	}

	return rfc822.ParseBytes(id, raw)
}

func (m *Mailbox) MarkRead(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		m.read[id] = struct{}{}
	}
	return nil
}

func (m *Mailbox) load(ctx context.Context) error {
	m.loadOnce.Do(func() {
		m.loadErr = m.scan(ctx)
	})
	return m.loadErr
}

func (m *Mailbox) scan(ctx context.Context) error {
	file, err := m.opts.Open()
	if err != nil {
		return provider.NewError(ProviderName, provider.KindInvalid, "open", err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)

	m.mu.Lock()
	defer m.mu.Unlock()

	total, skipped := 0, 0
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return provider.NewError(ProviderName, provider.KindInvalid, "read", fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return provider.NewError(ProviderName, provider.KindInvalid, "read", fmt.Errorf("message %d read: %w", idx, err))
		}
		total++

		id, seen, err := inspect(raw)
		if err != nil {
			m.logger.Warn("skipping unparseable mbox message", "index", idx, "err", err)
			skipped++
			continue
		}
		if seen {
			continue
		}
		if _, dup := m.messages[id]; dup {
			m.logger.Debug("skipping repeated message id", "index", idx, "id", id)
			continue
		}

		m.messages[id] = raw
		m.order = append(m.order, id)
	}

	m.logger.Info("mbox loaded", "path", m.opts.Path, "messages", total, "unread", len(m.order), "skipped", skipped)
	return nil
}

// inspect returns the message id and whether the Status header marks the
// message as read. Messages without Message-Id are keyed by content hash.
func inspect(raw []byte) (string, bool, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", false, err
	}

	seen := strings.ContainsRune(msg.Header.Get("Status"), 'R')

	id := strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), " <>")
	if id == "" {
		sum := sha256.Sum256(raw)
		id = "sha256:" + base64.RawURLEncoding.EncodeToString(sum[:])
	}
	return id, seen, nil
}
