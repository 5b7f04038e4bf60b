// Package imap reads unread messages from an IMAP folder.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
	"github.com/jessdabre/gmail-to-sheets/rfc822"
)

const (
	ProviderName    = "imap"
	DefaultFolder   = "INBOX"
	DefaultPageSize = 100
)

var ErrInvalidID = errors.New("invalid imap message id")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	Folder             string
	PageSize           int
}

// Mailbox implements provider.Mailbox. Ids have the form
// "<uidvalidity>:<uid>" so a recreated folder never aliases old ids.
type Mailbox struct {
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	client      *imapclient.Client
	cleanup     func()
	uidValidity uint32
}

func New(opts Options, logger *slog.Logger) (*Mailbox, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mailbox{opts: opts, logger: logger}, nil
}

func (m *Mailbox) ListUnread(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}

	criteria := &imapv2.SearchCriteria{NotFlag: []imapv2.Flag{imapv2.FlagSeen}}
	data, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, m.fail("search unseen", err)
	}

	uids := firstN(data.AllUIDs(), m.opts.PageSize)
	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, FormatID(m.uidValidity, uid))
	}

	m.logger.Debug("listed unseen messages", "folder", m.folder(), "count", len(ids))
	return ids, nil
}

func (m *Mailbox) GetFull(ctx context.Context, id string) (model.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.connect(ctx)
	if err != nil {
		return model.RawMessage{}, err
	}

	validity, uid, err := ParseID(id)
	if err != nil {
		return model.RawMessage{}, provider.NewError(ProviderName, provider.KindInvalid, "get message", err)
	}
	if validity != m.uidValidity {
		err := fmt.Errorf("message %s: uidvalidity changed to %d", id, m.uidValidity)
		return model.RawMessage{}, provider.NewError(ProviderName, provider.KindNotFound, "get message", err)
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	fetchCmd := client.Fetch(imapv2.UIDSetNum(uid), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return model.RawMessage{}, m.fail("fetch "+id, err)
		}
		return model.RawMessage{}, provider.NewError(ProviderName, provider.KindNotFound, "fetch "+id, fmt.Errorf("uid %d not found", uid))
	}

	buf, err := msg.Collect()
	if err != nil {
		return model.RawMessage{}, m.fail("fetch "+id, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return model.RawMessage{}, m.fail("fetch "+id, err)
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return model.RawMessage{}, provider.NewError(ProviderName, provider.KindNotFound, "fetch "+id, errors.New("empty body section"))
	}

	return rfc822.ParseBytes(id, raw)
}

// MarkRead sets \Seen on ids belonging to the current uidvalidity. Stale
// ids are skipped.
func (m *Mailbox) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	client, err := m.connect(ctx)
	if err != nil {
		return err
	}

	var uids []imapv2.UID
	for _, id := range ids {
		validity, uid, err := ParseID(id)
		if err != nil || validity != m.uidValidity {
			m.logger.Warn("skipping stale imap id", "id", id)
			continue
		}
		uids = append(uids, uid)
	}
	if len(uids) == 0 {
		return nil
	}

	storeCmd := client.Store(imapv2.UIDSetNum(uids...), &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagSeen},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return m.fail("store seen", err)
	}
	return nil
}

// Close logs out and drops the connection.
func (m *Mailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnect()
	return nil
}

func (m *Mailbox) connect(ctx context.Context) (*imapclient.Client, error) {
	if m.client != nil {
		return m.client, nil
	}

	client, cleanup, err := m.dial(ctx)
	if err != nil {
		return nil, err
	}

	selected, err := client.Select(m.folder(), nil).Wait()
	if err != nil {
		cleanup()
		return nil, provider.NewError(ProviderName, provider.KindInvalid, "select "+m.folder(), err)
	}

	m.client = client
	m.cleanup = cleanup
	m.uidValidity = selected.UIDValidity
	m.logger.Debug("imap folder selected", "folder", m.folder(), "uidvalidity", selected.UIDValidity, "messages", selected.NumMessages)
	return client, nil
}

func (m *Mailbox) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	options := &imapclient.Options{}

	if m.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         m.opts.Host,
			InsecureSkipVerify: m.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if m.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, provider.NewError(ProviderName, provider.KindServer, "dial "+address, err)
	}

	if err := client.Login(m.opts.Username, m.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, provider.NewError(ProviderName, provider.KindAuth, "login "+m.opts.Username, err)
	}

	m.logger.Debug("imap connection established", "address", address, "user", m.opts.Username, "tls", m.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				m.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			m.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (m *Mailbox) disconnect() {
	if m.cleanup != nil {
		m.cleanup()
	}
	m.client = nil
	m.cleanup = nil
}

// fail classifies err and drops the connection so the next call redials.
func (m *Mailbox) fail(op string, err error) error {
	m.disconnect()
	var respErr *imapv2.Error
	if errors.As(err, &respErr) {
		switch respErr.Code {
		case imapv2.ResponseCodeAuthenticationFailed, imapv2.ResponseCodeAuthorizationFailed:
			return provider.NewError(ProviderName, provider.KindAuth, op, err)
		case imapv2.ResponseCodeNonExistent:
			return provider.NewError(ProviderName, provider.KindNotFound, op, err)
		}
	}
	return provider.NewError(ProviderName, provider.KindServer, op, err)
}

func (m *Mailbox) folder() string {
	if m.opts.Folder == "" {
		return DefaultFolder
	}
	return m.opts.Folder
}

// FormatID builds the message id for uid under validity.
func FormatID(validity uint32, uid imapv2.UID) string {
	return strconv.FormatUint(uint64(validity), 10) + ":" + strconv.FormatUint(uint64(uid), 10)
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (uint32, imapv2.UID, error) {
	validityText, uidText, ok := strings.Cut(id, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	validity, err := strconv.ParseUint(validityText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	uid, err := strconv.ParseUint(uidText, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return uint32(validity), imapv2.UID(uid), nil
}

func firstN(uids []imapv2.UID, n int) []imapv2.UID {
	if n > 0 && len(uids) > n {
		return uids[:n]
	}
	return uids
}
