// Package credential loads the OAuth client configuration and persists the
// user's token in a file or the system keyring.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/jessdabre/gmail-to-sheets/provider"
)

// ErrNoToken is returned when no token has been stored yet.
var ErrNoToken = errors.New("no oauth token stored; run the auth command first")

// Scopes requested by the auth flow. Modify is needed to clear UNREAD.
var Scopes = []string{gmail.GmailModifyScope, sheets.SpreadsheetsScope}

// TokenStore persists a single OAuth token.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(tok *oauth2.Token) error
}

// OAuthConfig reads a client secrets file downloaded from the Google Cloud
// console.
func OAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	data, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return cfg, nil
}

// AuthURL is the consent page the user opens to obtain an authorization code.
func AuthURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades code for a token and stores it.
func Exchange(ctx context.Context, cfg *oauth2.Config, store TokenStore, code string) (*oauth2.Token, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if err := store.Save(tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// TokenSource returns a refreshing token source seeded from store. Refreshed
// tokens are written back to store.
func TokenSource(ctx context.Context, cfg *oauth2.Config, store TokenStore) (oauth2.TokenSource, error) {
	tok, err := store.Load()
	if err != nil {
		return nil, err
	}
	return newSavingSource(oauth2.ReuseTokenSource(tok, cfg.TokenSource(ctx, tok)), store, tok), nil
}

// ClientOptions wraps TokenSource for the Google API clients.
func ClientOptions(ctx context.Context, cfg *oauth2.Config, store TokenStore) ([]option.ClientOption, error) {
	ts, err := TokenSource(ctx, cfg, store)
	if err != nil {
		return nil, err
	}
	return []option.ClientOption{option.WithTokenSource(ts)}, nil
}

type savingSource struct {
	base  oauth2.TokenSource
	store TokenStore

	mu   sync.Mutex
	last string
}

func newSavingSource(base oauth2.TokenSource, store TokenStore, seed *oauth2.Token) *savingSource {
	s := &savingSource{base: base, store: store}
	if seed != nil {
		s.last = seed.AccessToken
	}
	return s
}

func (s *savingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		if err := s.store.Save(tok); err != nil {
			return nil, fmt.Errorf("save refreshed token: %w: %w", provider.ErrCredentials, err)
		}
		s.last = tok.AccessToken
	}
	return tok, nil
}

// FileTokenStore keeps the token as JSON in a 0600 file.
type FileTokenStore struct {
	path string
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (f *FileTokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return decodeToken(data)
}

func (f *FileTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func decodeToken(data []byte) (*oauth2.Token, error) {
	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &tok, nil
}
