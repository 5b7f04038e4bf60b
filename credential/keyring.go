package credential

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/99designs/keyring"
	"golang.org/x/oauth2"
)

const (
	serviceName = "gmail-to-sheets"
	// TokenKey is the keyring item holding the OAuth token.
	TokenKey = "oauth-token"
)

// OpenKeyring returns the system keyring, falling back to an encrypted file
// under fileDir.
func OpenKeyring(fileDir string) (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  fileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// KeyringTokenStore keeps the token as a JSON keyring item.
type KeyringTokenStore struct {
	ring keyring.Keyring
	key  string
}

func NewKeyringTokenStore(ring keyring.Keyring, key string) *KeyringTokenStore {
	if key == "" {
		key = TokenKey
	}
	return &KeyringTokenStore{ring: ring, key: key}
}

func (k *KeyringTokenStore) Load() (*oauth2.Token, error) {
	item, err := k.ring.Get(k.key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("getting credential %q: %w", k.key, err)
	}
	return decodeToken(item.Data)
}

func (k *KeyringTokenStore) Save(tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	err = k.ring.Set(keyring.Item{
		Key:         k.key,
		Data:        data,
		Label:       serviceName + " oauth token",
		Description: "OAuth token for Gmail and Sheets access",
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", k.key, err)
	}
	return nil
}
