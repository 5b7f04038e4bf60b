package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"google.golang.org/api/option"

	"github.com/jessdabre/gmail-to-sheets/config"
	"github.com/jessdabre/gmail-to-sheets/credential"
	"github.com/jessdabre/gmail-to-sheets/gmail"
	"github.com/jessdabre/gmail-to-sheets/imap"
	"github.com/jessdabre/gmail-to-sheets/mbox"
	"github.com/jessdabre/gmail-to-sheets/model"
	"github.com/jessdabre/gmail-to-sheets/provider"
	"github.com/jessdabre/gmail-to-sheets/sheets"
)

func openTokenStore(cfg config.Config) (credential.TokenStore, error) {
	if cfg.TokenStore == config.TokenStoreKeyring {
		ring, err := credential.OpenKeyring(filepath.Dir(cfg.TokenFile))
		if err != nil {
			return nil, err
		}
		return credential.NewKeyringTokenStore(ring, credential.TokenKey), nil
	}
	return credential.NewFileTokenStore(cfg.TokenFile), nil
}

// googleClientOptions authenticates the Google API clients. Nothing is
// loaded when neither side of the sync talks to Google.
func googleClientOptions(ctx context.Context, cfg config.Config, needed bool) ([]option.ClientOption, error) {
	if !needed {
		return nil, nil
	}
	oauthCfg, err := credential.OAuthConfig(cfg.CredentialsFile)
	if err != nil {
		return nil, err
	}
	tokens, err := openTokenStore(cfg)
	if err != nil {
		return nil, err
	}
	return credential.ClientOptions(ctx, oauthCfg, tokens)
}

// openMailbox returns the configured source and a function releasing it.
func openMailbox(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption, logger *slog.Logger) (provider.Mailbox, func() error, error) {
	noop := func() error { return nil }

	var (
		mailbox provider.Mailbox
		err     error
	)
	switch cfg.Source {
	case config.SourceGmail:
		mailbox, err = gmail.New(ctx, gmail.Options{
			Query:         cfg.GmailQuery,
			PageSize:      int64(cfg.PageSize),
			ClientOptions: clientOpts,
		}, logger)
	case config.SourceIMAP:
		mailbox, err = imap.New(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.UseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Folder:             cfg.IMAPFolder,
			PageSize:           cfg.PageSize,
		}, logger)
	case config.SourceMbox:
		mailbox, err = mbox.New(mbox.Options{Path: cfg.MboxPath}, logger)
	default:
		return nil, noop, fmt.Errorf("unknown source %q", cfg.Source)
	}
	if err != nil {
		return nil, noop, fmt.Errorf("%s mailbox: %w", cfg.Source, err)
	}

	if closer, ok := mailbox.(io.Closer); ok {
		return mailbox, closer.Close, nil
	}
	return mailbox, noop, nil
}

func openStore(ctx context.Context, cfg config.Config, clientOpts []option.ClientOption, logger *slog.Logger) (provider.Store, error) {
	switch cfg.Store {
	case config.StoreSheets:
		return sheets.New(ctx, logger, clientOpts...)
	case config.StoreCSV:
		return sheets.NewCSVStore(cfg.CSVDir)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func target(cfg config.Config) model.Target {
	return model.Target{SpreadsheetID: cfg.SpreadsheetID, Sheet: cfg.Sheet}
}
