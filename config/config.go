package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	EnvPrefix = "GMAIL_SHEETS"

	SourceGmail = "gmail"
	SourceIMAP  = "imap"
	SourceMbox  = "mbox"

	StoreSheets = "sheets"
	StoreCSV    = "csv"

	TokenStoreFile    = "file"
	TokenStoreKeyring = "keyring"
)

// Config captures all options required to run a sync.
type Config struct {
	Source string
	Store  string

	SpreadsheetID string
	Sheet         string
	CSVDir        string

	CredentialsFile string
	TokenFile       string
	TokenStore      string
	GmailQuery      string
	PageSize        int

	MboxPath string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPFolder         string

	StateDir     string
	StateBackend string

	DryRun   bool
	Interval time.Duration
	Progress bool
	LogLevel string
	LogDir   string

	IncludeSubject []string
	IncludeSender  []string
	ExcludeSubject []string
	ExcludeSender  []string
	MaxAge         time.Duration
}

// RegisterFlags attaches all CLI flags to cmd as persistent flags so every
// subcommand shares them.
func RegisterFlags(cmd *cobra.Command) error {
	home, err := defaultHome()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional YAML config file; flags and "+EnvPrefix+"_* env vars take precedence")
	flags.String("env-file", ".env", "dotenv file loaded before reading the environment (ignored when missing)")

	flags.String("source", SourceGmail, "Mailbox source: gmail, imap, mbox")
	flags.String("store", StoreSheets, "Row store: sheets, csv")
	flags.String("spreadsheet-id", "", "Target Google spreadsheet id")
	flags.String("sheet", "EmailLog", "Target sheet (tab) name")
	flags.String("csv-dir", ".", "Directory for CSV output when --store=csv")

	flags.String("credentials", "credentials.json", "OAuth client secrets file")
	flags.String("token-file", filepath.Join(home, "token.json"), "OAuth token file when --token-store=file")
	flags.String("token-store", TokenStoreFile, "Where the OAuth token is kept: file, keyring")
	flags.String("gmail-query", "is:unread in:inbox", "Gmail search query selecting messages to sync")
	flags.Int("page-size", 100, "Maximum messages fetched per sync")

	flags.String("mbox", "", "Path to an .mbox file when --source=mbox")

	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.String("imap-folder", "INBOX", "IMAP folder to read unseen messages from")

	flags.String("state-dir", filepath.Join(home, "state"), "Directory for the synced-id state")
	flags.String("state-backend", "file", "Synced-id backend: file, sqlite")

	flags.Bool("dry-run", false, "Normalize and report pending messages without writing anything")
	flags.Duration("interval", 0, "Repeat the sync at this interval until interrupted (0 runs once)")
	flags.Bool("progress", false, "Show a progress bar (info log level only)")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Optional directory for a copy of the log")

	flags.StringArray("include-subject", nil, "Regex allow-list applied to subjects (mutually exclusive with exclude flags)")
	flags.StringArray("include-sender", nil, "Regex allow-list applied to senders (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list applied to subjects (mutually exclusive with include flags)")
	flags.StringArray("exclude-sender", nil, "Regex block-list applied to senders (mutually exclusive with include flags)")
	flags.Duration("max-age", 0, "Skip messages older than this (0 disables)")

	return nil
}

// LoadConfig merges the dotenv file, config file, environment and parsed
// flags into a validated Config. Explicit flags win over everything else.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	flags := cmd.Flags()

	envFile, err := flags.GetString("env-file")
	if err != nil {
		return Config{}, err
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := Config{
		Source:             strings.ToLower(v.GetString("source")),
		Store:              strings.ToLower(v.GetString("store")),
		SpreadsheetID:      strings.TrimSpace(v.GetString("spreadsheet-id")),
		Sheet:              strings.TrimSpace(v.GetString("sheet")),
		CSVDir:             v.GetString("csv-dir"),
		CredentialsFile:    v.GetString("credentials"),
		TokenFile:          v.GetString("token-file"),
		TokenStore:         strings.ToLower(v.GetString("token-store")),
		GmailQuery:         v.GetString("gmail-query"),
		PageSize:           v.GetInt("page-size"),
		MboxPath:           v.GetString("mbox"),
		IMAPHost:           v.GetString("imap-host"),
		IMAPPort:           v.GetInt("imap-port"),
		IMAPUser:           v.GetString("imap-user"),
		IMAPPass:           v.GetString("imap-pass"),
		UseTLS:             v.GetBool("use-tls"),
		InsecureSkipVerify: v.GetBool("insecure-skip-verify"),
		IMAPFolder:         v.GetString("imap-folder"),
		StateDir:           v.GetString("state-dir"),
		StateBackend:       strings.ToLower(v.GetString("state-backend")),
		DryRun:             v.GetBool("dry-run"),
		Interval:           v.GetDuration("interval"),
		Progress:           v.GetBool("progress"),
		LogLevel:           strings.ToLower(v.GetString("log-level")),
		LogDir:             v.GetString("log-dir"),
		IncludeSubject:     v.GetStringSlice("include-subject"),
		IncludeSender:      v.GetStringSlice("include-sender"),
		ExcludeSubject:     v.GetStringSlice("exclude-subject"),
		ExcludeSender:      v.GetStringSlice("exclude-sender"),
		MaxAge:             v.GetDuration("max-age"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if cfg.StateDir == "" {
		home, err := defaultHome()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = filepath.Join(home, "state")
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateConfig(cfg Config) error {
	switch cfg.Source {
	case SourceGmail, SourceIMAP, SourceMbox:
	default:
		return fmt.Errorf("invalid --source: %s", cfg.Source)
	}
	switch cfg.Store {
	case StoreSheets, StoreCSV:
	default:
		return fmt.Errorf("invalid --store: %s", cfg.Store)
	}
	switch cfg.TokenStore {
	case TokenStoreFile, TokenStoreKeyring:
	default:
		return fmt.Errorf("invalid --token-store: %s", cfg.TokenStore)
	}
	switch cfg.StateBackend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("invalid --state-backend: %s", cfg.StateBackend)
	}

	if cfg.Sheet == "" {
		return fmt.Errorf("--sheet must not be empty")
	}
	if cfg.PageSize <= 0 {
		return fmt.Errorf("--page-size must be positive")
	}
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.Interval < 0 {
		return fmt.Errorf("--interval must not be negative")
	}
	if cfg.MaxAge < 0 {
		return fmt.Errorf("--max-age must not be negative")
	}

	includeActive := len(cfg.IncludeSubject) > 0 || len(cfg.IncludeSender) > 0
	excludeActive := len(cfg.ExcludeSubject) > 0 || len(cfg.ExcludeSender) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

// RequireSource checks the options the selected mailbox needs.
func (c Config) RequireSource() error {
	switch c.Source {
	case SourceMbox:
		if strings.TrimSpace(c.MboxPath) == "" {
			return fmt.Errorf("--mbox is required when --source=mbox")
		}
	case SourceIMAP:
		if c.IMAPHost == "" {
			return fmt.Errorf("--imap-host is required when --source=imap")
		}
		if c.IMAPUser == "" {
			return fmt.Errorf("--imap-user is required when --source=imap")
		}
		if c.IMAPPass == "" {
			return fmt.Errorf("IMAP password must be provided via --imap-pass or IMAP_PASS env var")
		}
	case SourceGmail:
		if c.CredentialsFile == "" {
			return fmt.Errorf("--credentials is required when --source=gmail")
		}
	}
	return nil
}

// RequireStore checks the options the selected store needs.
func (c Config) RequireStore() error {
	switch c.Store {
	case StoreSheets:
		if c.SpreadsheetID == "" {
			return fmt.Errorf("--spreadsheet-id is required when --store=sheets")
		}
		if c.CredentialsFile == "" {
			return fmt.Errorf("--credentials is required when --store=sheets")
		}
	case StoreCSV:
		if strings.TrimSpace(c.CSVDir) == "" {
			return fmt.Errorf("--csv-dir must not be empty")
		}
	}
	return nil
}

// NeedsGoogle reports whether a sync talks to Google APIs. A dry run never
// touches the store.
func (c Config) NeedsGoogle() bool {
	return c.Source == SourceGmail || (c.Store == StoreSheets && !c.DryRun)
}

func defaultHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".gmail-to-sheets"), nil
}
