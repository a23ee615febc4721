package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var ErrInvalid = errors.New("invalid configuration")

// Config holds runtime settings read from the environment and an optional
// .env file.
type Config struct {
	CredentialsFile string        `env:"DRAFTMERGE_CREDENTIALS" envDefault:"credentials.json"`
	TokenFile       string        `env:"DRAFTMERGE_TOKEN" envDefault:"token.json"`
	GmailUser       string        `env:"DRAFTMERGE_GMAIL_USER" envDefault:"me"`
	RowDelay        time.Duration `env:"DRAFTMERGE_ROW_DELAY" envDefault:"1s"`
	LogFile         string        `env:"DRAFTMERGE_LOG_FILE" envDefault:"draftmerge.log"`
	LogLevel        string        `env:"DRAFTMERGE_LOG_LEVEL" envDefault:"info"`
	Development     bool          `env:"DRAFTMERGE_DEV" envDefault:"false"`
}

// Load reads files into the process environment (missing files are ignored,
// variables already set win) and parses Config from it. With no files it
// tries ".env".
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Join(ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.RowDelay < 0 {
		return fmt.Errorf("%w: DRAFTMERGE_ROW_DELAY must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}
