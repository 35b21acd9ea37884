// Package config handles configuration for the submission store, including
// defaults, JSON overlay, environment overlay, and command-line flags.
package config

import (
	"path/filepath"
	"time"
)

// Config holds the runtime settings shared by every store consumer.
//
// Fields:
//   - StoreDir: top-level data directory; the store files, lock files, and
//     per-user upload trees all live beneath it.
//   - AccountsPath / ContestStatePath: the two JSON store files.
//   - LockTimeout: how long a mutation waits for the file lock before
//     reporting "store busy".
//   - StaleLockAge: a held lock older than this is treated as abandoned.
//   - DefaultGracePeriod: window a freshly (re)set account has to change
//     its password.
//   - WordListPath: optional word list for generated passwords; empty
//     means the embedded list.
type Config struct {
	StoreDir           string        `env:"SUBMITSTORE_DIR"`
	AccountsPath       string        `env:"SUBMITSTORE_ACCOUNTS_PATH"`
	ContestStatePath   string        `env:"SUBMITSTORE_STATE_PATH"`
	LockTimeout        time.Duration `env:"SUBMITSTORE_LOCK_TIMEOUT"`
	StaleLockAge       time.Duration `env:"SUBMITSTORE_STALE_LOCK_AGE"`
	DefaultGracePeriod time.Duration `env:"SUBMITSTORE_GRACE_PERIOD"`
	WordListPath       string        `env:"SUBMITSTORE_WORD_LIST"`
}

// LoadDefaults populates Config with sensible development defaults.
func (c *Config) LoadDefaults() {
	c.StoreDir = "var/submitstore"
	c.AccountsPath = ""
	c.ContestStatePath = ""
	c.LockTimeout = 13 * time.Second
	c.StaleLockAge = 10 * time.Minute
	c.DefaultGracePeriod = 72 * time.Hour
	c.WordListPath = ""
}

// normalize derives the store file paths from StoreDir when they were not
// set explicitly by any overlay.
func (c *Config) normalize() {
	if c.AccountsPath == "" {
		c.AccountsPath = filepath.Join(c.StoreDir, "etc", "accounts.json")
	}
	if c.ContestStatePath == "" {
		c.ContestStatePath = filepath.Join(c.StoreDir, "etc", "state.json")
	}
}

// AccountsLockPath is the sibling lock file for the accounts store.
func (c *Config) AccountsLockPath() string {
	return c.AccountsPath + ".lock"
}

// ContestStateLockPath is the sibling lock file for the contest-state store.
func (c *Config) ContestStateLockPath() string {
	return c.ContestStatePath + ".lock"
}

// UsersDir is the directory holding per-user upload trees.
func (c *Config) UsersDir() string {
	return filepath.Join(c.StoreDir, "users")
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, environment variables, and finally
// command-line flags.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg); err != nil {
		return nil, err
	}
	if err := parseEnv(cfg); err != nil {
		return nil, err
	}
	parseFlags(cfg)
	cfg.normalize()
	return cfg, nil
}
