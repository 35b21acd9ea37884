package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/avandyk/submitstore/internal/flagx"
	"github.com/avandyk/submitstore/internal/timex"
)

// JsonConfig is the DTO for reading JSON configuration files. It uses
// timex.Duration for interval fields, which allows parsing both string
// values such as "13s" and integer nanoseconds. After unmarshalling, its
// fields are copied into the runtime Config.
type JsonConfig struct {
	StoreDir           string         `json:"store_dir"`
	AccountsPath       string         `json:"accounts_path"`
	ContestStatePath   string         `json:"contest_state_path"`
	LockTimeout        timex.Duration `json:"lock_timeout"`
	StaleLockAge       timex.Duration `json:"stale_lock_age"`
	DefaultGracePeriod timex.Duration `json:"default_grace_period"`
	WordListPath       string         `json:"word_list_path"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config. The file path comes from the -c or -config command-line flags;
// when neither is set, no JSON file is loaded. Zero values in the file
// leave the corresponding Config field untouched.
func parseJson(config *Config) error {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return nil
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		return fmt.Errorf("read config %s: %w", jsonConfigFile, err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("parse config %s: %w", jsonConfigFile, err)
	}

	if c.StoreDir != "" {
		config.StoreDir = c.StoreDir
	}
	if c.AccountsPath != "" {
		config.AccountsPath = c.AccountsPath
	}
	if c.ContestStatePath != "" {
		config.ContestStatePath = c.ContestStatePath
	}
	if c.LockTimeout.Duration != 0 {
		config.LockTimeout = time.Duration(c.LockTimeout.Duration)
	}
	if c.StaleLockAge.Duration != 0 {
		config.StaleLockAge = time.Duration(c.StaleLockAge.Duration)
	}
	if c.DefaultGracePeriod.Duration != 0 {
		config.DefaultGracePeriod = time.Duration(c.DefaultGracePeriod.Duration)
	}
	if c.WordListPath != "" {
		config.WordListPath = c.WordListPath
	}

	return nil
}
