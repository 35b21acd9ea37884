package config

import (
	"flag"
	"os"

	"github.com/avandyk/submitstore/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string     store data directory
//	-t duration   lock acquisition timeout (e.g., "13s")
//	-g duration   default password-change grace period (e.g., "72h")
//	-w string     path to a password word list
//
// The function first filters os.Args to only the flags it recognizes
// using flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-t", "-g", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.StoreDir, "d", config.StoreDir, "store data directory")
	lockTimeout := fs.Duration("t", config.LockTimeout, "lock acquisition timeout")
	gracePeriod := fs.Duration("g", config.DefaultGracePeriod, "default password-change grace period")
	fs.StringVar(&config.WordListPath, "w", config.WordListPath, "password word list path")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.LockTimeout = *lockTimeout
	config.DefaultGracePeriod = *gracePeriod
}
