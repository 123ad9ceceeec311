// Package config assembles the application configuration in layers:
// built-in defaults, then an optional .env file, then an optional JSON
// config file, then command-line flags. Later layers win.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/avoronin/potledger/internal/flagx"
	"github.com/avoronin/potledger/internal/timex"
	"github.com/joho/godotenv"
)

const (
	defaultDBPath   = "ledger.db"
	defaultAutoLock = 3 * time.Minute
	defaultLogLevel = "info"
)

type Config struct {
	// DBPath is the encrypted snapshot file; its KDF params sidecar lives
	// next to it.
	DBPath string `json:"db_path"`

	// AutoLockTimeout is the idle interval after which the store locks
	// itself. Zero keeps the store default.
	AutoLockTimeout timex.Duration `json:"auto_lock_timeout"`

	LogLevel string `json:"log_level"`
}

func defaults() *Config {
	return &Config{
		DBPath:          defaultDBPath,
		AutoLockTimeout: timex.Duration{Duration: defaultAutoLock},
		LogLevel:        defaultLogLevel,
	}
}

// Load builds the configuration from all layers. The .env file and the
// JSON config file are both optional; flags come last.
func Load() (*Config, error) {
	cfg := defaults()

	// .env is a convenience for development setups; absence is not an error
	_ = godotenv.Load()
	cfg.applyEnv()

	if path := flagx.JsonConfigFlags(); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyFlags(os.Args[1:])
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("POTLEDGER_DB_PATH"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("POTLEDGER_AUTO_LOCK"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.AutoLockTimeout = timex.Duration{Duration: d}
		}
	}
	if v := os.Getenv("POTLEDGER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyFlags parses only the flags this package owns; everything else in
// args belongs to the command and is filtered out first.
func (c *Config) applyFlags(args []string) {
	var (
		dbPath   string
		autoLock time.Duration
		logLevel string
	)

	args = flagx.FilterArgs(args, []string{"-d", "-db", "-t", "-l"})

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.StringVar(&dbPath, "d", "", "Path to the encrypted database file")
	fs.StringVar(&dbPath, "db", "", "Path to the encrypted database file")
	fs.DurationVar(&autoLock, "t", 0, "Idle auto-lock timeout")
	fs.StringVar(&logLevel, "l", "", "Log level (debug, info, warn, error)")
	_ = fs.Parse(args)

	if dbPath != "" {
		c.DBPath = dbPath
	}
	if autoLock != 0 {
		c.AutoLockTimeout = timex.Duration{Duration: autoLock}
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}
