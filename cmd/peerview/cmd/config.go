package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/cobra"

	"github.com/udisondev/peerview/chat"
	"github.com/udisondev/peerview/node"
)

const envPrefix = "peerview"

// Config is read from PEERVIEW_* variables; command line flags win over it.
type Config struct {
	Backend         string        `default:"http://127.0.0.1:8080"`
	RefreshInterval time.Duration `split_words:"true" default:"5s"`
	Listen          string        `default:"127.0.0.1:8000"`
	DataDir         string        `split_words:"true"`
	Notify          bool          `default:"true"`
}

var (
	flagBackend  string
	flagInterval time.Duration
	flagListen   string
	flagDataDir  string
	flagNotify   bool
)

func loadConfig(cmd *cobra.Command) (Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("read environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Backend = flagBackend
	}
	if flags.Changed("interval") {
		cfg.RefreshInterval = flagInterval
	}
	if flags.Changed("listen") {
		cfg.Listen = flagListen
	}
	if flags.Changed("data") {
		cfg.DataDir = flagDataDir
	}
	if flags.Changed("notify") {
		cfg.Notify = flagNotify
	}

	if cfg.Backend == "" {
		cfg.Backend = node.DefaultBaseURL
	}
	if clamped := chat.ClampInterval(cfg.RefreshInterval); clamped != cfg.RefreshInterval {
		if cfg.RefreshInterval > 0 {
			fmt.Fprintf(os.Stderr, "Refresh interval %s out of range, using %s\n", cfg.RefreshInterval, clamped)
		}
		cfg.RefreshInterval = clamped
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("cannot determine home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".peerview")
	}

	return cfg, nil
}

func (c Config) logDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c Config) dbPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

func (c Config) uploadDir() string {
	return filepath.Join(c.DataDir, "uploads")
}
