package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/udisondev/peerview/chat"
	"github.com/udisondev/peerview/node"
)

func runChat(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitWithError("Configuration error", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		exitWithError("Cannot create data directory", err)
	}

	logFile, logPath, err := setupLogging(cfg, "chat", false)
	if err != nil {
		exitWithError("Cannot set up logging", err)
	}
	defer logFile.Close()

	slog.Info("Starting peerview", "backend", cfg.Backend, "interval", cfg.RefreshInterval, "logfile", logPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := openChat(cfg, true)
	if err != nil {
		slog.Error("Failed to start chat", "error", err)
		exitWithError("Failed to start chat", err)
	}
	defer c.Close()

	fmt.Printf("Connecting to node at %s...\n", cfg.Backend)
	// Views the node fails to serve show up as stale in the TUI
	go c.Run(ctx)

	slog.Info("Starting TUI")
	if err := chat.RunTUI(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("TUI error", "error", err)
		exitWithError("TUI error", err)
	}

	slog.Info("Chat exiting gracefully")
}

// openChat wires the node client, history database and notifier into a Chat.
func openChat(cfg Config, withStorage bool) (*chat.Chat, error) {
	client, err := node.NewClient(cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("node client: %w", err)
	}

	var storage *chat.Storage
	if withStorage {
		slog.Debug("Opening database", "path", cfg.dbPath())
		storage, err = chat.NewStorage(cfg.dbPath())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		slog.Info("Database opened", "path", cfg.dbPath())
	}

	opts := []chat.Option{chat.WithInterval(cfg.RefreshInterval)}
	if cfg.Notify {
		opts = append(opts, chat.WithNotifier(chat.DesktopNotifier{}))
	}

	return chat.NewChat(client, storage, opts...), nil
}
