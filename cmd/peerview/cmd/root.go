package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "peerview",
	Short: "peerview - client for a Peerster node",
	Long: `peerview talks to the HTTP API of a running Peerster node.

By default, running 'peerview' starts the terminal client.
Use 'peerview web' to serve the browser client instead.`,
	Run: runChat,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "", "Node API address (default: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringVarP(&flagDataDir, "data", "d", "", "Base directory (default: ~/.peerview)")
	rootCmd.PersistentFlags().DurationVarP(&flagInterval, "interval", "i", 0, "Refresh interval, 1s to 10s (default: 5s)")
	rootCmd.Flags().BoolVar(&flagNotify, "notify", true, "Desktop notifications for private messages")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// setupLogging points slog at a fresh log file under the data directory.
// The terminal client owns stdout, so only the web server also logs there.
func setupLogging(cfg Config, name string, toStdout bool) (*os.File, string, error) {
	if err := os.MkdirAll(cfg.logDir(), 0755); err != nil {
		return nil, "", fmt.Errorf("create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("%s-%s.log", name, time.Now().Format("2006-01-02_15-04-05"))
	logPath := filepath.Join(cfg.logDir(), logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}

	var out io.Writer = logFile
	if toStdout {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	return logFile, logPath, nil
}

func exitWithError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "❌ %s: %v\n", msg, err)
	os.Exit(1)
}
