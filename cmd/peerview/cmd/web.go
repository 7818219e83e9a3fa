package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/udisondev/peerview/web"
)

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Serve the browser client",
	Long:  `Serve HTML pages for the node views and forward form posts to the node.`,
	Run:   runWeb,
}

func init() {
	webCmd.Flags().StringVarP(&flagListen, "listen", "l", "", "Listen address (default: 127.0.0.1:8000)")

	rootCmd.AddCommand(webCmd)
}

func runWeb(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		exitWithError("Configuration error", err)
	}
	// Browsers show their own page, desktop popups would duplicate it.
	cfg.Notify = false

	logFile, logPath, err := setupLogging(cfg, "web", true)
	if err != nil {
		exitWithError("Cannot set up logging", err)
	}
	defer logFile.Close()

	slog.Info("Starting peerview web", "backend", cfg.Backend, "listen", cfg.Listen, "interval", cfg.RefreshInterval, "logfile", logPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := openChat(cfg, false)
	if err != nil {
		slog.Error("Failed to start chat", "error", err)
		exitWithError("Failed to start chat", err)
	}
	defer c.Close()

	srv, err := web.NewServer(c, cfg.uploadDir())
	if err != nil {
		slog.Error("Failed to create web server", "error", err)
		exitWithError("Failed to create web server", err)
	}

	go c.Run(ctx)

	if err := srv.ListenAndServe(ctx, cfg.Listen); err != nil {
		slog.Error("Web server error", "error", err)
		exitWithError("Web server error", err)
	}

	slog.Info("Web server stopped")
}
