package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/udisondev/peerview/chat"
	"github.com/udisondev/peerview/node"
)

const maxStdinLength = 64 * 1024

var (
	sendTo       string
	searchBudget uint64
	downloadPeer string
)

var sendCmd = &cobra.Command{
	Use:   "send [text...]",
	Short: "Send a rumor, or a private message with --to",
	Long: `Send a message through the node. Without arguments the text is read
from stdin when stdin is not a terminal.`,
	RunE: runSend,
}

var searchCmd = &cobra.Command{
	Use:   "search keyword [keyword...]",
	Short: "Start a file search",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var downloadCmd = &cobra.Command{
	Use:   "download metahash filename",
	Short: "Ask the node to download a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runDownload,
}

var peerCmd = &cobra.Command{
	Use:   "peer ip:port",
	Short: "Add a peer to the node",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddPeer,
}

func init() {
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "Send a private message to this peer")
	searchCmd.Flags().Uint64Var(&searchBudget, "budget", 0, "Search budget, 0 lets the node expand it")
	downloadCmd.Flags().StringVarP(&downloadPeer, "peer", "p", "", "Peer to download from (default: search results)")

	for _, c := range []*cobra.Command{sendCmd, searchCmd, downloadCmd, peerCmd} {
		c.SilenceUsage = true
		rootCmd.AddCommand(c)
	}
}

// oneShot builds a Chat without history or notifications for a single submission.
func oneShot(cmd *cobra.Command, fn func(ctx context.Context, c *chat.Chat) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.Notify = false

	logFile, _, err := setupLogging(cfg, "cli", false)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c, err := openChat(cfg, false)
	if err != nil {
		return err
	}
	defer c.Close()

	slog.Info("Running command", "command", cmd.Name(), "backend", cfg.Backend)
	if err := fn(ctx, c); err != nil {
		slog.Error("Command failed", "command", cmd.Name(), "error", err)
		return err
	}
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	text, err := messageText(args, os.Stdin)
	if err != nil {
		return err
	}

	return oneShot(cmd, func(ctx context.Context, c *chat.Chat) error {
		if sendTo != "" {
			if err := c.SendPrivate(ctx, sendTo, text); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Private message sent to %s\n", sendTo)
			return nil
		}

		if err := c.SendMessage(ctx, text); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Rumor sent")
		return nil
	})
}

// messageText joins the arguments, or reads a piped stdin when there are none.
func messageText(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if term.IsTerminal(int(stdin.Fd())) {
		return "", fmt.Errorf("no message: pass it as arguments or pipe it to stdin")
	}

	data, err := io.ReadAll(io.LimitReader(stdin, maxStdinLength))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	text := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(text) == "" {
		return "", node.ErrEmptyMessage
	}
	return text, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	var keywords []string
	for _, arg := range args {
		keywords = append(keywords, strings.Split(arg, ",")...)
	}

	return oneShot(cmd, func(ctx context.Context, c *chat.Chat) error {
		if err := c.SearchFiles(ctx, keywords, searchBudget); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Search started")

		for _, hit := range c.Snapshot().SearchResults {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hit.Key, hit.Value)
		}
		return nil
	})
}

func runDownload(cmd *cobra.Command, args []string) error {
	req := node.DownloadRequest{
		Metahash: strings.TrimSpace(args[0]),
		Filename: strings.TrimSpace(args[1]),
		Peer:     downloadPeer,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	return oneShot(cmd, func(ctx context.Context, c *chat.Chat) error {
		t, err := c.DownloadFile(ctx, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Download of %s requested (%s)\n", t.FileName, t.ID)
		return nil
	})
}

func runAddPeer(cmd *cobra.Command, args []string) error {
	return oneShot(cmd, func(ctx context.Context, c *chat.Chat) error {
		if err := c.AddPeer(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Peer %s added\n", args[0])
		return nil
	})
}
