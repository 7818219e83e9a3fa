package chat

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

func fzfResultPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("peerview-upload-selection-%d", os.Getpid()))
}

// CreateFzfCommand suspends the TUI and runs fd | fzf in startDir
func CreateFzfCommand(startDir string) tea.Cmd {
	if startDir == "" {
		startDir, _ = os.UserHomeDir()
	}

	return tea.ExecProcess(createFzfCmd(startDir), func(err error) tea.Msg {
		var exitErr *exec.ExitError
		// fzf exits with 130 on esc or ctrl+c
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 130 {
			return fileSelectedMsg{startDir: startDir, err: errSelectionCancelled}
		}
		return fileSelectedMsg{startDir: startDir, err: err}
	})
}

func createFzfCmd(startDir string) *exec.Cmd {
	shellCmd := fmt.Sprintf(`
cd %s && \
fd --type f --hidden --exclude .git --color always . | \
fzf --height 80%% --reverse --border \
  --prompt 'Share file: ' \
  --header 'enter: select | esc: cancel | tab: preview' \
  --preview 'head -n 100 {}' \
  --preview-window 'right:50%%:wrap' \
  --ansi --info inline \
  --bind 'tab:toggle-preview' \
  > %s
`,
		escapeShellArg(startDir),
		escapeShellArg(fzfResultPath()))

	return exec.Command("sh", "-c", shellCmd)
}

// ReadFzfResult returns the absolute path picked in fzf
func ReadFzfResult(startDir string) (string, error) {
	resultFile := fzfResultPath()
	defer os.Remove(resultFile)

	data, err := os.ReadFile(resultFile)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errSelectionCancelled
		}
		return "", fmt.Errorf("read selection: %w", err)
	}

	selected := strings.TrimSpace(string(data))
	if selected == "" {
		return "", errSelectionCancelled
	}
	if !filepath.IsAbs(selected) {
		selected = filepath.Join(startDir, selected)
	}

	return selected, nil
}

func escapeShellArg(arg string) string {
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

// CheckFzfInstalled reports whether fzf and fd are on PATH
func CheckFzfInstalled() error {
	if _, err := exec.LookPath("fzf"); err != nil {
		return fmt.Errorf("fzf not installed")
	}
	if _, err := exec.LookPath("fd"); err != nil {
		return fmt.Errorf("fd not installed")
	}
	return nil
}
