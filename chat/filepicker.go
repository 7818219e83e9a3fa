package chat

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var errSelectionCancelled = errors.New("cancelled")

// fileSelectedMsg reports the outcome of a file picker. An empty filePath
// with no error means the path has to be read from the fzf result file.
type fileSelectedMsg struct {
	filePath string
	startDir string
	err      error
}

type pickerKeyMap struct {
	Up     key.Binding
	Down   key.Binding
	Open   key.Binding
	Parent key.Binding
	Home   key.Binding
	Hidden key.Binding
	Cancel key.Binding
}

var pickerKeys = pickerKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Open:   key.NewBinding(key.WithKeys("enter")),
	Parent: key.NewBinding(key.WithKeys("backspace", "h")),
	Home:   key.NewBinding(key.WithKeys("g")),
	Hidden: key.NewBinding(key.WithKeys(".")),
	Cancel: key.NewBinding(key.WithKeys("esc")),
}

var (
	pickerHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("205")).
				Padding(0, 1)

	pickerDirStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	pickerSelectedStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("230"))

	pickerFaintStyle = lipgloss.NewStyle().Faint(true)
)

// FilePickerModel is a built-in directory browser used when fzf is missing
type FilePickerModel struct {
	dir        string
	entries    []fs.DirEntry
	selected   int
	height     int
	showHidden bool
	err        error
}

func NewFilePicker(startDir string) *FilePickerModel {
	if startDir == "" {
		startDir, _ = os.UserHomeDir()
	}

	fp := &FilePickerModel{dir: startDir, height: 20}
	fp.load()
	return fp
}

func (fp *FilePickerModel) load() {
	entries, err := os.ReadDir(fp.dir)
	fp.err = err
	if err != nil {
		entries = nil
	}

	if !fp.showHidden {
		entries = slices.DeleteFunc(entries, func(e fs.DirEntry) bool {
			return strings.HasPrefix(e.Name(), ".")
		})
	}

	// Directories first
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		if a.IsDir() != b.IsDir() {
			if a.IsDir() {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name(), b.Name())
	})

	fp.entries = entries
	fp.selected = max(0, min(fp.selected, len(entries)-1))
}

func (fp *FilePickerModel) chdir(dir string) {
	fp.dir = dir
	fp.selected = 0
	fp.load()
}

func (fp *FilePickerModel) SetHeight(h int) {
	fp.height = h
}

// Update moves through directories. Picking a file or cancelling returns a
// command producing fileSelectedMsg.
func (fp *FilePickerModel) Update(msg tea.KeyMsg) (*FilePickerModel, tea.Cmd) {
	switch {
	case key.Matches(msg, pickerKeys.Cancel):
		return fp, selectedCmd(fileSelectedMsg{err: errSelectionCancelled})

	case key.Matches(msg, pickerKeys.Up):
		if fp.selected > 0 {
			fp.selected--
		}

	case key.Matches(msg, pickerKeys.Down):
		if fp.selected < len(fp.entries)-1 {
			fp.selected++
		}

	case key.Matches(msg, pickerKeys.Open):
		if len(fp.entries) == 0 {
			break
		}
		entry := fp.entries[fp.selected]
		path := filepath.Join(fp.dir, entry.Name())
		if entry.IsDir() {
			fp.chdir(path)
			break
		}
		return fp, selectedCmd(fileSelectedMsg{filePath: path, startDir: fp.dir})

	case key.Matches(msg, pickerKeys.Parent):
		if parent := filepath.Dir(fp.dir); parent != fp.dir {
			fp.chdir(parent)
		}

	case key.Matches(msg, pickerKeys.Home):
		home, _ := os.UserHomeDir()
		fp.chdir(home)

	case key.Matches(msg, pickerKeys.Hidden):
		fp.showHidden = !fp.showHidden
		fp.load()
	}

	return fp, nil
}

func selectedCmd(msg fileSelectedMsg) tea.Cmd {
	return func() tea.Msg { return msg }
}

func (fp *FilePickerModel) View() string {
	var b strings.Builder

	b.WriteString(pickerHeaderStyle.Render("Select file to share") + "\n")
	b.WriteString(pickerFaintStyle.Render(fp.dir) + "\n\n")

	if fp.err != nil {
		b.WriteString(errorStyle.Render(fp.err.Error()) + "\n")
	}
	if len(fp.entries) == 0 && fp.err == nil {
		b.WriteString(pickerFaintStyle.Render("  (empty)") + "\n")
	}

	// Keep the selection in the middle of the visible window
	visible := max(5, fp.height-8)
	start := max(0, fp.selected-visible/2)
	end := min(len(fp.entries), start+visible)
	start = max(0, end-visible)

	if start > 0 {
		b.WriteString(pickerFaintStyle.Render(fmt.Sprintf("  ... %d more above", start)) + "\n")
	}
	for i := start; i < end; i++ {
		entry := fp.entries[i]
		line := entry.Name()
		if entry.IsDir() {
			line = pickerDirStyle.Render(line + "/")
		} else if info, err := entry.Info(); err == nil {
			line += pickerFaintStyle.Render(" (" + formatSize(info.Size()) + ")")
		}

		if i == fp.selected {
			b.WriteString(pickerSelectedStyle.Render("> "+entry.Name()) + "\n")
		} else {
			b.WriteString("  " + line + "\n")
		}
	}
	if end < len(fp.entries) {
		b.WriteString(pickerFaintStyle.Render(fmt.Sprintf("  ... %d more below", len(fp.entries)-end)) + "\n")
	}

	b.WriteString("\n" + pickerFaintStyle.Render("↑/↓: navigate • enter: open/select • backspace: parent • g: home • .: hidden files • esc: cancel"))
	return b.String()
}

func formatSize(size int64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d B", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	case size < 1024*1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
	return fmt.Sprintf("%.1f GB", float64(size)/(1024*1024*1024))
}
