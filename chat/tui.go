package chat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/udisondev/peerview/node"
)

// Focus panels
type focusPanel int

const (
	focusConversations focusPanel = iota
	focusMessages
	focusInput
)

// View modes
type viewMode int

const (
	viewMain viewMode = iota
	viewPeers
	viewShowMyID
	viewFileSearch
	viewConfirmed
	viewTransfers
	viewFilePicker
	viewSearch
)

// File search form fields
const (
	searchFieldKeywords = iota
	searchFieldBudget
	searchFieldResults
	searchFieldCount
)

const (
	historyLimit  = 100
	transferLimit = 50
	maxListRows   = 20
)

// conversation is one entry of the left panel, the rumor feed has PublicThread as peer
type conversation struct {
	peer   string
	via    string
	unread int
}

func (c conversation) title() string {
	if c.peer == PublicThread {
		return "# public"
	}
	return c.peer
}

// threadLine is one message of the open conversation
type threadLine struct {
	origin   string
	text     string
	outgoing bool
}

// model represents TUI state
type model struct {
	ctx              context.Context
	chat             *Chat
	snap             Snapshot
	mode             viewMode
	focus            focusPanel
	conversations    []conversation
	current          string
	viewport         viewport.Model
	textarea         textarea.Model
	peerInput        textarea.Model
	keywordsInput    textarea.Model
	budgetInput      textarea.Model
	searchField      int
	selectedResult   int
	historyInput     textarea.Model
	historyResults   []*SearchResult
	selectedHistory  int
	transfers        []*Transfer
	selectedTransfer int
	filePicker       *FilePickerModel
	width            int
	height           int
	ready            bool
	statusMsg        string
	error            string
	sidebarWidth     int
}

// Styles
var (
	// Panel borders
	activeBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("62"))

	inactiveBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	itemStyle = lipgloss.NewStyle().
			Padding(0, 1)

	selectedItemStyle = lipgloss.NewStyle().
				Padding(0, 1).
				Background(lipgloss.Color("62")).
				Foreground(lipgloss.Color("230")).
				Bold(true)

	unreadStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	// Messages
	messageOutgoingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("12"))

	messageIncomingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("10"))

	originStyle = lipgloss.NewStyle().
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Padding(0, 1)

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Padding(0, 1)
)

func newLineInput(placeholder string, limit, width int) textarea.Model {
	in := textarea.New()
	in.Placeholder = placeholder
	in.Prompt = "> "
	in.CharLimit = limit
	in.SetWidth(width)
	in.SetHeight(1)
	in.ShowLineNumbers = false
	return in
}

// NewTUI creates a new TUI model
func NewTUI(ctx context.Context, chat *Chat) *model {
	ta := textarea.New()
	ta.Placeholder = "Type a message... (Ctrl+S to send)"
	ta.Prompt = "│ "
	ta.CharLimit = 1000
	ta.SetWidth(30)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false
	ta.KeyMap.InsertNewline.SetEnabled(true)
	ta.Blur()

	m := &model{
		ctx:           ctx,
		chat:          chat,
		mode:          viewMain,
		focus:         focusConversations,
		current:       PublicThread,
		textarea:      ta,
		peerInput:     newLineInput("ip:port", 64, 50),
		keywordsInput: newLineInput("keywords, comma separated", 200, 50),
		budgetInput:   newLineInput("budget (empty: expanding search)", 20, 50),
		historyInput:  newLineInput("Search history...", 100, 70),
		viewport:      viewport.New(30, 20),
		sidebarWidth:  30,
	}
	m.applySnapshot(chat.Snapshot())

	return m
}

// Init initializes TUI
func (m *model) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.tick(),
		m.waitForChatEvents,
	)
}

// Update handles messages
func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		chatWidth := msg.Width - m.sidebarWidth - 4
		m.viewport.Width = chatWidth - 4
		m.viewport.Height = msg.Height - 11
		m.textarea.SetWidth(chatWidth - 4)
		if m.filePicker != nil {
			m.filePicker.SetHeight(msg.Height)
		}
		m.ready = true
		m.updateViewport()

	case tea.KeyMsg:
		switch m.mode {
		case viewMain:
			return m.updateMainView(msg)
		case viewPeers:
			return m.updatePeersView(msg)
		case viewShowMyID:
			return m.updateShowMyIDView(msg)
		case viewFileSearch:
			return m.updateFileSearchView(msg)
		case viewConfirmed:
			return m.updateListView(msg)
		case viewTransfers:
			return m.updateTransfersView(msg)
		case viewFilePicker:
			return m.updateFilePickerView(msg)
		case viewSearch:
			return m.updateSearchView(msg)
		}

	case refreshTickMsg:
		if m.current != PublicThread {
			m.chat.Watch(m.current)
		}
		m.applySnapshot(m.chat.Snapshot())
		return m, m.tick()

	case threadLoadedMsg:
		if msg.err != nil {
			m.error = msg.err.Error()
		}
		m.applySnapshot(m.chat.Snapshot())

	case submittedMsg:
		var reload tea.Cmd
		if m.mode == viewTransfers {
			reload = m.loadTransfers
		}
		if msg.err != nil {
			m.error = msg.err.Error()
			m.statusMsg = ""
			if msg.draft != "" && m.textarea.Value() == "" {
				m.textarea.SetValue(msg.draft)
			}
			return m, reload
		}
		m.error = ""
		m.statusMsg = msg.status
		m.applySnapshot(m.chat.Snapshot())
		return m, reload

	case transfersLoadedMsg:
		m.transfers = msg.transfers
		if m.selectedTransfer >= len(m.transfers) {
			m.selectedTransfer = max(len(m.transfers)-1, 0)
		}

	case chatEventMsg:
		return m.handleChatEvent(msg.event)

	case statusMsg:
		m.statusMsg = string(msg)
		m.error = ""

	case errorMsg:
		m.error = string(msg)
		m.statusMsg = ""

	case fileSelectedMsg:
		return m.handleFileSelected(msg)
	}

	return m, nil
}

// View renders UI
func (m *model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	switch m.mode {
	case viewMain:
		return m.viewMain()
	case viewPeers:
		return m.viewPeers()
	case viewShowMyID:
		return m.viewShowMyID()
	case viewFileSearch:
		return m.viewFileSearch()
	case viewConfirmed:
		return m.viewConfirmed()
	case viewTransfers:
		return m.viewTransfers()
	case viewFilePicker:
		if m.filePicker == nil {
			return "File picker not initialized"
		}
		return m.filePicker.View()
	case viewSearch:
		return m.viewSearch()
	}

	return ""
}

func (m *model) viewMain() string {
	mainView := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderConversationsPanel(),
		m.renderChatPanel(),
	)

	return lipgloss.JoinVertical(lipgloss.Left, mainView, m.renderStatusBar())
}

func (m *model) renderConversationsPanel() string {
	var b strings.Builder

	title := "Conversations"
	if m.snap.ID != "" {
		title = m.snap.ID
	}
	b.WriteString(headerStyle.Render(title) + "\n")

	rows := m.height - 5
	for i, conv := range m.conversations {
		if i >= rows {
			break
		}

		style := itemStyle
		if conv.peer == m.current {
			style = selectedItemStyle
		}

		name := conv.title()
		maxNameLen := m.sidebarWidth - 8
		if len(name) > maxNameLen && maxNameLen > 3 {
			name = name[:maxNameLen-3] + "..."
		}

		line := name
		if conv.unread > 0 {
			line += unreadStyle.Render(fmt.Sprintf(" (%d)", conv.unread))
		}
		b.WriteString(style.Render(line) + "\n")
	}

	if len(m.conversations) == 1 {
		b.WriteString(statusBarStyle.Render("No contacts yet. Press 'p' to add a peer.") + "\n")
	}

	borderStyle := inactiveBorderStyle
	if m.focus == focusConversations {
		borderStyle = activeBorderStyle
	}

	return borderStyle.Width(m.sidebarWidth).Height(m.height - 2).Render(b.String())
}

func (m *model) renderChatPanel() string {
	chatWidth := m.width - m.sidebarWidth - 4
	separator := strings.Repeat("─", max(0, chatWidth-4))

	var b strings.Builder

	header := "Public rumors"
	if conv, ok := m.currentConversation(); ok && conv.peer != PublicThread {
		header = conv.peer
		if conv.via != "" {
			header += statusBarStyle.Render("via " + conv.via)
		}
	}
	b.WriteString(headerStyle.Render(header) + "\n")

	messagesIndicator := "Messages"
	if m.focus == focusMessages {
		messagesIndicator = "Messages [active]"
	}
	b.WriteString(statusBarStyle.Render(messagesIndicator) + "\n")
	b.WriteString(separator + "\n")
	b.WriteString(m.viewport.View() + "\n")
	b.WriteString(separator + "\n")

	inputIndicator := "Input"
	if m.focus == focusInput {
		inputIndicator = "Input [active]"
	}
	b.WriteString(statusBarStyle.Render(inputIndicator) + "\n")
	b.WriteString(m.textarea.View())

	borderStyle := inactiveBorderStyle
	if m.focus == focusMessages || m.focus == focusInput {
		borderStyle = activeBorderStyle
	}

	return borderStyle.Width(chatWidth).Height(m.height - 2).Render(b.String())
}

func (m *model) renderStatusBar() string {
	if m.error != "" {
		return errorStyle.Render("Error: " + m.error)
	}
	if stale := staleViews(m.snap); stale != "" {
		return staleStyle.Render("Node unreachable, showing last data for: " + stale)
	}
	if m.statusMsg != "" {
		return statusBarStyle.Render(m.statusMsg)
	}

	var helpText string
	switch m.focus {
	case focusConversations:
		helpText = "enter: open • ↑/↓: select • p: peers • s: find files • u: upload • c: confirmed • t: transfers • i: my ID • /: history • r: refresh • q: quit"
	case focusMessages:
		helpText = "↑/↓: scroll • /: search history • tab: next panel"
	case focusInput:
		helpText = "ctrl+s: send • tab: next panel"
	}
	return statusBarStyle.Render(helpText)
}

func staleViews(snap Snapshot) string {
	return strings.Join(snap.StaleViews(), ", ")
}

func (m *model) updateMainView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit

	case "q":
		if m.focus != focusInput {
			return m, tea.Quit
		}

	case "tab":
		m.focus = (m.focus + 1) % 3
		if m.focus == focusInput {
			m.textarea.Focus()
		} else {
			m.textarea.Blur()
		}
		return m, nil

	case "/":
		if m.focus != focusInput {
			m.mode = viewSearch
			m.historyInput.Reset()
			m.historyInput.Focus()
			m.historyResults = nil
			m.selectedHistory = 0
			m.error = ""
			return m, nil
		}
	}

	switch m.focus {
	case focusConversations:
		return m.updateConversationsFocus(msg)
	case focusMessages:
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case focusInput:
		return m.updateInputFocus(msg)
	}

	return m, nil
}

func (m *model) updateConversationsFocus(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	idx := m.currentIndex()

	switch msg.String() {
	case "enter":
		m.focus = focusInput
		m.textarea.Focus()
		return m, m.openThread(m.current)

	case "up", "k":
		if idx > 0 {
			m.current = m.conversations[idx-1].peer
			return m, m.openThread(m.current)
		}

	case "down", "j":
		if idx < len(m.conversations)-1 {
			m.current = m.conversations[idx+1].peer
			return m, m.openThread(m.current)
		}

	case "p":
		m.mode = viewPeers
		m.peerInput.Reset()
		m.peerInput.Focus()
		m.error = ""

	case "i":
		m.mode = viewShowMyID
		m.error = ""

	case "s":
		m.mode = viewFileSearch
		m.searchField = searchFieldKeywords
		m.selectedResult = 0
		m.keywordsInput.Focus()
		m.budgetInput.Blur()
		m.error = ""

	case "c":
		m.mode = viewConfirmed
		m.error = ""

	case "t":
		m.mode = viewTransfers
		m.selectedTransfer = 0
		m.error = ""
		return m, m.loadTransfers

	case "r":
		return m, m.refreshNow

	case "u":
		m.error = ""
		if err := CheckFzfInstalled(); err == nil {
			startDir, _ := os.UserHomeDir()
			return m, CreateFzfCommand(startDir)
		}
		m.filePicker = NewFilePicker("")
		m.filePicker.SetHeight(m.height)
		m.mode = viewFilePicker
	}

	return m, nil
}

func (m *model) updateInputFocus(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+s" {
		text := strings.TrimSpace(m.textarea.Value())
		if text == "" {
			return m, nil
		}
		m.textarea.Reset()
		return m, m.send(m.current, text)
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m *model) viewPeers() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Peers") + "\n\n")
	if len(m.snap.Peers) == 0 {
		b.WriteString(statusBarStyle.Render("  No peers") + "\n")
	}
	for _, e := range m.snap.Peers {
		b.WriteString("  " + e.Value + "\n")
	}

	b.WriteString("\n  Add peer:\n\n")
	b.WriteString("  " + m.peerInput.View() + "\n\n")
	b.WriteString(statusBarStyle.Render("  enter: add • esc: back") + "\n")

	if m.error != "" {
		b.WriteString("\n" + errorStyle.Render(m.error))
	} else if m.statusMsg != "" {
		b.WriteString("\n" + statusBarStyle.Render(m.statusMsg))
	}

	return b.String()
}

func (m *model) updatePeersView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.mode = viewMain
		m.peerInput.Blur()
		return m, nil

	case "enter":
		addr := strings.TrimSpace(m.peerInput.Value())
		if addr == "" {
			m.error = "Peer address cannot be empty"
			return m, nil
		}
		m.peerInput.Reset()
		return m, m.submit("Peer added", "", func(ctx context.Context) error {
			return m.chat.AddPeer(ctx, addr)
		})
	}

	m.peerInput, cmd = m.peerInput.Update(msg)
	return m, cmd
}

func (m *model) viewShowMyID() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("My ID") + "\n\n")
	if m.snap.ID == "" {
		b.WriteString(statusBarStyle.Render("  unknown, node not reached yet") + "\n\n")
	} else {
		b.WriteString("  " + m.snap.ID + "\n\n")
	}
	b.WriteString(statusBarStyle.Render("  y: copy to clipboard • any other key: back") + "\n")

	return b.String()
}

func (m *model) updateShowMyIDView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mode = viewMain
	if msg.String() == "y" && m.snap.ID != "" {
		if err := clipboard.WriteAll(m.snap.ID); err != nil {
			m.error = fmt.Sprintf("Copy failed: %v", err)
			return m, nil
		}
		m.statusMsg = "ID copied to clipboard"
	}
	return m, nil
}

func (m *model) viewFileSearch() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Find Files") + "\n\n")
	b.WriteString("  " + m.keywordsInput.View() + "\n")
	b.WriteString("  " + m.budgetInput.View() + "\n\n")

	results := m.snap.SearchResults
	if len(results) == 0 {
		b.WriteString(statusBarStyle.Render("  No matches yet") + "\n")
	} else {
		b.WriteString(lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("  %d matches:", len(results))) + "\n\n")
	}
	for i, e := range results {
		if i >= maxListRows {
			b.WriteString(statusBarStyle.Render(fmt.Sprintf("  ... and %d more", len(results)-maxListRows)) + "\n")
			break
		}
		style := itemStyle
		if m.searchField == searchFieldResults && i == m.selectedResult {
			style = selectedItemStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("%s  %s", e.Value, shortHash(e.Key))) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render("  tab: next field • enter: search / download selected • esc: back") + "\n")

	if m.error != "" {
		b.WriteString("\n" + errorStyle.Render(m.error))
	} else if m.statusMsg != "" {
		b.WriteString("\n" + statusBarStyle.Render(m.statusMsg))
	}

	return b.String()
}

func shortHash(h string) string {
	if len(h) <= 12 {
		return h
	}
	return h[:12] + "…"
}

// ParseBudget reads a file search budget, empty means zero
func ParseBudget(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	budget, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("budget must be a non-negative number")
	}
	return budget, nil
}

func (m *model) updateFileSearchView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.mode = viewMain
		m.keywordsInput.Blur()
		m.budgetInput.Blur()
		return m, nil

	case "tab":
		m.searchField = (m.searchField + 1) % searchFieldCount
		m.keywordsInput.Blur()
		m.budgetInput.Blur()
		switch m.searchField {
		case searchFieldKeywords:
			m.keywordsInput.Focus()
		case searchFieldBudget:
			m.budgetInput.Focus()
		}
		return m, nil

	case "enter":
		if m.searchField == searchFieldResults {
			return m, m.downloadSelected()
		}

		keywords := strings.TrimSpace(m.keywordsInput.Value())
		if keywords == "" {
			m.error = "Enter at least one keyword"
			return m, nil
		}
		budget, err := ParseBudget(m.budgetInput.Value())
		if err != nil {
			m.error = err.Error()
			return m, nil
		}
		m.selectedResult = 0
		return m, m.submit("Search started", "", func(ctx context.Context) error {
			return m.chat.SearchFiles(ctx, strings.Split(keywords, ","), budget)
		})

	case "up", "k":
		if m.searchField == searchFieldResults {
			if m.selectedResult > 0 {
				m.selectedResult--
			}
			return m, nil
		}

	case "down", "j":
		if m.searchField == searchFieldResults {
			if m.selectedResult < len(m.snap.SearchResults)-1 {
				m.selectedResult++
			}
			return m, nil
		}
	}

	switch m.searchField {
	case searchFieldKeywords:
		m.keywordsInput, cmd = m.keywordsInput.Update(msg)
	case searchFieldBudget:
		m.budgetInput, cmd = m.budgetInput.Update(msg)
	}
	return m, cmd
}

func (m *model) downloadSelected() tea.Cmd {
	results := m.snap.SearchResults
	if m.selectedResult >= len(results) {
		return nil
	}
	hit := results[m.selectedResult]
	req := node.DownloadRequest{Metahash: hit.Key, Filename: hit.Value}

	return m.submit("Download requested: "+hit.Value, "", func(ctx context.Context) error {
		_, err := m.chat.DownloadFile(ctx, req)
		return err
	})
}

func (m *model) viewConfirmed() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Confirmed Files") + "\n\n")
	if len(m.snap.Confirmed) == 0 {
		b.WriteString(statusBarStyle.Render("  Nothing confirmed yet") + "\n")
	}
	for _, e := range m.snap.Confirmed {
		b.WriteString(fmt.Sprintf("  %s  %s\n", originStyle.Render(e.Value.Origin), e.Value.TxBlock.Transaction.Name))
	}
	b.WriteString("\n" + statusBarStyle.Render("  esc: back") + "\n")

	return b.String()
}

func (m *model) viewTransfers() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Transfers") + "\n\n")
	if len(m.transfers) == 0 {
		b.WriteString(statusBarStyle.Render("  No transfers") + "\n")
	}
	for i, t := range m.transfers {
		if i >= maxListRows {
			break
		}
		line := fmt.Sprintf("%s  %-8s %-10s %s", t.RequestedAt.Format("Jan 02 15:04"), t.Kind, t.Status, t.FileName)
		if i == m.selectedTransfer {
			line = selectedItemStyle.Render(line)
		} else {
			line = itemStyle.Render(line)
		}
		if t.Error != "" {
			line += " " + errorStyle.Render(t.Error)
		}
		b.WriteString(line + "\n")
	}
	if m.statusMsg != "" {
		b.WriteString("\n" + unreadStyle.Render("  "+m.statusMsg) + "\n")
	}
	b.WriteString("\n" + statusBarStyle.Render("  ↑/↓: select • enter: retry failed download • esc: back") + "\n")

	return b.String()
}

func (m *model) updateTransfersView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.mode = viewMain
	case "up":
		if m.selectedTransfer > 0 {
			m.selectedTransfer--
		}
	case "down":
		if m.selectedTransfer < min(len(m.transfers), maxListRows)-1 {
			m.selectedTransfer++
		}
	case "enter":
		if m.selectedTransfer >= len(m.transfers) {
			return m, nil
		}
		t := m.transfers[m.selectedTransfer]
		return m, m.submit("Download of "+t.FileName+" requested again", "", func(ctx context.Context) error {
			return m.chat.RetryDownload(ctx, t)
		})
	}
	return m, nil
}

func (m *model) updateListView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q", "enter":
		m.mode = viewMain
	}
	return m, nil
}

func (m *model) updateFilePickerView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.filePicker == nil {
		m.mode = viewMain
		return m, nil
	}

	var cmd tea.Cmd
	m.filePicker, cmd = m.filePicker.Update(msg)
	return m, cmd
}

func (m *model) handleFileSelected(msg fileSelectedMsg) (tea.Model, tea.Cmd) {
	m.mode = viewMain
	m.filePicker = nil

	if errors.Is(msg.err, errSelectionCancelled) {
		return m, nil
	}
	if msg.err != nil {
		m.error = fmt.Sprintf("File selection error: %v", msg.err)
		return m, nil
	}

	filePath := msg.filePath
	if filePath == "" {
		var err error
		if filePath, err = ReadFzfResult(msg.startDir); err != nil {
			if !errors.Is(err, errSelectionCancelled) {
				m.error = fmt.Sprintf("Failed to read selection: %v", err)
			}
			return m, nil
		}
	}

	m.statusMsg = "Uploading..."
	return m, m.submit("Shared: "+filePath, "", func(ctx context.Context) error {
		_, err := m.chat.UploadFile(ctx, filePath)
		return err
	})
}

func (m *model) viewSearch() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Search History") + "\n\n")
	b.WriteString("  " + m.historyInput.View() + "\n\n")

	if len(m.historyResults) > 0 {
		b.WriteString(lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("  Found %d results:", len(m.historyResults))) + "\n\n")

		for i, result := range m.historyResults {
			if i >= maxListRows {
				b.WriteString(statusBarStyle.Render(fmt.Sprintf("  ... and more results (showing first %d)", maxListRows)))
				break
			}

			style := itemStyle
			if i == m.selectedHistory {
				style = selectedItemStyle
			}

			text := strings.ReplaceAll(result.Text, "\n", " ")
			if len(text) > 100 {
				text = text[:97] + "..."
			}

			thread := conversation{peer: result.Thread}.title()
			line := fmt.Sprintf("[%s] %s %s: %s", result.Timestamp.Format("Jan 02 15:04"), thread, result.Origin, text)
			b.WriteString(style.Render(line) + "\n")
		}
	} else if m.historyInput.Value() != "" {
		b.WriteString(statusBarStyle.Render("  No results found") + "\n")
	}

	b.WriteString("\n")
	b.WriteString(statusBarStyle.Render("  enter: search / open thread • ↑/↓: select result • esc: cancel") + "\n")

	if m.error != "" {
		b.WriteString("\n" + errorStyle.Render(m.error))
	}

	return b.String()
}

func (m *model) updateSearchView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg.String() {
	case "esc":
		m.mode = viewMain
		m.historyInput.Blur()
		return m, nil

	case "enter":
		if len(m.historyResults) > 0 && m.selectedHistory < len(m.historyResults) {
			result := m.historyResults[m.selectedHistory]
			m.current = result.Thread
			m.mode = viewMain
			m.focus = focusMessages
			m.historyInput.Blur()
			return m, m.openThread(result.Thread)
		}

		query := strings.TrimSpace(m.historyInput.Value())
		if query != "" {
			results, err := m.chat.SearchMessages(query, historyLimit)
			if err != nil {
				m.error = fmt.Sprintf("Search error: %v", err)
				return m, nil
			}
			m.historyResults = results
			m.selectedHistory = 0
		}
		return m, nil

	case "up":
		if m.selectedHistory > 0 {
			m.selectedHistory--
		}
		return m, nil

	case "down":
		if m.selectedHistory < len(m.historyResults)-1 {
			m.selectedHistory++
		}
		return m, nil
	}

	m.historyInput, cmd = m.historyInput.Update(msg)
	return m, cmd
}

func (m *model) handleChatEvent(event ChatEvent) (tea.Model, tea.Cmd) {
	switch event.Type {
	case ChatEventViewUpdated, ChatEventRumorReceived, ChatEventMessageSent,
		ChatEventPeerAdded, ChatEventSearchStarted:
		m.applySnapshot(m.chat.Snapshot())

	case ChatEventPrivateReceived:
		if event.Peer == m.current && m.mode == viewMain {
			m.chat.MarkAsRead(event.Peer)
		} else {
			m.statusMsg = "New message from " + event.Peer
		}
		m.applySnapshot(m.chat.Snapshot())

	case ChatEventTransferRequested:
		m.statusMsg = fmt.Sprintf("%s requested: %s", event.Transfer.Kind, event.Transfer.FileName)

	case ChatEventTransferFailed:
		m.error = fmt.Sprintf("%s of %s failed: %v", event.Transfer.Kind, event.Transfer.FileName, event.Error)

	case ChatEventError:
		// Refresh failures are logged and shown as stale views
		m.snap.Errors = m.chat.Snapshot().Errors
	}

	// Always wait for the next event
	return m, m.waitForChatEvents
}

// applySnapshot rebuilds everything derived from the chat state
func (m *model) applySnapshot(snap Snapshot) {
	m.snap = snap
	m.conversations = buildConversations(snap, func(peer string) int {
		n, _ := m.chat.GetUnreadCount(peer)
		return n
	})
	if m.currentIndex() < 0 {
		m.current = PublicThread
	}
	m.updateViewport()
}

// buildConversations lists the rumor feed first, then every known contact and
// every peer with a loaded private thread
func buildConversations(snap Snapshot, unread func(string) int) []conversation {
	convs := []conversation{{peer: PublicThread}}
	seen := map[string]bool{}

	for _, e := range snap.Contacts {
		if e.Key == "" || e.Key == snap.ID || seen[e.Key] {
			continue
		}
		seen[e.Key] = true
		convs = append(convs, conversation{peer: e.Key, via: e.Value})
	}

	var extra []string
	for peer := range snap.Private {
		if !seen[peer] {
			extra = append(extra, peer)
		}
	}
	slices.Sort(extra)
	for _, peer := range extra {
		convs = append(convs, conversation{peer: peer})
	}

	if unread != nil {
		for i := range convs[1:] {
			convs[i+1].unread = unread(convs[i+1].peer)
		}
	}
	return convs
}

// threadLines returns the messages of a conversation in display order
func threadLines(snap Snapshot, peer string) []threadLine {
	var lines []threadLine
	if peer == PublicThread {
		for _, e := range snap.Rumors {
			if e.Value.Text == "" {
				continue
			}
			lines = append(lines, threadLine{origin: e.Value.Origin, text: e.Value.Text, outgoing: e.Value.Origin == snap.ID})
		}
		return lines
	}

	for _, e := range snap.Private[peer] {
		lines = append(lines, threadLine{origin: e.Value.Origin, text: e.Value.Text, outgoing: e.Value.Origin == snap.ID})
	}
	return lines
}

func (m *model) currentIndex() int {
	return slices.IndexFunc(m.conversations, func(c conversation) bool { return c.peer == m.current })
}

func (m *model) currentConversation() (conversation, bool) {
	if i := m.currentIndex(); i >= 0 {
		return m.conversations[i], true
	}
	return conversation{}, false
}

func (m *model) updateViewport() {
	lines := threadLines(m.snap, m.current)

	var b strings.Builder
	if len(lines) == 0 {
		b.WriteString(statusBarStyle.Render("No messages"))
	}
	for _, l := range lines {
		style := messageIncomingStyle
		origin := l.origin
		if l.outgoing {
			style = messageOutgoingStyle
			origin = "You"
		}
		b.WriteString(style.Render(originStyle.Render(origin)+": "+l.text) + "\n")
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// Commands

type refreshTickMsg time.Time

func (m *model) tick() tea.Cmd {
	return tea.Tick(m.chat.Interval(), func(t time.Time) tea.Msg {
		return refreshTickMsg(t)
	})
}

func (m *model) refreshNow() tea.Msg {
	if err := m.chat.Refresh(m.ctx); err != nil {
		return errorMsg(err.Error())
	}
	return statusMsg("Refreshed")
}

type threadLoadedMsg struct {
	peer string
	err  error
}

func (m *model) openThread(peer string) tea.Cmd {
	if peer == PublicThread {
		m.updateViewport()
		return nil
	}
	return func() tea.Msg {
		_, err := m.chat.PrivateThread(m.ctx, peer)
		if err == nil {
			m.chat.MarkAsRead(peer)
		}
		return threadLoadedMsg{peer: peer, err: err}
	}
}

type submittedMsg struct {
	status string
	draft  string
	err    error
}

// submit runs a node submission outside the update loop
func (m *model) submit(status, draft string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		return submittedMsg{status: status, draft: draft, err: fn(m.ctx)}
	}
}

func (m *model) send(peer, text string) tea.Cmd {
	if peer == PublicThread {
		return m.submit("Rumor sent", text, func(ctx context.Context) error {
			return m.chat.SendMessage(ctx, text)
		})
	}
	return m.submit("Sent to "+peer, text, func(ctx context.Context) error {
		return m.chat.SendPrivate(ctx, peer, text)
	})
}

type transfersLoadedMsg struct {
	transfers []*Transfer
}

func (m *model) loadTransfers() tea.Msg {
	transfers, err := m.chat.Transfers(transferLimit)
	if err != nil {
		return errorMsg(err.Error())
	}
	return transfersLoadedMsg{transfers}
}

type chatEventMsg struct {
	event ChatEvent
}

func (m *model) waitForChatEvents() tea.Msg {
	event := <-m.chat.Events()
	return chatEventMsg{event}
}

type statusMsg string
type errorMsg string

// RunTUI starts the TUI application
func RunTUI(ctx context.Context, chat *Chat) error {
	p := tea.NewProgram(
		NewTUI(ctx, chat),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	_, err := p.Run()
	return err
}
