package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/craquehouse/vintagestory-server-sub003/internal/api"
	"github.com/craquehouse/vintagestory-server-sub003/internal/console"
	"github.com/craquehouse/vintagestory-server-sub003/internal/session"
)

// MaxOutputLines caps the number of lines kept in the output buffer.
// Keeping this reasonably small avoids unbounded memory growth and slow
// re-renders on long sessions.
const MaxOutputLines = 5000

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	pickStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
)

type logFilesMsg struct {
	files []api.LogFile
	err   error
}

// Model is the console panel: an output viewport fed by the session
// orchestrator, a command input, and a source picker over the log catalog.
type Model struct {
	orch   *session.Orchestrator
	client *api.Client
	logger *zap.SugaredLogger

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	width    int
	height   int

	lines    []string
	partial  string
	follow   bool
	logFiles []api.LogFile

	picking bool
	pickIdx int
}

// NewModel wires the panel to its orchestrator and API client.
func NewModel(orch *session.Orchestrator, client *api.Client, logger *zap.SugaredLogger) *Model {
	input := textinput.New()
	input.Placeholder = "server command (/help, /list, ...)"
	input.CharLimit = 512
	input.Focus()

	return &Model{
		orch:   orch,
		client: client,
		logger: logger,
		input:  input,
		follow: true,
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.fetchLogFiles(),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		chromeHeight := 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-chromeHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - chromeHeight
		}
		m.renderOutput()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case OutputMsg:
		m.appendOutput(msg.Text)
		return m, nil

	case ClearMsg:
		m.lines = nil
		m.partial = ""
		m.renderOutput()
		return m, nil

	case RefreshMsg:
		// Session state changed; the View reads it directly on render.
		return m, nil

	case logFilesMsg:
		if msg.err == nil {
			m.logFiles = msg.files
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.picking {
		return m.handlePickerKey(msg)
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "ctrl+l":
		m.picking = true
		m.pickIdx = 0
		return m, m.fetchLogFiles()
	case "ctrl+r":
		m.orch.Reconnect()
		return m, nil
	case "ctrl+d":
		m.orch.Disconnect()
		return m, nil
	case "enter":
		text := m.input.Value()
		m.input.SetValue("")
		m.orch.SubmitCommand(text)
		return m, nil
	case "pgup", "pgdown", "up", "down":
		m.follow = false
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		if m.viewport.AtBottom() {
			m.follow = true
		}
		return m, cmd
	case "end":
		m.follow = true
		m.viewport.GotoBottom()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handlePickerKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// Entry 0 is always the live console; log files follow.
	count := len(m.logFiles) + 1
	switch msg.String() {
	case "esc":
		m.picking = false
	case "up", "k":
		if m.pickIdx > 0 {
			m.pickIdx--
		}
	case "down", "j":
		if m.pickIdx < count-1 {
			m.pickIdx++
		}
	case "enter":
		m.picking = false
		if m.pickIdx == 0 {
			m.orch.SelectSource(session.LiveSource())
		} else if m.pickIdx-1 < len(m.logFiles) {
			m.orch.SelectSource(session.LogSource(m.logFiles[m.pickIdx-1].Name))
		}
	case "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) appendOutput(text string) {
	// Chunks are not line-aligned; stitch the trailing partial line.
	text = m.partial + text
	parts := strings.Split(text, "\n")
	m.partial = parts[len(parts)-1]
	m.lines = append(m.lines, parts[:len(parts)-1]...)
	if len(m.lines) > MaxOutputLines {
		m.lines = m.lines[len(m.lines)-MaxOutputLines:]
	}
	m.renderOutput()
}

func (m *Model) renderOutput() {
	if !m.ready {
		return
	}
	content := strings.Join(m.lines, "\n")
	if m.partial != "" {
		if content != "" {
			content += "\n"
		}
		content += m.partial
	}
	m.viewport.SetContent(content)
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Server Console"))
	b.WriteString("  ")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.picking {
		b.WriteString(m.pickerView())
	} else {
		b.WriteString(m.inputView())
	}
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("ctrl+l sources · ctrl+r reconnect · ctrl+d disconnect · ctrl+c quit"))
	return b.String()
}

func (m *Model) statusLine() string {
	st := m.orch.Status()

	var parts []string
	if st.Source == nil {
		parts = append(parts, "no source")
	} else if st.Source.Kind == session.SourceLive {
		info := console.GetInfo(st.LiveState)
		parts = append(parts, "live: "+m.renderState(info))
	} else {
		info := console.GetLogInfo(st.LogState)
		parts = append(parts, fmt.Sprintf("%s: %s", st.Source.File, m.renderState(info)))
	}
	if st.Reconnecting && st.RetryCount > 0 {
		parts = append(parts, fmt.Sprintf("retry %d", st.RetryCount))
	}
	parts = append(parts, "server "+string(st.Process))
	return statusStyle.Render(strings.Join(parts, " · "))
}

func (m *Model) renderState(info console.Info) string {
	if info.IsError {
		return errorStyle.Render(info.Name)
	}
	return okStyle.Render(info.Name)
}

func (m *Model) inputView() string {
	if !m.orch.CanSubmit() {
		st := m.orch.Status()
		if st.Source != nil && st.Source.Kind == session.SourceLog {
			return statusStyle.Render("read-only log view")
		}
		return statusStyle.Render("command input disabled while console is unavailable")
	}
	return m.input.View()
}

func (m *Model) pickerView() string {
	var b strings.Builder
	b.WriteString("Select source (enter to switch, esc to cancel):\n")
	entries := []string{"live console"}
	for _, f := range m.logFiles {
		entries = append(entries, f.Name)
	}
	for i, entry := range entries {
		if i == m.pickIdx {
			b.WriteString(pickStyle.Render("> " + entry))
		} else {
			b.WriteString("  " + entry)
		}
		if i < len(entries)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m *Model) fetchLogFiles() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		files, err := m.client.GetLogFiles(ctx)
		return logFilesMsg{files: files, err: err}
	}
}
