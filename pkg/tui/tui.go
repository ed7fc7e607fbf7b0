package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/go-mclib/joinclient/pkg/status"
)

const pollInterval = 100 * time.Millisecond

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	activityStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	okStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	errStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// ClientInterface defines the methods required from a client for TUI interaction
type ClientInterface interface {
	GetUsername() string
	GetAddress() string
	GetMaxLogLines() int
	JoinStatus() *status.JoinStatus
	Disconnect(force bool) error
}

// TUI shows join progress above a scrolling log.
type TUI struct {
	client   ClientInterface
	viewport viewport.Model
	spinner  spinner.Model
	progress progress.Model
	logs     []string
	logMutex sync.Mutex
	snapshot status.Snapshot
	ready    bool
	joined   bool
	width    int
	height   int
}

// New creates a new TUI instance
func New(client ClientInterface) *TUI {
	return &TUI{
		client:   client,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		logs:     []string{},
	}
}

// Init initializes the TUI
func (t *TUI) Init() tea.Cmd {
	return tea.Batch(t.spinner.Tick, poll())
}

func poll() tea.Cmd {
	return tea.Tick(pollInterval, func(now time.Time) tea.Msg { return PollMsg(now) })
}

// Update handles TUI updates
func (t *TUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			t.client.Disconnect(true)
			return t, tea.Quit
		}
		if msg.String() == "q" {
			t.client.Disconnect(true)
			return t, tea.Quit
		}

	case tea.WindowSizeMsg:
		if !t.ready {
			t.viewport = viewport.New(msg.Width, msg.Height-6)
			t.viewport.SetContent(t.renderLogs())
			t.ready = true
		} else {
			t.viewport.Width = msg.Width
			t.viewport.Height = msg.Height - 6
		}
		t.width = msg.Width
		t.height = msg.Height
		if w := msg.Width - 4; w > 10 && w < 80 {
			t.progress.Width = w
		}

	case PollMsg:
		if js := t.client.JoinStatus(); js != nil {
			t.snapshot = js.Snapshot()
		}
		return t, poll()

	case spinner.TickMsg:
		t.spinner, cmd = t.spinner.Update(msg)
		return t, cmd

	case LogMsg:
		t.AddLog(string(msg))
		if t.ready {
			// do not scroll if not at bottom, to prevent flickering
			wasAtBottom := t.viewport.AtBottom()
			t.viewport.SetContent(t.renderLogs())
			if wasAtBottom {
				t.viewport.GotoBottom()
			}
		}
		return t, nil

	case EnableInputMsg:
		t.joined = true
		return t, nil
	}

	// update viewport
	if t.ready {
		t.viewport, cmd = t.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}

	return t, tea.Batch(cmds...)
}

// View renders the TUI
func (t *TUI) View() string {
	title := titleStyle.Render(fmt.Sprintf("Joining %s as %s", t.client.GetAddress(), t.client.GetUsername()))

	var state string
	switch t.snapshot.Status {
	case status.Complete:
		state = okStyle.Render("Joined")
	case status.Failed:
		msg := "Join failed"
		if t.snapshot.Err != nil {
			msg += ": " + t.snapshot.Err.Error()
		}
		state = errStyle.Render(msg)
	default:
		state = t.spinner.View() + " " + activityStyle.Render(t.snapshot.Activity)
	}

	bar := t.progress.ViewAs(float64(t.snapshot.Progress))
	help := helpStyle.Render("q/Ctrl+C/Esc: quit")
	if t.joined {
		help = helpStyle.Render("Session running • q/Ctrl+C/Esc: disconnect")
	}

	if !t.ready {
		return fmt.Sprintf("%s\n%s\n%s\n%s", title, state, bar, help)
	}
	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s", title, state, bar, t.viewport.View(), help)
}

// AddLog adds a log message to the TUI
func (t *TUI) AddLog(msg string) {
	t.logMutex.Lock()
	defer t.logMutex.Unlock()
	t.logs = append(t.logs, msg)

	// trim logs
	maxLines := t.client.GetMaxLogLines()
	if maxLines > 0 && len(t.logs) > maxLines {
		t.logs = t.logs[len(t.logs)-maxLines:]
	}
}

func (t *TUI) renderLogs() string {
	t.logMutex.Lock()
	defer t.logMutex.Unlock()
	return strings.Join(t.logs, "\n")
}

// PollMsg asks the TUI to re-read the join status.
type PollMsg time.Time

// LogMsg is a message type for logging
type LogMsg string

// EnableInputMsg tells the TUI the join has completed.
type EnableInputMsg struct{}

// Writer is an io.Writer that sends output to the TUI
type Writer struct {
	program *tea.Program
}

// NewWriter creates a new TUI Writer
func NewWriter(program *tea.Program) *Writer {
	return &Writer{program: program}
}

// Write implements io.Writer
func (w *Writer) Write(p []byte) (n int, err error) {
	msg := strings.TrimSuffix(string(p), "\n")
	if msg != "" {
		w.program.Send(LogMsg(msg))
	}
	return len(p), nil
}

// Start creates a new TUI program, returning the program and a writer for logging
func Start(client ClientInterface) (*tea.Program, io.Writer) {
	t := New(client)
	p := tea.NewProgram(t, tea.WithAltScreen())
	writer := NewWriter(p)
	return p, writer
}

// EnableInput tells the program the join has completed.
func EnableInput(program *tea.Program) {
	if program != nil {
		program.Send(EnableInputMsg{})
	}
}
