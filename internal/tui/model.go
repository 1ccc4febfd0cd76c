// Package tui renders a live terminal view of a playback session.
package tui

import (
	"fmt"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"skyplay/internal/notes"
)

const (
	barWidth   = 40
	historyLen = 8
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1f8a8a"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#555"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#fff"))
	pressedStyle = lipgloss.NewStyle().Reverse(true)
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#c93"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#e55"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
)

// StateMsg carries a full snapshot
type StateMsg struct {
	State    string
	Cursor   int
	Total    int
	Progress int
	Pressed  []int
}

// ProgressMsg is the completion percentage
type ProgressMsg int

// TouchMsg reports a press, release or skipped note
type TouchMsg struct {
	Kind string
	Note int
}

// FinishedMsg ends a session
type FinishedMsg struct {
	Outcome string
	Error   string
	Played  int
	Skipped int
}

// disconnectedMsg is sent when the update feed closes
type disconnectedMsg struct{}

// Model is the bubbletea model for a playback view
type Model struct {
	title   string
	updates <-chan tea.Msg
	stop    func()

	// ExitOnFinish quits the program when the session ends
	ExitOnFinish bool

	state    string
	cursor   int
	total    int
	percent  int
	pressed  map[int]bool
	history  []string
	finished *FinishedMsg
	closed   bool
	quitting bool
}

// NewModel creates a view reading from updates. stop, if non-nil, is called
// when the user asks to stop playback.
func NewModel(title string, updates <-chan tea.Msg, stop func()) Model {
	return Model{
		title:   title,
		updates: updates,
		stop:    stop,
		state:   "idle",
		pressed: make(map[int]bool),
	}
}

func listenForUpdates(updates <-chan tea.Msg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-updates
		if !ok {
			return disconnectedMsg{}
		}
		return msg
	}
}

func (m Model) Init() tea.Cmd {
	return listenForUpdates(m.updates)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.stop != nil {
				m.stop()
			}
			m.quitting = true
			return m, tea.Quit

		case "s", " ":
			if m.stop != nil {
				m.stop()
			}
		}
		return m, nil

	case StateMsg:
		m.state = msg.State
		m.cursor = msg.Cursor
		m.total = msg.Total
		m.percent = msg.Progress
		m.pressed = make(map[int]bool, len(msg.Pressed))
		for _, n := range msg.Pressed {
			m.pressed[n] = true
		}
		if msg.State == "running" {
			m.finished = nil
		}

	case ProgressMsg:
		m.percent = int(msg)

	case TouchMsg:
		switch msg.Kind {
		case "press":
			m.pressed[msg.Note] = true
			m.push(activeStyle.Render(notes.NoteToName(msg.Note)))
		case "release":
			delete(m.pressed, msg.Note)
		case "skipped":
			m.push(skipStyle.Render(notes.NoteToName(msg.Note) + "?"))
		}

	case FinishedMsg:
		m.finished = &msg
		m.pressed = make(map[int]bool)
		if m.ExitOnFinish {
			m.quitting = true
			return m, tea.Quit
		}

	case disconnectedMsg:
		m.closed = true
		if m.ExitOnFinish {
			return m, tea.Quit
		}
		return m, nil
	}

	return m, listenForUpdates(m.updates)
}

func (m *Model) push(entry string) {
	m.history = append(m.history, entry)
	if len(m.history) > historyLen {
		m.history = m.history[len(m.history)-historyLen:]
	}
}

// Finished returns the terminal message, or nil while playing
func (m Model) Finished() *FinishedMsg {
	return m.finished
}

func (m Model) View() string {
	if m.quitting && m.finished == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n" + titleStyle.Render(m.title) + "\n\n")
	b.WriteString(progressBar(m.percent) + fmt.Sprintf(" %3d%%\n", m.percent))

	pressed := make([]int, 0, len(m.pressed))
	for n := range m.pressed {
		pressed = append(pressed, n)
	}
	sort.Ints(pressed)
	var keys []string
	for _, n := range pressed {
		keys = append(keys, pressedStyle.Render(" "+notes.NoteToName(n)+" "))
	}
	if len(keys) == 0 {
		keys = append(keys, dimStyle.Render("·"))
	}
	b.WriteString("\n" + strings.Join(keys, " ") + "\n")
	b.WriteString(strings.Join(m.history, " ") + "\n\n")

	status := fmt.Sprintf("%s  %d/%d", m.state, m.cursor, m.total)
	if m.closed {
		status += "  disconnected"
	}
	b.WriteString(statusStyle.Render(status) + "\n")

	if f := m.finished; f != nil {
		line := fmt.Sprintf("%s: %d played, %d skipped", f.Outcome, f.Played, f.Skipped)
		if f.Error != "" {
			b.WriteString(errStyle.Render(line+" ("+f.Error+")") + "\n")
		} else {
			b.WriteString(activeStyle.Render(line) + "\n")
		}
	}

	help := "s:stop  q:quit"
	if m.stop == nil {
		help = "q:quit"
	}
	b.WriteString(dimStyle.Render(help) + "\n")
	return b.String()
}

func progressBar(percent int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := percent * barWidth / 100
	return activeStyle.Render(strings.Repeat("█", filled)) +
		dimStyle.Render(strings.Repeat("░", barWidth-filled))
}

// Run blocks until the view exits and returns the final model
func Run(m Model) (Model, error) {
	p := tea.NewProgram(m)
	final, err := p.Run()
	if err != nil {
		return m, err
	}
	return final.(Model), nil
}
