package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"wsotp/internal/events"
)

// Version can be set at build time
var Version = "dev"

// TaskRow is one live verification in the dashboard.
type TaskRow struct {
	ID      string
	Phone   string
	Account string
	State   string
	Status  string
	Checks  int
	Since   time.Time
}

// FinishedEntry is a recently finished task.
type FinishedEntry struct {
	Phone  string
	Status string
	Checks int
	Time   time.Time
}

// Model is the main Bubble Tea model
type Model struct {
	// Connection state
	status string // "connecting", "online", "reconnecting", "offline"

	eventBus *events.Bus
	eventSub <-chan events.Event

	// Display state
	width     int
	height    int
	startTime time.Time

	// Server info
	serverAddr    string
	serverLatency time.Duration

	tasks       map[string]*TaskRow
	finished    []FinishedEntry
	maxFinished int

	pool map[string]events.PoolData

	cleanups int
	deleted  int
	failed   int

	lastError string
}

// NewModel creates a new TUI model
func NewModel(eventBus *events.Bus) Model {
	var eventSub <-chan events.Event
	if eventBus != nil {
		eventSub = eventBus.Subscribe()
	}

	return Model{
		status:      "connecting",
		eventBus:    eventBus,
		eventSub:    eventSub,
		startTime:   time.Now(),
		tasks:       make(map[string]*TaskRow),
		maxFinished: 10,
		pool:        make(map[string]events.PoolData),
	}
}

// Messages
type tickMsg time.Time
type eventMsg events.Event

// Commands
func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		if sub == nil {
			return nil
		}
		event, ok := <-sub
		if !ok {
			return nil
		}
		return eventMsg(event)
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tickCmd()}
	if m.eventSub != nil {
		cmds = append(cmds, waitForEvent(m.eventSub))
	}
	return tea.Batch(cmds...)
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.lastError = ""
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		// elapsed times tick forward
		return m, tickCmd()

	case eventMsg:
		m = m.handleEvent(events.Event(msg))
		return m, waitForEvent(m.eventSub)
	}

	return m, nil
}

func (m Model) handleEvent(event events.Event) Model {
	switch event.Type {
	case events.EventConnecting:
		m.status = "connecting"

	case events.EventConnected:
		m.status = "online"
		m.lastError = ""
		if data, ok := event.Data.(events.ConnectedData); ok {
			m.serverAddr = data.ServerAddr
			m.serverLatency = data.Latency
		}

	case events.EventDisconnected:
		m.status = "offline"
		// the server resends live state only through new events
		m.tasks = make(map[string]*TaskRow)

	case events.EventReconnecting:
		m.status = "reconnecting"

	case events.EventTaskStarted, events.EventTaskTransition:
		if data, ok := event.Data.(events.TaskData); ok {
			row, found := m.tasks[data.TaskID]
			if !found {
				row = &TaskRow{ID: data.TaskID, Since: event.Timestamp}
				m.tasks[data.TaskID] = row
			}
			row.Phone = "+" + data.CC + " " + data.Phone
			row.Account = data.Account
			row.State = data.State
			row.Status = data.Status
			row.Checks = data.Checks
		}

	case events.EventTaskFinished:
		if data, ok := event.Data.(events.TaskData); ok {
			delete(m.tasks, data.TaskID)
			entry := FinishedEntry{
				Phone:  "+" + data.CC + " " + data.Phone,
				Status: data.Status,
				Checks: data.Checks,
				Time:   event.Timestamp,
			}
			// Prepend (newest first)
			m.finished = append([]FinishedEntry{entry}, m.finished...)
			if len(m.finished) > m.maxFinished {
				m.finished = m.finished[:m.maxFinished]
			}
		}

	case events.EventCleanupDone:
		if data, ok := event.Data.(events.CleanupData); ok {
			m.cleanups++
			m.deleted += data.Deleted
			m.failed += data.Failed
		}

	case events.EventPoolChanged:
		if data, ok := event.Data.(events.PoolData); ok {
			m.pool[data.Account] = data
		}

	case events.EventError:
		if data, ok := event.Data.(events.ErrorData); ok {
			m.lastError = fmt.Sprintf("%s: %v", data.Context, data.Error)
		}
	}

	return m
}

// View renders the model
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus())
	b.WriteString("\n")

	if len(m.pool) > 0 {
		b.WriteString(m.renderPool())
		b.WriteString("\n")
	}

	b.WriteString(m.renderTasks())
	b.WriteString("\n")

	if len(m.finished) > 0 {
		b.WriteString(m.renderFinished())
	}

	return b.String()
}

func (m Model) renderHeader() string {
	title := titleStyle.Render("wsotp")
	hint := hintStyle.Render("(q quit, c clear error)")

	spacing := strings.Repeat(" ", 40)
	if m.width > 0 {
		spaces := m.width - lipgloss.Width(title) - lipgloss.Width(hint)
		spacing = ""
		if spaces > 0 {
			spacing = strings.Repeat(" ", spaces)
		}
	}

	return title + spacing + hint
}

func (m Model) renderStatus() string {
	var lines []string

	lines = append(lines, m.renderField("Session Status", StatusText(m.status)))
	lines = append(lines, m.renderField("Version", Version))

	server := "-"
	if m.serverAddr != "" {
		server = urlStyle.Render(m.serverAddr)
	}
	lines = append(lines, m.renderField("Server", server))

	latencyStr := "-"
	if m.serverLatency > 0 {
		latencyStr = fmt.Sprintf("%dms", m.serverLatency.Milliseconds())
	}
	lines = append(lines, m.renderField("Latency", latencyStr))
	lines = append(lines, m.renderField("Watching", formatElapsed(time.Since(m.startTime))))
	lines = append(lines, m.renderField("Cleanups",
		fmt.Sprintf("%d run, %d deleted, %d failed", m.cleanups, m.deleted, m.failed)))

	if m.lastError != "" {
		lines = append(lines, m.renderField("Last Error", errorStyle.Render(m.lastError)))
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderField(label, value string) string {
	return labelStyle.Render(label) + valueStyle.Render(value)
}

func (m Model) renderPool() string {
	names := make([]string, 0, len(m.pool))
	for name := range m.pool {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := []string{"", labelStyle.Render("Accounts")}
	for _, name := range names {
		p := m.pool[name]
		lines = append(lines, accountStyle.Render(truncate(name, 18))+UsageText(p.Usage, p.Capacity))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderTasks() string {
	lines := []string{""}

	header := labelStyle.Render(fmt.Sprintf("Tracking (%d)", len(m.tasks)))
	for _, h := range []string{"account", "checks", "age"} {
		header += statsHeaderStyle.Render(h)
	}
	lines = append(lines, header)

	for _, t := range m.sortedTasks() {
		row := phoneStyle.Render(t.Phone)
		row += statsValueStyle.Render(truncate(t.Account, 9))
		row += statsValueStyle.Render(fmt.Sprintf("%d", t.Checks))
		row += statsValueStyle.Render(formatElapsed(time.Since(t.Since)))
		row += " " + StateText(t.State, t.Status)
		lines = append(lines, row)
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderFinished() string {
	lines := []string{"", labelStyle.Render("Finished")}
	for _, f := range m.finished {
		line := fmt.Sprintf("%s %s %s",
			durationStyle.Render(f.Time.Format("15:04:05")),
			phoneStyle.Render(f.Phone),
			valueStyle.Render(f.Status))
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m Model) sortedTasks() []*TaskRow {
	out := make([]*TaskRow, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Since.Before(out[j].Since) })
	return out
}

// Helper functions

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// Run starts the TUI application
func Run(eventBus *events.Bus) error {
	model := NewModel(eventBus)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
