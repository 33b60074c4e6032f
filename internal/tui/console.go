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
	"golang.org/x/sync/errgroup"

	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/relayclient"
	"github.com/crisos/relayd/internal/storage"
)

// ConsoleOptions configures the operator console.
type ConsoleOptions struct {
	Client             *relayclient.Client
	Actor              relay.Actor
	QueuePollInterval  time.Duration
	ThreadPollInterval time.Duration
}

type queueTickMsg time.Time
type threadTickMsg time.Time

type queueMsg struct {
	entries []relay.QueueEntry
	err     error
}

type threadMsg struct {
	requestID int64
	entries   []relay.QueueEntry
	messages  []storage.HandoffMessage
	err       error
}

type actionMsg struct {
	request *storage.HandoffRequest
	err     error
}

type operatorSentMsg struct {
	message *storage.HandoffMessage
	err     error
}

// ConsoleModel is the operator console: a live queue pane and, once a
// request is selected, its message thread with reply input.
type ConsoleModel struct {
	opts  ConsoleOptions
	theme theme

	queue    []relay.QueueEntry
	cursor   int
	selected *relay.QueueEntry
	messages []storage.HandoffMessage
	afterID  int64

	// At most one thread tick chain and one in-flight thread fetch.
	threadTicking bool
	polling       bool

	viewport viewport.Model
	input    textinput.Model
	width    int
	height   int
	ready    bool
	lastErr  string
	quitting bool
}

// NewConsole creates the operator console model.
func NewConsole(opts ConsoleOptions) ConsoleModel {
	if opts.QueuePollInterval <= 0 {
		opts.QueuePollInterval = 5 * time.Second
	}
	if opts.ThreadPollInterval <= 0 {
		opts.ThreadPollInterval = 2 * time.Second
	}
	input := textinput.New()
	input.Placeholder = "Reply to the user"
	input.CharLimit = 2000

	return ConsoleModel{
		opts:  opts,
		theme: newTheme(),
		input: input,
	}
}

func (m ConsoleModel) Init() tea.Cmd {
	return tea.Batch(m.fetchQueueCmd(), m.queueTick())
}

func (m ConsoleModel) queueTick() tea.Cmd {
	return tea.Tick(m.opts.QueuePollInterval, func(t time.Time) tea.Msg {
		return queueTickMsg(t)
	})
}

func (m ConsoleModel) threadTick() tea.Cmd {
	return tea.Tick(m.opts.ThreadPollInterval, func(t time.Time) tea.Msg {
		return threadTickMsg(t)
	})
}

func (m ConsoleModel) fetchQueueCmd() tea.Cmd {
	client := m.opts.Client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		entries, err := client.Queue(ctx, "")
		return queueMsg{entries: entries, err: err}
	}
}

// openThreadCmd loads the selected request's queue entry and full thread
// concurrently.
func (m ConsoleModel) openThreadCmd(requestID int64) tea.Cmd {
	client := m.opts.Client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()

		var entries []relay.QueueEntry
		var messages []storage.HandoffMessage
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			entries, err = client.Queue(gctx, "")
			return err
		})
		g.Go(func() error {
			var err error
			messages, err = client.ReadSince(gctx, requestID, 0)
			return err
		})
		if err := g.Wait(); err != nil {
			return threadMsg{requestID: requestID, err: err}
		}
		return threadMsg{requestID: requestID, entries: entries, messages: messages}
	}
}

func (m ConsoleModel) pollThreadCmd() tea.Cmd {
	if m.selected == nil {
		return nil
	}
	client := m.opts.Client
	requestID := m.selected.ID
	afterID := m.afterID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		messages, err := client.ReadSince(ctx, requestID, afterID)
		if err != nil {
			return threadMsg{requestID: requestID, err: err}
		}
		return threadMsg{requestID: requestID, messages: messages}
	}
}

func (m ConsoleModel) transitionCmd(requestID int64, status string) tea.Cmd {
	client := m.opts.Client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		request, err := client.Transition(ctx, requestID, status, false)
		return actionMsg{request: request, err: err}
	}
}

func (m ConsoleModel) sendCmd(requestID int64, text string) tea.Cmd {
	client := m.opts.Client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		message, err := client.Append(ctx, requestID, storage.SenderAgent, text)
		return operatorSentMsg{message: message, err: err}
	}
}

// canAct reports whether the acting operator may assign, message, or close
// the entry. Admins bypass the assignment lock.
func (m ConsoleModel) canAct(entry relay.QueueEntry) bool {
	if m.opts.Actor.Role == relay.RoleAdmin {
		return true
	}
	return entry.AssignedTo == "" || entry.AssignedTo == m.opts.Actor.Name
}

func (m ConsoleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		threadHeight := msg.Height - m.queuePaneHeight() - 4
		if !m.ready {
			m.viewport = viewport.New(msg.Width, threadHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = threadHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshThread()

	case tea.KeyMsg:
		if m.input.Focused() {
			switch msg.Type {
			case tea.KeyEsc:
				m.input.Blur()
			case tea.KeyEnter:
				text := strings.TrimSpace(m.input.Value())
				if text != "" && m.selected != nil {
					m.input.Reset()
					cmds = append(cmds, m.sendCmd(m.selected.ID, text))
				}
			}
			break
		}
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.queue)-1 {
				m.cursor++
			}
		case "enter":
			if m.cursor < len(m.queue) {
				entry := m.queue[m.cursor]
				m.selected = &entry
				m.messages = nil
				// Reset the cursor so the full thread loads.
				m.afterID = 0
				m.polling = true
				cmds = append(cmds, m.openThreadCmd(entry.ID))
				if !m.threadTicking {
					m.threadTicking = true
					cmds = append(cmds, m.threadTick())
				}
			}
		case "esc":
			// Deselect; the thread tick chain ends on the next tick.
			m.selected = nil
			m.messages = nil
			m.afterID = 0
		case "i":
			if m.selected != nil && m.selected.Status != storage.StatusClosed && m.canAct(*m.selected) {
				m.input.Focus()
				cmds = append(cmds, textinput.Blink)
			}
		case "a":
			if m.selected != nil && m.selected.Status == storage.StatusOpen {
				cmds = append(cmds, m.transitionCmd(m.selected.ID, storage.StatusAssigned))
			}
		case "u":
			if m.selected != nil && m.selected.Status == storage.StatusAssigned && m.canAct(*m.selected) {
				cmds = append(cmds, m.transitionCmd(m.selected.ID, storage.StatusOpen))
			}
		case "c":
			if m.selected != nil && m.selected.Status != storage.StatusClosed && m.canAct(*m.selected) {
				cmds = append(cmds, m.transitionCmd(m.selected.ID, storage.StatusClosed))
			}
		case "r":
			if m.selected != nil && m.selected.Status == storage.StatusClosed {
				cmds = append(cmds, m.transitionCmd(m.selected.ID, storage.StatusOpen))
			}
		}

	case queueTickMsg:
		if !m.quitting {
			cmds = append(cmds, m.fetchQueueCmd(), m.queueTick())
		}

	case threadTickMsg:
		if m.selected == nil || m.quitting {
			m.threadTicking = false
			break
		}
		// A poll slower than the tick must not stack a second one; the
		// overlapping responses would share a cursor.
		if !m.polling {
			m.polling = true
			cmds = append(cmds, m.pollThreadCmd())
		}
		cmds = append(cmds, m.threadTick())

	case queueMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("queue refresh failed: %v", msg.err)
			break
		}
		m.lastErr = ""
		m.setQueue(msg.entries)

	case threadMsg:
		m.polling = false
		if m.selected == nil || msg.requestID != m.selected.ID {
			break
		}
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("thread load failed: %v", msg.err)
			break
		}
		m.lastErr = ""
		if msg.entries != nil {
			m.setQueue(msg.entries)
		}
		m.absorbMessages(msg.messages)
		m.refreshThread()

	case actionMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("action rejected: %v", msg.err)
			break
		}
		m.lastErr = ""
		cmds = append(cmds, m.fetchQueueCmd())
		if m.selected != nil && msg.request.ID == m.selected.ID {
			m.selected.Status = msg.request.Status
			m.selected.AssignedTo = msg.request.AssignedTo
			// Transitions may emit a system notice.
			if !m.polling {
				m.polling = true
				cmds = append(cmds, m.pollThreadCmd())
			}
		}

	case operatorSentMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("send failed: %v", msg.err)
			break
		}
		m.lastErr = ""
		m.absorbMessages([]storage.HandoffMessage{*msg.message})
		m.refreshThread()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// absorbMessages appends messages beyond the cursor and advances it. Ids at
// or below the cursor are echoes of already-rendered messages, either from a
// poll overlapping an optimistic append or from responses sharing a cursor.
func (m *ConsoleModel) absorbMessages(messages []storage.HandoffMessage) {
	for _, message := range messages {
		if message.ID <= m.afterID {
			continue
		}
		m.messages = append(m.messages, message)
		m.afterID = message.ID
	}
}

// setQueue replaces the queue, keeping the cursor and selection stable by id.
func (m *ConsoleModel) setQueue(entries []relay.QueueEntry) {
	m.queue = entries
	if m.cursor >= len(entries) {
		m.cursor = len(entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.selected != nil {
		for i := range entries {
			if entries[i].ID == m.selected.ID {
				entry := entries[i]
				m.selected = &entry
				return
			}
		}
	}
}

func (m ConsoleModel) queuePaneHeight() int {
	n := len(m.queue)
	if n > 8 {
		n = 8
	}
	return n + 2
}

func (m *ConsoleModel) refreshThread() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, message := range m.messages {
		switch message.Sender {
		case storage.SenderSystem:
			b.WriteString(m.theme.systemMsg.Render("* " + message.Text))
		case storage.SenderAgent:
			b.WriteString(m.theme.agentMsg.Render("you: ") + message.Text)
		default:
			b.WriteString(m.theme.userMsg.Render("user: ") + message.Text)
		}
		b.WriteByte('\n')
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m ConsoleModel) renderQueueRow(i int, entry relay.QueueEntry) string {
	marker := "  "
	if entry.NewActivity {
		marker = m.theme.activity.Render("! ")
	}
	row := fmt.Sprintf("%s#%-4d %s %-9s %-12s %s",
		marker, entry.ID, m.theme.riskBadge(entry), entry.Status, entry.CrisisType, entry.ConversationID)
	if entry.AssignedTo != "" {
		row += " -> " + entry.AssignedTo
	}
	if i == m.cursor {
		return m.theme.selected.Render(row)
	}
	return row
}

func (m ConsoleModel) View() string {
	if m.quitting {
		return "bye\n"
	}
	if !m.ready {
		return "loading queue..."
	}

	header := m.theme.header.Render(fmt.Sprintf("relayd console - %s (%s)", m.opts.Actor.Name, m.opts.Actor.Role))

	var rows []string
	if len(m.queue) == 0 {
		rows = append(rows, m.theme.footer.Render("no handoff requests"))
	}
	for i, entry := range m.queue {
		rows = append(rows, m.renderQueueRow(i, entry))
	}
	queuePane := lipgloss.JoinVertical(lipgloss.Left, rows...)

	status := m.theme.status.Render("enter open | a assign | u unassign | c close | r reopen | i reply | q quit")
	if m.lastErr != "" {
		status = m.theme.errText.Render(m.lastErr)
	}

	sections := []string{header, queuePane}
	if m.selected != nil {
		sections = append(sections, m.viewport.View(), m.input.View())
	}
	sections = append(sections, status)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}
