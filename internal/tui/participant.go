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

	"github.com/crisos/relayd/internal/dialogue"
	"github.com/crisos/relayd/internal/relay"
	"github.com/crisos/relayd/internal/relayclient"
	"github.com/crisos/relayd/internal/session"
	"github.com/crisos/relayd/internal/storage"
	"github.com/crisos/relayd/internal/trigger"
)

// ChatOptions configures the participant chat client.
type ChatOptions struct {
	ConversationID string
	Channel        string
	Relay          *relayclient.Client
	Dialogue       *dialogue.Client
	Guard          *session.Guard
	PollInterval   time.Duration
}

type chatLine struct {
	sender string
	text   string
}

type dialogueRepliesMsg struct {
	replies []dialogue.Reply
	err     error
}

type activatedMsg struct {
	request *storage.HandoffRequest
	err     error
}

type recoveredMsg struct {
	request *storage.HandoffRequest
}

type polledMsg struct {
	fresh []storage.HandoffMessage
}

type pollStoppedMsg struct{}

type sentMsg struct {
	message *storage.HandoffMessage
	err     error
}

// ChatModel is the participant-side chat over the dialogue engine, switching
// to the relay once an escalation trigger fires.
type ChatModel struct {
	opts    ChatOptions
	session *session.Session
	theme   theme

	poller     *session.Poller
	pollCancel context.CancelFunc

	viewport viewport.Model
	input    textinput.Model
	lines    []chatLine
	status   string
	lastErr  string
	ready    bool
	quitting bool
}

// NewChat creates the participant chat model.
func NewChat(opts ChatOptions) ChatModel {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	input := textinput.New()
	input.Placeholder = "Type a message"
	input.Focus()
	input.CharLimit = 2000

	return ChatModel{
		opts:    opts,
		session: session.New(opts.ConversationID),
		theme:   newTheme(),
		input:   input,
		status:  "connected to assistant",
	}
}

func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.recoverCmd())
}

// recoverCmd revives a request left behind by an abrupt exit, if any.
func (m ChatModel) recoverCmd() tea.Cmd {
	guard := m.opts.Guard
	conversationID := m.opts.ConversationID
	return func() tea.Msg {
		if guard == nil {
			return recoveredMsg{}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return recoveredMsg{request: guard.Recover(ctx, conversationID)}
	}
}

func (m ChatModel) sendDialogueCmd(text string) tea.Cmd {
	client := m.opts.Dialogue
	conversationID := m.opts.ConversationID
	channel := m.opts.Channel
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		replies, err := client.Send(ctx, conversationID, text, map[string]any{"channel": channel})
		return dialogueRepliesMsg{replies: replies, err: err}
	}
}

func (m ChatModel) activateCmd() tea.Cmd {
	client := m.opts.Relay
	conversationID := m.opts.ConversationID
	channel := m.opts.Channel
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		request, err := client.Active(ctx, conversationID, relay.EscalationContext{
			UserChannel: channel,
		})
		return activatedMsg{request: request, err: err}
	}
}

func (m ChatModel) sendRelayCmd(text string) tea.Cmd {
	client := m.opts.Relay
	requestID := m.session.RequestID()
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		message, err := client.Append(ctx, requestID, storage.SenderUser, text)
		return sentMsg{message: message, err: err}
	}
}

// startPolling launches the message poller for the active request and
// returns the command that waits on its channel.
func (m *ChatModel) startPolling() tea.Cmd {
	m.stopPolling()
	ctx, cancel := context.WithCancel(context.Background())
	m.poller = session.NewPoller(m.session, m.opts.Relay, m.opts.PollInterval)
	m.pollCancel = cancel
	go m.poller.Run(ctx)
	return waitForMessages(m.poller)
}

func (m *ChatModel) stopPolling() {
	if m.pollCancel != nil {
		m.pollCancel()
		m.pollCancel = nil
	}
}

// waitForMessages blocks on the poller's channel, re-issued after every
// delivery until the poller closes it.
func waitForMessages(p *session.Poller) tea.Cmd {
	return func() tea.Msg {
		fresh, open := <-p.Messages()
		if !open {
			return pollStoppedMsg{}
		}
		return polledMsg{fresh: fresh}
	}
}

func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		headerHeight := 1
		footerHeight := 3
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
		}
		m.input.Width = msg.Width - 4
		m.refreshViewport()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m.teardown()
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				break
			}
			m.input.Reset()
			if m.session.Active() {
				// Optimistic render; the poll echo is dropped by id.
				m.appendLine(storage.SenderUser, text)
				cmds = append(cmds, m.sendRelayCmd(text))
			} else {
				m.appendLine(storage.SenderUser, text)
				cmds = append(cmds, m.sendDialogueCmd(text))
			}
		}

	case recoveredMsg:
		if msg.request != nil {
			m.session.Activate(msg.request.ID)
			m.status = "reconnected to operator chat"
			cmds = append(cmds, m.startPolling())
		}

	case dialogueRepliesMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("assistant unavailable: %v", msg.err)
			break
		}
		m.lastErr = ""
		escalated := false
		for _, reply := range msg.replies {
			m.appendLine(storage.SenderAgent, reply.Text)
			if trigger.Detect(reply.Text) {
				escalated = true
			}
		}
		if escalated && !m.session.Active() {
			cmds = append(cmds, m.activateCmd())
		}

	case activatedMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("escalation failed: %v", msg.err)
			break
		}
		m.session.Activate(msg.request.ID)
		m.status = "connected to operator chat"
		cmds = append(cmds, m.startPolling())

	case sentMsg:
		if msg.err != nil {
			m.lastErr = fmt.Sprintf("send failed: %v", msg.err)
			break
		}
		m.lastErr = ""
		m.session.TrackOwn(msg.message.ID)

	case polledMsg:
		for _, message := range msg.fresh {
			m.appendLine(message.Sender, message.Text)
		}
		if m.poller != nil {
			cmds = append(cmds, waitForMessages(m.poller))
		}

	case pollStoppedMsg:
		m.stopPolling()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

// teardown runs the session-continuity protocol before quitting.
func (m ChatModel) teardown() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.stopPolling()
	if m.session.Active() && m.opts.Guard != nil {
		requestID := m.session.RequestID()
		m.session.Deactivate()
		guard := m.opts.Guard
		conversationID := m.opts.ConversationID
		return m, tea.Sequence(
			func() tea.Msg {
				guard.Teardown(conversationID, requestID)
				return nil
			},
			tea.Quit,
		)
	}
	return m, tea.Quit
}

func (m *ChatModel) appendLine(sender, text string) {
	m.lines = append(m.lines, chatLine{sender: sender, text: text})
	m.refreshViewport()
}

func (m *ChatModel) refreshViewport() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(m.renderLine(line))
		b.WriteByte('\n')
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m ChatModel) renderLine(line chatLine) string {
	switch line.sender {
	case storage.SenderUser:
		return m.theme.userMsg.Render("you: ") + line.text
	case storage.SenderSystem:
		return m.theme.systemMsg.Render("* " + line.text)
	default:
		return m.theme.agentMsg.Render("operator: ") + line.text
	}
}

func (m ChatModel) View() string {
	if m.quitting {
		return "ending session\n"
	}
	if !m.ready {
		return "starting chat..."
	}

	header := m.theme.header.Render("relayd chat")
	status := m.theme.status.Render(m.status)
	if m.lastErr != "" {
		status = m.theme.errText.Render(m.lastErr)
	}
	footer := lipgloss.JoinVertical(lipgloss.Left,
		m.input.View(),
		m.theme.footer.Render("enter send | esc quit")+"  "+status,
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}
