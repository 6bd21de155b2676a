package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agentchat/internal/chat"
	"agentchat/internal/client"
	"agentchat/internal/sse"
	"agentchat/internal/stream"
)

func runChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	apiBase := fs.String("api", "http://127.0.0.1:8080", "base URL for the agentchat API")
	token := fs.String("token", os.Getenv("AGENTCHAT_API_TOKEN"), "Bearer token for API auth")
	agentID := fs.String("agent", "", "stored agent id to chat with (default persona when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*token) == "" {
		return fmt.Errorf("token is required (use --token or AGENTCHAT_API_TOKEN)")
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.NewClient(strings.TrimRight(*apiBase, "/"), *token, logger)

	p := tea.NewProgram(newChatModel(c, *agentID), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

type agentInfoMsg struct {
	info *client.AgentInfo
	err  error
}

type streamOpenedMsg struct {
	events <-chan sse.Event
	cancel context.CancelFunc
}

type streamFailedMsg struct {
	err error
}

type eventMsg struct {
	ev sse.Event
	ok bool
}

type chatModel struct {
	client  *client.Client
	session *chat.Session

	textarea textarea.Model
	viewport viewport.Model
	spinner  spinner.Model

	events       <-chan sse.Event
	cancelStream context.CancelFunc
	agentInfo    *client.AgentInfo

	width  int
	height int
	ready  bool
}

func newChatModel(c *client.Client, agentID string) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Send a message..."
	ta.ShowLineNumbers = false
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return chatModel{
		client:   c,
		session:  chat.NewSession(agentID),
		textarea: ta,
		spinner:  sp,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, fetchAgentInfoCmd(m.client))
}

func fetchAgentInfoCmd(c *client.Client) tea.Cmd {
	return func() tea.Msg {
		info, err := c.DefaultAgent(context.Background())
		return agentInfoMsg{info: info, err: err}
	}
}

func openStreamCmd(c *client.Client, req stream.TurnRequest) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithCancel(context.Background())
		events, err := c.StreamTurn(ctx, req)
		if err != nil {
			cancel()
			return streamFailedMsg{err: err}
		}
		return streamOpenedMsg{events: events, cancel: cancel}
	}
}

func waitForEventCmd(events <-chan sse.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return eventMsg{ev: ev, ok: ok}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.textarea.SetWidth(msg.Width - 2)
		vpHeight := msg.Height - m.textarea.Height() - 4
		if vpHeight < 3 {
			vpHeight = 3
		}
		if !m.ready {
			m.viewport = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = vpHeight
		}
		m.refreshViewport()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.stopStream()
			return m, tea.Quit
		case "esc":
			if m.session.Status() == chat.StatusStreaming || m.session.Status() == chat.StatusSending {
				m.stopStream()
				_ = m.session.Cancel()
				m.refreshViewport()
				return m, nil
			}
			if m.session.Status() == chat.StatusError {
				m.session.DismissError()
				m.refreshViewport()
				return m, nil
			}
			return m, nil
		case "y", "n":
			if card := m.session.PendingApproval(); card != nil && m.session.Status() == chat.StatusIdle {
				req, err := m.session.RespondToApproval(card.ID, msg.String() == "y")
				if err != nil {
					return m, nil
				}
				m.refreshViewport()
				return m, tea.Batch(openStreamCmd(m.client, req), m.spinner.Tick)
			}
		case "enter":
			text := strings.TrimSpace(m.textarea.Value())
			if text == "" {
				return m, nil
			}
			req, err := m.session.Send(text, nil, nil)
			if err != nil {
				return m, nil
			}
			m.textarea.Reset()
			m.refreshViewport()
			return m, tea.Batch(openStreamCmd(m.client, req), m.spinner.Tick)
		}

	case agentInfoMsg:
		if msg.err == nil {
			m.agentInfo = msg.info
		}
		m.refreshViewport()
		return m, nil

	case streamOpenedMsg:
		m.events = msg.events
		m.cancelStream = msg.cancel
		return m, waitForEventCmd(m.events)

	case streamFailedMsg:
		m.session.Fail(msg.err.Error())
		m.refreshViewport()
		return m, nil

	case eventMsg:
		if !msg.ok {
			m.session.StreamEnded()
			m.stopStream()
			m.refreshViewport()
			return m, nil
		}
		m.session.Apply(msg.ev)
		m.refreshViewport()
		return m, waitForEventCmd(m.events)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.session.Status() == chat.StatusSending || m.session.Status() == chat.StatusStreaming {
			return m, cmd
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.textarea, cmd = m.textarea.Update(msg)
	return m, cmd
}

func (m *chatModel) stopStream() {
	if m.cancelStream != nil {
		m.cancelStream()
		m.cancelStream = nil
	}
	m.events = nil
}

var (
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	annotationStyle = lipgloss.NewStyle().Faint(true)
	approvalStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	footerStyle = lipgloss.NewStyle().Faint(true)
)

func (m *chatModel) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderHistory())
	m.viewport.GotoBottom()
}

func (m *chatModel) renderHistory() string {
	var b strings.Builder

	if len(m.session.Items()) == 0 && m.agentInfo != nil {
		fmt.Fprintf(&b, "%s\n", userStyle.Render(m.agentInfo.Name))
		if m.agentInfo.Description != "" {
			fmt.Fprintf(&b, "%s\n", assistantStyle.Render(m.agentInfo.Description))
		}
		for _, p := range m.agentInfo.StarterPrompts {
			fmt.Fprintf(&b, "%s\n", annotationStyle.Render("  · "+p))
		}
	}

	for _, item := range m.session.Items() {
		switch item.Role {
		case chat.RoleUser:
			b.WriteString(userStyle.Render("you: ") + item.Text + "\n\n")
		case chat.RoleAssistant:
			text := item.Text
			if text == "" && item.ID == m.session.StreamingMessageID() {
				text = m.spinner.View()
			}
			b.WriteString(assistantStyle.Render(text) + "\n")
			for _, ann := range item.Annotations {
				label := ann.Label
				if label == "" {
					label = ann.URL
				}
				b.WriteString(annotationStyle.Render("  [source] "+label) + "\n")
			}
			b.WriteString("\n")
		case chat.RoleApproval:
			if item.Approval != nil {
				b.WriteString(renderApprovalCard(item.Approval) + "\n\n")
			}
		}
	}

	if m.session.Status() == chat.StatusError && m.session.LastError() != "" {
		b.WriteString(errorStyle.Render("error: "+m.session.LastError()) + "\n")
	}
	return b.String()
}

func renderApprovalCard(card *chat.ApprovalCard) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tool approval requested: %s", card.ToolName)
	if card.ServerLabel != "" {
		fmt.Fprintf(&b, " (%s)", card.ServerLabel)
	}
	if card.Arguments != "" {
		fmt.Fprintf(&b, "\nargs: %s", card.Arguments)
	}
	if card.Resolved {
		b.WriteString("\nresolved")
	} else {
		b.WriteString("\npress y to approve, n to deny")
	}
	return approvalStyle.Render(b.String())
}

func (m chatModel) View() string {
	if !m.ready {
		return "loading..."
	}

	status := string(m.session.Status())
	if m.session.Status() == chat.StatusSending || m.session.Status() == chat.StatusStreaming {
		status = m.spinner.View() + " " + status + "  esc: cancel"
	} else if card := m.session.PendingApproval(); card != nil {
		status = "approval pending  y: approve  n: deny"
	} else if u := m.session.LastUsage(); u != nil {
		status = fmt.Sprintf("%s  last turn: %d tokens in %.0fms", status, u.TotalTokens, u.Duration)
	}
	footer := footerStyle.Render(status + "  ctrl+c: quit")

	return strings.Join([]string{
		m.viewport.View(),
		m.textarea.View(),
		footer,
	}, "\n")
}
