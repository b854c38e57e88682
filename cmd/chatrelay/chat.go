package main

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/a-h/chatrelay/client"
	"github.com/a-h/chatrelay/models"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

type ChatCommand struct {
	ServerURL string `help:"The URL of the chat relay server." env:"CHAT_RELAY_URL" default:"http://localhost:8000"`
	APIKey    string `help:"The API key for the chat relay server." env:"CHAT_RELAY_API_KEY" default:""`
}

func (c ChatCommand) Run(ctx context.Context) (err error) {
	rsc := client.New(c.ServerURL, c.APIKey)
	p := tea.NewProgram(newModel(ctx, rsc.ChatPost))
	if _, err = p.Run(); err != nil {
		return err
	}
	return nil
}

// Dracula color scheme.
var (
	Background  = lipgloss.Color("#282a36")
	CurrentLine = lipgloss.Color("#44475a")
	Comment     = lipgloss.Color("#6272a4")
	Cyan        = lipgloss.Color("#8be9fd")
	Pink        = lipgloss.Color("#ff79c6")
	Purple      = lipgloss.Color("#bd93f9")
	Red         = lipgloss.Color("#ff5555")
)

var headerStyle = lipgloss.NewStyle().Background(CurrentLine).Foreground(Purple).Bold(true).Padding(1, 2)

const header = "Simple Chatbot"

var errorStyle = lipgloss.NewStyle().Foreground(Red)

var pendingStyle = lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Comment)

type sendFunc func(ctx context.Context, req models.ChatPostRequest) (models.ChatPostResponse, error)

type chatReplyMsg struct {
	content string
}

type chatErrorMsg struct {
	err error
}

type model struct {
	viewport viewport.Model
	textarea textarea.Model
	err      error
	ctx      context.Context

	// The conversation is held here, and sent in full on every turn.
	send     sendFunc
	messages []models.ChatMessage
	waiting  bool
}

func newModel(ctx context.Context, send sendFunc) model {
	ta := textarea.New()
	ta.Placeholder = "What's up?"
	ta.Focus()

	ta.Prompt = "┃ "
	ta.CharLimit = 4000

	ta.SetHeight(3)

	// Remove cursor line styling
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()

	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent(headerStyle.Render(header))

	ta.KeyMap.InsertNewline.SetEnabled(false)

	return model{
		ctx:      ctx,
		textarea: ta,
		viewport: vp,
		send:     send,
	}
}

func (m model) Init() tea.Cmd {
	return textarea.Blink
}

var messageRoleToStyle = map[models.ChatRole]lipgloss.Style{
	models.ChatRoleUser:      lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Pink),
	models.ChatRoleAssistant: lipgloss.NewStyle().Padding(1).Margin(1).MarginBottom(0).Background(Background).Foreground(Cyan),
}

var messageRoleToIcon = map[models.ChatRole]string{
	models.ChatRoleUser:      "🥷",
	models.ChatRoleAssistant: "✨",
}

func formatMessage(msg models.ChatMessage) string {
	style, ok := messageRoleToStyle[msg.Role]
	if !ok {
		return msg.Content
	}
	icon, ok := messageRoleToIcon[msg.Role]
	if !ok {
		icon = "🤷"
	}
	wrapped := wordwrap.String(strings.TrimSpace(icon+" "+msg.Content), 80)
	return style.Render(wrapped)
}

func (m model) render() string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(header))
	sb.WriteString("\n")
	for _, cm := range m.messages {
		sb.WriteString(formatMessage(cm))
		sb.WriteString("\n")
	}
	if m.waiting {
		sb.WriteString(pendingStyle.Render("✨ ..."))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m model) refresh() model {
	m.viewport.SetContent(m.render())
	m.viewport.GotoBottom()
	return m
}

func (m model) sendMessages() tea.Cmd {
	req := models.ChatPostRequest{
		Messages: slices.Clone(m.messages),
	}
	return func() tea.Msg {
		resp, err := m.send(m.ctx, req)
		if err != nil {
			return chatErrorMsg{err: err}
		}
		return chatReplyMsg{content: resp.Response}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case chatReplyMsg:
		m.waiting = false
		m.messages = append(m.messages, models.ChatMessage{
			Role:    models.ChatRoleAssistant,
			Content: msg.content,
		})
		return m.refresh(), nil
	case chatErrorMsg:
		m.waiting = false
		m.err = msg.err
		// Drop the unanswered turn so that the history remains a valid conversation.
		if n := len(m.messages); n > 0 && m.messages[n-1].Role == models.ChatRoleUser {
			m.textarea.SetValue(m.messages[n-1].Content)
			m.messages = m.messages[:n-1]
		}
		return m.refresh(), nil
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - m.textarea.Height() - 4
		m.textarea.SetWidth(msg.Width)
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "ctrl+c":
			return m, tea.Quit
		case "enter":
			v := m.textarea.Value()

			if v == "" || m.waiting {
				// Don't send empty messages, or send while waiting for a reply.
				return m, nil
			}

			m.textarea.Reset()
			m.err = nil
			m.waiting = true
			m.messages = append(m.messages, models.ChatMessage{
				Role:    models.ChatRoleUser,
				Content: v,
			})
			return m.refresh(), m.sendMessages()
		default:
			// Send all other keypresses to the textarea.
			var cmd tea.Cmd
			m.textarea, cmd = m.textarea.Update(msg)
			return m, cmd
		}

	case cursor.BlinkMsg:
		// Textarea should also process cursor blinks.
		var cmd tea.Cmd
		m.textarea, cmd = m.textarea.Update(msg)
		return m, cmd

	default:
		return m, nil
	}
}

func (m model) View() string {
	status := ""
	if m.err != nil {
		status = errorStyle.Render(fmt.Sprintf("Error: %v", m.err))
	}
	return fmt.Sprintf("%s\n%s\n%s",
		m.viewport.View(),
		status,
		m.textarea.View(),
	) + "\n\n"
}
