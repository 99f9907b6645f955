// Package tui is a full-screen chat front end over the same service as the console REPL.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/wwwzy/sweepchat/internal/service"
	"github.com/wwwzy/sweepchat/internal/ui"
)

type ChatUI struct{}

func (u *ChatUI) Run(ctx context.Context, backend ui.Backend, opts ui.ChatOptions) error {
	if strings.TrimSpace(opts.Sender) == "" {
		return fmt.Errorf("tui: sender is empty")
	}
	p := tea.NewProgram(newChatModel(ctx, backend, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

const (
	headerLines = 1
	inputLines  = 3
	footerLines = 1

	// revealRunes is how much of a reply each stream tick uncovers.
	revealRunes = 24
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	noticeStyle    = lipgloss.NewStyle().Faint(true).Italic(true)
	agentBubble    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	customerBubble = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("205")).Padding(0, 1)
	inputBox       = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type speaker int

const (
	speakerCustomer speaker = iota
	speakerAgent
	speakerNotice
)

type entry struct {
	who  speaker
	text string
}

type replyMsg struct {
	reply service.Reply
	err   error
}

type streamTickMsg struct{}
type cancelMsg struct{}

type chatModel struct {
	ctx     context.Context
	backend ui.Backend
	opts    ui.ChatOptions
	inbound []service.InboundOption

	transcript []entry

	width  int
	height int

	viewport   viewport.Model
	input      textinput.Model
	spinner    spinner.Model
	thinking   bool
	followTail bool

	// streaming reveals the newest agent entry a chunk at a time.
	streaming bool
	streamIdx int
	streamPos int

	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, backend ui.Backend, opts ui.ChatOptions) chatModel {
	s := spinner.New()
	s.Spinner = spinner.MiniDot

	ti := textinput.New()
	ti.Placeholder = "Type a message, Enter to send"
	ti.Prompt = ""
	ti.Focus()

	vp := viewport.New(0, 0)
	vp.SetContent("")

	var inbound []service.InboundOption
	if !opts.Deliver {
		inbound = append(inbound, service.WithoutDelivery())
	}

	return chatModel{
		ctx:        ctx,
		backend:    backend,
		opts:       opts,
		inbound:    inbound,
		viewport:   vp,
		input:      ti,
		spinner:    s,
		followTail: true,
		streamIdx:  -1,
	}
}

func (m chatModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitCancel(m.ctx))
}

func waitCancel(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		<-ctx.Done()
		return cancelMsg{}
	}
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case cancelMsg:
		return m, tea.Quit

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case replyMsg:
		m.thinking = false
		switch {
		case msg.err != nil && !(errors.Is(msg.err, service.ErrPersistence) && msg.reply.Text != ""):
			m.transcript = append(m.transcript, entry{who: speakerNotice, text: "error: " + msg.err.Error()})
		default:
			m.transcript = append(m.transcript, entry{who: speakerAgent, text: msg.reply.Text})
			m.streaming = true
			m.streamIdx = len(m.transcript) - 1
			m.streamPos = 0
			if msg.err != nil {
				m.transcript = append(m.transcript, entry{who: speakerNotice, text: "reply not saved: " + msg.err.Error()})
			}
		}
		m.followTail = true
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case streamTickMsg:
		if !m.streaming {
			return m, nil
		}
		total := utf8.RuneCountInString(m.transcript[m.streamIdx].text)
		m.streamPos = min(total, m.streamPos+revealRunes)
		m.streaming = m.streamPos < total
		m.updateViewportContent(m.renderChat())
		if m.streaming {
			return m, streamTick()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "pgup", "pageup":
			m.viewport.PageUp()
			m.followTail = false
			return m, nil
		case "pgdown", "pagedown":
			m.viewport.PageDown()
			if m.viewport.AtBottom() {
				m.followTail = true
			}
			return m, nil
		}

		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)

		if msg.String() == "enter" && !m.thinking {
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, cmd
			}
			switch strings.ToLower(text) {
			case "exit", "quit":
				return m, tea.Quit
			}

			m.transcript = append(m.transcript, entry{who: speakerCustomer, text: text})
			m.followTail = true
			m.updateViewportContent(m.renderChat())

			m.input.SetValue("")
			m.thinking = true
			return m, tea.Batch(cmd, m.send(text))
		}
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m chatModel) send(text string) tea.Cmd {
	return func() tea.Msg {
		reply, err := m.backend.HandleInbound(m.ctx, m.opts.Sender, text, m.inbound...)
		return replyMsg{reply: reply, err: err}
	}
}

func streamTick() tea.Cmd {
	return tea.Tick(45*time.Millisecond, func(time.Time) tea.Msg { return streamTickMsg{} })
}

func (m chatModel) View() string {
	header := headerStyle.Render("sweepchat · " + m.opts.Sender)
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), m.inputView(), m.footerView())
}

func (m chatModel) footerView() string {
	left := "Enter send | PgUp/PgDn scroll | Ctrl+C quit"
	right := ""
	if m.thinking {
		right = m.spinner.View() + " Thinking..."
	}
	gap := lipgloss.NewStyle().Width(max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)-2)).Render("")
	return lipgloss.NewStyle().Width(m.width).Padding(0, 1).Render(lipgloss.JoinHorizontal(lipgloss.Left, left, gap, right))
}

func (m chatModel) inputView() string {
	return inputBox.Width(max(1, m.input.Width+2)).Render(m.input.View())
}

// resize lays out header, transcript, input box and footer for a w x h terminal.
func (m *chatModel) resize(w, h int) {
	m.width, m.height = w, h
	const chrome = headerLines + inputLines + footerLines
	m.viewport.Width = w
	m.viewport.Height = max(1, h-chrome)
	m.input.Width = max(10, w-4)

	m.resetMarkdownRenderer()
	m.updateViewportContent(m.renderChat())
}

func (m *chatModel) updateViewportContent(content string) {
	oldYOffset := m.viewport.YOffset
	m.viewport.SetContent(content)
	if m.followTail {
		m.viewport.GotoBottom()
		return
	}
	m.viewport.SetYOffset(oldYOffset)
}

func (m *chatModel) resetMarkdownRenderer() {
	if m.width <= 0 || m.opts.Plain {
		return
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(m.bubbleMaxContentWidth()),
	)
	if err == nil {
		m.renderer = r
	}
}

func (m chatModel) renderChat() string {
	var b strings.Builder
	for i, e := range m.transcript {
		text := e.text
		if m.streaming && i == m.streamIdx {
			text = prefixRunes(text, m.streamPos)
			if strings.TrimSpace(text) == "" {
				text = "…"
			}
		}
		switch e.who {
		case speakerCustomer:
			b.WriteString(m.renderCustomer(text))
		case speakerAgent:
			b.WriteString(m.renderAgent(text))
		default:
			b.WriteString(noticeStyle.Render(text))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m chatModel) bubbleMaxContentWidth() int {
	if m.width <= 0 {
		return 72
	}
	return max(20, m.width-8)
}

func (m chatModel) renderAgent(content string) string {
	if m.renderer != nil && strings.TrimSpace(content) != "" {
		if rendered, err := m.renderer.Render(content); err == nil {
			content = strings.TrimRight(rendered, "\n")
		}
	}
	return agentBubble.MaxWidth(max(20, m.width-4)).Render(content)
}

// renderCustomer right-aligns the customer's bubble, chat-app style.
func (m chatModel) renderCustomer(content string) string {
	bubble := customerBubble.MaxWidth(max(20, m.width-4)).Render(content)
	return lipgloss.PlaceHorizontal(max(1, m.width), lipgloss.Right, bubble)
}

func prefixRunes(s string, n int) string {
	for i := range s {
		if n == 0 {
			return s[:i]
		}
		n--
	}
	return s
}
