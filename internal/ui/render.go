package ui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

const defaultWidth = 80

var (
	promptStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true)
	noteStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type renderer struct {
	width int
	plain bool
	md    *glamour.TermRenderer
}

func newRenderer(width int, plain bool) *renderer {
	if width <= 0 {
		width = defaultWidth
	}
	r := &renderer{width: width, plain: plain}
	if plain {
		return r
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(r.contentWidth()),
	)
	if err == nil {
		r.md = md
	}
	return r
}

func (r *renderer) contentWidth() int {
	return max(20, r.width-8)
}

func (r *renderer) prompt(label string) string {
	if r.plain {
		return label
	}
	return promptStyle.Render(label)
}

func (r *renderer) header(s string) string {
	if r.plain {
		return s
	}
	return headerStyle.Render(s)
}

func (r *renderer) note(s string) string {
	if r.plain {
		return s
	}
	return noteStyle.Render(s)
}

func (r *renderer) failure(s string) string {
	if r.plain {
		return s
	}
	return errorStyle.Render(s)
}

// reply renders an assistant answer as markdown inside a rounded bubble.
func (r *renderer) reply(content string) string {
	content = strings.TrimRight(content, "\n")
	if r.plain {
		return content
	}
	if r.md != nil && strings.TrimSpace(content) != "" {
		if rendered, err := r.md.Render(content); err == nil {
			content = strings.TrimRight(rendered, "\n")
		}
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("63")).
		Padding(0, 1).
		MaxWidth(max(20, r.width-4)).
		Render(content)
}
