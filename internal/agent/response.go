package agent

import (
	"encoding/json"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// responseKind classifies a model reply structurally.
type responseKind int

const (
	// kindEmpty is a reply with neither text nor tool calls.
	kindEmpty responseKind = iota
	kindAnswer
	kindToolCalls
)

func classify(msg *schema.Message) responseKind {
	if msg == nil {
		return kindEmpty
	}
	if len(msg.ToolCalls) > 0 {
		return kindToolCalls
	}
	if strings.TrimSpace(textOf(msg)) == "" {
		return kindEmpty
	}
	return kindAnswer
}

// textOf returns the message text, falling back to the first content part.
func textOf(msg *schema.Message) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}
	return msg.MultiContent[0].Text
}

// sanitizeToolCalls replaces unparsable tool-call arguments with "{}" so the
// provider accepts the history on the next call. input is never modified.
func sanitizeToolCalls(input []*schema.Message) []*schema.Message {
	sanitized := input
	changed := false
	for i, m := range input {
		if m == nil || m.Role != schema.Assistant || len(m.ToolCalls) == 0 {
			continue
		}
		toolCallsChanged := false
		newToolCalls := m.ToolCalls
		for j := range m.ToolCalls {
			args := strings.TrimSpace(m.ToolCalls[j].Function.Arguments)
			if args == "" || args == "null" || !json.Valid([]byte(args)) {
				if !toolCallsChanged {
					newToolCalls = append([]schema.ToolCall(nil), m.ToolCalls...)
					toolCallsChanged = true
				}
				newToolCalls[j].Function.Arguments = "{}"
			}
		}
		if toolCallsChanged {
			if !changed {
				sanitized = append([]*schema.Message(nil), input...)
				changed = true
			}
			nm := *m
			nm.ToolCalls = newToolCalls
			sanitized[i] = &nm
		}
	}
	return sanitized
}
