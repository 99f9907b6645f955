package agent

import (
	"github.com/cloudwego/eino/schema"
)

// AgentState is threaded through the conversation graph for one inbound message.
type AgentState struct {
	// Messages is the thread history plus everything produced during this run.
	// Nodes only ever append to it.
	Messages []*schema.Message `json:"messages"`

	// Next is the supervisor's routing decision: a worker name or FinishRoute.
	Next string `json:"next"`

	// Handoffs counts the worker rounds started in this run.
	Handoffs int `json:"handoffs"`

	Sender   string `json:"sender"`
	ThreadID string `json:"thread_id"`
}

// FinalAnswer returns the text of the last worker answer in msgs.
func FinalAnswer(msgs []*schema.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return "", false
		}
		if m.Role == schema.Assistant && len(m.ToolCalls) == 0 {
			if text := textOf(m); text != "" {
				return text, true
			}
		}
	}
	return "", false
}
