package agent

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// RepromptText is sent when a worker's model returns neither text nor tool calls.
const RepromptText = "Respond with a real output."

// FallbackText is the worker's answer once the re-prompt budget is spent.
const FallbackText = "Sorry, I'm unable to respond right now. A member of our team will follow up shortly."

// routerSystemPrompt expects {members} and {routes}, the per-worker routing hints.
const routerSystemPrompt = `You are a supervisor tasked with managing a conversation between a customer of a home-services company and the following workers: {members}.
Given the customer's latest request, respond with the worker to act next. Each worker will perform a task and respond with their results.{routes}`

// routerInstruction expects {options}.
const routerInstruction = `Given the conversation above, who should act next? Or should we FINISH if a worker has already answered the customer's latest message? Select one of: {options}`

// newWorkerTemplate renders persona + history. The persona may reference {time}.
func newWorkerTemplate(persona string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(persona),
		schema.MessagesPlaceholder("history", false),
	)
}

func newRouterTemplate() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(routerSystemPrompt),
		schema.MessagesPlaceholder("history", false),
		schema.SystemMessage(routerInstruction),
	)
}
