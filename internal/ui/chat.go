// Package ui runs an interactive console conversation against the chat service.
package ui

import (
	"context"

	"github.com/wwwzy/sweepchat/internal/service"
)

// Backend handles one typed message, the same way an inbound text is handled.
type Backend interface {
	HandleInbound(ctx context.Context, sender, text string, opts ...service.InboundOption) (service.Reply, error)
}

type ChatUI interface {
	Run(ctx context.Context, backend Backend, opts ChatOptions) error
}

type ChatOptions struct {
	// Sender keys the conversation thread, like a phone number would.
	Sender string
	// Deliver also sends replies through the configured messaging provider.
	Deliver bool
	// Width is the render width; zero picks a default.
	Width int
	// Plain disables markdown rendering and colors.
	Plain bool
}
