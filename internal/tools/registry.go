package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ErrUnregistered is returned when a tool name has no registration.
var ErrUnregistered = errors.New("tool is not registered")

// Registry maps tool names to implementations. It is built once at startup and
// read-only afterwards.
type Registry struct {
	tools map[Name]tool.InvokableTool
}

func NewRegistry(ctx context.Context, impls ...tool.InvokableTool) (*Registry, error) {
	r := &Registry{tools: make(map[Name]tool.InvokableTool, len(impls))}
	for _, impl := range impls {
		info, err := impl.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool info: %w", err)
		}
		name := Name(info.Name)
		if !name.Valid() {
			return nil, fmt.Errorf("register %q: unknown tool name", info.Name)
		}
		if _, dup := r.tools[name]; dup {
			return nil, fmt.Errorf("register %q: already registered", info.Name)
		}
		r.tools[name] = impl
	}
	return r, nil
}

// NewDefaultRegistry registers every known tool against the configured backend.
func NewDefaultRegistry(ctx context.Context, cfg Config, httpClient *http.Client) (*Registry, error) {
	client := NewSchedulingClient(httpClient, cfg.Timeout)
	return NewRegistry(ctx,
		NewAvailabilityTool(client, cfg.AvailabilityURL),
		NewBookingTool(client, cfg.BookingURL),
		&BriefTool{},
	)
}

func (r *Registry) Lookup(name Name) (tool.InvokableTool, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, name)
	}
	return t, nil
}

// Subset returns the tools named, in the order given.
func (r *Registry) Subset(names []Name) ([]tool.InvokableTool, error) {
	out := make([]tool.InvokableTool, 0, len(names))
	for _, n := range names {
		t, err := r.Lookup(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Infos returns the model-facing declarations of the tools named.
func (r *Registry) Infos(ctx context.Context, names []Name) ([]*schema.ToolInfo, error) {
	subset, err := r.Subset(names)
	if err != nil {
		return nil, err
	}
	infos := make([]*schema.ToolInfo, 0, len(subset))
	for _, t := range subset {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}
