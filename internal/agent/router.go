package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/wwwzy/sweepchat/internal/config"
)

// FinishRoute ends the run.
const FinishRoute = config.FinishRoute

const routeToolName = "route"

// ErrInvalidRoute means the supervisor produced something other than a registered
// worker or FinishRoute. It is never recovered.
var ErrInvalidRoute = errors.New("invalid routing decision")

type RouterConfig struct {
	Model   model.ToolCallingChatModel
	Workers []string
	// Routes holds an optional "when to pick me" hint per worker.
	Routes      map[string]string
	CallTimeout time.Duration
}

// Router is the supervisor: one forced tool call choosing who acts next.
type Router struct {
	model       model.ToolCallingChatModel
	template    prompt.ChatTemplate
	options     []string
	valid       map[string]bool
	members     string
	routes      string
	callTimeout time.Duration
}

func NewRouter(_ context.Context, cfg RouterConfig) (*Router, error) {
	if cfg.Model == nil {
		return nil, errors.New("router model is required")
	}
	if len(cfg.Workers) == 0 {
		return nil, errors.New("router needs at least one worker")
	}

	valid := make(map[string]bool, len(cfg.Workers)+1)
	options := make([]string, 0, len(cfg.Workers)+1)
	for _, w := range cfg.Workers {
		if w == FinishRoute || valid[w] {
			return nil, fmt.Errorf("router: invalid or duplicate worker %q", w)
		}
		valid[w] = true
		options = append(options, w)
	}
	valid[FinishRoute] = true
	options = append(options, FinishRoute)

	cm, err := cfg.Model.WithTools([]*schema.ToolInfo{{
		Name: routeToolName,
		Desc: "Select the next role.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"next": {
				Type:     schema.String,
				Desc:     "The worker to act next, or FINISH",
				Enum:     options,
				Required: true,
			},
		}),
	}})
	if err != nil {
		return nil, fmt.Errorf("bind route tool: %w", err)
	}

	return &Router{
		model:       cm,
		template:    newRouterTemplate(),
		options:     options,
		valid:       valid,
		members:     strings.Join(cfg.Workers, ", "),
		routes:      routeHints(cfg.Workers, cfg.Routes),
		callTimeout: cfg.CallTimeout,
	}, nil
}

// routeHints renders one line per worker that has a hint, in worker order.
func routeHints(workers []string, routes map[string]string) string {
	var b strings.Builder
	for _, w := range workers {
		hint := strings.TrimSpace(routes[w])
		if hint == "" {
			continue
		}
		fmt.Fprintf(&b, "\nRoute to %s for %s.", w, strings.TrimSuffix(hint, "."))
	}
	return b.String()
}

// Options lists every valid decision, workers first.
func (r *Router) Options() []string {
	return append([]string(nil), r.options...)
}

// Decide returns a registered worker name or FinishRoute.
func (r *Router) Decide(ctx context.Context, messages []*schema.Message) (string, error) {
	input, err := r.template.Format(ctx, map[string]any{
		"members": r.members,
		"routes":  r.routes,
		"options": "[" + strings.Join(r.options, ", ") + "]",
		"history": sanitizeToolCalls(messages),
	})
	if err != nil {
		return "", fmt.Errorf("format router prompt: %w", err)
	}

	callCtx := ctx
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}
	msg, err := r.model.Generate(callCtx, input, model.WithToolChoice(schema.ToolChoiceForced))
	if err != nil {
		return "", fmt.Errorf("router model call: %w", err)
	}
	return r.parse(msg)
}

func (r *Router) parse(msg *schema.Message) (string, error) {
	if msg == nil || len(msg.ToolCalls) == 0 {
		return "", fmt.Errorf("%w: no route call in reply", ErrInvalidRoute)
	}
	call := msg.ToolCalls[0]
	if call.Function.Name != routeToolName {
		return "", fmt.Errorf("%w: unexpected tool %q", ErrInvalidRoute, call.Function.Name)
	}
	var args struct {
		Next string `json:"next"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	if !r.valid[args.Next] {
		return "", fmt.Errorf("%w: %q is not one of %v", ErrInvalidRoute, args.Next, r.options)
	}
	return args.Next, nil
}
