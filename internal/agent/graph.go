package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/tools"
)

const NodeSupervisor = "supervisor"

// ToolsNodeName returns the graph key of a worker's tool execution node.
func ToolsNodeName(worker string) string { return worker + "_tools" }

type Deps struct {
	Router   *Router
	Workers  []*Worker
	Registry *tools.Registry
	// Audit is optional.
	Audit  tools.AuditSink
	Logger logrus.FieldLogger
	// MaxHandoffs bounds worker rounds per run; once reached the supervisor finishes
	// without a model call. Zero means one round.
	MaxHandoffs int
	// MaxSteps caps node executions per run; exceeding it fails the run.
	MaxSteps int
}

// BuildGraph wires the supervisor, the workers and their tool nodes:
//
//	START -> supervisor -> <worker> | END
//	<worker> -> <worker>_tools (tool calls) | supervisor (answer)
//	<worker>_tools -> <worker>
func BuildGraph(ctx context.Context, deps Deps) (compose.Runnable[AgentState, AgentState], error) {
	if deps.Router == nil {
		return nil, errors.New("router is required")
	}
	if len(deps.Workers) == 0 {
		return nil, errors.New("at least one worker is required")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.MaxHandoffs <= 0 {
		deps.MaxHandoffs = 1
	}
	log := deps.Logger

	g := compose.NewGraph[AgentState, AgentState]()

	routeEnds := map[string]bool{compose.END: true}
	known := make(map[string]bool, len(deps.Workers))
	for _, w := range deps.Workers {
		if known[w.Name()] {
			return nil, fmt.Errorf("duplicate worker %q", w.Name())
		}
		known[w.Name()] = true
		routeEnds[w.Name()] = true
	}
	for _, opt := range deps.Router.Options() {
		if opt != FinishRoute && !known[opt] {
			return nil, fmt.Errorf("router option %q has no worker", opt)
		}
	}

	if err := g.AddLambdaNode(NodeSupervisor, compose.InvokableLambda(func(ctx context.Context, state AgentState) (AgentState, error) {
		if state.Handoffs >= deps.MaxHandoffs {
			state.Next = FinishRoute
			return state, nil
		}
		next, err := deps.Router.Decide(ctx, state.Messages)
		if err != nil {
			return state, err
		}
		log.WithFields(logrus.Fields{"thread_id": state.ThreadID, "next": next, "handoffs": state.Handoffs}).Debug("supervisor decision")
		state.Next = next
		if next != FinishRoute {
			state.Handoffs++
		}
		return state, nil
	})); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, NodeSupervisor); err != nil {
		return nil, err
	}

	for _, w := range deps.Workers {
		if err := addWorker(ctx, g, w, deps); err != nil {
			return nil, err
		}
	}

	// Branch ends must already be graph nodes.
	if err := g.AddBranch(NodeSupervisor, compose.NewGraphBranch(func(ctx context.Context, state AgentState) (string, error) {
		if state.Next == FinishRoute {
			return compose.END, nil
		}
		if !known[state.Next] {
			return "", fmt.Errorf("%w: %q", ErrInvalidRoute, state.Next)
		}
		return state.Next, nil
	}, routeEnds)); err != nil {
		return nil, err
	}

	opts := []compose.GraphCompileOption{compose.WithGraphName("conversation")}
	if deps.MaxSteps > 0 {
		opts = append(opts, compose.WithMaxRunSteps(deps.MaxSteps))
	}
	return g.Compile(ctx, opts...)
}

func addWorker(ctx context.Context, g *compose.Graph[AgentState, AgentState], w *Worker, deps Deps) error {
	worker := w
	toolsKey := ToolsNodeName(worker.Name())

	if err := g.AddLambdaNode(worker.Name(), compose.InvokableLambda(func(ctx context.Context, state AgentState) (AgentState, error) {
		msg, err := worker.Step(ctx, state.Messages)
		if err != nil {
			return state, err
		}
		state.Messages = appendMessages(state.Messages, msg)
		return state, nil
	})); err != nil {
		return err
	}

	tn, err := NewToolsNode(ctx, worker.Tools(), deps.Registry, deps.Audit, deps.Logger)
	if err != nil {
		return fmt.Errorf("tools node for %s: %w", worker.Name(), err)
	}
	if err := g.AddLambdaNode(toolsKey, compose.InvokableLambda(func(ctx context.Context, state AgentState) (AgentState, error) {
		outputs, err := tn.Invoke(ctx, lastMessage(state.Messages))
		if err != nil {
			return state, err
		}
		state.Messages = appendMessages(state.Messages, outputs...)
		return state, nil
	})); err != nil {
		return err
	}

	if err := g.AddBranch(worker.Name(), compose.NewGraphBranch(func(ctx context.Context, state AgentState) (string, error) {
		if last := lastMessage(state.Messages); last != nil && len(last.ToolCalls) > 0 {
			return toolsKey, nil
		}
		return NodeSupervisor, nil
	}, map[string]bool{
		toolsKey:       true,
		NodeSupervisor: true,
	})); err != nil {
		return err
	}

	return g.AddEdge(toolsKey, worker.Name())
}

func lastMessage(msgs []*schema.Message) *schema.Message {
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// appendMessages never writes into the caller's backing array.
func appendMessages(msgs []*schema.Message, more ...*schema.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs)+len(more))
	out = append(out, msgs...)
	return append(out, more...)
}
