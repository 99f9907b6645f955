// Package agenttest provides a deterministic chat model for orchestration tests.
package agenttest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// Response configures one model turn in a scripted sequence.
type Response struct {
	Message *schema.Message
	Err     error
}

// ScriptedModel replays its responses in order and records every request.
// WithTools returns the same instance so bound and unbound views share one script.
type ScriptedModel struct {
	mu        sync.Mutex
	index     int
	responses []Response
	inputs    [][]*schema.Message
	options   []*model.Options
	tools     []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ScriptedModel)(nil)

func NewScriptedModel(responses ...Response) *ScriptedModel {
	cloned := make([]Response, len(responses))
	copy(cloned, responses)
	return &ScriptedModel{responses: cloned}
}

func (m *ScriptedModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inputs = append(m.inputs, append([]*schema.Message(nil), input...))
	m.options = append(m.options, model.GetCommonOptions(&model.Options{}, opts...))

	if m.index >= len(m.responses) {
		return nil, fmt.Errorf("script exhausted at step %d", m.index+1)
	}
	current := m.responses[m.index]
	m.index++
	if current.Err != nil {
		return nil, current.Err
	}
	msg := *current.Message
	msg.ToolCalls = append([]schema.ToolCall(nil), current.Message.ToolCalls...)
	if msg.Role == "" {
		msg.Role = schema.Assistant
	}
	return &msg, nil
}

func (m *ScriptedModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ScriptedModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = append([]*schema.ToolInfo(nil), tools...)
	return m, nil
}

// Inputs returns the message lists of every call so far.
func (m *ScriptedModel) Inputs() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.inputs...)
}

// Options returns the resolved options of every call so far.
func (m *ScriptedModel) Options() []*model.Options {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*model.Options(nil), m.options...)
}

func (m *ScriptedModel) Tools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*schema.ToolInfo(nil), m.tools...)
}

// Calls is the number of Generate calls made.
func (m *ScriptedModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inputs)
}

// Remaining is the number of unused responses.
func (m *ScriptedModel) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.responses) - m.index
}

// Answer is a plain assistant reply.
func Answer(text string) Response {
	return Response{Message: schema.AssistantMessage(text, nil)}
}

// Empty is a degenerate reply with neither text nor tool calls.
func Empty() Response {
	return Response{Message: schema.AssistantMessage("", nil)}
}

// Call is an assistant reply requesting one tool call.
func Call(id, name string, args any) Response {
	raw, ok := args.(string)
	if !ok {
		data, err := json.Marshal(args)
		if err != nil {
			panic(err)
		}
		raw = string(data)
	}
	return Response{Message: schema.AssistantMessage("", []schema.ToolCall{{
		ID:       id,
		Type:     "function",
		Function: schema.FunctionCall{Name: name, Arguments: raw},
	}})}
}

// Route is a supervisor reply choosing next.
func Route(next string) Response {
	return Call("route_"+next, "route", map[string]string{"next": next})
}

// Fail makes the model call return err.
func Fail(err error) Response {
	return Response{Err: err}
}
