package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1720000000,
  "model": "gpt-4o",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": "",
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "route", "arguments": "{\"next\":\"Scheduler\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func TestGenerateConvertsRequestAndResponse(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completion)
	}))
	defer srv.Close()

	cm, err := NewChatModel(context.Background(), Config{APIKey: "sk-test", BaseURL: srv.URL, Model: "gpt-4o"})
	require.NoError(t, err)

	bound, err := cm.WithTools([]*schema.ToolInfo{{
		Name: "route",
		Desc: "Select the next role.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"next": {Type: schema.String, Enum: []string{"Scheduler", "FINISH"}, Required: true},
		}),
	}})
	require.NoError(t, err)

	history := []*schema.Message{
		schema.SystemMessage("route"),
		schema.UserMessage("book me"),
		schema.AssistantMessage("", []schema.ToolCall{{ID: "call_0", Type: "function", Function: schema.FunctionCall{Name: "check_availability", Arguments: "{}"}}}),
		{Role: schema.Tool, Content: "no slots", ToolCallID: "call_0"},
	}
	out, err := bound.Generate(context.Background(), history,
		model.WithToolChoice(schema.ToolChoiceForced), model.WithModel("gpt-4o-mini"))
	require.NoError(t, err)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "route", out.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"next":"Scheduler"}`, out.ToolCalls[0].Function.Arguments)
	assert.Equal(t, 15, out.ResponseMeta.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, "required", body["tool_choice"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	assert.Equal(t, "tool", msgs[3].(map[string]any)["role"])
	assert.Equal(t, "call_0", msgs[3].(map[string]any)["tool_call_id"])
	tools, ok := body["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
}

func TestNewChatModelRequiresKey(t *testing.T) {
	_, err := NewChatModel(context.Background(), Config{})
	assert.Error(t, err)
}
