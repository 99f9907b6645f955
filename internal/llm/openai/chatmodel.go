// Package openai adapts the OpenAI Chat Completions API to eino's tool-calling chat model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	// Timeout bounds one completion request. Zero leaves it to the caller's context.
	Timeout time.Duration
}

// ChatModel is safe for concurrent use; WithTools returns a new instance.
type ChatModel struct {
	client *openai.Client
	cfg    Config
	tools  []*schema.ToolInfo
}

var _ model.ToolCallingChatModel = (*ChatModel)(nil)

func NewChatModel(_ context.Context, cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4o
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	client := openai.NewClient(opts...)
	return &ChatModel{client: &client, cfg: cfg}, nil
}

func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	cp := *m
	cp.tools = append([]*schema.ToolInfo(nil), tools...)
	return &cp, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	params, err := m.buildParams(input, opts...)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai returned no choices")
	}

	ch0 := resp.Choices[0]
	out := &schema.Message{
		Role:    schema.Assistant,
		Content: ch0.Message.Content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: ch0.FinishReason,
			Usage: &schema.TokenUsage{
				PromptTokens:     int(resp.Usage.PromptTokens),
				CompletionTokens: int(resp.Usage.CompletionTokens),
				TotalTokens:      int(resp.Usage.TotalTokens),
			},
		},
	}
	for _, tc := range ch0.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

// Stream emits the complete response as a single chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *ChatModel) buildParams(input []*schema.Message, opts ...model.Option) (openai.ChatCompletionNewParams, error) {
	co := model.GetCommonOptions(&model.Options{}, opts...)

	modelName := m.cfg.Model
	if co.Model != nil && *co.Model != "" {
		modelName = *co.Model
	}
	temperature := m.cfg.Temperature
	if co.Temperature != nil {
		temperature = float64(*co.Temperature)
	}

	params := openai.ChatCompletionNewParams{
		Messages:    buildMessages(input),
		Model:       modelName,
		Temperature: openai.Float(temperature),
	}
	if co.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*co.MaxTokens))
	}

	tools := m.tools
	if co.Tools != nil {
		tools = co.Tools
	}
	if len(tools) > 0 {
		defs, err := buildTools(tools)
		if err != nil {
			return params, err
		}
		params.Tools = defs
	}

	if co.ToolChoice != nil {
		switch *co.ToolChoice {
		case schema.ToolChoiceForced:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
		case schema.ToolChoiceForbidden:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
		}
	}
	return params, nil
}

func buildMessages(input []*schema.Message) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(input))
	for _, msg := range input {
		if msg == nil {
			continue
		}
		text := textOf(msg)
		switch msg.Role {
		case schema.System:
			messages = append(messages, openai.SystemMessage(text))
		case schema.User:
			messages = append(messages, openai.UserMessage(text))
		case schema.Tool:
			messages = append(messages, openai.ToolMessage(text, msg.ToolCallID))
		case schema.Assistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(text))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}
	return messages
}

func textOf(msg *schema.Message) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}
	for _, part := range msg.MultiContent {
		if part.Type == schema.ChatMessagePartTypeText && part.Text != "" {
			return part.Text
		}
	}
	return ""
}

func buildTools(infos []*schema.ToolInfo) ([]openai.ChatCompletionToolParam, error) {
	out := make([]openai.ChatCompletionToolParam, 0, len(infos))
	for _, info := range infos {
		params := map[string]any{"type": "object", "properties": map[string]any{}}
		if info.ParamsOneOf != nil {
			js, err := info.ParamsOneOf.ToJSONSchema()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			raw, err := json.Marshal(js)
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			params = map[string]any{}
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        info.Name,
				Description: openai.String(info.Desc),
				Parameters:  params,
			},
		})
	}
	return out, nil
}
