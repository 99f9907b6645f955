package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/tools"
)

type WorkerConfig struct {
	Name    string
	Persona string
	Tools   []tools.Name
	// Model is bound to the worker's tools in NewWorker.
	Model        model.ToolCallingChatModel
	Registry     *tools.Registry
	MaxReprompts int
	CallTimeout  time.Duration
	Logger       logrus.FieldLogger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Worker is one specialised agent: a persona and a tool-bound model.
type Worker struct {
	name         string
	tools        []tools.Name
	model        model.ToolCallingChatModel
	template     prompt.ChatTemplate
	maxReprompts int
	callTimeout  time.Duration
	log          logrus.FieldLogger
	now          func() time.Time
}

func NewWorker(ctx context.Context, cfg WorkerConfig) (*Worker, error) {
	if cfg.Name == "" {
		return nil, errors.New("worker name is required")
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("worker %s: model is required", cfg.Name)
	}
	if cfg.MaxReprompts < 0 {
		cfg.MaxReprompts = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	cm := cfg.Model
	if len(cfg.Tools) > 0 {
		if cfg.Registry == nil {
			return nil, fmt.Errorf("worker %s: registry is required to bind tools", cfg.Name)
		}
		infos, err := cfg.Registry.Infos(ctx, cfg.Tools)
		if err != nil {
			return nil, fmt.Errorf("worker %s: %w", cfg.Name, err)
		}
		cm, err = cfg.Model.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("worker %s: bind tools: %w", cfg.Name, err)
		}
	}

	return &Worker{
		name:         cfg.Name,
		tools:        append([]tools.Name(nil), cfg.Tools...),
		model:        cm,
		template:     newWorkerTemplate(cfg.Persona),
		maxReprompts: cfg.MaxReprompts,
		callTimeout:  cfg.CallTimeout,
		log:          cfg.Logger.WithField("worker", cfg.Name),
		now:          cfg.Now,
	}, nil
}

func (w *Worker) Name() string { return w.name }

func (w *Worker) Tools() []tools.Name { return w.tools }

// Step produces the worker's next message: either tool calls or a final answer.
//
// Empty replies are retried with a synthetic user instruction that stays local to
// this call; after maxReprompts retries the worker answers with FallbackText.
// The returned message carries the worker's name.
func (w *Worker) Step(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	history := sanitizeToolCalls(messages)

	for attempt := 0; ; attempt++ {
		input, err := w.template.Format(ctx, map[string]any{
			"time":    w.now().Format("01/02/2006"),
			"history": history,
		})
		if err != nil {
			return nil, fmt.Errorf("format %s prompt: %w", w.name, err)
		}

		msg, err := w.generate(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("%s model call: %w", w.name, err)
		}

		switch classify(msg) {
		case kindToolCalls, kindAnswer:
			out := *msg
			out.Role = schema.Assistant
			out.Name = w.name
			if out.Content == "" && len(out.ToolCalls) == 0 {
				out.Content = textOf(msg)
			}
			return &out, nil
		}

		if attempt >= w.maxReprompts {
			w.log.WithField("attempts", attempt+1).Warn("model kept returning empty replies, answering with fallback")
			fallback := schema.AssistantMessage(FallbackText, nil)
			fallback.Name = w.name
			return fallback, nil
		}
		w.log.WithField("attempt", attempt+1).Debug("empty model reply, re-prompting")
		history = append(append([]*schema.Message(nil), history...), schema.UserMessage(RepromptText))
	}
}

func (w *Worker) generate(ctx context.Context, input []*schema.Message) (*schema.Message, error) {
	if w.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.callTimeout)
		defer cancel()
	}
	return w.model.Generate(ctx, input)
}
