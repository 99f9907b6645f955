package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/sirupsen/logrus"
	"github.com/wwwzy/sweepchat/internal/config"
	llmopenai "github.com/wwwzy/sweepchat/internal/llm/openai"
	"github.com/wwwzy/sweepchat/internal/tools"
)

// NewChatModel builds the workers' chat model for the configured provider.
func NewChatModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	return newChatModel(ctx, cfg, cfg.OpenAI.Model)
}

// NewRouterModel is NewChatModel with the cheaper routing model where the provider has one.
func NewRouterModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	name := cfg.OpenAI.RouterModel
	if name == "" {
		name = cfg.OpenAI.Model
	}
	return newChatModel(ctx, cfg, name)
}

func newChatModel(ctx context.Context, cfg config.ModelConfig, openaiModel string) (model.ToolCallingChatModel, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		cm, err := llmopenai.NewChatModel(ctx, llmopenai.Config{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			Model:       openaiModel,
			Temperature: cfg.OpenAI.Temperature,
			Timeout:     cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	case config.ProviderArk:
		if cfg.Ark.APIKey == "" || cfg.Ark.ModelID == "" {
			return nil, fmt.Errorf("ARK_API_KEY, ARK_MODEL_ID must be set")
		}
		arkCfg := &ark.ChatModelConfig{
			APIKey:  cfg.Ark.APIKey,
			Model:   cfg.Ark.ModelID,
			BaseURL: cfg.Ark.BaseURL,
		}
		if cfg.Timeout > 0 {
			timeout := cfg.Timeout
			arkCfg.Timeout = &timeout
		}
		cm, err := ark.NewChatModel(ctx, arkCfg)
		if err != nil {
			return nil, err
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}

// Models lets callers (and tests) supply the chat models instead of building them from config.
type Models struct {
	Worker model.ToolCallingChatModel
	Router model.ToolCallingChatModel
}

// New assembles the conversation graph described by cfg.
func New(ctx context.Context, cfg *config.Config, models Models, registry *tools.Registry, audit tools.AuditSink, log logrus.FieldLogger) (compose.Runnable[AgentState, AgentState], error) {
	var err error
	if models.Worker == nil {
		if models.Worker, err = NewChatModel(ctx, cfg.Model); err != nil {
			return nil, fmt.Errorf("init chat model failed: %w", err)
		}
	}
	if models.Router == nil {
		if models.Router, err = NewRouterModel(ctx, cfg.Model); err != nil {
			return nil, fmt.Errorf("init router model failed: %w", err)
		}
	}

	names := make([]string, 0, len(cfg.Orchestration.Workers))
	routes := make(map[string]string, len(cfg.Orchestration.Workers))
	workers := make([]*Worker, 0, len(cfg.Orchestration.Workers))
	for _, wc := range cfg.Orchestration.Workers {
		toolNames := make([]tools.Name, 0, len(wc.Tools))
		for _, t := range wc.Tools {
			toolNames = append(toolNames, tools.Name(t))
		}
		w, err := NewWorker(ctx, WorkerConfig{
			Name:         wc.Name,
			Persona:      wc.Persona,
			Tools:        toolNames,
			Model:        models.Worker,
			Registry:     registry,
			MaxReprompts: cfg.Orchestration.MaxReprompts,
			CallTimeout:  cfg.Model.Timeout,
			Logger:       log,
		})
		if err != nil {
			return nil, err
		}
		workers = append(workers, w)
		names = append(names, wc.Name)
		routes[wc.Name] = wc.Route
	}

	router, err := NewRouter(ctx, RouterConfig{
		Model:       models.Router,
		Workers:     names,
		Routes:      routes,
		CallTimeout: cfg.Model.Timeout,
	})
	if err != nil {
		return nil, err
	}

	return BuildGraph(ctx, Deps{
		Router:      router,
		Workers:     workers,
		Registry:    registry,
		Audit:       audit,
		Logger:      log,
		MaxHandoffs: cfg.Orchestration.MaxHandoffs,
		MaxSteps:    cfg.Orchestration.MaxSteps,
	})
}
