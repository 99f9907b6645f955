package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/wwwzy/sweepchat/internal/housekeeping"
	"github.com/wwwzy/sweepchat/internal/storage"
	"github.com/wwwzy/sweepchat/internal/tools"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"

	MessagingTwilio = "twilio"
	MessagingLog    = "log"

	ChannelWhatsApp = "whatsapp"
	ChannelSMS      = "sms"

	// FinishRoute is the supervisor's termination sentinel; no worker may use it as a name.
	FinishRoute = "FINISH"
	// SupervisorNode is reserved for the routing node.
	SupervisorNode = "supervisor"
)

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	RouterModel string  `mapstructure:"router_model"`
	Temperature float64 `mapstructure:"temperature"`
}

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

type ModelConfig struct {
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
	OpenAI   OpenAIConfig  `mapstructure:"openai"`
	Ark      ArkConfig     `mapstructure:"ark"`
}

// WorkerConfig describes one specialised agent: its persona and the tools it may call.
// Name is both the routing choice and the author name on the worker's messages, so
// it is case-sensitive.
type WorkerConfig struct {
	Name    string `mapstructure:"name"`
	Persona string `mapstructure:"persona"`
	// Route tells the supervisor when to pick this worker.
	Route string   `mapstructure:"route"`
	Tools []string `mapstructure:"tools"`
}

type OrchestrationConfig struct {
	// MaxReprompts bounds the "respond with a real output" loop of a worker.
	MaxReprompts int `mapstructure:"max_reprompts"`
	// MaxHandoffs bounds how many worker rounds one inbound message may trigger.
	MaxHandoffs int `mapstructure:"max_handoffs"`
	// MaxSteps is the hard node-execution cap of one graph run.
	MaxSteps    int           `mapstructure:"max_steps"`
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
	// Workers is a list rather than a map because viper lowercases map keys.
	Workers []WorkerConfig `mapstructure:"workers"`
}

type MessagingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Channel    string        `mapstructure:"channel"`
	AccountSID string        `mapstructure:"account_sid"`
	AuthToken  string        `mapstructure:"auth_token"`
	FromNumber string        `mapstructure:"from_number"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Config struct {
	LogLevel      string              `mapstructure:"log_level"`
	LogFormat     string              `mapstructure:"log_format"`
	Server        ServerConfig        `mapstructure:"server"`
	Storage       storage.Config      `mapstructure:"storage"`
	Model         ModelConfig         `mapstructure:"model"`
	Tools         tools.Config        `mapstructure:"tools"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Messaging     MessagingConfig     `mapstructure:"messaging"`
	Retention     housekeeping.Config `mapstructure:"retention"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.sweepchat")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("SWEEPCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees keys viper knows about, so every key gets a default here.
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// A workers section in the file replaces the defaults wholesale.
	if len(cfg.Orchestration.Workers) == 0 {
		cfg.Orchestration.Workers = DefaultWorkers()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderOpenAI:
		if c.Model.OpenAI.APIKey == "" {
			return fmt.Errorf("model.openai.api_key is required (or set OPENAI_API_KEY env var)")
		}
		if c.Model.OpenAI.Model == "" {
			return fmt.Errorf("model.openai.model is required")
		}
	case ProviderArk:
		if c.Model.Ark.APIKey == "" {
			return fmt.Errorf("model.ark.api_key is required (or set ARK_API_KEY env var)")
		}
		if c.Model.Ark.ModelID == "" {
			return fmt.Errorf("model.ark.model_id is required (or set ARK_MODEL_ID env var)")
		}
	default:
		return fmt.Errorf("unknown model.provider %q (supported: openai, ark)", c.Model.Provider)
	}

	if c.Tools.AvailabilityURL == "" {
		return fmt.Errorf("tools.availability_url is required (or set CC_WEBHOOK_URL env var)")
	}
	if c.Tools.BookingURL == "" {
		return fmt.Errorf("tools.booking_url is required (or set PCP_WEBHOOK_URL env var)")
	}

	if len(c.Orchestration.Workers) == 0 {
		return fmt.Errorf("orchestration.workers must name at least one worker")
	}
	seen := make(map[string]bool, len(c.Orchestration.Workers))
	for _, w := range c.Orchestration.Workers {
		name := strings.TrimSpace(w.Name)
		if name == "" || name != w.Name || strings.EqualFold(name, FinishRoute) || strings.EqualFold(name, SupervisorNode) {
			return fmt.Errorf("orchestration.workers: %q is not a valid worker name", w.Name)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("orchestration.workers: %q is configured twice", name)
		}
		seen[strings.ToLower(name)] = true
		if strings.TrimSpace(w.Persona) == "" {
			return fmt.Errorf("orchestration.workers.%s.persona is required", name)
		}
		for _, t := range w.Tools {
			if !tools.Name(t).Valid() {
				return fmt.Errorf("orchestration.workers.%s: unknown tool %q", name, t)
			}
		}
	}

	switch c.Messaging.Provider {
	case MessagingLog:
	case MessagingTwilio:
		if c.Messaging.AccountSID == "" || c.Messaging.AuthToken == "" || c.Messaging.FromNumber == "" {
			return fmt.Errorf("messaging.account_sid, messaging.auth_token and messaging.from_number are required for twilio")
		}
	default:
		return fmt.Errorf("unknown messaging.provider %q (supported: twilio, log)", c.Messaging.Provider)
	}
	switch c.Messaging.Channel {
	case ChannelWhatsApp, ChannelSMS:
	default:
		return fmt.Errorf("unknown messaging.channel %q (supported: whatsapp, sms)", c.Messaging.Channel)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)

	// Server
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	// Storage
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.max_open_conns", 0)
	v.SetDefault("storage.max_idle_conns", 0)
	v.SetDefault("storage.conn_max_lifetime", 0)
	v.SetDefault("storage.slow_query", d.Storage.SlowQuery)

	// Model
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.timeout", d.Model.Timeout)
	v.SetDefault("model.openai.api_key", "")
	v.SetDefault("model.openai.base_url", "")
	v.SetDefault("model.openai.model", d.Model.OpenAI.Model)
	v.SetDefault("model.openai.router_model", d.Model.OpenAI.RouterModel)
	v.SetDefault("model.openai.temperature", d.Model.OpenAI.Temperature)
	v.SetDefault("model.ark.api_key", "")
	v.SetDefault("model.ark.model_id", "")
	v.SetDefault("model.ark.base_url", d.Model.Ark.BaseURL)

	// Tools
	v.SetDefault("tools.availability_url", "")
	v.SetDefault("tools.booking_url", "")
	v.SetDefault("tools.timeout", d.Tools.Timeout)

	// Orchestration
	v.SetDefault("orchestration.max_reprompts", d.Orchestration.MaxReprompts)
	v.SetDefault("orchestration.max_handoffs", d.Orchestration.MaxHandoffs)
	v.SetDefault("orchestration.max_steps", d.Orchestration.MaxSteps)
	v.SetDefault("orchestration.turn_timeout", d.Orchestration.TurnTimeout)

	// Messaging
	v.SetDefault("messaging.provider", d.Messaging.Provider)
	v.SetDefault("messaging.channel", d.Messaging.Channel)
	v.SetDefault("messaging.account_sid", "")
	v.SetDefault("messaging.auth_token", "")
	v.SetDefault("messaging.from_number", "")
	v.SetDefault("messaging.base_url", d.Messaging.BaseURL)
	v.SetDefault("messaging.timeout", d.Messaging.Timeout)

	// Retention
	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.workers", d.Retention.Workers)
	v.SetDefault("retention.batch_rows", d.Retention.BatchRows)
	v.SetDefault("retention.idle_sleep", d.Retention.IdleSleep)
	v.SetDefault("retention.keep_turns", d.Retention.KeepTurns)
	v.SetDefault("retention.keep_audit", d.Retention.KeepAudit)
	v.SetDefault("retention.keep_idle_threads", d.Retention.KeepIdleThreads)

	// Secrets keep the variable names the deployment already uses.
	v.BindEnv("model.openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("model.ark.api_key", "ARK_API_KEY")
	v.BindEnv("model.ark.model_id", "ARK_MODEL_ID")
	v.BindEnv("model.ark.base_url", "ARK_BASE_URL")
	v.BindEnv("tools.availability_url", "CC_WEBHOOK_URL")
	v.BindEnv("tools.booking_url", "PCP_WEBHOOK_URL")
	v.BindEnv("messaging.account_sid", "TWILIO_ACCOUNT_SID")
	v.BindEnv("messaging.auth_token", "TWILIO_AUTH_TOKEN")
	v.BindEnv("messaging.from_number", "TWILIO_NUMBER")
}

func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "json",
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000"},
		},
		Storage: storage.Config{
			Path:        "sweepchat.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
			SlowQuery:   200 * time.Millisecond,
		},
		Model: ModelConfig{
			Provider: ProviderOpenAI,
			Timeout:  60 * time.Second,
			OpenAI: OpenAIConfig{
				Model:       "gpt-4o",
				RouterModel: "gpt-4o-mini",
				Temperature: 0.5,
			},
			Ark: ArkConfig{
				BaseURL: "https://ark.cn-beijing.volces.com/api/v3",
			},
		},
		Tools: tools.Config{
			Timeout: 15 * time.Second,
		},
		Orchestration: OrchestrationConfig{
			MaxReprompts: 3,
			MaxHandoffs:  3,
			MaxSteps:     40,
			TurnTimeout:  3 * time.Minute,
			Workers:      DefaultWorkers(),
		},
		Messaging: MessagingConfig{
			Provider: MessagingLog,
			Channel:  ChannelWhatsApp,
			Timeout:  10 * time.Second,
		},
		Retention: housekeeping.DefaultConfig(),
	}
}

// DefaultWorkers is the stock two-agent setup: a scheduler that books visits and a
// briefer that turns a new job request into a project brief.
func DefaultWorkers() []WorkerConfig {
	return []WorkerConfig{
		{
			Name:    "Scheduler",
			Persona: schedulerPersona,
			Route:   "availability questions and appointment booking",
			Tools: []string{
				string(tools.CheckAvailability),
				string(tools.BookAppointment),
				string(tools.CreateBrief),
			},
		},
		{
			Name:    "NewJob",
			Persona: briefingPersona,
			Route:   "requests for new work to be quoted and briefed",
			Tools: []string{
				string(tools.CheckAvailability),
				string(tools.CreateBrief),
			},
		},
	}
}

const schedulerPersona = `You are the scheduling assistant of a home-services company, talking to a customer over WhatsApp.
Today is {time}.
Check calendar availability before proposing times, and only book an appointment once you have the
customer's name, email, address and an available time. Keep replies short and friendly.`

const briefingPersona = `You are the intake assistant of a home-services company, talking to a customer over WhatsApp.
Today is {time}.
Collect what the customer needs done, where, and any constraints, then create a project brief with an
honest time and cost estimate. Ask one question at a time.`
