package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	API        APIConfig
	Storage    StorageConfig
	Log        LogConfig
	LLM        LLMConfig
	Ollama     OllamaConfig
	OpenRouter OpenRouterConfig
	Ingest     IngestConfig
	Policy     PolicyConfig
	Normalize  NormalizeConfig
	Search     SearchConfig
	Chat       ChatConfig
}

type ServerConfig struct {
	Port int
	Bind string
}

type APIConfig struct {
	Token string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string
}

type LLMConfig struct {
	Provider string
}

type OllamaConfig struct {
	BaseURL   string
	FastModel string
	ChatModel string
}

type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type IngestConfig struct {
	SourcesFile      string
	Concurrency      int
	SourceTimeout    time.Duration
	ScheduleInterval time.Duration
	UserAgent        string
}

type PolicyConfig struct {
	RobotsTTL   time.Duration
	DefaultRate float64
}

type NormalizeConfig struct {
	MaxContentChars int
}

type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
}

type ChatConfig struct {
	MaxToolDepth int
	ToolTimeout  time.Duration
	IdleTimeout  time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
			Bind: "127.0.0.1",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		LLM: LLMConfig{
			Provider: "ollama",
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			FastModel: "qwen2.5:7b",
			ChatModel: "qwen2.5:7b",
		},
		OpenRouter: OpenRouterConfig{
			Model: "openai/gpt-4o-mini",
		},
		Ingest: IngestConfig{
			SourcesFile:      filepath.Join(configDir(), "sources.yaml"),
			Concurrency:      8,
			SourceTimeout:    2 * time.Minute,
			ScheduleInterval: time.Minute,
			UserAgent:        "whatson-bot/1.0 (+https://github.com/kalambet/whatson)",
		},
		Policy: PolicyConfig{
			RobotsTTL:   24 * time.Hour,
			DefaultRate: 1.0,
		},
		Normalize: NormalizeConfig{
			MaxContentChars: 12000,
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			MaxLimit:     1000,
		},
		Chat: ChatConfig{
			MaxToolDepth: 3,
			ToolTimeout:  5 * time.Second,
			IdleTimeout:  30 * time.Minute,
		},
	}
}

// Load reads configuration from the YAML file at FilePath, then applies
// WHATSON_* environment overrides. Secrets (api.token,
// openrouter.api_key) are read from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every setting that would stop the server from starting.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "ollama":
	case "openrouter":
		if c.OpenRouter.APIKey == "" {
			errs = append(errs, fmt.Errorf("missing required config: llm.provider is openrouter but no API key is set; use environment variable WHATSON_OPENROUTER_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be ollama or openrouter, got %q", c.LLM.Provider))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Ingest.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("ingest.concurrency must be positive"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		errs = append(errs, fmt.Errorf("search limits must satisfy 0 < default_limit <= max_limit"))
	}
	if c.Chat.MaxToolDepth <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_tool_depth must be positive"))
	}
	durations := []struct {
		key string
		d   time.Duration
	}{
		{"ingest.source_timeout", c.Ingest.SourceTimeout},
		{"ingest.schedule_interval", c.Ingest.ScheduleInterval},
		{"policy.robots_ttl", c.Policy.RobotsTTL},
		{"chat.tool_timeout", c.Chat.ToolTimeout},
		{"chat.idle_timeout", c.Chat.IdleTimeout},
	}
	for _, dur := range durations {
		if dur.d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", dur.key))
		}
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
