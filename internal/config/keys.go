package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// setting binds a dotted config key to a Config field. The field's pointer
// type decides how raw strings are parsed.
type setting struct {
	key    string
	secret bool
	field  func(*Config) any
}

// env is the override variable: WHATSON_ plus the key upper-cased with
// dots turned into underscores.
func (s setting) env() string {
	return "WHATSON_" + strings.ToUpper(strings.ReplaceAll(s.key, ".", "_"))
}

var settings = []setting{
	{key: "server.port", field: func(c *Config) any { return &c.Server.Port }},
	{key: "server.bind", field: func(c *Config) any { return &c.Server.Bind }},
	{key: "api.token", secret: true, field: func(c *Config) any { return &c.API.Token }},
	{key: "storage.data_dir", field: func(c *Config) any { return &c.Storage.DataDir }},
	{key: "log.level", field: func(c *Config) any { return &c.Log.Level }},
	{key: "log.format", field: func(c *Config) any { return &c.Log.Format }},
	{key: "llm.provider", field: func(c *Config) any { return &c.LLM.Provider }},
	{key: "ollama.base_url", field: func(c *Config) any { return &c.Ollama.BaseURL }},
	{key: "ollama.fast_model", field: func(c *Config) any { return &c.Ollama.FastModel }},
	{key: "ollama.chat_model", field: func(c *Config) any { return &c.Ollama.ChatModel }},
	{key: "openrouter.api_key", secret: true, field: func(c *Config) any { return &c.OpenRouter.APIKey }},
	{key: "openrouter.base_url", field: func(c *Config) any { return &c.OpenRouter.BaseURL }},
	{key: "openrouter.model", field: func(c *Config) any { return &c.OpenRouter.Model }},
	{key: "ingest.sources_file", field: func(c *Config) any { return &c.Ingest.SourcesFile }},
	{key: "ingest.concurrency", field: func(c *Config) any { return &c.Ingest.Concurrency }},
	{key: "ingest.source_timeout", field: func(c *Config) any { return &c.Ingest.SourceTimeout }},
	{key: "ingest.schedule_interval", field: func(c *Config) any { return &c.Ingest.ScheduleInterval }},
	{key: "ingest.user_agent", field: func(c *Config) any { return &c.Ingest.UserAgent }},
	{key: "policy.robots_ttl", field: func(c *Config) any { return &c.Policy.RobotsTTL }},
	{key: "policy.default_rate", field: func(c *Config) any { return &c.Policy.DefaultRate }},
	{key: "normalize.max_content_chars", field: func(c *Config) any { return &c.Normalize.MaxContentChars }},
	{key: "search.default_limit", field: func(c *Config) any { return &c.Search.DefaultLimit }},
	{key: "search.max_limit", field: func(c *Config) any { return &c.Search.MaxLimit }},
	{key: "chat.max_tool_depth", field: func(c *Config) any { return &c.Chat.MaxToolDepth }},
	{key: "chat.tool_timeout", field: func(c *Config) any { return &c.Chat.ToolTimeout }},
	{key: "chat.idle_timeout", field: func(c *Config) any { return &c.Chat.IdleTimeout }},
}

func lookupSetting(key string) (setting, bool) {
	for _, s := range settings {
		if s.key == key {
			return s, true
		}
	}
	return setting{}, false
}

// assign parses raw into the field s points at.
func (s setting) assign(cfg *Config, raw string) error {
	switch p := s.field(cfg).(type) {
	case *string:
		*p = raw
	case *int:
		i, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid integer for %s: %w", s.key, err)
		}
		*p = i
	case *float64:
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return fmt.Errorf("invalid number for %s: %w", s.key, err)
		}
		*p = f
	case *time.Duration:
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", s.key, err)
		}
		*p = d
	default:
		return fmt.Errorf("config key %s has unsupported type %T", s.key, p)
	}
	return nil
}

func (s setting) value(cfg Config) string {
	switch p := s.field(&cfg).(type) {
	case *string:
		return *p
	case *int:
		return strconv.Itoa(*p)
	case *float64:
		return strconv.FormatFloat(*p, 'g', -1, 64)
	case *time.Duration:
		return p.String()
	}
	return ""
}

// applyBackend copies stored values into cfg. A stored value that does not
// parse is an error: the file was written by `whatson config set` or by
// hand, and either way it should be fixed rather than silently ignored.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range settings {
		if s.secret {
			continue
		}
		raw, ok, err := b.Get(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		if err := s.assign(cfg, raw); err != nil {
			return err
		}
	}
	return nil
}

// applyEnvOverrides lets WHATSON_* variables win over the file. Unparseable
// values are logged and skipped.
func applyEnvOverrides(cfg *Config) {
	for _, s := range settings {
		raw := os.Getenv(s.env())
		if raw == "" {
			continue
		}
		if err := s.assign(cfg, raw); err != nil {
			slog.Warn("ignoring environment override", "env", s.env(), "value", raw, "error", err)
		}
	}
}
