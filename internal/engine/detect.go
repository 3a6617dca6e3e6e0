package engine

import "fmt"

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider          string // "ollama" (default) or "openrouter"
	OllamaBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
}

// Detect returns the Engine for the configured provider.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", "ollama":
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case "openrouter":
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("llm.provider is openrouter but no API key is set (WHATSON_OPENROUTER_API_KEY)")
		}
		return NewOpenRouterEngine(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm.provider %q (want ollama or openrouter)", cfg.Provider)
	}
}
