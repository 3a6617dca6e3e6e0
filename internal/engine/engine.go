package engine

import "context"

// Engine abstracts a language-model backend (local Ollama or hosted
// OpenRouter). The normalizer, intent extraction and the chat orchestrator
// use this interface instead of depending on a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// ChatTools sends messages with the given tools available and returns
	// either final text or the tool calls the model requested.
	ChatTools(ctx context.Context, model string, messages []Message, tools []Tool) (ChatResponse, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by backends that host models locally.
type ModelManager interface {
	IsRunning(ctx context.Context) bool

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
