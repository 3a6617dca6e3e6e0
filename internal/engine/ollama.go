package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/whatson/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	var s *ollama.Schema
	if jsonSchema != nil {
		converted := toOllamaSchema(*jsonSchema)
		s = &converted
	}
	return e.client.Chat(ctx, model, toOllamaMessages(messages), s)
}

func (e *OllamaEngine) ChatTools(ctx context.Context, model string, messages []Message, tools []Tool) (ChatResponse, error) {
	ts := make([]ollama.Tool, len(tools))
	for i, t := range tools {
		ts[i] = ollama.Tool{
			Type: "function",
			Function: ollama.ToolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toOllamaSchema(t.Parameters),
			},
		}
	}

	msg, err := e.client.ChatTools(ctx, model, toOllamaMessages(messages), ts)
	if err != nil {
		return ChatResponse{}, err
	}

	resp := ChatResponse{Content: msg.Content}
	for i, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			// Ollama does not assign call IDs.
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func toOllamaMessages(messages []Message) []ollama.Message {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content, ToolName: m.ToolName}
		for _, tc := range m.ToolCalls {
			msgs[i].ToolCalls = append(msgs[i].ToolCalls, ollama.ToolCall{
				Function: ollama.ToolCallFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
	}
	return msgs
}

func toOllamaSchema(s Schema) ollama.Schema {
	out := ollama.Schema{Type: s.Type, Required: s.Required}
	if s.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toOllamaProperty(v)
		}
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	out := ollama.SchemaProperty{
		Type:        p.Type,
		Description: p.Description,
		Enum:        p.Enum,
		Required:    p.Required,
	}
	if p.Items != nil {
		items := toOllamaProperty(*p.Items)
		out.Items = &items
	}
	if p.Properties != nil {
		out.Properties = make(map[string]ollama.SchemaProperty, len(p.Properties))
		for k, v := range p.Properties {
			out.Properties[k] = toOllamaProperty(v)
		}
	}
	return out
}
