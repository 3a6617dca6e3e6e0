package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/whatson/internal/proxy"
)

// OpenRouterEngine adapts the hosted OpenRouter client to the Engine
// interface. It has no local models to manage.
type OpenRouterEngine struct {
	client *proxy.Client
}

// NewOpenRouterEngine creates an engine for the hosted provider. baseURL may
// be empty for the public endpoint.
func NewOpenRouterEngine(apiKey, baseURL string) *OpenRouterEngine {
	if baseURL == "" {
		return &OpenRouterEngine{client: proxy.NewClient(apiKey)}
	}
	return &OpenRouterEngine{client: proxy.NewClientWithBaseURL(apiKey, baseURL)}
}

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := proxy.ChatRequest{Model: model, Messages: toProxyMessages(messages)}
	if jsonSchema != nil {
		raw, err := json.Marshal(jsonSchema)
		if err != nil {
			return "", fmt.Errorf("encoding schema: %w", err)
		}
		req.ResponseFormat = &proxy.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &proxy.JSONSchema{Name: "response", Schema: raw},
		}
	}

	out, err := e.client.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return out.Choices[0].Message.Text(), nil
}

func (e *OpenRouterEngine) ChatTools(ctx context.Context, model string, messages []Message, tools []Tool) (ChatResponse, error) {
	req := proxy.ChatRequest{Model: model, Messages: toProxyMessages(messages)}
	for _, t := range tools {
		params, err := json.Marshal(t.Parameters)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("encoding parameters for %s: %w", t.Name, err)
		}
		req.Tools = append(req.Tools, proxy.Tool{
			Type:     "function",
			Function: proxy.ToolFunction{Name: t.Name, Description: t.Description, Parameters: params},
		})
	}
	if len(req.Tools) > 0 {
		req.ToolChoice = "auto"
	}

	out, err := e.client.Complete(ctx, req)
	if err != nil {
		return ChatResponse{}, err
	}

	msg := out.Choices[0].Message
	resp := ChatResponse{Content: msg.Text()}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}
	return resp, nil
}

// IsRunning reports whether the provider answers the model listing.
func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func toProxyMessages(messages []Message) []proxy.Message {
	out := make([]proxy.Message, len(messages))
	for i, m := range messages {
		content := m.Content
		out[i] = proxy.Message{Role: m.Role, Content: &content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			out[i].ToolCalls = append(out[i].ToolCalls, proxy.ToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: proxy.ToolCallFunction{Name: tc.Name, Arguments: string(tc.Arguments)},
			})
		}
		if len(m.ToolCalls) > 0 && m.Content == "" {
			out[i].Content = nil
		}
	}
	return out
}
