// Package ollama is a small client for the local Ollama HTTP API: model
// discovery and pulls at startup, then non-streaming chat for extraction,
// normalization and the conversational agent.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message represents a chat message in the Ollama API format. Tool results
// are sent back with Role "tool" and ToolName set.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

// Schema is a JSON schema passed as the chat "format" to constrain output.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

type SchemaProperty struct {
	Type        string                    `json:"type"`
	Description string                    `json:"description,omitempty"`
	Enum        []string                  `json:"enum,omitempty"`
	Items       *SchemaProperty           `json:"items,omitempty"`
	Properties  map[string]SchemaProperty `json:"properties,omitempty"`
	Required    []string                  `json:"required,omitempty"`
}

// Tool is a function definition offered to the model.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`
}

// ToolCall is a tool invocation returned by the model. Ollama encodes the
// arguments as a JSON object rather than a string.
type ToolCall struct {
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusError is a non-200 reply. Ollama puts a reason in {"error": "..."}.
type StatusError struct {
	Op      string
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("ollama %s: %s (HTTP %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("ollama %s: unexpected status %d", e.Op, e.Status)
}

const (
	probeTimeout = 2 * time.Second
	listTimeout  = 10 * time.Second
)

// Client talks to one Ollama server. It sets no overall HTTP timeout:
// pulls can take minutes, so every call is bounded by its context instead.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

// do sends in as JSON (when non-nil) and returns the response for the
// caller to decode and close. Non-200 replies become *StatusError.
func (c *Client) do(ctx context.Context, op, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("ollama %s: encoding request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama %s: %w", op, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&e)
		return nil, &StatusError{Op: op, Status: resp.StatusCode, Message: e.Error}
	}
	return resp, nil
}

// IsRunning reports whether the server answers GET /api/version.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	resp, err := c.do(ctx, "version", http.MethodGet, "/api/version", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// ListModels returns the names of locally available models, e.g.
// "qwen2.5:7b".
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	resp, err := c.do(ctx, "tags", http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("ollama tags: decoding: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HasModel reports whether name is available locally. A name without a
// tag matches any tag of that model.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if modelMatches(m, name) {
			return true
		}
	}
	return false
}

func modelMatches(have, want string) bool {
	if have == want {
		return true
	}
	if !strings.Contains(want, ":") {
		return strings.HasPrefix(have, want+":")
	}
	// "llama3:latest" is listed as either form.
	return strings.TrimSuffix(want, ":latest") == have
}

// PullModel downloads name, passing each progress line to onProgress (may
// be nil). Ollama reports failures mid-stream as an "error" line.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := c.do(ctx, "pull", http.MethodPost, "/api/pull", map[string]any{
		"model":  name,
		"stream": true,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	var last string
	for {
		var p PullProgress
		err := dec.Decode(&p)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("ollama pull %s: reading progress: %w", name, err)
		}
		if p.Error != "" {
			return fmt.Errorf("ollama pull %s: %s", name, p.Error)
		}
		last = p.Status
		if onProgress != nil {
			onProgress(p)
		}
	}
	if last != "success" {
		return fmt.Errorf("ollama pull %s: stream ended with status %q", name, last)
	}
	return nil
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   *Schema        `json:"format,omitempty"`
	Tools    []Tool         `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// Chat returns the assistant's reply. With a schema the reply is
// constrained to it and sampled at temperature 0, since schema calls are
// extraction rather than conversation.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	req := chatRequest{Model: model, Messages: messages, Format: schema}
	if schema != nil {
		req.Options = map[string]any{"temperature": 0}
	}
	msg, err := c.chat(ctx, req)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// ChatTools offers tools to the model and returns the assistant message,
// which carries either content or tool calls.
func (c *Client) ChatTools(ctx context.Context, model string, messages []Message, tools []Tool) (Message, error) {
	return c.chat(ctx, chatRequest{Model: model, Messages: messages, Tools: tools})
}

func (c *Client) chat(ctx context.Context, req chatRequest) (Message, error) {
	resp, err := c.do(ctx, "chat", http.MethodPost, "/api/chat", req)
	if err != nil {
		return Message{}, err
	}
	defer resp.Body.Close()

	var out struct {
		Message Message `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Message{}, fmt.Errorf("ollama chat: decoding: %w", err)
	}
	return out.Message, nil
}
