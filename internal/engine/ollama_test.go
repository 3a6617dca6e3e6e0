package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ollamaStub answers /api/chat with reply and captures the request body.
func ollamaStub(t *testing.T, reply string, captured *map[string]any) *OllamaEngine {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			if captured != nil {
				json.NewDecoder(r.Body).Decode(captured)
			}
			w.Write([]byte(reply))
		case "/api/version":
			w.Write([]byte(`{"version":"0.6.2"}`))
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5:7b"}]}`))
		case "/api/pull":
			w.Write([]byte(`{"status":"downloading","total":200,"completed":50}` + "\n" + `{"status":"success"}` + "\n"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return NewOllamaEngine(srv.URL)
}

func TestOllamaEngine_ChatConvertsSchema(t *testing.T) {
	var req map[string]any
	e := ollamaStub(t, `{"message":{"role":"assistant","content":"{\"events\":[]}"}}`, &req)

	schema := &Schema{
		Type: "object",
		Properties: map[string]SchemaProperty{
			"events": {Type: "array", Items: &SchemaProperty{
				Type:       "object",
				Properties: map[string]SchemaProperty{"category": {Type: "string", Enum: []string{"concerts", "comedy"}}},
				Required:   []string{"category"},
			}},
		},
		Required: []string{"events"},
	}
	got, err := e.Chat(context.Background(), "qwen2.5:7b", []Message{{Role: RoleUser, Content: "page text"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"events":[]}` {
		t.Errorf("content = %q", got)
	}

	items := dig(req, "format", "properties", "events", "items")
	if enum, _ := dig(items, "properties", "category")["enum"].([]any); len(enum) != 2 {
		t.Errorf("nested enum lost in conversion: %v", req["format"])
	}
	if required, _ := items["required"].([]any); len(required) != 1 {
		t.Errorf("nested required lost in conversion: %v", items)
	}
}

// dig follows keys through nested JSON objects, returning nil on a miss.
func dig(m map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		next, ok := m[k].(map[string]any)
		if !ok {
			return nil
		}
		m = next
	}
	return m
}

func TestOllamaEngine_ChatTools(t *testing.T) {
	var req map[string]any
	e := ollamaStub(t, `{"message":{"role":"assistant","content":"","tool_calls":[`+
		`{"function":{"name":"search_events","arguments":{"category":"concerts"}}},`+
		`{"function":{"name":"search_events","arguments":{"query":"jazz"}}}]}}`, &req)

	resp, err := e.ChatTools(context.Background(), "qwen2.5:7b", []Message{
		{Role: RoleUser, Content: "jazz?"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_0", Name: "search_events", Arguments: json.RawMessage(`{}`)}}},
		{Role: RoleTool, Content: "[]", ToolName: "search_events"},
	}, []Tool{{Name: "search_events", Description: "Search upcoming events", Parameters: Schema{Type: "object"}}})
	if err != nil {
		t.Fatalf("ChatTools: %v", err)
	}

	// Ollama assigns no call IDs, so the adapter numbers them.
	if len(resp.ToolCalls) != 2 || resp.ToolCalls[0].ID != "call_0" || resp.ToolCalls[1].ID != "call_1" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if string(resp.ToolCalls[0].Arguments) != `{"category":"concerts"}` {
		t.Errorf("arguments = %s", resp.ToolCalls[0].Arguments)
	}

	msgs, _ := req["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	asst, _ := msgs[1].(map[string]any)
	if calls, _ := asst["tool_calls"].([]any); len(calls) != 1 {
		t.Errorf("assistant tool calls not forwarded: %v", asst)
	}
	toolMsg, _ := msgs[2].(map[string]any)
	if toolMsg["role"] != "tool" || toolMsg["tool_name"] != "search_events" {
		t.Errorf("tool message = %v", toolMsg)
	}
	tools, _ := req["tools"].([]any)
	if len(tools) != 1 || tools[0].(map[string]any)["type"] != "function" {
		t.Errorf("tools = %v", req["tools"])
	}
}

func TestOllamaEngine_ModelManager(t *testing.T) {
	e := ollamaStub(t, "", nil)
	ctx := context.Background()

	var _ ModelManager = e
	if !e.IsRunning(ctx) {
		t.Error("IsRunning() = false")
	}
	if !e.HasModel(ctx, "qwen2.5") || e.HasModel(ctx, "llama3") {
		t.Error("HasModel does not reflect /api/tags")
	}

	var seen []PullProgress
	if err := e.PullModel(ctx, "llama3", func(p PullProgress) { seen = append(seen, p) }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(seen) != 2 || seen[0].Total != 200 || seen[0].Completed != 50 || seen[1].Status != "success" {
		t.Errorf("progress = %+v", seen)
	}
	if err := e.PullModel(ctx, "llama3", nil); err != nil {
		t.Errorf("PullModel without callback: %v", err)
	}
}
