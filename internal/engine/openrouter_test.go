package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenRouterEngine_ChatSchema(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, `{"id":"gen-1","choices":[{"message":{"role":"assistant","content":"{\"events\":[]}"}}]}`)
	}))
	defer srv.Close()

	e := NewOpenRouterEngine("key", srv.URL)
	out, err := e.Chat(context.Background(), "openai/gpt-4o-mini", []Message{{Role: RoleUser, Content: "x"}},
		&Schema{Type: "object", Properties: map[string]SchemaProperty{"events": {Type: "array"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out != `{"events":[]}` {
		t.Errorf("out = %q", out)
	}
	rf, _ := captured["response_format"].(map[string]any)
	if rf["type"] != "json_schema" {
		t.Errorf("response_format = %v", captured["response_format"])
	}
}

func TestOpenRouterEngine_ChatTools(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&captured)
		fmt.Fprint(w, `{"id":"gen-2","choices":[{"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_9","type":"function","function":{"name":"search_events","arguments":"{\"price_max\":20}"}}]}}]}`)
	}))
	defer srv.Close()

	e := NewOpenRouterEngine("key", srv.URL)
	resp, err := e.ChatTools(context.Background(), "openai/gpt-4o-mini",
		[]Message{
			{Role: RoleUser, Content: "cheap stuff"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "search_events", Arguments: json.RawMessage(`{}`)}}},
			{Role: RoleTool, ToolCallID: "call_1", Content: "[]"},
		},
		[]Tool{{Name: "search_events", Parameters: Schema{Type: "object"}}})
	if err != nil {
		t.Fatalf("ChatTools: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_9" {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	if string(resp.ToolCalls[0].Arguments) != `{"price_max":20}` {
		t.Errorf("arguments = %s", resp.ToolCalls[0].Arguments)
	}

	msgs, _ := captured["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3", len(msgs))
	}
	assistant, _ := msgs[1].(map[string]any)
	if assistant["content"] != nil {
		t.Errorf("tool-call message content = %v, want null", assistant["content"])
	}
	tool, _ := msgs[2].(map[string]any)
	if tool["tool_call_id"] != "call_1" {
		t.Errorf("tool message = %v", tool)
	}
	if captured["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v, want auto", captured["tool_choice"])
	}
}
