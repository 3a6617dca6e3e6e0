package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeOllama serves the handful of endpoints the client uses and records
// decoded request bodies by path.
type fakeOllama struct {
	models []string
	reply  string // raw /api/chat response
	pull   []PullProgress

	mu       sync.Mutex
	requests map[string]map[string]any
}

func (f *fakeOllama) start(t *testing.T) *Client {
	t.Helper()
	f.requests = map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Method == http.MethodPost {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.requests[r.URL.Path] = body
			f.mu.Unlock()
		}
		switch r.URL.Path {
		case "/api/version":
			w.Write([]byte(`{"version":"0.6.2"}`))
		case "/api/tags":
			var tags struct {
				Models []map[string]string `json:"models"`
			}
			for _, m := range f.models {
				tags.Models = append(tags.Models, map[string]string{"name": m})
			}
			json.NewEncoder(w).Encode(tags)
		case "/api/chat":
			w.Write([]byte(f.reply))
		case "/api/pull":
			enc := json.NewEncoder(w)
			for _, p := range f.pull {
				enc.Encode(p)
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL + "/")
}

func (f *fakeOllama) request(path string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func TestIsRunning(t *testing.T) {
	c := (&fakeOllama{}).start(t)
	if !c.IsRunning(context.Background()) {
		t.Error("IsRunning() = false, want true")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	if New(srv.URL).IsRunning(context.Background()) {
		t.Error("IsRunning() on a closed server = true, want false")
	}
}

func TestListModels(t *testing.T) {
	c := (&fakeOllama{models: []string{"qwen2.5:7b", "llama3.1:8b"}}).start(t)

	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if strings.Join(models, ",") != "qwen2.5:7b,llama3.1:8b" {
		t.Errorf("models = %v", models)
	}
}

func TestHasModel(t *testing.T) {
	c := (&fakeOllama{models: []string{"qwen2.5:7b", "mistral-nemo:latest", "phi3"}}).start(t)

	tests := []struct {
		name string
		want bool
	}{
		{"qwen2.5", true},
		{"qwen2.5:7b", true},
		{"qwen2.5:14b", false},
		{"mistral-nemo", true},
		{"phi3:latest", true},
		{"qwen", false},
		{"llama3", false},
	}
	for _, tt := range tests {
		if got := c.HasModel(context.Background(), tt.name); got != tt.want {
			t.Errorf("HasModel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestChat_Plain(t *testing.T) {
	f := &fakeOllama{reply: `{"message":{"role":"assistant","content":"Three shows tonight."}}`}
	c := f.start(t)

	got, err := c.Chat(context.Background(), "qwen2.5:7b", []Message{{Role: "user", Content: "what's on?"}}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "Three shows tonight." {
		t.Errorf("reply = %q", got)
	}

	req := f.request("/api/chat")
	if req["stream"] != false {
		t.Errorf("stream = %v, want false", req["stream"])
	}
	if _, ok := req["format"]; ok {
		t.Error("plain chat should not send a format")
	}
	if _, ok := req["options"]; ok {
		t.Error("plain chat should not override sampling options")
	}
}

func TestChat_SchemaIsDeterministic(t *testing.T) {
	f := &fakeOllama{reply: `{"message":{"role":"assistant","content":"{\"events\":[]}"}}`}
	c := f.start(t)

	schema := &Schema{
		Type:       "object",
		Properties: map[string]SchemaProperty{"events": {Type: "array", Items: &SchemaProperty{Type: "object"}}},
		Required:   []string{"events"},
	}
	got, err := c.Chat(context.Background(), "qwen2.5:7b", []Message{{Role: "user", Content: "extract"}}, schema)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != `{"events":[]}` {
		t.Errorf("reply = %q", got)
	}

	req := f.request("/api/chat")
	format, _ := req["format"].(map[string]any)
	if format["type"] != "object" {
		t.Errorf("format = %v", req["format"])
	}
	opts, _ := req["options"].(map[string]any)
	if opts["temperature"] != float64(0) {
		t.Errorf("options = %v, want temperature 0", req["options"])
	}
}

func TestChatTools_ArgumentsObject(t *testing.T) {
	f := &fakeOllama{reply: `{"message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"search_events","arguments":{"category":"concerts","price_max":20}}}]}}`}
	c := f.start(t)

	tools := []Tool{{
		Type: "function",
		Function: ToolFunction{
			Name:       "search_events",
			Parameters: Schema{Type: "object", Properties: map[string]SchemaProperty{"category": {Type: "string"}}},
		},
	}}
	msg, err := c.ChatTools(context.Background(), "qwen2.5:7b", []Message{
		{Role: "user", Content: "jazz under $20?"},
		{Role: "tool", Content: "[]", ToolName: "search_events"},
	}, tools)
	if err != nil {
		t.Fatalf("ChatTools: %v", err)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Function.Name != "search_events" {
		t.Fatalf("tool calls = %+v", msg.ToolCalls)
	}
	var args struct {
		Category string  `json:"category"`
		PriceMax float64 `json:"price_max"`
	}
	if err := json.Unmarshal(msg.ToolCalls[0].Function.Arguments, &args); err != nil {
		t.Fatalf("arguments: %v", err)
	}
	if args.Category != "concerts" || args.PriceMax != 20 {
		t.Errorf("arguments = %+v", args)
	}

	req := f.request("/api/chat")
	if ts, _ := req["tools"].([]any); len(ts) != 1 {
		t.Errorf("sent tools = %v", req["tools"])
	}
	msgs, _ := req["messages"].([]any)
	if last, _ := msgs[len(msgs)-1].(map[string]any); last["tool_name"] != "search_events" {
		t.Errorf("tool result message = %v", last)
	}
}

func TestStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"model \"qwen9\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Chat(context.Background(), "qwen9", []Message{{Role: "user", Content: "x"}}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Status != http.StatusNotFound || se.Op != "chat" || !strings.Contains(se.Message, "not found") {
		t.Errorf("StatusError = %+v", se)
	}
	if !strings.Contains(err.Error(), "try pulling it first") {
		t.Errorf("Error() = %q, want the server's reason", err.Error())
	}
}

func TestPullModel(t *testing.T) {
	f := &fakeOllama{pull: []PullProgress{
		{Status: "pulling manifest"},
		{Status: "downloading", Total: 1000, Completed: 500},
		{Status: "downloading", Total: 1000, Completed: 1000},
		{Status: "success"},
	}}
	c := f.start(t)

	var seen []PullProgress
	if err := c.PullModel(context.Background(), "qwen2.5:7b", func(p PullProgress) { seen = append(seen, p) }); err != nil {
		t.Fatalf("PullModel: %v", err)
	}
	if len(seen) != 4 || seen[2].Completed != 1000 {
		t.Errorf("progress = %+v", seen)
	}
	if req := f.request("/api/pull"); req["model"] != "qwen2.5:7b" || req["stream"] != true {
		t.Errorf("pull request = %v", req)
	}
}

func TestPullModel_Failures(t *testing.T) {
	tests := []struct {
		name  string
		lines []PullProgress
		want  string
	}{
		{"error line", []PullProgress{{Status: "pulling manifest"}, {Error: "pull model manifest: file does not exist"}}, "file does not exist"},
		{"truncated", []PullProgress{{Status: "downloading", Total: 10, Completed: 3}}, `"downloading"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := (&fakeOllama{pull: tt.lines}).start(t)
			err := c.PullModel(context.Background(), "nope:1b", nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %s", err, tt.want)
			}
		})
	}
}
