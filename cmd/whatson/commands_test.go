package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/whatson/internal/api"
	"github.com/kalambet/whatson/internal/config"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/ingest"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.mu.Lock()
		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})
		ts.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

func (ts *testServer) recorded() []recordedRequest {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]recordedRequest(nil), ts.requests...)
}

var ctx = context.Background()

func TestBuildIngestRequest(t *testing.T) {
	tests := []struct {
		file        string
		contentType string
		wantType    string
		wantErr     bool
	}{
		{"events.json", "", "application/json", false},
		{"calendar.HTML", "", "text/html", false},
		{"notes.txt", "", "text/plain", false},
		{"calendar.pdf", "", "application/pdf", false},
		{"listing.xml", "", "", true},
		{"listing.xml", "text/html", "text/html", false},
	}
	for _, tt := range tests {
		t.Run(tt.file+"/"+tt.contentType, func(t *testing.T) {
			req, err := buildIngestRequest("jazz", "https://jazz.example/events", tt.file, tt.contentType, []byte("%PDF-1.4"))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if req.ContentType != tt.wantType {
				t.Errorf("ContentType = %q, want %q", req.ContentType, tt.wantType)
			}
			if req.Source != "jazz" || req.SourceURL != "https://jazz.example/events" {
				t.Errorf("request = %+v", req)
			}
		})
	}
}

func TestBuildIngestRequest_PDFIsBase64(t *testing.T) {
	raw := []byte("%PDF-1.4 binary\x00\x01")
	req, err := buildIngestRequest("civic", "https://civic.example/cal.pdf", "cal.pdf", "", raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		t.Fatalf("content is not base64: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Errorf("decoded = %q, want %q", decoded, raw)
	}
}

func TestIngestRequest_RoundTrip(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /ingest": `{"source":"jazz","status":"ingested","tier":"api","event_ids":["e1","e2"],"created":2,"updated":0,"flagged":1,"rejected":0}`,
	})

	req, _ := buildIngestRequest("jazz", "https://jazz.example/events", "events.json", "", []byte(`{"events":[]}`))
	resp, err := ts.client().post(ctx, "/ingest", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result ingest.SourceResult
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Status != ingest.StatusIngested || result.Created != 2 || result.Flagged != 1 {
		t.Errorf("result = %+v", result)
	}

	reqs := ts.recorded()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	r := reqs[0]
	if r.Method != "POST" || r.Path != "/ingest" {
		t.Errorf("request = %s %s", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	var body api.IngestRequest
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body.ContentType != "application/json" || body.Content != `{"events":[]}` {
		t.Errorf("body = %+v", body)
	}
}

func TestIngestCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"ingest"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestSearch_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /search": `{"intent":{"category":"concerts"},"events":[]}`,
	})

	query := "jazz & blues under $20"
	resp, err := ts.client().get(ctx, fmt.Sprintf("/search?q=%s&limit=5", url.QueryEscape(query)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result api.SearchResponse
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result.Intent.Category != "concerts" {
		t.Errorf("intent = %+v", result.Intent)
	}

	path := ts.recorded()[0].Path
	if strings.Contains(path, "& blues") {
		t.Errorf("query not URL-encoded: %q", path)
	}
	if !strings.Contains(path, "q=jazz+%26+blues+under+%2420") {
		t.Errorf("unexpected encoded path: %q", path)
	}
}

func TestChatREPL(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat":       `{"session_id":"s-1","message":"Try Jazz Night.","events":[{"id":"e1","title":"Jazz Night","start_time":"2026-03-06T20:00:00Z","categories":["concerts"],"price_min":10,"price_max":10,"source_name":"jazz","source_url":"https://jazz.example/e/1"}],"tool_calls":[],"state":"awaiting_input"}`,
		"DELETE /chat/s-1": `{"status":"closed"}`,
	})

	old := noColor
	noColor = true
	defer func() { noColor = old }()

	in := strings.NewReader("jazz this weekend\n\nanything cheaper?\n/quit\nignored\n")
	var out bytes.Buffer
	if err := chatREPL(ctx, ts.client(), in, &out, "", "u-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := ts.recorded()
	if len(reqs) != 3 {
		t.Fatalf("expected 2 chat turns and a close, got %d requests", len(reqs))
	}

	var first, second map[string]string
	json.Unmarshal([]byte(reqs[0].Body), &first)
	json.Unmarshal([]byte(reqs[1].Body), &second)
	if first["session_id"] != "" || first["user_id"] != "u-1" || first["message"] != "jazz this weekend" {
		t.Errorf("first turn = %v", first)
	}
	if second["session_id"] != "s-1" {
		t.Errorf("second turn session = %q, want s-1", second["session_id"])
	}
	if reqs[2].Method != "DELETE" || reqs[2].Path != "/chat/s-1" {
		t.Errorf("close request = %s %s", reqs[2].Method, reqs[2].Path)
	}

	text := out.String()
	if !strings.Contains(text, "Try Jazz Night.") || !strings.Contains(text, "$10") {
		t.Errorf("output = %q", text)
	}
}

func TestChatREPL_ExistingSessionStaysOpen(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat": `{"session_id":"s-9","message":"ok","events":[],"tool_calls":[],"state":"awaiting_input"}`,
	})

	var out bytes.Buffer
	if err := chatREPL(ctx, ts.client(), strings.NewReader("hi\n"), &out, "s-9", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, r := range ts.recorded() {
		if r.Method == "DELETE" {
			t.Errorf("resumed session was closed: %s", r.Path)
		}
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = ""
	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()

	if auth := ts.recorded()[0].Auth; auth != "" {
		t.Errorf("auth = %q, want none", auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/events")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "invalid bearer token") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestFormatPrice(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		lo, hi *float64
		want   string
	}{
		{nil, nil, "price n/a"},
		{f(0), f(0), "free"},
		{f(0), nil, "free"},
		{f(10), f(10), "$10"},
		{f(45), f(120), "$45-$120"},
		{nil, f(30), "up to $30"},
	}
	for _, tt := range tests {
		if got := formatPrice(tt.lo, tt.hi); got != tt.want {
			t.Errorf("formatPrice = %q, want %q", got, tt.want)
		}
	}
}

func TestWriteEvents(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	var buf bytes.Buffer
	writeEvents(&buf, nil)
	if !strings.Contains(buf.String(), "No events found") {
		t.Errorf("empty output = %q", buf.String())
	}

	buf.Reset()
	price := 10.0
	writeEvents(&buf, []event.Event{{
		ID:          "0123456789abcdef",
		Title:       "Jazz Night",
		Venue:       "Blue Door",
		Location:    "Tulsa",
		StartTime:   time.Date(2026, 3, 6, 20, 0, 0, 0, time.UTC),
		Categories:  []string{"concerts"},
		PriceMin:    &price,
		PriceMax:    &price,
		SourceURL:   "https://jazz.example/e/1",
		NeedsReview: true,
	}})
	out := buf.String()
	for _, want := range []string{"Jazz Night", "[review]", "01234567", "Blue Door, Tulsa", "$10", "concerts", "https://jazz.example/e/1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteRuns(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	runs := []api.RunSummary{{
		ID:       "run-12345678",
		Ingested: 1,
		Failed:   1,
		Report: &ingest.RunReport{
			StartedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			Sources: []ingest.SourceResult{
				{Source: "jazz", Status: ingest.StatusIngested, Tier: "api", Created: 3},
				{Source: "arena", Status: ingest.StatusFailed, Reason: "all tiers failed"},
			},
		},
	}}

	var buf bytes.Buffer
	writeRuns(&buf, runs, true)
	out := buf.String()
	for _, want := range []string{"run-1234", "ingested=1", "failed=1", "jazz", "+3", "all tiers failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	writeRuns(&buf, runs, false)
	if strings.Contains(buf.String(), "all tiers failed") {
		t.Errorf("non-verbose output includes per-source lines:\n%s", buf.String())
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		bind string
		want string
	}{
		{"127.0.0.1", "http://127.0.0.1:4100"},
		{"0.0.0.0", "http://127.0.0.1:4100"},
		{"", "http://127.0.0.1:4100"},
		{"192.168.1.5", "http://192.168.1.5:4100"},
	}
	for _, tt := range tests {
		cfg := config.Config{}
		cfg.Server.Bind = tt.bind
		cfg.Server.Port = 4100
		if got := serverURL(cfg); got != tt.want {
			t.Errorf("serverURL(%q) = %q, want %q", tt.bind, got, tt.want)
		}
	}
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		debugOn bool
		warnOn  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"WARN", false, true},
		{"error", false, false},
	}
	for _, tt := range tests {
		l := newLogger(config.LogConfig{Level: tt.level, Format: "json"})
		if got := l.Enabled(ctx, slog.LevelDebug); got != tt.debugOn {
			t.Errorf("%s: debug enabled = %v, want %v", tt.level, got, tt.debugOn)
		}
		if got := l.Enabled(ctx, slog.LevelWarn); got != tt.warnOn {
			t.Errorf("%s: warn enabled = %v, want %v", tt.level, got, tt.warnOn)
		}
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Ollama.FastModel = "llama3.2:3b"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}
