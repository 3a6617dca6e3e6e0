package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/whatson/internal/chat"
	"github.com/kalambet/whatson/internal/composer"
	"github.com/kalambet/whatson/internal/engine"
	"github.com/kalambet/whatson/internal/event"
	"github.com/kalambet/whatson/internal/ingest"
	"github.com/kalambet/whatson/internal/intent"
	"github.com/kalambet/whatson/internal/normalize"
	"github.com/kalambet/whatson/internal/profile"
	"github.com/kalambet/whatson/internal/search"
	"github.com/kalambet/whatson/internal/source"
	"github.com/kalambet/whatson/internal/storage"
)

const testToken = "test-token-12345"

// Monday 2026-03-02 09:00 UTC.
var refTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const listingJSON = `{"events":[
	{"title":"Jazz Night","venue":"Cain's Ballroom","start_time":"2026-03-06T20:00:00Z",
	 "categories":["concerts"],"tags":["jazz"],"price_min":10,"price_max":10,
	 "url":"https://venue.example/e/jazz-night","confidence":0.95},
	{"title":"Arena Rock Revival","venue":"BOK Center","start_time":"2026-03-06T19:30:00Z",
	 "categories":["concerts"],"tags":["rock"],"price_min":45,"price_max":120,
	 "url":"https://venue.example/e/arena-rock","confidence":0.95},
	{"title":"Kids Craft Morning","venue":"Central Library","start_time":"2026-03-07T10:00:00Z",
	 "categories":["family"],"price_min":0,"price_max":0,"family_friendly":true,
	 "url":"https://venue.example/e/kids-craft","confidence":0.4}
]}`

// mockListingModel stands in for the normalizer's model.
type mockListingModel struct {
	response string
}

func (m mockListingModel) Chat(context.Context, string, []engine.Message, *engine.Schema) (string, error) {
	return m.response, nil
}

// mockGuide asks for concerts on every user message and then names the
// events that came back.
type mockGuide struct{}

func (mockGuide) ChatTools(_ context.Context, _ string, msgs []engine.Message, _ []engine.Tool) (engine.ChatResponse, error) {
	last := msgs[len(msgs)-1]
	if last.Role == engine.RoleUser {
		return engine.ChatResponse{ToolCalls: []engine.ToolCall{{
			ID:        "call_1",
			Name:      chat.SearchToolName,
			Arguments: json.RawMessage(`{"category":"concerts","price_max":20}`),
		}}}, nil
	}
	var res struct {
		Events []struct {
			Title string `json:"title"`
		} `json:"events"`
	}
	if err := json.Unmarshal([]byte(last.Content), &res); err != nil || len(res.Events) == 0 {
		return engine.ChatResponse{Content: "Nothing matched."}, nil
	}
	return engine.ChatResponse{Content: "Try " + res.Events[0].Title + "."}, nil
}

type testApp struct {
	handler http.Handler
	store   *storage.Store
}

func setupApp(t *testing.T, token string, sources ...source.Descriptor) *testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := func() time.Time { return refTime }
	store.SetClock(clock)

	coord := ingest.NewCoordinator(nil, nil, normalize.New(mockListingModel{response: listingJSON}, normalize.Options{Model: "test"}), store, ingest.Options{Clock: clock})
	executor := search.NewExecutor(store, search.Options{Clock: clock})
	profiles := profile.NewManager(store)
	orch := chat.New(mockGuide{}, executor, composer.New(0), profiles, chat.Options{Clock: clock, Location: time.UTC})

	handler := NewRouter(AppDeps{
		Store:       store,
		Search:      executor,
		Parser:      intent.NewParser(nil),
		Chat:        orch,
		Coordinator: coord,
		Sources:     source.NewRegistry("", sources),
		Profile:     profiles,
		Token:       token,
		Clock:       clock,
	})
	return &testApp{handler: handler, store: store}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (a *testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %s: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func (a *testApp) ingestListing(t *testing.T) ingest.SourceResult {
	t.Helper()
	body := `{"source":"tulsa-venues","source_url":"https://venue.example/api/events","content_type":"application/json",
		"content":"{\"events\":[{\"name\":\"Jazz Night\"},{\"name\":\"Arena Rock Revival\"},{\"name\":\"Kids Craft Morning\"}]}","tier":"api"}`
	rr := a.do(t, http.MethodPost, "/ingest", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /ingest status = %d; body = %s", rr.Code, rr.Body.String())
	}
	return decode[ingest.SourceResult](t, rr)
}

func TestHealthAndMetrics_NoAuth(t *testing.T) {
	a := setupApp(t, testToken)

	for _, path := range []string{"/health", "/metrics"} {
		rr := httptest.NewRecorder()
		a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, rr.Code)
		}
	}
}

func TestAuth(t *testing.T) {
	a := setupApp(t, testToken)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			a.handler.ServeHTTP(rr, authReq(http.MethodGet, "/events", "", tt.token))
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && errorType(t, rr) != "authentication_error" {
				t.Errorf("error type = %q", errorType(t, rr))
			}
		})
	}
}

func TestAuth_SchemeParsing(t *testing.T) {
	a := setupApp(t, testToken)

	headers := map[string]int{
		"bearer " + testToken:  http.StatusOK,
		"BEARER  " + testToken: http.StatusOK,
		"Basic " + testToken:   http.StatusUnauthorized,
		testToken:              http.StatusUnauthorized,
		"Bearer ":              http.StatusUnauthorized,
	}
	for h, want := range headers {
		req := httptest.NewRequest(http.MethodGet, "/events", nil)
		req.Header.Set("Authorization", h)
		rr := httptest.NewRecorder()
		a.handler.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Errorf("Authorization %q: status = %d, want %d", h, rr.Code, want)
		}
		if want == http.StatusUnauthorized && !strings.HasPrefix(rr.Header().Get("WWW-Authenticate"), "Bearer") {
			t.Errorf("Authorization %q: missing WWW-Authenticate challenge", h)
		}
	}
}

func TestAuth_DisabledWithoutToken(t *testing.T) {
	a := setupApp(t, "")
	rr := httptest.NewRecorder()
	a.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestIngest_Payload(t *testing.T) {
	a := setupApp(t, testToken)

	res := a.ingestListing(t)
	if res.Status != ingest.StatusIngested || res.Tier != source.TierAPI {
		t.Fatalf("result = %+v", res)
	}
	if res.Created != 3 || res.Flagged != 1 || len(res.EventIDs) != 3 {
		t.Errorf("created=%d flagged=%d ids=%v, want 3/1/3", res.Created, res.Flagged, res.EventIDs)
	}

	// Same payload again updates in place.
	res = a.ingestListing(t)
	if res.Created != 0 || res.Updated != 3 {
		t.Errorf("re-ingest created=%d updated=%d, want 0/3", res.Created, res.Updated)
	}
	if n, _ := a.store.CountEvents(context.Background()); n != 3 {
		t.Errorf("CountEvents = %d, want 3", n)
	}
}

func TestIngest_PDFContentIsBase64(t *testing.T) {
	a := setupApp(t, testToken)

	body := fmt.Sprintf(`{"source":"library","source_url":"https://lib.example/cal.pdf","content_type":"application/pdf","content":%q}`,
		base64.StdEncoding.EncodeToString([]byte("not really a pdf")))
	rr := a.do(t, http.MethodPost, "/ingest", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	res := decode[ingest.SourceResult](t, rr)
	if res.Status != ingest.StatusFailed || len(res.Attempts) == 0 {
		t.Errorf("unreadable PDF should fail with attempts, got %+v", res)
	}
}

func TestIngest_InvalidRequests(t *testing.T) {
	a := setupApp(t, testToken)

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{`},
		{"missing source", `{"source_url":"https://x.example","content_type":"text/html","content":"<p>x</p>"}`},
		{"missing content", `{"source":"s","source_url":"https://x.example","content_type":"text/html"}`},
		{"bad content type", `{"source":"s","source_url":"https://x.example","content_type":"image/png","content":"x"}`},
		{"bad base64", `{"source":"s","source_url":"https://x.example","content_type":"application/pdf","content":"***"}`},
		{"unknown tier", `{"source":"s","source_url":"https://x.example","content_type":"text/html","content":"<p>x</p>","tier":"magic"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := a.do(t, http.MethodPost, "/ingest", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body = %s", rr.Code, rr.Body.String())
			}
			if errorType(t, rr) != "invalid_request_error" {
				t.Errorf("error type = %q", errorType(t, rr))
			}
		})
	}
}

func TestIngest_UsesRegisteredDescriptor(t *testing.T) {
	a := setupApp(t, testToken, source.Descriptor{Name: "tulsa-venues", DefaultCategories: []string{"community"}, Location: "Tulsa"})
	res := a.ingestListing(t)

	e, err := a.store.GetEvent(context.Background(), res.EventIDs[0])
	if err != nil {
		t.Fatalf("GetEvent: %v", err)
	}
	if e.Location != "Tulsa" {
		t.Errorf("Location = %q, want the descriptor's default", e.Location)
	}
}

func TestSearch_Text(t *testing.T) {
	a := setupApp(t, testToken)
	a.ingestListing(t)

	check := func(t *testing.T, rr *httptest.ResponseRecorder) {
		t.Helper()
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
		}
		resp := decode[SearchResponse](t, rr)
		if resp.Intent.Category != "concerts" || resp.Intent.PriceMax == nil || *resp.Intent.PriceMax != 20 {
			t.Errorf("intent = %+v", resp.Intent)
		}
		if resp.Intent.Limit != search.DefaultLimit {
			t.Errorf("applied limit = %d, want %d", resp.Intent.Limit, search.DefaultLimit)
		}
		if len(resp.Events) != 1 || resp.Events[0].Title != "Jazz Night" {
			t.Errorf("events = %+v", resp.Events)
		}
	}

	t.Run("GET", func(t *testing.T) {
		check(t, a.do(t, http.MethodGet, "/search?q="+url.QueryEscape("jazz this week under $20"), ""))
	})
	t.Run("POST", func(t *testing.T) {
		check(t, a.do(t, http.MethodPost, "/search", `{"query":"jazz this week under $20"}`))
	})
}

func TestSearch_AmbiguousQueryIsBroad(t *testing.T) {
	a := setupApp(t, testToken)
	a.ingestListing(t)

	rr := a.do(t, http.MethodGet, "/search?q="+url.QueryEscape("what's happening?"), "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	resp := decode[SearchResponse](t, rr)
	if len(resp.Events) != 3 {
		t.Errorf("got %d events, want all 3", len(resp.Events))
	}
	if resp.Events[0].Title != "Arena Rock Revival" {
		t.Errorf("first event = %q, want start-time order", resp.Events[0].Title)
	}
}

func TestSearch_Structured(t *testing.T) {
	a := setupApp(t, testToken)
	a.ingestListing(t)

	rr := a.do(t, http.MethodPost, "/search/structured", `{"intent":{"family_friendly":true,"price_max":0}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	resp := decode[SearchResponse](t, rr)
	if len(resp.Events) != 1 || resp.Events[0].Title != "Kids Craft Morning" {
		t.Errorf("events = %+v", resp.Events)
	}

	invalid := []string{
		`{"intent":{"start":"2026-03-10T00:00:00Z","end":"2026-03-09T00:00:00Z"}}`,
		`{"intent":{"limit":-1}}`,
		`{"intent":{"price_max":-5}}`,
	}
	for _, body := range invalid {
		rr := a.do(t, http.MethodPost, "/search/structured", body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", body, rr.Code)
		}
	}
}

func TestSearch_StoreFailureDegradesToNoResults(t *testing.T) {
	a := setupApp(t, testToken)
	a.ingestListing(t)
	a.store.Close()

	for _, tc := range []struct{ method, url, body string }{
		{http.MethodGet, "/search?q=jazz", ""},
		{http.MethodPost, "/search", `{"query":"concerts this week"}`},
		{http.MethodPost, "/search/structured", `{"intent":{"category":"concerts"}}`},
	} {
		rr := a.do(t, tc.method, tc.url, tc.body)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s %s: status = %d, want 200; body = %s", tc.method, tc.url, rr.Code, rr.Body.String())
		}
		resp := decode[SearchResponse](t, rr)
		if !resp.Degraded || resp.Events == nil || len(resp.Events) != 0 {
			t.Errorf("%s %s: degraded=%v events=%v, want degraded with an empty list", tc.method, tc.url, resp.Degraded, resp.Events)
		}
	}

	rr := a.do(t, http.MethodPost, "/search/structured", `{"intent":{"limit":-1}}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid intent status = %d, want 400", rr.Code)
	}

	rr = a.do(t, http.MethodGet, "/events", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /events status = %d, want 200", rr.Code)
	}
	if got := decode[[]event.Event](t, rr); got == nil || len(got) != 0 {
		t.Errorf("events = %v, want an empty list", got)
	}
	if rr.Header().Get(degradedHeader) != "true" {
		t.Errorf("%s header missing", degradedHeader)
	}
}

func TestEvents_BrowseAndGet(t *testing.T) {
	a := setupApp(t, testToken)
	res := a.ingestListing(t)

	rr := a.do(t, http.MethodGet, "/events?limit=2", "")
	events := decode[[]event.Event](t, rr)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	rr = a.do(t, http.MethodGet, "/events?limit=2&offset=2", "")
	if rest := decode[[]event.Event](t, rr); len(rest) != 1 {
		t.Errorf("second page has %d events, want 1", len(rest))
	}

	rr = a.do(t, http.MethodGet, "/events/"+res.EventIDs[0], "")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET event status = %d", rr.Code)
	}
	if e := decode[event.Event](t, rr); e.ID != res.EventIDs[0] {
		t.Errorf("ID = %q", e.ID)
	}

	rr = a.do(t, http.MethodGet, "/events/nonexistent", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown event status = %d, want 404", rr.Code)
	}
}

func TestEvents_ReviewFlow(t *testing.T) {
	a := setupApp(t, testToken)
	a.ingestListing(t)

	flagged := decode[[]event.Event](t, a.do(t, http.MethodGet, "/events/review", ""))
	if len(flagged) != 1 || flagged[0].Title != "Kids Craft Morning" || !flagged[0].NeedsReview {
		t.Fatalf("review queue = %+v", flagged)
	}

	rr := a.do(t, http.MethodPost, "/events/"+flagged[0].ID+"/review", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("approve status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if left := decode[[]event.Event](t, a.do(t, http.MethodGet, "/events/review", "")); len(left) != 0 {
		t.Errorf("review queue after approval = %+v", left)
	}

	rr = a.do(t, http.MethodPost, "/events/nonexistent/review", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown event status = %d, want 404", rr.Code)
	}
}

func TestChat_Conversation(t *testing.T) {
	a := setupApp(t, testToken)
	a.ingestListing(t)

	rr := a.do(t, http.MethodPost, "/chat", `{"message":"cheap concerts?"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	reply := decode[chat.Reply](t, rr)
	if reply.SessionID == "" || reply.Message != "Try Jazz Night." {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.Events) != 1 || reply.Events[0].Title != "Jazz Night" {
		t.Errorf("events = %+v", reply.Events)
	}
	if reply.State != chat.StateResponseReady {
		t.Errorf("state = %q", reply.State)
	}

	rr = a.do(t, http.MethodGet, "/chat/"+reply.SessionID, "")
	info := decode[chat.SessionInfo](t, rr)
	if info.State != chat.StateAwaitingInput || len(info.Messages) == 0 {
		t.Errorf("session = %+v", info)
	}

	rr = a.do(t, http.MethodDelete, "/chat/"+reply.SessionID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("DELETE status = %d", rr.Code)
	}
	rr = a.do(t, http.MethodPost, "/chat", fmt.Sprintf(`{"session_id":%q,"message":"more?"}`, reply.SessionID))
	if rr.Code != http.StatusNotFound {
		t.Errorf("message to closed session status = %d, want 404", rr.Code)
	}
}

func TestChat_Errors(t *testing.T) {
	a := setupApp(t, testToken)

	if rr := a.do(t, http.MethodPost, "/chat", `{"message":"   "}`); rr.Code != http.StatusBadRequest {
		t.Errorf("empty message status = %d, want 400", rr.Code)
	}
	if rr := a.do(t, http.MethodGet, "/chat/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", rr.Code)
	}
	if rr := a.do(t, http.MethodDelete, "/chat/unknown", ""); rr.Code != http.StatusNotFound {
		t.Errorf("closing unknown session status = %d, want 404", rr.Code)
	}
}

func TestUsers_ProfileAndInteractions(t *testing.T) {
	a := setupApp(t, testToken)

	rr := a.do(t, http.MethodPatch, "/users/u1/profile", `{"home_area":"Tulsa","category_weights":{"concerts":0.9}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("PATCH status = %d; body = %s", rr.Code, rr.Body.String())
	}

	rr = a.do(t, http.MethodPost, "/users/u1/interactions", `{"type":"saved","event_id":"e1","event_title":"Jazz Night","event_category":"concerts"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("POST interaction status = %d; body = %s", rr.Code, rr.Body.String())
	}

	p := decode[profile.Profile](t, a.do(t, http.MethodGet, "/users/u1/profile", ""))
	if p.HomeArea != "Tulsa" || p.CategoryWeights["concerts"] != 0.9 {
		t.Errorf("profile = %+v", p)
	}
	if len(p.Recent) != 1 || p.Recent[0].EventTitle != "Jazz Night" {
		t.Errorf("recent = %+v", p.Recent)
	}

	if rr := a.do(t, http.MethodPatch, "/users/u1/profile", `{"category_weights":{"opera":0.5}}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d, want 400", rr.Code)
	}
	if rr := a.do(t, http.MethodPost, "/users/u1/interactions", `{"type":"liked"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown interaction type status = %d, want 400", rr.Code)
	}
}

func TestRuns(t *testing.T) {
	a := setupApp(t, testToken, source.Descriptor{Name: "tulsa-venues", URLs: []string{"https://venue.example/events"}})

	rr := a.do(t, http.MethodPost, "/ingest/runs", `{"sources":["nope"]}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown source status = %d, want 400", rr.Code)
	}

	rr = a.do(t, http.MethodPost, "/ingest/runs", `{"sources":["tulsa-venues"]}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("POST /ingest/runs status = %d; body = %s", rr.Code, rr.Body.String())
	}
	pending, err := a.store.PendingJobTypes(context.Background())
	if err != nil || pending[ingest.JobTypeRun] != 1 {
		t.Errorf("pending jobs = %v, %v", pending, err)
	}

	report := ingest.RunReport{ID: "run-1", StartedAt: refTime, FinishedAt: refTime.Add(time.Minute), Ingested: 1,
		Sources: []ingest.SourceResult{{Source: "tulsa-venues", Status: ingest.StatusIngested, EventIDs: []string{}}}}
	raw, _ := json.Marshal(report)
	if err := a.store.SaveRun(context.Background(), storage.RunRecord{ID: report.ID, StartedAt: report.StartedAt, FinishedAt: report.FinishedAt, Ingested: 1, ReportJSON: string(raw)}); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs := decode[[]RunSummary](t, a.do(t, http.MethodGet, "/ingest/runs", ""))
	if len(runs) != 1 || runs[0].Report == nil || runs[0].Report.Sources[0].Source != "tulsa-venues" {
		t.Fatalf("runs = %+v", runs)
	}
	if rr := a.do(t, http.MethodGet, "/ingest/runs/run-1", ""); rr.Code != http.StatusOK {
		t.Errorf("GET run status = %d", rr.Code)
	}
	if rr := a.do(t, http.MethodGet, "/ingest/runs/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rr.Code)
	}

	sources := decode[[]source.Descriptor](t, a.do(t, http.MethodGet, "/sources", ""))
	if len(sources) != 1 || sources[0].Name != "tulsa-venues" {
		t.Errorf("sources = %+v", sources)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=500", 100},
		{"limit=-1", 20},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/events?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("%q: got %d, want %d", tt.query, got, tt.want)
		}
	}
}
