package policy

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/whatson/internal/source"
)

func robotsServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/robots.txt" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestAllow_RateLimitWithinWindow(t *testing.T) {
	srv, _ := robotsServer(t, http.StatusNotFound, "")
	g := NewGate(Options{})
	src := source.Descriptor{Name: "venue", URLs: []string{srv.URL + "/events"}, RatePerSecond: 1, Burst: 1}

	base := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)
	interval := time.Second
	window := 2500 * time.Millisecond

	allowed := 0
	for step := time.Duration(0); step < window; step += 100 * time.Millisecond {
		if g.Allow(context.Background(), src, base.Add(step)) {
			allowed++
		}
	}
	max := int(math.Ceil(float64(window) / float64(interval)))
	if allowed > max {
		t.Errorf("allowed %d calls in %v, want at most %d", allowed, window, max)
	}
	if allowed == 0 {
		t.Error("no calls allowed")
	}
}

func TestAllow_SourcesHaveIndependentBuckets(t *testing.T) {
	srv, _ := robotsServer(t, http.StatusNotFound, "")
	g := NewGate(Options{})
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	a := source.Descriptor{Name: "a", URLs: []string{srv.URL + "/a"}, RatePerSecond: 1, Burst: 1}
	b := source.Descriptor{Name: "b", URLs: []string{srv.URL + "/b"}, RatePerSecond: 1, Burst: 1}

	if !g.Allow(context.Background(), a, now) {
		t.Fatal("first call for a denied")
	}
	if g.Allow(context.Background(), a, now) {
		t.Error("second immediate call for a allowed")
	}
	if !g.Allow(context.Background(), b, now) {
		t.Error("b denied because of a's bucket")
	}
}

func TestAllow_RobotsDisallow(t *testing.T) {
	srv, _ := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n")
	g := NewGate(Options{})
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	blocked := source.Descriptor{Name: "blocked", URLs: []string{srv.URL + "/private/events"}, RatePerSecond: 1, Burst: 1}
	if g.Allow(context.Background(), blocked, now) {
		t.Error("disallowed path was allowed")
	}

	open := source.Descriptor{Name: "open", URLs: []string{srv.URL + "/events"}, RatePerSecond: 1, Burst: 1}
	if !g.Allow(context.Background(), open, now) {
		t.Error("allowed path was denied")
	}
}

func TestAllow_RobotsDenialDoesNotConsumeToken(t *testing.T) {
	srv, _ := robotsServer(t, http.StatusOK, "User-agent: *\nDisallow: /private\n")
	g := NewGate(Options{})
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	src := source.Descriptor{Name: "s", URLs: []string{srv.URL + "/private"}, RatePerSecond: 1, Burst: 1}
	g.Allow(context.Background(), src, now)

	lim := g.bucketFor(src, 0)
	if tokens := lim.TokensAt(now); tokens < 1 {
		t.Errorf("tokens = %v after robots denial, want 1", tokens)
	}
}

func TestAllow_RobotsCachedUntilTTL(t *testing.T) {
	srv, hits := robotsServer(t, http.StatusOK, "User-agent: *\nAllow: /\n")
	g := NewGate(Options{RobotsTTL: time.Hour})
	src := source.Descriptor{Name: "s", URLs: []string{srv.URL + "/events"}, RatePerSecond: 100, Burst: 10}
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	g.Allow(context.Background(), src, now)
	g.Allow(context.Background(), src, now.Add(30*time.Minute))
	if got := hits.Load(); got != 1 {
		t.Errorf("robots fetched %d times within TTL, want 1", got)
	}

	g.Allow(context.Background(), src, now.Add(2*time.Hour))
	if got := hits.Load(); got != 2 {
		t.Errorf("robots fetched %d times after TTL, want 2", got)
	}
}

func TestAllow_RobotsUnreachableAllows(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	g := NewGate(Options{HTTPClient: &http.Client{Timeout: time.Second}})
	src := source.Descriptor{Name: "down", URLs: []string{addr + "/events"}, RatePerSecond: 1, Burst: 1}
	now := time.Now()
	if !g.Allow(context.Background(), src, now) {
		t.Error("unreachable robots.txt should allow")
	}

	g.mu.Lock()
	entry := g.robots[addr]
	g.mu.Unlock()
	if want := now.Add(robotsRetryTTL); !entry.expires.Equal(want) {
		t.Errorf("allow-all cached until %v, want %v", entry.expires, want)
	}
}

func TestAllow_RobotsFailureCachedBriefly(t *testing.T) {
	for _, status := range []int{http.StatusServiceUnavailable, http.StatusOK} {
		srv, hits := robotsServer(t, status, "User-agent: *\nAllow: /\n")
		g := NewGate(Options{RobotsTTL: 24 * time.Hour})
		src := source.Descriptor{Name: "s", URLs: []string{srv.URL + "/events"}, RatePerSecond: 100, Burst: 10}
		now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

		g.Allow(context.Background(), src, now)
		g.Allow(context.Background(), src, now.Add(robotsRetryTTL-time.Second))
		g.Allow(context.Background(), src, now.Add(robotsRetryTTL))

		want := int32(1)
		if status >= 500 {
			want = 2
		}
		if got := hits.Load(); got != want {
			t.Errorf("status %d: robots fetched %d times, want %d", status, got, want)
		}
	}
}

func TestAllow_CrawlDelayLowersRate(t *testing.T) {
	srv, _ := robotsServer(t, http.StatusOK, "User-agent: *\nCrawl-delay: 10\n")
	g := NewGate(Options{})
	src := source.Descriptor{Name: "slow", URLs: []string{srv.URL + "/events"}, RatePerSecond: 5, Burst: 1}
	now := time.Date(2026, 3, 6, 12, 0, 0, 0, time.UTC)

	if !g.Allow(context.Background(), src, now) {
		t.Fatal("first call denied")
	}
	if g.Allow(context.Background(), src, now.Add(5*time.Second)) {
		t.Error("call within crawl-delay allowed")
	}
	if !g.Allow(context.Background(), src, now.Add(11*time.Second)) {
		t.Error("call after crawl-delay denied")
	}
}

func TestAllow_APIOnlySkipsRobots(t *testing.T) {
	g := NewGate(Options{})
	src := source.Descriptor{Name: "api", APIURL: "http://127.0.0.1:1/v1/events", RatePerSecond: 1, Burst: 1}
	if !g.Allow(context.Background(), src, time.Now()) {
		t.Error("API-only source denied")
	}
}
