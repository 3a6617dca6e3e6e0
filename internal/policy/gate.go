// Package policy decides whether a source may be fetched right now. It
// combines cached robots.txt directives with a token bucket per source.
package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/kalambet/whatson/internal/metrics"
	"github.com/kalambet/whatson/internal/source"
)

const (
	DefaultRobotsTTL = 24 * time.Hour
	robotsTimeout    = 10 * time.Second
	robotsMaxBytes   = 512 << 10

	// robotsRetryTTL caches a failed or server-error fetch only briefly, so
	// an outage does not decide a host's rules for a whole TTL.
	robotsRetryTTL = 5 * time.Minute
)

// Options configures a Gate. Zero values fall back to defaults.
type Options struct {
	UserAgent   string
	RobotsTTL   time.Duration
	DefaultRate float64
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type robotsEntry struct {
	data    *robotstxt.RobotsData
	expires time.Time
}

type robotsFetch struct {
	data      *robotstxt.RobotsData
	temporary bool
}

type bucket struct {
	limiter *rate.Limiter
	limit   rate.Limit
	burst   int
}

// Gate owns the robots cache and the per-source token buckets. Each Gate is
// independent; tests create isolated instances.
type Gate struct {
	client      *http.Client
	userAgent   string
	robotsTTL   time.Duration
	defaultRate float64
	logger      *slog.Logger

	fetches singleflight.Group

	mu      sync.Mutex
	robots  map[string]robotsEntry
	buckets map[string]*bucket
}

// NewGate creates a Gate.
func NewGate(opts Options) *Gate {
	g := &Gate{
		client:      opts.HTTPClient,
		userAgent:   opts.UserAgent,
		robotsTTL:   opts.RobotsTTL,
		defaultRate: opts.DefaultRate,
		logger:      opts.Logger,
		robots:      make(map[string]robotsEntry),
		buckets:     make(map[string]*bucket),
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: robotsTimeout}
	}
	if g.userAgent == "" {
		g.userAgent = "whatson-bot/1.0"
	}
	if g.robotsTTL <= 0 {
		g.robotsTTL = DefaultRobotsTTL
	}
	if g.defaultRate <= 0 {
		g.defaultRate = 1.0
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Allow reports whether src may be fetched at now. It never returns an
// error: false means "retry later". Robots directives are checked first so
// a disallowed source does not consume a token.
func (g *Gate) Allow(ctx context.Context, src source.Descriptor, now time.Time) bool {
	var crawlDelay time.Duration
	if page := src.PageURL(); page != "" {
		allowed, delay := g.robotsAllow(ctx, page, now)
		if !allowed {
			metrics.PolicyDecisions.WithLabelValues("robots_denied").Inc()
			g.logger.Debug("policy denied by robots", "source", src.Name, "url", page)
			return false
		}
		crawlDelay = delay
	}

	if !g.bucketFor(src, crawlDelay).AllowN(now, 1) {
		metrics.PolicyDecisions.WithLabelValues("rate_limited").Inc()
		return false
	}
	metrics.PolicyDecisions.WithLabelValues("allowed").Inc()
	return true
}

// bucketFor returns the limiter for src, creating it on first use and
// re-tuning it when the descriptor's rate or the robots crawl-delay changed.
func (g *Gate) bucketFor(src source.Descriptor, crawlDelay time.Duration) *rate.Limiter {
	r := src.RatePerSecond
	if r <= 0 {
		r = g.defaultRate
	}
	if crawlDelay > 0 {
		r = math.Min(r, 1/crawlDelay.Seconds())
	}
	limit := rate.Limit(r)
	burst := src.Burst
	if burst <= 0 {
		burst = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buckets[src.Name]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit, burst), limit: limit, burst: burst}
		g.buckets[src.Name] = b
		return b.limiter
	}
	if b.limit != limit {
		b.limiter.SetLimit(limit)
		b.limit = limit
	}
	if b.burst != burst {
		b.limiter.SetBurst(burst)
		b.burst = burst
	}
	return b.limiter
}

// robotsAllow checks rawURL against its host's cached robots.txt, refreshing
// the cache entry once it expires.
func (g *Gate) robotsAllow(ctx context.Context, rawURL string, now time.Time) (bool, time.Duration) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true, 0
	}
	key := u.Scheme + "://" + u.Host

	g.mu.Lock()
	entry, ok := g.robots[key]
	g.mu.Unlock()

	if !ok || !now.Before(entry.expires) {
		v, _, _ := g.fetches.Do(key, func() (any, error) {
			return g.fetchRobots(ctx, key), nil
		})
		f := v.(robotsFetch)
		ttl := g.robotsTTL
		if f.temporary {
			ttl = min(ttl, robotsRetryTTL)
		}
		entry = robotsEntry{data: f.data, expires: now.Add(ttl)}
		g.mu.Lock()
		g.robots[key] = entry
		g.mu.Unlock()
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	group := entry.data.FindGroup(g.userAgent)
	if group == nil {
		return true, 0
	}
	return group.Test(path), group.CrawlDelay
}

// fetchRobots downloads and parses robots.txt for base. Network failures and
// 4xx responses yield allow-all. 5xx responses are a full disallow,
// following robotstxt.FromStatusAndBytes. Everything except a 2xx or 4xx
// answer is marked temporary.
func (g *Gate) fetchRobots(ctx context.Context, base string) robotsFetch {
	allowAll, _ := robotstxt.FromStatusAndBytes(http.StatusNotFound, nil)
	retry := robotsFetch{data: allowAll, temporary: true}

	ctx, cancel := context.WithTimeout(ctx, robotsTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/robots.txt", nil)
	if err != nil {
		return retry
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.RobotsFetches.WithLabelValues("network_error").Inc()
		g.logger.Warn("robots.txt fetch failed, allowing", "host", base, "error", err)
		return retry
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, robotsMaxBytes))
	if err != nil {
		metrics.RobotsFetches.WithLabelValues("network_error").Inc()
		return retry
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		metrics.RobotsFetches.WithLabelValues("parse_error").Inc()
		g.logger.Warn("robots.txt unparseable, allowing", "host", base, "error", err)
		return retry
	}
	metrics.RobotsFetches.WithLabelValues(fmt.Sprintf("%dxx", resp.StatusCode/100)).Inc()
	return robotsFetch{data: data, temporary: resp.StatusCode >= 500}
}
