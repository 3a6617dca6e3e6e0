// Package source holds the static per-source configuration read by the
// ingestion pipeline.
package source

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier names one extraction strategy. Tiers are attempted in the fixed order
// API, structured data, heuristic.
type Tier string

const (
	TierAPI        Tier = "api"
	TierStructured Tier = "structured_data"
	TierHeuristic  Tier = "heuristic"
)

// Order is the fixed priority order of extraction tiers.
var Order = []Tier{TierAPI, TierStructured, TierHeuristic}

const (
	defaultCrawlInterval = 6 * time.Hour
	defaultRate          = 1.0
)

// Descriptor is the read-only configuration for one source.
type Descriptor struct {
	Name              string            `yaml:"name" json:"name"`
	URLs              []string          `yaml:"urls" json:"urls"`
	APIURL            string            `yaml:"api_url" json:"api_url,omitempty"`
	Headers           map[string]string `yaml:"headers" json:"-"`
	PreferredTier     Tier              `yaml:"preferred_tier" json:"preferred_tier,omitempty"`
	DisabledTiers     []Tier            `yaml:"disabled_tiers" json:"disabled_tiers,omitempty"`
	CrawlInterval     time.Duration     `yaml:"crawl_interval" json:"crawl_interval"`
	RatePerSecond     float64           `yaml:"rate_per_second" json:"rate_per_second"`
	Burst             int               `yaml:"burst" json:"burst"`
	Timezone          string            `yaml:"timezone" json:"timezone,omitempty"`
	Location          string            `yaml:"location" json:"location,omitempty"`
	DefaultCategories []string          `yaml:"default_categories" json:"default_categories,omitempty"`
}

// PageURL returns the primary page URL, or "" when the source only has an API.
func (d Descriptor) PageURL() string {
	if len(d.URLs) == 0 {
		return ""
	}
	return d.URLs[0]
}

// Host returns the host of the primary URL (page or API).
func (d Descriptor) Host() string {
	raw := d.PageURL()
	if raw == "" {
		raw = d.APIURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// TimeLocation resolves the source timezone, falling back to UTC.
func (d Descriptor) TimeLocation() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Tiers returns the tiers to attempt for this source, in priority order.
// The API tier is only attempted when an API URL is declared; tiers before
// the preferred tier and disabled tiers are skipped.
func (d Descriptor) Tiers() []Tier {
	start := 0
	for i, t := range Order {
		if t == d.PreferredTier {
			start = i
		}
	}
	var out []Tier
	for _, t := range Order[start:] {
		if t == TierAPI && d.APIURL == "" {
			continue
		}
		if t != TierAPI && d.PageURL() == "" {
			continue
		}
		if d.disabled(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (d Descriptor) disabled(t Tier) bool {
	for _, x := range d.DisabledTiers {
		if x == t {
			return true
		}
	}
	return false
}

// ApplyDefaults fills zero-valued fields.
func (d *Descriptor) ApplyDefaults() {
	if d.CrawlInterval <= 0 {
		d.CrawlInterval = defaultCrawlInterval
	}
	if d.RatePerSecond <= 0 {
		d.RatePerSecond = defaultRate
	}
	if d.Burst <= 0 {
		d.Burst = 1
	}
}

// Validate checks the descriptor is usable.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("source name is required")
	}
	if len(d.URLs) == 0 && d.APIURL == "" {
		return fmt.Errorf("source %q: at least one of urls or api_url is required", d.Name)
	}
	for _, raw := range append(append([]string{}, d.URLs...), d.APIURL) {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("source %q: invalid url %q", d.Name, raw)
		}
	}
	switch d.PreferredTier {
	case "", TierAPI, TierStructured, TierHeuristic:
	default:
		return fmt.Errorf("source %q: unknown preferred_tier %q", d.Name, d.PreferredTier)
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return fmt.Errorf("source %q: invalid timezone %q: %w", d.Name, d.Timezone, err)
		}
	}
	return nil
}

type file struct {
	Sources []Descriptor `yaml:"sources"`
}

// Parse decodes a sources YAML document, applying defaults and validation.
func Parse(data []byte) ([]Descriptor, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing sources: %w", err)
	}
	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		f.Sources[i].ApplyDefaults()
		if err := f.Sources[i].Validate(); err != nil {
			return nil, err
		}
		if seen[f.Sources[i].Name] {
			return nil, fmt.Errorf("duplicate source name %q", f.Sources[i].Name)
		}
		seen[f.Sources[i].Name] = true
	}
	return f.Sources, nil
}

// LoadFile reads and parses the sources file at path. A missing file yields
// an empty list.
func LoadFile(path string) ([]Descriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading sources file: %w", err)
	}
	return Parse(data)
}
