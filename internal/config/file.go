package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"), "whatson-data")
}

func configDir() string {
	return xdgDir("XDG_CONFIG_HOME", ".config", ".whatson")
}

// xdgDir resolves $env/whatson, falling back to $HOME/<home>/whatson and finally
// to a path relative to the working directory.
func xdgDir(env, home, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "whatson")
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(h, home, "whatson")
}

// FilePath returns the location of the config file.
func FilePath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// fileBackend is a flat YAML mapping of dotted keys to scalar values:
//
//	server.port: 4200
//	ingest.schedule_interval: 5m
type fileBackend struct {
	path   string
	values map[string]string
}

func newFileBackend(path string) *fileBackend {
	b := &fileBackend{path: path, values: map[string]string{}}
	if err := b.read(); err != nil {
		slog.Warn("config file unreadable, using defaults", "path", path, "error", err)
	}
	return b
}

func (b *fileBackend) read() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	values := make(map[string]string, len(doc))
	for k, n := range doc {
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("%s: expected a scalar value", k)
		}
		values[k] = n.Value
	}
	b.values = values
	return nil
}

func (b *fileBackend) write() error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: b.values[k]},
		)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *fileBackend) Get(key string) (string, bool, error) {
	v, ok := b.values[key]
	return v, ok, nil
}

func (b *fileBackend) Set(key, raw string) error {
	b.values[key] = raw
	return b.write()
}

func (b *fileBackend) Delete(key string) error {
	delete(b.values, key)
	return b.write()
}
