package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 400 * time.Millisecond

// Registry holds the current set of descriptors and can reload them when
// the backing file changes.
type Registry struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	sources map[string]Descriptor
}

// NewRegistry creates a Registry seeded with the given descriptors. path may
// be empty when the registry is not file-backed.
func NewRegistry(path string, initial []Descriptor) *Registry {
	r := &Registry{path: path, logger: slog.Default()}
	r.replace(initial)
	return r
}

// OpenRegistry loads descriptors from path and returns a file-backed Registry.
func OpenRegistry(path string) (*Registry, error) {
	descs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewRegistry(path, descs), nil
}

func (r *Registry) replace(descs []Descriptor) {
	m := make(map[string]Descriptor, len(descs))
	for _, d := range descs {
		m[d.Name] = d
	}
	r.mu.Lock()
	r.sources = m
	r.mu.Unlock()
}

// Get returns the descriptor with the given name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.sources[name]
	return d, ok
}

// All returns every descriptor sorted by name.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.sources))
	for _, d := range r.sources {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup resolves names to descriptors. An empty names list selects every
// source. Unknown names are returned separately.
func (r *Registry) Lookup(names []string) (found []Descriptor, unknown []string) {
	if len(names) == 0 {
		return r.All(), nil
	}
	for _, n := range names {
		if d, ok := r.Get(n); ok {
			found = append(found, d)
		} else {
			unknown = append(unknown, n)
		}
	}
	return found, unknown
}

// Reload re-reads the backing file. On a parse error the previous set is kept.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	descs, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.replace(descs)
	r.logger.Info("sources reloaded", "path", r.path, "count", len(descs))
	return nil
}

// Watch reloads the registry whenever the sources file is written, created
// or renamed into place. It blocks until ctx is cancelled. The parent
// directory is watched so editors that replace the file are picked up.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := r.Reload(); err != nil {
				r.logger.Warn("sources reload failed, keeping previous set", "path", r.path, "error", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("sources watcher error", "error", err)
		}
	}
}
