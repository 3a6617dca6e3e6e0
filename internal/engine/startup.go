package engine

import (
	"context"
	"fmt"
	"io"
)

// EnsureReady verifies a local backend is up and pulls any of models it
// lacks, reporting progress to w. Empty and repeated names are ignored.
func EnsureReady(ctx context.Context, m ModelManager, models []string, w io.Writer) error {
	if !m.IsRunning(ctx) {
		return fmt.Errorf("local inference engine is not running; start it with: ollama serve")
	}

	seen := make(map[string]bool, len(models))
	for _, model := range models {
		if model == "" || seen[model] {
			continue
		}
		seen[model] = true

		if !m.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: pulling\n", model)
			if err := m.PullModel(ctx, model, progressPrinter(w)); err != nil {
				return fmt.Errorf("pulling model %s: %w", model, err)
			}
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}
	return nil
}

// progressPrinter prints a line when the pull status changes or a download
// crosses another 10%. Ollama emits a progress line per chunk, which would
// flood a terminal otherwise.
func progressPrinter(w io.Writer) func(PullProgress) {
	var status string
	step := -1
	return func(p PullProgress) {
		if p.Total <= 0 {
			if p.Status != status {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
			status, step = p.Status, -1
			return
		}
		pct := int(p.Completed * 100 / p.Total)
		if p.Status == status && pct/10 == step {
			return
		}
		status, step = p.Status, pct/10
		fmt.Fprintf(w, "  %s %d%%\n", p.Status, pct)
	}
}
