package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type fakeManager struct {
	up       bool
	local    map[string]bool
	progress []PullProgress
	pulled   []string
}

func (f *fakeManager) IsRunning(context.Context) bool              { return f.up }
func (f *fakeManager) HasModel(_ context.Context, name string) bool { return f.local[name] }
func (f *fakeManager) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	f.pulled = append(f.pulled, name)
	for _, p := range f.progress {
		cb(p)
	}
	return nil
}

func TestEnsureReady(t *testing.T) {
	tests := []struct {
		name   string
		local  []string
		want   []string
		pulled []string
	}{
		{"all present, duplicates skipped", []string{"qwen2.5:7b"}, []string{"qwen2.5:7b", "qwen2.5:7b"}, nil},
		{"missing pulled once, empty skipped", []string{"qwen2.5:7b"}, []string{"qwen2.5:7b", "llama3.1:8b", "", "llama3.1:8b"}, []string{"llama3.1:8b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeManager{up: true, local: map[string]bool{}}
			for _, l := range tt.local {
				m.local[l] = true
			}
			if err := EnsureReady(context.Background(), m, tt.want, io.Discard); err != nil {
				t.Fatalf("EnsureReady: %v", err)
			}
			if strings.Join(m.pulled, ",") != strings.Join(tt.pulled, ",") {
				t.Errorf("pulled = %v, want %v", m.pulled, tt.pulled)
			}
		})
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	err := EnsureReady(context.Background(), &fakeManager{}, []string{"qwen2.5:7b"}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "ollama serve") {
		t.Fatalf("err = %v, want a hint to start ollama", err)
	}
}

func TestEnsureReady_ThrottlesProgress(t *testing.T) {
	m := &fakeManager{up: true, local: map[string]bool{}}
	m.progress = append(m.progress, PullProgress{Status: "pulling manifest"}, PullProgress{Status: "pulling manifest"})
	for done := int64(0); done <= 1000; done += 25 {
		m.progress = append(m.progress, PullProgress{Status: "downloading", Total: 1000, Completed: done})
	}
	m.progress = append(m.progress, PullProgress{Status: "success"})

	var out bytes.Buffer
	if err := EnsureReady(context.Background(), m, []string{"llama3.1:8b"}, &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}

	text := out.String()
	if n := strings.Count(text, "downloading"); n != 11 {
		t.Errorf("printed %d download lines, want one per 10%% step (11):\n%s", n, text)
	}
	if strings.Count(text, "pulling manifest") != 1 {
		t.Errorf("repeated status printed twice:\n%s", text)
	}
	if !strings.HasSuffix(text, "  success\nmodel llama3.1:8b: ready\n") {
		t.Errorf("output tail = %q", text)
	}
}
