package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

type fakeSource struct {
	items     []backend.Item
	content   map[string][]byte
	fetchErr  map[string]error
	searchErr error

	mu      sync.Mutex
	fetched []string
}

func (s *fakeSource) Search(context.Context, string) ([]backend.Item, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.items, nil
}

func (s *fakeSource) Fetch(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	s.fetched = append(s.fetched, id)
	s.mu.Unlock()
	if err := s.fetchErr[id]; err != nil {
		return nil, err
	}
	data, ok := s.content[id]
	if !ok {
		data = []byte("content of " + id)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type fakeOCR struct {
	uploadErr  map[string]error
	noID       map[string]bool
	pending    map[string]bool
	resolveErr map[string]error
	emptyURL   map[string]bool
	extractErr map[string]error

	uploaded []string
	resolves map[string]int
}

func (o *fakeOCR) Upload(_ context.Context, payload []byte, name, _ string) (models.Receipt, error) {
	if err := o.uploadErr[name]; err != nil {
		return models.Receipt{}, err
	}
	o.uploaded = append(o.uploaded, name)
	id := "r-" + name
	if o.noID[name] {
		id = ""
	}
	return models.Receipt{ID: id, Name: name, Raw: map[string]any{"bytes": len(payload)}}, nil
}

func (o *fakeOCR) Resolve(_ context.Context, id string) (string, error) {
	if o.resolves == nil {
		o.resolves = map[string]int{}
	}
	o.resolves[id]++
	if o.pending[id] {
		return "", fmt.Errorf("%s: %w", id, backend.ErrPending)
	}
	if err := o.resolveErr[id]; err != nil {
		return "", err
	}
	if o.emptyURL[id] {
		return "", nil
	}
	return "https://signed.example/" + id, nil
}

func (o *fakeOCR) Extract(_ context.Context, url, name string) (backend.ExtractResult, error) {
	if err := o.extractErr[name]; err != nil {
		return backend.ExtractResult{}, err
	}
	return backend.ExtractResult{Pages: []backend.Page{
		{Index: 1, Markdown: "page two of " + name},
		{Index: 0, Markdown: "# " + name + "\n|a|b|\nfrom " + url},
	}}, nil
}

type memorySink struct {
	written map[string]string
	err     error
}

func (s *memorySink) Write(_ context.Context, key, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.written == nil {
		s.written = map[string]string{}
	}
	if _, ok := s.written[key]; ok {
		return "", fmt.Errorf("mem://%s: %w", key, backend.ErrAlreadyExists)
	}
	s.written[key] = text
	return "mem://" + key, nil
}

type fakeNotifier struct {
	notified []*models.RunPipelineResponse
}

func (n *fakeNotifier) Notify(_ context.Context, res *models.RunPipelineResponse) error {
	n.notified = append(n.notified, res)
	return nil
}

func testConfig(t *testing.T) *PipelineConfig {
	t.Helper()
	return &PipelineConfig{
		Source:                 SourceDrive,
		Provider:               ProviderMistral,
		MistralAPIKey:          "test-key",
		Folder:                 "Medical Records",
		StagingDir:             t.TempDir(),
		FetchConcurrency:       2,
		MaxAttempts:            1,
		SubmitFailurePolicy:    SubmitPolicyAbort,
		ResolvePendingAttempts: 2,
		ResolvePendingDelay:    time.Millisecond,
	}
}

func items(names ...string) []backend.Item {
	out := make([]backend.Item, 0, len(names))
	for i, n := range names {
		out = append(out, backend.Item{Name: n, ID: fmt.Sprintf("id%d", i+1)})
	}
	return out
}
