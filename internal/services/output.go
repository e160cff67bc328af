package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/gcp"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// OutputStage writes every extracted text to Sink as <run id>/<name>.txt.
// A name seen twice in one run gets an index prefix. Any write failure,
// including a taken key, aborts the run. Without a Sink the stage records
// empty URIs.
type OutputStage struct {
	Sink   backend.Sink
	RunID  string
	Retry  backend.RetryPolicy
	Logger *slog.Logger
}

func (s *OutputStage) Name() string { return StageOutput }

func (s *OutputStage) Requires() []models.Field {
	return []models.Field{models.FieldResolvedNames, models.FieldExtractedTexts}
}

func (s *OutputStage) Produces() []models.Field {
	return []models.Field{models.FieldOutputURIs}
}

func (s *OutputStage) Run(ctx context.Context, rec models.Record) (models.Delta, error) {
	logCtx := loggerOr(s.Logger).With("stage", StageOutput)

	if len(rec.ExtractedTexts) != len(rec.ResolvedNames) {
		return models.Delta{}, backend.Malformed(StageOutput, fmt.Errorf("extracted_texts has %d entries but resolved_names has %d", len(rec.ExtractedTexts), len(rec.ResolvedNames)))
	}

	uris := make([]string, 0, len(rec.ResolvedNames))
	if s.Sink == nil {
		for range rec.ResolvedNames {
			uris = append(uris, "")
		}
		return models.NewDelta(models.Record{OutputURIs: uris}, s.Produces()...), nil
	}

	for i, key := range outputKeys(rec.ResolvedNames) {
		name := rec.ResolvedNames[i]
		key = path.Join(s.RunID, key)

		var uri string
		err := backend.Retry(ctx, s.Retry, "write "+key, func(ctx context.Context) error {
			var err error
			uri, err = s.Sink.Write(ctx, key, rec.ExtractedTexts[i])
			return err
		})
		if err != nil {
			logCtx.Error("Failed to write extracted text.", "name", name, "key", key, "error", err)
			return models.Delta{}, backend.NewItemError(backend.ItemOutput, name, err)
		}
		uris = append(uris, uri)
	}

	logCtx.Info("Wrote extracted texts.", "count", len(uris))
	return models.NewDelta(models.Record{OutputURIs: uris}, s.Produces()...), nil
}

// outputKeys maps source names to output file names that are unique within
// one run.
func outputKeys(names []string) []string {
	keys := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		key := gcp.TextObjectName(name)
		for n := i; seen[key]; n++ {
			key = fmt.Sprintf("%04d_%s", n, gcp.TextObjectName(name))
		}
		seen[key] = true
		keys[i] = key
	}
	return keys
}

// LocalSink writes extracted texts under Dir. It never overwrites.
type LocalSink struct {
	Dir string
}

func (s *LocalSink) Write(_ context.Context, key, text string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", backend.Configuration("output key %q escapes %s", key, s.Dir)
	}
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return "", fmt.Errorf("%s: %w", dest, backend.ErrAlreadyExists)
	}
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dest, err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", dest, err)
	}
	return dest, nil
}

// NewSink picks the sink for dest: a gs:// URI goes to Cloud Storage, any
// other non-empty value is a local directory. An empty dest returns nil and
// outputs are only reported in the response.
func NewSink(client *storage.Client, dest string) (backend.Sink, error) {
	switch {
	case dest == "":
		return nil, nil
	case strings.HasPrefix(dest, "gs://"):
		if client == nil {
			return nil, backend.Configuration("output %s needs a storage client", dest)
		}
		sink, err := gcp.NewGCSSink(client, dest)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return &LocalSink{Dir: dest}, nil
	}
}

// requestSink resolves an output destination supplied by a caller. Cloud
// Storage destinations are accepted as is; a local directory must lie inside
// the configured local output directory.
func requestSink(client *storage.Client, configured, dest string) (backend.Sink, error) {
	if strings.HasPrefix(dest, "gs://") {
		return NewSink(client, dest)
	}
	if configured == "" || strings.HasPrefix(configured, "gs://") {
		return nil, backend.Configuration("local output %q is not allowed; use a gs:// destination", dest)
	}
	rel, err := filepath.Rel(filepath.Clean(configured), filepath.Clean(dest))
	if err != nil || !filepath.IsLocal(rel) && rel != "." {
		return nil, backend.Configuration("output %q is outside %s", dest, configured)
	}
	return NewSink(client, dest)
}
