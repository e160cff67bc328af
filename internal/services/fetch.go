package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// FetchStage downloads every located file into a run-specific staging
// directory. A file that cannot be downloaded or fails validation is dropped
// and logged; the surviving paths keep their relative order. Authentication,
// unavailable-backend and configuration errors abort the run.
type FetchStage struct {
	Fetcher     backend.Fetcher
	Validator   backend.Validator
	StagingDir  string
	Concurrency int
	Retry       backend.RetryPolicy
	Logger      *slog.Logger
}

func (s *FetchStage) Name() string { return StageFetch }

func (s *FetchStage) Requires() []models.Field {
	return []models.Field{models.FieldFileNames, models.FieldFileIDs}
}

func (s *FetchStage) Produces() []models.Field {
	return []models.Field{models.FieldLocalPaths, models.FieldLocalNames, models.FieldDropped}
}

type fetchResult struct {
	path string
	err  error
}

func (s *FetchStage) Run(ctx context.Context, rec models.Record) (models.Delta, error) {
	logCtx := loggerOr(s.Logger).With("stage", StageFetch, "stagingDir", s.StagingDir)

	if len(rec.FileNames) != len(rec.FileIDs) {
		return models.Delta{}, backend.Malformed("fetch", fmt.Errorf("file_names has %d entries but file_ids has %d", len(rec.FileNames), len(rec.FileIDs)))
	}
	if err := os.MkdirAll(s.StagingDir, 0o755); err != nil {
		return models.Delta{}, fmt.Errorf("failed to create staging dir: %w", err)
	}

	results := make([]fetchResult, len(rec.FileNames))
	eg, gctx := errgroup.WithContext(ctx)
	limit := s.Concurrency
	if limit < 1 {
		limit = 1
	}
	eg.SetLimit(limit)

	for i := range rec.FileNames {
		i := i
		name, id := rec.FileNames[i], rec.FileIDs[i]
		eg.Go(func() error {
			path, err := s.fetchOne(gctx, i, name, id)
			if err != nil && backend.IsFatal(err) {
				return fmt.Errorf("fetch %q: %w", name, err)
			}
			results[i] = fetchResult{path: path, err: err}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logCtx.Error("Fetch aborted.", "error", err)
		return models.Delta{}, err
	}

	out := models.Record{
		LocalPaths: make([]string, 0, len(results)),
		LocalNames: make([]string, 0, len(results)),
	}
	var dropped []models.DroppedItem
	for i, r := range results {
		name := rec.FileNames[i]
		if r.err != nil {
			logCtx.Warn("Dropping file.", "name", name, "id", rec.FileIDs[i], "error", r.err)
			dropped = append(dropped, models.DroppedItem{Stage: StageFetch, Name: name, Reason: r.err.Error()})
			continue
		}
		out.LocalPaths = append(out.LocalPaths, r.path)
		out.LocalNames = append(out.LocalNames, name)
	}
	out.Dropped = appendDropped(rec.Dropped, dropped...)

	logCtx.Info("Fetch complete.", "fetched", len(out.LocalPaths), "dropped", len(dropped))
	return models.NewDelta(out, s.Produces()...), nil
}

func (s *FetchStage) fetchOne(ctx context.Context, idx int, name, id string) (string, error) {
	var payload []byte
	err := backend.Retry(ctx, s.Retry, "fetch "+name, func(ctx context.Context) error {
		rc, err := s.Fetcher.Fetch(ctx, id)
		if err != nil {
			return err
		}
		defer rc.Close()
		payload, err = io.ReadAll(rc)
		if err != nil {
			return backend.Unavailable("read "+name, err)
		}
		return nil
	})
	if err != nil {
		return "", backend.NewItemError(backend.ItemFetch, name, err)
	}

	if s.Validator != nil {
		if err := s.Validator.Validate(name, payload); err != nil {
			return "", backend.NewItemError(backend.ItemFetch, name, err)
		}
	}

	// The index prefix keeps two files with the same name apart.
	dest := filepath.Join(s.StagingDir, fmt.Sprintf("%04d_%s", idx, stagingName(name)))
	if err := os.WriteFile(dest, payload, 0o644); err != nil {
		return "", backend.NewItemError(backend.ItemFetch, name, err)
	}

	sum := sha256.Sum256(payload)
	loggerOr(s.Logger).Debug("Fetched file.", "name", name, "path", dest, "bytes", len(payload), "fileHash", hex.EncodeToString(sum[:]))
	return dest, nil
}

func stagingName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return base
}
