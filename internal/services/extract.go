package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// ExtractStage runs OCR on every resolved URL and stores the cleaned text.
// A failed or malformed extraction degrades to an empty string for that item
// so extracted_texts stays aligned with resolved_urls. Authentication,
// unavailable-backend and configuration errors abort the run.
type ExtractStage struct {
	Extractor backend.Extractor
	Retry     backend.RetryPolicy
	Logger    *slog.Logger
}

func (s *ExtractStage) Name() string { return StageExtract }

func (s *ExtractStage) Requires() []models.Field {
	return []models.Field{models.FieldResolvedURLs, models.FieldResolvedNames}
}

func (s *ExtractStage) Produces() []models.Field {
	return []models.Field{models.FieldExtractedTexts}
}

func (s *ExtractStage) Run(ctx context.Context, rec models.Record) (models.Delta, error) {
	logCtx := loggerOr(s.Logger).With("stage", StageExtract)

	if len(rec.ResolvedURLs) != len(rec.ResolvedNames) {
		return models.Delta{}, backend.Malformed("extract", fmt.Errorf("resolved_urls has %d entries but resolved_names has %d", len(rec.ResolvedURLs), len(rec.ResolvedNames)))
	}

	texts := make([]string, 0, len(rec.ResolvedURLs))
	for i, url := range rec.ResolvedURLs {
		name := rec.ResolvedNames[i]

		var result backend.ExtractResult
		err := backend.Retry(ctx, s.Retry, "extract "+name, func(ctx context.Context) error {
			var err error
			result, err = s.Extractor.Extract(ctx, url, name)
			return err
		})
		if err != nil {
			if backend.IsFatal(err) {
				logCtx.Error("Extraction failed, aborting run.", "name", name, "error", err)
				return models.Delta{}, backend.NewItemError(backend.ItemExtract, name, err)
			}
			logCtx.Warn("Extraction failed, storing empty text.", "name", name, "error", err)
			texts = append(texts, "")
			continue
		}

		text := ConcatPages(result.Pages)
		if text == "" {
			logCtx.Warn("No text extracted from document.", "name", name)
		}
		texts = append(texts, text)
		logCtx.Info("Extracted text.", "name", name, "pages", len(result.Pages), "chars", len(text))
	}

	return models.NewDelta(models.Record{ExtractedTexts: texts}, s.Produces()...), nil
}
