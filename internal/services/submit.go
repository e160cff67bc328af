package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// SubmitStage uploads every staged file to the OCR service. With the abort
// policy the first failed upload stops the run; with the skip policy the file
// is dropped and logged. Authentication and configuration errors abort under
// either policy.
type SubmitStage struct {
	Uploader backend.Uploader
	Policy   string
	Purpose  string
	Retry    backend.RetryPolicy
	Logger   *slog.Logger
}

func (s *SubmitStage) Name() string { return StageSubmit }

func (s *SubmitStage) Requires() []models.Field {
	return []models.Field{models.FieldLocalPaths, models.FieldLocalNames}
}

func (s *SubmitStage) Produces() []models.Field {
	return []models.Field{models.FieldUploadReceipts, models.FieldDropped}
}

func (s *SubmitStage) Run(ctx context.Context, rec models.Record) (models.Delta, error) {
	logCtx := loggerOr(s.Logger).With("stage", StageSubmit, "policy", s.policy())

	if len(rec.LocalPaths) != len(rec.LocalNames) {
		return models.Delta{}, backend.Malformed("submit", fmt.Errorf("local_paths has %d entries but local_names has %d", len(rec.LocalPaths), len(rec.LocalNames)))
	}

	purpose := s.Purpose
	if purpose == "" {
		purpose = backend.PurposeOCR
	}

	receipts := make([]models.Receipt, 0, len(rec.LocalPaths))
	var dropped []models.DroppedItem
	for i, path := range rec.LocalPaths {
		name := rec.LocalNames[i]
		receipt, err := s.uploadOne(ctx, path, name, purpose)
		if err != nil {
			itemErr := backend.NewItemError(backend.ItemUpload, name, err)
			if backend.IsFatal(err) || s.policy() == SubmitPolicyAbort {
				logCtx.Error("Upload failed, aborting run.", "name", name, "error", err)
				return models.Delta{}, itemErr
			}
			logCtx.Warn("Upload failed, skipping file.", "name", name, "error", err)
			dropped = append(dropped, models.DroppedItem{Stage: StageSubmit, Name: name, Reason: err.Error()})
			continue
		}
		if receipt.Name == "" {
			receipt.Name = name
		}
		receipts = append(receipts, receipt)
		logCtx.Info("Uploaded file.", "name", name, "receiptId", receipt.ID)
	}

	out := models.Record{
		UploadReceipts: receipts,
		Dropped:        appendDropped(rec.Dropped, dropped...),
	}
	return models.NewDelta(out, s.Produces()...), nil
}

func (s *SubmitStage) uploadOne(ctx context.Context, path, name, purpose string) (models.Receipt, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("could not read staged file %s: %w", path, err)
	}
	var receipt models.Receipt
	err = backend.Retry(ctx, s.Retry, "upload "+name, func(ctx context.Context) error {
		var err error
		receipt, err = s.Uploader.Upload(ctx, payload, name, purpose)
		return err
	})
	return receipt, err
}

func (s *SubmitStage) policy() string {
	if s.Policy == "" {
		return SubmitPolicyAbort
	}
	return s.Policy
}
