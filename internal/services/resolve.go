package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// ResolveStage turns upload receipts into retrievable URLs.
//
// A receipt without an id is dropped and logged. A receipt the backend
// reports as pending is polled PendingAttempts times and then parked in the
// pending field for a later run. Any other failure, including a malformed
// response, aborts the run: a file without a URL cannot be extracted.
type ResolveStage struct {
	Resolver        backend.Resolver
	PendingAttempts int
	PendingDelay    time.Duration
	Retry           backend.RetryPolicy
	Logger          *slog.Logger
}

func (s *ResolveStage) Name() string { return StageResolve }

func (s *ResolveStage) Requires() []models.Field {
	return []models.Field{models.FieldUploadReceipts}
}

func (s *ResolveStage) Produces() []models.Field {
	return []models.Field{models.FieldResolvedURLs, models.FieldResolvedNames, models.FieldPending, models.FieldDropped}
}

func (s *ResolveStage) Run(ctx context.Context, rec models.Record) (models.Delta, error) {
	logCtx := loggerOr(s.Logger).With("stage", StageResolve)

	out := models.Record{
		ResolvedURLs:  make([]string, 0, len(rec.UploadReceipts)),
		ResolvedNames: make([]string, 0, len(rec.UploadReceipts)),
		Pending:       []models.Receipt{},
	}
	var dropped []models.DroppedItem

	for _, receipt := range rec.UploadReceipts {
		if receipt.ID == "" {
			logCtx.Warn("Receipt has no id, dropping file.", "name", receipt.Name)
			dropped = append(dropped, models.DroppedItem{Stage: StageResolve, Name: receipt.Name, Reason: "receipt has no id"})
			continue
		}

		url, err := s.resolveOne(ctx, receipt)
		switch {
		case errors.Is(err, backend.ErrPending):
			logCtx.Warn("Receipt still pending, parking it.", "name", receipt.Name, "receiptId", receipt.ID)
			out.Pending = append(out.Pending, receipt)
			continue
		case err != nil:
			logCtx.Error("Resolve failed, aborting run.", "name", receipt.Name, "receiptId", receipt.ID, "error", err)
			return models.Delta{}, backend.NewItemError(backend.ItemResolve, receipt.Name, err)
		case url == "":
			err := backend.Malformed("resolve", fmt.Errorf("empty url for receipt %s", receipt.ID))
			logCtx.Error("Resolve returned no url, aborting run.", "name", receipt.Name, "receiptId", receipt.ID)
			return models.Delta{}, backend.NewItemError(backend.ItemResolve, receipt.Name, err)
		}

		out.ResolvedURLs = append(out.ResolvedURLs, url)
		out.ResolvedNames = append(out.ResolvedNames, receipt.Name)
	}
	out.Dropped = appendDropped(rec.Dropped, dropped...)

	logCtx.Info("Resolve complete.", "resolved", len(out.ResolvedURLs), "pending", len(out.Pending), "dropped", len(dropped))
	return models.NewDelta(out, s.Produces()...), nil
}

func (s *ResolveStage) resolveOne(ctx context.Context, receipt models.Receipt) (string, error) {
	polls := s.PendingAttempts
	if polls < 1 {
		polls = 1
	}
	var url string
	var err error
	for i := 0; i < polls; i++ {
		err = backend.Retry(ctx, s.Retry, "resolve "+receipt.Name, func(ctx context.Context) error {
			var err error
			url, err = s.Resolver.Resolve(ctx, receipt.ID)
			return err
		})
		if !errors.Is(err, backend.ErrPending) || i == polls-1 {
			break
		}
		select {
		case <-time.After(s.PendingDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return url, err
}
