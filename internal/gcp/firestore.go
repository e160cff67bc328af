package gcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/documentocrflow/internal/models"
	"github.com/Lllllllleong/documentocrflow/internal/pipeline"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
// It centralizes client creation for all services.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RunTracker records the progress of pipeline runs in a Firestore collection,
// one document per run keyed by run id.
type RunTracker struct {
	client     *firestore.Client
	collection string
}

// NewRunTracker returns a tracker writing to collection.
func NewRunTracker(client *firestore.Client, collection string) *RunTracker {
	return &RunTracker{client: client, collection: collection}
}

// Begin creates the run document and returns an observer that keeps it up
// to date.
func (t *RunTracker) Begin(ctx context.Context, runID, folder string) (pipeline.Observer, error) {
	docRef := t.client.Collection(t.collection).Doc(runID)
	now := time.Now()
	doc := models.RunDocument{
		RunID:     runID,
		Folder:    folder,
		Status:    models.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := docRef.Set(ctx, doc); err != nil {
		return nil, Classify("create run document", fmt.Errorf("failed to create run document: %w", err))
	}
	return &runObserver{docRef: docRef, logCtx: slog.With("runId", runID)}, nil
}

type runObserver struct {
	docRef *firestore.DocumentRef
	logCtx *slog.Logger
}

func (o *runObserver) StageStarted(ctx context.Context, stage string, _ models.Record) {
	o.update(ctx, []firestore.Update{{Path: "currentStage", Value: stage}})
}

func (o *runObserver) StageFinished(ctx context.Context, _ string, rec models.Record) {
	o.update(ctx, countUpdates(rec))
}

func (o *runObserver) StageFailed(context.Context, string, models.Record, error) {}

func (o *runObserver) RunFinished(ctx context.Context, rec models.Record, err error) {
	updates := countUpdates(rec)
	if err != nil {
		updates = append(updates,
			firestore.Update{Path: "status", Value: models.RunStatusFailed},
			firestore.Update{Path: "failedStage", Value: pipeline.FailedStage(err)},
			firestore.Update{Path: "errorDetails", Value: err.Error()},
		)
	} else {
		updates = append(updates, firestore.Update{Path: "status", Value: models.RunStatusCompleted})
	}
	// The final status is written even when the run was cancelled.
	o.update(context.WithoutCancel(ctx), updates)
}

func (o *runObserver) update(ctx context.Context, updates []firestore.Update) {
	updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now()})
	if _, err := o.docRef.Update(ctx, updates); err != nil {
		o.logCtx.Error("Failed to update run document.", "error", err)
	}
}

func countUpdates(rec models.Record) []firestore.Update {
	return []firestore.Update{
		{Path: "fileCount", Value: len(rec.FileNames)},
		{Path: "extractedCount", Value: len(rec.ExtractedTexts)},
		{Path: "droppedCount", Value: len(rec.Dropped)},
	}
}
