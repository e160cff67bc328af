package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// Stage names, in pipeline order.
const (
	StageLocate  = "locate"
	StageFetch   = "fetch"
	StageSubmit  = "submit"
	StageResolve = "resolve"
	StageExtract = "extract"
	StageOutput  = "output"
)

// LocateStage lists the documents of a folder. Any search failure aborts the
// run; an empty folder yields empty name and id lists.
type LocateStage struct {
	Searcher backend.Searcher
	Folder   string
	Retry    backend.RetryPolicy
	Logger   *slog.Logger
}

func (s *LocateStage) Name() string             { return StageLocate }
func (s *LocateStage) Requires() []models.Field { return nil }
func (s *LocateStage) Produces() []models.Field {
	return []models.Field{models.FieldFileNames, models.FieldFileIDs}
}

func (s *LocateStage) Run(ctx context.Context, _ models.Record) (models.Delta, error) {
	logCtx := loggerOr(s.Logger).With("stage", StageLocate, "folder", s.Folder)

	var items []backend.Item
	err := backend.Retry(ctx, s.Retry, "search "+s.Folder, func(ctx context.Context) error {
		var err error
		items, err = s.Searcher.Search(ctx, s.Folder)
		return err
	})
	if err != nil {
		return models.Delta{}, fmt.Errorf("search folder %q: %w", s.Folder, err)
	}

	names := make([]string, 0, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
		ids = append(ids, it.ID)
	}
	if len(items) == 0 {
		logCtx.Warn("No files found in folder.")
	} else {
		logCtx.Info("Located files.", "fileCount", len(items), "files", names)
	}

	return models.NewDelta(models.Record{FileNames: names, FileIDs: ids}, s.Produces()...), nil
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

// appendDropped returns a new slice holding prev followed by add.
func appendDropped(prev []models.DroppedItem, add ...models.DroppedItem) []models.DroppedItem {
	out := make([]models.DroppedItem, 0, len(prev)+len(add))
	out = append(out, prev...)
	return append(out, add...)
}
