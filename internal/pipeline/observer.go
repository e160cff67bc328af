package pipeline

import (
	"context"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// Observer is notified as a run progresses. Implementations must not block
// for long; they run on the pipeline's goroutine.
type Observer interface {
	StageStarted(ctx context.Context, stage string, rec models.Record)
	StageFinished(ctx context.Context, stage string, rec models.Record)
	StageFailed(ctx context.Context, stage string, rec models.Record, err error)
	RunFinished(ctx context.Context, rec models.Record, err error)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) StageStarted(context.Context, string, models.Record)       {}
func (NopObserver) StageFinished(context.Context, string, models.Record)      {}
func (NopObserver) StageFailed(context.Context, string, models.Record, error) {}
func (NopObserver) RunFinished(context.Context, models.Record, error)         {}

// Observers fans events out to several observers in order.
type Observers []Observer

func (o Observers) StageStarted(ctx context.Context, stage string, rec models.Record) {
	for _, obs := range o {
		obs.StageStarted(ctx, stage, rec)
	}
}

func (o Observers) StageFinished(ctx context.Context, stage string, rec models.Record) {
	for _, obs := range o {
		obs.StageFinished(ctx, stage, rec)
	}
}

func (o Observers) StageFailed(ctx context.Context, stage string, rec models.Record, err error) {
	for _, obs := range o {
		obs.StageFailed(ctx, stage, rec, err)
	}
}

func (o Observers) RunFinished(ctx context.Context, rec models.Record, err error) {
	for _, obs := range o {
		obs.RunFinished(ctx, rec, err)
	}
}
