package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// Runner drives a Plan from a seed record to completion or to the first
// stage error. Stages run one at a time; nothing is rolled back on failure.
type Runner struct {
	Plan     *Plan
	Observer Observer
	Logger   *slog.Logger
	// StageTimeout bounds each stage when positive.
	StageTimeout time.Duration
}

// Run executes the plan. On failure it returns the record as populated so far
// together with a *StageError naming the failing stage.
func (r *Runner) Run(ctx context.Context, seed models.Record) (models.Record, error) {
	obs := r.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	logCtx := r.Logger
	if logCtx == nil {
		logCtx = slog.Default()
	}

	rec := seed.Clone()
	for _, s := range r.Plan.stages {
		name := s.Name()
		stageLog := logCtx.With("stage", name)

		if err := ctx.Err(); err != nil {
			return r.fail(ctx, obs, stageLog, name, rec, err)
		}

		obs.StageStarted(ctx, name, rec.Clone())
		stageLog.Info("Stage started.")
		start := time.Now()

		delta, err := r.runStage(ctx, s, rec.Clone())
		if err != nil {
			return r.fail(ctx, obs, stageLog, name, rec, err)
		}
		if err := checkDelta(s, delta); err != nil {
			return r.fail(ctx, obs, stageLog, name, rec, err)
		}

		rec.Apply(delta)
		stageLog.Info("Stage finished.", "fields", delta.Names(), "duration", time.Since(start).String())
		obs.StageFinished(ctx, name, rec.Clone())
	}

	obs.RunFinished(ctx, rec.Clone(), nil)
	return rec, nil
}

func (r *Runner) runStage(ctx context.Context, s Stage, view models.Record) (models.Delta, error) {
	if r.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.StageTimeout)
		defer cancel()
	}
	return s.Run(ctx, view)
}

func (r *Runner) fail(ctx context.Context, obs Observer, logCtx *slog.Logger, stage string, rec models.Record, cause error) (models.Record, error) {
	se := &StageError{Stage: stage, Cause: cause, Snapshot: rec.Clone()}
	logCtx.Error("Stage failed, halting run.", "error", cause, "present", rec.Present())
	obs.StageFailed(ctx, stage, rec.Clone(), se)
	obs.RunFinished(ctx, rec.Clone(), se)
	return rec, se
}

func checkDelta(s Stage, d models.Delta) error {
	declared := map[models.Field]bool{}
	for _, f := range s.Produces() {
		declared[f] = true
	}
	for _, f := range d.Fields {
		if !declared[f] {
			return fmt.Errorf("%w: %s returned undeclared field %q", ErrContract, s.Name(), f)
		}
	}
	return nil
}
