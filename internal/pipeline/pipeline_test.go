package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

func produce(name string, needs, makes []models.Field, fn func(models.Record) models.Record) Stage {
	return StageFunc{
		StageName: name,
		Needs:     needs,
		Makes:     makes,
		Fn: func(_ context.Context, rec models.Record) (models.Delta, error) {
			return models.NewDelta(fn(rec), makes...), nil
		},
	}
}

func failing(name string, needs []models.Field, err error) Stage {
	return StageFunc{
		StageName: name,
		Needs:     needs,
		Fn: func(context.Context, models.Record) (models.Delta, error) {
			return models.Delta{}, err
		},
	}
}

func TestCompileChainOrder(t *testing.T) {
	a := produce("locate", nil, []models.Field{models.FieldFileNames}, func(models.Record) models.Record { return models.Record{} })
	b := produce("fetch", []models.Field{models.FieldFileNames}, []models.Field{models.FieldLocalPaths}, func(models.Record) models.Record { return models.Record{} })

	// Registration order is reversed to show the edges decide the order.
	plan, err := NewBuilder().AddStage(b).AddStage(a).AddEdge("locate", "fetch").Compile()
	require.NoError(t, err)
	assert.Equal(t, []string{"locate", "fetch"}, plan.Names())
}

func TestCompileRejectsCycle(t *testing.T) {
	a := produce("a", nil, nil, func(r models.Record) models.Record { return r })
	b := produce("b", nil, nil, func(r models.Record) models.Record { return r })
	_, err := NewBuilder().AddStage(a).AddStage(b).AddEdge("a", "b").AddEdge("b", "a").Compile()
	assert.ErrorIs(t, err, ErrCycle)
}

func TestCompileRejectsUnsatisfiedRequirement(t *testing.T) {
	fetch := produce("fetch", []models.Field{models.FieldFileIDs}, []models.Field{models.FieldLocalPaths}, func(r models.Record) models.Record { return r })
	_, err := NewBuilder().Chain(fetch).Compile()
	assert.ErrorIs(t, err, ErrUnsatisfied)

	plan, err := NewBuilder().Chain(fetch).Compile(models.FieldFileIDs)
	require.NoError(t, err, "seeded fields satisfy requirements")
	assert.Equal(t, []string{"fetch"}, plan.Names())
}

func TestCompileRejectsDuplicatesAndUnknownEdges(t *testing.T) {
	a := produce("a", nil, nil, func(r models.Record) models.Record { return r })
	_, err := NewBuilder().AddStage(a).AddStage(a).Compile()
	assert.ErrorContains(t, err, "duplicate stage")

	_, err = NewBuilder().AddStage(a).AddEdge("a", "missing").Compile()
	assert.ErrorContains(t, err, "unknown stage")
}

func TestRunnerMergesDeltasInOrder(t *testing.T) {
	locate := produce("locate", nil, []models.Field{models.FieldFileNames, models.FieldFileIDs}, func(models.Record) models.Record {
		return models.Record{FileNames: []string{"a.png", "b.pdf"}, FileIDs: []string{"id1", "id2"}}
	})
	fetch := produce("fetch", []models.Field{models.FieldFileNames}, []models.Field{models.FieldLocalPaths}, func(r models.Record) models.Record {
		var paths []string
		for _, n := range r.FileNames {
			paths = append(paths, "/stage/"+n)
		}
		return models.Record{LocalPaths: paths}
	})

	plan, err := NewBuilder().Chain(locate, fetch).Compile()
	require.NoError(t, err)

	rec, err := (&Runner{Plan: plan}).Run(context.Background(), models.Record{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.png", "b.pdf"}, rec.FileNames)
	assert.Equal(t, []string{"id1", "id2"}, rec.FileIDs)
	assert.Equal(t, []string{"/stage/a.png", "/stage/b.pdf"}, rec.LocalPaths)
}

func TestRunnerHaltsOnFirstFailure(t *testing.T) {
	cause := errors.New("search backend down")
	ran := false
	next := StageFunc{
		StageName: "fetch",
		Fn: func(context.Context, models.Record) (models.Delta, error) {
			ran = true
			return models.Delta{}, nil
		},
	}

	plan, err := NewBuilder().Chain(failing("locate", nil, cause), next).Compile()
	require.NoError(t, err)

	seed := models.Record{FileNames: []string{"seeded"}}
	rec, err := (&Runner{Plan: plan}).Run(context.Background(), seed)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "locate", se.Stage)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "locate", FailedStage(err))
	assert.Equal(t, []string{"seeded"}, se.Snapshot.FileNames)
	assert.Equal(t, []string{"seeded"}, rec.FileNames, "partial record is returned")
	assert.False(t, ran)
}

func TestRunnerRejectsUndeclaredFields(t *testing.T) {
	sneaky := StageFunc{
		StageName: "sneaky",
		Makes:     []models.Field{models.FieldLocalPaths},
		Fn: func(context.Context, models.Record) (models.Delta, error) {
			return models.NewDelta(models.Record{FileNames: []string{"x"}}, models.FieldFileNames), nil
		},
	}
	plan, err := NewBuilder().Chain(sneaky).Compile()
	require.NoError(t, err)

	rec, err := (&Runner{Plan: plan}).Run(context.Background(), models.Record{})
	assert.ErrorIs(t, err, ErrContract)
	assert.Nil(t, rec.FileNames)
}

func TestRunnerStageSeesPrivateCopy(t *testing.T) {
	mutator := StageFunc{
		StageName: "mutator",
		Needs:     []models.Field{models.FieldFileNames},
		Fn: func(_ context.Context, rec models.Record) (models.Delta, error) {
			rec.FileNames[0] = "mutated"
			return models.Delta{}, nil
		},
	}
	plan, err := NewBuilder().Chain(mutator).Compile(models.FieldFileNames)
	require.NoError(t, err)

	rec, err := (&Runner{Plan: plan}).Run(context.Background(), models.Record{FileNames: []string{"a.pdf"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.pdf"}, rec.FileNames)
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) StageStarted(_ context.Context, stage string, _ models.Record) {
	o.events = append(o.events, "start:"+stage)
}

func (o *recordingObserver) StageFinished(_ context.Context, stage string, _ models.Record) {
	o.events = append(o.events, "finish:"+stage)
}

func (o *recordingObserver) StageFailed(_ context.Context, stage string, _ models.Record, _ error) {
	o.events = append(o.events, "fail:"+stage)
}

func (o *recordingObserver) RunFinished(_ context.Context, _ models.Record, err error) {
	if err != nil {
		o.events = append(o.events, "run:failed")
		return
	}
	o.events = append(o.events, "run:ok")
}

func TestRunnerNotifiesObservers(t *testing.T) {
	ok := produce("locate", nil, nil, func(r models.Record) models.Record { return r })
	bad := failing("fetch", nil, errors.New("boom"))
	plan, err := NewBuilder().Chain(ok, bad).Compile()
	require.NoError(t, err)

	obs := &recordingObserver{}
	_, err = (&Runner{Plan: plan, Observer: Observers{obs, NopObserver{}}}).Run(context.Background(), models.Record{})
	require.Error(t, err)
	assert.Equal(t, []string{"start:locate", "finish:locate", "start:fetch", "fail:fetch", "run:failed"}, obs.events)
}

func TestRunnerStopsOnCancelledContext(t *testing.T) {
	ok := produce("locate", nil, nil, func(r models.Record) models.Record { return r })
	plan, err := NewBuilder().Chain(ok).Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&Runner{Plan: plan}).Run(ctx, models.Record{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "locate", FailedStage(err))
}
