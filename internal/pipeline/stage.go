// Package pipeline wires named stages into an ordered plan and runs them over
// a shared models.Record.
package pipeline

import (
	"context"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// Stage is one unit of pipeline work. Run receives a private copy of the
// record and returns only the fields it produces.
type Stage interface {
	Name() string
	Requires() []models.Field
	Produces() []models.Field
	Run(ctx context.Context, rec models.Record) (models.Delta, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Needs     []models.Field
	Makes     []models.Field
	Fn        func(ctx context.Context, rec models.Record) (models.Delta, error)
}

func (s StageFunc) Name() string             { return s.StageName }
func (s StageFunc) Requires() []models.Field { return s.Needs }
func (s StageFunc) Produces() []models.Field { return s.Makes }
func (s StageFunc) Run(ctx context.Context, rec models.Record) (models.Delta, error) {
	return s.Fn(ctx, rec)
}
