package pipeline

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

var (
	// ErrCycle is returned by Compile when the edges form a cycle.
	ErrCycle = errors.New("pipeline has a cycle")
	// ErrUnsatisfied is returned by Compile when a stage requires a field that
	// nothing upstream produces.
	ErrUnsatisfied = errors.New("unsatisfied stage requirement")
	// ErrContract is returned by the Runner when a stage returns a field it
	// did not declare.
	ErrContract = errors.New("stage contract violation")
)

// StageError reports the stage that aborted a run. Snapshot is the record as
// it was when the stage failed.
type StageError struct {
	Stage    string
	Cause    error
	Snapshot models.Record
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error { return e.Cause }

// FailedStage returns the stage name carried by err, or "" when err is not a
// StageError.
func FailedStage(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
