package models

import "time"

// Run statuses stored on a RunDocument.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// RunDocument represents the Firestore record for one pipeline run.
// It tracks the overall status and where the run stopped.
type RunDocument struct {
	RunID          string    `firestore:"runId,omitempty"`
	Folder         string    `firestore:"folder,omitempty"`
	Status         string    `firestore:"status,omitempty"`
	CurrentStage   string    `firestore:"currentStage,omitempty"`
	FailedStage    string    `firestore:"failedStage,omitempty"`
	ErrorDetails   string    `firestore:"errorDetails,omitempty"`
	FileCount      int       `firestore:"fileCount,omitempty"`
	ExtractedCount int       `firestore:"extractedCount,omitempty"`
	DroppedCount   int       `firestore:"droppedCount,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt      time.Time `firestore:"updatedAt,omitempty"`
}
