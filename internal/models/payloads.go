package models

// These structs define the JSON payloads for HTTP requests and responses
// served by the ocr-pipeline function.

// RunPipelineRequest is the input for the ocr-pipeline function. Empty fields
// fall back to the function's configuration.
type RunPipelineRequest struct {
	Folder      string `json:"folder"`
	OutputDest  string `json:"outputDest,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

// ExtractedDocument pairs a source file name with its extracted text.
type ExtractedDocument struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	OutputURI string `json:"outputUri,omitempty"`
}

// RunPipelineResponse is the output of the ocr-pipeline function.
type RunPipelineResponse struct {
	Status    string              `json:"status"`
	RunID     string              `json:"runId"`
	Documents []ExtractedDocument `json:"documents"`
	Pending   []string            `json:"pending,omitempty"`
	Dropped   []DroppedItem       `json:"dropped,omitempty"`
	Error     string              `json:"error,omitempty"`
	Stage     string              `json:"stage,omitempty"`
}
