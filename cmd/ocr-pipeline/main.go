package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
	"github.com/Lllllllleong/documentocrflow/internal/services"
)

var (
	pipelineInstance *services.OCRPipelineFunction
	once             sync.Once
	initErr          error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleRunPipeline", handleRunPipeline)
}

func main() {}

// handleRunPipeline runs the OCR pipeline over the requested folder and
// returns the run summary.
func handleRunPipeline(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		pipelineInstance, initErr = services.NewOCRPipeline(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical: OCR pipeline initialization failed", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	var req models.RunPipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Could not decode request body", "error", err)
		http.Error(w, "Bad Request: could not parse JSON", http.StatusBadRequest)
		return
	}

	res, err := pipelineInstance.Process(r.Context(), &req)
	code := http.StatusOK
	if err != nil {
		// Error is already logged with context in the Process method.
		code = http.StatusInternalServerError
		if errors.Is(err, backend.ErrConfiguration) {
			code = http.StatusBadRequest
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error(
			"Failed to write response",
			"error", err,
			"runId", res.RunID,
			"executionId", req.ExecutionID,
		)
	}
}
