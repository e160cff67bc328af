package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

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

	functions.CloudEvent("OCROnUpload", ocrOnUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// ocrOnUpload runs fetch through extract over an object finalized in the
// source bucket.
func ocrOnUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		pipelineInstance, initErr = services.NewOCRTrigger(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent services.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed so it is retried.
	_, err := pipelineInstance.ProcessObject(ctx, gcsEvent)
	return err
}
