package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/gcp"
	"github.com/Lllllllleong/documentocrflow/internal/mistral"
	"github.com/Lllllllleong/documentocrflow/internal/models"
	"github.com/Lllllllleong/documentocrflow/internal/pipeline"
)

// GCSEvent is the payload of a Cloud Storage object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// RunTracker creates a record of a run and returns the observer that keeps it
// current.
type RunTracker interface {
	Begin(ctx context.Context, runID, folder string) (pipeline.Observer, error)
}

// Notifier hands a completed run to a downstream system.
type Notifier interface {
	Notify(ctx context.Context, res *models.RunPipelineResponse) error
}

// Backends are the external systems a run talks to. Sink, Tracker and
// Notifier are optional. ObjectFetcher opens objects of the bucket named in
// a storage event; without it object events are rejected.
type Backends struct {
	Searcher      backend.Searcher
	Fetcher       backend.Fetcher
	ObjectFetcher func(bucket string) backend.Fetcher
	Validator     backend.Validator
	OCR           backend.OCRService
	Sink          backend.Sink
	Tracker       RunTracker
	Notifier      Notifier
}

// OCRPipelineFunction holds dependencies for the OCR pipeline.
type OCRPipelineFunction struct {
	config        *PipelineConfig
	backends      Backends
	storageClient *storage.Client
	closers       []io.Closer
}

// NewOCRPipeline creates an OCRPipelineFunction configured from the
// environment.
func NewOCRPipeline(ctx context.Context) (*OCRPipelineFunction, error) {
	cfg, err := LoadPipelineConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewOCRPipelineFromConfig(ctx, cfg)
}

// NewOCRTrigger creates an OCRPipelineFunction for storage events. The
// configuration must name a Cloud Storage source.
func NewOCRTrigger(ctx context.Context) (*OCRPipelineFunction, error) {
	cfg, err := LoadPipelineConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateEvents(); err != nil {
		return nil, err
	}
	return NewOCRPipelineFromConfig(ctx, cfg)
}

// NewOCRPipelineFromConfig creates the clients selected by cfg. cfg must
// already be validated.
func NewOCRPipelineFromConfig(ctx context.Context, cfg *PipelineConfig) (*OCRPipelineFunction, error) {
	f := &OCRPipelineFunction{config: cfg}
	if err := f.init(ctx); err != nil {
		_ = f.Close()
		return nil, err
	}
	slog.Info("OCR pipeline initialised.", "config", cfg.String())
	return f, nil
}

// NewOCRPipelineWithBackends wires an OCRPipelineFunction to caller-supplied
// backends.
func NewOCRPipelineWithBackends(cfg *PipelineConfig, b Backends) *OCRPipelineFunction {
	return &OCRPipelineFunction{config: cfg, backends: b}
}

func (f *OCRPipelineFunction) init(ctx context.Context) error {
	cfg := f.config

	if cfg.Source == SourceGCS || cfg.Provider == ProviderVertex || strings.HasPrefix(cfg.OutputDest, "gs://") {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("failed to create storage client: %w", err)
		}
		f.storageClient = client
		f.closers = append(f.closers, client)
		f.backends.ObjectFetcher = func(bucket string) backend.Fetcher {
			return gcp.NewStorageBackend(client, bucket, cfg.StagingBucket)
		}
	}

	switch cfg.Source {
	case SourceDrive:
		drive, err := gcp.NewDriveBackend(ctx, cfg.DriveCredentialsFile)
		if err != nil {
			return err
		}
		f.backends.Searcher, f.backends.Fetcher = drive, drive
	case SourceGCS:
		sb := gcp.NewStorageBackend(f.storageClient, cfg.SourceBucket, cfg.StagingBucket)
		f.backends.Searcher, f.backends.Fetcher = sb, sb
	}

	switch cfg.Provider {
	case ProviderMistral:
		client, err := mistral.NewClient(mistral.Config{
			BaseURL:              cfg.MistralBaseURL,
			APIKey:               cfg.MistralAPIKey,
			Model:                cfg.MistralModel,
			SignedURLExpiryHours: cfg.SignedURLExpiryHours,
		})
		if err != nil {
			return err
		}
		f.backends.OCR = client
	case ProviderVertex:
		vc, err := gcp.NewVertexClient(ctx, cfg.ProjectID, cfg.VertexAIRegion, cfg.VertexModel)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, vc)
		f.backends.OCR = gcp.VertexOCR{
			StorageBackend:  gcp.NewStorageBackend(f.storageClient, cfg.SourceBucket, cfg.StagingBucket),
			VertexExtractor: gcp.NewVertexExtractor(vc),
		}
	}

	f.backends.Validator = NewContentValidator(cfg.AllowedContentTypes)

	sink, err := NewSink(f.storageClient, cfg.OutputDest)
	if err != nil {
		return err
	}
	f.backends.Sink = sink

	if cfg.FirestoreCollection != "" {
		fs, err := gcp.NewFirestoreClient(ctx, cfg.ProjectID)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, fs)
		f.backends.Tracker = gcp.NewRunTracker(fs, cfg.FirestoreCollection)
	}
	if cfg.WorkflowID != "" {
		wf, err := gcp.NewWorkflowNotifier(ctx, cfg.ProjectID, cfg.WorkflowLocation, cfg.WorkflowID)
		if err != nil {
			return err
		}
		f.closers = append(f.closers, wf)
		f.backends.Notifier = wf
	}
	return nil
}

// Close releases every client created by NewOCRPipelineFromConfig.
func (f *OCRPipelineFunction) Close() error {
	var errs []error
	for i := len(f.closers) - 1; i >= 0; i-- {
		if err := f.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.closers = nil
	return errors.Join(errs...)
}

// Process runs locate, fetch, submit, resolve and extract over one folder and
// writes the extracted texts. On failure the response carries the failing
// stage and whatever was dropped or left pending before it.
func (f *OCRPipelineFunction) Process(ctx context.Context, req *models.RunPipelineRequest) (*models.RunPipelineResponse, error) {
	folder := req.Folder
	if folder == "" {
		folder = f.config.Folder
	}
	runID := uuid.NewString()
	res := &models.RunPipelineResponse{RunID: runID, Documents: []models.ExtractedDocument{}}
	if folder == "" {
		err := backend.Configuration("no folder given and FOLDER_NAME is not set")
		return failed(res, "", err), err
	}

	logCtx := slog.With("runId", runID, "folder", folder, "executionId", req.ExecutionID)
	logCtx.Info("Starting OCR pipeline run.")

	sink := f.backends.Sink
	if req.OutputDest != "" {
		var err error
		if sink, err = requestSink(f.storageClient, f.config.OutputDest, req.OutputDest); err != nil {
			logCtx.Warn("Rejected requested output destination.", "outputDest", req.OutputDest, "error", err)
			return failed(res, "", err), err
		}
	}

	stagingDir := filepath.Join(f.config.StagingDir, runID)
	locate := &LocateStage{Searcher: f.backends.Searcher, Folder: folder, Retry: f.config.RetryPolicy(), Logger: logCtx}
	stages := append([]pipeline.Stage{locate}, f.downstream(runID, stagingDir, f.backends.Fetcher, sink, logCtx)...)

	plan, err := pipeline.NewBuilder().Chain(stages...).Compile()
	if err != nil {
		logCtx.Error("Failed to compile pipeline.", "error", err)
		return failed(res, "", err), err
	}
	return f.run(ctx, logCtx, res, plan, models.Record{}, folder, stagingDir)
}

// ProcessObject runs fetch through output over a single uploaded object.
func (f *OCRPipelineFunction) ProcessObject(ctx context.Context, event GCSEvent) (*models.RunPipelineResponse, error) {
	runID := uuid.NewString()
	res := &models.RunPipelineResponse{RunID: runID, Documents: []models.ExtractedDocument{}}
	logCtx := slog.With("runId", runID, "gcsObject", event.Name, "gcsBucket", event.Bucket)

	if event.Name == "" || strings.HasSuffix(event.Name, "/") {
		logCtx.Info("Ignoring event without a file object.")
		res.Status = models.RunStatusCompleted
		return res, nil
	}
	logCtx.Info("Starting OCR run for uploaded object.")

	if f.backends.ObjectFetcher == nil {
		err := backend.Configuration("storage events need a Cloud Storage source (SOURCE=%s)", SourceGCS)
		logCtx.Error("Cannot fetch uploaded object.", "error", err)
		return failed(res, "", err), err
	}
	fetcher := f.backends.ObjectFetcher(event.Bucket)
	stagingDir := filepath.Join(f.config.StagingDir, runID)

	plan, err := pipeline.NewBuilder().
		Chain(f.downstream(runID, stagingDir, fetcher, f.backends.Sink, logCtx)...).
		Compile(models.FieldFileNames, models.FieldFileIDs)
	if err != nil {
		logCtx.Error("Failed to compile pipeline.", "error", err)
		return failed(res, "", err), err
	}

	seed := models.Record{
		FileNames: []string{path.Base(event.Name)},
		FileIDs:   []string{event.Name},
	}
	folder := fmt.Sprintf("gs://%s/%s", event.Bucket, path.Dir(event.Name))
	return f.run(ctx, logCtx, res, plan, seed, folder, stagingDir)
}

func (f *OCRPipelineFunction) downstream(runID, stagingDir string, fetcher backend.Fetcher, sink backend.Sink, logCtx *slog.Logger) []pipeline.Stage {
	retry := f.config.RetryPolicy()
	return []pipeline.Stage{
		&FetchStage{
			Fetcher:     fetcher,
			Validator:   f.backends.Validator,
			StagingDir:  stagingDir,
			Concurrency: f.config.FetchConcurrency,
			Retry:       retry,
			Logger:      logCtx,
		},
		&SubmitStage{Uploader: f.backends.OCR, Policy: f.config.SubmitFailurePolicy, Retry: retry, Logger: logCtx},
		&ResolveStage{
			Resolver:        f.backends.OCR,
			PendingAttempts: f.config.ResolvePendingAttempts,
			PendingDelay:    f.config.ResolvePendingDelay,
			Retry:           retry,
			Logger:          logCtx,
		},
		&ExtractStage{Extractor: f.backends.OCR, Retry: retry, Logger: logCtx},
		&OutputStage{Sink: sink, RunID: runID, Retry: retry, Logger: logCtx},
	}
}

func (f *OCRPipelineFunction) run(ctx context.Context, logCtx *slog.Logger, res *models.RunPipelineResponse, plan *pipeline.Plan, seed models.Record, folder, stagingDir string) (*models.RunPipelineResponse, error) {
	if f.config.CleanupStaging {
		defer func() {
			if err := os.RemoveAll(stagingDir); err != nil {
				logCtx.Warn("Failed to remove staging dir.", "stagingDir", stagingDir, "error", err)
			}
		}()
	}

	var observer pipeline.Observer = pipeline.NopObserver{}
	if f.backends.Tracker != nil {
		obs, err := f.backends.Tracker.Begin(ctx, res.RunID, folder)
		if err != nil {
			logCtx.Error("Failed to start run tracking.", "error", err)
			return failed(res, "", err), err
		}
		observer = obs
	}

	runner := &pipeline.Runner{
		Plan:         plan,
		Observer:     observer,
		Logger:       logCtx,
		StageTimeout: f.config.StageTimeout,
	}
	rec, err := runner.Run(ctx, seed)

	res.Dropped = rec.Dropped
	for _, p := range rec.Pending {
		res.Pending = append(res.Pending, p.Name)
	}
	if err != nil {
		logCtx.Error("OCR pipeline run failed.", "stage", pipeline.FailedStage(err), "error", err)
		return failed(res, pipeline.FailedStage(err), err), err
	}

	for i, name := range rec.ResolvedNames {
		doc := models.ExtractedDocument{Name: name, Text: rec.ExtractedTexts[i]}
		if i < len(rec.OutputURIs) {
			doc.OutputURI = rec.OutputURIs[i]
		}
		res.Documents = append(res.Documents, doc)
	}
	res.Status = models.RunStatusCompleted

	if f.backends.Notifier != nil {
		if err := f.backends.Notifier.Notify(ctx, res); err != nil {
			logCtx.Error("Failed to notify downstream workflow.", "error", err)
		}
	}
	logCtx.Info("OCR pipeline run complete.", "documents", len(res.Documents), "pending", len(res.Pending), "dropped", len(res.Dropped))
	return res, nil
}

func failed(res *models.RunPipelineResponse, stage string, err error) *models.RunPipelineResponse {
	res.Status = models.RunStatusFailed
	res.Stage = stage
	res.Error = err.Error()
	return res
}
