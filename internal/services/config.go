package services

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/gcp"
)

// Sources and OCR providers selectable by configuration.
const (
	SourceDrive = "drive"
	SourceGCS   = "gcs"

	ProviderMistral = "mistral"
	ProviderVertex  = "vertex"

	SubmitPolicyAbort = "abort"
	SubmitPolicySkip  = "skip"
)

// PipelineConfig holds all configuration for the OCR pipeline.
type PipelineConfig struct {
	Source               string `yaml:"source"`
	SourceBucket         string `yaml:"sourceBucket"`
	DriveCredentialsFile string `yaml:"driveCredentialsFile"`
	Folder               string `yaml:"folder"`

	Provider             string `yaml:"provider"`
	MistralAPIKey        string `yaml:"-"`
	MistralBaseURL       string `yaml:"mistralBaseUrl"`
	MistralModel         string `yaml:"mistralModel"`
	SignedURLExpiryHours int    `yaml:"signedUrlExpiryHours"`

	ProjectID      string `yaml:"projectId"`
	VertexAIRegion string `yaml:"vertexAiRegion"`
	VertexModel    string `yaml:"vertexModel"`
	StagingBucket  string `yaml:"stagingBucket"`

	StagingDir     string `yaml:"stagingDir"`
	CleanupStaging bool   `yaml:"cleanupStaging"`
	OutputDest     string `yaml:"outputDest"`

	FetchConcurrency       int           `yaml:"fetchConcurrency"`
	MaxAttempts            int           `yaml:"maxAttempts"`
	CallTimeout            time.Duration `yaml:"callTimeout"`
	RetryBackoff           time.Duration `yaml:"retryBackoff"`
	StageTimeout           time.Duration `yaml:"stageTimeout"`
	SubmitFailurePolicy    string        `yaml:"submitFailurePolicy"`
	ResolvePendingAttempts int           `yaml:"resolvePendingAttempts"`
	ResolvePendingDelay    time.Duration `yaml:"resolvePendingDelay"`
	AllowedContentTypes    []string      `yaml:"allowedContentTypes"`

	FirestoreCollection string `yaml:"firestoreCollection"`
	WorkflowID          string `yaml:"workflowId"`
	WorkflowLocation    string `yaml:"workflowLocation"`
}

// LoadPipelineConfig reads the configuration from environment variables.
// It does not validate; call Validate once all overrides are applied.
func LoadPipelineConfig() (*PipelineConfig, error) {
	cfg := &PipelineConfig{
		Source:               gcp.GetEnv("SOURCE", SourceDrive),
		SourceBucket:         gcp.GetEnv("SOURCE_BUCKET", ""),
		DriveCredentialsFile: gcp.GetEnv("DRIVE_CREDENTIALS_FILE", ""),
		Folder:               gcp.GetEnv("FOLDER_NAME", ""),
		Provider:             gcp.GetEnv("OCR_PROVIDER", ProviderMistral),
		MistralAPIKey:        gcp.GetEnv("MISTRAL_API_KEY", ""),
		MistralBaseURL:       gcp.GetEnv("MISTRAL_BASE_URL", "https://api.mistral.ai"),
		MistralModel:         gcp.GetEnv("MISTRAL_OCR_MODEL", "mistral-ocr-latest"),
		ProjectID:            gcp.GetEnv("PROJECT_ID", ""),
		VertexAIRegion:       gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		VertexModel:          gcp.GetEnv("VERTEX_OCR_MODEL", "gemini-1.5-pro"),
		StagingBucket:        gcp.GetEnv("STAGING_BUCKET", ""),
		StagingDir:           gcp.GetEnv("STAGING_DIR", os.TempDir()),
		OutputDest:           gcp.GetEnv("OUTPUT_DEST", ""),
		SubmitFailurePolicy:  gcp.GetEnv("SUBMIT_FAILURE_POLICY", SubmitPolicyAbort),
		FirestoreCollection:  gcp.GetEnv("FIRESTORE_COLLECTION", ""),
		WorkflowID:           gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:     gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
		AllowedContentTypes:  splitList(gcp.GetEnv("ALLOWED_CONTENT_TYPES", "application/pdf,image/png,image/jpeg")),
	}

	var err error
	if cfg.SignedURLExpiryHours, err = envInt("SIGNED_URL_EXPIRY_HOURS", 24); err != nil {
		return nil, err
	}
	if cfg.FetchConcurrency, err = envInt("FETCH_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = envInt("MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.ResolvePendingAttempts, err = envInt("RESOLVE_PENDING_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.CallTimeout, err = envDuration("CALL_TIMEOUT", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = envDuration("RETRY_BACKOFF", time.Second); err != nil {
		return nil, err
	}
	if cfg.StageTimeout, err = envDuration("STAGE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.ResolvePendingDelay, err = envDuration("RESOLVE_PENDING_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.CleanupStaging, err = strconv.ParseBool(gcp.GetEnv("CLEANUP_STAGING", "false")); err != nil {
		return nil, backend.Configuration("CLEANUP_STAGING: %v", err)
	}
	return cfg, nil
}

// LoadPipelineConfigFile overlays the YAML file at path onto cfg. Keys absent
// from the file keep their current value. Credentials are never read from
// the file.
func LoadPipelineConfigFile(cfg *PipelineConfig, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return backend.Configuration("read config file %s: %v", path, err)
	}
	apiKey := cfg.MistralAPIKey
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return backend.Configuration("parse config file %s: %v", path, err)
	}
	cfg.MistralAPIKey = apiKey
	return nil
}

// Validate checks that every setting required by the selected source and
// provider is present.
func (c *PipelineConfig) Validate() error {
	switch c.Source {
	case SourceDrive:
	case SourceGCS:
		if c.SourceBucket == "" {
			return backend.Configuration("SOURCE_BUCKET must be set when SOURCE=%s", SourceGCS)
		}
	default:
		return backend.Configuration("unknown SOURCE %q", c.Source)
	}

	switch c.Provider {
	case ProviderMistral:
		if c.MistralAPIKey == "" {
			return backend.Configuration("MISTRAL_API_KEY must be set when OCR_PROVIDER=%s", ProviderMistral)
		}
	case ProviderVertex:
		if c.ProjectID == "" || c.StagingBucket == "" {
			return backend.Configuration("PROJECT_ID and STAGING_BUCKET must be set when OCR_PROVIDER=%s", ProviderVertex)
		}
	default:
		return backend.Configuration("unknown OCR_PROVIDER %q", c.Provider)
	}

	if (c.FirestoreCollection != "" || c.WorkflowID != "") && c.ProjectID == "" {
		return backend.Configuration("PROJECT_ID must be set for run tracking and workflow hand-off")
	}
	switch c.SubmitFailurePolicy {
	case SubmitPolicyAbort, SubmitPolicySkip:
	default:
		return backend.Configuration("SUBMIT_FAILURE_POLICY must be %q or %q", SubmitPolicyAbort, SubmitPolicySkip)
	}
	if c.FetchConcurrency < 1 || c.MaxAttempts < 1 {
		return backend.Configuration("FETCH_CONCURRENCY and MAX_ATTEMPTS must be positive")
	}
	if c.StagingDir == "" {
		return backend.Configuration("STAGING_DIR must not be empty")
	}
	return nil
}

// ValidateEvents runs Validate and also requires a Cloud Storage source, so
// object events can be fetched from the bucket that raised them.
func (c *PipelineConfig) ValidateEvents() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source != SourceGCS {
		return backend.Configuration("storage events need SOURCE=%s, got %q", SourceGCS, c.Source)
	}
	return nil
}

// RetryPolicy returns the per-call retry settings.
func (c *PipelineConfig) RetryPolicy() backend.RetryPolicy {
	return backend.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Backoff:     c.RetryBackoff,
		Timeout:     c.CallTimeout,
	}
}

func envInt(key string, fallback int) (int, error) {
	v := gcp.GetEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, backend.Configuration("%s: %v", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := gcp.GetEnv(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, backend.Configuration("%s: %v", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// String renders the configuration for logs without the credential.
func (c *PipelineConfig) String() string {
	return fmt.Sprintf("source=%s provider=%s folder=%q output=%q", c.Source, c.Provider, c.Folder, c.OutputDest)
}
