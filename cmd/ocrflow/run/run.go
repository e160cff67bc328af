package run

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/models"
	"github.com/Lllllllleong/documentocrflow/internal/services"
)

const (
	exitCodeExecErr = 1
	exitCodeConfig  = 2
)

type runExitError struct {
	code int
	err  error
}

func (e runExitError) Error() string { return e.err.Error() }
func (e runExitError) ExitCode() int { return e.code }
func (e runExitError) Unwrap() error { return e.err }

func exitError(err error) error {
	if errors.Is(err, backend.ErrConfiguration) {
		return runExitError{code: exitCodeConfig, err: err}
	}
	return runExitError{code: exitCodeExecErr, err: err}
}

type options struct {
	folder      string
	output      string
	source      string
	provider    string
	credentials string
	apiKeyEnv   string
	configPath  string
}

// Cmd represents the `ocrflow run` command.
var Cmd = NewCmd()

// NewCmd builds a `run` command with its own flag set.
func NewCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:           "run",
		Short:         "Run the OCR pipeline over one folder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return exitError(err)
			}

			fn, err := services.NewOCRPipelineFromConfig(cmd.Context(), cfg)
			if err != nil {
				return exitError(err)
			}
			defer fn.Close()

			res, runErr := fn.Process(cmd.Context(), &models.RunPipelineRequest{Folder: cfg.Folder})
			if res != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil && runErr == nil {
					runErr = err
				}
			}
			if runErr != nil {
				return exitError(runErr)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.folder, "folder", "f", "", "Folder name (Drive) or object prefix (GCS) to process")
	f.StringVarP(&opts.output, "output", "o", "", "Output directory or gs://bucket/prefix for extracted texts")
	f.StringVar(&opts.source, "source", "", "Document source: drive or gcs")
	f.StringVar(&opts.provider, "provider", "", "OCR provider: mistral or vertex")
	f.StringVar(&opts.credentials, "credentials", "", "Credentials JSON file for Google Drive")
	f.StringVar(&opts.apiKeyEnv, "api-key-env", "MISTRAL_API_KEY", "Environment variable holding the OCR API key")
	f.StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file")
	return cmd
}

// loadConfig layers environment, config file and flags, in that order.
func loadConfig(cmd *cobra.Command, opts options) (*services.PipelineConfig, error) {
	cfg, err := services.LoadPipelineConfig()
	if err != nil {
		return nil, err
	}
	if opts.configPath != "" {
		if err := services.LoadPipelineConfigFile(cfg, opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("folder") {
		cfg.Folder = opts.folder
	}
	if flags.Changed("output") {
		cfg.OutputDest = opts.output
	}
	if flags.Changed("source") {
		cfg.Source = opts.source
	}
	if flags.Changed("provider") {
		cfg.Provider = opts.provider
	}
	if flags.Changed("credentials") {
		cfg.DriveCredentialsFile = opts.credentials
	}
	if flags.Changed("api-key-env") {
		cfg.MistralAPIKey = os.Getenv(opts.apiKeyEnv)
	}

	if cfg.Folder == "" {
		return nil, backend.Configuration("missing folder: pass --folder or set FOLDER_NAME")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
