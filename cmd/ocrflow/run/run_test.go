package run

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/documentocrflow/internal/backend"
	"github.com/Lllllllleong/documentocrflow/internal/services"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	var ee runExitError
	require.True(t, errors.As(err, &ee), "expected a runExitError, got %v", err)
	return ee.ExitCode()
}

func TestRunWithoutFolderIsConfigError(t *testing.T) {
	t.Setenv("FOLDER_NAME", "")
	t.Setenv("MISTRAL_API_KEY", "k")

	out, err := execute(t)
	require.Error(t, err)
	assert.Equal(t, exitCodeConfig, exitCode(t, err))
	assert.Empty(t, out)
}

func TestRunWithoutAPIKeyIsConfigError(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")

	_, err := execute(t, "--folder", "Medical Records")
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrConfiguration)
	assert.Equal(t, exitCodeConfig, exitCode(t, err))
}

func TestRunWithBadConfigFileIsConfigError(t *testing.T) {
	_, err := execute(t, "--folder", "x", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, exitCodeConfig, exitCode(t, err))
}

func TestLoadConfigLayersFileThenFlags(t *testing.T) {
	t.Setenv("MISTRAL_API_KEY", "")
	t.Setenv("OCR_TOKEN", "from-custom-env")

	path := filepath.Join(t.TempDir(), "ocrflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("folder: From File\noutputDest: /from/file\nfetchConcurrency: 2\n"), 0o644))

	cmd := NewCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--config", path, "--output", "/from/flag", "--api-key-env", "OCR_TOKEN"}))
	opts := options{configPath: path, output: "/from/flag", apiKeyEnv: "OCR_TOKEN"}

	cfg, err := loadConfig(cmd, opts)
	require.NoError(t, err)
	assert.Equal(t, "From File", cfg.Folder)
	assert.Equal(t, "/from/flag", cfg.OutputDest)
	assert.Equal(t, 2, cfg.FetchConcurrency)
	assert.Equal(t, "from-custom-env", cfg.MistralAPIKey)
	assert.Equal(t, services.ProviderMistral, cfg.Provider)
}

func TestExitErrorCodes(t *testing.T) {
	assert.Equal(t, exitCodeConfig, exitError(backend.Configuration("x")).(runExitError).ExitCode())
	assert.Equal(t, exitCodeExecErr, exitError(backend.ErrBackendUnavailable).(runExitError).ExitCode())
}
