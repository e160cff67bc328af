package root

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/documentocrflow/cmd/ocrflow/run"
	"github.com/Lllllllleong/documentocrflow/cmd/ocrflow/version"
)

var verbose bool

// NewRootCmd creates the root command for ocrflow.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocrflow",
		Short: "Locate documents in a folder, OCR them and write the extracted text",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			// Logs go to stderr so stdout carries only the JSON summary.
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	cmd.AddCommand(version.VersionCmd)
	cmd.AddCommand(run.Cmd)

	return cmd
}

// Execute runs the root command with provided args. SIGINT and SIGTERM cancel
// the run.
func Execute(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCmd()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}
