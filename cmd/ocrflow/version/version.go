package version

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X .../version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
)

var flagJSON bool

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if !flagJSON {
			_, err := fmt.Fprintf(out, "ocrflow %s (%s)\n", Version, Commit)
			return err
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"version": Version,
			"commit":  Commit,
			"go":      runtime.Version(),
			"go_os":   runtime.GOOS,
			"go_arch": runtime.GOARCH,
		})
	},
}

func init() {
	VersionCmd.Flags().BoolVar(&flagJSON, "json", false, "Print detailed JSON version info")
}
