package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/ocrwatch/internal/version"
)

var (
	versionFormat   string
	versionShort    bool
	versionDetailed bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the version, git commit, build time, Go version and platform.

Examples:
  ocrwatch version              # Show version
  ocrwatch version --detailed   # Show detailed version info
  ocrwatch version --format json`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	addFormatFlag(versionCmd, &versionFormat, formatText, formatJSON, formatYAML)
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show the version number only")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	return printVersion(cmd.OutOrStdout(), versionFormat, versionShort, versionDetailed)
}

func printVersion(out io.Writer, format string, short, detailed bool) error {
	switch format {
	case formatJSON:
		return writeJSON(out, version.GetBuildInfo())
	case formatYAML:
		return writeYAML(out, version.GetBuildInfo())
	case formatText:
	default:
		return unsupportedFormat(format, formatText, formatJSON, formatYAML)
	}

	switch {
	case short:
		fmt.Fprintln(out, version.GetVersion())
	case detailed:
		fmt.Fprintln(out, version.GetDetailedVersion())
	default:
		line := "ocrwatch " + version.GetShortVersion()
		if version.IsDirty() {
			line += " (dirty)"
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
