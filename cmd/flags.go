package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/ocrwatch/internal/config"
)

// Output formats accepted by the reporting commands.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTOML  = "toml"
	formatText  = "text"
)

// pipelineFlag maps a command-line flag onto a configuration key.
type pipelineFlag struct {
	name string
	key  string
}

var pipelineFlags = []pipelineFlag{
	{"input-dir", "input.dir"},
	{"output-dir", "output.dir"},
	{"suffix", "input.suffix"},
	{"recursive", "input.recursive"},
	{"initial-scan", "input.initial_scan"},
	{"workers", "workers.count"},
	{"drain-timeout", "workers.drain_timeout"},
	{"ocr-command", "ocr.command"},
	{"ocr-jobs", "ocr.jobs"},
	{"output-type", "ocr.output_type"},
	{"watch-mode", "watch.mode"},
	{"poll-interval", "watch.poll_interval"},
	{"readiness-timeout", "readiness.timeout"},
	{"log-level", "log.level"},
	{"log-format", "log.format"},
	{"log-dir", "log.dir"},
}

func addPipelineFlags(flags *pflag.FlagSet) {
	flags.StringP("input-dir", "i", "", "directory to watch for new files")
	flags.StringP("output-dir", "o", "", "directory for output pairs (default <input-dir>/base64)")
	flags.String("suffix", config.DefaultSuffix, "file extension to process")
	flags.BoolP("recursive", "r", false, "also watch subdirectories")
	flags.Bool("initial-scan", true, "process files already present at startup")
	flags.IntP("workers", "w", 0, "files processed concurrently (default half the CPUs)")
	flags.Duration("drain-timeout", config.DefaultDrainTimeout, "time allowed for in-flight files on shutdown")
	flags.String("ocr-command", config.DefaultOCRCommand, "ocrmypdf executable name or absolute path")
	flags.Int("ocr-jobs", config.AutoJobs, "ocrmypdf --jobs per file (-1 picks from the worker count, 0 uses every CPU)")
	flags.String("output-type", config.DefaultOutputType, "ocrmypdf output type (pdf or pdfa)")
	flags.String("watch-mode", config.DefaultWatchMode, "change detection: auto, event or poll")
	flags.Duration("poll-interval", config.DefaultPollInterval, "directory listing interval in poll mode")
	flags.Duration("readiness-timeout", config.DefaultReadinessTimeout, "give up on files that keep growing for this long")
	flags.StringP("log-level", "l", config.DefaultLogLevel, "log level (debug, info, warn, error)")
	flags.String("log-format", config.DefaultLogFormat, "log format (auto, json, text)")
	flags.String("log-dir", "", "also write JSON logs to a dated file in this directory")
	flags.Bool("poll", false, "shorthand for --watch-mode=poll")
	flags.Bool("no-ocr", false, "skip ocrmypdf and pass every file through unchanged")
}

func bindPipelineFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for _, f := range pipelineFlags {
		if err := v.BindPFlag(f.key, flags.Lookup(f.name)); err != nil {
			return fmt.Errorf("binding flag --%s: %w", f.name, err)
		}
	}
	return nil
}

// applyFlagOverrides handles the convenience flags that set a key to a fixed
// value.
func applyFlagOverrides(v *viper.Viper, flags *pflag.FlagSet) {
	if poll, err := flags.GetBool("poll"); err == nil && poll {
		v.Set("watch.mode", "poll")
	}
	if noOCR, err := flags.GetBool("no-ocr"); err == nil && noOCR {
		v.Set("ocr.enabled", false)
	}
}

// addFormatFlag adds --format/-f with the given choices, the first being the
// default.
func addFormatFlag(cmd *cobra.Command, target *string, choices ...string) {
	cmd.Flags().StringVarP(target, "format", "f", choices[0],
		fmt.Sprintf("Output format (%s)", strings.Join(choices, "|")))
}

func unsupportedFormat(format string, choices ...string) error {
	return fmt.Errorf("unsupported format: %s (supported: %s)", format, strings.Join(choices, ", "))
}
