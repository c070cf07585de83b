package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conneroisu/ocrwatch/internal/config"
	"github.com/conneroisu/ocrwatch/internal/ingest"
	"github.com/conneroisu/ocrwatch/internal/logging"
	"github.com/conneroisu/ocrwatch/internal/version"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Watch the input directory until interrupted",
	Long: `Watch the input directory and process every new file once it is complete.

Files already present are processed first unless --initial-scan=false is
given. On SIGINT or SIGTERM no new files are accepted; files already being
processed get up to --drain-timeout to finish.

Examples:
  ocrwatch watch -i /srv/scans
  ocrwatch watch -i /mnt/share/scans --poll --poll-interval 5s
  OCR_INPUT_DIRECTORY=/srv/scans OCR_WORKERS=4 ocrwatch watch`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, closeLog, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logConfigWarnings(ctx, logger, cfg)

	handler, err := ingest.NewFromConfig(cfg, ingest.WithLogger(logger))
	if err != nil {
		return err
	}

	mode, reason := cfg.EffectiveWatchMode()
	logger.Info(ctx, "starting ocrwatch",
		"version", version.GetShortVersion(),
		"watch_mode", mode,
		"reason", reason)

	return handler.Run(ctx)
}

func logConfigWarnings(ctx context.Context, logger logging.Logger, cfg *config.Config) {
	for _, warning := range cfg.Validation().Warnings {
		logger.Warn(ctx, nil, "configuration warning",
			"field", warning.Field,
			"message", warning.Message)
	}
}
