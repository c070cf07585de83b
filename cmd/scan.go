package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/ingest"
)

var (
	scanFormat string
	scanStrict bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Process the files already in the input directory and exit",
	Long: `Process every matching file currently in the input directory, wait for all
of them to finish and print a summary. Files that arrive while the scan runs
are left for the next scan or for "ocrwatch watch".

Examples:
  ocrwatch scan -i ./inbox
  ocrwatch scan -i ./inbox --no-ocr --format json
  ocrwatch scan -i ./inbox --strict   # exit non-zero if any file failed`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	addFormatFlag(scanCmd, &scanFormat, formatTable, formatJSON, formatYAML)
	scanCmd.Flags().BoolVar(&scanStrict, "strict", false, "Exit with an error when any file failed")
}

// scanReport is the serialized form of a scan summary.
type scanReport struct {
	Input          string          `json:"input" yaml:"input"`
	Output         string          `json:"output" yaml:"output"`
	Processor      string          `json:"processor" yaml:"processor"`
	Found          int             `json:"found" yaml:"found"`
	Completed      int64           `json:"completed" yaml:"completed"`
	Transformed    int64           `json:"transformed" yaml:"transformed"`
	PassedThrough  int64           `json:"passed_through" yaml:"passed_through"`
	Failed         int             `json:"failed" yaml:"failed"`
	BytesProcessed int64           `json:"bytes_processed" yaml:"bytes_processed"`
	Duration       string          `json:"duration" yaml:"duration"`
	Failures       []failureReport `json:"failures,omitempty" yaml:"failures,omitempty"`
}

type failureReport struct {
	Path  string    `json:"path" yaml:"path"`
	Type  string    `json:"type" yaml:"type"`
	Error string    `json:"error" yaml:"error"`
	At    time.Time `json:"at" yaml:"at"`
}

func newScanReport(h *ingest.Handler, summary ingest.Summary) scanReport {
	report := scanReport{
		Input:          h.InputDir(),
		Output:         h.OutputDir(),
		Processor:      h.Capability().Command,
		Found:          summary.Found,
		Completed:      summary.Completed,
		Transformed:    summary.Transformed,
		PassedThrough:  summary.PassedThrough,
		Failed:         summary.Failed,
		BytesProcessed: summary.BytesProcessed,
		Duration:       summary.Duration.Round(time.Millisecond).String(),
	}
	if !h.Capability().Available {
		report.Processor = "passthrough"
	}
	for _, f := range summary.Failures {
		report.Failures = append(report.Failures, newFailureReport(f))
	}
	return report
}

func newFailureReport(f ingesterrors.Failure) failureReport {
	msg := ""
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return failureReport{Path: f.Path, Type: string(f.Type), Error: msg, At: f.Timestamp}
}

func runScan(cmd *cobra.Command, args []string) error {
	switch scanFormat {
	case formatTable, formatJSON, formatYAML:
	default:
		return unsupportedFormat(scanFormat, formatTable, formatJSON, formatYAML)
	}

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

	summary, scanErr := handler.ProcessExisting(ctx)
	if scanErr != nil && ctx.Err() == nil {
		return scanErr
	}

	report := newScanReport(handler, summary)
	if err := printScanReport(cmd.OutOrStdout(), report, scanFormat); err != nil {
		return err
	}

	if scanErr != nil {
		return fmt.Errorf("scan interrupted: %w", scanErr)
	}
	if scanStrict && report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, report.Found)
	}
	return nil
}

func printScanReport(out io.Writer, report scanReport, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(out, report)
	case formatYAML:
		return writeYAML(out, report)
	}

	rows := [][]string{
		{"Input", report.Input},
		{"Output", report.Output},
		{"Processor", report.Processor},
		{"Found", strconv.Itoa(report.Found)},
		{"Completed", strconv.FormatInt(report.Completed, 10)},
		{"Transformed", strconv.FormatInt(report.Transformed, 10)},
		{"Passed through", strconv.FormatInt(report.PassedThrough, 10)},
		{"Failed", strconv.Itoa(report.Failed)},
		{"Bytes", humanize.Bytes(uint64(report.BytesProcessed))},
		{"Duration", report.Duration},
	}
	fmt.Fprintln(out, renderTable(out, []string{"Scan", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	if len(report.Failures) == 0 {
		return nil
	}
	failureRows := make([][]string, 0, len(report.Failures))
	for _, f := range report.Failures {
		failureRows = append(failureRows, []string{f.Path, f.Type, f.Error, humanize.Time(f.At)})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(out, []string{"File", "Type", "Error", "When"}, failureRows, nil))
	return nil
}
