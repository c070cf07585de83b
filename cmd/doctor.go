package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/conneroisu/ocrwatch/internal/config"
	"github.com/conneroisu/ocrwatch/internal/ingest"
	"github.com/conneroisu/ocrwatch/internal/processor"
	"github.com/conneroisu/ocrwatch/internal/version"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose the configuration and the OCR toolchain",
	Long: `Check everything ocrwatch needs before it starts watching:

- The configuration loads and validates
- The input directory exists and is readable
- The output directory can be created and written
- ocrmypdf, tesseract and ghostscript are installed
- Which watch mode will be used and why
- Whether another instance holds the output directory lock

Examples:
  ocrwatch doctor -i ./inbox
  ocrwatch doctor -i ./inbox --format json`,
	RunE: runDoctor,
}

var doctorFormat string

// Diagnostic statuses.
const (
	statusOK      = "ok"
	statusWarning = "warning"
	statusError   = "error"
	statusInfo    = "info"
)

// DiagnosticResult represents the result of a diagnostic check
type DiagnosticResult struct {
	Name       string `json:"name" yaml:"name"`
	Status     string `json:"status" yaml:"status"`
	Message    string `json:"message" yaml:"message"`
	Suggestion string `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// DoctorReport represents the complete diagnostic report
type DoctorReport struct {
	Timestamp   time.Time          `json:"timestamp" yaml:"timestamp"`
	Environment map[string]string  `json:"environment" yaml:"environment"`
	Results     []DiagnosticResult `json:"results" yaml:"results"`
	Summary     ReportSummary      `json:"summary" yaml:"summary"`
}

// ReportSummary provides an overview of diagnostic results
type ReportSummary struct {
	Total    int `json:"total" yaml:"total"`
	OK       int `json:"ok" yaml:"ok"`
	Warnings int `json:"warnings" yaml:"warnings"`
	Errors   int `json:"errors" yaml:"errors"`
	Info     int `json:"info" yaml:"info"`
}

func init() {
	rootCmd.AddCommand(doctorCmd)

	addFormatFlag(doctorCmd, &doctorFormat, formatTable, formatJSON, formatYAML)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	switch doctorFormat {
	case formatTable, formatJSON, formatYAML:
	default:
		return unsupportedFormat(doctorFormat, formatTable, formatJSON, formatYAML)
	}

	cfg, err := loadConfig(cmd)
	report := diagnose(cmd.Context(), cfg, err)

	if err := printDoctorReport(cmd.OutOrStdout(), report, doctorFormat); err != nil {
		return err
	}
	if report.Summary.Errors > 0 {
		return fmt.Errorf("%d check(s) failed", report.Summary.Errors)
	}
	return nil
}

// diagnose runs every check. A nil cfg means the configuration did not load;
// loadErr explains why and the remaining checks are skipped.
func diagnose(ctx context.Context, cfg *config.Config, loadErr error) *DoctorReport {
	report := &DoctorReport{
		Timestamp:   time.Now(),
		Environment: gatherEnvironmentInfo(),
	}

	if cfg == nil {
		msg := "configuration could not be loaded"
		if loadErr != nil {
			msg = loadErr.Error()
		}
		report.Results = append(report.Results, DiagnosticResult{
			Name:       "configuration",
			Status:     statusError,
			Message:    msg,
			Suggestion: "set --input-dir or OCR_INPUT_DIRECTORY to an existing directory",
		})
		report.Summary = calculateSummary(report.Results)
		return report
	}

	checks := []func(context.Context, *config.Config) []DiagnosticResult{
		checkConfiguration,
		checkInputDirectory,
		checkOutputDirectory,
		checkOCRTool,
		checkWatchMode,
		checkOutputLock,
	}
	for _, check := range checks {
		report.Results = append(report.Results, check(ctx, cfg)...)
	}
	report.Summary = calculateSummary(report.Results)
	return report
}

func gatherEnvironmentInfo() map[string]string {
	return map[string]string{
		"version":  version.GetShortVersion(),
		"go":       runtime.Version(),
		"platform": runtime.GOOS + "/" + runtime.GOARCH,
		"cpus":     fmt.Sprint(runtime.NumCPU()),
	}
}

func checkConfiguration(_ context.Context, cfg *config.Config) []DiagnosticResult {
	validation := cfg.Validation()
	if !validation.HasWarnings() {
		return []DiagnosticResult{{Name: "configuration", Status: statusOK, Message: "configuration is valid"}}
	}

	results := make([]DiagnosticResult, 0, len(validation.Warnings))
	for _, warning := range validation.Warnings {
		result := DiagnosticResult{
			Name:    "configuration: " + warning.Field,
			Status:  statusWarning,
			Message: warning.Message,
		}
		if len(warning.Suggestions) > 0 {
			result.Suggestion = warning.Suggestions[0]
		}
		results = append(results, result)
	}
	return results
}

func checkInputDirectory(_ context.Context, cfg *config.Config) []DiagnosticResult {
	entries, err := os.ReadDir(cfg.Input.Dir)
	if err != nil {
		return []DiagnosticResult{{
			Name:       "input directory",
			Status:     statusError,
			Message:    fmt.Sprintf("cannot list %s: %v", cfg.Input.Dir, err),
			Suggestion: "check the directory permissions",
		}}
	}

	pending := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), cfg.Input.Suffix) {
			pending++
		}
	}
	return []DiagnosticResult{{
		Name:    "input directory",
		Status:  statusOK,
		Message: fmt.Sprintf("%s is readable, %d %s file(s) present", cfg.Input.Dir, pending, cfg.Input.Suffix),
	}}
}

func checkOutputDirectory(_ context.Context, cfg *config.Config) []DiagnosticResult {
	dir := cfg.Output.Dir
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		parent := filepath.Dir(dir)
		if err := probeWritable(parent); err != nil {
			return []DiagnosticResult{{
				Name:       "output directory",
				Status:     statusError,
				Message:    fmt.Sprintf("%s does not exist and %s is not writable: %v", dir, parent, err),
				Suggestion: "create the output directory or choose another with --output-dir",
			}}
		}
		return []DiagnosticResult{{
			Name:    "output directory",
			Status:  statusInfo,
			Message: fmt.Sprintf("%s will be created on start", dir),
		}}
	}

	if err := probeWritable(dir); err != nil {
		return []DiagnosticResult{{
			Name:       "output directory",
			Status:     statusError,
			Message:    fmt.Sprintf("%s is not writable: %v", dir, err),
			Suggestion: "check the directory permissions",
		}}
	}
	return []DiagnosticResult{{Name: "output directory", Status: statusOK, Message: dir + " is writable"}}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".ocrwatch-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func checkOCRTool(ctx context.Context, cfg *config.Config) []DiagnosticResult {
	if !cfg.OCR.Enabled {
		return []DiagnosticResult{{
			Name:    "ocrmypdf",
			Status:  statusInfo,
			Message: "OCR disabled, files are passed through unchanged",
		}}
	}

	results := make([]DiagnosticResult, 0, 3)
	capability := processor.Probe(ctx, cfg.OCR.Command)
	if capability.Available {
		results = append(results, DiagnosticResult{
			Name:    "ocrmypdf",
			Status:  statusOK,
			Message: fmt.Sprintf("%s %s", capability.Path, capability.Version),
		})
	} else {
		results = append(results, DiagnosticResult{
			Name:       "ocrmypdf",
			Status:     statusWarning,
			Message:    capability.Detail + ", files will be passed through unchanged",
			Suggestion: "install ocrmypdf (pip install ocrmypdf) or set --ocr-command",
		})
	}

	// Runtime dependencies of ocrmypdf.
	for _, tool := range []string{"tesseract", "gs"} {
		path, err := exec.LookPath(tool)
		if err != nil {
			results = append(results, DiagnosticResult{
				Name:       tool,
				Status:     statusWarning,
				Message:    tool + " not found in PATH",
				Suggestion: "ocrmypdf needs " + tool + " to process documents",
			})
			continue
		}
		results = append(results, DiagnosticResult{Name: tool, Status: statusOK, Message: path})
	}
	return results
}

func checkWatchMode(_ context.Context, cfg *config.Config) []DiagnosticResult {
	mode, reason := cfg.EffectiveWatchMode()
	message := fmt.Sprintf("%s (%s)", mode, reason)
	if mode == "poll" {
		message += fmt.Sprintf(", listing every %s", cfg.Watch.PollInterval)
	}
	return []DiagnosticResult{{Name: "watch mode", Status: statusInfo, Message: message}}
}

func checkOutputLock(_ context.Context, cfg *config.Config) []DiagnosticResult {
	path := filepath.Join(cfg.Output.Dir, ingest.LockFileName)
	if _, err := os.Stat(cfg.Output.Dir); err != nil {
		return []DiagnosticResult{{Name: "instance lock", Status: statusOK, Message: "no instance running"}}
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return []DiagnosticResult{{
			Name:    "instance lock",
			Status:  statusWarning,
			Message: fmt.Sprintf("cannot check %s: %v", path, err),
		}}
	}
	if !locked {
		return []DiagnosticResult{{
			Name:       "instance lock",
			Status:     statusError,
			Message:    "another ocrwatch instance is writing to " + cfg.Output.Dir,
			Suggestion: "stop the other instance or choose another --output-dir",
		}}
	}
	_ = lock.Unlock()
	return []DiagnosticResult{{Name: "instance lock", Status: statusOK, Message: "no instance running"}}
}

func calculateSummary(results []DiagnosticResult) ReportSummary {
	summary := ReportSummary{Total: len(results)}
	for _, result := range results {
		switch result.Status {
		case statusOK:
			summary.OK++
		case statusWarning:
			summary.Warnings++
		case statusError:
			summary.Errors++
		case statusInfo:
			summary.Info++
		}
	}
	return summary
}

func printDoctorReport(out io.Writer, report *DoctorReport, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(out, report)
	case formatYAML:
		return writeYAML(out, report)
	}

	rows := make([][]string, 0, len(report.Results))
	for _, result := range report.Results {
		message := result.Message
		if result.Suggestion != "" {
			message += "\nhint: " + result.Suggestion
		}
		rows = append(rows, []string{strings.ToUpper(result.Status), result.Name, message})
	}
	fmt.Fprintln(out, renderTable(out, []string{"Status", "Check", "Details"}, rows, nil))
	fmt.Fprintf(out, "%d checks: %d ok, %d warnings, %d errors, %d info\n",
		report.Summary.Total, report.Summary.OK, report.Summary.Warnings, report.Summary.Errors, report.Summary.Info)
	return nil
}
