package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/conneroisu/ocrwatch/internal/logging"
	"github.com/conneroisu/ocrwatch/internal/validation"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	if len(vr.Errors) > 0 {
		builder.WriteString("Validation errors:\n")
		for _, err := range vr.Errors {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", err.Field, err.Message))
			for _, suggestion := range err.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	if len(vr.Warnings) > 0 {
		if len(vr.Errors) > 0 {
			builder.WriteString("\n")
		}
		builder.WriteString("Validation warnings:\n")
		for _, warning := range vr.Warnings {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", warning.Field, warning.Message))
			for _, suggestion := range warning.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}

	return builder.String()
}

// ValidateConfigWithDetails validates an already resolved configuration.
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{Valid: true}
	validateConfigDetails(config, result)
	result.Valid = !result.HasErrors()
	return result
}

func validateConfigDetails(config *Config, result *ValidationResult) {
	validateInputConfigDetails(&config.Input, result)
	validateOutputConfigDetails(config, result)
	validateWorkersConfigDetails(&config.Workers, result)
	validateOCRConfigDetails(&config.OCR, result)
	validateWatchConfigDetails(&config.Watch, result)
	validateReadinessConfigDetails(&config.Readiness, result)
	validateLogConfigDetails(&config.Log, result)
}

func validateInputConfigDetails(config *InputConfig, result *ValidationResult) {
	if config.Dir == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "input.dir",
			Message: "input directory is required",
			Suggestions: []string{
				"Pass --input-dir /path/to/inbox",
				"Or set OCR_INPUT_DIRECTORY",
			},
		})
	} else {
		info, err := os.Stat(config.Dir)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, ValidationError{
				Field:       "input.dir",
				Value:       config.Dir,
				Message:     fmt.Sprintf("input directory is not accessible: %v", err),
				Suggestions: []string{"Create the directory or fix its permissions"},
			})
		case !info.IsDir():
			result.Errors = append(result.Errors, ValidationError{
				Field:   "input.dir",
				Value:   config.Dir,
				Message: "input path is not a directory",
			})
		}
	}

	if config.Suffix == "" || config.Suffix == "." {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "input.suffix",
			Value:       config.Suffix,
			Message:     "file suffix is required",
			Suggestions: []string{"Use .pdf"},
		})
	} else if strings.ContainsAny(config.Suffix, `/\`) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "input.suffix",
			Value:   config.Suffix,
			Message: "file suffix must not contain path separators",
		})
	}
}

func validateOutputConfigDetails(config *Config, result *ValidationResult) {
	if config.Output.Dir == "" {
		return
	}
	if config.Output.Dir == config.Input.Dir {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "output.dir",
			Value:   config.Output.Dir,
			Message: "output directory is the input directory; processed files are told apart by their _ocr suffix only",
		})
	}
	if info, err := os.Stat(config.Output.Dir); err == nil && !info.IsDir() {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "output.dir",
			Value:   config.Output.Dir,
			Message: "output path exists and is not a directory",
		})
	}
}

func validateWorkersConfigDetails(config *WorkersConfig, result *ValidationResult) {
	if limit := runtime.NumCPU() * maxReasonableWorkerFactor; config.Count > limit {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "workers.count",
			Value:   config.Count,
			Message: fmt.Sprintf("%d workers is more than %d times the CPU count", config.Count, maxReasonableWorkerFactor),
			Suggestions: []string{
				"OCR is CPU bound; more workers than CPUs mostly adds memory pressure",
			},
		})
	}
}

func validateOCRConfigDetails(config *OCRConfig, result *ValidationResult) {
	if !config.Enabled {
		return
	}
	allowed := map[string]bool{DefaultOCRCommand: true}
	if err := validation.ValidateCommand(config.Command, allowed); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:       "ocr.command",
			Value:       config.Command,
			Message:     err.Error(),
			Suggestions: []string{"Use 'ocrmypdf' or an absolute path to the ocrmypdf executable"},
		})
	}
	if config.Optimize < 0 || config.Optimize > 3 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "ocr.optimize",
			Value:   config.Optimize,
			Message: "optimize level must be between 0 and 3",
		})
	}
}

func validateWatchConfigDetails(config *WatchConfig, result *ValidationResult) {
	switch config.Mode {
	case DefaultWatchMode, watchModeEvent, watchModePoll:
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:       "watch.mode",
			Value:       config.Mode,
			Message:     fmt.Sprintf("unknown watch mode %q", config.Mode),
			Suggestions: []string{"Use auto, event or poll"},
		})
	}
}

func validateReadinessConfigDetails(config *ReadinessConfig, result *ValidationResult) {
	if config.Timeout < config.Settle {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "readiness.timeout",
			Value:   config.Timeout.String(),
			Message: fmt.Sprintf("timeout %s is shorter than the settle time %s; no file could ever become ready", config.Timeout, config.Settle),
		})
	}
	if config.Settle < config.Interval {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:   "readiness.settle",
			Value:   config.Settle.String(),
			Message: "settle time shorter than the sampling interval behaves like one interval",
		})
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, ok := logging.ParseLevel(config.Level); !ok {
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "log.level",
			Value:       config.Level,
			Message:     fmt.Sprintf("unknown log level %q, using info", config.Level),
			Suggestions: []string{"Use debug, info, warn or error"},
		})
	}
	switch config.Format {
	case "auto", "json", "text":
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:       "log.format",
			Value:       config.Format,
			Message:     fmt.Sprintf("unknown log format %q", config.Format),
			Suggestions: []string{"Use auto, json or text"},
		})
	}
}
