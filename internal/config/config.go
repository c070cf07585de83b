// Package config provides configuration management for ocrwatch using Viper
// for loading from files, environment variables and command-line flags.
//
// Keys are grouped into input, output, workers, ocr, watch, readiness and log
// sections. Every key can be overridden with an OCRWATCH_ prefixed variable
// (dots become underscores), and the OCR_* variables understood by earlier
// deployments of the watcher are bound explicitly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
)

const (
	EnvPrefix      = "OCRWATCH"
	ConfigFileName = ".ocrwatch"

	DefaultSuffix             = ".pdf"
	DefaultOutputSubdir       = "base64"
	DefaultDrainTimeout       = 30 * time.Second
	DefaultOCRCommand         = "ocrmypdf"
	DefaultOutputType         = "pdf"
	DefaultOptimize           = 3
	DefaultOCRTimeout         = 10 * time.Minute
	DefaultWatchMode          = "auto"
	DefaultPollInterval       = 2 * time.Second
	DefaultReadinessInterval  = 500 * time.Millisecond
	DefaultReadinessTimeout   = 15 * time.Second
	DefaultMaxPending         = 64
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "auto"
	networkMountPrefix        = "/mnt/"
	watchModeEvent            = "event"
	watchModePoll             = "poll"
	outputTypePDFA            = "pdfa"
	maxReasonableWorkerFactor = 4
)

// AutoJobs lets the loader pick the per-file OCR parallelism: 1 when several
// workers run, otherwise every CPU.
const AutoJobs = -1

type Config struct {
	Input     InputConfig     `mapstructure:"input" yaml:"input"`
	Output    OutputConfig    `mapstructure:"output" yaml:"output"`
	Workers   WorkersConfig   `mapstructure:"workers" yaml:"workers"`
	OCR       OCRConfig       `mapstructure:"ocr" yaml:"ocr"`
	Watch     WatchConfig     `mapstructure:"watch" yaml:"watch"`
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`

	validation *ValidationResult
}

type InputConfig struct {
	Dir         string `mapstructure:"dir" yaml:"dir"`
	Suffix      string `mapstructure:"suffix" yaml:"suffix"`
	Recursive   bool   `mapstructure:"recursive" yaml:"recursive"`
	InitialScan bool   `mapstructure:"initial_scan" yaml:"initial_scan"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

type WorkersConfig struct {
	Count        int           `mapstructure:"count" yaml:"count"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" yaml:"drain_timeout"`
}

type OCRConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Command    string        `mapstructure:"command" yaml:"command"`
	Jobs       int           `mapstructure:"jobs" yaml:"jobs"`
	OutputType string        `mapstructure:"output_type" yaml:"output_type"`
	Optimize   int           `mapstructure:"optimize" yaml:"optimize"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type WatchConfig struct {
	Mode         string        `mapstructure:"mode" yaml:"mode"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type ReadinessConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Settle     time.Duration `mapstructure:"settle" yaml:"settle"`
	MaxPending int           `mapstructure:"max_pending" yaml:"max_pending"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir"`
}

// legacyEnv lists the environment variables of earlier deployments, bound
// ahead of the OCRWATCH_ names.
var legacyEnv = map[string][]string{
	"input.dir":          {"OCR_INPUT_DIRECTORY", "OCRWATCH_INPUT_DIR"},
	"output.dir":         {"OCR_OUTPUT_DIRECTORY", "OCRWATCH_OUTPUT_DIR"},
	"workers.count":      {"OCR_WORKERS", "OCRWATCH_WORKERS_COUNT"},
	"ocr.jobs":           {"OCR_JOBS", "OCRWATCH_OCR_JOBS"},
	"ocr.output_type":    {"OCR_OUTPUT_TYPE", "OCRWATCH_OCR_OUTPUT_TYPE"},
	"input.initial_scan": {"OCR_INITIAL_SCAN", "OCRWATCH_INPUT_INITIAL_SCAN"},
}

// SetDefaults registers every key with its default value. Keys must be
// registered for viper to unmarshal values that only come from the
// environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.dir", "")
	v.SetDefault("input.suffix", DefaultSuffix)
	v.SetDefault("input.recursive", false)
	v.SetDefault("input.initial_scan", true)
	v.SetDefault("output.dir", "")
	v.SetDefault("workers.count", 0)
	v.SetDefault("workers.drain_timeout", DefaultDrainTimeout)
	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.command", DefaultOCRCommand)
	v.SetDefault("ocr.jobs", AutoJobs)
	v.SetDefault("ocr.output_type", DefaultOutputType)
	v.SetDefault("ocr.optimize", DefaultOptimize)
	v.SetDefault("ocr.timeout", DefaultOCRTimeout)
	v.SetDefault("watch.mode", DefaultWatchMode)
	v.SetDefault("watch.poll_interval", DefaultPollInterval)
	v.SetDefault("readiness.interval", DefaultReadinessInterval)
	v.SetDefault("readiness.timeout", DefaultReadinessTimeout)
	v.SetDefault("readiness.settle", time.Duration(0))
	v.SetDefault("readiness.max_pending", DefaultMaxPending)
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.dir", "")
}

// BindEnv enables OCRWATCH_ environment overrides and binds the legacy OCR_*
// variables.
func BindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return ingesterrors.WrapConfig(err, ingesterrors.ErrCodeConfigInvalid, fmt.Sprintf("binding environment for %s", key))
		}
	}
	return nil
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals v, resolves derived defaults and validates the result.
// Warnings do not fail the load; they are available from Validation.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, ingesterrors.WrapConfig(err, ingesterrors.ErrCodeConfigInvalid, "decoding configuration")
	}

	result := &ValidationResult{Valid: true}
	config.resolve(result)
	validateConfigDetails(&config, result)
	result.Valid = !result.HasErrors()
	config.validation = result

	if result.HasErrors() {
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid configuration:\n%s", result.String()))
	}
	return &config, nil
}

// Defaults returns the built-in configuration before any path resolution or
// validation.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)
	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// Validation returns the warnings and errors collected while loading.
func (c *Config) Validation() *ValidationResult {
	if c.validation == nil {
		return &ValidationResult{Valid: true}
	}
	return c.validation
}

// resolve fills derived values that depend on other keys.
func (c *Config) resolve(result *ValidationResult) {
	if c.Input.Dir != "" {
		c.Input.Dir = absPath(c.Input.Dir)
	}

	c.Input.Suffix = strings.ToLower(strings.TrimSpace(c.Input.Suffix))
	if c.Input.Suffix != "" && !strings.HasPrefix(c.Input.Suffix, ".") {
		c.Input.Suffix = "." + c.Input.Suffix
	}

	if c.Output.Dir == "" && c.Input.Dir != "" {
		c.Output.Dir = filepath.Join(c.Input.Dir, DefaultOutputSubdir)
	} else if c.Output.Dir != "" {
		c.Output.Dir = absPath(c.Output.Dir)
	}

	if c.Workers.Count <= 0 {
		c.Workers.Count = DefaultWorkers()
	}
	if c.Workers.DrainTimeout <= 0 {
		c.Workers.DrainTimeout = DefaultDrainTimeout
	}

	// Favour concurrency across files over concurrency inside one file.
	if c.OCR.Jobs < 0 {
		if c.Workers.Count > 1 {
			c.OCR.Jobs = 1
		} else {
			c.OCR.Jobs = 0
		}
	}

	outputType := strings.ToLower(strings.TrimSpace(c.OCR.OutputType))
	switch outputType {
	case DefaultOutputType, outputTypePDFA:
		c.OCR.OutputType = outputType
	case "":
		c.OCR.OutputType = DefaultOutputType
	default:
		result.Warnings = append(result.Warnings, ValidationError{
			Field:       "ocr.output_type",
			Value:       c.OCR.OutputType,
			Message:     fmt.Sprintf("unknown output type %q, using %q", c.OCR.OutputType, DefaultOutputType),
			Suggestions: []string{"Use 'pdf' for a regular PDF or 'pdfa' for PDF/A-2B"},
		})
		c.OCR.OutputType = DefaultOutputType
	}
	if c.OCR.Command == "" {
		c.OCR.Command = DefaultOCRCommand
	}
	if c.OCR.Timeout <= 0 {
		c.OCR.Timeout = DefaultOCRTimeout
	}

	c.Watch.Mode = strings.ToLower(strings.TrimSpace(c.Watch.Mode))
	if c.Watch.Mode == "" {
		c.Watch.Mode = DefaultWatchMode
	}
	if c.Watch.PollInterval <= 0 {
		c.Watch.PollInterval = DefaultPollInterval
	}

	if c.Readiness.Interval <= 0 {
		c.Readiness.Interval = DefaultReadinessInterval
	}
	if c.Readiness.Timeout <= 0 {
		c.Readiness.Timeout = DefaultReadinessTimeout
	}
	if c.Readiness.Settle <= 0 {
		c.Readiness.Settle = 2 * c.Readiness.Interval
	}
	if c.Readiness.MaxPending <= 0 {
		c.Readiness.MaxPending = DefaultMaxPending
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// DefaultWorkers returns half the CPUs, and at least one.
func DefaultWorkers() int {
	return max(1, runtime.NumCPU()/2)
}

// EffectiveWatchMode resolves "auto" to event or poll and explains the
// choice.
func (c *Config) EffectiveWatchMode() (mode, reason string) {
	switch c.Watch.Mode {
	case watchModeEvent:
		return watchModeEvent, "configured"
	case watchModePoll:
		return watchModePoll, "configured"
	}

	if strings.HasPrefix(c.Input.Dir, networkMountPrefix) {
		return watchModePoll, "input directory is under " + networkMountPrefix
	}
	if network, fsType := IsNetworkFilesystem(c.Input.Dir); network {
		return watchModePoll, "input directory is on a " + fsType + " filesystem"
	}
	return watchModeEvent, "local filesystem"
}

// Settings returns the effective configuration as nested maps with
// durations rendered as strings, suitable for any serializer.
func (c *Config) Settings() map[string]interface{} {
	return map[string]interface{}{
		"input": map[string]interface{}{
			"dir":          c.Input.Dir,
			"suffix":       c.Input.Suffix,
			"recursive":    c.Input.Recursive,
			"initial_scan": c.Input.InitialScan,
		},
		"output": map[string]interface{}{
			"dir": c.Output.Dir,
		},
		"workers": map[string]interface{}{
			"count":         c.Workers.Count,
			"drain_timeout": c.Workers.DrainTimeout.String(),
		},
		"ocr": map[string]interface{}{
			"enabled":     c.OCR.Enabled,
			"command":     c.OCR.Command,
			"jobs":        c.OCR.Jobs,
			"output_type": c.OCR.OutputType,
			"optimize":    c.OCR.Optimize,
			"timeout":     c.OCR.Timeout.String(),
		},
		"watch": map[string]interface{}{
			"mode":          c.Watch.Mode,
			"poll_interval": c.Watch.PollInterval.String(),
		},
		"readiness": map[string]interface{}{
			"interval":    c.Readiness.Interval.String(),
			"timeout":     c.Readiness.Timeout.String(),
			"settle":      c.Readiness.Settle.String(),
			"max_pending": c.Readiness.MaxPending,
		},
		"log": map[string]interface{}{
			"level":  c.Log.Level,
			"format": c.Log.Format,
			"dir":    c.Log.Dir,
		},
	}
}

func absPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
