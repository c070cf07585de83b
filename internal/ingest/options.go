package ingest

import (
	"time"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/logging"
	"github.com/conneroisu/ocrwatch/internal/processor"
	"github.com/conneroisu/ocrwatch/internal/readiness"
	"github.com/conneroisu/ocrwatch/internal/watcher"
)

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithProcessor uses proc instead of probing for the OCR tool.
func WithProcessor(proc processor.Processor) Option {
	return func(h *Handler) {
		h.proc = proc
		h.capability = processor.Capability{
			Available: proc.Name() != (processor.PassThrough{}).Name(),
			Command:   proc.Name(),
			Detail:    "provided by caller",
		}
	}
}

// WithFailureHook is called for every per-file failure, after it has been
// recorded.
func WithFailureHook(hook func(ingesterrors.Failure)) Option {
	return func(h *Handler) {
		h.failureHook = hook
	}
}

// WithJobs sets the per-file parallelism hint. Negative means automatic.
func WithJobs(jobs int) Option {
	return func(h *Handler) {
		h.jobs = jobs
	}
}

// WithSuffix sets the input file suffix.
func WithSuffix(suffix string) Option {
	return func(h *Handler) {
		if suffix != "" {
			h.suffix = suffix
		}
	}
}

// WithRecursive enables watching subdirectories.
func WithRecursive(recursive bool) Option {
	return func(h *Handler) {
		h.recursive = recursive
	}
}

// WithInitialScan toggles processing of files present at startup.
func WithInitialScan(enabled bool) Option {
	return func(h *Handler) {
		h.initialScan = enabled
	}
}

// WithWatchMode selects event or poll detection.
func WithWatchMode(mode watcher.Mode, pollInterval time.Duration) Option {
	return func(h *Handler) {
		if mode != "" {
			h.watchMode = mode
		}
		if pollInterval > 0 {
			h.pollInterval = pollInterval
		}
	}
}

// WithReadiness sets the readiness gate and the number of files that may
// wait for readiness at once.
func WithReadiness(gate readiness.Gate, maxPending int) Option {
	return func(h *Handler) {
		h.gate = gate
		if maxPending > 0 {
			h.maxPending = maxPending
		}
	}
}

// WithDrainTimeout bounds how long shutdown waits for accepted work.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		if timeout > 0 {
			h.drainTimeout = timeout
		}
	}
}

// WithOCR configures the OCR tool probed at startup.
func WithOCR(enabled bool, cfg processor.OCRConfig) Option {
	return func(h *Handler) {
		h.ocrEnabled = enabled
		h.ocrConfig = cfg
	}
}
