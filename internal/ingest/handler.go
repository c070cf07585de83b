// Package ingest wires the watcher, readiness gate, dispatcher, processor
// and output writer into one library-style handler.
//
// A Handler owns an input directory and an output directory. Run watches the
// input until its context is cancelled; ProcessExisting handles the files
// already present and returns. Per-file failures never stop either call:
// they are logged and kept in a bounded failure collector.
package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"

	"github.com/conneroisu/ocrwatch/internal/config"
	"github.com/conneroisu/ocrwatch/internal/dispatch"
	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/logging"
	"github.com/conneroisu/ocrwatch/internal/output"
	"github.com/conneroisu/ocrwatch/internal/processor"
	"github.com/conneroisu/ocrwatch/internal/readiness"
	"github.com/conneroisu/ocrwatch/internal/watcher"
)

// LockFileName is created in the output directory while a handler runs.
const LockFileName = ".ocrwatch.lock"

// abortGrace bounds how long a timed out drain waits for aborted tasks to
// return before the output lock is released.
const abortGrace = 5 * time.Second

// Handler processes files arriving in an input directory.
type Handler struct {
	inputDir     string
	outputDir    string
	workers      int
	jobs         int
	suffix       string
	recursive    bool
	initialScan  bool
	watchMode    watcher.Mode
	pollInterval time.Duration
	gate         readiness.Gate
	maxPending   int
	drainTimeout time.Duration
	ocrEnabled   bool
	ocrConfig    processor.OCRConfig

	logger      logging.Logger
	failures    *ingesterrors.Collector
	failureHook func(ingesterrors.Failure)
	metrics     *dispatch.Metrics

	procMu     sync.Mutex
	proc       processor.Processor
	capability processor.Capability

	pending *pendingSet
}

// NewHandler creates a handler with the defaults of an unconfigured
// deployment: output under <input>/base64 when outputDir is empty, event
// mode, initial scan enabled.
func NewHandler(inputDir, outputDir string, workers int, opts ...Option) (*Handler, error) {
	if inputDir == "" {
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeConfigInvalid, "input directory is required")
	}
	input, err := filepath.Abs(inputDir)
	if err != nil {
		return nil, ingesterrors.WrapConfig(err, ingesterrors.ErrCodeConfigInvalid, "resolving input directory")
	}
	if outputDir == "" {
		outputDir = filepath.Join(input, config.DefaultOutputSubdir)
	}
	out, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, ingesterrors.WrapConfig(err, ingesterrors.ErrCodeConfigInvalid, "resolving output directory")
	}
	if workers <= 0 {
		workers = config.DefaultWorkers()
	}

	h := &Handler{
		inputDir:     input,
		outputDir:    out,
		workers:      workers,
		jobs:         config.AutoJobs,
		suffix:       config.DefaultSuffix,
		initialScan:  true,
		watchMode:    watcher.ModeEvent,
		pollInterval: config.DefaultPollInterval,
		gate:         readiness.Gate{Interval: config.DefaultReadinessInterval, Timeout: config.DefaultReadinessTimeout},
		maxPending:   config.DefaultMaxPending,
		drainTimeout: config.DefaultDrainTimeout,
		ocrEnabled:   true,
		ocrConfig: processor.OCRConfig{
			Command:    config.DefaultOCRCommand,
			OutputType: config.DefaultOutputType,
			Optimize:   config.DefaultOptimize,
			Timeout:    config.DefaultOCRTimeout,
		},
		failures: ingesterrors.NewCollector(ingesterrors.DefaultCollectorCapacity),
		metrics:  dispatch.NewMetrics(),
		pending:  newPendingSet(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.NewNopLogger()
	}
	h.logger = h.logger.WithComponent("ingest")
	if h.jobs < 0 {
		if h.workers > 1 {
			h.jobs = 1
		} else {
			h.jobs = 0
		}
	}
	if h.maxPending <= 0 {
		h.maxPending = config.DefaultMaxPending
	}
	return h, nil
}

// NewFromConfig creates a handler from a loaded configuration. opts are
// applied after the configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Handler, error) {
	mode, _ := cfg.EffectiveWatchMode()
	base := []Option{
		WithJobs(cfg.OCR.Jobs),
		WithSuffix(cfg.Input.Suffix),
		WithRecursive(cfg.Input.Recursive),
		WithInitialScan(cfg.Input.InitialScan),
		WithWatchMode(watcher.Mode(mode), cfg.Watch.PollInterval),
		WithReadiness(readiness.Gate{
			Interval: cfg.Readiness.Interval,
			Timeout:  cfg.Readiness.Timeout,
			Settle:   cfg.Readiness.Settle,
		}, cfg.Readiness.MaxPending),
		WithDrainTimeout(cfg.Workers.DrainTimeout),
		WithOCR(cfg.OCR.Enabled, processor.OCRConfig{
			Command:    cfg.OCR.Command,
			OutputType: cfg.OCR.OutputType,
			Optimize:   cfg.OCR.Optimize,
			Timeout:    cfg.OCR.Timeout,
		}),
	}
	return NewHandler(cfg.Input.Dir, cfg.Output.Dir, cfg.Workers.Count, append(base, opts...)...)
}

// InputDir returns the absolute input directory.
func (h *Handler) InputDir() string { return h.inputDir }

// OutputDir returns the absolute output directory.
func (h *Handler) OutputDir() string { return h.outputDir }

// Stats returns a snapshot of the processing counters.
func (h *Handler) Stats() dispatch.MetricsSnapshot {
	return h.metrics.Snapshot()
}

// Failures returns the most recent per-file failures, oldest first.
func (h *Handler) Failures() []ingesterrors.Failure {
	return h.failures.Recent()
}

// Capability returns the result of the OCR probe, once one has run.
func (h *Handler) Capability() processor.Capability {
	h.procMu.Lock()
	defer h.procMu.Unlock()
	return h.capability
}

// Run watches the input directory until ctx is cancelled, then drains
// accepted work for at most the drain timeout. Only startup problems are
// returned as errors.
func (h *Handler) Run(ctx context.Context) error {
	sess, err := h.open(ctx)
	if err != nil {
		return err
	}
	defer sess.close()

	w, err := h.newWatcher()
	if err != nil {
		_ = h.drain(ctx, sess)
		return err
	}

	h.logger.Info(ctx, "ingestion started",
		"input", h.inputDir,
		"output", h.outputDir,
		"mode", string(w.Mode()),
		"workers", h.workers,
		"ocr_jobs", h.jobs,
		"processor", sess.proc.Name())

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	candidates := make(chan watcher.CandidatePath, h.workers)
	watchErr := make(chan error, 1)
	go func() {
		watchErr <- w.Run(watchCtx, candidates)
		close(candidates)
	}()

	var runErr error
	for candidate := range candidates {
		if !h.admit(watchCtx, sess, candidate.Path) {
			stopWatch()
		}
	}
	if err := <-watchErr; err != nil {
		runErr = err
	}

	sess.gates.Wait()
	_ = h.drain(ctx, sess)
	h.logSummary(ctx)
	return runErr
}

// admit gates path in the background and submits it once ready. It blocks
// while the number of pending gates is at its limit and reports false when
// ctx was cancelled meanwhile.
func (h *Handler) admit(ctx context.Context, sess *session, path string) bool {
	if sess.dispatcher.InFlight().Contains(path) {
		h.logger.Debug(ctx, "already processing, skipping duplicate", "path", path)
		return true
	}
	if !h.pending.add(path) {
		h.logger.Debug(ctx, "already waiting for readiness, skipping duplicate", "path", path)
		return true
	}
	if err := sess.gateSlots.Acquire(ctx, 1); err != nil {
		h.pending.remove(path)
		return false
	}

	sess.gates.Add(1)
	go func() {
		defer sess.gates.Done()
		defer sess.gateSlots.Release(1)
		defer h.pending.remove(path)
		h.gateAndSubmit(ctx, sess, path)
	}()
	return true
}

func (h *Handler) gateAndSubmit(ctx context.Context, sess *session, path string) {
	ready, err := h.gate.AwaitReady(ctx, path)
	switch {
	case err == nil:
	case errors.Is(err, readiness.ErrNotFound):
		h.logger.Debug(ctx, "candidate vanished before it was ready", "path", path)
		return
	case errors.Is(err, readiness.ErrTimeout):
		h.logger.Warn(ctx, err, "file did not become ready", "path", path)
		h.recordFailure(ingesterrors.Failure{
			Path: path,
			Err:  ingesterrors.NewReadinessError(ingesterrors.ErrCodeNotReady, "file did not become ready", err).WithPath(path),
		})
		return
	default:
		return
	}

	accepted, err := sess.dispatcher.Submit(ctx, ready)
	switch {
	case err != nil:
		h.logger.Debug(ctx, "submission abandoned", "path", path, "reason", err.Error())
	case !accepted:
		h.logger.Debug(ctx, "already processing, skipping duplicate", "path", path)
	}
}

// process is the dispatcher task: read, transform with fallback, write.
func (h *Handler) process(proc processor.Processor, writer *output.Writer) dispatch.TaskFunc {
	return func(ctx context.Context, task dispatch.Task) (dispatch.Outcome, error) {
		path := task.File.Path

		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return dispatch.Outcome{}, ingesterrors.WrapFilesystem(err, ingesterrors.ErrCodeFileNotFound, "file vanished before processing", path)
			}
			return dispatch.Outcome{}, ingesterrors.WrapIO(err, ingesterrors.ErrCodeReadFailed, "reading input", path)
		}
		if len(data) == 0 {
			return dispatch.Outcome{}, ingesterrors.NewFilesystemError(ingesterrors.ErrCodeReadFailed, "file was truncated after becoming ready", nil).WithPath(path)
		}

		result := proc.Process(ctx, data, h.jobs)
		if ctx.Err() != nil {
			return dispatch.Outcome{}, ingesterrors.NewInternalError(ingesterrors.ErrCodeInternalError, "processing aborted by shutdown", ctx.Err()).WithPath(path)
		}
		if result.Err != nil {
			h.logger.Warn(ctx, result.Err, "transformation failed, keeping original bytes",
				"path", path, "processor", proc.Name())
		}

		pair, err := writer.Write(filepath.Base(path), result)
		if err != nil {
			var ingestErr *ingesterrors.IngestError
			if errors.As(err, &ingestErr) && ingestErr.Path == "" {
				ingestErr.WithPath(path)
			}
			return dispatch.Outcome{}, err
		}

		source := "original"
		if pair.Transformed {
			source = "ocr"
		}
		h.logger.Info(ctx, "wrote outputs",
			"path", path,
			"processed", pair.Processed,
			"encoded", pair.Encoded,
			"source", source,
			"size", humanize.Bytes(uint64(pair.Bytes)))

		return dispatch.Outcome{Transformed: pair.Transformed, Bytes: pair.Bytes}, nil
	}
}

func (h *Handler) recordFailure(f ingesterrors.Failure) {
	h.failures.Add(f)
	if h.failureHook != nil {
		h.failureHook(f)
	}
}

// selectProcessor probes the OCR tool on first use and keeps the result.
func (h *Handler) selectProcessor(ctx context.Context) processor.Processor {
	h.procMu.Lock()
	defer h.procMu.Unlock()
	if h.proc != nil {
		return h.proc
	}
	h.proc, h.capability = processor.Select(ctx, processor.ProbeOptions{
		Enabled: h.ocrEnabled,
		OCR:     h.ocrConfig,
	})
	if h.capability.Available {
		h.logger.Info(ctx, "ocr available", "command", h.capability.Path, "version", h.capability.Version)
	} else {
		h.logger.Warn(ctx, nil, "ocr unavailable, files will be passed through", "detail", h.capability.Detail)
	}
	return h.proc
}

func (h *Handler) newWatcher() (*watcher.Watcher, error) {
	return watcher.New(watcher.Options{
		Root:         h.inputDir,
		Mode:         h.watchMode,
		PollInterval: h.pollInterval,
		Recursive:    h.recursive,
		InitialScan:  h.initialScan,
		Filters:      watcher.DefaultFilters(h.suffix),
		ExcludeDirs:  []string{h.outputDir},
		Logger:       h.logger,
	})
}

func (h *Handler) logSummary(ctx context.Context) {
	snap := h.metrics.Snapshot()
	h.logger.Info(ctx, "ingestion stopped",
		"completed", snap.Completed,
		"failed", snap.Failed,
		"transformed", snap.Transformed,
		"passed_through", snap.PassedThrough,
		"duplicates", snap.Duplicates,
		"bytes", humanize.Bytes(uint64(snap.BytesProcessed)),
		"average", snap.AverageDuration.String())
}

// session holds the resources of one Run or ProcessExisting call.
type session struct {
	lock       *flock.Flock
	writer     *output.Writer
	proc       processor.Processor
	dispatcher *dispatch.Dispatcher
	gateSlots  *semaphore.Weighted
	gates      sync.WaitGroup
}

func (s *session) close() {
	_ = s.lock.Unlock()
}

// open checks the directories, takes the output lock and starts the
// dispatcher.
func (h *Handler) open(ctx context.Context) (*session, error) {
	info, err := os.Stat(h.inputDir)
	if err != nil {
		return nil, ingesterrors.WrapFilesystem(err, ingesterrors.ErrCodeFileNotFound, "input directory is not accessible", h.inputDir)
	}
	if !info.IsDir() {
		return nil, ingesterrors.NewFilesystemError(ingesterrors.ErrCodeFileNotFound, "input path is not a directory", nil).WithPath(h.inputDir)
	}

	writer, err := output.NewWriter(h.outputDir)
	if err != nil {
		return nil, err
	}

	lock := flock.New(filepath.Join(writer.Root(), LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, ingesterrors.WrapIO(err, ingesterrors.ErrCodeLockHeld, "locking output directory", lock.Path())
	}
	if !locked {
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeLockHeld,
			"another ocrwatch instance is writing to this output directory").WithPath(writer.Root())
	}

	if removed, err := writer.CleanStaging(); err == nil && removed > 0 {
		h.logger.Info(ctx, "removed stale temp files", "count", removed)
	}

	proc := h.selectProcessor(ctx)

	d, err := dispatch.New(dispatch.Options{
		Workers:   h.workers,
		Handle:    h.process(proc, writer),
		OnFailure: h.recordFailure,
		Logger:    h.logger,
		Metrics:   h.metrics,
	})
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	// Workers outlive ctx so accepted work can drain after cancellation.
	d.Start(context.WithoutCancel(ctx))

	return &session{
		lock:       lock,
		writer:     writer,
		proc:       proc,
		dispatcher: d,
		gateSlots:  semaphore.NewWeighted(int64(h.maxPending)),
	}, nil
}

// drain shuts the dispatcher down. Accepted work runs to completion while
// ctx is live; once ctx is cancelled the drain timeout starts and whatever
// is still running when it expires is aborted. drain returns after the
// workers have exited or, for aborted tasks, after abortGrace.
func (h *Handler) drain(ctx context.Context, sess *session) error {
	shutdownCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	result := make(chan error, 1)
	go func() { result <- sess.dispatcher.Shutdown(shutdownCtx) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		deadline := time.NewTimer(h.drainTimeout)
		select {
		case err = <-result:
		case <-deadline.C:
			abort()
			<-result
			err = context.DeadlineExceeded
		}
		deadline.Stop()
	}
	if err == nil {
		return nil
	}

	h.logger.Warn(ctx, err, "drain timeout exceeded, unfinished files were abandoned",
		"in_flight", sess.dispatcher.InFlight().Paths())

	// Aborted tasks may still be renaming into the output directory; the
	// lock is held until they return.
	grace := time.NewTimer(abortGrace)
	defer grace.Stop()
	select {
	case <-sess.dispatcher.Done():
	case <-grace.C:
		h.logger.Warn(ctx, nil, "workers still running after abort, releasing output lock",
			"in_flight", sess.dispatcher.InFlight().Paths())
	}
	return err
}
