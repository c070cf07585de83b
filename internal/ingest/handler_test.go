package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/processor"
	"github.com/conneroisu/ocrwatch/internal/readiness"
	"github.com/conneroisu/ocrwatch/internal/watcher"
)

var fastGate = readiness.Gate{Interval: 10 * time.Millisecond, Settle: 30 * time.Millisecond, Timeout: 2 * time.Second}

// writeStub installs a fake ocrmypdf whose body runs with $in and $out set
// to the input and output arguments.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ocrmypdf")
	script := "#!/bin/sh\n" +
		"if [ \"$1\" = \"--version\" ]; then echo \"16.4.2\"; exit 0; fi\n" +
		"for a in \"$@\"; do in=$out; out=$a; done\n" +
		body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestHandler(t *testing.T, input string, workers int, opts ...Option) *Handler {
	t.Helper()
	base := []Option{
		WithReadiness(fastGate, 8),
		WithDrainTimeout(5 * time.Second),
		WithProcessor(processor.PassThrough{}),
	}
	h, err := NewHandler(input, "", workers, append(base, opts...)...)
	require.NoError(t, err)
	return h
}

// runHandler starts h.Run and returns a stop function that cancels it and
// returns its error.
func runHandler(t *testing.T, h *Handler) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(10 * time.Second):
				result = errors.New("handler did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitForFile(t *testing.T, path string) []byte {
	t.Helper()
	var data []byte
	require.Eventually(t, func() bool {
		var err error
		data, err = os.ReadFile(path)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s", path)
	return data
}

func decode(t *testing.T, data []byte) []byte {
	t.Helper()
	decoded, err := base64.StdEncoding.DecodeString(string(data))
	require.NoError(t, err)
	return decoded
}

func TestNewHandlerDefaults(t *testing.T) {
	input := t.TempDir()

	h, err := NewHandler(input, "", 0)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(input, "base64"), h.OutputDir())
	assert.GreaterOrEqual(t, h.workers, 1)
	assert.True(t, h.initialScan)
	assert.Equal(t, watcher.ModeEvent, h.watchMode)

	h, err = NewHandler(input, "", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, h.jobs)

	h, err = NewHandler(input, "", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, h.jobs)

	_, err = NewHandler("", "", 1)
	require.Error(t, err)
}

func TestRunProcessesNewFileWithPassThrough(t *testing.T) {
	input := t.TempDir()
	h := newTestHandler(t, input, 2)
	stop := runHandler(t, h)

	time.Sleep(50 * time.Millisecond)
	content := []byte("%PDF-1.4 plain document")
	require.NoError(t, os.WriteFile(filepath.Join(input, "report.pdf"), content, 0o644))

	encoded := waitForFile(t, filepath.Join(h.OutputDir(), "report.base64"))
	processed := waitForFile(t, filepath.Join(h.OutputDir(), "report_ocr.pdf"))
	assert.Equal(t, content, processed)
	assert.Equal(t, content, decode(t, encoded))

	require.NoError(t, stop())
	stats := h.Stats()
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(1), stats.PassedThrough)
	assert.Empty(t, h.Failures())
}

func TestRunWithWorkingOCR(t *testing.T) {
	stub := writeStub(t, `printf 'OCR:' > "$out"; cat "$in" >> "$out"`)
	input := t.TempDir()
	h := newTestHandler(t, input, 1, WithOCR(true, processor.OCRConfig{Command: stub, Timeout: 5 * time.Second}))
	// Drop the pass-through set by newTestHandler so the probe runs.
	h.proc = nil
	stop := runHandler(t, h)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(input, "report.pdf"), []byte("scan"), 0o644))

	encoded := waitForFile(t, filepath.Join(h.OutputDir(), "report.base64"))
	processed := waitForFile(t, filepath.Join(h.OutputDir(), "report_ocr.pdf"))
	assert.Equal(t, "OCR:scan", string(processed))
	assert.Equal(t, "OCR:scan", string(decode(t, encoded)))

	require.NoError(t, stop())
	assert.True(t, h.Capability().Available)
	assert.Equal(t, "16.4.2", h.Capability().Version)
	assert.Equal(t, int64(1), h.Stats().Transformed)
}

func TestRunWithFailingOCRFallsBack(t *testing.T) {
	stub := writeStub(t, `echo "bad xref" >&2; exit 2`)
	ocr, err := processor.NewOCRmyPDF(processor.OCRConfig{Command: stub, Timeout: 5 * time.Second})
	require.NoError(t, err)

	input := t.TempDir()
	h := newTestHandler(t, input, 1, WithProcessor(ocr))
	stop := runHandler(t, h)

	time.Sleep(50 * time.Millisecond)
	original := []byte("%PDF-1.4 broken")
	require.NoError(t, os.WriteFile(filepath.Join(input, "report.pdf"), original, 0o644))

	encoded := waitForFile(t, filepath.Join(h.OutputDir(), "report.base64"))
	processed := waitForFile(t, filepath.Join(h.OutputDir(), "report_ocr.pdf"))
	assert.Equal(t, original, processed)
	assert.Equal(t, original, decode(t, encoded))

	require.NoError(t, stop())
	assert.Equal(t, int64(1), h.Stats().PassedThrough)
	// A degraded transformation is not a task failure.
	assert.Empty(t, h.Failures())
}

func TestRunInitialScanSkipsOutputsAndOtherFiles(t *testing.T) {
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "a.pdf"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "b.PDF"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "a_ocr.pdf"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "notes.txt"), []byte("x"), 0o644))

	h := newTestHandler(t, input, 2)
	stop := runHandler(t, h)

	waitForFile(t, filepath.Join(h.OutputDir(), "a.base64"))
	waitForFile(t, filepath.Join(h.OutputDir(), "b.base64"))
	require.NoError(t, stop())

	_, err := os.Stat(filepath.Join(h.OutputDir(), "a_ocr_ocr.pdf"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(filepath.Join(h.OutputDir(), "notes.base64"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Equal(t, int64(2), h.Stats().Completed)
}

func TestRunChunkedWriteProcessedOnceWithFinalContent(t *testing.T) {
	input := t.TempDir()
	h := newTestHandler(t, input, 2, WithReadiness(readiness.Gate{
		Interval: 10 * time.Millisecond,
		Settle:   150 * time.Millisecond,
		Timeout:  3 * time.Second,
	}, 8))
	stop := runHandler(t, h)
	time.Sleep(50 * time.Millisecond)

	path := filepath.Join(input, "slow.pdf")
	f, err := os.Create(path)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := f.WriteString(fmt.Sprintf("chunk-%d;", i))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)
	}
	require.NoError(t, f.Close())

	encoded := waitForFile(t, filepath.Join(h.OutputDir(), "slow.base64"))
	assert.Equal(t, "chunk-0;chunk-1;chunk-2;", string(decode(t, encoded)))

	require.NoError(t, stop())
	assert.Equal(t, int64(1), h.Stats().Completed)
}

func TestRunReadinessTimeoutIsRecorded(t *testing.T) {
	input := t.TempDir()
	var hooked []ingesterrors.Failure
	var mu sync.Mutex
	h := newTestHandler(t, input, 1,
		WithReadiness(readiness.Gate{Interval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond}, 8),
		WithFailureHook(func(f ingesterrors.Failure) {
			mu.Lock()
			hooked = append(hooked, f)
			mu.Unlock()
		}))
	stop := runHandler(t, h)
	time.Sleep(50 * time.Millisecond)

	// Empty files never become ready.
	require.NoError(t, os.WriteFile(filepath.Join(input, "empty.pdf"), nil, 0o644))

	require.Eventually(t, func() bool { return len(h.Failures()) == 1 }, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())

	failure := h.Failures()[0]
	assert.Equal(t, ingesterrors.ErrorTypeReadiness, failure.Type)
	assert.Equal(t, filepath.Join(input, "empty.pdf"), failure.Path)
	mu.Lock()
	assert.Len(t, hooked, 1)
	mu.Unlock()
}

func TestRunFailsWhenLockHeld(t *testing.T) {
	input := t.TempDir()
	h := newTestHandler(t, input, 1)
	require.NoError(t, os.MkdirAll(h.OutputDir(), 0o755))

	other := flock.New(filepath.Join(h.OutputDir(), LockFileName))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	err = h.Run(context.Background())
	require.Error(t, err)
	var ingestErr *ingesterrors.IngestError
	require.True(t, errors.As(err, &ingestErr))
	assert.Equal(t, ingesterrors.ErrCodeLockHeld, ingestErr.Code)
}

func TestRunFailsOnMissingInput(t *testing.T) {
	h, err := NewHandler(filepath.Join(t.TempDir(), "missing"), t.TempDir(), 1)
	require.NoError(t, err)

	err = h.Run(context.Background())
	require.Error(t, err)
	assert.True(t, ingesterrors.IsFilesystemError(err))
}

func TestRunPollMode(t *testing.T) {
	input := t.TempDir()
	h := newTestHandler(t, input, 1, WithWatchMode(watcher.ModePoll, 20*time.Millisecond))
	stop := runHandler(t, h)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(input, "polled.pdf"), []byte("p"), 0o644))
	waitForFile(t, filepath.Join(h.OutputDir(), "polled.base64"))
	require.NoError(t, stop())
}

func TestProcessExisting(t *testing.T) {
	input := t.TempDir()
	for i := 0; i < 5; i++ {
		name := filepath.Join(input, fmt.Sprintf("doc%d.pdf", i))
		require.NoError(t, os.WriteFile(name, []byte(fmt.Sprintf("content %d", i)), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(input, "doc0_ocr.pdf"), []byte("x"), 0o644))

	h := newTestHandler(t, input, 2)
	summary, err := h.ProcessExisting(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Found)
	assert.Equal(t, int64(5), summary.Completed)
	assert.Equal(t, int64(5), summary.PassedThrough)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, int64(len("content 0")*5), summary.BytesProcessed)

	for i := 0; i < 5; i++ {
		data, err := os.ReadFile(filepath.Join(h.OutputDir(), fmt.Sprintf("doc%d.base64", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("content %d", i), string(decode(t, data)))
	}

	// The lock is released afterwards.
	lock := flock.New(filepath.Join(h.OutputDir(), LockFileName))
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	_ = lock.Unlock()
}

func TestProcessExistingCountsFailures(t *testing.T) {
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "good.pdf"), []byte("g"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(input, "empty.pdf"), nil, 0o644))

	h := newTestHandler(t, input, 2, WithReadiness(readiness.Gate{Interval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond}, 8))
	summary, err := h.ProcessExisting(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Found)
	assert.Equal(t, int64(1), summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, filepath.Join(input, "empty.pdf"), summary.Failures[0].Path)
}

// slowProcessor passes its input through after delay. When ctx is
// cancelled first it takes cleanup to return, like a tool being killed.
type slowProcessor struct {
	delay    time.Duration
	cleanup  time.Duration
	started  chan struct{}
	once     sync.Once
	returned atomic.Bool
}

func newSlowProcessor(delay, cleanup time.Duration) *slowProcessor {
	return &slowProcessor{delay: delay, cleanup: cleanup, started: make(chan struct{})}
}

func (p *slowProcessor) Process(ctx context.Context, input []byte, _ int) processor.Result {
	p.once.Do(func() { close(p.started) })
	defer p.returned.Store(true)
	select {
	case <-time.After(p.delay):
	case <-ctx.Done():
		time.Sleep(p.cleanup)
	}
	return processor.Result{Bytes: input}
}

func (p *slowProcessor) Name() string { return "slow" }

func (p *slowProcessor) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(5 * time.Second):
		t.Fatal("processor never started")
	}
}

func TestProcessExistingFinishesInFlightWorkAfterCancel(t *testing.T) {
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "long.pdf"), []byte("long"), 0o644))

	proc := newSlowProcessor(300*time.Millisecond, 0)
	h := newTestHandler(t, input, 1, WithProcessor(proc), WithDrainTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-proc.started
		cancel()
	}()

	summary, err := h.ProcessExisting(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int64(1), summary.Completed)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, summary.Failures)
	data, err := os.ReadFile(filepath.Join(h.OutputDir(), "long.base64"))
	require.NoError(t, err)
	assert.Equal(t, "long", string(decode(t, data)))
}

func TestProcessExistingAbortsAfterDrainTimeout(t *testing.T) {
	input := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(input, "stuck.pdf"), []byte("stuck"), 0o644))

	proc := newSlowProcessor(time.Minute, 100*time.Millisecond)
	h := newTestHandler(t, input, 1, WithProcessor(proc), WithDrainTimeout(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-proc.started
		cancel()
	}()

	summary, err := h.ProcessExisting(ctx)
	require.ErrorIs(t, err, context.Canceled)

	// The aborted task has returned and reported before the scan does.
	assert.True(t, proc.returned.Load())
	assert.Zero(t, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, filepath.Join(input, "stuck.pdf"), summary.Failures[0].Path)
	assert.NoFileExists(t, filepath.Join(h.OutputDir(), "stuck_ocr.pdf"))
}

func TestRunKeepsLockUntilAbortedTasksReturn(t *testing.T) {
	input := t.TempDir()
	proc := newSlowProcessor(time.Minute, 100*time.Millisecond)
	h := newTestHandler(t, input, 1, WithProcessor(proc), WithDrainTimeout(50*time.Millisecond))
	stop := runHandler(t, h)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(input, "held.pdf"), []byte("held"), 0o644))
	proc.waitStarted(t)
	require.NoError(t, stop())

	assert.True(t, proc.returned.Load())
	assert.Equal(t, int64(1), h.Stats().Failed)

	lock := flock.New(filepath.Join(h.OutputDir(), LockFileName))
	locked, err := lock.TryLock()
	require.NoError(t, err)
	assert.True(t, locked)
	_ = lock.Unlock()
}

func TestProcessRejectsVanishedFile(t *testing.T) {
	input := t.TempDir()
	h := newTestHandler(t, input, 1)
	writer := newWriter(t, h.OutputDir())

	task := h.process(processor.PassThrough{}, writer)
	_, err := task(context.Background(), dispatchTask(filepath.Join(input, "gone.pdf")))
	require.Error(t, err)
	assert.True(t, ingesterrors.IsFilesystemError(err))
}

func TestPendingSet(t *testing.T) {
	p := newPendingSet()
	assert.True(t, p.add("/in/a.pdf"))
	assert.False(t, p.add("/in/a.pdf"))
	assert.Equal(t, 1, p.len())
	p.remove("/in/a.pdf")
	assert.Zero(t, p.len())
}
