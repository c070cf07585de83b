package ingest

import (
	"context"
	"time"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
)

// Summary reports the outcome of a one-shot scan.
type Summary struct {
	Found          int                    `json:"found" yaml:"found"`
	Completed      int64                  `json:"completed" yaml:"completed"`
	Transformed    int64                  `json:"transformed" yaml:"transformed"`
	PassedThrough  int64                  `json:"passed_through" yaml:"passed_through"`
	Failed         int                    `json:"failed" yaml:"failed"`
	BytesProcessed int64                  `json:"bytes_processed" yaml:"bytes_processed"`
	Duration       time.Duration          `json:"duration" yaml:"duration"`
	Failures       []ingesterrors.Failure `json:"-" yaml:"-"`
}

// ProcessExisting runs every matching file already in the input directory
// through the pipeline, waits for all of them and returns a summary. Files
// that arrive during the scan are not picked up.
func (h *Handler) ProcessExisting(ctx context.Context) (Summary, error) {
	start := time.Now()
	before := h.metrics.Snapshot()
	failuresBefore := h.failures.Total()

	sess, err := h.open(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer sess.close()

	w, err := h.newWatcher()
	if err != nil {
		_ = h.drain(ctx, sess)
		return Summary{}, err
	}

	paths := w.List()
	h.logger.Info(ctx, "processing existing files", "input", h.inputDir, "count", len(paths))

	for _, path := range paths {
		if !h.admit(ctx, sess, path) {
			break
		}
	}
	sess.gates.Wait()

	// Counts are read once the workers are gone so aborted tasks have
	// reported their failures.
	if err := h.drain(ctx, sess); err != nil {
		h.logger.Warn(ctx, err, "scan interrupted before all files finished")
	}

	after := h.metrics.Snapshot()
	newFailures := int(h.failures.Total() - failuresBefore)
	recent := h.failures.Recent()
	if newFailures < len(recent) {
		recent = recent[len(recent)-newFailures:]
	}

	summary := Summary{
		Found:          len(paths),
		Completed:      after.Completed - before.Completed,
		Transformed:    after.Transformed - before.Transformed,
		PassedThrough:  after.PassedThrough - before.PassedThrough,
		Failed:         newFailures,
		BytesProcessed: after.BytesProcessed - before.BytesProcessed,
		Duration:       time.Since(start),
		Failures:       recent,
	}
	h.logSummary(ctx)
	return summary, ctx.Err()
}
