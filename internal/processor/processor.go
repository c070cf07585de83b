// Package processor wraps the optional OCR transformation.
//
// The pipeline never fails a file because OCR failed: every implementation
// returns the original bytes with Transformed=false when it cannot produce
// a transformed document.
package processor

import (
	"context"
)

// Result is the outcome of processing one input.
type Result struct {
	// Bytes is the payload to write: OCR output or the original input.
	Bytes []byte
	// Transformed is false for pass-through output.
	Transformed bool
	// Err is the transformation error that caused a pass-through, if any.
	// It is informational and never fails the task.
	Err error
}

// Processor turns raw input bytes into the bytes to publish.
type Processor interface {
	// Process transforms input using up to jobs parallel jobs; jobs <= 0
	// lets the implementation pick.
	Process(ctx context.Context, input []byte, jobs int) Result
	Name() string
}

// PassThrough returns its input unchanged. It is selected when OCR is
// disabled or unavailable.
type PassThrough struct{}

// Process implements Processor.
func (PassThrough) Process(_ context.Context, input []byte, _ int) Result {
	return Result{Bytes: input, Transformed: false}
}

// Name implements Processor.
func (PassThrough) Name() string {
	return "passthrough"
}

var _ Processor = PassThrough{}
