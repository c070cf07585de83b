//go:build property

package errors

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCollectorProperties validates failure retention under concurrency
func TestCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent adds are all counted and retention is bounded", prop.ForAll(
		func(capacity, goroutines, perGoroutine int) bool {
			collector := NewCollector(capacity)

			var wg sync.WaitGroup
			for g := range goroutines {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := range perGoroutine {
						collector.Add(Failure{
							Path: fmt.Sprintf("/in/%d-%d.pdf", g, i),
							Err:  NewIOError(ErrCodeWriteFailed, "write failed", nil),
						})
					}
				}()
			}
			wg.Wait()

			total := goroutines * perGoroutine
			return collector.Total() == int64(total) &&
				len(collector.Recent()) == min(total, capacity)
		},
		gen.IntRange(1, 64),
		gen.IntRange(1, 16),
		gen.IntRange(1, 40),
	))

	properties.Property("recent keeps the newest failures in order", prop.ForAll(
		func(capacity, count int) bool {
			collector := NewCollector(capacity)
			for i := range count {
				collector.Add(Failure{Path: fmt.Sprint(i), Err: os.ErrNotExist})
			}

			recent := collector.Recent()
			first := max(0, count-capacity)
			for i, f := range recent {
				if f.Path != fmt.Sprint(first+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 32),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

// TestWrapProperties validates that wrapping keeps the error chain intact
func TestWrapProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1357)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	errorTypes := gen.OneConstOf(
		ErrorTypeFilesystem, ErrorTypeReadiness, ErrorTypeTransform,
		ErrorTypeSecurity, ErrorTypeIO, ErrorTypeConfig, ErrorTypeInternal,
	)

	properties.Property("wrapped errors match their type and root cause", prop.ForAll(
		func(errType ErrorType, code, path string) bool {
			root := fmt.Errorf("root cause")
			wrapped := WrapIO(root, ErrCodeReadFailed, "read", path)
			rewrapped := Wrap(wrapped, errType, code, "outer")

			return TypeOf(rewrapped) == errType &&
				rewrapped.Path == path &&
				ExtractCause(rewrapped) == root
		},
		errorTypes,
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
