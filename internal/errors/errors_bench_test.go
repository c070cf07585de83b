package errors

import (
	"fmt"
	"os"
	"testing"
)

func BenchmarkCollector_Add(b *testing.B) {
	collector := NewCollector(DefaultCollectorCapacity)
	err := WrapIO(os.ErrPermission, ErrCodeWriteFailed, "write failed", "/out/a_ocr.pdf")

	b.ResetTimer()
	for i := range b.N {
		collector.Add(Failure{
			TaskID: fmt.Sprint(i),
			Path:   "/in/a.pdf",
			Err:    err,
		})
	}
}

func BenchmarkCollector_Recent(b *testing.B) {
	collector := NewCollector(DefaultCollectorCapacity)
	for i := range DefaultCollectorCapacity {
		collector.Add(Failure{Path: fmt.Sprintf("/in/%d.pdf", i), Err: os.ErrNotExist})
	}

	b.ResetTimer()
	for range b.N {
		_ = collector.Recent()
	}
}

func BenchmarkTypeOf(b *testing.B) {
	err := fmt.Errorf("task: %w", NewTransformError(ErrCodeTransformFailed, "ocrmypdf failed", os.ErrDeadlineExceeded))

	b.ResetTimer()
	for range b.N {
		_ = TypeOf(err)
	}
}
