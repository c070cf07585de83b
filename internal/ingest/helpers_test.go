package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/ocrwatch/internal/dispatch"
	"github.com/conneroisu/ocrwatch/internal/output"
	"github.com/conneroisu/ocrwatch/internal/readiness"
)

func newWriter(t *testing.T, root string) *output.Writer {
	t.Helper()
	w, err := output.NewWriter(root)
	require.NoError(t, err)
	return w
}

func dispatchTask(path string) dispatch.Task {
	return dispatch.Task{
		ID:         "test",
		File:       readiness.ReadyFile{Path: path, Size: 1, ReadyAt: time.Now()},
		EnqueuedAt: time.Now(),
	}
}
