package output

import (
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/processor"
)

func newTestWriter(t *testing.T) *Writer {
	t.Helper()
	w, err := NewWriter(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	return w
}

// visibleFiles lists regular files in the output root, skipping the staging
// directory.
func visibleFiles(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	return names
}

func TestNames(t *testing.T) {
	w := newTestWriter(t)

	testCases := []struct {
		input     string
		processed string
		encoded   string
	}{
		{"report.pdf", "report_ocr.pdf", "report.base64"},
		{"scan.2024.PDF", "scan.2024_ocr.PDF", "scan.2024.base64"},
		{"noext", "noext_ocr", "noext.base64"},
		{"café.pdf", "café_ocr.pdf", "café.base64"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			processed, encoded := w.Names(tc.input)
			assert.Equal(t, tc.processed, processed)
			assert.Equal(t, tc.encoded, encoded)
		})
	}
}

func TestWriteTransformed(t *testing.T) {
	w := newTestWriter(t)
	ocrBytes := []byte("%PDF-1.7 with a text layer")

	pair, err := w.Write("report.pdf", processor.Result{Bytes: ocrBytes, Transformed: true})
	require.NoError(t, err)
	assert.True(t, pair.Transformed)
	assert.Equal(t, filepath.Join(w.Root(), "report_ocr.pdf"), pair.Processed)
	assert.Equal(t, filepath.Join(w.Root(), "report.base64"), pair.Encoded)

	processed, err := os.ReadFile(pair.Processed)
	require.NoError(t, err)
	assert.Equal(t, ocrBytes, processed)

	encoded, err := os.ReadFile(pair.Encoded)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(string(encoded))
	require.NoError(t, err)
	assert.Equal(t, ocrBytes, decoded)

	assert.ElementsMatch(t, []string{"report_ocr.pdf", "report.base64"}, visibleFiles(t, w.Root()))
}

func TestWritePassThroughDecodesToInput(t *testing.T) {
	w := newTestWriter(t)
	input := []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff, 0x10}

	pair, err := w.Write("report.pdf", processor.PassThrough{}.Process(t.Context(), input, 1))
	require.NoError(t, err)
	assert.False(t, pair.Transformed)

	processed, err := os.ReadFile(pair.Processed)
	require.NoError(t, err)
	assert.Equal(t, input, processed)

	encoded, err := os.ReadFile(pair.Encoded)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(string(encoded))
	require.NoError(t, err)
	assert.Equal(t, input, decoded)
}

func TestWriteOverwritesExistingPair(t *testing.T) {
	w := newTestWriter(t)

	_, err := w.Write("report.pdf", processor.Result{Bytes: []byte("first")})
	require.NoError(t, err)
	pair, err := w.Write("report.pdf", processor.Result{Bytes: []byte("second")})
	require.NoError(t, err)

	processed, err := os.ReadFile(pair.Processed)
	require.NoError(t, err)
	assert.Equal(t, "second", string(processed))
	assert.Len(t, visibleFiles(t, w.Root()), 2)
}

func TestWriteRejectsEscapingNames(t *testing.T) {
	w := newTestWriter(t)

	for _, name := range []string{"../evil.pdf", "sub/evil.pdf", `..\evil.pdf`, "", "a\x00.pdf"} {
		t.Run(name, func(t *testing.T) {
			_, err := w.Write(name, processor.Result{Bytes: []byte("x")})
			require.Error(t, err)
			assert.True(t, ingesterrors.IsSecurityError(err))
		})
	}

	assert.Empty(t, visibleFiles(t, w.Root()))
	parent := filepath.Dir(w.Root())
	_, err := os.Stat(filepath.Join(parent, "evil_ocr.pdf"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWriteLeavesNoStagingFiles(t *testing.T) {
	w := newTestWriter(t)

	_, err := w.Write("a.pdf", processor.Result{Bytes: []byte("a")})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(w.Root(), StagingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteRollsBackWhenSecondRenameFails(t *testing.T) {
	w := newTestWriter(t)

	// A directory squatting on the encoded name makes the second rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(w.Root(), "report.base64", "child"), 0o755))

	_, err := w.Write("report.pdf", processor.Result{Bytes: []byte("data")})
	require.Error(t, err)
	assert.Equal(t, ingesterrors.ErrorTypeIO, ingesterrors.TypeOf(err))

	_, statErr := os.Stat(filepath.Join(w.Root(), "report_ocr.pdf"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "processed file must be rolled back")

	entries, err := os.ReadDir(filepath.Join(w.Root(), StagingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteRestoresPreviousPairWhenSecondRenameFails(t *testing.T) {
	w := newTestWriter(t)

	_, err := w.Write("report.pdf", processor.Result{Bytes: []byte("old")})
	require.NoError(t, err)

	// Replace the encoded file with a non-empty directory so the next
	// publish fails on its second rename.
	encodedPath := filepath.Join(w.Root(), "report.base64")
	require.NoError(t, os.Remove(encodedPath))
	require.NoError(t, os.MkdirAll(filepath.Join(encodedPath, "child"), 0o755))

	_, err = w.Write("report.pdf", processor.Result{Bytes: []byte("new")})
	require.Error(t, err)

	processed, err := os.ReadFile(filepath.Join(w.Root(), "report_ocr.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(processed), "previous processed file must be restored")

	entries, err := os.ReadDir(filepath.Join(w.Root(), StagingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConcurrentReaderNeverSeesPartialFiles(t *testing.T) {
	w := newTestWriter(t)

	payload := make([]byte, 256*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	wantEncoded := base64.StdEncoding.EncodeToString(payload)

	var stop atomic.Bool
	var violations atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			entries, err := os.ReadDir(w.Root())
			if err != nil {
				violations.Add(1)
				return
			}
			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				name := entry.Name()
				data, err := os.ReadFile(filepath.Join(w.Root(), name))
				if err != nil {
					continue
				}
				switch name {
				case "big_ocr.pdf":
					if len(data) != len(payload) {
						violations.Add(1)
					}
				case "big.base64":
					if string(data) != wantEncoded {
						violations.Add(1)
					}
				default:
					violations.Add(1)
				}
			}
		}
	}()

	for i := 0; i < 20; i++ {
		_, err := w.Write("big.pdf", processor.Result{Bytes: payload})
		require.NoError(t, err)
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, violations.Load())
}

func TestCleanStaging(t *testing.T) {
	w := newTestWriter(t)
	staging := filepath.Join(w.Root(), StagingDir)
	require.NoError(t, os.WriteFile(filepath.Join(staging, "left.tmp"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(staging, "keep.txt"), []byte("x"), 0o600))

	removed, err := w.CleanStaging()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(filepath.Join(staging, "keep.txt"))
	assert.NoError(t, err)
}

func TestNewWriterEmptyRoot(t *testing.T) {
	_, err := NewWriter("")
	require.Error(t, err)
	assert.Equal(t, ingesterrors.ErrorTypeConfig, ingesterrors.TypeOf(err))
}
