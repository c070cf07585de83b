package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		records = append(records, record)
	}
	return records
}

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected LogLevel
		ok       bool
	}{
		{"debug", LevelDebug, true},
		{"INFO", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"", LevelInfo, true},
		{"verbose", LevelInfo, false},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			level, ok := ParseLevel(tc.input)
			assert.Equal(t, tc.expected, level)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestLoggerJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelDebug, Format: "json", Output: &buf})

	ctx := context.Background()
	logger.WithComponent("dispatcher").With("path", "/in/a.pdf").
		Warn(ctx, errors.New("disk full"), "write failed", "task_id", "t1")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "WARN", records[0]["level"])
	assert.Equal(t, "write failed", records[0]["msg"])
	assert.Equal(t, "dispatcher", records[0]["component"])
	assert.Equal(t, "/in/a.pdf", records[0]["path"])
	assert.Equal(t, "disk full", records[0]["error"])
	assert.Equal(t, "t1", records[0]["task_id"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelWarn, Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Debug(ctx, "debug")
	logger.Info(ctx, "info")
	logger.Warn(ctx, nil, "warn")
	logger.Error(ctx, nil, "error")

	records := decodeLines(t, &buf)
	require.Len(t, records, 2)
	assert.Equal(t, "warn", records[0]["msg"])
	assert.Equal(t, "error", records[1]["msg"])
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, "json", resolveFormat("auto", &buf))
	assert.Equal(t, "text", resolveFormat("text", &buf))
	assert.Equal(t, "json", resolveFormat("json", os.Stdout))
}

func TestWithDoesNotMutateParent(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})
	_ = parent.With("child", true)

	parent.Info(context.Background(), "parent")
	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	_, found := records[0]["child"]
	assert.False(t, found)
}

func TestFileLogger(t *testing.T) {
	dir := t.TempDir()
	fileLogger, err := NewFileLogger(&LoggerConfig{Level: LevelInfo}, filepath.Join(dir, "logs"))
	require.NoError(t, err)

	fileLogger.Info(context.Background(), "hello", "n", 1)
	require.NoError(t, fileLogger.Close())

	data, err := os.ReadFile(fileLogger.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.True(t, strings.HasPrefix(filepath.Base(fileLogger.Path()), "ocrwatch-"))
}

func TestMultiLogger(t *testing.T) {
	var a, b bytes.Buffer
	multi := NewMultiLogger(
		NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &a}),
		NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &b}),
	)

	multi.WithComponent("watcher").Info(context.Background(), "candidate")

	assert.Contains(t, a.String(), `"component":"watcher"`)
	assert.Contains(t, b.String(), `"component":"watcher"`)
}

func TestPerfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LevelInfo, Format: "json", Output: &buf})

	op := StartOperation(logger, "process", "path", "/in/a.pdf")
	op.End(context.Background(), "processed")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "process", records[0]["operation"])
	assert.Equal(t, "/in/a.pdf", records[0]["path"])
	assert.Contains(t, records[0], "duration_ms")
}
