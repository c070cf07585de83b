//go:build integration

package integration_tests

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/ocrwatch/internal/config"
	"github.com/conneroisu/ocrwatch/internal/ingest"
	"github.com/conneroisu/ocrwatch/internal/logging"
)

const pairTimeout = 10 * time.Second

// writeOCRStub installs a fake ocrmypdf that prefixes its input with
// "OCR:" and returns its absolute path.
func writeOCRStub(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "ocrmypdf")
	script := `#!/bin/sh
if [ "$1" = "--version" ]; then echo "16.4.2"; exit 0; fi
for a in "$@"; do in=$out; out=$a; done
{ printf 'OCR:'; cat "$in"; } > "$out"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

// loadConfig builds a configuration for input the way the CLI does, with
// fast readiness settings and the given overrides.
func loadConfig(t *testing.T, input string, overrides map[string]interface{}) *config.Config {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	v.Set("input.dir", input)
	v.Set("readiness.interval", 10*time.Millisecond)
	v.Set("readiness.settle", 100*time.Millisecond)
	v.Set("readiness.timeout", 3*time.Second)
	v.Set("workers.drain_timeout", 5*time.Second)
	v.Set("log.level", "error")
	for key, value := range overrides {
		v.Set(key, value)
	}

	cfg, err := config.LoadFrom(v)
	require.NoError(t, err)
	return cfg
}

// startHandler runs a handler built from cfg and returns it with a stop
// function that cancels the run and returns its error.
func startHandler(t *testing.T, cfg *config.Config) (*ingest.Handler, func() error) {
	t.Helper()

	h, err := ingest.NewFromConfig(cfg, ingest.WithLogger(logging.NewNopLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(pairTimeout):
			t.Fatal("handler did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })

	// Let the watcher register before the test starts producing files.
	time.Sleep(100 * time.Millisecond)
	return h, stop
}

// waitForPair waits until both outputs for stem exist and returns the
// processed bytes and the decoded base64 bytes.
func waitForPair(t *testing.T, outputDir, stem string) (processed, decoded []byte) {
	t.Helper()

	processedPath := filepath.Join(outputDir, stem+"_ocr.pdf")
	encodedPath := filepath.Join(outputDir, stem+".base64")

	deadline := time.Now().Add(pairTimeout)
	for time.Now().Before(deadline) {
		p, perr := os.ReadFile(processedPath)
		e, eerr := os.ReadFile(encodedPath)
		if perr == nil && eerr == nil {
			d, err := base64.StdEncoding.DecodeString(string(e))
			require.NoError(t, err)
			return p, d
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("outputs for %s did not appear in %s", stem, outputDir)
	return nil, nil
}

// writeInChunks writes data to path in two halves with a pause between them.
// It is safe to call from any goroutine.
func writeInChunks(path string, data []byte, pause time.Duration) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	half := len(data) / 2
	if _, err := f.Write(data[:half]); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return err
	}
	time.Sleep(pause)
	if _, err := f.Write(data[half:]); err != nil {
		return err
	}
	return f.Close()
}
