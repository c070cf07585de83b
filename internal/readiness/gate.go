// Package readiness decides when a newly observed file has finished being
// written. Filesystem create events fire when the writer opens the file, not
// when it closes it, so every candidate is sampled until its size settles.
package readiness

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

const (
	DefaultInterval = 500 * time.Millisecond
	DefaultTimeout  = 15 * time.Second
)

var (
	// ErrNotFound is returned when the file vanishes before it stabilizes.
	ErrNotFound = errors.New("file vanished before becoming ready")
	// ErrTimeout is returned when the size keeps changing past the timeout.
	ErrTimeout = errors.New("file did not stabilize before timeout")
)

// ReadyFile is a candidate confirmed stable, with its size at confirmation.
type ReadyFile struct {
	Path    string
	Size    int64
	ReadyAt time.Time
}

// Gate samples file sizes. The zero value uses the defaults; a Gate holds no
// per-call state and may be shared by concurrent callers.
type Gate struct {
	// Interval between two stat samples.
	Interval time.Duration
	// Timeout bounds the whole wait.
	Timeout time.Duration
	// Settle is how long the size must stay unchanged. Zero means two
	// intervals, i.e. two consecutive stable checks after the first sample.
	// A writer that pauses between chunks is only waited for when Settle is
	// longer than its pause.
	Settle time.Duration
}

func (g Gate) interval() time.Duration {
	if g.Interval <= 0 {
		return DefaultInterval
	}
	return g.Interval
}

func (g Gate) timeout() time.Duration {
	if g.Timeout <= 0 {
		return DefaultTimeout
	}
	return g.Timeout
}

func (g Gate) settle() time.Duration {
	if g.Settle <= 0 {
		return 2 * g.interval()
	}
	return g.Settle
}

// AwaitReady blocks until path is ready, vanished, timed out or ctx ends.
//
// A file is ready when its size is non-zero, has not changed for at least
// Settle, and it can be opened for reading.
func (g Gate) AwaitReady(ctx context.Context, path string) (ReadyFile, error) {
	interval := g.interval()
	settle := g.settle()

	deadline := time.NewTimer(g.timeout())
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastSize := int64(-1)
	var stableSince time.Time

	for {
		info, err := os.Stat(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return ReadyFile{}, ErrNotFound
		case err != nil:
			// Permission races and similar are transient; keep sampling.
			lastSize = -1
		case info.IsDir():
			return ReadyFile{}, ErrNotFound
		default:
			now := time.Now()
			size := info.Size()
			if size != lastSize || size == 0 {
				lastSize = size
				stableSince = now
			} else if now.Sub(stableSince) >= settle && readable(path) {
				return ReadyFile{Path: path, Size: size, ReadyAt: now}, nil
			}
		}

		select {
		case <-ctx.Done():
			return ReadyFile{}, ctx.Err()
		case <-deadline.C:
			return ReadyFile{}, ErrTimeout
		case <-ticker.C:
		}
	}
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
