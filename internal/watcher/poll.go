package watcher

import (
	"context"
	"os"
	"sort"
	"time"
)

// snapshot maps file paths to the file they referred to when listed.
type snapshot map[string]os.FileInfo

func (w *Watcher) takeSnapshot() snapshot {
	snap := make(snapshot)
	for _, path := range w.list(w.root) {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		snap[path] = info
	}
	return snap
}

// changed returns paths that are new in next, or that now name a different
// file than in prev (replaced by a move), in sorted order.
func changed(prev, next snapshot) []string {
	var paths []string
	for path, info := range next {
		old, ok := prev[path]
		if !ok || !os.SameFile(old, info) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths
}

func (w *Watcher) runPoll(ctx context.Context, out chan<- CandidatePath) error {
	prev := w.takeSnapshot()

	if w.initialScan {
		paths := make([]string, 0, len(prev))
		for path := range prev {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			if !w.emit(ctx, out, path, SourceScan) {
				return nil
			}
		}
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			next := w.takeSnapshot()
			for _, path := range changed(prev, next) {
				if !w.emit(ctx, out, path, SourcePoll) {
					return nil
				}
			}
			prev = next
		}
	}
}
