// Package watcher discovers candidate input files in a directory.
//
// A Watcher runs in one of two modes. Event mode relies on fsnotify and
// reports files as they are created or moved into the directory. Poll mode
// compares directory snapshots at a fixed interval and is meant for network
// mounts where change notifications are not delivered. Both modes produce the
// same stream of CandidatePath values and both can start with a synchronous
// scan of files that already exist.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/logging"
)

// Mode selects how changes are detected.
type Mode string

const (
	ModeEvent Mode = "event"
	ModePoll  Mode = "poll"
)

// DefaultPollInterval is used when Options.PollInterval is zero.
const DefaultPollInterval = 2 * time.Second

// Source records how a candidate was discovered.
type Source int

const (
	SourceScan Source = iota
	SourceEvent
	SourcePoll
)

// String returns the string representation of the Source
func (s Source) String() string {
	switch s {
	case SourceScan:
		return "scan"
	case SourceEvent:
		return "event"
	case SourcePoll:
		return "poll"
	default:
		return "unknown"
	}
}

// CandidatePath is a file that may be ready for processing.
type CandidatePath struct {
	Path         string
	DiscoveredAt time.Time
	Source       Source
}

// Options configures a Watcher.
type Options struct {
	Root         string
	Mode         Mode
	PollInterval time.Duration
	Recursive    bool
	InitialScan  bool
	// Filters must all accept a path for it to be emitted.
	Filters []FileFilter
	// ExcludeDirs are neither descended into nor reported from.
	ExcludeDirs []string
	Logger      logging.Logger
}

// Watcher emits candidate files found under a root directory.
type Watcher struct {
	root         string
	mode         Mode
	pollInterval time.Duration
	recursive    bool
	initialScan  bool
	filters      []FileFilter
	excluded     []string
	logger       logging.Logger
}

// New validates opts and returns a Watcher. The root must be an existing
// directory.
func New(opts Options) (*Watcher, error) {
	if opts.Root == "" {
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeConfigInvalid, "watch root is empty")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, ingesterrors.WrapFilesystem(err, ingesterrors.ErrCodeFileNotFound, "resolving watch root", opts.Root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, ingesterrors.WrapFilesystem(err, ingesterrors.ErrCodeFileNotFound, "watch root is not accessible", root)
	}
	if !info.IsDir() {
		return nil, ingesterrors.NewFilesystemError(ingesterrors.ErrCodeFileNotFound, "watch root is not a directory", nil).WithPath(root)
	}

	mode := opts.Mode
	switch mode {
	case "":
		mode = ModeEvent
	case ModeEvent, ModePoll:
	default:
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeConfigInvalid, fmt.Sprintf("unknown watch mode %q", mode))
	}

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	w := &Watcher{
		root:         root,
		mode:         mode,
		pollInterval: interval,
		recursive:    opts.Recursive,
		initialScan:  opts.InitialScan,
		logger:       logger.WithComponent("watcher"),
	}
	w.filters = append(w.filters, opts.Filters...)
	for _, dir := range opts.ExcludeDirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if abs == root {
			continue
		}
		w.excluded = append(w.excluded, abs)
		w.filters = append(w.filters, ExcludeDirFilter(abs))
	}
	return w, nil
}

// Root returns the absolute watch root.
func (w *Watcher) Root() string {
	return w.root
}

// Mode returns the detection mode in use.
func (w *Watcher) Mode() Mode {
	return w.mode
}

// Run emits candidates on out until ctx is cancelled. The live source is
// registered before the initial scan so nothing created during the scan is
// missed; scan results are all emitted before any live change. Sends on out
// block, so a slow consumer slows the watcher down.
func (w *Watcher) Run(ctx context.Context, out chan<- CandidatePath) error {
	w.logger.Info(ctx, "watching directory",
		"root", w.root, "mode", string(w.mode), "recursive", w.recursive, "initial_scan", w.initialScan)

	if w.mode == ModePoll {
		return w.runPoll(ctx, out)
	}
	return w.runEvents(ctx, out)
}

func (w *Watcher) runEvents(ctx context.Context, out chan<- CandidatePath) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return ingesterrors.WrapFilesystem(err, ingesterrors.ErrCodeInternalError, "creating fsnotify watcher", w.root)
	}
	defer fsw.Close()

	if err := w.addWatches(fsw, w.root); err != nil {
		return ingesterrors.WrapFilesystem(err, ingesterrors.ErrCodeFileNotFound, "watching directory", w.root)
	}

	if w.initialScan {
		if !w.scan(ctx, w.root, SourceScan, out) {
			return nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.handleEvent(ctx, fsw, event, out) {
				return nil
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

// addWatches registers dir, and its subdirectories when recursive.
func (w *Watcher) addWatches(fsw *fsnotify.Watcher, dir string) error {
	if !w.recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && w.skipDir(path) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			w.logger.Debug(context.Background(), "skipping unwatchable directory", "path", path, "error", err.Error())
		}
		return nil
	})
}

// handleEvent reports whether the watcher should keep running.
func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event, out chan<- CandidatePath) bool {
	if !event.Has(fsnotify.Create) {
		return true
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		// Vanished before we looked; a later event will report it again.
		w.logger.Debug(ctx, "dropping vanished candidate", "path", event.Name)
		return true
	}

	if info.IsDir() {
		if !w.recursive || w.skipDir(event.Name) {
			return true
		}
		if err := w.addWatches(fsw, event.Name); err != nil {
			w.logger.Warn(ctx, err, "watching new directory", "path", event.Name)
			return true
		}
		// Files may have landed before the watch was in place.
		return w.scan(ctx, event.Name, SourceEvent, out)
	}

	return w.emit(ctx, out, event.Name, SourceEvent)
}

// scan emits every accepted regular file below dir in lexical order. It
// reports false when ctx was cancelled.
func (w *Watcher) scan(ctx context.Context, dir string, source Source, out chan<- CandidatePath) bool {
	for _, path := range w.list(dir) {
		if !w.emit(ctx, out, path, source) {
			return false
		}
	}
	return true
}

// List returns the accepted files currently under the root, sorted.
func (w *Watcher) List() []string {
	return w.list(w.root)
}

// list returns the regular files below dir that pass the filters, sorted.
func (w *Watcher) list(dir string) []string {
	var paths []string
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !w.recursive || w.skipDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && w.accept(path) {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	return paths
}

func (w *Watcher) emit(ctx context.Context, out chan<- CandidatePath, path string, source Source) bool {
	if !w.accept(path) {
		return true
	}
	candidate := CandidatePath{
		Path:         path,
		DiscoveredAt: time.Now(),
		Source:       source,
	}
	select {
	case out <- candidate:
		w.logger.Debug(ctx, "candidate discovered", "path", path, "source", source.String())
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *Watcher) accept(path string) bool {
	for _, filter := range w.filters {
		if !filter(path) {
			return false
		}
	}
	return true
}

func (w *Watcher) skipDir(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}
	for _, excluded := range w.excluded {
		if path == excluded {
			return true
		}
	}
	return false
}
