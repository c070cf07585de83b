// Package internal contains the implementation packages of ocrwatch.
//
// # Package Organization
//
// Packages are listed leaves first:
//
//   - errors: typed IngestError taxonomy and the bounded failure Collector
//   - logging: structured logging over log/slog
//   - validation: output path containment and external command checks
//   - readiness: size sampling until a new file stops growing
//   - processor: ocrmypdf invocation with pass-through fallback
//   - output: atomic writes of the processed file and its base64 copy
//   - dispatch: bounded queue, worker pool and the in-flight path set
//   - watcher: fsnotify and polling discovery of candidate files
//   - config: viper backed configuration with validation
//   - ingest: the handler wiring watcher, gate, dispatcher and writer
//   - version: build identity
//
// # Data Flow
//
//	watcher -> readiness gate -> dispatcher queue -> worker
//	        -> processor -> output writer -> name_ocr.pdf + name.base64
//
// A path is owned by at most one worker at a time. Per-file failures are
// logged and recorded in the failure Collector; they never stop the watch.
package internal
