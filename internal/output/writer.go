// Package output publishes the artifact pair derived from one input file.
//
// For an input named name.ext the writer produces name_ocr.ext (the OCR or
// pass-through document) and name.base64 (the base64 text of the same
// bytes). Both files are staged in a hidden directory on the same
// filesystem and renamed into place, so readers of the output directory only
// ever see complete files under their final names.
package output

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/conneroisu/ocrwatch/internal/processor"
	"github.com/conneroisu/ocrwatch/internal/validation"
)

const (
	// StagingDir holds temp files before they are renamed into place.
	StagingDir = ".staging"

	DefaultProcessedSuffix = "_ocr"
	DefaultEncodedExt      = ".base64"
)

// ArtifactPair lists the two files written for one input.
type ArtifactPair struct {
	Processed string
	Encoded   string
	// Transformed mirrors processor.Result.Transformed.
	Transformed bool
	Bytes       int64
}

// Writer writes artifact pairs below a single output root.
type Writer struct {
	root            string
	staging         string
	processedSuffix string
	encodedExt      string
	perm            os.FileMode
}

// Option configures a Writer.
type Option func(*Writer)

// WithProcessedSuffix overrides the "_ocr" suffix.
func WithProcessedSuffix(suffix string) Option {
	return func(w *Writer) {
		if suffix != "" {
			w.processedSuffix = suffix
		}
	}
}

// WithPermissions sets the mode of published files.
func WithPermissions(perm os.FileMode) Option {
	return func(w *Writer) {
		if perm != 0 {
			w.perm = perm
		}
	}
}

// NewWriter creates the output root if needed and resolves it to its
// canonical form.
func NewWriter(root string, opts ...Option) (*Writer, error) {
	if root == "" {
		return nil, ingesterrors.NewConfigError(ingesterrors.ErrCodeConfigInvalid, "output root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "creating output root", root)
	}
	canonical, err := validation.Canonical(root)
	if err != nil {
		return nil, ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "resolving output root", root)
	}

	w := &Writer{
		root:            canonical,
		staging:         filepath.Join(canonical, StagingDir),
		processedSuffix: DefaultProcessedSuffix,
		encodedExt:      DefaultEncodedExt,
		perm:            0o644,
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := os.MkdirAll(w.staging, 0o700); err != nil {
		return nil, ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "creating staging directory", w.staging)
	}
	return w, nil
}

// Root returns the canonical output root.
func (w *Writer) Root() string {
	return w.root
}

// Names derives the processed and encoded file names from an input base
// name. The name is NFC normalized so decomposed and composed spellings of
// the same file map to the same outputs.
func (w *Writer) Names(baseName string) (processed, encoded string) {
	name := norm.NFC.String(baseName)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	return stem + w.processedSuffix + ext, stem + w.encodedExt
}

// Write publishes result under names derived from baseName. Either both
// new files are in place afterwards or the pair that was there before is
// left as it was.
func (w *Writer) Write(baseName string, result processor.Result) (ArtifactPair, error) {
	if baseName == "" {
		return ArtifactPair{}, ingesterrors.NewSecurityError(ingesterrors.ErrCodeInvalidName, "empty base name").WithComponent("output")
	}
	if strings.ContainsAny(baseName, `/\`) {
		return ArtifactPair{}, ingesterrors.ErrPathTraversal(baseName).WithComponent("output")
	}

	processedName, encodedName := w.Names(baseName)
	processedPath, err := validation.ResolveWithin(w.root, processedName)
	if err != nil {
		return ArtifactPair{}, err
	}
	encodedPath, err := validation.ResolveWithin(w.root, encodedName)
	if err != nil {
		return ArtifactPair{}, err
	}
	if filepath.Dir(processedPath) != w.root || filepath.Dir(encodedPath) != w.root {
		return ArtifactPair{}, ingesterrors.ErrPathTraversal(baseName).WithComponent("output")
	}

	encoded := make([]byte, base64.StdEncoding.EncodedLen(len(result.Bytes)))
	base64.StdEncoding.Encode(encoded, result.Bytes)

	processedTmp, err := w.stage(result.Bytes)
	if err != nil {
		return ArtifactPair{}, err
	}
	encodedTmp, err := w.stage(encoded)
	if err != nil {
		_ = os.Remove(processedTmp)
		return ArtifactPair{}, err
	}

	// Keep the previous processed file reachable so a failed second rename
	// can put it back and leave the old pair intact.
	backup := w.backup(processedPath)

	if err := os.Rename(processedTmp, processedPath); err != nil {
		_ = os.Remove(processedTmp)
		_ = os.Remove(encodedTmp)
		w.discard(backup)
		return ArtifactPair{}, ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "publishing processed file", processedPath)
	}
	if err := os.Rename(encodedTmp, encodedPath); err != nil {
		_ = os.Remove(encodedTmp)
		if backup == "" || os.Rename(backup, processedPath) != nil {
			_ = os.Remove(processedPath)
			w.discard(backup)
		}
		return ArtifactPair{}, ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "publishing encoded file", encodedPath)
	}
	w.discard(backup)
	syncDir(w.root)

	return ArtifactPair{
		Processed:   processedPath,
		Encoded:     encodedPath,
		Transformed: result.Transformed,
		Bytes:       int64(len(result.Bytes)),
	}, nil
}

// stage writes data to a fresh temp file in the staging directory and
// returns its path.
func (w *Writer) stage(data []byte) (string, error) {
	path := filepath.Join(w.staging, uuid.NewString()+".tmp")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, w.perm)
	if err != nil {
		return "", ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "creating temp file", path)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "writing temp file", path)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "syncing temp file", path)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return "", ingesterrors.WrapIO(err, ingesterrors.ErrCodeWriteFailed, "closing temp file", path)
	}
	return path, nil
}

// backup hard links an existing file at path into the staging directory and
// returns the link, or "" when there is nothing to keep or linking is not
// supported.
func (w *Writer) backup(path string) string {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	link := filepath.Join(w.staging, uuid.NewString()+".tmp")
	if err := os.Link(path, link); err != nil {
		return ""
	}
	return link
}

func (w *Writer) discard(backup string) {
	if backup != "" {
		_ = os.Remove(backup)
	}
}

// CleanStaging removes temp files left behind by an interrupted process.
func (w *Writer) CleanStaging() (int, error) {
	entries, err := os.ReadDir(w.staging)
	if err != nil {
		return 0, fmt.Errorf("reading staging directory: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".tmp" {
			continue
		}
		if err := os.Remove(filepath.Join(w.staging, entry.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}

// syncDir flushes the directory entry changes made by rename. Failures are
// ignored: some filesystems do not support fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
