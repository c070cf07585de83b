package watcher

import (
	"path/filepath"
	"strings"

	"github.com/conneroisu/ocrwatch/internal/validation"
)

// FileFilter determines if a file should be reported
type FileFilter func(path string) bool

// SuffixFilter accepts files whose extension matches suffix, ignoring case.
func SuffixFilter(suffix string) FileFilter {
	suffix = strings.ToLower(suffix)
	if suffix != "" && !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return func(path string) bool {
		return strings.ToLower(filepath.Ext(path)) == suffix
	}
}

// NoProcessedFilter rejects files that are themselves outputs, such as
// report_ocr.pdf or report.ocr.pdf.
func NoProcessedFilter(path string) bool {
	base := strings.ToLower(filepath.Base(path))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return !strings.HasSuffix(stem, "_ocr") && !strings.HasSuffix(stem, ".ocr")
}

// NoHiddenFilter rejects dot files, which includes editor and transfer
// temp files.
func NoHiddenFilter(path string) bool {
	return !strings.HasPrefix(filepath.Base(path), ".")
}

// ExcludeDirFilter rejects anything inside dir.
func ExcludeDirFilter(dir string) FileFilter {
	return func(path string) bool {
		return !validation.IsWithin(path, dir)
	}
}

// DefaultFilters returns the filter chain used for PDF ingestion.
func DefaultFilters(suffix string) []FileFilter {
	return []FileFilter{
		SuffixFilter(suffix),
		NoProcessedFilter,
		NoHiddenFilter,
	}
}
