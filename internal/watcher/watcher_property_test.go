//go:build property

package watcher

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestFilterProperties checks the default filter chain never accepts its own
// outputs, hidden files or files with the wrong suffix.
func TestFilterProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	parameters.Rng.Seed(1234)

	properties := gopter.NewProperties(parameters)
	filters := DefaultFilters(".pdf")
	accept := func(path string) bool {
		for _, f := range filters {
			if !f(path) {
				return false
			}
		}
		return true
	}

	properties.Property("processed outputs are rejected", prop.ForAll(
		func(stem string, sep string) bool {
			return !accept(filepath.Join("/in", stem+sep+"ocr.pdf"))
		},
		gen.AlphaString(),
		gen.OneConstOf("_", "."),
	))

	properties.Property("hidden files are rejected", prop.ForAll(
		func(stem string) bool {
			return !accept(filepath.Join("/in", "."+stem+".pdf"))
		},
		gen.AlphaString(),
	))

	properties.Property("plain pdf names are accepted", prop.ForAll(
		func(stem string) bool {
			if stem == "" || strings.HasSuffix(strings.ToLower(stem), "ocr") {
				return true
			}
			return accept(filepath.Join("/in", stem+".pdf"))
		},
		gen.AlphaString(),
	))

	properties.Property("other suffixes are rejected", prop.ForAll(
		func(stem, ext string) bool {
			if strings.EqualFold(ext, "pdf") {
				return true
			}
			return !accept(filepath.Join("/in", stem+"."+ext))
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
