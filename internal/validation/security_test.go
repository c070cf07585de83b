package validation

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsWithin(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name      string
		candidate string
		want      bool
	}{
		{name: "direct child", candidate: filepath.Join(root, "report_ocr.pdf"), want: true},
		{name: "nested child", candidate: filepath.Join(root, "a", "b.pdf"), want: true},
		{name: "root itself", candidate: root, want: false},
		{name: "parent traversal", candidate: filepath.Join(root, "..", "escape.pdf"), want: false},
		{name: "deep traversal", candidate: root + "/a/../../escape.pdf", want: false},
		{name: "sibling with common prefix", candidate: root + "-other/file.pdf", want: false},
		{name: "dot dot prefixed name", candidate: filepath.Join(root, "..report.pdf"), want: true},
		{name: "empty", candidate: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsWithin(tt.candidate, root))
		})
	}
}

func TestIsWithinResolvesSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}

	base := t.TempDir()
	root := filepath.Join(base, "out")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))

	// A link inside the root pointing out of it must not count as contained.
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "link")))
	assert.False(t, IsWithin(filepath.Join(root, "link", "x.pdf"), root))

	// A root reached through a symlink still contains its children.
	aliasRoot := filepath.Join(base, "alias")
	require.NoError(t, os.Symlink(root, aliasRoot))
	assert.True(t, IsWithin(filepath.Join(aliasRoot, "x.pdf"), root))
	assert.True(t, IsWithin(filepath.Join(root, "x.pdf"), aliasRoot))
}

func TestResolveWithin(t *testing.T) {
	root := t.TempDir()

	path, err := ResolveWithin(root, "report.base64")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "report.base64"), path)

	_, err = ResolveWithin(root, "../report.base64")
	require.Error(t, err)
	assert.True(t, ingesterrors.IsSecurityError(err))

	_, err = ResolveWithin(root, "")
	require.Error(t, err)

	_, err = ResolveWithin(root, "bad\x00name")
	require.Error(t, err)

	_, err = ResolveWithin(root, ".")
	require.Error(t, err)
}

func TestCanonicalNonExistingTail(t *testing.T) {
	root := t.TempDir()
	resolvedRoot, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)

	got, err := Canonical(filepath.Join(root, "missing", "file.pdf"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(resolvedRoot, "missing", "file.pdf"), got)
}

func TestValidateArgument(t *testing.T) {
	tests := []struct {
		name    string
		arg     string
		wantErr bool
	}{
		{name: "flag", arg: "--skip-text", wantErr: false},
		{name: "temp path", arg: "/tmp/ocrwatch-123/in.pdf", wantErr: false},
		{name: "semicolon", arg: "in.pdf; rm -rf /", wantErr: true},
		{name: "pipe", arg: "in.pdf | cat /etc/passwd", wantErr: true},
		{name: "backtick", arg: "in`whoami`.pdf", wantErr: true},
		{name: "subshell", arg: "file$(whoami).pdf", wantErr: true},
		{name: "nul", arg: "in\x00.pdf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateArgument(tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	allowed := map[string]bool{"ocrmypdf": true}

	assert.NoError(t, ValidateCommand("ocrmypdf", allowed))
	assert.NoError(t, ValidateCommand("/usr/local/bin/ocrmypdf", allowed))
	assert.Error(t, ValidateCommand("", allowed))
	assert.Error(t, ValidateCommand("rm", allowed))
	assert.Error(t, ValidateCommand("bin/ocrmypdf", allowed))

	err := ValidateCommand("ocrmypdf;id", allowed)
	require.Error(t, err)
	assert.True(t, ingesterrors.IsSecurityError(err))
}
