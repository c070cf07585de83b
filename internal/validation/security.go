// Package validation provides the path containment guard used before any
// output is written, and the command line validation applied to the
// external OCR tool invocation.
package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	ingesterrors "github.com/conneroisu/ocrwatch/internal/errors"
)

// IsWithin reports whether candidate lies strictly below root once both are
// made absolute, cleaned of ".." segments and resolved through symlinks. The
// root itself is not within root.
func IsWithin(candidate, root string) bool {
	if candidate == "" || root == "" {
		return false
	}

	c, err := Canonical(candidate)
	if err != nil {
		return false
	}
	r, err := Canonical(root)
	if err != nil {
		return false
	}

	rel, err := filepath.Rel(r, c)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Canonical returns the absolute, cleaned form of path with symlinks resolved
// for the longest prefix that exists on disk. Components that do not exist
// yet are appended unchanged.
func Canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	existing := abs
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(existing)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("resolving %s: %w", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return abs, nil
		}
		rest = append([]string{filepath.Base(existing)}, rest...)
		existing = parent
	}
}

// ResolveWithin joins name onto root and rejects the result unless it is
// contained in root.
func ResolveWithin(root, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", ingesterrors.NewSecurityError(ingesterrors.ErrCodeInvalidName, fmt.Sprintf("invalid name %q", name))
	}

	candidate := filepath.Join(root, name)
	if !IsWithin(candidate, root) {
		return "", ingesterrors.ErrPathTraversal(name)
	}
	return candidate, nil
}

// ValidateArgument validates a command line argument to prevent injection attacks
func ValidateArgument(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("contains NUL byte")
	}

	// Check for shell metacharacters that could be used for command injection
	dangerous := []string{";", "&", "|", "$", "`", "<", ">", "\n"}
	for _, char := range dangerous {
		if strings.Contains(arg, char) {
			return fmt.Errorf("contains dangerous character: %q", char)
		}
	}

	return nil
}

// ValidateCommand validates a command against an allowlist of executable
// base names. Absolute paths are accepted when their base name is allowed.
func ValidateCommand(command string, allowedCommands map[string]bool) error {
	if command == "" {
		return fmt.Errorf("command cannot be empty")
	}

	if err := ValidateArgument(command); err != nil {
		return ingesterrors.ErrCommandInjection(command).WithContext("reason", err.Error())
	}

	base := filepath.Base(command)
	if !allowedCommands[base] {
		return fmt.Errorf("command '%s' is not allowed", command)
	}

	if base != command && !filepath.IsAbs(command) {
		return fmt.Errorf("command '%s' must be a bare name or an absolute path", command)
	}

	return nil
}
