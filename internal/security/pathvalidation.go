// Package security guards the paths a session writes to. Session ids and
// output file names come from config files and the command line, so they are
// checked before anything is created.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFileName checks that name is a single path element: not empty, not
// "." or "..", and free of separators.
func ValidateFileName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	if strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("file name %q must not contain a path separator", name)
	}
	return nil
}

// ValidatePathWithinDirectory checks that path resolves inside dir once
// symlinks are followed. Components of path that do not exist yet are
// resolved against their deepest existing parent.
func ValidatePathWithinDirectory(path, dir string) error {
	resolved, err := resolve(path)
	if err != nil {
		return err
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory: %w", err)
	}
	root, err := filepath.EvalSymlinks(absDir)
	if err != nil {
		return fmt.Errorf("failed to resolve directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(root, resolved)
	if err != nil {
		return fmt.Errorf("path %s is outside %s: %w", path, dir, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, dir)
	}
	return nil
}

// resolve returns the canonical absolute form of path.
func resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		return r, nil
	}
	for parent := filepath.Dir(abs); ; parent = filepath.Dir(parent) {
		if r, err := filepath.EvalSymlinks(parent); err == nil {
			rest, _ := filepath.Rel(parent, abs)
			return filepath.Join(r, rest), nil
		}
		if filepath.Dir(parent) == parent {
			return abs, nil
		}
	}
}
