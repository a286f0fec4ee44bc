// Package workspace confines filesystem access to a single root directory.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is matched by every containment failure.
var ErrAccessDenied = errors.New("access denied")

// AccessDeniedError names the offending path and the workspace root.
type AccessDeniedError struct {
	Path string
	Root string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("Access denied: Path %s is outside the workspace %s", e.Path, e.Root)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// Sandbox resolves paths against a root and rejects anything outside it.
type Sandbox struct {
	root string
}

// New creates the root directory if needed and returns a sandbox over it.
func New(root string) (*Sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Sandbox{root: abs}, nil
}

func (s *Sandbox) Root() string { return s.root }

// Resolve returns the absolute form of path. Relative paths are taken
// from the root. Symlinks are followed as far as the path exists so a
// link cannot point outside the workspace.
func (s *Sandbox) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.root, candidate)
	}
	candidate = filepath.Clean(candidate)

	resolved := evalExisting(candidate)
	if !s.contains(resolved) {
		return "", &AccessDeniedError{Path: path, Root: s.root}
	}
	return resolved, nil
}

// Rel renders an absolute path relative to the root, "." for the root itself.
func (s *Sandbox) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return abs
	}
	return rel
}

func (s *Sandbox) contains(p string) bool {
	if p == s.root {
		return true
	}
	return strings.HasPrefix(p, s.root+string(filepath.Separator))
}

// evalExisting follows symlinks on the longest existing prefix of p and
// re-attaches the missing tail.
func evalExisting(p string) string {
	var tail []string
	cur := p
	for {
		if real, err := filepath.EvalSymlinks(cur); err == nil {
			parts := append([]string{real}, tail...)
			return filepath.Join(parts...)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = append([]string{filepath.Base(cur)}, tail...)
		cur = parent
	}
}
