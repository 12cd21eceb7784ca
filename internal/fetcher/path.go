package fetcher

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for storage keys that would land outside the
// output root.
var ErrUnsafePath = errors.New("fetcher: unsafe path")

// RelativePath normalizes a storage key into a slash-separated relative
// path. Leading slashes, empty segments and "." segments are dropped. Keys
// with ".." segments or nothing left after normalization are unsafe.
func RelativePath(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")

	var parts []string
	for _, seg := range strings.Split(key, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", fmt.Errorf("%w: %q contains a parent segment", ErrUnsafePath, key)
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: %q is empty after normalization", ErrUnsafePath, key)
	}
	return strings.Join(parts, "/"), nil
}

// SafeJoin joins rel onto root and returns the absolute destination. It
// fails when the result is not strictly inside root.
func SafeJoin(root, rel string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve output root: %w", err)
	}
	if absRoot, err = resolveExisting(absRoot); err != nil {
		return "", fmt.Errorf("resolve output root: %w", err)
	}

	candidate := filepath.Join(absRoot, filepath.FromSlash(rel))
	// Symlinks already inside the root must not lead out of it.
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", candidate, err)
	}
	r, err := filepath.Rel(absRoot, resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(r) {
		return "", fmt.Errorf("%w: %q escapes %s", ErrUnsafePath, rel, absRoot)
	}
	return candidate, nil
}

// resolveExisting evaluates symlinks in the longest existing prefix of p and
// appends the remaining, not yet created, elements.
func resolveExisting(p string) (string, error) {
	var rest []string
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}
