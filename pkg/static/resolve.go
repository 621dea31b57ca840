// Package static serves the bundled UI from a trusted root directory.
//
// Every request path is resolved against the real filesystem (symlinks and
// ".." segments included) before it is checked for containment, so neither
// traversal sequences nor symlinks can reach files outside the root.
package static

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// IndexFile is served for an empty request path.
const IndexFile = "index.html"

var (
	// ErrNotFound means the request path does not resolve to an existing file.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the request path resolves outside the root.
	ErrForbidden = errors.New("forbidden")

	// ErrInternal means the root itself could not be canonicalized.
	ErrInternal = errors.New("internal error")
)

// evalSymlinks is swapped out in tests.
var evalSymlinks = filepath.EvalSymlinks

// Resolve maps requestPath to a canonical file path inside root.
func Resolve(root, requestPath string) (string, error) {
	return ResolveEntry(root, requestPath, IndexFile)
}

// ResolveEntry is Resolve with a custom entry file for the empty path.
// requestPath is a raw request target; everything from the first '?' is
// ignored.
func ResolveEntry(root, requestPath, entry string) (string, error) {
	if i := strings.IndexByte(requestPath, '?'); i >= 0 {
		requestPath = requestPath[:i]
	}
	return resolvePath(root, requestPath, entry)
}

// resolvePath resolves an already decoded URL path. A '?' in it is part of
// the file name.
func resolvePath(root, urlPath, entry string) (string, error) {
	rel := strings.TrimLeft(urlPath, "/")
	if rel == "" {
		rel = entry
	}

	// Plain concatenation; filepath.Join would clean ".." before the
	// filesystem has had a say.
	candidate := strings.TrimRight(root, string(filepath.Separator)) +
		string(filepath.Separator) + filepath.FromSlash(rel)

	resolved, err := canonicalize(candidate)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrNotFound, urlPath, err)
	}

	canonicalRoot, err := canonicalize(root)
	if err != nil {
		return "", fmt.Errorf("%w: root %s: %v", ErrInternal, root, err)
	}

	if !within(canonicalRoot, resolved) {
		return "", fmt.Errorf("%w: %s resolves outside %s", ErrForbidden, urlPath, canonicalRoot)
	}

	return resolved, nil
}

// Canonicalize returns the absolute, symlink-free form of path.
func Canonicalize(path string) (string, error) {
	return canonicalize(path)
}

func canonicalize(path string) (string, error) {
	resolved, err := evalSymlinks(path)
	if err != nil {
		return "", err
	}

	return filepath.Abs(resolved)
}

// within reports whether path equals root or is below it, compared by path
// components so that "/a/dist-evil" is not inside "/a/dist".
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
