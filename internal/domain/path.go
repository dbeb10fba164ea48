package domain

import (
	"errors"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrPathOutsideRoot indicates a target path that escapes the repository root.
var ErrPathOutsideRoot = errors.New("path is outside the repository root")

// NormalizePath returns the index key for a repository-relative path:
// NFC form, forward slashes, no leading "./", cleaned. It returns "" for
// an empty path or the root itself.
//
// Examples:
//   - "./src/main.go" -> "src/main.go"
//   - "src\\util\\x.go" -> "src/util/x.go"
func NormalizePath(p string) string {
	p = norm.NFC.String(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	if p == "" {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// RelativeTarget converts a user-supplied path (absolute, or relative to
// cwd) into a normalized repository-relative path.
func RelativeTarget(root, cwd, p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	abs := p
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, p)
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", err
	}
	n := NormalizePath(filepath.ToSlash(rel))
	if !IsLocal(n) {
		return "", ErrPathOutsideRoot
	}
	return n, nil
}

// IsLocal reports whether a normalized path names something strictly inside
// the repository root: not empty, not absolute, no leading "..".
func IsLocal(n string) bool {
	return n != "" && filepath.IsLocal(filepath.FromSlash(n))
}
