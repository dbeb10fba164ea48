// Package vcs reads working-tree state from git and registers the index
// merge driver.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AvraamMavridis/lore/internal/domain"
)

const (
	// MergeDriverName is the git merge driver identifier for the index.
	MergeDriverName = "lore-index"

	// AttributesLine routes the index through the merge driver.
	AttributesLine = ".lore/index.json merge=" + MergeDriverName

	metadataPrefix = ".lore/"
)

// ErrNotRepository indicates the directory is not inside a git work tree.
var ErrNotRepository = errors.New("not a git repository")

// CommandExecutor abstracts command execution for testing.
type CommandExecutor interface {
	// Run executes a command and returns its standard output.
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error)
}

// DefaultExecutor executes commands using os/exec.
type DefaultExecutor struct{}

// Run executes a command and returns its standard output. Standard error is
// folded into the returned error.
func (e *DefaultExecutor) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Git answers version-control questions about one working directory, the
// repository root.
type Git struct {
	executor CommandExecutor
	dir      string
}

// New returns a Git bound to dir using the real git binary.
func New(dir string) *Git {
	return &Git{executor: &DefaultExecutor{}, dir: dir}
}

// NewWithExecutor returns a Git with a custom executor (for testing).
func NewWithExecutor(dir string, executor CommandExecutor) *Git {
	return &Git{executor: executor, dir: dir}
}

func (g *Git) run(ctx context.Context, args ...string) ([]byte, error) {
	return g.executor.Run(ctx, g.dir, "git", args...)
}

// IsRepository reports whether dir is inside a git work tree.
func (g *Git) IsRepository(ctx context.Context) bool {
	out, err := g.run(ctx, "rev-parse", "--is-inside-work-tree")
	return err == nil && strings.TrimSpace(string(out)) == "true"
}

// HeadCommit returns the full SHA of HEAD. A repository without commits
// yields an error.
func (g *Git) HeadCommit(ctx context.Context) (string, error) {
	out, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ChangedFiles returns the paths, relative to dir, of modified, added,
// renamed and untracked files. Deleted files and the metadata directory are
// excluded. The result is sorted and de-duplicated.
func (g *Git) ChangedFiles(ctx context.Context) ([]string, error) {
	prefixOut, err := g.run(ctx, "rev-parse", "--show-prefix")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRepository, err)
	}
	prefix := strings.TrimSpace(string(prefixOut))

	out, err := g.run(ctx, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("git status failed: %w", err)
	}

	var files []string
	for _, p := range parsePorcelain(out) {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		p = domain.NormalizePath(strings.TrimPrefix(p, prefix))
		if p == "" || p+"/" == metadataPrefix || strings.HasPrefix(p, metadataPrefix) {
			continue
		}
		files = append(files, p)
	}
	slices.Sort(files)
	return slices.Compact(files), nil
}

// parsePorcelain extracts live paths from `git status --porcelain -z`.
// Renames and copies carry the original path as an extra field, which is
// skipped.
func parsePorcelain(out []byte) []string {
	fields := strings.Split(string(out), "\x00")
	var paths []string
	for i := 0; i < len(fields); i++ {
		rec := fields[i]
		if len(rec) < 4 {
			continue
		}
		x, y, p := rec[0], rec[1], rec[3:]
		if x == 'R' || x == 'C' {
			i++
		}
		if x == 'D' || y == 'D' {
			continue
		}
		paths = append(paths, p)
	}
	return paths
}

// InstallMergeDriver registers the index merge driver in the repository's
// git config and routes the index file through it via .gitattributes.
// binary is the command git runs, usually "lore".
func (g *Git) InstallMergeDriver(ctx context.Context, binary string) error {
	if !g.IsRepository(ctx) {
		return ErrNotRepository
	}
	settings := [][2]string{
		{"merge." + MergeDriverName + ".name", "lore append-only index merge"},
		{"merge." + MergeDriverName + ".driver", binary + " merge-index %O %A %B"},
	}
	for _, kv := range settings {
		if _, err := g.run(ctx, "config", kv[0], kv[1]); err != nil {
			return fmt.Errorf("git config failed: %w", err)
		}
	}
	return EnsureAttributes(filepath.Join(g.dir, ".gitattributes"))
}

// EnsureAttributes appends AttributesLine to the attributes file at path
// unless it is already present.
func EnsureAttributes(path string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.IOFailure("read attributes", path, err)
	}
	for _, line := range strings.Split(string(existing), "\n") {
		if strings.TrimSpace(line) == AttributesLine {
			return nil
		}
	}

	var buf bytes.Buffer
	buf.Write(existing)
	if len(existing) > 0 && !bytes.HasSuffix(existing, []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(AttributesLine + "\n")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return domain.IOFailure("write attributes", path, err)
	}
	return nil
}
