package vcs

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestGit_HeadCommit(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse HEAD", []byte("a1b2c3d4e5f6\n"), nil)

	head, err := NewWithExecutor("/repo", mock).HeadCommit(context.Background())
	if err != nil {
		t.Fatalf("HeadCommit failed: %v", err)
	}
	if head != "a1b2c3d4e5f6" {
		t.Errorf("HeadCommit = %q, want %q", head, "a1b2c3d4e5f6")
	}
	if call := mock.MustGetLastCall(t); call.Dir != "/repo" {
		t.Errorf("Dir = %q, want %q", call.Dir, "/repo")
	}
}

func TestGit_HeadCommitError(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse HEAD", nil, errors.New("unknown revision"))

	if _, err := NewWithExecutor("/repo", mock).HeadCommit(context.Background()); err == nil {
		t.Error("Expected error for repository without commits")
	}
}

func TestGit_ChangedFiles(t *testing.T) {
	status := strings.Join([]string{
		" M src/main.go",
		"A  src/new.go",
		" D removed.go",
		"D  staged_removed.go",
		"R  renamed_to.go", "renamed_from.go",
		"?? notes/todo.txt",
		"?? .lore/entries/x.json",
		" M .lore/index.json",
		"MM src/main.go",
		"",
	}, "\x00")

	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse --show-prefix", []byte("\n"), nil)
	mock.AddResponse("git status --porcelain -z", []byte(status), nil)

	files, err := NewWithExecutor("/repo", mock).ChangedFiles(context.Background())
	if err != nil {
		t.Fatalf("ChangedFiles failed: %v", err)
	}

	want := []string{"notes/todo.txt", "renamed_to.go", "src/main.go", "src/new.go"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("ChangedFiles = %v, want %v", files, want)
	}
}

func TestGit_ChangedFilesInSubdirectory(t *testing.T) {
	status := " M app/src/a.go\x00 M other/b.go\x00?? app/c.txt\x00"

	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse --show-prefix", []byte("app/\n"), nil)
	mock.AddResponse("git status", []byte(status), nil)

	files, err := NewWithExecutor("/repo/app", mock).ChangedFiles(context.Background())
	if err != nil {
		t.Fatalf("ChangedFiles failed: %v", err)
	}

	want := []string{"c.txt", "src/a.go"}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("ChangedFiles = %v, want %v", files, want)
	}
}

func TestGit_ChangedFilesNotRepository(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse --show-prefix", nil, errors.New("fatal: not a git repository"))

	_, err := NewWithExecutor("/tmp", mock).ChangedFiles(context.Background())
	if !errors.Is(err, ErrNotRepository) {
		t.Errorf("ChangedFiles error = %v, want ErrNotRepository", err)
	}
}

func TestGit_InstallMergeDriver(t *testing.T) {
	dir := t.TempDir()
	attrs := filepath.Join(dir, ".gitattributes")
	if err := os.WriteFile(attrs, []byte("*.png binary"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse --is-inside-work-tree", []byte("true\n"), nil)
	mock.AddResponse("git config merge.lore-index.name", nil, nil)
	mock.AddResponse("git config merge.lore-index.driver", nil, nil)

	if err := NewWithExecutor(dir, mock).InstallMergeDriver(context.Background(), "lore"); err != nil {
		t.Fatalf("InstallMergeDriver failed: %v", err)
	}

	last := mock.MustGetLastCall(t)
	wantArgs := []string{"config", "merge.lore-index.driver", "lore merge-index %O %A %B"}
	if !reflect.DeepEqual(last.Args, wantArgs) {
		t.Errorf("last call args = %v, want %v", last.Args, wantArgs)
	}

	data, err := os.ReadFile(attrs)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	want := "*.png binary\n" + AttributesLine + "\n"
	if string(data) != want {
		t.Errorf(".gitattributes = %q, want %q", data, want)
	}
}

func TestGit_InstallMergeDriverOutsideRepository(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddResponse("git rev-parse --is-inside-work-tree", nil, errors.New("fatal"))

	err := NewWithExecutor(t.TempDir(), mock).InstallMergeDriver(context.Background(), "lore")
	if !errors.Is(err, ErrNotRepository) {
		t.Errorf("InstallMergeDriver error = %v, want ErrNotRepository", err)
	}
}

func TestEnsureAttributes_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".gitattributes")

	for range 2 {
		if err := EnsureAttributes(path); err != nil {
			t.Fatalf("EnsureAttributes failed: %v", err)
		}
	}

	data, _ := os.ReadFile(path)
	if got := strings.Count(string(data), AttributesLine); got != 1 {
		t.Errorf("attribute line count = %d, want 1", got)
	}
}

func TestGit_RealRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir := t.TempDir()
	ctx := context.Background()
	g := New(dir)

	if _, err := (&DefaultExecutor{}).Run(ctx, dir, "git", "init", "-q"); err != nil {
		t.Fatalf("git init failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if !g.IsRepository(ctx) {
		t.Fatal("Expected IsRepository to be true")
	}
	files, err := g.ChangedFiles(ctx)
	if err != nil {
		t.Fatalf("ChangedFiles failed: %v", err)
	}
	if !reflect.DeepEqual(files, []string{"a.txt"}) {
		t.Errorf("ChangedFiles = %v, want [a.txt]", files)
	}
	if _, err := g.HeadCommit(ctx); err == nil {
		t.Error("Expected HeadCommit to fail before the first commit")
	}
}
