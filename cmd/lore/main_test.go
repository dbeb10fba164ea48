package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/AvraamMavridis/lore/internal/app"
)

func quietParams(out *bytes.Buffer) app.RunParams {
	params := app.DefaultRunParams()
	params.Stdout = out
	params.Stderr = out
	return params
}

func TestExecute_Version(t *testing.T) {
	var out bytes.Buffer
	err := ExecuteWithParams(quietParams(&out), "1.0.0", "abc123", "lore", []string{"--version"})
	if err != nil {
		t.Errorf("Expected no error for --version, got: %v", err)
	}
	if got := out.String(); got != "1.0.0 (abc123)\n" {
		t.Errorf("Unexpected version output: %q", got)
	}
}

func TestExecute_Help(t *testing.T) {
	err := Execute("1.0.0", "abc123", "lore", []string{"--help"})
	if err != nil {
		t.Errorf("Expected no error for --help, got: %v", err)
	}
}

func TestExecute_InvalidFlag(t *testing.T) {
	err := Execute("1.0.0", "abc123", "lore", []string{"--invalid-flag"})
	if err == nil {
		t.Fatal("Expected error for invalid flag")
	}
	if app.GetExitCode(err) != app.ExitUsage {
		t.Errorf("Expected usage exit code, got %d", app.GetExitCode(err))
	}
}

func TestExecute_InvalidFormat(t *testing.T) {
	var out bytes.Buffer
	err := ExecuteWithParams(quietParams(&out), "1.0.0", "abc123", "lore", []string{"--format", "invalid", "list"})
	if err == nil {
		t.Fatal("Expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "format") {
		t.Errorf("Expected error about format, got: %v", err)
	}
}

func TestExecute_Uninitialized(t *testing.T) {
	var out bytes.Buffer
	err := ExecuteWithParams(quietParams(&out), "1.0.0", "abc123", "lore", []string{"--root", t.TempDir(), "list"})
	if app.GetExitCode(err) != app.ExitRepositoryUninitialized {
		t.Errorf("Expected exit code %d, got %d (%v)", app.ExitRepositoryUninitialized, app.GetExitCode(err), err)
	}
}

func TestRunMain_Success(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	// --help should succeed
	runMain([]string{"lore", "--help"}, mockExit)

	if exitCode != -1 {
		t.Errorf("Expected no exit call for --help, got exit code: %d", exitCode)
	}
}

func TestRunMain_Failure(t *testing.T) {
	exitCode := -1
	mockExit := func(code int) {
		exitCode = code
	}

	runMain([]string{"lore", "--invalid"}, mockExit)

	if exitCode != app.ExitUsage {
		t.Errorf("Expected exit code %d for invalid flag, got: %d", app.ExitUsage, exitCode)
	}
}

func TestReportError(t *testing.T) {
	var buf bytes.Buffer
	reportError(&buf, app.NewExitError(app.ExitUsage, "bad input"))
	if buf.String() != "Error: bad input\n" {
		t.Errorf("Unexpected error output: %q", buf.String())
	}
}
