package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AvraamMavridis/lore/internal/app"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "lore"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		reportError(os.Stderr, err)
		exit(app.GetExitCode(err))
	}
}

func reportError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "Error: %v\n", err)
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	return ExecuteWithParams(app.DefaultRunParams(), version, build, programName, args)
}

// ExecuteWithParams runs the CLI with the given dependencies.
func ExecuteWithParams(params app.RunParams, version, build, programName string, args []string) error {
	rootCmd := app.NewRootCommand(params, version)
	rootCmd.Use = programName

	rootCmd.SetVersionTemplate(`{{.Version}} (` + build + `)
`)
	rootCmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}
