package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/AvraamMavridis/lore/internal/config"
	mcputil "github.com/AvraamMavridis/lore/internal/mcp"
	"github.com/AvraamMavridis/lore/internal/render"
	"github.com/AvraamMavridis/lore/internal/store"
	"github.com/AvraamMavridis/lore/internal/vcs"
)

// VCS is the version-control surface the commands use.
type VCS interface {
	IsRepository(ctx context.Context) bool
	HeadCommit(ctx context.Context) (string, error)
	ChangedFiles(ctx context.Context) ([]string, error)
	InstallMergeDriver(ctx context.Context, binary string) error
}

// RunParams contains dependencies for the run function
type RunParams struct {
	LoadSettings  func(*pflag.FlagSet) (*config.Settings, error)
	ValidSettings func(*config.Settings) error
	NewVCS        func(dir string) VCS
	CreateServer  func(*config.Settings, string) (*mcp.Server, func(), error)
	Executable    func() (string, error)

	Stdin           io.Reader
	Stdout          io.Writer
	Stderr          io.Writer
	StdinIsTerminal func() bool
	Getwd           func() (string, error)

	CustomIOTransport mcp.Transport // Optional: for testing with custom IO
}

// DefaultRunParams returns production dependencies
func DefaultRunParams() RunParams {
	return RunParams{
		LoadSettings:    config.LoadSettingsWithFlags,
		ValidSettings:   config.ValidateSettings,
		NewVCS:          func(dir string) VCS { return vcs.New(dir) },
		CreateServer:    CreateMCPServer,
		Executable:      os.Executable,
		Stdin:           os.Stdin,
		Stdout:          os.Stdout,
		Stderr:          os.Stderr,
		StdinIsTerminal: stdinIsTerminal,
		Getwd:           os.Getwd,
	}
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Env is what a command sees once settings are resolved.
type Env struct {
	Settings *config.Settings
	Params   RunParams
	Out      *render.Renderer
	Version  string
}

// Action is the body of a command.
type Action func(ctx context.Context, env *Env) error

// RunWithDeps resolves settings, configures logging and runs action.
func RunWithDeps(ctx context.Context, params RunParams, flags *pflag.FlagSet, version string, action Action) error {
	// Load settings
	settings, err := params.LoadSettings(flags)
	if err != nil {
		return usageError(fmt.Errorf("failed to load settings: %w", err))
	}

	// Validate settings for conflicting configurations
	if err := params.ValidSettings(settings); err != nil {
		return usageError(fmt.Errorf("invalid configuration: %w", err))
	}

	// Logs go to stderr so stdout stays parseable
	stderr := params.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	slog.SetDefault(config.NewLogger(stderr, settings))

	slog.Debug("Starting lore", "version", version)
	config.Log(settings)

	stdout := params.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	env := &Env{
		Settings: settings,
		Params:   params,
		Out:      render.New(stdout, settings.Format),
		Version:  version,
	}
	return action(ctx, env)
}

// Cwd returns the working directory.
func (e *Env) Cwd() (string, error) {
	getwd := e.Params.Getwd
	if getwd == nil {
		getwd = os.Getwd
	}
	return getwd()
}

// start is where repository discovery begins.
func (e *Env) start() (string, error) {
	if e.Settings.Root != "" {
		return e.Settings.Root, nil
	}
	return e.Cwd()
}

// Repository discovers the repository enclosing the configured root.
func (e *Env) Repository() (*store.Repository, error) {
	start, err := e.start()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}
	return store.Discover(start, store.WithLockTimeout(e.Settings.LockTimeout))
}

// VCS returns the version-control view of dir, or nil when none is wired.
func (e *Env) VCS(dir string) VCS {
	if e.Params.NewVCS == nil {
		return nil
	}
	return e.Params.NewVCS(dir)
}

// CreateMCPServer creates the MCP server with registered tools
func CreateMCPServer(settings *config.Settings, version string) (*mcp.Server, func(), error) {
	start := settings.Root
	if start == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		start = wd
	}

	repo, err := store.Discover(start, store.WithLockTimeout(settings.LockTimeout))
	if err != nil {
		return nil, nil, err
	}

	server := mcputil.CreateServer(mcputil.ServerConfig{
		Name:    "lore",
		Version: version,
		Repo:    repo,
		Changes: vcs.New(repo.Root()),
	})

	return server, nil, nil
}

// serveMCP runs the MCP server over stdio until the client disconnects.
func serveMCP(ctx context.Context, env *Env) error {
	if env.Params.CreateServer == nil {
		return fmt.Errorf("no MCP server factory configured")
	}
	mcpServer, cleanup, err := env.Params.CreateServer(env.Settings, env.Version)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	// Use custom transport if provided (for testing), otherwise use stdio
	transport := env.Params.CustomIOTransport
	if transport == nil {
		transport = &mcp.StdioTransport{}
	}
	slog.Info("Serving MCP over stdio", "version", env.Version)
	return mcpServer.Run(ctx, transport)
}
