package testkit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/AvraamMavridis/lore/internal/app"
	"github.com/AvraamMavridis/lore/internal/config"
	"github.com/AvraamMavridis/lore/internal/store"
)

// Property names published by the services in this package.
const (
	PropRoot    = "root"
	PropRepo    = "repo"
	PropSession = "session"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services.
// Services start in order; later services may depend on earlier ones.
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

func (e *testEnvImpl) Start() (map[string]any, error) {
	for _, s := range e.services {
		props, err := s.Start()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.GetName(), err)
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

// Stop stops every service in reverse order and returns the last error.
func (e *testEnvImpl) Stop() error {
	var lastErr error
	for i := len(e.services) - 1; i >= 0; i-- {
		if err := e.services[i].Stop(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// MustStart starts env and registers its shutdown with t.
func MustStart(t testing.TB, env TestEnv) map[string]any {
	t.Helper()
	props, err := env.Start()
	if err != nil {
		_ = env.Stop()
		t.Fatalf("Failed to start test environment: %v", err)
	}
	t.Cleanup(func() {
		if err := env.Stop(); err != nil {
			t.Errorf("Failed to stop test environment: %v", err)
		}
	})
	return props
}

// RepoService provisions an initialized lore repository in a scratch
// directory, seeded with Files (repository-relative path to content).
type RepoService struct {
	Files map[string]string
	Agent string

	dir  string
	repo *store.Repository
}

// NewRepoService creates a repository service.
func NewRepoService(files map[string]string, agent string) *RepoService {
	return &RepoService{Files: files, Agent: agent}
}

func (s *RepoService) Start() (map[string]any, error) {
	dir, err := os.MkdirTemp("", "lore-it-*")
	if err != nil {
		return nil, err
	}
	s.dir = dir

	for rel, content := range s.Files {
		full := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return nil, err
		}
	}

	repo, _, err := store.Init(dir, s.Agent, store.WithLockTimeout(10*time.Second))
	if err != nil {
		return nil, err
	}
	s.repo = repo
	return map[string]any{PropRoot: repo.Root(), PropRepo: repo}, nil
}

func (s *RepoService) Stop() error {
	if s.dir == "" {
		return nil
	}
	dir := s.dir
	s.dir = ""
	return os.RemoveAll(dir)
}

func (s *RepoService) GetName() string {
	return "lore-repo"
}

// Root returns the repository root once started.
func (s *RepoService) Root() string {
	if s.repo == nil {
		return ""
	}
	return s.repo.Root()
}

// Repo returns the repository once started.
func (s *RepoService) Repo() *store.Repository {
	return s.repo
}

// MCPService serves the lore tools for the repository of Repo and connects
// an in-memory MCP client to them.
type MCPService struct {
	Repo *RepoService

	server *mcp.ServerSession
	client *mcp.ClientSession
}

// NewMCPService creates an MCP service bound to repo. repo must start first.
func NewMCPService(repo *RepoService) *MCPService {
	return &MCPService{Repo: repo}
}

func (s *MCPService) Start() (map[string]any, error) {
	root := s.Repo.Root()
	if root == "" {
		return nil, errors.New("repository service has not started")
	}

	settings := &config.Settings{
		Root:        root,
		Format:      config.FormatText,
		LogLevel:    "warn",
		LockTimeout: 10 * time.Second,
	}
	server, _, err := app.CreateMCPServer(settings, "integration")
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	if s.server, err = server.Connect(ctx, serverTransport, nil); err != nil {
		return nil, fmt.Errorf("server connect: %w", err)
	}

	client := mcp.NewClient(&mcp.Implementation{Name: "lore-it", Version: "1.0.0"}, nil)
	if s.client, err = client.Connect(ctx, clientTransport, nil); err != nil {
		return nil, fmt.Errorf("client connect: %w", err)
	}
	return map[string]any{PropSession: s.client}, nil
}

func (s *MCPService) Stop() error {
	var lastErr error
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			lastErr = err
		}
		s.client = nil
	}
	if s.server != nil {
		_ = s.server.Wait()
		s.server = nil
	}
	return lastErr
}

func (s *MCPService) GetName() string {
	return "lore-mcp"
}

// Session returns the connected client session once started.
func (s *MCPService) Session() *mcp.ClientSession {
	return s.client
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Root        string
	Format      string        // Defaults to "text"
	LogLevel    string        // Defaults to "warn"
	LockTimeout time.Duration // Defaults to 5s
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	format := config.FormatText
	logLevel := "warn"
	lockTimeout := 5 * time.Second
	root := ""

	if opts != nil {
		root = opts.Root
		if opts.Format != "" {
			format = opts.Format
		}
		if opts.LogLevel != "" {
			logLevel = opts.LogLevel
		}
		if opts.LockTimeout != 0 {
			lockTimeout = opts.LockTimeout
		}
	}

	if root != "" {
		_ = flags.Set("root", root)
	}
	_ = flags.Set("format", format)
	_ = flags.Set("log-level", logLevel)
	_ = flags.Set("lock-timeout", lockTimeout.String())

	return flags
}
