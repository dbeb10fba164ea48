// Package store persists reasoning entries and the path index under a
// repository's .lore directory.
//
// Entries are immutable files published with no-clobber semantics. The index
// is replaced atomically. Writers serialize through an flock(2) lock; readers
// never lock and always observe the last fully written index.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/fsutil"
	"github.com/AvraamMavridis/lore/internal/index"
)

const (
	// DirName is the metadata directory at the repository root.
	DirName = ".lore"

	EntriesDir = "entries"
	ConfigFile = "config.json"
	LockFile   = "lore.lock"

	// SchemaVersion is written into new repository configs.
	SchemaVersion = "0.2.0"

	// DefaultLockTimeout bounds how long a writer waits for the lock.
	DefaultLockTimeout = 5 * time.Second

	// UnknownAgent is the agent recorded when nothing else is configured.
	UnknownAgent = "unknown"

	gitignoreContent = "*.tmp\n*.lock\n"
)

// RepoConfig is the per-repository configuration record.
type RepoConfig struct {
	Version        string    `json:"version" validate:"required"`
	DefaultAgentID string    `json:"default_agent_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

var configValidate = validator.New()

// Repository is an opened .lore directory.
type Repository struct {
	root        string
	dir         string
	entries     *EntryStore
	lockTimeout time.Duration
}

// Option configures a Repository.
type Option func(*Repository)

// WithLockTimeout sets how long writers wait for the repository lock.
// Non-positive values keep the default.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.lockTimeout = d
		}
	}
}

func newRepository(root string, opts ...Option) *Repository {
	dir := filepath.Join(root, DirName)
	r := &Repository{
		root:        root,
		dir:         dir,
		entries:     NewEntryStore(filepath.Join(dir, EntriesDir)),
		lockTimeout: DefaultLockTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Init creates the repository layout under root. It is idempotent: an
// existing repository is opened unchanged and created is false.
func Init(root, defaultAgent string, opts ...Option) (repo *Repository, created bool, err error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, false, domain.IOFailure("init", root, err)
	}
	r := newRepository(abs, opts...)

	if _, err := os.Stat(r.dir); err == nil {
		slog.Debug("Repository already initialized", "path", r.dir)
		return r, false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, domain.IOFailure("init", r.dir, err)
	}

	if err := os.MkdirAll(r.entries.Dir(), 0755); err != nil {
		return nil, false, domain.IOFailure("init", r.dir, err)
	}

	cfg := RepoConfig{
		Version:        SchemaVersion,
		DefaultAgentID: defaultAgent,
		CreatedAt:      time.Now().UTC(),
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal repository config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(r.ConfigPath(), append(data, '\n'), 0644); err != nil {
		return nil, false, domain.IOFailure("init", r.ConfigPath(), err)
	}
	if err := r.SaveIndex(index.New()); err != nil {
		return nil, false, err
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(r.dir, ".gitignore"), []byte(gitignoreContent), 0644); err != nil {
		return nil, false, domain.IOFailure("init", r.dir, err)
	}

	slog.Info("Initialized repository", "path", r.dir)
	return r, true, nil
}

// Open opens the repository rooted exactly at root.
func Open(root string, opts ...Option) (*Repository, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, domain.IOFailure("open", root, err)
	}
	r := newRepository(abs, opts...)
	info, err := os.Stat(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewError(domain.KindRepositoryUninitialized, "open", abs, nil)
		}
		return nil, domain.IOFailure("open", r.dir, err)
	}
	if !info.IsDir() {
		return nil, domain.NewError(domain.KindRepositoryUninitialized, "open", abs,
			fmt.Errorf("%s is not a directory", DirName))
	}
	return r, nil
}

// FindRoot walks from start towards the filesystem root and returns the
// first directory that contains a metadata directory.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", domain.IOFailure("find root", start, err)
	}
	for {
		if info, err := os.Stat(filepath.Join(dir, DirName)); err == nil && info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", domain.NewError(domain.KindRepositoryUninitialized, "find root", start,
				errors.New("no .lore directory found; run 'lore init'"))
		}
		dir = parent
	}
}

// Discover finds the enclosing repository of start and opens it.
func Discover(start string, opts ...Option) (*Repository, error) {
	root, err := FindRoot(start)
	if err != nil {
		return nil, err
	}
	return Open(root, opts...)
}

// Root returns the absolute repository root.
func (r *Repository) Root() string { return r.root }

// Dir returns the metadata directory.
func (r *Repository) Dir() string { return r.dir }

// Entries returns the entry store.
func (r *Repository) Entries() *EntryStore { return r.entries }

// IndexPath returns the path of the index file.
func (r *Repository) IndexPath() string { return filepath.Join(r.dir, index.FileName) }

// ConfigPath returns the path of the repository config.
func (r *Repository) ConfigPath() string { return filepath.Join(r.dir, ConfigFile) }

// LockPath returns the path of the writer lock file.
func (r *Repository) LockPath() string { return filepath.Join(r.dir, LockFile) }

// Config reads the repository config. A missing file yields a zero config.
func (r *Repository) Config() (RepoConfig, error) {
	var cfg RepoConfig
	data, err := os.ReadFile(r.ConfigPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, domain.IOFailure("read config", r.ConfigPath(), err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, domain.Corrupt("read config", r.ConfigPath(), err)
	}
	if err := configValidate.Struct(cfg); err != nil {
		return cfg, domain.Corrupt("read config", r.ConfigPath(), err)
	}
	return cfg, nil
}

// ResolveAgent picks the agent identity for a new entry: the explicit value
// if set, else the repository default, else UnknownAgent.
func (r *Repository) ResolveAgent(explicit string) string {
	if explicit != "" {
		return explicit
	}
	cfg, err := r.Config()
	if err != nil {
		slog.Warn("Ignoring unreadable repository config", "error", err)
	} else if cfg.DefaultAgentID != "" {
		return cfg.DefaultAgentID
	}
	return UnknownAgent
}

// LoadIndex reads the current index. A missing index file loads as empty.
func (r *Repository) LoadIndex() (*index.Index, error) {
	data, err := os.ReadFile(r.IndexPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return index.New(), nil
		}
		return nil, domain.IOFailure("load index", r.IndexPath(), err)
	}
	x, err := index.Parse(data)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			de.Subject = r.IndexPath()
		}
		return nil, err
	}
	return x, nil
}

// SaveIndex atomically replaces the index file.
func (r *Repository) SaveIndex(x *index.Index) error {
	if err := fsutil.WriteFileAtomic(r.IndexPath(), x.Marshal(), 0644); err != nil {
		return domain.IOFailure("save index", r.IndexPath(), err)
	}
	return nil
}

// Read returns the entry with id.
func (r *Repository) Read(id string) (*domain.Entry, error) {
	return r.entries.Read(id)
}

// ListAll streams every stored entry.
func (r *Repository) ListAll() iter.Seq2[*domain.Entry, error] {
	return r.entries.ListAll()
}

// withLock runs fn while holding the writer lock. A lock that cannot be
// acquired within the timeout is reported as RepositoryBusy.
func (r *Repository) withLock(ctx context.Context, op string, fn func() error) error {
	lock := NewFileLock(r.LockPath())
	err := lock.TryLock()
	if errors.Is(err, ErrLockWouldBlock) {
		slog.Info("Waiting for repository lock", "path", r.LockPath(), "timeout", r.lockTimeout)
		err = lock.Lock(ctx, r.lockTimeout)
	}
	if err != nil {
		if errors.Is(err, ErrLockTimeout) {
			return domain.NewError(domain.KindRepositoryBusy, op, r.LockPath(),
				fmt.Errorf("another writer held the lock for %s", r.lockTimeout))
		}
		if ctx.Err() != nil {
			return err
		}
		return domain.IOFailure(op, r.LockPath(), err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Warn("Failed to release lock", "path", r.LockPath(), "error", err)
		}
	}()
	return fn()
}
