package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AvraamMavridis/lore/internal/domain"
)

// ErrInvalidRequest marks a record request rejected before anything was written.
var ErrInvalidRequest = errors.New("invalid record request")

// CommitSource reports the current commit. Implementations may fail when no
// version control is available; the commit is then left empty.
type CommitSource interface {
	HeadCommit(ctx context.Context) (string, error)
}

// RecordRequest describes a new entry. Files are repository-relative; a
// path that escapes the root rejects the whole request.
type RecordRequest struct {
	Files        []string
	Intent       string
	Trace        string
	Agent        string
	LineRange    *domain.LineRange
	Alternatives []domain.RejectedAlternative
	Tags         []string
}

// RecordResult reports what Record wrote.
type RecordResult struct {
	Entry *domain.Entry `json:"entry" yaml:"entry"`

	// Missing lists requested files that did not exist and were left out.
	Missing []string `json:"missing,omitempty" yaml:"missing,omitempty"`

	// Added is the number of new index memberships.
	Added int `json:"added" yaml:"added"`
}

// Record creates one entry covering every existing file of req and attaches
// it to each file's bucket in a single index write. Files that do not exist
// are skipped; if none remain nothing is written and NotFound is returned.
func (r *Repository) Record(ctx context.Context, req RecordRequest, commits CommitSource) (*RecordResult, error) {
	if strings.TrimSpace(req.Intent) == "" {
		return nil, fmt.Errorf("%w: intent is required", ErrInvalidRequest)
	}
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: at least one file is required", ErrInvalidRequest)
	}
	if req.LineRange != nil && !req.LineRange.Valid() {
		return nil, fmt.Errorf("%w: invalid line range %s", ErrInvalidRequest, req.LineRange)
	}
	for _, alt := range req.Alternatives {
		if strings.TrimSpace(alt.Name) == "" {
			return nil, fmt.Errorf("%w: rejected alternative without a name", ErrInvalidRequest)
		}
	}

	result := &RecordResult{}
	hashes := make(map[string]string, len(req.Files))
	var targets []string
	for _, f := range req.Files {
		p := domain.NormalizePath(f)
		if p == "" {
			continue
		}
		if !domain.IsLocal(p) {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidRequest, f, domain.ErrPathOutsideRoot)
		}
		if _, seen := hashes[p]; seen {
			continue
		}
		sum, err := HashFile(filepath.Join(r.root, filepath.FromSlash(p)))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Warn("Skipping missing file", "path", p)
				result.Missing = append(result.Missing, p)
				continue
			}
			return nil, domain.IOFailure("hash file", p, err)
		}
		hashes[p] = sum
		targets = append(targets, p)
	}
	if len(targets) == 0 {
		return nil, domain.NotFound("record", strings.Join(req.Files, ", "))
	}

	e := &domain.Entry{
		ID:                   domain.NewID(),
		TargetFiles:          targets,
		LineRange:            req.LineRange,
		FileHashes:           hashes,
		AgentID:              r.ResolveAgent(req.Agent),
		Timestamp:            time.Now().UTC(),
		Intent:               strings.TrimSpace(req.Intent),
		ReasoningTrace:       req.Trace,
		RejectedAlternatives: req.Alternatives,
		Tags:                 req.Tags,
	}
	if commits != nil {
		if head, err := commits.HeadCommit(ctx); err != nil {
			slog.Debug("No commit recorded", "error", err)
		} else {
			e.CommitHash = head
		}
	}

	err := r.withLock(ctx, "record", func() error {
		if err := r.entries.Create(e); err != nil {
			return err
		}
		added, err := r.attach(e)
		result.Added = added
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Entry = e
	slog.Info("Recorded entry", "id", e.ID, "files", len(e.TargetFiles), "agent", e.AgentID)
	return result, nil
}

// Attach appends the stored entry id to the bucket of each of its targets.
// It is idempotent, so it is the recovery step after a write that stored the
// entry but was interrupted before the index was saved.
func (r *Repository) Attach(ctx context.Context, id string) (int, error) {
	e, err := r.entries.Read(id)
	if err != nil {
		return 0, err
	}
	var added int
	err = r.withLock(ctx, "attach", func() error {
		n, attachErr := r.attach(e)
		added = n
		return attachErr
	})
	return added, err
}

// attach must run under the lock. All of e's memberships land in one index
// write, so either every bucket gains the entry or none does.
func (r *Repository) attach(e *domain.Entry) (int, error) {
	x, err := r.LoadIndex()
	if err != nil {
		return 0, err
	}
	added := 0
	for _, p := range e.TargetFiles {
		if x.Append(p, e.ID) {
			added++
		}
	}
	if added == 0 {
		return 0, nil
	}
	return added, r.SaveIndex(x)
}

// HashFile returns the lowercase hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
