// Package query answers read-side questions about a repository: the history
// of one file, keyword search, the full listing and the coverage report.
//
// Queries never write. Aggregate queries skip records that cannot be read
// and report how many were skipped; single-target queries fail instead.
package query

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/index"
)

// TopFilesLimit is the number of most-documented files in a status report.
const TopFilesLimit = 5

// Source is the read side of a repository.
type Source interface {
	LoadIndex() (*index.Index, error)
	Read(id string) (*domain.Entry, error)
	ListAll() iter.Seq2[*domain.Entry, error]
}

// ChangeSource reports working-tree state. Any error means version control
// is unavailable.
type ChangeSource interface {
	ChangedFiles(ctx context.Context) ([]string, error)
	HeadCommit(ctx context.Context) (string, error)
}

// Engine runs queries against a Source.
type Engine struct {
	src     Source
	changes ChangeSource
}

// New returns an engine. changes may be nil when no version control is available.
func New(src Source, changes ChangeSource) *Engine {
	return &Engine{src: src, changes: changes}
}

// Result is a newest-first list of entries.
type Result struct {
	Entries []*domain.Entry `json:"entries" yaml:"entries"`
	Skipped int             `json:"skipped" yaml:"skipped"`
}

// ExplainOptions controls Explain.
type ExplainOptions struct {
	// All returns the whole history instead of the latest entry.
	All bool
	// Limit caps the history when All is set. Zero means no cap.
	Limit int
}

// SearchOptions narrows a search.
type SearchOptions struct {
	// File restricts candidates to the bucket of this exact path.
	File string
	// Agent is a case-sensitive substring of the agent id.
	Agent string
	// Tag must be carried exactly.
	Tag string
	// Limit caps the result. Zero means no cap.
	Limit int
}

// ListOptions controls List.
type ListOptions struct {
	Limit int
}

// Explain returns the latest entry for path, or its whole history when
// opts.All is set. It fails with NotFound when path is not tracked. The
// history skips unreadable members like any aggregate read, so it may be
// empty with Skipped > 0; the latest-entry form has nothing to show then and
// fails with NotFound.
func (q *Engine) Explain(path string, opts ExplainOptions) (*Result, error) {
	p := domain.NormalizePath(path)
	x, err := q.src.LoadIndex()
	if err != nil {
		return nil, err
	}
	if !x.Has(p) {
		return nil, domain.NotFound("explain", path)
	}

	res := q.readBucket(x, p)
	if opts.All {
		res.Entries = truncate(res.Entries, opts.Limit)
		return res, nil
	}
	if len(res.Entries) == 0 {
		return nil, domain.NotFound("explain", path)
	}
	res.Entries = res.Entries[:1]
	return res, nil
}

// Search returns entries whose intent, reasoning trace, tags, agent id or
// rejected alternative names contain query, ignoring case. An empty query
// matches every candidate, so filters can be used alone.
func (q *Engine) Search(query string, opts SearchOptions) (*Result, error) {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(query))

	var candidates *Result
	if opts.File != "" {
		x, err := q.src.LoadIndex()
		if err != nil {
			return nil, err
		}
		candidates = q.readBucket(x, domain.NormalizePath(opts.File))
	} else {
		all, err := q.collect()
		if err != nil {
			return nil, err
		}
		candidates = all
	}

	res := &Result{Entries: []*domain.Entry{}, Skipped: candidates.Skipped}
	for _, e := range candidates.Entries {
		if opts.Agent != "" && !strings.Contains(e.AgentID, opts.Agent) {
			continue
		}
		if opts.Tag != "" && !e.HasTag(opts.Tag) {
			continue
		}
		if needle != "" && !matches(fold, e, needle) {
			continue
		}
		res.Entries = append(res.Entries, e)
	}
	res.Entries = truncate(res.Entries, opts.Limit)
	return res, nil
}

// List returns every readable entry, newest first.
func (q *Engine) List(opts ListOptions) (*Result, error) {
	res, err := q.collect()
	if err != nil {
		return nil, err
	}
	res.Entries = truncate(res.Entries, opts.Limit)
	return res, nil
}

// FileCount pairs a path with the size of its bucket.
type FileCount struct {
	Path    string `json:"path" yaml:"path"`
	Entries int    `json:"entries" yaml:"entries"`
}

// AgentCount pairs an agent with the number of entries it recorded.
type AgentCount struct {
	Agent   string `json:"agent" yaml:"agent"`
	Entries int    `json:"entries" yaml:"entries"`
}

// StatusReport describes reasoning coverage of the working tree.
type StatusReport struct {
	// Tracked lists every path with a bucket.
	Tracked []string `json:"tracked" yaml:"tracked"`
	// Gaps lists changed paths with no bucket. Empty without version control.
	Gaps []string `json:"gaps" yaml:"gaps"`
	// Covered lists changed paths that have a bucket.
	Covered []string `json:"covered" yaml:"covered"`

	// EntryCount counts memberships. Entries counts distinct readable entries.
	EntryCount int `json:"entry_count" yaml:"entry_count"`
	Entries    int `json:"entries" yaml:"entries"`

	HeadCommit   string       `json:"head_commit,omitempty" yaml:"head_commit,omitempty"`
	VCSAvailable bool         `json:"vcs_available" yaml:"vcs_available"`
	TopFiles     []FileCount  `json:"top_files" yaml:"top_files"`
	Contributors []AgentCount `json:"contributors" yaml:"contributors"`
	Skipped      int          `json:"skipped" yaml:"skipped"`
}

// Status compares the index with the working tree. Unavailable version
// control is not an error; the report then has no gaps.
func (q *Engine) Status(ctx context.Context) (*StatusReport, error) {
	x, err := q.src.LoadIndex()
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		Tracked:    x.Paths(),
		Gaps:       []string{},
		Covered:    []string{},
		EntryCount: x.EntryCount(),
		TopFiles:   topFiles(x, TopFilesLimit),
	}

	all, err := q.collect()
	if err != nil {
		return nil, err
	}
	report.Entries = len(all.Entries)
	report.Skipped = all.Skipped
	report.Contributors = contributors(all.Entries)

	if q.changes == nil {
		return report, nil
	}
	var changed []string
	var head string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		changed, err = q.changes.ChangedFiles(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		if head, err = q.changes.HeadCommit(gctx); err != nil {
			// A repository without commits still has a working tree.
			slog.Debug("No HEAD commit", "error", err)
			head = ""
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		slog.Debug("Version control unavailable", "error", err)
		return report, nil
	}
	report.VCSAvailable = true
	report.HeadCommit = head
	for _, p := range changed {
		p = domain.NormalizePath(p)
		if x.Has(p) {
			report.Covered = append(report.Covered, p)
		} else {
			report.Gaps = append(report.Gaps, p)
		}
	}
	slices.Sort(report.Gaps)
	slices.Sort(report.Covered)
	return report, nil
}

// readBucket loads the entries of one bucket newest first, skipping members
// that cannot be read.
func (q *Engine) readBucket(x *index.Index, path string) *Result {
	res := &Result{Entries: []*domain.Entry{}}
	for _, id := range x.Lookup(path) {
		e, err := q.src.Read(id)
		if err != nil {
			res.Skipped++
			slog.Warn("Skipping unreadable entry", "path", path, "id", id, "error", err)
			continue
		}
		res.Entries = append(res.Entries, e)
	}
	domain.SortNewestFirst(res.Entries)
	return res
}

// collect reads the whole store newest first. Only a failure to list the
// store is fatal.
func (q *Engine) collect() (*Result, error) {
	res := &Result{Entries: []*domain.Entry{}}
	for e, err := range q.src.ListAll() {
		if err != nil {
			if errors.Is(err, domain.ErrListingFailed) {
				return nil, err
			}
			res.Skipped++
			slog.Warn("Skipping unreadable entry", "error", err)
			continue
		}
		res.Entries = append(res.Entries, e)
	}
	domain.SortNewestFirst(res.Entries)
	return res, nil
}

func matches(fold cases.Caser, e *domain.Entry, needle string) bool {
	contains := func(s string) bool {
		return s != "" && strings.Contains(fold.String(s), needle)
	}
	if contains(e.Intent) || contains(e.ReasoningTrace) || contains(e.AgentID) {
		return true
	}
	if slices.ContainsFunc(e.Tags, contains) {
		return true
	}
	return slices.ContainsFunc(e.RejectedAlternatives, func(a domain.RejectedAlternative) bool {
		return contains(a.Name)
	})
}

func truncate(entries []*domain.Entry, limit int) []*domain.Entry {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

func topFiles(x *index.Index, n int) []FileCount {
	counts := make([]FileCount, 0, x.Len())
	for _, p := range x.Paths() {
		if c := len(x.Lookup(p)); c > 0 {
			counts = append(counts, FileCount{Path: p, Entries: c})
		}
	}
	slices.SortStableFunc(counts, func(a, b FileCount) int {
		return cmp.Compare(b.Entries, a.Entries)
	})
	if len(counts) > n {
		counts = counts[:n]
	}
	return counts
}

func contributors(entries []*domain.Entry) []AgentCount {
	byAgent := make(map[string]int)
	for _, e := range entries {
		byAgent[e.AgentID]++
	}
	out := make([]AgentCount, 0, len(byAgent))
	for agent, n := range byAgent {
		out = append(out, AgentCount{Agent: agent, Entries: n})
	}
	slices.SortFunc(out, func(a, b AgentCount) int {
		if c := cmp.Compare(b.Entries, a.Entries); c != 0 {
			return c
		}
		return cmp.Compare(a.Agent, b.Agent)
	})
	return out
}
