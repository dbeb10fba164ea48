// Package merge reconciles divergent copies of the path index.
//
// Reconciliation is a set union per path. Union is commutative, associative
// and idempotent, and never drops a membership, so any two branches can be
// merged in any order and re-merging a result changes nothing. The common
// ancestor is never needed for correctness; it is only used to report what
// each side contributed.
package merge

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/fsutil"
	"github.com/AvraamMavridis/lore/internal/index"
)

// Stats describes one reconciliation.
type Stats struct {
	AncestorMemberships int `json:"ancestor_memberships" yaml:"ancestor_memberships"`
	LocalMemberships    int `json:"local_memberships" yaml:"local_memberships"`
	IncomingMemberships int `json:"incoming_memberships" yaml:"incoming_memberships"`

	// LocalOnly and IncomingOnly count memberships present on exactly one side.
	LocalOnly    int `json:"local_only" yaml:"local_only"`
	IncomingOnly int `json:"incoming_only" yaml:"incoming_only"`

	MergedMemberships int `json:"merged_memberships" yaml:"merged_memberships"`
	MergedPaths       int `json:"merged_paths" yaml:"merged_paths"`

	// Overlapping counts paths that both sides extended relative to the
	// ancestor. A line-based merge would have conflicted on each of them.
	Overlapping int `json:"overlapping" yaml:"overlapping"`

	// Substituted flags report inputs that were missing or unparseable and
	// were replaced by an empty index.
	AncestorSubstituted bool `json:"ancestor_substituted,omitempty" yaml:"ancestor_substituted,omitempty"`
	LocalSubstituted    bool `json:"local_substituted,omitempty" yaml:"local_substituted,omitempty"`
	IncomingSubstituted bool `json:"incoming_substituted,omitempty" yaml:"incoming_substituted,omitempty"`
}

// Merge returns the union of a and b. Neither input is modified. A nil input
// is treated as empty.
func Merge(a, b *index.Index) *index.Index {
	out := index.New()
	if a != nil {
		out.AddAll(a)
	}
	if b != nil {
		out.AddAll(b)
	}
	return out
}

// Reconcile merges local and incoming. The result never depends on ancestor.
func Reconcile(ancestor, local, incoming *index.Index) (*index.Index, Stats) {
	if ancestor == nil {
		ancestor = index.New()
	}
	if local == nil {
		local = index.New()
	}
	if incoming == nil {
		incoming = index.New()
	}

	merged := Merge(local, incoming)
	stats := Stats{
		AncestorMemberships: ancestor.EntryCount(),
		LocalMemberships:    local.EntryCount(),
		IncomingMemberships: incoming.EntryCount(),
		MergedMemberships:   merged.EntryCount(),
		MergedPaths:         merged.Len(),
	}

	for _, p := range merged.Paths() {
		base, mine, theirs := ancestor.Lookup(p), local.Lookup(p), incoming.Lookup(p)
		localGrew, incomingGrew := false, false
		for _, id := range merged.Lookup(p) {
			inLocal := contains(mine, id)
			inIncoming := contains(theirs, id)
			switch {
			case inLocal && !inIncoming:
				stats.LocalOnly++
			case inIncoming && !inLocal:
				stats.IncomingOnly++
			}
			if !contains(base, id) {
				localGrew = localGrew || inLocal
				incomingGrew = incomingGrew || inIncoming
			}
		}
		if localGrew && incomingGrew {
			stats.Overlapping++
		}
	}
	return merged, stats
}

// ReconcileFiles is the merge-driver entry point. It reads the three index
// snapshots, substitutes an empty index for any that is missing or corrupt,
// and writes the union over localPath. If neither local nor incoming can be
// read it fails with CorruptRecord and leaves localPath untouched.
func ReconcileFiles(ancestorPath, localPath, incomingPath string) (Stats, error) {
	ancestor, ancestorOK := loadOrEmpty("ancestor", ancestorPath)
	local, localOK := loadOrEmpty("local", localPath)
	incoming, incomingOK := loadOrEmpty("incoming", incomingPath)

	if !localOK && !incomingOK {
		return Stats{AncestorSubstituted: !ancestorOK, LocalSubstituted: true, IncomingSubstituted: true},
			domain.Corrupt("merge index", localPath, errors.New("neither local nor incoming index is readable"))
	}

	merged, stats := Reconcile(ancestor, local, incoming)
	stats.AncestorSubstituted = !ancestorOK
	stats.LocalSubstituted = !localOK
	stats.IncomingSubstituted = !incomingOK

	if err := fsutil.WriteFileAtomic(localPath, merged.Marshal(), 0644); err != nil {
		return stats, domain.IOFailure("merge index", localPath, err)
	}

	slog.Info("Merged index",
		"local", stats.LocalMemberships,
		"incoming", stats.IncomingMemberships,
		"merged", stats.MergedMemberships,
		"overlapping", stats.Overlapping)
	return stats, nil
}

// FromEntries builds an index from a stream of entry records, skipping
// failures. It returns the index and the number of skipped items.
func FromEntries(entries iter.Seq2[*domain.Entry, error]) (*index.Index, int) {
	x := index.New()
	skipped := 0
	for e, err := range entries {
		if err != nil {
			skipped++
			slog.Warn("Skipping unreadable entry", "error", err)
			continue
		}
		for _, p := range e.TargetFiles {
			x.Append(p, e.ID)
		}
	}
	return x, skipped
}

func loadOrEmpty(side, path string) (*index.Index, bool) {
	if path == "" {
		return index.New(), false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Index snapshot unreadable, using empty", "side", side, "path", path, "error", err)
		return index.New(), false
	}
	x, err := index.Parse(data)
	if err != nil {
		slog.Warn("Index snapshot corrupt, using empty", "side", side, "path", path, "error", err)
		return index.New(), false
	}
	return x, true
}

func contains(sorted []string, id string) bool {
	_, found := slices.BinarySearch(sorted, id)
	return found
}

// Describe renders stats as one human-readable line.
func (s Stats) Describe() string {
	msg := fmt.Sprintf("merged %d memberships across %d paths (local-only %d, incoming-only %d, overlapping paths %d)",
		s.MergedMemberships, s.MergedPaths, s.LocalOnly, s.IncomingOnly, s.Overlapping)
	if s.LocalSubstituted || s.IncomingSubstituted || s.AncestorSubstituted {
		msg += "; unreadable inputs replaced by empty index"
	}
	return msg
}
