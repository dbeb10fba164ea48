package store

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/index"
	"github.com/AvraamMavridis/lore/internal/merge"
)

// RepairResult reports what Repair changed.
type RepairResult struct {
	// Added counts memberships that were missing from the index.
	Added int `json:"added" yaml:"added"`

	// Skipped counts entry files that could not be read.
	Skipped int `json:"skipped" yaml:"skipped"`

	// Rebuilt is true when the previous index was corrupt and was replaced.
	Rebuilt bool `json:"rebuilt" yaml:"rebuilt"`

	// Orphans lists entries that had no membership at all before the repair.
	Orphans []string `json:"orphans,omitempty" yaml:"orphans,omitempty"`
}

// Repair merges an index derived from the stored entries into the current
// index. Memberships are only ever added. A corrupt index is rebuilt from
// the entries alone.
func (r *Repository) Repair(ctx context.Context) (*RepairResult, error) {
	result := &RepairResult{}
	err := r.withLock(ctx, "repair", func() error {
		current, err := r.LoadIndex()
		if err != nil {
			if !errors.Is(err, domain.ErrCorruptRecord) {
				return err
			}
			slog.Warn("Rebuilding corrupt index from entries", "path", r.IndexPath(), "error", err)
			current = index.New()
			result.Rebuilt = true
		}

		derived, skipped := merge.FromEntries(r.entries.ListAll())
		result.Skipped = skipped

		known := current.IDs()
		for _, id := range derived.IDs() {
			if _, found := slices.BinarySearch(known, id); !found {
				result.Orphans = append(result.Orphans, id)
			}
		}

		merged := merge.Merge(current, derived)
		result.Added = merged.EntryCount() - current.EntryCount()
		if result.Added == 0 && !result.Rebuilt {
			return nil
		}
		return r.SaveIndex(merged)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Repaired index", "added", result.Added, "skipped", result.Skipped, "rebuilt", result.Rebuilt)
	return result, nil
}

// RepairEntries re-attaches only the named entries. An unknown or unreadable
// id fails the call; entries before it stay attached.
func (r *Repository) RepairEntries(ctx context.Context, ids []string) (*RepairResult, error) {
	result := &RepairResult{}
	for _, id := range ids {
		added, err := r.Attach(ctx, id)
		if err != nil {
			return nil, err
		}
		result.Added += added
	}
	slog.Info("Re-attached entries", "ids", len(ids), "added", result.Added)
	return result, nil
}
