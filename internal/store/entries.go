package store

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/fsutil"
)

const entryExt = ".json"

// EntryStore keeps one immutable file per entry. It offers no update or
// delete operations.
type EntryStore struct {
	dir string
}

// NewEntryStore returns a store over dir.
func NewEntryStore(dir string) *EntryStore {
	return &EntryStore{dir: dir}
}

// Dir returns the entries directory.
func (s *EntryStore) Dir() string {
	return s.dir
}

func (s *EntryStore) path(id string) string {
	return filepath.Join(s.dir, id+entryExt)
}

// Create validates and durably writes e. An entry with the same identifier
// is never overwritten; that case fails with DuplicateIdentifier.
func (s *EntryStore) Create(e *domain.Entry) error {
	e.Normalize()
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := domain.EncodeEntry(e)
	if err != nil {
		return domain.IOFailure("create entry", e.ID, err)
	}

	err = fsutil.WriteFileExclusive(s.path(e.ID), data, 0644)
	switch {
	case errors.Is(err, fs.ErrExist):
		return domain.NewError(domain.KindDuplicateIdentifier, "create entry", e.ID, nil)
	case err != nil:
		return domain.IOFailure("create entry", e.ID, err)
	}
	return nil
}

// Read loads the entry with id.
func (s *EntryStore) Read(id string) (*domain.Entry, error) {
	if !domain.ValidID(id) {
		return nil, domain.NotFound("read entry", id)
	}
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NotFound("read entry", id)
		}
		return nil, domain.IOFailure("read entry", id, err)
	}
	e, err := domain.DecodeEntry(data, id)
	if err != nil {
		return nil, err
	}
	if e.ID != id {
		return nil, domain.Corrupt("read entry", id, fmt.Errorf("record carries id %q", e.ID))
	}
	return e, nil
}

// ListAll streams every stored entry in unspecified order. Each record is
// read only when the iteration reaches it, and every range over the
// sequence lists the directory afresh.
//
// A record that cannot be read or parsed is yielded as (nil, err) and the
// iteration continues. A failure to list the directory is yielded once and
// ends the iteration. A missing directory is an empty store.
func (s *EntryStore) ListAll() iter.Seq2[*domain.Entry, error] {
	return func(yield func(*domain.Entry, error) bool) {
		dirEntries, err := os.ReadDir(s.dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(nil, domain.IOFailure("list entries", s.dir, fmt.Errorf("%w: %w", domain.ErrListingFailed, err)))
			return
		}
		for _, de := range dirEntries {
			name := de.Name()
			if de.IsDir() || strings.HasPrefix(name, ".") || fsutil.IsTemp(name) || filepath.Ext(name) != entryExt {
				continue
			}
			if !yield(s.Read(strings.TrimSuffix(name, entryExt))) {
				return
			}
		}
	}
}
