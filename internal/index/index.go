// Package index implements the path index: a grow-only mapping from a
// normalized repository path to the set of entry identifiers that mention it.
//
// Buckets only ever gain members. The serialized form is deterministic so
// that identical logical state always produces identical bytes, which keeps
// version-control diffs stable and lets the merge driver be idempotent.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/AvraamMavridis/lore/internal/domain"
)

// FileName is the index file name inside the repository metadata directory.
const FileName = "index.json"

// Index maps paths to identifier sets. The zero value is not usable; call New.
// An Index is not safe for concurrent mutation.
type Index struct {
	files map[string]map[string]struct{}
}

// document is the persisted shape.
type document struct {
	Files      map[string][]string `json:"files"`
	EntryCount int                 `json:"entry_count"`
}

// New returns an empty index.
func New() *Index {
	return &Index{files: make(map[string]map[string]struct{})}
}

// Append adds id to the bucket of path. It reports whether the membership is
// new; appending an existing membership is a no-op. Path is normalized first.
func (x *Index) Append(path, id string) bool {
	p := domain.NormalizePath(path)
	if p == "" || id == "" {
		return false
	}
	bucket, ok := x.files[p]
	if !ok {
		bucket = make(map[string]struct{})
		x.files[p] = bucket
	}
	if _, exists := bucket[id]; exists {
		return false
	}
	bucket[id] = struct{}{}
	return true
}

// Lookup returns the sorted identifiers recorded for path. The result is a
// copy and is empty, not nil, for an untracked path.
func (x *Index) Lookup(path string) []string {
	bucket := x.files[domain.NormalizePath(path)]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Has reports whether path has a bucket.
func (x *Index) Has(path string) bool {
	_, ok := x.files[domain.NormalizePath(path)]
	return ok
}

// Paths returns every tracked path in sorted order.
func (x *Index) Paths() []string {
	return slices.Sorted(maps.Keys(x.files))
}

// Len returns the number of tracked paths.
func (x *Index) Len() int {
	return len(x.files)
}

// EntryCount returns the total number of (path, id) memberships. An entry
// targeting three files counts three times.
func (x *Index) EntryCount() int {
	n := 0
	for _, bucket := range x.files {
		n += len(bucket)
	}
	return n
}

// IDs returns every distinct identifier in the index, sorted.
func (x *Index) IDs() []string {
	seen := make(map[string]struct{})
	for _, bucket := range x.files {
		for id := range bucket {
			seen[id] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Contains reports whether every membership of other is also in x.
func (x *Index) Contains(other *Index) bool {
	for p, bucket := range other.files {
		mine, ok := x.files[p]
		if !ok {
			return false
		}
		for id := range bucket {
			if _, ok := mine[id]; !ok {
				return false
			}
		}
	}
	return true
}

// Equal reports whether both indexes hold exactly the same memberships.
func (x *Index) Equal(other *Index) bool {
	return len(x.files) == len(other.files) && x.Contains(other) && other.Contains(x)
}

// Clone returns a deep copy.
func (x *Index) Clone() *Index {
	c := New()
	c.AddAll(x)
	return c
}

// AddAll appends every membership of other into x and returns how many were new.
func (x *Index) AddAll(other *Index) int {
	added := 0
	for p, bucket := range other.files {
		x.ensure(p)
		for id := range bucket {
			if x.Append(p, id) {
				added++
			}
		}
	}
	return added
}

// Marshal returns the canonical serialized form: sorted keys, sorted
// identifiers, two-space indentation, trailing newline.
func (x *Index) Marshal() []byte {
	doc := document{
		Files:      make(map[string][]string, len(x.files)),
		EntryCount: x.EntryCount(),
	}
	for p := range x.files {
		doc.Files[p] = x.Lookup(p)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	// Encoding a map of string slices cannot fail.
	_ = enc.Encode(doc)
	return buf.Bytes()
}

// Parse decodes a serialized index. Structural problems (not an object, a
// missing or non-object "files", non-string or empty identifiers, empty
// paths) are reported as CorruptRecord. Duplicate identifiers collapse and
// the stored entry_count is not trusted.
func Parse(data []byte) (*Index, error) {
	var raw struct {
		Files      *map[string][]string `json:"files"`
		EntryCount *int                 `json:"entry_count"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return nil, domain.Corrupt("parse index", FileName, err)
	}
	if dec.More() {
		return nil, domain.Corrupt("parse index", FileName, errors.New("trailing data after document"))
	}
	if raw.Files == nil || *raw.Files == nil {
		return nil, domain.Corrupt("parse index", FileName, errors.New(`missing "files" object`))
	}

	x := New()
	for p, ids := range *raw.Files {
		if domain.NormalizePath(p) == "" {
			return nil, domain.Corrupt("parse index", FileName, fmt.Errorf("empty path key %q", p))
		}
		for _, id := range ids {
			if id == "" {
				return nil, domain.Corrupt("parse index", FileName, fmt.Errorf("empty identifier under %q", p))
			}
			x.Append(p, id)
		}
		// A stored path with an empty bucket is still tracked.
		if len(ids) == 0 {
			x.ensure(p)
		}
	}

	if raw.EntryCount != nil && *raw.EntryCount != x.EntryCount() {
		slog.Debug("Index entry_count differs from memberships",
			"stored", *raw.EntryCount, "actual", x.EntryCount())
	}
	return x, nil
}

func (x *Index) ensure(path string) {
	p := domain.NormalizePath(path)
	if _, ok := x.files[p]; !ok {
		x.files[p] = make(map[string]struct{})
	}
}
