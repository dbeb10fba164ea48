// Package domain defines the reasoning record schema shared by the store, the
// index, and the query engine, together with the error taxonomy.
package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Entry is an immutable reasoning record attached to one or more files.
//
// Once written by the store an Entry is never edited. Correcting reasoning
// means recording a new entry.
type Entry struct {
	// ID is a UUIDv7 string. It is also the entry's file name in the store,
	// so it must be a single path element.
	ID string `json:"id" yaml:"id" validate:"required,entryid"`

	// TargetFiles are repository-relative, normalized paths.
	TargetFiles []string `json:"target_files" yaml:"target_files" validate:"required,min=1,dive,required"`

	// LineRange is a creation-time hint. It is not re-validated later.
	LineRange *LineRange `json:"line_range,omitempty" yaml:"line_range,omitempty"`

	// FileHashes maps each target to the hex SHA-256 of its content at
	// creation time. Display only; it never invalidates the entry.
	FileHashes map[string]string `json:"file_hashes" yaml:"file_hashes" validate:"required,dive,keys,required,endkeys,required,hexadecimal"`

	CommitHash string `json:"commit_hash,omitempty" yaml:"commit_hash,omitempty"`

	AgentID string `json:"agent_id" yaml:"agent_id" validate:"required"`

	// Timestamp is always UTC. Clocks of different writers are not assumed
	// to agree; ordering ties are broken by ID.
	Timestamp time.Time `json:"timestamp" yaml:"timestamp" validate:"required"`

	Intent string `json:"intent" yaml:"intent" validate:"required"`

	ReasoningTrace string `json:"reasoning_trace" yaml:"reasoning_trace,omitempty"`

	RejectedAlternatives []RejectedAlternative `json:"rejected_alternatives,omitempty" yaml:"rejected_alternatives,omitempty" validate:"dive"`

	// Tags are case-sensitive, deduplicated and kept sorted.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty" validate:"dive,required"`
}

// RejectedAlternative is an option that was considered and not taken.
type RejectedAlternative struct {
	Name   string `json:"name" yaml:"name" validate:"required"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// LineRange is an inclusive, 1-based line span. It is serialized as [start, end].
type LineRange struct {
	Start int
	End   int
}

// MarshalJSON encodes the range as a two-element array.
func (r LineRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{r.Start, r.End})
}

// UnmarshalJSON accepts exactly a two-element integer array.
func (r *LineRange) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("line_range: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("line_range: want [start, end], got %d elements", len(pair))
	}
	r.Start, r.End = pair[0], pair[1]
	return nil
}

// MarshalYAML renders the range as a two-element sequence.
func (r LineRange) MarshalYAML() (any, error) {
	return []int{r.Start, r.End}, nil
}

// Valid reports whether 1 <= Start <= End.
func (r LineRange) Valid() bool {
	return r.Start >= 1 && r.End >= r.Start
}

func (r LineRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ParseLineRange parses "start-end" (e.g. "10-45").
func ParseLineRange(s string) (*LineRange, error) {
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return nil, fmt.Errorf("invalid line range %q: want start-end", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return nil, fmt.Errorf("invalid line range %q: %w", s, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return nil, fmt.Errorf("invalid line range %q: %w", s, err)
	}
	r := LineRange{Start: start, End: end}
	if !r.Valid() {
		return nil, fmt.Errorf("invalid line range %q: need 1 <= start <= end", s)
	}
	return &r, nil
}

// entryValidate is the validator instance for persisted records.
var entryValidate *validator.Validate

func init() {
	entryValidate = validator.New()
	_ = entryValidate.RegisterValidation("entryid", func(fl validator.FieldLevel) bool {
		return ValidID(fl.Field().String())
	})
}

// NewID returns a fresh time-ordered identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ValidID reports whether id can name an entry file.
func ValidID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}

// Normalize puts an entry into its canonical stored form: UTC timestamp,
// normalized target paths, sorted unique tags. It does not validate.
func (e *Entry) Normalize() {
	e.Timestamp = e.Timestamp.UTC()

	targets := make([]string, 0, len(e.TargetFiles))
	hashes := make(map[string]string, len(e.FileHashes))
	for _, t := range e.TargetFiles {
		n := NormalizePath(t)
		if n == "" || slices.Contains(targets, n) {
			continue
		}
		targets = append(targets, n)
		if h, ok := e.FileHashes[t]; ok {
			hashes[n] = h
		} else if h, ok := e.FileHashes[n]; ok {
			hashes[n] = h
		}
	}
	e.TargetFiles = targets
	if e.FileHashes != nil {
		e.FileHashes = hashes
	}
	e.Tags = NormalizeTags(e.Tags)
}

// Validate checks required fields and cross-field constraints.
// Failures are reported as CorruptRecord naming the entry.
func (e *Entry) Validate() error {
	if err := entryValidate.Struct(e); err != nil {
		return Corrupt("validate entry", e.ID, err)
	}
	if e.LineRange != nil && !e.LineRange.Valid() {
		return Corrupt("validate entry", e.ID, fmt.Errorf("invalid line range %s", e.LineRange))
	}
	for _, t := range e.TargetFiles {
		if _, ok := e.FileHashes[t]; !ok {
			return Corrupt("validate entry", e.ID, fmt.Errorf("missing file hash for %q", t))
		}
	}
	return nil
}

// HasTag reports whether the entry carries tag exactly.
func (e *Entry) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// wireEntry accepts the legacy single-file layout alongside the current one.
type wireEntry struct {
	Entry
	TargetFile string `json:"target_file"`
	FileHash   string `json:"file_hash"`
}

// DecodeEntry parses and validates a stored record. Any structural problem
// yields CorruptRecord; subject names the record for error messages.
func DecodeEntry(data []byte, subject string) (*Entry, error) {
	var w wireEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		return nil, Corrupt("decode entry", subject, err)
	}
	if dec.More() {
		return nil, Corrupt("decode entry", subject, errors.New("trailing data after record"))
	}

	e := w.Entry
	if len(e.TargetFiles) == 0 && w.TargetFile != "" {
		e.TargetFiles = []string{w.TargetFile}
	}
	if e.FileHashes == nil && w.FileHash != "" && len(e.TargetFiles) == 1 {
		e.FileHashes = map[string]string{e.TargetFiles[0]: w.FileHash}
	}
	e.Normalize()

	if err := e.Validate(); err != nil {
		var de *Error
		if errors.As(err, &de) {
			de.Subject = subject
		}
		return nil, err
	}
	return &e, nil
}

// EncodeEntry serializes an entry in its stored form.
func EncodeEntry(e *Entry) ([]byte, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entry %s: %w", e.ID, err)
	}
	return append(data, '\n'), nil
}

// NormalizeTags drops empty tags, removes duplicates and sorts.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Newer reports whether a sorts before b in newest-first order: later
// timestamp first, and for equal timestamps the lexicographically larger ID.
func Newer(a, b *Entry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.After(b.Timestamp)
	}
	return a.ID > b.ID
}

// SortNewestFirst orders entries by Newer. The order is total for distinct IDs.
func SortNewestFirst(entries []*Entry) {
	slices.SortFunc(entries, func(a, b *Entry) int {
		switch {
		case Newer(a, b):
			return -1
		case Newer(b, a):
			return 1
		default:
			return 0
		}
	})
}
