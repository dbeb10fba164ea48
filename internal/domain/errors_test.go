package domain

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestError_IsMatchesSentinelOfSameKind(t *testing.T) {
	err := NotFound("read entry", "abc")

	if !errors.Is(err, ErrNotFound) {
		t.Error("Expected NotFound error to match ErrNotFound")
	}
	if errors.Is(err, ErrCorruptRecord) {
		t.Error("Expected NotFound error not to match ErrCorruptRecord")
	}
}

func TestError_IsThroughWrapping(t *testing.T) {
	err := fmt.Errorf("record failed: %w", IOFailure("write index", ".lore/index.json", fs.ErrPermission))

	if !errors.Is(err, ErrIOFailure) {
		t.Error("Expected wrapped IOFailure to match ErrIOFailure")
	}
	if !errors.Is(err, fs.ErrPermission) {
		t.Error("Expected cause to stay reachable")
	}
	if KindOf(err) != KindIOFailure {
		t.Errorf("KindOf = %v, want %v", KindOf(err), KindIOFailure)
	}
}

func TestError_MessageNamesSubject(t *testing.T) {
	err := Corrupt("decode entry", "0190-abc", errors.New("unexpected EOF"))

	msg := err.Error()
	for _, want := range []string{"decode entry", "CorruptRecord", `"0190-abc"`, "unexpected EOF"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestKindOf_Unclassified(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindUnknown {
		t.Errorf("KindOf = %v, want %v", got, KindUnknown)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Errorf("KindOf(nil) = %v, want %v", got, KindUnknown)
	}
}

func TestKind_StringDistinct(t *testing.T) {
	kinds := []Kind{
		KindNotFound, KindDuplicateIdentifier, KindIOFailure,
		KindCorruptRecord, KindRepositoryUninitialized, KindRepositoryBusy,
	}
	seen := make(map[string]bool)
	for _, k := range kinds {
		name := k.String()
		if seen[name] {
			t.Errorf("duplicate kind name %q", name)
		}
		seen[name] = true
	}
}
