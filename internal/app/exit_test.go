package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/store"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(42, "custom"), 42},
		{"wrapped exit error", fmt.Errorf("outer: %w", WrapExitError(ExitUsage, "bad", errors.New("x"))), ExitUsage},
		{"invalid request", fmt.Errorf("%w: intent is required", store.ErrInvalidRequest), ExitUsage},
		{"path outside root", domain.ErrPathOutsideRoot, ExitUsage},
		{"empty query", query.ErrEmptyQuery, ExitUsage},
		{"not found", domain.NotFound("explain", "a.txt"), ExitNotFound},
		{"duplicate", domain.NewError(domain.KindDuplicateIdentifier, "create", "id", nil), ExitDuplicateIdentifier},
		{"io", domain.IOFailure("write", "x", errors.New("disk full")), ExitIOFailure},
		{"corrupt", fmt.Errorf("merge: %w", domain.Corrupt("parse", "x", nil)), ExitCorruptRecord},
		{"uninitialized", domain.NewError(domain.KindRepositoryUninitialized, "open", "/r", nil), ExitRepositoryUninitialized},
		{"busy", domain.NewError(domain.KindRepositoryBusy, "record", "/r", nil), ExitRepositoryBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetExitCode(tt.err); got != tt.want {
				t.Errorf("GetExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestExitError_Message(t *testing.T) {
	err := WrapExitError(ExitUsage, "usage", errors.New("missing path"))
	if err.Error() != "usage: missing path" {
		t.Errorf("Error() = %q", err.Error())
	}
	if NewExitError(1, "plain").Error() != "plain" {
		t.Error("Expected message without cause")
	}
	if !errors.Is(err, err.Err) {
		t.Error("Expected Unwrap to expose the cause")
	}
}
