package app

import (
	"errors"
	"fmt"

	"github.com/AvraamMavridis/lore/internal/domain"
	"github.com/AvraamMavridis/lore/internal/query"
	"github.com/AvraamMavridis/lore/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess                 = 0
	ExitFailure                 = 1 // Unclassified failure
	ExitUsage                   = 2 // Bad flags, arguments or configuration
	ExitNotFound                = 3
	ExitDuplicateIdentifier     = 4
	ExitIOFailure               = 5
	ExitCorruptRecord           = 6
	ExitRepositoryUninitialized = 7
	ExitRepositoryBusy          = 8
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// usageError marks err as a usage error.
func usageError(err error) error {
	if err == nil {
		return nil
	}
	return WrapExitError(ExitUsage, "usage", err)
}

// GetExitCode extracts the exit code from an error. An *ExitError carries
// its own code; domain errors map by kind; anything else is ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errors.Is(err, store.ErrInvalidRequest) ||
		errors.Is(err, domain.ErrPathOutsideRoot) ||
		errors.Is(err, query.ErrEmptyQuery) {
		return ExitUsage
	}

	switch domain.KindOf(err) {
	case domain.KindNotFound:
		return ExitNotFound
	case domain.KindDuplicateIdentifier:
		return ExitDuplicateIdentifier
	case domain.KindIOFailure:
		return ExitIOFailure
	case domain.KindCorruptRecord:
		return ExitCorruptRecord
	case domain.KindRepositoryUninitialized:
		return ExitRepositoryUninitialized
	case domain.KindRepositoryBusy:
		return ExitRepositoryBusy
	default:
		return ExitFailure
	}
}
