package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it without parsing messages.
type Kind int

const (
	// KindUnknown is reported for errors that do not carry a domain kind.
	KindUnknown Kind = iota
	KindNotFound
	KindDuplicateIdentifier
	KindIOFailure
	KindCorruptRecord
	KindRepositoryUninitialized
	KindRepositoryBusy
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindDuplicateIdentifier:
		return "DuplicateIdentifier"
	case KindIOFailure:
		return "IOFailure"
	case KindCorruptRecord:
		return "CorruptRecord"
	case KindRepositoryUninitialized:
		return "RepositoryUninitialized"
	case KindRepositoryBusy:
		return "RepositoryBusy"
	default:
		return "Unknown"
	}
}

// Sentinels for errors.Is matching. A *Error matches the sentinel of its kind.
var (
	ErrNotFound                = &Error{Kind: KindNotFound}
	ErrDuplicateIdentifier     = &Error{Kind: KindDuplicateIdentifier}
	ErrIOFailure               = &Error{Kind: KindIOFailure}
	ErrCorruptRecord           = &Error{Kind: KindCorruptRecord}
	ErrRepositoryUninitialized = &Error{Kind: KindRepositoryUninitialized}
	ErrRepositoryBusy          = &Error{Kind: KindRepositoryBusy}
)

// ErrListingFailed marks a failure to enumerate the entry store as a whole,
// as opposed to a failure to read one record.
var ErrListingFailed = errors.New("entry listing failed")

// Error is a classified failure. Subject names the offending path or identifier.
type Error struct {
	Kind    Kind
	Op      string
	Subject string
	Err     error
}

// NewError creates a classified error.
func NewError(kind Kind, op, subject string, err error) *Error {
	return &Error{Kind: kind, Op: op, Subject: subject, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Subject != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Subject)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a sentinel (or error) of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Subject == "" && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// NotFound builds a KindNotFound error.
func NotFound(op, subject string) *Error {
	return NewError(KindNotFound, op, subject, nil)
}

// IOFailure builds a KindIOFailure error.
func IOFailure(op, subject string, err error) *Error {
	return NewError(KindIOFailure, op, subject, err)
}

// Corrupt builds a KindCorruptRecord error.
func Corrupt(op, subject string, err error) *Error {
	return NewError(KindCorruptRecord, op, subject, err)
}
