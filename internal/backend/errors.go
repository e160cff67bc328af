package backend

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means the service could not be reached at all.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrAuthentication means the service rejected the credential. Callers
	// must not retry with the same credential.
	ErrAuthentication = errors.New("authentication rejected")
	// ErrMalformedResponse means the service replied with an unexpected payload.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrPending means the backend has accepted the item but cannot serve it yet.
	ErrPending = errors.New("result pending")
	// ErrNotFound means the requested item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfiguration means required configuration is missing or invalid.
	ErrConfiguration = errors.New("configuration error")
	// ErrAlreadyExists means a write target is already taken.
	ErrAlreadyExists = errors.New("already exists")
)

// ItemKind names the stage an item-level failure happened in.
type ItemKind string

const (
	ItemFetch   ItemKind = "fetch"
	ItemUpload  ItemKind = "upload"
	ItemResolve ItemKind = "resolve"
	ItemExtract ItemKind = "extract"
	ItemOutput  ItemKind = "output"
)

// ItemError is a failure scoped to a single document.
type ItemError struct {
	Kind  ItemKind
	Name  string
	Cause error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Cause)
}

func (e *ItemError) Unwrap() error { return e.Cause }

// NewItemError wraps cause as an item-level failure.
func NewItemError(kind ItemKind, name string, cause error) *ItemError {
	return &ItemError{Kind: kind, Name: name, Cause: cause}
}

// Unavailable wraps err so that it matches ErrBackendUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrBackendUnavailable, err)
}

// Malformed wraps err so that it matches ErrMalformedResponse.
func Malformed(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrMalformedResponse, err)
}

// Configuration returns an error matching ErrConfiguration.
func Configuration(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err must abort a run regardless of per-item policy.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBackendUnavailable) ||
		errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrConfiguration)
}
