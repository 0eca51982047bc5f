package services

import (
	"github.com/go-faster/errors"

	"github.com/tgdrive/qdrop/internal/registry"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrNotFoundOrExpired = errors.New("share not found or expired")
	ErrItemNotFound      = errors.New("item not found in share")
	ErrStorageFailure    = errors.New("storage unavailable")
	// ErrSourceRead reports that the caller's content could not be read,
	// e.g. a client that went away mid-upload.
	ErrSourceRead       = errors.New("reading upload failed")
	ErrExhaustedRetries = registry.ErrExhaustedRetries
)

func invalid(format string, args ...any) error {
	return errors.Wrapf(ErrInvalidInput, format, args...)
}

// storageError keeps the backend error in the chain next to
// ErrStorageFailure so both can be matched.
type storageError struct {
	op  string
	err error
}

func (e *storageError) Error() string {
	return e.op + ": " + ErrStorageFailure.Error() + ": " + e.err.Error()
}

func (e *storageError) Is(target error) bool { return target == ErrStorageFailure }

func (e *storageError) Unwrap() error { return e.err }

func storage(op string, err error) error {
	return &storageError{op: op, err: err}
}

type sourceError struct {
	name string
	err  error
}

func (e *sourceError) Error() string {
	return "read " + e.name + ": " + e.err.Error()
}

func (e *sourceError) Is(target error) bool { return target == ErrSourceRead }

func (e *sourceError) Unwrap() error { return e.err }

func sourceFailed(name string, err error) error {
	return &sourceError{name: name, err: err}
}
