package contentstore

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAllBackendsFailed is returned when no backend could serve a request.
	ErrAllBackendsFailed = errors.New("contentstore: all backends failed")
	// ErrReadOnly is returned by backends that only serve retrievals.
	ErrReadOnly = errors.New("contentstore: backend is read-only")
	// ErrNotFound is returned by a backend that does not hold the content.
	ErrNotFound = errors.New("contentstore: content not found")
	// ErrDigestMismatch means content did not hash to the expected CID.
	ErrDigestMismatch = errors.New("contentstore: digest mismatch")
	// ErrInvalidDigest means a digest string is not a usable CID.
	ErrInvalidDigest = errors.New("contentstore: invalid digest")
	// ErrTooLarge means a record exceeds MaxRecordSize.
	ErrTooLarge = errors.New("contentstore: record too large")
)

// BackendError records why a single backend failed.
type BackendError struct {
	Backend string
	Err     error
}

func (e BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

// FailoverError lists every backend failure of one operation.
type FailoverError struct {
	Op       string
	Failures []BackendError
}

func (e *FailoverError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%v: %s: no backends configured", ErrAllBackendsFailed, e.Op)
	}
	return fmt.Sprintf("%v: %s: %s", ErrAllBackendsFailed, e.Op, strings.Join(parts, "; "))
}

func (e *FailoverError) Unwrap() error { return ErrAllBackendsFailed }
