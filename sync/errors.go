package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFolders is returned when a run has no local roots to scan.
	ErrNoFolders = errors.New("sync: no folders configured")

	// ErrCheckpointUnreadable is returned when the checkpoint exists but cannot be read.
	ErrCheckpointUnreadable = errors.New("sync: checkpoint unreadable")

	// ErrUnauthorized marks failures caused by missing or rejected credentials.
	ErrUnauthorized = errors.New("sync: unauthorized")

	// ErrRetriesExhausted is returned when every attempt of an operation failed.
	ErrRetriesExhausted = errors.New("sync: retries exhausted")
)

// Error wraps a failed operation with the local path it concerned.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPError is an API error reported by a remote store. Reason carries the
// store specific reason code (e.g. "rateLimitExceeded"), when present.
type HTTPError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}
