package sync

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means the server holds a strictly newer version.
	ErrConflict = errors.New("conflict: server has a newer version")
	// ErrPartialFailure means some records of a batch failed.
	ErrPartialFailure = errors.New("partial failure")
	// ErrLimitExceeded means the batch was too large or rate limited.
	ErrLimitExceeded = errors.New("limit exceeded")
	// ErrInvalidArgument marks a malformed record. It is never retried.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrUnreachable means the remote store could not be reached.
	ErrUnreachable = errors.New("remote store unreachable")
	// ErrNotFound means the remote store has no record with the identity.
	ErrNotFound = errors.New("record not found")
)

// BatchError is a whole-batch failure tagged with its chunk index.
type BatchError struct {
	Chunk int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d: %v", e.Chunk, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Retryable reports whether err may succeed if the caller tries again later.
// Invalid arguments and oversized batches will not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrInvalidArgument) && !errors.Is(err, ErrLimitExceeded)
}
