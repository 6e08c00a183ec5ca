package contents

import (
	"errors"
	"fmt"

	"github.com/hupe1980/contents/blobstore"
	"github.com/hupe1980/contents/internal/engine"
	"github.com/hupe1980/contents/internal/manifest"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/storage"
)

var (
	// ErrNotFound is returned when stored data the index refers to is missing.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned when the index has been closed.
	ErrClosed = errors.New("index closed")

	// ErrReadOnly is returned for writes into a segment that no longer accepts them.
	ErrReadOnly = errors.New("read-only")

	// ErrBlockTypeMismatch is returned when a key receives a second block type.
	ErrBlockTypeMismatch = errors.New("block type mismatch")

	// ErrInvalidArgument is returned for malformed input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrCorrupt is returned when stored data fails validation.
	ErrCorrupt = errors.New("corrupt data")

	// ErrOverflow is returned when an entity does not fit into an empty segment.
	ErrOverflow = errors.New("segment overflow")

	// ErrJobFailed is returned for segments whose commit or merge failed.
	ErrJobFailed = errors.New("background job failed")
)

// JobError reports the failed background job behind an error.
//
// The original underlying error can be accessed via errors.Unwrap.
type JobError struct {
	Segment string
	Op      string
	cause   error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s of segment %s failed: %v", e.Op, e.Segment, e.cause)
}

func (e *JobError) Unwrap() []error { return []error{ErrJobFailed, e.cause} }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var je *segment.JobError
	if errors.As(err, &je) {
		return &JobError{Segment: je.Segment, Op: je.Op, cause: err}
	}

	switch {
	case errors.Is(err, engine.ErrClosed), errors.Is(err, segment.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, segment.ErrOverflow):
		return fmt.Errorf("%w: %w", ErrOverflow, err)
	case errors.Is(err, segment.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	case errors.Is(err, segment.ErrBlockTypeMismatch), errors.Is(err, postings.ErrBlockTypeMismatch):
		return fmt.Errorf("%w: %w", ErrBlockTypeMismatch, err)
	case errors.Is(err, segment.ErrInvalidArgument), errors.Is(err, segment.ErrMalformed),
		errors.Is(err, postings.ErrMalformed), errors.Is(err, postings.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case errors.Is(err, segment.ErrCorrupt), errors.Is(err, storage.ErrCorrupt),
		errors.Is(err, manifest.ErrInvalid), errors.Is(err, manifest.ErrIncompatibleVersion):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
