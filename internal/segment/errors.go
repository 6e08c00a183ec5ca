package segment

import (
	"errors"
	"fmt"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/patch"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/storage"
)

var (
	// ErrOverflow is the retryable capacity condition that triggers rotation.
	ErrOverflow = errors.New("segment: overflow")
	// ErrReadOnly is returned for inserts into a static or frozen segment.
	ErrReadOnly = errors.New("segment: read-only")
	// ErrBlockTypeMismatch is returned when a key receives a second block type.
	ErrBlockTypeMismatch = errors.New("segment: block type mismatch")
	// ErrMalformed is returned for details that do not match their block type.
	ErrMalformed = errors.New("segment: malformed contents")
	// ErrInvalidArgument is returned for invalid input such as an empty id.
	ErrInvalidArgument = errors.New("segment: invalid argument")
	// ErrCorrupt is returned when stored data fails validation.
	ErrCorrupt = errors.New("segment: corrupt data")
	// ErrJobFailed marks the stored failure of a commit or merge job.
	ErrJobFailed = errors.New("segment: background job failed")
	// ErrClosed is returned by a closed segment.
	ErrClosed = errors.New("segment: closed")
)

// OverflowKind names the exhausted resource.
type OverflowKind int

const (
	CountOverflow OverflowKind = iota + 1
	AllocOverflow
)

func (k OverflowKind) String() string {
	switch k {
	case CountOverflow:
		return "entity count"
	case AllocOverflow:
		return "allocation"
	default:
		return "unknown"
	}
}

// OverflowError reports which limit a dynamic segment hit.
type OverflowError struct {
	Kind  OverflowKind
	Limit uint64
	Err   error
}

func (e *OverflowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("segment: %s overflow (limit %d): %v", e.Kind, e.Limit, e.Err)
	}
	return fmt.Sprintf("segment: %s overflow (limit %d)", e.Kind, e.Limit)
}

// Is makes errors.Is(err, ErrOverflow) true.
func (e *OverflowError) Is(target error) bool { return target == ErrOverflow }

func (e *OverflowError) Unwrap() error { return e.Err }

// JobError is the stored failure of a background job, returned to every
// caller touching the affected segment.
type JobError struct {
	Segment string
	Op      string
	Err     error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("segment %s: %s failed: %v", e.Segment, e.Op, e.Err)
}

func (e *JobError) Unwrap() []error { return []error{ErrJobFailed, e.Err} }

// Translate attaches the matching segment sentinel to errors from the
// building blocks.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entity.ErrCorrupt),
		errors.Is(err, postings.ErrCorrupt),
		errors.Is(err, patch.ErrCorrupt),
		errors.Is(err, storage.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, postings.ErrBlockTypeMismatch):
		return fmt.Errorf("%w: %w", ErrBlockTypeMismatch, err)
	case errors.Is(err, postings.ErrMalformed), errors.Is(err, postings.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	default:
		return err
	}
}
