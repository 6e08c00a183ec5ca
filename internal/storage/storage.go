package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrCorrupt is returned when a container or patch blob fails validation.
	ErrCorrupt = errors.New("storage: corrupt container")
	// ErrCommitted is returned when a sink is used after Commit or Remove.
	ErrCommitted = errors.New("storage: sink already finished")
	// ErrClosed is returned by a closed Serialized handle.
	ErrClosed = errors.New("storage: closed")
)

// Sink is the write side of one serialized segment.
type Sink interface {
	Name() string
	Entities() io.Writer
	Contents() io.Writer
	Chains() io.Writer
	// Commit persists the streams and reopens them as a Serialized handle.
	Commit(ctx context.Context) (Serialized, error)
	// Remove discards the sink and anything it persisted.
	Remove(ctx context.Context) error
}

// Serialized is a committed segment. The region slices stay valid until Close.
type Serialized interface {
	Name() string
	Entities() []byte
	Contents() []byte
	Chains() []byte
	// Patches returns the last saved patch overlay, or nil if none was saved.
	Patches(ctx context.Context) ([]byte, error)
	// NewPatch starts replacing the saved patch overlay. It takes effect on Close.
	NewPatch(ctx context.Context) (io.WriteCloser, error)
	// Size returns the stored container size in bytes.
	Size() int64
	Close() error
	// Remove closes the handle and deletes the container and its patches.
	Remove(ctx context.Context) error
}

// Storage creates and opens serialized segments by name.
type Storage interface {
	Create(ctx context.Context, name string) (Sink, error)
	Open(ctx context.Context, name string) (Serialized, error)
	// List returns the names of all committed containers.
	List(ctx context.Context) ([]string, error)
	// Delete removes a container and its patches by name.
	Delete(ctx context.Context, name string) error
}
