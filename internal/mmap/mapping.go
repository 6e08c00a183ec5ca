package mmap

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"
)

var (
	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("mmap: file closed")
	// ErrTooLarge is returned for files the address space cannot hold.
	ErrTooLarge = errors.New("mmap: file too large")
)

// Hint describes how a mapping will be read.
type Hint uint8

const (
	HintNormal Hint = iota
	HintSequential
	HintRandom
	HintWillNeed
)

// File is a read-only mapped file.
type File struct {
	mu     sync.RWMutex
	data   []byte
	size   int
	unmap  func() error
	closed bool
}

// Open maps path and applies hint. Empty files are not mapped.
func Open(path string, hint Hint) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	switch {
	case size == 0:
		return &File{}, nil
	case size > math.MaxInt:
		return nil, fmt.Errorf("%w: %s has %d bytes", ErrTooLarge, path, size)
	}

	data, unmap, err := mapFile(f, int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap: map %s: %w", path, err)
	}
	// Hints are advisory.
	_ = advise(data, hint)
	return &File{data: data, size: int(size), unmap: unmap}, nil
}

// Len returns the file size. It stays valid after Close.
func (m *File) Len() int { return m.size }

// Bytes returns the mapped contents. The slice must not be used after Close.
func (m *File) Bytes() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.data, nil
}

// ReadAt copies from the mapping into p.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	data, err := m.Bytes()
	switch {
	case err != nil:
		return 0, err
	case off < 0:
		return 0, fmt.Errorf("mmap: negative offset %d", off)
	case off >= int64(len(data)):
		return 0, io.EOF
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the file. Closing twice is a no-op.
func (m *File) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.data = nil
	if m.unmap == nil {
		return nil
	}
	return m.unmap()
}
