package fs

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrInjected is returned by injected faults that carry no error of their own.
var ErrInjected = errors.New("fs: injected fault")

// Op is a set of file operations.
type Op uint8

const (
	OpWrite Op = 1 << iota
	OpSync
	OpClose
	OpRename
)

// Fault makes the operations in Ops fail for files whose path contains the
// pattern it was injected under. Writes fail once After bytes were accepted.
type Fault struct {
	Ops   Op
	After int64
	Err   error
}

func (f Fault) fails(op Op) bool { return f.Ops&op != 0 }

func (f Fault) error() error {
	if f.Err == nil {
		return ErrInjected
	}
	return f.Err
}

// FaultyFS wraps a FileSystem and fails operations on selected files.
type FaultyFS struct {
	base FileSystem

	mu      sync.Mutex
	faults  []injected
	written int64
	budget  int64 // -1: unlimited
}

type injected struct {
	pattern string
	fault   Fault
}

// NewFaultyFS wraps base, or Default when base is nil.
func NewFaultyFS(base FileSystem) *FaultyFS {
	if base == nil {
		base = Default
	}
	return &FaultyFS{base: base, budget: -1}
}

// Inject adds a fault for paths containing pattern. The first matching
// injection wins.
func (f *FaultyFS) Inject(pattern string, fault Fault) {
	f.mu.Lock()
	f.faults = append(f.faults, injected{pattern, fault})
	f.mu.Unlock()
}

// SetWriteBudget fails writes once the bytes written through f, across all
// files, would exceed n.
func (f *FaultyFS) SetWriteBudget(n int64) {
	f.mu.Lock()
	f.budget = n
	f.mu.Unlock()
}

// Written returns the bytes accepted so far.
func (f *FaultyFS) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// Clear removes all faults and the write budget.
func (f *FaultyFS) Clear() {
	f.mu.Lock()
	f.faults = nil
	f.budget = -1
	f.mu.Unlock()
}

func (f *FaultyFS) lookup(name string) Fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, in := range f.faults {
		if strings.Contains(name, in.pattern) {
			return in.fault
		}
	}
	return Fault{}
}

// charge accounts n bytes against the write budget.
func (f *FaultyFS) charge(n int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.budget >= 0 && f.written+n > f.budget {
		return false
	}
	f.written += n
	return true
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.base.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, owner: f, fault: f.lookup(name)}, nil
}

func (f *FaultyFS) Rename(oldpath, newpath string) error {
	if fault := f.lookup(newpath); fault.fails(OpRename) {
		return fault.error()
	}
	return f.base.Rename(oldpath, newpath)
}

func (f *FaultyFS) Remove(name string) error { return f.base.Remove(name) }

func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error { return f.base.MkdirAll(path, perm) }

func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.base.ReadDir(name) }

type faultyFile struct {
	File
	owner   *FaultyFS
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	n := int64(len(p))
	if ff.fault.fails(OpWrite) && ff.written+n > ff.fault.After {
		return 0, ff.fault.error()
	}
	if !ff.owner.charge(n) {
		return 0, ff.fault.error()
	}
	w, err := ff.File.Write(p)
	ff.written += int64(w)
	return w, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.fails(OpSync) {
		return ff.fault.error()
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	err := ff.File.Close()
	if ff.fault.fails(OpClose) {
		return ff.fault.error()
	}
	return err
}
