// Package fs abstracts the file operations behind the local blob store so
// tests can inject I/O failures.
//
//   - [LocalFS] is the production implementation over package os.
//   - [FaultyFS] wraps another FileSystem and fails writes, syncs, closes or
//     renames of matching files.
//
// Operations take no context.Context: local syscalls are not interruptible.
package fs
