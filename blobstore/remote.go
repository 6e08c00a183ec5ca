package blobstore

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"sync"
)

// Keyspace maps blob names to object keys below a root prefix.
type Keyspace string

// Key returns the object key of name.
func (k Keyspace) Key(name string) string {
	return path.Join(string(k), name)
}

// ListPrefix returns the key prefix matching names that start with prefix.
func (k Keyspace) ListPrefix(prefix string) string {
	p := k.Key(prefix)
	if strings.HasSuffix(prefix, "/") {
		p += "/"
	}
	return p
}

// Name reverses Key. Keys outside the root map to "".
func (k Keyspace) Name(key string) string {
	root := strings.TrimSuffix(string(k), "/")
	if root == "" {
		return strings.TrimPrefix(key, "/")
	}
	rest, ok := strings.CutPrefix(key, root)
	if !ok {
		return ""
	}
	return strings.TrimPrefix(rest, "/")
}

// RangeFunc fetches the inclusive byte range [first, last] of an object.
type RangeFunc func(ctx context.Context, first, last int64) (io.ReadCloser, error)

type remoteBlob struct {
	size  int64
	fetch RangeFunc
}

// NewRemoteBlob returns a Blob of size bytes whose reads are served by
// ranged requests through fetch.
func NewRemoteBlob(size int64, fetch RangeFunc) Blob {
	return &remoteBlob{size: size, fetch: fetch}
}

func (b *remoteBlob) Size() int64 { return b.size }

func (b *remoteBlob) Close() error { return nil }

func (b *remoteBlob) ReadRange(ctx context.Context, off, length int64) (io.ReadCloser, error) {
	if off >= b.size || length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.fetch(ctx, off, min(off+length, b.size)-1)
}

func (b *remoteBlob) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off >= b.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}
	short := off+int64(len(p)) > b.size
	if short {
		p = p[:b.size-off]
	}

	rc, err := b.ReadRange(ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	n, err := io.ReadFull(rc, p)
	if err == nil && short {
		err = io.EOF
	}
	return n, err
}

// UploadFunc consumes body until EOF and stores it as one object.
type UploadFunc func(body io.Reader) error

type streamingBlob struct {
	pw   *io.PipeWriter
	done chan error

	mu     sync.Mutex
	closed bool
}

// NewStreamingBlob starts upload in the background and feeds it everything
// written to the returned blob. Close waits for the upload to finish.
func NewStreamingBlob(upload UploadFunc) WritableBlob {
	pr, pw := io.Pipe()
	b := &streamingBlob{pw: pw, done: make(chan error, 1)}
	go func() {
		err := upload(pr)
		_ = pr.CloseWithError(err)
		b.done <- err
	}()
	return b
}

func (b *streamingBlob) Write(p []byte) (int, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return b.pw.Write(p)
}

// Sync is a no-op. The object is published by Close.
func (b *streamingBlob) Sync() error { return nil }

func (b *streamingBlob) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	b.mu.Unlock()

	if err := b.pw.Close(); err != nil {
		return err
	}
	return <-b.done
}
