package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "b")
	require.NoError(t, err)
	_, err = w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("memory"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	_, err = store.Open(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, w.Close())
	_, err = w.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrClosed)

	blob, err := store.Open(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(12), blob.Size())

	buf := make([]byte, 4)
	n, err := blob.ReadAt(ctx, buf, 10)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	r, err := blob.ReadRange(ctx, 6, 100)
	require.NoError(t, err)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "memory", string(got))

	data, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "hello memory", string(data))
	require.NoError(t, blob.Close())

	require.NoError(t, store.Put(ctx, "a", []byte("1")))
	require.NoError(t, store.Put(ctx, "c", []byte("2")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.Equal(t, 3, store.Len())

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "missing"))
	assert.Equal(t, 2, store.Len())
}

func TestMemoryStore_PutCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "x", data))
	data[0] = 'z'

	got, err := Get(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

type readAtOnly struct{ *bytesBlob }

func TestSectionReader(t *testing.T) {
	ctx := context.Background()
	b := &bytesBlob{data: []byte("0123456789")}
	r := NewSectionReader(ctx, readAtOnly{b}, 3, 4)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(got))
}

func TestKeyspace(t *testing.T) {
	ks := Keyspace("index/")
	assert.Equal(t, "index/CURRENT", ks.Key("CURRENT"))
	assert.Equal(t, "index/seg-", ks.ListPrefix("seg-"))
	assert.Equal(t, "index/segments/", ks.ListPrefix("segments/"))
	assert.Equal(t, "segments/000001.cntx", ks.Name("index/segments/000001.cntx"))
	assert.Equal(t, "", ks.Name("other/CURRENT"))

	root := Keyspace("")
	assert.Equal(t, "CURRENT", root.Key("CURRENT"))
	assert.Equal(t, "CURRENT", root.Name("CURRENT"))
}

func TestRemoteBlob(t *testing.T) {
	ctx := context.Background()
	data := []byte("CNTX container payload")
	var ranges [][2]int64
	b := NewRemoteBlob(int64(len(data)), func(_ context.Context, first, last int64) (io.ReadCloser, error) {
		ranges = append(ranges, [2]int64{first, last})
		return io.NopCloser(bytes.NewReader(data[first : last+1])), nil
	})

	buf := make([]byte, 9)
	n, err := b.ReadAt(ctx, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, "container", string(buf[:n]))

	buf = make([]byte, 16)
	n, err = b.ReadAt(ctx, buf, 15)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "payload", string(buf[:n]))

	_, err = b.ReadAt(ctx, buf, int64(len(data)))
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, [][2]int64{{5, 13}, {15, 21}}, ranges)
}

func TestStreamingBlob(t *testing.T) {
	var got []byte
	w := NewStreamingBlob(func(body io.Reader) error {
		var err error
		got, err = io.ReadAll(body)
		return err
	})
	_, err := w.Write([]byte("seg"))
	require.NoError(t, err)
	_, err = w.Write([]byte("ment"))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, "segment", string(got))

	assert.ErrorIs(t, w.Close(), ErrClosed)
	_, err = w.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	boom := errors.New("upload failed")
	w = NewStreamingBlob(func(io.Reader) error { return boom })
	assert.ErrorIs(t, w.Close(), boom)
}
