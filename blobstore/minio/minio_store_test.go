package minio

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contents"
	"github.com/hupe1980/contents/blobstore"
)

func TestMinioStore_Integration(t *testing.T) {
	client, err := minio.New("localhost:9000", &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	bucket := "test-contents"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, fmt.Sprintf("it-%d/", time.Now().UnixNano()))
	t.Cleanup(func() {
		names, _ := store.List(ctx, "")
		for _, name := range names {
			_ = store.Delete(ctx, name)
		}
	})

	t.Run("container ranges", func(t *testing.T) {
		w, err := store.Create(ctx, "seg-000001.cntx")
		require.NoError(t, err)
		_, err = w.Write([]byte("CNTX header and regions"))
		require.NoError(t, err)
		require.NoError(t, w.Close())

		blob, err := store.Open(ctx, "seg-000001.cntx")
		require.NoError(t, err)
		defer blob.Close()

		rc, err := blob.ReadRange(ctx, 5, 6)
		require.NoError(t, err)
		part, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		assert.Equal(t, "header", string(part))

		require.NoError(t, store.Delete(ctx, "seg-000001.cntx"))
		_, err = store.Open(ctx, "seg-000001.cntx")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("index round trip", func(t *testing.T) {
		idx, err := contents.Open(ctx, contents.WithBlobStore(store), contents.WithMaxEntities(8))
		require.NoError(t, err)
		for i := range 20 {
			_, err := idx.SetEntity(ctx, fmt.Appendf(nil, "doc-%02d", i), []byte("meta"), nil)
			require.NoError(t, err)
		}
		_, err = idx.DelEntity(ctx, []byte("doc-07"))
		require.NoError(t, err)
		require.NoError(t, idx.Close(ctx))

		idx, err = contents.Open(ctx, contents.WithBlobStore(store))
		require.NoError(t, err)
		defer idx.Close(ctx)

		assert.Equal(t, 19, idx.Stats().Entities)
		e, err := idx.GetEntity([]byte("doc-07"))
		require.NoError(t, err)
		assert.Nil(t, e)

		names, err := store.List(ctx, "MANIFEST")
		require.NoError(t, err)
		assert.NotEmpty(t, names)
	})
}

func TestStore_KeyMapping(t *testing.T) {
	s := NewStore(nil, "bucket", "index/")
	assert.Equal(t, "index/CURRENT", s.key("CURRENT"))
	assert.Equal(t, "CURRENT", s.name("index/CURRENT"))
	assert.Equal(t, "segments/000001.cntx", s.name("index/segments/000001.cntx"))

	root := NewStore(nil, "bucket", "")
	assert.Equal(t, "CURRENT", root.key("CURRENT"))
	assert.Equal(t, "CURRENT", root.name("CURRENT"))
}
