package s3

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contents/blobstore"
	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/storage"
)

func TestStore_ContainerLifecycle(t *testing.T) {
	ctx := context.Background()
	bucket := newFakeS3()
	store := NewStore(bucket, "test-bucket", "index/")

	payload := []byte("CNTX container payload")
	w, err := store.Create(ctx, "seg-000001.cntx")
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), blobstore.ErrClosed)

	require.NoError(t, store.Put(ctx, "seg-000001.patch", []byte("patch")))
	assert.Equal(t, []string{"index/seg-000001.cntx", "index/seg-000001.patch"}, bucket.keys())

	blob, err := store.Open(ctx, "seg-000001.cntx")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(len(payload)), blob.Size())

	buf := make([]byte, 9)
	n, err := blob.ReadAt(ctx, buf, 5)
	require.NoError(t, err)
	assert.Equal(t, "container", string(buf[:n]))

	r, err := blob.ReadRange(ctx, 0, 4)
	require.NoError(t, err)
	head, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "CNTX", string(head))

	names, err := store.List(ctx, "seg-")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-000001.cntx", "seg-000001.patch"}, names)

	require.NoError(t, store.Delete(ctx, "seg-000001.cntx"))
	_, err = store.Open(ctx, "seg-000001.cntx")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_StorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storage.NewBlob(NewStore(newFakeS3(), "test-bucket", "index/"),
		storage.WithCompression(codec.CompressionZstd))

	sink, err := st.Create(ctx, "seg-000001")
	require.NoError(t, err)
	_, err = sink.Entities().Write([]byte("entities"))
	require.NoError(t, err)
	_, err = sink.Contents().Write([]byte(strings.Repeat("contents", 64)))
	require.NoError(t, err)
	_, err = sink.Chains().Write([]byte("chains"))
	require.NoError(t, err)
	s, err := sink.Commit(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = st.Open(ctx, "seg-000001")
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []byte("entities"), s.Entities())
	assert.Equal(t, []byte(strings.Repeat("contents", 64)), s.Contents())
	assert.Equal(t, []byte("chains"), s.Chains())

	names, err := st.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-000001"}, names)
}

func TestStore_List_Pagination(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "index/")

	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken == nil && *input.Prefix == "index/seg-"
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
		Contents:              []types.Object{{Key: aws.String("index/seg-000002.cntx")}},
	}, nil).Once()
	mockClient.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(input *s3.ListObjectsV2Input) bool {
		return input.ContinuationToken != nil && *input.ContinuationToken == "next"
	})).Return(&s3.ListObjectsV2Output{
		IsTruncated: aws.Bool(false),
		Contents:    []types.Object{{Key: aws.String("index/seg-000001.cntx")}},
	}, nil).Once()

	names, err := store.List(context.Background(), "seg-")
	require.NoError(t, err)
	assert.Equal(t, []string{"seg-000001.cntx", "seg-000002.cntx"}, names)
	mockClient.AssertExpectations(t)
}

func TestStore_Open_HeadError(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "index/")

	mockClient.On("HeadObject", mock.Anything, mock.Anything).
		Return(nil, &types.NoSuchKey{}).Once()
	_, err := store.Open(context.Background(), "CURRENT")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestStore_Put_Checksum(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "prefix")
	data := []byte("MANIFEST-000001.json")

	mockClient.On("PutObject", mock.Anything, mock.MatchedBy(func(input *s3.PutObjectInput) bool {
		return *input.Key == "prefix/CURRENT" &&
			*input.ChecksumCRC32C == checksumCRC32C(data) &&
			*input.ContentLength == int64(len(data))
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	assert.NoError(t, store.Put(context.Background(), "CURRENT", data))
	mockClient.AssertExpectations(t)
}

func TestChecksumCRC32C(t *testing.T) {
	// CRC32C("123456789") = 0xE3069283
	assert.Equal(t, "4waSgw==", checksumCRC32C([]byte("123456789")))
}

func TestBlob_ReadAt_PastEnd(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "b", "")

	mockClient.On("HeadObject", mock.Anything, mock.Anything).
		Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(4)}, nil).Once()
	blob, err := store.Open(context.Background(), "k")
	require.NoError(t, err)

	mockClient.On("GetObject", mock.Anything, mock.MatchedBy(func(input *s3.GetObjectInput) bool {
		return *input.Range == "bytes=2-3"
	})).Return(&s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader("cd")),
	}, nil).Once()

	buf := make([]byte, 8)
	n, err := blob.ReadAt(context.Background(), buf, 2)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)

	n, err = blob.ReadAt(context.Background(), buf, 4)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStore_Delete_Missing(t *testing.T) {
	mockClient := new(MockS3Client)
	store := NewStore(mockClient, "test-bucket", "")

	mockClient.On("DeleteObject", mock.Anything, mock.Anything).Return(nil, &types.NoSuchKey{}).Once()
	assert.NoError(t, store.Delete(context.Background(), "gone"))
}
