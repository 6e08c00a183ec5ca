package minio

import (
	"bytes"
	"context"
	"io"
	"slices"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/contents/blobstore"
)

// Store keeps index blobs in a MinIO (or any S3-compatible) bucket.
type Store struct {
	client *minio.Client
	bucket string
	keys   blobstore.Keyspace
}

var _ blobstore.BlobStore = (*Store)(nil)

// NewStore returns a store writing below rootPrefix in bucket.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, keys: blobstore.Keyspace(rootPrefix)}
}

func (s *Store) key(name string) string { return s.keys.Key(name) }

func (s *Store) name(key string) string { return s.keys.Name(key) }

func notFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if notFound(err) {
		return nil, blobstore.ErrNotFound
	} else if err != nil {
		return nil, err
	}

	return blobstore.NewRemoteBlob(info.Size, func(ctx context.Context, first, last int64) (io.ReadCloser, error) {
		var opts minio.GetObjectOptions
		if err := opts.SetRange(first, last); err != nil {
			return nil, err
		}
		return s.client.GetObject(ctx, s.bucket, key, opts)
	}), nil
}

// Put stores small blobs such as manifests in one request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	return err
}

// Create streams a container of unknown length; minio-go switches to a
// multipart upload as needed.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	return blobstore.NewStreamingBlob(func(body io.Reader) error {
		_, err := s.client.PutObject(ctx, s.bucket, key, body, -1, minio.PutObjectOptions{})
		return err
	}), nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !notFound(err) {
		return err
	}
	return nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	opts := minio.ListObjectsOptions{Prefix: s.keys.ListPrefix(prefix), Recursive: true}

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if name := s.name(obj.Key); name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
