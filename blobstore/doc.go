// Package blobstore provides the storage abstraction behind committed
// containers, patch overlays and manifests.
//
// BlobStore implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local file system, atomic rename on close, mmap reads
//   - MemoryStore: in-process map, for tests
//   - minio.Store: MinIO and other S3-compatible stores
//   - s3.Store: Amazon S3 with multipart uploads and range reads
//   - s3.DDBCommitStore: S3 plus a DynamoDB-backed CURRENT pointer
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
//
// Blobs that can hand out their bytes without copying implement Mappable.
package blobstore
