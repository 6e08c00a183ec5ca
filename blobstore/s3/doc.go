// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "index/")
//
// Committed containers are streamed through the multipart uploader with CRC32C
// checksums and read back with ranged GetObject requests. DDBCommitStore adds
// an atomic CURRENT pointer kept in DynamoDB for safe concurrent writers.
package s3
