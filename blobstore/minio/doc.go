// Package minio provides a BlobStore backed by the MinIO client, usable with
// any S3-compatible object store (MinIO, Ceph, Garage, SeaweedFS).
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "index/")
//	idx, err := contents.Open(ctx, contents.WithBlobStore(store))
//
// Committed containers are streamed with PutObject and read back with ranged
// GetObject requests.
package minio
