// Package hash provides the checksums and hash functions used by the index.
//
// Storage containers are protected with CRC32-Castagnoli, which Go computes
// with hardware instructions where available:
//
//	sum := hash.CRC32C(region)
//
// In-memory hash tables (entity buckets, postings keys) use xxhash64 through
// Bytes and Bucket:
//
//	b := hash.Bucket(id, len(buckets))
package hash
