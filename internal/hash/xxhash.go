package hash

import "github.com/cespare/xxhash/v2"

// Bytes returns the 64-bit xxhash of b.
func Bytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

// Bucket maps b onto one of n buckets. n must be a power of two.
func Bucket(b []byte, n int) int {
	return int(xxhash.Sum64(b) & uint64(n-1))
}
