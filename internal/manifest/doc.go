// Package manifest persists the segment list of an index.
//
// # Overview
//
// A manifest records which committed containers make up the index, the
// global entity index range each of them covers, and the next segment id
// to allocate. Only committed containers are ever referenced, so a crash
// between a commit and the following manifest save leaves an orphan
// container, never a dangling reference.
//
// # Atomic Protocol
//
// Save follows a two-step protocol:
//
//  1. Write the manifest to MANIFEST-NNNNNN.json (N is the version id)
//  2. Atomically replace the CURRENT pointer with that name
//
// On local filesystems step 2 is a rename. On S3 it relies on strong
// read-after-write consistency, or on a DynamoDB conditional write when the
// store is wrapped in a DDBCommitStore.
//
// Load reads CURRENT to find the active manifest, then loads that file.
//
// # Thread Safety
//
// All Store methods are protected by a mutex and safe for concurrent use.
package manifest
