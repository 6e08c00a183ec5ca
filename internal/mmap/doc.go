// Package mmap maps committed container files read-only into memory so the
// local blob store can hand out their regions without copying.
//
//	f, err := mmap.Open("seg-000001.cntx", mmap.HintRandom)
//	if err != nil { ... }
//	defer f.Close()
//	data, err := f.Bytes() // valid until Close
package mmap
