// Package storage persists serialized segments.
//
// A Sink collects the three streams a segment serializes into (entities,
// postings contents and chains) and commits them as one container blob:
//
//	+--------------------------------------------------------------+
//	| header (64 bytes)                                            |
//	|   magic "CNTX" | version u16 | compression u8 | reserved u8  |
//	|   3 x (offset u64, length u32, crc32c u32)                   |
//	|   header crc32c u32 | reserved                               |
//	+--------------------------------------------------------------+
//	| entities region | contents region | chains region            |
//	+--------------------------------------------------------------+
//
// Integers are little-endian. Region checksums cover the stored (possibly
// compressed) bytes. Opening a container validates magic, version, bounds
// and every checksum and refuses to serve partial data.
//
// Patch overlays saved after commit live in a sibling blob with a CRC32C
// frame and are replaced atomically.
package storage
