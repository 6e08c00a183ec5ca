// Package codec implements the on-disk primitives shared by every index form.
//
// Integers use a prefix-length varint: the number of leading one bits in the
// first byte tells the decoder how many bytes follow, exactly like the lead
// byte of a UTF-8 sequence. Payload bits are stored big-endian, which makes
// the encoding order-preserving: comparing two encoded values byte by byte
// gives the same result as comparing the integers.
//
//	0xxxxxxx                      7 bits
//	10xxxxxx +1 byte             14 bits
//	110xxxxx +2 bytes            21 bits
//	1110xxxx +3 bytes            28 bits
//	11110xxx +4 bytes            35 bits
//	111110xx +5 bytes            42 bits
//	1111110x +6 bytes            49 bits
//	11111110 +7 bytes            56 bits
//	11111111 +8 bytes            64 bits
//
// Byte strings are length-prefixed with the same varint. Composite postings
// keys (field id + typed payload) are built on top of it so that encoded keys
// sort in (field, value) order.
package codec
