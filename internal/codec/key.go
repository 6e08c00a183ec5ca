package codec

import (
	"errors"
	"fmt"
	"math"
)

// ErrBadKey is returned by DecodeKey for input that is not a composite key.
var ErrBadKey = errors.New("codec: malformed key")

// Kind tags the payload of a composite key.
type Kind uint8

const (
	KindUint   Kind = 1
	KindInt    Kind = 2
	KindString Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is the typed payload of a composite key.
type Value struct {
	kind Kind
	u    uint64
	s    string
}

// Uint wraps an unsigned payload.
func Uint(u uint64) Value { return Value{kind: KindUint, u: u} }

// Int wraps a signed payload. Negative numbers sort before positive ones.
func Int(i int64) Value { return Value{kind: KindInt, u: uint64(i) ^ (1 << 63)} }

// String wraps a string payload.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Kind reports the payload type.
func (v Value) Kind() Kind { return v.kind }

// Uint returns the unsigned payload.
func (v Value) Uint() uint64 { return v.u }

// Int returns the signed payload.
func (v Value) Int() int64 { return int64(v.u ^ (1 << 63)) }

// Str returns the string payload.
func (v Value) Str() string { return v.s }

// AppendKey appends the composite key (field, value) to dst.
//
// Layout: [field varint][kind byte][payload]. Numeric payloads use the
// order-preserving varint; strings are appended raw so that a key sorts
// exactly like its string, and a key that is a prefix of another sorts first.
func AppendKey(dst []byte, field uint32, v Value) []byte {
	dst = AppendUvarint(dst, uint64(field))
	dst = append(dst, byte(v.kind))
	switch v.kind {
	case KindUint, KindInt:
		dst = AppendUvarint(dst, v.u)
	case KindString:
		dst = append(dst, v.s...)
	}
	return dst
}

// Key is a convenience wrapper around AppendKey.
func Key(field uint32, v Value) []byte {
	return AppendKey(nil, field, v)
}

// FieldPrefix returns the prefix shared by every key of field with kind k.
func FieldPrefix(field uint32, k Kind) []byte {
	return append(AppendUvarint(nil, uint64(field)), byte(k))
}

// DecodeKey splits a composite key into its field and payload.
func DecodeKey(key []byte) (uint32, Value, error) {
	f, n := Uvarint(key)
	if n == 0 || f > math.MaxUint32 || len(key) == n {
		return 0, Value{}, ErrBadKey
	}
	kind := Kind(key[n])
	rest := key[n+1:]
	switch kind {
	case KindUint, KindInt:
		u, m := Uvarint(rest)
		if m == 0 || m != len(rest) {
			return 0, Value{}, ErrBadKey
		}
		return uint32(f), Value{kind: kind, u: u}, nil
	case KindString:
		return uint32(f), String(string(rest)), nil
	default:
		return 0, Value{}, fmt.Errorf("%w: unknown kind %d", ErrBadKey, kind)
	}
}
