package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	for _, v := range []Value{Uint(0), Uint(1 << 40), Int(-5), Int(0), Int(99), String(""), String("lexeme")} {
		k := Key(7, v)
		f, got, err := DecodeKey(k)
		require.NoError(t, err)
		assert.Equal(t, uint32(7), f)
		assert.Equal(t, v, got)
	}
}

func TestKeyOrder(t *testing.T) {
	assert.Negative(t, bytes.Compare(Key(1, Int(-10)), Key(1, Int(-1))))
	assert.Negative(t, bytes.Compare(Key(1, Int(-1)), Key(1, Int(3))))
	assert.Negative(t, bytes.Compare(Key(1, Uint(127)), Key(1, Uint(128))))
	assert.Negative(t, bytes.Compare(Key(1, String("ab")), Key(1, String("abc"))))
	assert.Negative(t, bytes.Compare(Key(1, String("zzz")), Key(2, String("a"))))
	assert.True(t, bytes.HasPrefix(Key(3, String("x")), FieldPrefix(3, KindString)))
}

func TestDecodeKeyMalformed(t *testing.T) {
	_, _, err := DecodeKey(nil)
	assert.ErrorIs(t, err, ErrBadKey)

	_, _, err = DecodeKey([]byte{1, 9})
	assert.ErrorIs(t, err, ErrBadKey)

	bad := append(Key(1, Uint(5)), 0)
	_, _, err = DecodeKey(bad)
	assert.ErrorIs(t, err, ErrBadKey)
}
