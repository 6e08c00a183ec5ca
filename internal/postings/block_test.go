package postings

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountDetail(t *testing.T) {
	for _, n := range []uint32{1, 2, 128, 16384, math.MaxUint32} {
		got, err := DecodeCount(EncodeCount(n))
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
	assert.Equal(t, []byte{0}, EncodeCount(1))

	_, err := DecodeCount([]byte{0, 0})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEntriesDetail(t *testing.T) {
	positions := []uint32{0, 1, 127, 128, 16383, 100000}
	detail, err := EncodeEntries(positions)
	require.NoError(t, err)

	got, err := DecodeEntries(detail)
	require.NoError(t, err)
	assert.Equal(t, positions, got)
	require.NoError(t, ValidateDetail(EntryOrder, detail))

	_, err = EncodeEntries([]uint32{5, 5})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFormsDetail(t *testing.T) {
	forms := []Form{{Pos: 3, ID: 1}, {Pos: 3, ID: 4}, {Pos: 200, ID: 0}}
	detail, err := EncodeForms(forms)
	require.NoError(t, err)

	got, err := DecodeForms(detail)
	require.NoError(t, err)
	assert.Equal(t, forms, got)

	_, err = EncodeForms([]Form{{Pos: 4}, {Pos: 2}})
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDumpDetail(t *testing.T) {
	got, err := DecodeDump(EncodeDump([]byte("opaque")))
	require.NoError(t, err)
	assert.Equal(t, []byte("opaque"), got)
}

func TestValidateDetail(t *testing.T) {
	assert.NoError(t, ValidateDetail(None, nil))
	assert.ErrorIs(t, ValidateDetail(None, []byte{1}), ErrMalformed)
	assert.ErrorIs(t, ValidateDetail(Count, nil), ErrMalformed)
	assert.ErrorIs(t, ValidateDetail(EntryOrder, []byte{5, 1}), ErrMalformed)
	assert.ErrorIs(t, ValidateDetail(BlockType(9), nil), ErrMalformed)
}
