package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32CStreaming(t *testing.T) {
	data := []byte("entities|contents|chains")

	h := NewCRC32C()
	_, _ = h.Write(data[:9])
	_, _ = h.Write(data[9:])

	assert.Equal(t, CRC32C(data), h.Sum32())
	assert.NotEqual(t, CRC32C(data), CRC32C(data[1:]))
}

func TestBucketRange(t *testing.T) {
	for _, id := range []string{"", "aaa", "bbb", "a much longer entity identifier"} {
		b := Bucket([]byte(id), 64)
		assert.GreaterOrEqual(t, b, 0)
		assert.Less(t, b, 64)
		assert.Equal(t, b, Bucket([]byte(id), 64))
	}
	assert.Equal(t, Bytes([]byte("k")), Bytes([]byte("k")))
}
