package patch

import (
	"bytes"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_UpdateSearch(t *testing.T) {
	tbl := New()
	assert.Nil(t, tbl.Search(ByID([]byte("a"))))

	_, err := tbl.Update(ByID([]byte("a")), []byte("v1"))
	require.NoError(t, err)
	_, err = tbl.Update(ByID([]byte("a")), []byte("v2"))
	require.NoError(t, err)

	r := tbl.Search(ByID([]byte("a")))
	require.NotNil(t, r)
	assert.Equal(t, Update, r.Kind())
	assert.Equal(t, []byte("v2"), r.Extras())
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_DeleteWins(t *testing.T) {
	tbl := New()
	k := ByID([]byte("bbb"))

	_, err := tbl.Update(k, []byte("meta"))
	require.NoError(t, err)
	assert.True(t, tbl.Delete(k))
	assert.False(t, tbl.Delete(k))

	_, err = tbl.Update(k, []byte("again"))
	assert.ErrorIs(t, err, ErrDeleted)
	assert.True(t, tbl.IsDeleted(k))
	assert.Equal(t, 1, tbl.Deletes())
}

func TestTable_KeySpacesAreDisjoint(t *testing.T) {
	tbl := New()
	tbl.Delete(ByIndex(7))

	assert.True(t, tbl.IsDeleted(ByIndex(7)))
	assert.False(t, tbl.IsDeleted(ByID([]byte{7})))
	assert.False(t, tbl.IsDeleted(ByID([]byte("7"))))
	assert.True(t, ByIndex(7).IsIndex())
	assert.Equal(t, uint32(7), ByIndex(7).Index())
}

func TestTable_ConcurrentDeleteAndUpdate(t *testing.T) {
	tbl := New()
	k := ByID([]byte("x"))
	var deleted atomic.Int32

	var wg sync.WaitGroup
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			if w%4 == 0 {
				if tbl.Delete(k) {
					deleted.Add(1)
				}
				return
			}
			_, _ = tbl.Update(k, []byte{byte(w)})
			_ = tbl.Search(k)
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(1), deleted.Load())
	assert.True(t, tbl.IsDeleted(k))
}

func TestTable_WriteToReadFrom(t *testing.T) {
	tbl := New()
	_, err := tbl.Update(ByID([]byte("a")), []byte("meta"))
	require.NoError(t, err)
	tbl.Delete(ByID([]byte("b")))
	tbl.Delete(ByIndex(42))
	_, err = tbl.Update(ByIndex(3), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = tbl.WriteTo(&buf)
	require.NoError(t, err)

	loaded := New()
	_, err = loaded.ReadFrom(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Len())
	assert.Equal(t, []byte("meta"), loaded.Search(ByID([]byte("a"))).Extras())
	assert.True(t, loaded.IsDeleted(ByID([]byte("b"))))
	assert.True(t, loaded.IsDeleted(ByIndex(42)))
	assert.Equal(t, Update, loaded.Search(ByIndex(3)).Kind())

	var again bytes.Buffer
	_, err = loaded.WriteTo(&again)
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), again.Bytes())
}

func TestTable_ReadFromCorrupt(t *testing.T) {
	_, err := New().ReadFrom(bytes.NewReader([]byte{1, 9}))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = New().ReadFrom(bytes.NewReader([]byte{2, 0, 1, 'a', 2}))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = New().ReadFrom(bytes.NewReader(nil))
	assert.NoError(t, err)
}
