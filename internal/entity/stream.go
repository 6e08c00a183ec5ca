package entity

import (
	"bufio"
	"io"

	"github.com/hupe1980/contents/internal/codec"
)

// WriteStream serializes entities as
//
//	[maxIndex][count]{[index][version][id][extras]}
//
// with id and extras length-prefixed. Entities should be sorted by id.
func WriteStream(w io.Writer, maxIndex uint32, entities []Entity) (int64, error) {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 256)

	buf = codec.AppendUvarint(buf, uint64(maxIndex))
	buf = codec.AppendUvarint(buf, uint64(len(entities)))
	var n int64
	for _, e := range entities {
		buf = codec.AppendUvarint(buf, uint64(e.Index()))
		buf = codec.AppendUvarint(buf, uint64(e.Version()))
		buf = codec.AppendBytes(buf, e.ID())
		buf = codec.AppendBytes(buf, e.Extras())
		if len(buf) >= 4096 {
			m, err := bw.Write(buf)
			n += int64(m)
			if err != nil {
				return n, err
			}
			buf = buf[:0]
		}
	}
	m, err := bw.Write(buf)
	n += int64(m)
	if err != nil {
		return n, err
	}
	return n, bw.Flush()
}
