package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec for storage regions.
type Compression uint8

const (
	// CompressionNone stores regions as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd at the default level.
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return CompressionNone, fmt.Errorf("codec: unknown compression %q", s)
}

// ErrCompressed is returned when a compressed block cannot be decoded.
var ErrCompressed = errors.New("codec: bad compressed block")

var (
	zstdEncoders sync.Pool
	zstdDecoders sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoders.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoders.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// blockHeaderSize covers [raw size u64][packed size u64]; packed size 0
// means the payload is stored raw.
const blockHeaderSize = 16

// Compress encodes data as a single block. Blocks that do not shrink by at
// least 10% are stored raw.
func Compress(c Compression, data []byte) ([]byte, error) {
	var packed []byte
	switch c {
	case CompressionNone:
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n]
	case CompressionZstd:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoders.Put(enc)
	default:
		return nil, fmt.Errorf("codec: unknown compression %d", c)
	}

	out := make([]byte, blockHeaderSize, blockHeaderSize+len(data))
	binary.LittleEndian.PutUint64(out[0:], uint64(len(data)))
	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*0.9 {
		return append(out, data...), nil
	}
	binary.LittleEndian.PutUint64(out[8:], uint64(len(packed)))
	return append(out, packed...), nil
}

// Decompress reverses Compress. Raw blocks are returned without copying.
func Decompress(c Compression, block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCompressed, len(block))
	}
	raw := binary.LittleEndian.Uint64(block[0:])
	packed := binary.LittleEndian.Uint64(block[8:])
	body := block[blockHeaderSize:]
	if packed == 0 {
		if uint64(len(body)) != raw {
			return nil, fmt.Errorf("%w: raw size %d, have %d", ErrCompressed, raw, len(body))
		}
		return body, nil
	}
	if uint64(len(body)) != packed {
		return nil, fmt.Errorf("%w: packed size %d, have %d", ErrCompressed, packed, len(body))
	}

	out := make([]byte, raw)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCompressed, err)
		}
		if uint64(n) != raw {
			return nil, fmt.Errorf("%w: size mismatch", ErrCompressed)
		}
		return out, nil
	case CompressionZstd:
		dec := getZstdDecoder()
		decoded, err := dec.DecodeAll(body, out[:0])
		zstdDecoders.Put(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCompressed, err)
		}
		if uint64(len(decoded)) != raw {
			return nil, fmt.Errorf("%w: size mismatch", ErrCompressed)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed with unknown codec %d", ErrCompressed, c)
	}
}
