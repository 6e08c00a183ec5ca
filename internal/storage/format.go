package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/conv"
	"github.com/hupe1980/contents/internal/hash"
)

const (
	// Magic opens every container.
	Magic = "CNTX"
	// Version is the container format version.
	Version = 1
	// HeaderSize is the fixed size of the container header.
	HeaderSize = 64

	regionCount = 3
	regionBase  = 8
	regionSize  = 16
	headerCRC   = regionBase + regionCount*regionSize
)

// Region indices in the header.
const (
	RegionEntities = iota
	RegionContents
	RegionChains
)

// RegionHeader locates one stored region.
type RegionHeader struct {
	Offset uint64
	Length uint32
	CRC    uint32
}

// Header describes a container.
type Header struct {
	Version     uint16
	Compression codec.Compression
	Regions     [regionCount]RegionHeader
}

// Encode returns the 64-byte header including its own checksum.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf, Magic)
	binary.LittleEndian.PutUint16(buf[4:], h.Version)
	buf[6] = byte(h.Compression)
	for i, r := range h.Regions {
		off := regionBase + i*regionSize
		binary.LittleEndian.PutUint64(buf[off:], r.Offset)
		binary.LittleEndian.PutUint32(buf[off+8:], r.Length)
		binary.LittleEndian.PutUint32(buf[off+12:], r.CRC)
	}
	binary.LittleEndian.PutUint32(buf[headerCRC:], hash.CRC32C(buf[:headerCRC]))
	return buf
}

// DecodeHeader parses and validates a header.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(buf))
	}
	if string(buf[:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, buf[:4])
	}
	if sum := binary.LittleEndian.Uint32(buf[headerCRC:]); sum != hash.CRC32C(buf[:headerCRC]) {
		return nil, fmt.Errorf("%w: header checksum mismatch", ErrCorrupt)
	}

	h := &Header{
		Version:     binary.LittleEndian.Uint16(buf[4:]),
		Compression: codec.Compression(buf[6]),
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	}
	switch h.Compression {
	case codec.CompressionNone, codec.CompressionLZ4, codec.CompressionZstd:
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, buf[6])
	}
	for i := range h.Regions {
		off := regionBase + i*regionSize
		h.Regions[i] = RegionHeader{
			Offset: binary.LittleEndian.Uint64(buf[off:]),
			Length: binary.LittleEndian.Uint32(buf[off+8:]),
			CRC:    binary.LittleEndian.Uint32(buf[off+12:]),
		}
	}
	return h, nil
}

// Encode builds a container from the three raw regions.
func Encode(c codec.Compression, regions [regionCount][]byte) ([]byte, error) {
	h := Header{Version: Version, Compression: c}

	stored := regions
	if c != codec.CompressionNone {
		for i, r := range regions {
			block, err := codec.Compress(c, r)
			if err != nil {
				return nil, err
			}
			stored[i] = block
		}
	}

	size := HeaderSize
	for i, r := range stored {
		n, err := conv.IntToUint32(len(r))
		if err != nil {
			return nil, fmt.Errorf("storage: region %d: %w", i, err)
		}
		h.Regions[i] = RegionHeader{Offset: uint64(size), Length: n, CRC: hash.CRC32C(r)}
		size += len(r)
	}

	out := make([]byte, 0, size)
	out = append(out, h.Encode()...)
	for _, r := range stored {
		out = append(out, r...)
	}
	return out, nil
}

// Decode validates a container and returns its raw regions. Uncompressed
// regions alias data.
func Decode(data []byte) ([regionCount][]byte, error) {
	var regions [regionCount][]byte

	h, err := DecodeHeader(data)
	if err != nil {
		return regions, err
	}

	end := HeaderSize
	for i, r := range h.Regions {
		start, stop, err := conv.Bound(r.Offset, uint64(r.Length), len(data))
		if err != nil {
			return regions, fmt.Errorf("%w: region %d: %w", ErrCorrupt, i, err)
		}
		if start < end {
			return regions, fmt.Errorf("%w: region %d overlaps", ErrCorrupt, i)
		}
		end = stop

		stored := data[start:stop:stop]
		if hash.CRC32C(stored) != r.CRC {
			return regions, fmt.Errorf("%w: region %d checksum mismatch", ErrCorrupt, i)
		}
		if h.Compression == codec.CompressionNone {
			regions[i] = stored
			continue
		}
		raw, err := codec.Decompress(h.Compression, stored)
		if err != nil {
			return regions, fmt.Errorf("%w: region %d: %w", ErrCorrupt, i, err)
		}
		regions[i] = raw
	}
	return regions, nil
}

// patch blobs are framed as [crc32c u32][payload].
func encodePatch(payload []byte) []byte {
	out := make([]byte, 4, 4+len(payload))
	binary.LittleEndian.PutUint32(out, hash.CRC32C(payload))
	return append(out, payload...)
}

func decodePatch(blob []byte) ([]byte, error) {
	if len(blob) < 4 {
		return nil, fmt.Errorf("%w: patch blob of %d bytes", ErrCorrupt, len(blob))
	}
	payload := blob[4:]
	if binary.LittleEndian.Uint32(blob) != hash.CRC32C(payload) {
		return nil, fmt.Errorf("%w: patch checksum mismatch", ErrCorrupt)
	}
	return payload, nil
}
