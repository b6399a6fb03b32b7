package zipcore

import (
	"encoding/binary"
	"hash/crc32"
)

// crc32Update extends the running CRC-32 (IEEE) sum with p, matching
// the incremental checksum readers and writers verify entry data
// against (spec §8).
func crc32Update(sum uint32, p []byte) uint32 {
	return crc32.Update(sum, crc32.IEEETable, p)
}

// uint16le, uint32le and uint64le are the fixed-width little-endian
// integer types used for every wire-format field in the ZIP format.
//
// uint32le and uint64le exist as distinct types (rather than bare Go
// uint32/uint64) only to keep the From/Put pair symmetric across all
// three widths; their underlying range is exactly what the wire format
// needs; no arbitrary-precision type is required because a ZIP 8-byte
// field's full unsigned range (0..2^64-1) already fits a Go uint64.
type uint16le = uint16
type uint32le = uint32
type uint64le = uint64

func getUint16(b []byte) uint16le { return binary.LittleEndian.Uint16(b) }
func getUint32(b []byte) uint32le { return binary.LittleEndian.Uint32(b) }
func getUint64(b []byte) uint64le { return binary.LittleEndian.Uint64(b) }

func putUint16(b []byte, v uint16le) { binary.LittleEndian.PutUint16(b, v) }
func putUint32(b []byte, v uint32le) { binary.LittleEndian.PutUint32(b, v) }
func putUint64(b []byte, v uint64le) { binary.LittleEndian.PutUint64(b, v) }

// readBuf is a cursor over a byte slice used to decode a sequence of
// little-endian fields without re-slicing at each call site.
type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16le {
	v := getUint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32le {
	v := getUint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64le {
	v := getUint64(*b)
	*b = (*b)[8:]
	return v
}

// sub consumes and returns the next n bytes as their own readBuf.
func (b *readBuf) sub(n int) readBuf {
	v := (*b)[:n]
	*b = (*b)[n:]
	return v
}

// writeBuf is the symmetric encoding cursor.
type writeBuf []byte

func (b *writeBuf) uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *writeBuf) uint16(v uint16le) {
	putUint16(*b, v)
	*b = (*b)[2:]
}

func (b *writeBuf) uint32(v uint32le) {
	putUint32(*b, v)
	*b = (*b)[4:]
}

func (b *writeBuf) uint64(v uint64le) {
	putUint64(*b, v)
	*b = (*b)[8:]
}

// fitsUint32 reports whether v can be stored in the 4-byte header slot
// without falling back to the 0xFFFFFFFF ZIP64 sentinel.
func fitsUint32(v uint64) bool {
	return v < uint32max
}

// fitsUint16Count reports whether an entry count fits the 2-byte EOCD
// slot without falling back to the 0xFFFF ZIP64 sentinel.
func fitsUint16Count(n int) bool {
	return n < uint16max
}
