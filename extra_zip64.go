package zipcore

import "fmt"

// Zip64ExtraField carries the 8-byte true values that replace the
// 0xFFFFFFFF sentinels left in the fixed-width header fields (spec §3,
// §4.1). Per APPNOTE, only the fields whose fixed-width slot was
// maxed out are present, in this fixed order:
// uncompressed size, compressed size, local header offset, disk
// number start.
type Zip64ExtraField struct {
	UncompressedSize *uint64
	CompressedSize   *uint64
	LocalHeaderOffset *uint64
	DiskStart         *uint32
}

func (z *Zip64ExtraField) HeaderID() uint16 { return idZip64 }

func (z *Zip64ExtraField) serialize() []byte {
	var out []byte
	put64 := func(v uint64) {
		b := make([]byte, 8)
		putUint64(b, v)
		out = append(out, b...)
	}
	if z.UncompressedSize != nil {
		put64(*z.UncompressedSize)
	}
	if z.CompressedSize != nil {
		put64(*z.CompressedSize)
	}
	if z.LocalHeaderOffset != nil {
		put64(*z.LocalHeaderOffset)
	}
	if z.DiskStart != nil {
		b := make([]byte, 4)
		putUint32(b, *z.DiskStart)
		out = append(out, b...)
	}
	return out
}

func (z *Zip64ExtraField) SerializeLocal() []byte { return z.serialize() }
func (z *Zip64ExtraField) SerializeCD() []byte     { return z.serialize() }

// orderedValues reconstructs the positional (uncompressed, compressed,
// offset) sequence parseZip64Extra assigned greedily, for callers
// (reader.go resolveZip64) that consume values in the order their own
// fixed-width header fields were sentineled, rather than by field
// name.
func (z *Zip64ExtraField) orderedValues() (vals []uint64, diskStart uint32, hadDisk bool) {
	if z.UncompressedSize != nil {
		vals = append(vals, *z.UncompressedSize)
	}
	if z.CompressedSize != nil {
		vals = append(vals, *z.CompressedSize)
	}
	if z.LocalHeaderOffset != nil {
		vals = append(vals, *z.LocalHeaderOffset)
	}
	if z.DiskStart != nil {
		return vals, *z.DiskStart, true
	}
	return vals, 0, false
}

// parseZip64Extra parses a ZIP64 extra field payload. Per APPNOTE,
// which subset of the four values is present depends entirely on
// which fixed-width header fields were maxed out; the registry-level
// Parse call has no header context to know that, so parseZip64Extra
// greedily consumes 8-byte values for size fields then a 4-byte value
// for disk start, in declared order, for as many as fit the payload.
// Callers resolving an entry's true sizes (reader.go) interpret the
// first two present 8-byte values as uncompressed/compressed size
// only when the corresponding fixed-width field was the sentinel;
// otherwise they skip that slot -- see resolveZip64 in reader.go.
func parseZip64Extra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	z := &Zip64ExtraField{}
	b := readBuf(payload)
	var vals []uint64
	for len(b) >= 8 {
		vals = append(vals, b.uint64())
	}
	var disk *uint32
	if len(b) >= 4 {
		d := b.uint32()
		disk = &d
	}
	switch len(vals) {
	case 0:
	case 1:
		z.UncompressedSize = &vals[0]
	case 2:
		z.UncompressedSize = &vals[0]
		z.CompressedSize = &vals[1]
	case 3:
		z.UncompressedSize = &vals[0]
		z.CompressedSize = &vals[1]
		z.LocalHeaderOffset = &vals[2]
	default:
		return nil, fmt.Errorf("%w: zip64 extra field has too many 8-byte values", ErrInvalidExtraField)
	}
	z.DiskStart = disk
	return z, nil
}
