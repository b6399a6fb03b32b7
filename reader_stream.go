package zipcore

import (
	"bufio"
	"fmt"
	"io"
)

// StreamReader is the forward-only reader (spec §4.4): it interleaves
// local-header parsing with compressed-data streaming and, for entries
// whose sizes were unknown at write time, data-descriptor recovery
// once the decoder's own end-of-stream fires.
//
// Unlike Reader, StreamReader never seeks; it is built to sit directly
// on a network socket or pipe.
type StreamReader struct {
	br       *bufio.Reader
	codecs   *CodecTable
	registry *ExtraFieldRegistry
	policy   ParsePolicy

	cur    *streamEntryReader
	done   bool
	atEOCD bool
}

// NewStreamReader wraps r. r is read only forward; StreamReader never
// closes it (spec §4.4 "Nested ZIPs").
func NewStreamReader(r io.Reader, opts ...ReaderOption) *StreamReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 32*1024)
	}
	dummy := &Reader{
		codecs:   DefaultCodecs,
		registry: DefaultRegistry,
		policy:   PolicyBestEffort,
	}
	for _, opt := range opts {
		opt(dummy)
	}
	return &StreamReader{
		br:       br,
		codecs:   dummy.codecs,
		registry: dummy.registry,
		policy:   dummy.policy,
	}
}

// streamEntryReader backs StreamReader.Read for the entry most recently
// returned by NextEntry; it decompresses and CRC-checks the current entry and, once the
// decoder's own EOF fires, resolves the trailing data descriptor (if
// any) so the caller's Entry is fully populated afterward.
type streamEntryReader struct {
	sr       *StreamReader
	e        *Entry
	dec      Decoder
	lr       *io.LimitedReader // nil when the entry uses a data descriptor
	lfhZip64 bool              // LFH carried a Zip64 extra: descriptor sizes are 8-byte
	seen     uint32
	read     uint64
	finished bool
	corrupt  bool
}

// NextEntry advances to the next local file header and returns its
// Entry, or (nil, io.EOF) once the central directory is reached (spec
// §4.4 "next_entry"). Any unread bytes of the current entry are
// discarded first. The data of an entry whose method has no decoder is
// skipped by its declared compressed size; when such an entry also
// uses a data descriptor, its data is not skipped and the next call
// reads it as a record header.
func (z *StreamReader) NextEntry() (*Entry, error) {
	if z.done {
		return nil, io.EOF
	}
	if z.cur != nil && !z.cur.finished {
		if _, err := io.Copy(io.Discard, z.cur); err != nil {
			z.done = true
			return nil, err
		}
	}
	z.cur = nil

	sigBytes, err := z.br.Peek(4)
	if err != nil {
		z.done = true
		return nil, err
	}
	sig := getUint32(sigBytes)
	switch sig {
	case fileHeaderSignature:
	case directoryHeaderSignature, directoryEndSignature:
		z.done = true
		z.atEOCD = true
		return nil, io.EOF
	default:
		z.done = true
		return nil, fmt.Errorf("%w: unexpected record signature %#08x at catalog position", ErrBadSignature, sig)
	}

	e, dataReader, err := z.readLocalEntry()
	if err != nil {
		z.done = true
		return nil, err
	}
	z.cur = dataReader
	return e, nil
}

// readLocalEntry parses one LFH plus its name/extra, and prepares the
// decoding pipeline for its data.
func (z *StreamReader) readLocalEntry() (*Entry, *streamEntryReader, error) {
	var fixed [fileHeaderLen]byte
	if _, err := io.ReadFull(z.br, fixed[:]); err != nil {
		return nil, nil, fmt.Errorf("%w: truncated local file header: %v", ErrTruncatedArchive, err)
	}
	b := readBuf(fixed[4:])
	readerVersion := b.uint16()
	gpb := GPBFlag(b.uint16())
	method := b.uint16()
	modTime := b.uint16()
	modDate := b.uint16()
	crc := b.uint32()
	compSize32 := b.uint32()
	uncompSize32 := b.uint32()
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())

	nameAndExtra := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(z.br, nameAndExtra); err != nil {
		return nil, nil, fmt.Errorf("%w: truncated local file header name/extra: %v", ErrTruncatedArchive, err)
	}
	name := normalizeEntryName(string(nameAndExtra[:nameLen]))
	extraBytes := nameAndExtra[nameLen:]

	extras, err := z.registry.Parse(extraBytes, ContextLocal, z.policy)
	if err != nil {
		return nil, nil, err
	}

	hasDD := gpb.HasDataDescriptor()

	compSize := uint64(compSize32)
	uncompSize := uint64(uncompSize32)
	lfhZip64 := false
	if z64, ok := extras.Get(idZip64); ok {
		lfhZip64 = true
		vals, _, _ := z64.(*Zip64ExtraField).orderedValues()
		idx := 0
		if uncompSize32 == uint32max && idx < len(vals) {
			uncompSize = vals[idx]
			idx++
		}
		if compSize32 == uint32max && idx < len(vals) {
			compSize = vals[idx]
			idx++
		}
	}

	e := &Entry{
		Name:             name,
		NameSource:       NameSourcePlain,
		NonUTF8:          !gpb.IsUTF8(),
		ReaderVersion:    readerVersion,
		GPB:              gpb,
		Method:           method,
		CRC32:            crc,
		CompressedSize:   compSize,
		UncompressedSize: uncompSize,
		Extra:            extras,
		DataOffset:       UnknownOffset,
	}
	if gpb.IsUTF8() {
		e.NameSource = NameSourceEFS
	}
	reconcileTimestamps(e, modDate, modTime)

	if !z.codecs.CanReadMethod(method) {
		if !hasDD {
			if _, err := z.br.Discard(int(e.CompressedSize)); err != nil {
				return nil, nil, fmt.Errorf("%w: truncated data of entry %q: %v", ErrTruncatedArchive, name, err)
			}
		}
		ser := &streamEntryReader{sr: z, e: e, finished: true}
		return e, ser, nil
	}

	ser := &streamEntryReader{sr: z, e: e, lfhZip64: lfhZip64}

	if !hasDD {
		if e.UncompressedSize == UnknownSize {
			return nil, nil, fmt.Errorf("%w: entry %q has no data descriptor and no declared size", ErrBadSignature, name)
		}
		lr := &io.LimitedReader{R: z.br, N: int64(e.CompressedSize)}
		ser.lr = lr
		dec, err := z.codecs.NewDecoder(method, lr, gpb)
		if err != nil {
			return nil, nil, err
		}
		ser.dec = dec
		return e, ser, nil
	}

	// Data descriptor present. For STORED, the compressed size equals
	// the uncompressed size, but both are unknown until the descriptor
	// is read — there is no decoder end-of-stream signal to terminate
	// on, so the entry can't be streamed (spec §4.4
	// "can_read_entry_data": "false ... when uncompressed_size ==
	// UNKNOWN and the method cannot be auto-terminated").
	if method == Store {
		return nil, nil, fmt.Errorf("%w: STORED entry %q has a data descriptor but no auto-terminating decoder", ErrUnsupportedMethod, name)
	}

	// For every other supported method, the decoder's own end-of-stream
	// determines where compressed data ends (spec §4.4
	// "Data-descriptor resolution").
	dec, err := z.codecs.NewDecoder(method, z.br, gpb)
	if err != nil {
		return nil, nil, err
	}
	ser.dec = dec
	return e, ser, nil
}

// CanReadEntryData reports whether e's data can be streamed, per spec
// §4.4 "can_read_entry_data": false for unsupported methods, false for
// any entry with an unresolved size and no data descriptor, and false for
// STORED with a data descriptor (STORED has no decoder end-of-stream
// of its own to auto-terminate on).
func (z *StreamReader) CanReadEntryData(e *Entry) bool {
	if !z.codecs.CanReadMethod(e.Method) {
		return false
	}
	if e.UncompressedSize == UnknownSize && !e.GPB.HasDataDescriptor() {
		return false
	}
	// STORED has no decoder end-of-stream signal of its own, so a data
	// descriptor (sizes unknown until read) can't be auto-terminated.
	if e.Method == Store && e.GPB.HasDataDescriptor() {
		return false
	}
	return true
}

// Read reads from the entry most recently returned by NextEntry. It
// returns io.EOF consistently on every call once the entry's data (and
// trailing data descriptor, if any) has been fully consumed (spec §4.4
// "End-of-stream contracts").
func (z *StreamReader) Read(p []byte) (int, error) {
	if z.cur == nil {
		return 0, io.EOF
	}
	return z.cur.Read(p)
}

func (s *streamEntryReader) Read(p []byte) (int, error) {
	if s.corrupt {
		return 0, fmt.Errorf("%w: truncated ZIP entry", ErrTruncatedArchive)
	}
	if s.finished {
		return 0, io.EOF
	}

	n, err := s.dec.Read(p)
	if n > 0 {
		s.seen = crc32Update(s.seen, p[:n])
		s.read += uint64(n)
	}
	if err == nil {
		return n, nil
	}
	if err != io.EOF {
		s.finished = true
		return n, err
	}

	s.finished = true
	_ = s.dec.Close()

	if s.e.GPB.HasDataDescriptor() {
		if derr := s.readDataDescriptor(); derr != nil {
			s.corrupt = true
			if n > 0 {
				return n, nil
			}
			return 0, derr
		}
	} else if s.lr != nil && s.lr.N != 0 {
		// The declared compressed size wasn't fully consumed: either a
		// truncated archive or a decoder that stopped early.
		s.corrupt = true
		if n > 0 {
			return n, nil
		}
		return 0, fmt.Errorf("%w: truncated ZIP entry", ErrTruncatedArchive)
	}

	if s.e.CRC32 != 0 || s.read != 0 {
		if s.seen != s.e.CRC32 {
			s.corrupt = true
			if n > 0 {
				return n, nil
			}
			return 0, fmt.Errorf("%w: expected %#08x, got %#08x", ErrBadChecksum, s.e.CRC32, s.seen)
		}
	}
	if n > 0 {
		return n, nil
	}
	return 0, io.EOF
}

// readDataDescriptor consumes the optional signature, CRC, and 4- or
// 8-byte size pair that follows compressed data when GPB bit 3 is set
// (spec §4.4 "Data-descriptor resolution"), and populates the Entry.
func (s *streamEntryReader) readDataDescriptor() error {
	var sigOrCRC [4]byte
	if _, err := io.ReadFull(s.sr.br, sigOrCRC[:]); err != nil {
		return fmt.Errorf("%w: truncated data descriptor: %v", ErrTruncatedArchive, err)
	}

	crc := getUint32(sigOrCRC[:])
	if crc == dataDescriptorSignature {
		if _, err := io.ReadFull(s.sr.br, sigOrCRC[:]); err != nil {
			return fmt.Errorf("%w: truncated data descriptor: %v", ErrTruncatedArchive, err)
		}
		crc = getUint32(sigOrCRC[:])
	}

	// The descriptor's size width is 8-byte whenever the LFH carried a
	// Zip64 extra (Zip64Always/Zip64AlwaysCompatibility write one in
	// every LFH regardless of final size) or the entry turned out to
	// exceed the 32-bit size range (Zip64AsNeeded on a streaming sink
	// discovers this only after the fact). Neither signal alone
	// suffices: LFH-only misses the AS_NEEDED large-entry case, and
	// bytes-read-only misses small entries written under ALWAYS.
	isZip64 := s.lfhZip64 || s.read > uint32max
	sizeLen := 4
	if isZip64 {
		sizeLen = 8
	}
	rest := make([]byte, sizeLen*2)
	if _, err := io.ReadFull(s.sr.br, rest); err != nil {
		return fmt.Errorf("%w: truncated data descriptor: %v", ErrTruncatedArchive, err)
	}
	rb := readBuf(rest)
	var compSize, uncompSize uint64
	if isZip64 {
		compSize = rb.uint64()
		uncompSize = rb.uint64()
	} else {
		compSize = uint64(rb.uint32())
		uncompSize = uint64(rb.uint32())
	}

	s.e.CRC32 = crc
	s.e.CompressedSize = compSize
	s.e.UncompressedSize = uncompSize
	return nil
}
