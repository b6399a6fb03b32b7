// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// SegmentSink is implemented by sinks that rotate across multiple
// output segments once a size threshold is reached (spec §4.5 "Split
// output"); Writer discovers this capability with a type assertion, so
// a plain io.Writer (or io.WriteSeeker) works unmodified when split
// output isn't wanted.
type SegmentSink interface {
	io.Writer
	// ReserveUnsplittable guarantees the next n bytes land in a single
	// segment, rotating to a fresh one first if they would not
	// otherwise fit. It fails with ErrInvalidArgument if n exceeds the
	// sink's configured segment size.
	ReserveUnsplittable(n int) error
	// CurrentSegment returns the 0-based index of the segment the next
	// byte written will land in.
	CurrentSegment() int
}

// countWriter tracks the absolute byte offset Writer has emitted so
// far, the same role the teacher's writer.go countWriter plays.
type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

// Writer emits a ZIP archive to either a seekable or forward-only
// sink (spec §4.5). The zero value is not usable; construct one with
// NewWriter.
type Writer struct {
	cw      *countWriter
	seeker  io.Seeker
	segSink SegmentSink

	policy Zip64Policy
	codecs *CodecTable

	cd           []*Entry
	preambleDone bool
	wroteEntry   bool
	cur          *writerEntry
	finished     bool
	closed       bool
	comment      string
}

// WriterOption configures NewWriter.
type WriterOption func(*Writer)

// WithWriterCodecs overrides the compression-method table used to
// encode entry data. Defaults to DefaultCodecs.
func WithWriterCodecs(t *CodecTable) WriterOption {
	return func(w *Writer) { w.codecs = t }
}

// WithZip64Policy sets the ZIP64 promotion policy (spec §4.5).
// Defaults to Zip64AsNeeded.
func WithZip64Policy(p Zip64Policy) WriterOption {
	return func(w *Writer) { w.policy = p }
}

// WithArchiveComment sets the EOCD comment emitted by Finish.
func WithArchiveComment(comment string) WriterOption {
	return func(w *Writer) { w.comment = comment }
}

// NewWriter wraps sink. If sink implements io.Seeker, closed entries
// are finalized by seeking back and patching the local header instead
// of emitting a data descriptor (spec §4.5 "Seekable vs streaming
// output"). If sink implements SegmentSink, LFH/CDH records are
// written as unsplittable units and the writer tracks disk_number_start
// per entry (spec §4.5 "Split output").
func NewWriter(sink io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		cw:     &countWriter{w: sink},
		codecs: DefaultCodecs,
		policy: Zip64AsNeeded,
	}
	if seeker, ok := sink.(io.Seeker); ok {
		w.seeker = seeker
	}
	if seg, ok := sink.(SegmentSink); ok {
		w.segSink = seg
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WritePreamble writes p before the first local file header. Valid
// only before the first PutEntry call (spec §4.5 "Preamble").
func (w *Writer) WritePreamble(p []byte) error {
	if w.wroteEntry {
		return fmt.Errorf("%w: write_preamble called after the first entry", ErrInvalidArgument)
	}
	w.preambleDone = true
	_, err := w.cw.Write(p)
	return err
}

// writerEntry tracks the state of the entry currently open for
// writing, between PutEntry and CloseEntry.
type writerEntry struct {
	e   *Entry
	enc Encoder
	crc uint32

	lfhOffset  int64
	diskStart  uint32
	seekable   bool
	useDD      bool
	zip64InLFH bool // a zip64 extra (placeholder or final) was written in the LFH

	// crcFieldOffset/compSizeFieldOffset/uncompSizeFieldOffset are
	// absolute byte offsets of the fixed-width LFH fields, used by
	// the seekable-sink patch-back path.
	crcFieldOffset       int64
	compSizeFieldOffset  int64
	uncompSizeFieldOffset int64
	// zip64ExtraOffset, when zip64InLFH, is the absolute offset of the
	// zip64 extra field's 16-byte payload (uncompressed+compressed).
	zip64ExtraOffset int64
}

// PutEntry finalizes any entry currently open (as CloseEntry would),
// then writes e's local file header and prepares e's data for
// subsequent Write calls (spec §4.5, §6 "put_entry").
func (w *Writer) PutEntry(e *Entry) error {
	if w.finished {
		return fmt.Errorf("%w: put_entry called after finish", ErrInvalidArgument)
	}
	if w.cur != nil {
		if err := w.CloseEntry(); err != nil {
			return err
		}
	}
	if len(e.Name) > uint16max {
		return errLongName
	}
	if len(e.Comment) > uint16max {
		return errLongComment
	}

	prepareWriteEntry(e)

	seekable := w.seeker != nil
	useDD := true
	if e.IsDir() {
		useDD = false
	} else if e.Method == Store {
		if e.UncompressedSize == UnknownSize && !seekable {
			return fmt.Errorf("%w: STORED entry %q to a streaming sink requires a pre-set size and crc32", ErrInvalidArgument, e.Name)
		}
		useDD = false
	} else if seekable {
		useDD = false
	}

	gpb := e.GPB
	if useDD {
		gpb = gpb.Set(GPBDataDescriptor)
	} else {
		gpb = gpb.Clear(GPBDataDescriptor)
	}

	date, timeOfDay, tsExtras := writeTimestamps(e)

	alwaysZip64 := w.policy == Zip64Always || w.policy == Zip64AlwaysCompatibility
	sizeUnknownUpfront := e.UncompressedSize == UnknownSize || e.CompressedSize == UnknownSize
	needPlaceholder := w.policy == Zip64AsNeeded && seekable && !useDD && sizeUnknownUpfront
	writeZip64 := alwaysZip64 || needPlaceholder ||
		(w.policy == Zip64AsNeeded && !sizeUnknownUpfront &&
			(e.UncompressedSize >= uint32max || e.CompressedSize >= uint32max))

	if w.policy == Zip64Never && !sizeUnknownUpfront &&
		(e.UncompressedSize >= uint32max || e.CompressedSize >= uint32max) {
		return &Zip64Error{Kind: Zip64EntrySize, Entry: e.Name}
	}

	extras := make(ExtraFieldList, 0, len(tsExtras)+len(e.Extra)+2)
	var zeroU, zeroC uint64
	var z64 *Zip64ExtraField
	if writeZip64 {
		z64 = &Zip64ExtraField{UncompressedSize: &zeroU, CompressedSize: &zeroC}
		if !sizeUnknownUpfront {
			*z64.UncompressedSize = e.UncompressedSize
			*z64.CompressedSize = e.CompressedSize
		}
		extras = append(extras, z64)
	}
	extras = append(extras, tsExtras...)
	extras = append(extras, e.Extra...)

	if e.AlignmentPadding != 0 {
		if !isPowerOfTwo(e.AlignmentPadding) {
			return fmt.Errorf("%w: alignment %d is not a power of two", ErrInvalidArgument, e.AlignmentPadding)
		}
		base := serializeWith(extras, ExtraField.SerializeLocal)
		pad := alignmentPaddingBytes(w.cw.count, len(e.Name), len(base), e.AlignmentPadding)
		if 4+len(base)+4+len(pad) > uint16max {
			return fmt.Errorf("%w: alignment %d overflows the extra-field length limit", ErrInvalidArgument, e.AlignmentPadding)
		}
		extras = append(extras, &AlignmentExtraField{
			Alignment:         e.AlignmentPadding,
			AllowMethodChange: e.AlignmentAllowMethodChange,
			Padding:           pad,
		})
	}

	extraBytes := serializeWith(extras, ExtraField.SerializeLocal)
	if len(extraBytes) > uint16max {
		return errLongExtra
	}

	diskStart := uint32(0)
	if w.segSink != nil {
		diskStart = uint32(w.segSink.CurrentSegment())
	}

	lfhLen := fileHeaderLen + len(e.Name) + len(extraBytes)
	if w.segSink != nil {
		if err := w.segSink.ReserveUnsplittable(lfhLen); err != nil {
			return err
		}
		diskStart = uint32(w.segSink.CurrentSegment())
	}

	lfhOffset := w.cw.count
	readerVersion := e.ReaderVersion
	if writeZip64 {
		readerVersion = zipVersion45
	}

	var fixed [fileHeaderLen]byte
	b := writeBuf(fixed[:])
	b.uint32(fileHeaderSignature)
	b.uint16(readerVersion)
	b.uint16(uint16(gpb))
	b.uint16(e.Method)
	b.uint16(timeOfDay)
	b.uint16(date)
	crcFieldOffset := lfhOffset + 14
	compSizeFieldOffset := lfhOffset + 18
	uncompSizeFieldOffset := lfhOffset + 22
	if useDD {
		b.uint32(0)
		b.uint32(0)
		b.uint32(0)
	} else if writeZip64 {
		b.uint32(e.CRC32)
		b.uint32(uint32max)
		b.uint32(uint32max)
	} else {
		b.uint32(e.CRC32)
		b.uint32(uint32(e.CompressedSize))
		b.uint32(uint32(e.UncompressedSize))
	}
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extraBytes)))
	if _, err := w.cw.Write(fixed[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w.cw, e.Name); err != nil {
		return err
	}
	if _, err := w.cw.Write(extraBytes); err != nil {
		return err
	}

	zip64ExtraOffset := int64(-1)
	if writeZip64 {
		zip64ExtraOffset = lfhOffset + fileHeaderLen + int64(len(e.Name)) + 4
	}

	e.LocalHeaderOffset = lfhOffset
	e.DataOffset = w.cw.count
	e.GPB = gpb
	e.ReaderVersion = readerVersion

	enc, err := w.codecs.NewEncoder(e.Method, w.cw, LevelDefault)
	if err != nil {
		return err
	}

	w.cur = &writerEntry{
		e:                     e,
		enc:                   enc,
		lfhOffset:             lfhOffset,
		diskStart:             diskStart,
		seekable:              seekable,
		useDD:                 useDD,
		zip64InLFH:            writeZip64,
		crcFieldOffset:        crcFieldOffset,
		compSizeFieldOffset:   compSizeFieldOffset,
		uncompSizeFieldOffset: uncompSizeFieldOffset,
		zip64ExtraOffset:      zip64ExtraOffset,
	}
	w.wroteEntry = true
	return nil
}

// Write streams len(p) uncompressed bytes of the currently open
// entry's content, compressing them via the entry's codec (spec §6
// "write").
func (w *Writer) Write(p []byte) (int, error) {
	if w.cur == nil {
		return 0, fmt.Errorf("%w: write called with no entry open", ErrInvalidArgument)
	}
	n, err := w.cur.enc.Write(p)
	if n > 0 {
		w.cur.crc = crc32Update(w.cur.crc, p[:n])
	}
	return n, err
}

// CloseEntry finalizes the entry currently open for writing: either a
// data descriptor is appended, or (seekable sinks) the local header's
// CRC/size fields are patched in place (spec §4.5).
func (w *Writer) CloseEntry() error {
	if w.cur == nil {
		return nil
	}
	cur := w.cur
	w.cur = nil

	uncompressedCount, compressedCount, err := cur.enc.Finish()
	if err != nil {
		return err
	}

	cur.e.UncompressedSize = uint64(uncompressedCount)
	cur.e.CompressedSize = uint64(compressedCount)
	cur.e.CRC32 = cur.crc
	cur.e.DiskNumberStart = cur.diskStart

	exceeds := cur.e.UncompressedSize >= uint32max || cur.e.CompressedSize >= uint32max

	if w.policy == Zip64Never && exceeds {
		return &Zip64Error{Kind: Zip64EntrySize, Entry: cur.e.Name}
	}
	if exceeds && !cur.zip64InLFH && cur.seekable && !cur.useDD {
		return fmt.Errorf("%w: entry %q grew beyond 32-bit limits without a reserved zip64 placeholder", ErrInvalidArgument, cur.e.Name)
	}

	if cur.useDD {
		ddZip64 := exceeds || cur.zip64InLFH
		dd := makeDataDescriptor(cur.e, ddZip64)
		if w.segSink != nil {
			if err := w.segSink.ReserveUnsplittable(len(dd)); err != nil {
				return err
			}
		}
		if _, err := w.cw.Write(dd); err != nil {
			return err
		}
	} else if cur.seekable {
		if err := w.patchLocalHeader(cur); err != nil {
			return err
		}
	}

	w.cd = append(w.cd, cur.e)
	return nil
}

// patchLocalHeader seeks back to the fixed-width CRC/size fields (and,
// if a zip64 placeholder was reserved, its 16-byte payload) and writes
// the values Finish resolved, avoiding a data descriptor entirely.
func (w *Writer) patchLocalHeader(cur *writerEntry) error {
	savedOffset := w.cw.count

	var fields [12]byte
	fb := writeBuf(fields[:])
	fb.uint32(cur.e.CRC32)
	if cur.zip64InLFH {
		fb.uint32(uint32max)
		fb.uint32(uint32max)
	} else {
		fb.uint32(uint32(cur.e.CompressedSize))
		fb.uint32(uint32(cur.e.UncompressedSize))
	}
	if _, err := w.seeker.Seek(cur.crcFieldOffset, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.cw.w.Write(fields[:]); err != nil {
		return err
	}

	if cur.zip64InLFH {
		var z64 [16]byte
		zb := writeBuf(z64[:])
		zb.uint64(cur.e.UncompressedSize)
		zb.uint64(cur.e.CompressedSize)
		if _, err := w.seeker.Seek(cur.zip64ExtraOffset, io.SeekStart); err != nil {
			return err
		}
		if _, err := w.cw.w.Write(z64[:]); err != nil {
			return err
		}
	}

	_, err := w.seeker.Seek(savedOffset, io.SeekStart)
	return err
}

// makeDataDescriptor builds the (optional-signature) data descriptor
// record following an entry's compressed data (spec §4.5, §6).
func makeDataDescriptor(e *Entry, zip64 bool) []byte {
	var buf []byte
	if zip64 {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature)
	b.uint32(e.CRC32)
	if zip64 {
		b.uint64(e.CompressedSize)
		b.uint64(e.UncompressedSize)
	} else {
		b.uint32(uint32(e.CompressedSize))
		b.uint32(uint32(e.UncompressedSize))
	}
	return buf
}

// alignmentPaddingBytes computes the zero-filled padding needed so
// that the entry's data begins at a multiple of align bytes, assuming
// an alignment extra field of its own (4-byte header + 2-byte
// alignment/flags word + padding) is the last extra written (spec §4.5
// "Alignment extra field").
func alignmentPaddingBytes(lfhOffset int64, nameLen, otherExtraLen int, align uint16) []byte {
	base := lfhOffset + fileHeaderLen + int64(nameLen) + int64(otherExtraLen) + 4 + 2
	rem := base % int64(align)
	if rem == 0 {
		return nil
	}
	return make([]byte, int64(align)-rem)
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether it
// must be considered UTF-8 (i.e. not compatible with CP-437/ASCII).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// prepareWriteEntry fills in the fields PutEntry's caller is not
// expected to set by hand: the UTF-8 GPB bit, version-made-by/needed,
// and the STORED/zero-size special case for directory entries (spec
// §4.5, grounded on the teacher's prepareEntry).
func prepareWriteEntry(e *Entry) {
	validName, requireName := detectUTF8(e.Name)
	validComment, requireComment := detectUTF8(e.Comment)
	switch {
	case e.NonUTF8:
		e.GPB = e.GPB.Clear(GPBUTF8)
	case (requireName || requireComment) && validName && validComment:
		e.GPB = e.GPB.Set(GPBUTF8)
	}

	baseVersion := uint16(zipVersion20)
	if e.Method == Store {
		baseVersion = zipVersion10
	}
	e.CreatorVersion = e.CreatorVersion&0xff00 | baseVersion
	e.ReaderVersion = baseVersion

	if e.IsDir() {
		e.Method = Store
		e.CompressedSize = 0
		e.UncompressedSize = 0
		e.CRC32 = 0
	} else if strings.HasSuffix(e.Name, "/") {
		e.Method = Store
	}
}

// Finish closes any entry still open, then emits the central directory
// and EOCD (plus ZIP64 EOCD/locator when required), per spec §4.5
// "Central directory and EOCD". After Finish returns successfully, no
// further PutEntry/Write calls are valid.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	if err := w.CloseEntry(); err != nil {
		return err
	}
	if err := w.writeCentralDirectory(); err != nil {
		return err
	}
	w.finished = true
	return nil
}

// Close finalizes the archive if Finish has not already been called
// (best-effort finalization, spec §5 "Double-close"), and is
// otherwise a no-op on a writer that has already finished or closed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.finished {
		return nil
	}
	return w.Finish()
}
