package zipcore

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
)

const (
	eocdFixedLen      = directoryEndLen
	eocdMaxCommentLen = uint16max
	eocdSearchWindow  = eocdFixedLen + eocdMaxCommentLen
)

// Reader is the random-access ZIP reader (spec §4.3): given a seekable
// byte source, it locates the EOCD, follows the ZIP64 locator if
// present, and builds an ordered catalog of entries.
type Reader struct {
	ra       ReaderAt
	size     int64
	codecs   *CodecTable
	registry *ExtraFieldRegistry
	policy   ParsePolicy

	cdOrder  []*Entry
	byOffset []*Entry // physical order, ascending LocalHeaderOffset

	byName map[string][]*Entry

	comment string

	// firstLocalFileHeaderOffset is the byte length of any prefix
	// (self-extracting stub, "PK00" wrapper) before the first local
	// file header, derived from the delta between the declared and
	// actual central-directory offsets (spec §4.3 step 1).
	firstLocalFileHeaderOffset int64

	// segmentBounds, when non-nil, is the start offset (in the joined
	// split-archive address space OpenSplitArchive builds) of each
	// disk/segment, indexed by disk number. When set, a CDH's local
	// header offset field is interpreted as disk-relative per APPNOTE
	// and translated via segmentBounds[diskStart]+offset rather than
	// via the single-segment prefix delta (spec §4.5 "Split output").
	segmentBounds []int64
}

// ReaderOption configures Open.
type ReaderOption func(*Reader)

// WithCodecs overrides the compression-method table used to decode
// entry data. Defaults to DefaultCodecs.
func WithCodecs(t *CodecTable) ReaderOption {
	return func(r *Reader) { r.codecs = t }
}

// WithExtraFieldRegistry overrides the registry used to parse
// central-directory extra fields. Defaults to DefaultRegistry.
func WithExtraFieldRegistry(reg *ExtraFieldRegistry) ReaderOption {
	return func(r *Reader) { r.registry = reg }
}

// WithParsePolicy overrides the extra-field ParsePolicy used while
// reading the central directory. Defaults to PolicyBestEffort.
func WithParsePolicy(p ParsePolicy) ReaderOption {
	return func(r *Reader) { r.policy = p }
}

// WithSegmentBounds configures OpenReader to interpret each entry's
// local header offset as disk-relative, translating it via
// bounds[diskStart]+offset rather than the single-segment prefix
// delta. Pass the bounds returned by OpenSplitArchive.
func WithSegmentBounds(bounds []int64) ReaderOption {
	return func(r *Reader) { r.segmentBounds = bounds }
}

// OpenReader builds a Reader's entry catalog from a seekable source of
// length size, per the open algorithm in spec §4.3.
func OpenReader(ra ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	return OpenReaderContext(context.Background(), ra, size, opts...)
}

// OpenReaderContext is OpenReader with an explicit context, threaded
// to every positional read performed while building the catalog.
func OpenReaderContext(ctx context.Context, ra ReaderAt, size int64, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		ra:       ra,
		size:     size,
		codecs:   DefaultCodecs,
		registry: DefaultRegistry,
		policy:   PolicyBestEffort,
		byName:   make(map[string][]*Entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	eocdOffset, eocd, err := findEOCD(ctx, ra, size)
	if err != nil {
		return nil, err
	}

	var cdOffset, cdSize, totalEntries uint64
	var diskWithCD uint32

	b := readBuf(eocd[4:])
	b.uint16() // number of this disk
	diskWithCD = uint32(b.uint16())
	entriesThisDisk := b.uint16()
	totalEntries = uint64(b.uint16())
	cdSize = uint64(b.uint32())
	cdOffset = uint64(b.uint32())
	commentLen := int(b.uint16())
	if entriesThisDisk != uint16(totalEntries) {
		// multi-disk (non-split virtual source); trust the total.
	}
	if commentLen > 0 && 4+commentLen <= len(eocd) {
		r.comment = string(eocd[eocdFixedLen : eocdFixedLen+commentLen])
	}

	// Look for the ZIP64 locator immediately preceding EOCD.
	if eocdOffset >= directory64LocLen {
		locBuf := make([]byte, directory64LocLen)
		if _, err := readFullAt(ctx, ra, locBuf, eocdOffset-directory64LocLen); err == nil && getUint32(locBuf) == directory64LocSignature {
			lb := readBuf(locBuf[4:])
			lb.uint32() // disk with zip64 EOCD
			zip64EOCDOffset := lb.uint64()

			zipEnd := make([]byte, directory64EndLen)
			if _, err := readFullAt(ctx, ra, zipEnd, int64(zip64EOCDOffset)); err != nil {
				return nil, err
			}
			if getUint32(zipEnd) != directory64EndSignature {
				return nil, fmt.Errorf("%w: expected zip64 end of central directory signature at %d", ErrBadSignature, zip64EOCDOffset)
			}
			zb := readBuf(zipEnd[12:])
			zb.uint16() // version made by
			zb.uint16() // version needed
			zb.uint32() // number of this disk
			diskWithCD = zb.uint32()
			zb.uint64() // entries on this disk
			totalEntries = zb.uint64()
			cdSize = zb.uint64()
			cdOffset = zb.uint64()
		}
	}

	actualCDStart := eocdOffset - int64(cdSize)
	delta := actualCDStart - int64(cdOffset)
	r.firstLocalFileHeaderOffset = delta
	if r.firstLocalFileHeaderOffset < 0 {
		r.firstLocalFileHeaderOffset = 0
	}

	entries, err := r.readCentralDirectory(ctx, int64(cdOffset)+delta, int(totalEntries), delta)
	if err != nil {
		return nil, err
	}
	r.cdOrder = entries
	_ = diskWithCD

	r.byOffset = append([]*Entry{}, entries...)
	sort.SliceStable(r.byOffset, func(i, j int) bool {
		return r.byOffset[i].LocalHeaderOffset < r.byOffset[j].LocalHeaderOffset
	})

	for _, e := range entries {
		r.byName[e.Name] = append(r.byName[e.Name], e)
	}

	return r, nil
}

// findEOCD scans backward from the end of the source for the EOCD
// signature, within the 64KiB+22 byte window the maximum comment
// length allows (spec §4.3 step 2).
func findEOCD(ctx context.Context, ra ReaderAt, size int64) (offset int64, record []byte, err error) {
	searchLen := int64(eocdSearchWindow)
	if searchLen > size {
		searchLen = size
	}
	if searchLen < eocdFixedLen {
		return 0, nil, fmt.Errorf("%w: archive too small to contain an end of central directory record", ErrBadSignature)
	}
	start := size - searchLen
	buf := make([]byte, searchLen)
	if _, err := readFullAt(ctx, ra, buf, start); err != nil {
		return 0, nil, err
	}
	for i := len(buf) - eocdFixedLen; i >= 0; i-- {
		if getUint32(buf[i:]) != directoryEndSignature {
			continue
		}
		commentLen := int(getUint16(buf[i+20:]))
		if i+eocdFixedLen+commentLen <= len(buf) {
			return start + int64(i), buf[i:], nil
		}
	}
	return 0, nil, fmt.Errorf("%w: end of central directory record not found", ErrBadSignature)
}

func readFullAt(ctx context.Context, ra ReaderAt, p []byte, off int64) (int, error) {
	total := 0
	for total < len(p) {
		n, err := ra.ReadAtContext(ctx, p[total:], off+int64(total))
		total += n
		if err != nil {
			if err == io.EOF && total == len(p) {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			return total, io.ErrNoProgress
		}
	}
	return total, nil
}

// readCentralDirectory decodes totalEntries consecutive CDH records
// starting at cdOffset, applying delta to every declared local-header
// offset to correct for any prefix bytes (spec §4.3 steps 1 and 4).
func (r *Reader) readCentralDirectory(ctx context.Context, cdOffset int64, totalEntries int, delta int64) ([]*Entry, error) {
	sr := &sectionReader{ctx: ctx, sr: newSectionReaderAt(r.ra, cdOffset, r.size-cdOffset)}
	br := bufio.NewReaderSize(sr, 32*1024)

	entries := make([]*Entry, 0, totalEntries)
	for i := 0; i < totalEntries; i++ {
		e, err := r.readOneCDEntry(br, delta)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (r *Reader) readOneCDEntry(br *bufio.Reader, delta int64) (*Entry, error) {
	var fixed [directoryHeaderLen]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: truncated central directory header: %v", ErrTruncatedArchive, err)
	}
	b := readBuf(fixed[:])
	sig := b.uint32()
	if sig != directoryHeaderSignature {
		return nil, fmt.Errorf("%w: expected central directory header signature, found %#08x", ErrBadSignature, sig)
	}
	creatorVersion := b.uint16()
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
	commentLen := int(b.uint16())
	diskStart16 := b.uint16()
	internalAttrs := b.uint16()
	externalAttrs := b.uint32()
	lfhOffset32 := b.uint32()

	nameExtraComment := make([]byte, nameLen+extraLen+commentLen)
	if _, err := io.ReadFull(br, nameExtraComment); err != nil {
		return nil, fmt.Errorf("%w: truncated central directory name/extra/comment: %v", ErrTruncatedArchive, err)
	}
	name := normalizeEntryName(string(nameExtraComment[:nameLen]))
	extraBytes := nameExtraComment[nameLen : nameLen+extraLen]
	comment := string(nameExtraComment[nameLen+extraLen:])

	extras, err := r.registry.Parse(extraBytes, ContextCentralDirectory, r.policy)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		Name:           name,
		NameSource:     NameSourcePlain,
		Comment:        comment,
		NonUTF8:        !gpb.IsUTF8(),
		CreatorVersion: creatorVersion,
		ReaderVersion:  readerVersion,
		GPB:            gpb,
		Method:         method,
		CRC32:          crc,
		Platform:       uint8(creatorVersion >> 8),
		ExternalAttrs:  externalAttrs,
		InternalAttrs:  internalAttrs,
		Extra:          extras,
		DiskNumberStart: uint32(diskStart16),
	}
	if gpb.IsUTF8() {
		e.NameSource = NameSourceEFS
	}

	compSize := uint64(compSize32)
	uncompSize := uint64(uncompSize32)
	lfhOffset := uint64(lfhOffset32)
	diskStart := uint32(diskStart16)

	if z, ok := extras.Get(idZip64); ok {
		z64 := z.(*Zip64ExtraField)
		vals, diskStart64, hadDisk := z64.orderedValues()
		idx := 0
		if uncompSize32 == uint32max && idx < len(vals) {
			uncompSize = vals[idx]
			idx++
		}
		if compSize32 == uint32max && idx < len(vals) {
			compSize = vals[idx]
			idx++
		}
		if lfhOffset32 == uint32max && idx < len(vals) {
			lfhOffset = vals[idx]
			idx++
		}
		if diskStart16 == uint16max && hadDisk {
			diskStart = diskStart64
		}
	}

	e.CompressedSize = compSize
	e.UncompressedSize = uncompSize
	if r.segmentBounds != nil {
		if int(diskStart) >= len(r.segmentBounds) {
			return nil, fmt.Errorf("%w: entry %q references disk %d beyond the %d segments present", ErrBadSignature, name, diskStart, len(r.segmentBounds))
		}
		e.LocalHeaderOffset = r.segmentBounds[diskStart] + int64(lfhOffset)
	} else {
		e.LocalHeaderOffset = int64(lfhOffset) + delta
	}
	e.DiskNumberStart = diskStart
	reconcileTimestamps(e, modDate, modTime)

	if up, ok := extras.Get(idUnicodePath); ok {
		u := up.(*UnicodePathExtraField)
		if checksumMatches([]byte(name), u.NameCRC) {
			e.Name = u.UnicodeName
			e.NameSource = NameSourceUnicodeExtra
		}
	}
	if uc, ok := extras.Get(idUnicodeComment); ok {
		u := uc.(*UnicodeCommentExtraField)
		if checksumMatches([]byte(comment), u.CommentCRC) {
			e.Comment = u.UnicodeComment
		}
	}

	return e, nil
}

// Entries returns every catalog entry in central-directory order
// (spec §4.3, §5 "CD order equals CD order on disk").
func (r *Reader) Entries() []*Entry { return append([]*Entry{}, r.cdOrder...) }

// PhysicalOrder returns every catalog entry ordered by ascending
// LocalHeaderOffset (spec §4.3, §5).
func (r *Reader) PhysicalOrder() []*Entry { return append([]*Entry{}, r.byOffset...) }

// Comment returns the archive-level EOCD comment.
func (r *Reader) Comment() string { return r.comment }

// Entry returns the first central-directory match for name, per spec
// §4.3 "get_entry(name) returns the first CD match". Directory lookup
// matches only the exact stored name (spec §9 Open Question, resolved
// in DESIGN.md): use EntryOrDir for the foo/foo/ convenience.
func (r *Reader) Entry(name string) (*Entry, bool) {
	list := r.byName[name]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// EntryOrDir is Entry, but additionally tries name+"/" when no exact
// match exists (spec §9 Open Question).
func (r *Reader) EntryOrDir(name string) (*Entry, bool) {
	if e, ok := r.Entry(name); ok {
		return e, true
	}
	return r.Entry(name + "/")
}

// GetEntries returns every central-directory match for name, in CD
// order (spec §4.3 "get_entries(name) returns all matches").
func (r *Reader) GetEntries(name string) []*Entry {
	return append([]*Entry{}, r.byName[name]...)
}

// Open returns a decompressing stream for e's data. Multiple
// concurrent Open calls, for the same or different entries, are safe:
// each stream is an independent cursor over the shared ReaderAt and
// owns its own decoder instance (spec §4.3 "Concurrency").
func (r *Reader) Open(e *Entry) (io.ReadCloser, error) {
	return r.OpenContext(context.Background(), e)
}

// OpenContext is Open with an explicit context.
func (r *Reader) OpenContext(ctx context.Context, e *Entry) (io.ReadCloser, error) {
	if !r.codecs.CanReadMethod(e.Method) {
		return nil, fmt.Errorf("%w: method %d", ErrUnsupportedMethod, e.Method)
	}

	src, err := r.openRawContext(ctx, e)
	if err != nil {
		return nil, err
	}

	dec, err := r.codecs.NewDecoder(e.Method, src, e.GPB)
	if err != nil {
		return nil, err
	}
	return &crcCheckingReader{rc: dec, want: e.CRC32, check: true}, nil
}

// OpenRaw returns a stream over e's still-compressed bytes, skipping
// both decompression and CRC verification. Useful for repacking or
// recompressing entries without a decode/encode round trip (e.g. when
// splicing entries between split archives).
func (r *Reader) OpenRaw(e *Entry) (io.ReadCloser, error) {
	return r.OpenRawContext(context.Background(), e)
}

// OpenRawContext is OpenRaw with an explicit context.
func (r *Reader) OpenRawContext(ctx context.Context, e *Entry) (io.ReadCloser, error) {
	rc, err := r.openRawContext(ctx, e)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(rc), nil
}

// openRawContext validates and seeks past e's local file header,
// caching DataOffset, and returns a reader bounded to the entry's
// compressed bytes (or to the rest of the archive, when the size is
// not yet known because a data descriptor follows).
func (r *Reader) openRawContext(ctx context.Context, e *Entry) (io.Reader, error) {
	var lfh [fileHeaderLen]byte
	if _, err := readFullAt(ctx, r.ra, lfh[:], e.LocalHeaderOffset); err != nil {
		return nil, fmt.Errorf("%w: reading local file header: %v", ErrTruncatedArchive, err)
	}
	b := readBuf(lfh[:])
	sig := b.uint32()
	if sig != fileHeaderSignature {
		return nil, fmt.Errorf("%w: expected local file header signature at offset %d, found %#08x", ErrBadSignature, e.LocalHeaderOffset, sig)
	}
	b.uint16() // reader version
	b.uint16() // flags (already known from CD)
	b.uint16() // method (already known from CD)
	b.uint16() // mod time
	b.uint16() // mod date
	b.uint32() // crc32
	b.uint32() // compressed size
	b.uint32() // uncompressed size
	localNameLen := int(b.uint16())
	localExtraLen := int(b.uint16())

	dataOffset := e.LocalHeaderOffset + fileHeaderLen + int64(localNameLen) + int64(localExtraLen)
	e.DataOffset = dataOffset

	if e.Method == Store && e.UncompressedSize != UnknownSize {
		if dataOffset+int64(e.UncompressedSize) > r.size {
			return nil, fmt.Errorf("%w: entry %q data extends past end of archive", ErrTruncatedArchive, e.Name)
		}
	}

	if e.CompressedSize != UnknownSize {
		section := newSectionReaderAt(r.ra, dataOffset, int64(e.CompressedSize))
		return &sectionReader{ctx: ctx, sr: section}, nil
	}
	section := newSectionReaderAt(r.ra, dataOffset, r.size-dataOffset)
	return &sectionReader{ctx: ctx, sr: section}, nil
}

// UnixSymlink reads and returns a symlink entry's link target, either
// from an Asi extra field (legacy Info-ZIP Unix archives) or, failing
// that, by reading the entry's decompressed content (the convention
// most modern tools use), per spec §6 "unix_symlink".
func (r *Reader) UnixSymlink(e *Entry) (string, error) {
	if target, ok := e.Symlink(); ok {
		return target, nil
	}
	rc, err := r.Open(e)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Close releases resources associated with the Reader. Outstanding
// streams obtained from Open become invalid once the underlying
// source is closed by the caller (spec §5 "shared-resource policy");
// Reader itself does not own the source, so Close is a no-op (the
// caller owns lifetime of the ReaderAt it supplied to OpenReader).
func (r *Reader) Close() error { return nil }

// crcCheckingReader wraps a Decoder, verifying the running CRC32 of
// everything read against the entry's recorded checksum once the
// decoder reports EOF (spec §8 "crc32(E.original) == E.recorded_crc").
type crcCheckingReader struct {
	rc    Decoder
	crc   uint32
	seen  uint32
	want  uint32
	check bool
	done  bool
}

func (c *crcCheckingReader) Read(p []byte) (int, error) {
	n, err := c.rc.Read(p)
	if n > 0 {
		c.seen = crc32Update(c.seen, p[:n])
	}
	if err == io.EOF && !c.done {
		c.done = true
		if c.check && c.seen != c.want {
			return n, fmt.Errorf("%w: expected %#08x, got %#08x", ErrBadChecksum, c.want, c.seen)
		}
	}
	return n, err
}

func (c *crcCheckingReader) Close() error { return c.rc.Close() }
