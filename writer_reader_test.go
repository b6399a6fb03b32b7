package zipcore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// memFile is a minimal in-memory io.Writer + io.Seeker + io.ReaderAt,
// standing in for a seekable sink/source in tests that need both ends
// without touching the filesystem.
type memFile struct {
	data []byte
	pos  int64
}

func (f *memFile) Write(p []byte) (int, error) {
	end := f.pos + int64(len(p))
	if end > int64(len(f.data)) {
		grown := make([]byte, end)
		copy(grown, f.data)
		f.data = grown
	}
	n := copy(f.data[f.pos:end], p)
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = f.pos + offset
	case io.SeekEnd:
		newPos = int64(len(f.data)) + offset
	}
	f.pos = newPos
	return newPos, nil
}

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func openMemReader(t *testing.T, f *memFile, opts ...ReaderOption) *Reader {
	t.Helper()
	r, err := OpenReader(newSizeReaderAt(f, int64(len(f.data))), int64(len(f.data)), opts...)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	return r
}

// TestScenario1StoredRoundTrip is spec §8 scenario 1: one STORED entry
// named "foo", content [1,2,3,4], size 4, CRC 0xb63cfbcd.
func TestScenario1StoredRoundTrip(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	e := &Entry{Name: "foo", Method: Store, Modified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := w.PutEntry(e); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	content := []byte{0x01, 0x02, 0x03, 0x04}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := openMemReader(t, &f)
	got, ok := r.Entry("foo")
	if !ok {
		t.Fatal("entry \"foo\" not found")
	}
	if got.UncompressedSize != 4 {
		t.Errorf("size = %d, want 4", got.UncompressedSize)
	}
	if got.CRC32 != 0xb63cfbcd {
		t.Errorf("CRC32 = %#08x, want 0xb63cfbcd", got.CRC32)
	}

	rc, err := r.Open(got)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("data = % x, want % x", data, content)
	}
	if n, err := rc.Read(make([]byte, 1)); err != io.EOF || n != 0 {
		t.Errorf("read past end = %d, %v, want 0, io.EOF", n, err)
	}
}

// TestOpenRawReturnsCompressedBytes checks that OpenRaw hands back
// the still-compressed stream, not the decompressed content, and
// leaves the decoded path (Open) unaffected.
func TestOpenRawReturnsCompressedBytes(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	e := &Entry{Name: "foo.txt", Method: Deflated, Modified: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := w.PutEntry(e); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	content := bytes.Repeat([]byte("hello world, hello world, hello world"), 20)
	if _, err := w.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := openMemReader(t, &f)
	got, ok := r.Entry("foo.txt")
	if !ok {
		t.Fatal("entry \"foo.txt\" not found")
	}

	rawRC, err := r.OpenRaw(got)
	if err != nil {
		t.Fatalf("OpenRaw: %v", err)
	}
	defer rawRC.Close()
	raw, err := io.ReadAll(rawRC)
	if err != nil {
		t.Fatalf("ReadAll raw: %v", err)
	}
	if uint64(len(raw)) != got.CompressedSize {
		t.Errorf("len(raw) = %d, want CompressedSize %d", len(raw), got.CompressedSize)
	}
	if bytes.Equal(raw, content) {
		t.Error("raw bytes equal plaintext; expected compressed data")
	}

	rc, err := r.Open(got)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	decoded, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll decoded: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Error("decoded content does not match original")
	}
}

// TestScenario3HundredThousandEmptyEntries is spec §8 scenario 3: the
// entry count alone forces ZIP64 structures under AS_NEEDED.
func TestScenario3HundredThousandEmptyEntries(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 100,000-entry archive in short mode")
	}
	const n = 100000
	var f memFile
	w := NewWriter(&f, WithZip64Policy(Zip64AsNeeded))
	for i := 0; i < n; i++ {
		if err := w.PutEntry(&Entry{Name: fmt.Sprintf("%d", i), Method: Store}); err != nil {
			t.Fatalf("PutEntry(%d): %v", i, err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	eocdOffset, eocd, err := findEOCD(contextBG(), newSizeReaderAt(&f, int64(len(f.data))), int64(len(f.data)))
	if err != nil {
		t.Fatalf("findEOCD: %v", err)
	}
	eb := readBuf(eocd[8:])
	eb.uint16() // entries this disk
	totalEntries16 := eb.uint16()
	if totalEntries16 != uint16max {
		t.Errorf("EOCD entry count = %#x, want 0xFFFF", totalEntries16)
	}

	locOffset := eocdOffset - directory64LocLen
	var locBuf [directory64LocLen]byte
	if _, err := readFullAt(contextBG(), newSizeReaderAt(&f, int64(len(f.data))), locBuf[:], locOffset); err != nil {
		t.Fatalf("reading zip64 locator: %v", err)
	}
	if getUint32(locBuf[:]) != directory64LocSignature {
		t.Fatalf("no zip64 locator 20 bytes before EOCD")
	}
	lb := readBuf(locBuf[4:])
	lb.uint32()
	zip64EOCDOffset := lb.uint64()

	var zend [directory64EndLen]byte
	if _, err := readFullAt(contextBG(), newSizeReaderAt(&f, int64(len(f.data))), zend[:], int64(zip64EOCDOffset)); err != nil {
		t.Fatalf("reading zip64 EOCD: %v", err)
	}
	if getUint32(zend[:]) != directory64EndSignature {
		t.Fatal("zip64 EOCD signature mismatch")
	}
	zb := readBuf(zend[32:]) // skip sig(4)+size(8)+versions(4)+disk(4)+diskCD(4)+entriesThisDisk(8)
	totalEntries64 := zb.uint64()
	if totalEntries64 != 0x186A0 {
		t.Errorf("zip64 EOCD total entries = %#x, want 0x186A0", totalEntries64)
	}

	r := openMemReader(t, &f)
	if got := len(r.Entries()); got != n {
		t.Errorf("got %d entries back, want %d", got, n)
	}
}

func contextBG() context.Context { return context.Background() }

// TestScenario4DeflatedStreamingWithDataDescriptor is a scaled-down
// form of spec §8 scenario 4: a DEFLATED entry written to a
// non-seekable sink, so CRC/sizes land in a trailing data descriptor
// instead of the local header.
func TestScenario4DeflatedStreamingWithDataDescriptor(t *testing.T) {
	size := 1 << 20
	if testing.Short() {
		size = 1 << 14
	}
	content := bytes.Repeat([]byte{0x42}, size)

	var buf bytes.Buffer
	w := NewWriter(&buf, WithZip64Policy(Zip64AsNeeded))
	if err := w.PutEntry(&Entry{Name: "big.bin", Method: Deflated}); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	raw := buf.Bytes()
	var lfhFlags [2]byte
	copy(lfhFlags[:], raw[6:8])
	gpb := GPBFlag(getUint16(lfhFlags[:]))
	if !gpb.HasDataDescriptor() {
		t.Fatal("expected the data-descriptor GPB bit to be set for a streaming-sink entry")
	}
	if crc := getUint32(raw[14:]); crc != 0 {
		t.Errorf("LFH crc32 field = %#x, want 0 (deferred to the data descriptor)", crc)
	}

	sr := NewStreamReader(bytes.NewReader(raw))
	e, err := sr.NextEntry()
	if err != nil {
		t.Fatalf("NextEntry: %v", err)
	}
	if e.Name != "big.bin" {
		t.Errorf("Name = %q, want %q", e.Name, "big.bin")
	}
	got, err := io.ReadAll(sr)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("streamed content does not match what was written")
	}
	if _, err := sr.NextEntry(); err != io.EOF {
		t.Errorf("NextEntry after the only entry = %v, want io.EOF", err)
	}
}

// TestStreamingDeflatedZip64AlwaysDataDescriptorWidth guards against
// deriving the streaming data-descriptor's size width from how many
// bytes were actually decompressed: under Zip64Always (and
// Zip64AlwaysCompatibility), every LFH carries a ZIP64 placeholder and
// CloseEntry always emits an 8-byte descriptor, even for a small
// entry whose decompressed length never approaches the 32-bit limit.
func TestStreamingDeflatedZip64AlwaysDataDescriptorWidth(t *testing.T) {
	for _, policy := range []Zip64Policy{Zip64Always, Zip64AlwaysCompatibility} {
		var buf bytes.Buffer
		w := NewWriter(&buf, WithZip64Policy(policy))
		if err := w.PutEntry(&Entry{Name: "small.bin", Method: Deflated}); err != nil {
			t.Fatalf("PutEntry: %v", err)
		}
		content := []byte("a tiny amount of content, nowhere near 4 GiB")
		if _, err := w.Write(content); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if err := w.Finish(); err != nil {
			t.Fatalf("Finish: %v", err)
		}

		sr := NewStreamReader(bytes.NewReader(buf.Bytes()))
		e, err := sr.NextEntry()
		if err != nil {
			t.Fatalf("policy %v: NextEntry: %v", policy, err)
		}
		got, err := io.ReadAll(sr)
		if err != nil {
			t.Fatalf("policy %v: ReadAll: %v", policy, err)
		}
		if !bytes.Equal(got, content) {
			t.Errorf("policy %v: streamed content = %q, want %q", policy, got, content)
		}
		if e.CompressedSize == 0 || e.UncompressedSize != uint64(len(content)) {
			t.Errorf("policy %v: sizes not resolved from descriptor: compressed=%d uncompressed=%d", policy, e.CompressedSize, e.UncompressedSize)
		}
		if _, err := sr.NextEntry(); err != io.EOF {
			t.Errorf("policy %v: NextEntry after the only entry = %v, want io.EOF", policy, err)
		}
	}
}

// TestStreamingStoredWithDataDescriptorRejected checks that a STORED
// entry claiming a data descriptor (sizes unknown in the LFH) is
// rejected rather than read unbounded off the end of the archive:
// STORED has no decoder end-of-stream of its own to terminate on.
func TestStreamingStoredWithDataDescriptorRejected(t *testing.T) {
	var lfh bytes.Buffer
	b := make([]byte, fileHeaderLen)
	wb := writeBuf(b)
	wb.uint32(fileHeaderSignature)
	wb.uint16(20)              // reader version
	wb.uint16(uint16(GPBDataDescriptor)) // GPB: data descriptor bit set
	wb.uint16(Store)           // method
	wb.uint16(0)               // mod time
	wb.uint16(0)               // mod date
	wb.uint32(0)               // crc32 (deferred)
	wb.uint32(0)               // compressed size (deferred)
	wb.uint32(0)               // uncompressed size (deferred)
	wb.uint16(uint16(len("x"))) // name length
	wb.uint16(0)                // extra length
	lfh.Write(b)
	lfh.WriteString("x")
	lfh.WriteString("payload that must never be treated as entry data")

	sr := NewStreamReader(bytes.NewReader(lfh.Bytes()))
	if _, err := sr.NextEntry(); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("NextEntry for STORED+data-descriptor = %v, want ErrUnsupportedMethod", err)
	}
}

// TestCanReadEntryDataRejectsStoredWithDataDescriptor checks the
// can_read_entry_data query directly, without going through NextEntry.
func TestCanReadEntryDataRejectsStoredWithDataDescriptor(t *testing.T) {
	sr := NewStreamReader(bytes.NewReader(nil))
	e := &Entry{Method: Store, UncompressedSize: UnknownSize, GPB: GPBFlag(0).Set(GPBDataDescriptor)}
	if sr.CanReadEntryData(e) {
		t.Error("CanReadEntryData(STORED with data descriptor) = true, want false")
	}
}

// TestScenario5SplitArchive is a scaled-down form of spec §8 scenario
// 5: a split archive with a small segment size and several stored
// entries, read back via OpenSplitArchive.
func TestScenario5SplitArchive(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "archive")

	sink, err := NewFileSegmentSink(base, MinSplitSize)
	if err != nil {
		t.Fatalf("NewFileSegmentSink: %v", err)
	}
	w := NewWriter(sink, WithZip64Policy(Zip64AsNeeded))

	entries := []struct {
		name string
		size int
	}{
		{"a.bin", 30000},
		{"b.bin", 30000},
		{"c.bin", 30000},
	}
	contents := make([][]byte, len(entries))
	for i, spec := range entries {
		contents[i] = bytes.Repeat([]byte{byte('a' + i)}, spec.size)
		if err := w.PutEntry(&Entry{Name: spec.name, Method: Store}); err != nil {
			t.Fatalf("PutEntry(%s): %v", spec.name, err)
		}
		if _, err := w.Write(contents[i]); err != nil {
			t.Fatalf("Write(%s): %v", spec.name, err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("sink.Close: %v", err)
	}

	for i := 0; i < sink.CurrentSegment(); i++ {
		name := fmt.Sprintf("%s.z%02d", base, i+1)
		info, err := os.Stat(name)
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Size() != MinSplitSize {
			t.Errorf("segment %s size = %d, want %d", name, info.Size(), MinSplitSize)
		}
	}

	ra, size, bounds, err := OpenSplitArchive(base + ".zip")
	if err != nil {
		t.Fatalf("OpenSplitArchive: %v", err)
	}
	r, err := OpenReader(ra, size, WithSegmentBounds(bounds))
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	got := r.Entries()
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range got {
		if e.Name != entries[i].name {
			t.Errorf("entry %d name = %q, want %q", i, e.Name, entries[i].name)
		}
		rc, err := r.Open(e)
		if err != nil {
			t.Fatalf("Open(%s): %v", e.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("ReadAll(%s): %v", e.Name, err)
		}
		if !bytes.Equal(data, contents[i]) {
			t.Errorf("entry %d content mismatch", i)
		}
	}
}

// TestScenario6BackslashWorkaround is spec §8 scenario 6.
func TestScenario6BackslashWorkaround(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	if err := w.PutEntry(&Entry{Name: "ä\\ü.txt", Method: Store}); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := openMemReader(t, &f)
	if _, ok := r.Entry("ä\\ü.txt"); ok {
		t.Error("exact lookup with a literal backslash should miss")
	}
	if _, ok := r.Entry("ä/ü.txt"); !ok {
		t.Error("lookup with the normalized forward slash should hit")
	}
}

func TestZip64NeverRejectsOversizedEntry(t *testing.T) {
	var f memFile
	w := NewWriter(&f, WithZip64Policy(Zip64Never))
	e := &Entry{
		Name:             "huge",
		Method:           Store,
		UncompressedSize: uint64(uint32max) + 1,
		CompressedSize:   uint64(uint32max) + 1,
	}
	err := w.PutEntry(e)
	var zerr *Zip64Error
	if !errors.As(err, &zerr) {
		t.Fatalf("PutEntry err = %v, want *Zip64Error", err)
	}
	if zerr.Kind != Zip64EntrySize || zerr.Entry != "huge" {
		t.Errorf("got %+v", zerr)
	}
}

func TestZip64AlwaysRoundTrip(t *testing.T) {
	var f memFile
	w := NewWriter(&f, WithZip64Policy(Zip64Always))
	if err := w.PutEntry(&Entry{Name: "small", Method: Store}); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	content := []byte("not actually large, but always zip64")
	if _, err := w.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	r := openMemReader(t, &f)
	e, ok := r.Entry("small")
	if !ok {
		t.Fatal("entry not found")
	}
	if e.UncompressedSize != uint64(len(content)) {
		t.Errorf("size = %d, want %d", e.UncompressedSize, len(content))
	}
	rc, err := r.Open(e)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch under Zip64Always")
	}
}

func TestAlignmentRejectsNonPowerOfTwo(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	err := w.PutEntry(&Entry{Name: "x", Method: Store, AlignmentPadding: 3})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("PutEntry with alignment 3: err = %v, want ErrInvalidArgument", err)
	}
}

func TestAlignmentPadsDataOffset(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	e := &Entry{Name: "aligned", Method: Store, AlignmentPadding: 16}
	if err := w.PutEntry(e); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	if err := w.CloseEntry(); err != nil {
		t.Fatalf("CloseEntry: %v", err)
	}
	if e.DataOffset%16 != 0 {
		t.Errorf("DataOffset = %d, not a multiple of 16", e.DataOffset)
	}
}

func TestPreambleBeforeFirstEntry(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	preamble := []byte("#!/bin/sh\nexit 0\n")
	if err := w.WritePreamble(preamble); err != nil {
		t.Fatalf("WritePreamble: %v", err)
	}
	if err := w.PutEntry(&Entry{Name: "payload", Method: Store}); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	content := []byte("data")
	if _, err := w.Write(content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if !bytes.HasPrefix(f.data, preamble) {
		t.Error("archive does not start with the written preamble")
	}

	r := openMemReader(t, &f)
	e, ok := r.Entry("payload")
	if !ok {
		t.Fatal("entry not found behind a preamble")
	}
	rc, err := r.Open(e)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch when read behind a preamble")
	}
}

func TestPreambleAfterFirstEntryRejected(t *testing.T) {
	var f memFile
	w := NewWriter(&f)
	if err := w.PutEntry(&Entry{Name: "first", Method: Store}); err != nil {
		t.Fatalf("PutEntry: %v", err)
	}
	if err := w.WritePreamble([]byte("too late")); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("WritePreamble after an entry: err = %v, want ErrInvalidArgument", err)
	}
}
