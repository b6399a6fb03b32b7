package zipcore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go4.org/readerutil"
)

// Split-size bounds a configured segment threshold must fall within
// (spec §4.5 "Split output": "64 KiB ≤ S < 4 GiB").
const (
	MinSplitSize int64 = 64 * 1024
	MaxSplitSize int64 = 4 * 1024 * 1024 * 1024
)

// FileSegmentSink is a SegmentSink backed by a sequence of on-disk
// files: segments 1..N-1 are named "<base>.z01".."<base>.z0(N-1)",
// and the final (currently open) segment is renamed to "<base>.zip"
// when the sink is closed, per spec §4.5 "Split output" / "Filesystem
// layout (split archives)". The first 4 bytes written are always the
// split signature, a "record-of-one" the reader side recognizes.
//
// Grounded on the teacher's partsBuilder/multireadseeker (
// multireadseeker.go), which assembles a read-only ordered sequence of
// parts; FileSegmentSink is the write-side mirror, rotating to a fresh
// part once the threshold is reached instead of reading from a fixed
// set.
type FileSegmentSink struct {
	base    string
	segSize int64

	cur      *os.File
	curIndex int
	curSize  int64
}

// NewFileSegmentSink creates the first segment at base+".z01" (renamed
// at Close if it turns out to be the only segment) and writes the
// split signature as its first 4 bytes.
func NewFileSegmentSink(base string, segSize int64) (*FileSegmentSink, error) {
	if segSize < MinSplitSize || segSize >= MaxSplitSize {
		return nil, fmt.Errorf("%w: split size %d outside [%d, %d)", ErrInvalidArgument, segSize, MinSplitSize, MaxSplitSize)
	}
	s := &FileSegmentSink{base: base, segSize: segSize}
	if err := s.openSegment(0); err != nil {
		return nil, err
	}
	var sig [4]byte
	putUint32(sig[:], splitSignature)
	n, err := s.cur.Write(sig[:])
	s.curSize += int64(n)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSegmentSink) segmentName(index int) string {
	return fmt.Sprintf("%s.z%02d", s.base, index+1)
}

func (s *FileSegmentSink) finalName() string { return s.base + ".zip" }

func (s *FileSegmentSink) openSegment(index int) error {
	f, err := os.Create(s.segmentName(index))
	if err != nil {
		return err
	}
	s.cur = f
	s.curIndex = index
	s.curSize = 0
	return nil
}

// rotate closes the current segment (leaving it named "<base>.z0N";
// only the last segment this sink ever opens gets renamed, at Close)
// and opens the next one.
func (s *FileSegmentSink) rotate() error {
	if err := s.cur.Close(); err != nil {
		return err
	}
	return s.openSegment(s.curIndex + 1)
}

// Write implements io.Writer, transparently splitting p across
// segment boundaries (spec §4.5 "Writes ... are either split
// transparently ... or flushed to the next segment atomically").
func (s *FileSegmentSink) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		remaining := s.segSize - s.curSize
		if remaining <= 0 {
			if err := s.rotate(); err != nil {
				return total, err
			}
			remaining = s.segSize - s.curSize
		}
		chunk := p
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		n, err := s.cur.Write(chunk)
		s.curSize += int64(n)
		total += n
		p = p[n:]
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// ReserveUnsplittable rotates to a fresh segment first if the next n
// bytes would otherwise straddle a boundary (spec §4.5 "Writer Request
// to reserve more than S bytes ... fail with InvalidArgument").
func (s *FileSegmentSink) ReserveUnsplittable(n int) error {
	if int64(n) > s.segSize {
		return fmt.Errorf("%w: unsplittable record of %d bytes exceeds segment size %d", ErrInvalidArgument, n, s.segSize)
	}
	if s.segSize-s.curSize < int64(n) {
		return s.rotate()
	}
	return nil
}

// CurrentSegment returns the 0-based index of the segment the next
// Write call will land in.
func (s *FileSegmentSink) CurrentSegment() int { return s.curIndex }

// Close finalizes the sink, renaming the last (currently open)
// segment to "<base>.zip".
func (s *FileSegmentSink) Close() error {
	name := s.segmentName(s.curIndex)
	if err := s.cur.Close(); err != nil {
		return err
	}
	return os.Rename(name, s.finalName())
}

// osFileSizeReaderAt adapts an *os.File to go4.org/readerutil's
// SizeReaderAt (io.ReaderAt plus a known Size), the shape
// readerutil.NewMultiReaderAt composes.
type osFileSizeReaderAt struct {
	f    *os.File
	size int64
}

func (o osFileSizeReaderAt) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }
func (o osFileSizeReaderAt) Size() int64                             { return o.size }

// OpenSplitArchive opens a split archive given the path to its final
// ("<base>.zip") segment, discovering "<base>.z01", "<base>.z02", ...
// in order, and joins every segment into one virtual address space via
// go4.org/readerutil (the teacher's own dependency; multireadseeker.go
// shows the same "ordered parts, offset lookup" shape for the
// io.ReadSeeker case this package generalizes to a context-aware
// io.ReaderAt). The returned bounds, passed to WithSegmentBounds, let
// the random-access Reader translate each entry's disk-relative local
// header offset (spec §4.5 "Filesystem layout (split archives)").
func OpenSplitArchive(finalPath string) (ra ReaderAt, size int64, bounds []int64, err error) {
	base := strings.TrimSuffix(finalPath, ".zip")

	var files []*os.File
	defer func() {
		if err != nil {
			for _, f := range files {
				f.Close()
			}
		}
	}()

	for i := 0; ; i++ {
		name := fmt.Sprintf("%s.z%02d", base, i+1)
		f, openErr := os.Open(name)
		if errors.Is(openErr, os.ErrNotExist) {
			break
		}
		if openErr != nil {
			return nil, 0, nil, openErr
		}
		files = append(files, f)
	}

	final, openErr := os.Open(finalPath)
	if openErr != nil {
		return nil, 0, nil, openErr
	}
	files = append(files, final)

	parts := make([]readerutil.SizeReaderAt, len(files))
	bounds = make([]int64, len(files))
	var total int64
	for i, f := range files {
		st, statErr := f.Stat()
		if statErr != nil {
			return nil, 0, nil, statErr
		}
		parts[i] = osFileSizeReaderAt{f: f, size: st.Size()}
		bounds[i] = total
		total += st.Size()
	}

	joined := readerutil.NewMultiReaderAt(parts...)
	return newSizeReaderAt(joined, joined.Size()), joined.Size(), bounds, nil
}
