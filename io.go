package zipcore

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// ReaderAt is like io.ReaderAt, but context-aware: split-archive
// segments may themselves be backed by network storage, so every
// positional read the random-access Reader performs threads a
// context through to the underlying segment.
type ReaderAt interface {
	ReadAtContext(ctx context.Context, p []byte, off int64) (n int, err error)
}

// SizeReaderAt is a ReaderAt that also knows its own size;
// newSizeReaderAt builds one from a plain io.ReaderAt and a length.
type SizeReaderAt interface {
	ReaderAt
	Size() int64
}

type offsetAndData struct {
	offset int64
	data   ReaderAt
}

// multiReaderAt joins multiple ReaderAt segments into one contiguous
// virtual address space: segment i's content occupies
// [offset_i, offset_i+size_i) in the joined space. OpenSplitArchive
// does not use it; it joins segments with go4.org/readerutil.
type multiReaderAt struct {
	parts []offsetAndData
	size  int64
}

func newMultiReaderAt() *multiReaderAt {
	return &multiReaderAt{}
}

// add appends a segment. Segments must be added in order; add may not
// be called once the reader has been read from.
func (mcr *multiReaderAt) add(data ReaderAt, size int64) {
	switch {
	case size < 0:
		panic(fmt.Sprintf("zipcore: segment size cannot be negative: %v", size))
	case size == 0:
		return
	}
	mcr.parts = append(mcr.parts, offsetAndData{offset: mcr.size, data: data})
	mcr.size += size
}

func (mcr *multiReaderAt) addSizeReaderAt(r SizeReaderAt) {
	mcr.add(r, r.Size())
}

// endOffset is the offset at which segment partIndex ends.
func (mcr *multiReaderAt) endOffset(partIndex int) int64 {
	if partIndex == len(mcr.parts)-1 {
		return mcr.size
	}
	return mcr.parts[partIndex+1].offset
}

func (mcr *multiReaderAt) ReadAtContext(ctx context.Context, p []byte, off int64) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 || off >= mcr.size {
		return 0, io.EOF
	}
	firstPartIndex := sort.Search(len(mcr.parts), func(i int) bool {
		return mcr.endOffset(i) > off
	})
	for partIndex := firstPartIndex; partIndex < len(mcr.parts) && len(p) > 0; partIndex++ {
		if partIndex > firstPartIndex {
			off = mcr.parts[partIndex].offset
		}
		partRemaining := mcr.endOffset(partIndex) - off
		readSize := int64(len(p))
		if readSize > partRemaining {
			readSize = partRemaining
		}
		n2, err2 := mcr.parts[partIndex].data.ReadAtContext(ctx, p[:readSize], off-mcr.parts[partIndex].offset)
		n += n2
		if err2 != nil {
			return n, err2
		}
		p = p[n2:]
	}
	if len(p) > 0 {
		return n, io.EOF
	}
	return n, nil
}

func (mcr *multiReaderAt) ReadAt(p []byte, off int64) (n int, err error) {
	return mcr.ReadAtContext(context.Background(), p, off)
}

func (mcr *multiReaderAt) Size() int64 {
	return mcr.size
}

// ignoreContext adapts a plain io.ReaderAt (a single local segment
// file, say) to ReaderAt by discarding the context.
type ignoreContext struct {
	r io.ReaderAt
}

func (a ignoreContext) ReadAtContext(_ context.Context, p []byte, off int64) (n int, err error) {
	return a.r.ReadAt(p, off)
}

// sizeIgnoreContext is ignoreContext plus a fixed Size, for wrapping
// an *os.File (or any io.ReaderAt) whose length is already known.
type sizeIgnoreContext struct {
	ignoreContext
	size int64
}

func newSizeReaderAt(r io.ReaderAt, size int64) SizeReaderAt {
	return sizeIgnoreContext{ignoreContext: ignoreContext{r: r}, size: size}
}

func (s sizeIgnoreContext) Size() int64 { return s.size }

// withContext adapts a ReaderAt back to plain io.ReaderAt bound to a
// fixed context, for passing a split virtual archive to APIs (such as
// compress codecs) that only know about io.Reader/io.ReaderAt.
//
// Storing a context in a struct is usually a smell, but this value is
// scoped to a single Reader/operation and never outlives it.
type withContext struct {
	ctx context.Context
	r   ReaderAt
}

func (w withContext) ReadAt(p []byte, off int64) (n int, err error) {
	return w.r.ReadAtContext(w.ctx, p, off)
}

// sectionReaderAt restricts a ReaderAt to [off, off+n), the view one
// entry's compressed bytes get inside the full archive address space.
type sectionReaderAt struct {
	base ReaderAt
	off  int64
	n    int64
}

func newSectionReaderAt(base ReaderAt, off, n int64) *sectionReaderAt {
	return &sectionReaderAt{base: base, off: off, n: n}
}

func (s *sectionReaderAt) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= s.n {
		return 0, io.EOF
	}
	if max := s.n - off; int64(len(p)) > max {
		p = p[:max]
	}
	return s.base.ReadAtContext(ctx, p, s.off+off)
}

func (s *sectionReaderAt) Size() int64 { return s.n }

// sectionReader presents sectionReaderAt as a sequential io.Reader,
// for handing an entry's compressed bytes to a Decoder.
type sectionReader struct {
	ctx context.Context
	sr  *sectionReaderAt
	pos int64
}

func (r *sectionReader) Read(p []byte) (int, error) {
	n, err := r.sr.ReadAtContext(r.ctx, p, r.pos)
	r.pos += int64(n)
	return n, err
}
