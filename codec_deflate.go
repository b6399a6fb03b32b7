package zipcore

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// deflateCodec implements Deflated (method 8) with
// github.com/klauspost/compress/flate rather than the standard
// library compress/flate: both xenking/zipstream and zhyee/zipstream
// make the same choice, because stdlib flate's Reader may read past
// the end of a deflate stream looking ahead, which breaks locating a
// data descriptor that immediately follows the compressed bytes. The
// decoder side also pools *flate.Reader values (zhyee/zipstream's
// pooledDeflateReader pattern) since streaming-reader callers create
// and discard one per entry.
func deflateCodec() *Codec {
	return &Codec{
		Method:    Deflated,
		Name:      "deflate",
		CanDecode: true,
		CanEncode: true,
		NewDecoder: func(r io.Reader, _ GPBFlag) (Decoder, error) {
			return newPooledDeflateReader(r), nil
		},
		NewEncoder: func(w io.Writer, level int) (Encoder, error) {
			lvl, err := normalizeDeflateLevel(level)
			if err != nil {
				return nil, err
			}
			cw := &countingWriter{w: w}
			fw, err := flate.NewWriter(cw, lvl)
			if err != nil {
				return nil, err
			}
			return &deflateEncoder{fw: fw, countingWriter: cw}, nil
		},
	}
}

func normalizeDeflateLevel(level int) (int, error) {
	switch level {
	case LevelDefault:
		return flate.DefaultCompression, nil
	case LevelBestSpeed:
		return flate.BestSpeed, nil
	case LevelBestCompression:
		return flate.BestCompression, nil
	default:
		if level >= flate.BestSpeed && level <= flate.BestCompression {
			return level, nil
		}
		return 0, fmt.Errorf("%w: deflate level %d out of range", ErrInvalidArgument, level)
	}
}

var deflateReaderPool sync.Pool

type pooledDeflateReader struct {
	mu sync.Mutex
	fr io.ReadCloser
}

func newPooledDeflateReader(r io.Reader) *pooledDeflateReader {
	if fr, ok := deflateReaderPool.Get().(io.ReadCloser); ok {
		fr.(flate.Resetter).Reset(r, nil)
		return &pooledDeflateReader{fr: fr}
	}
	return &pooledDeflateReader{fr: flate.NewReader(r)}
}

func (p *pooledDeflateReader) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fr == nil {
		return 0, fmt.Errorf("zipcore: read after close")
	}
	return p.fr.Read(b)
}

func (p *pooledDeflateReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fr == nil {
		return nil
	}
	err := p.fr.Close()
	deflateReaderPool.Put(p.fr)
	p.fr = nil
	return err
}

type deflateEncoder struct {
	fw                *flate.Writer
	uncompressedCount int64
	countingWriter    *countingWriter
}

func (e *deflateEncoder) Write(p []byte) (int, error) {
	n, err := e.fw.Write(p)
	e.uncompressedCount += int64(n)
	return n, err
}

func (e *deflateEncoder) Finish() (uncompressedCount, compressedCount int64, err error) {
	if err := e.fw.Close(); err != nil {
		return 0, 0, err
	}
	return e.uncompressedCount, e.countingWriter.n, nil
}

// countingWriter counts the compressed bytes an encoder writes, for
// codecs (deflate, bzip2) whose writers don't report that count.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
