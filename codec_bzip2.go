package zipcore

import (
	"io"

	"github.com/dsnet/compress/bzip2"
)

// bzip2Codec implements Bzip2 (method 12) with full encode/decode, per
// spec §4.6. The standard library's compress/bzip2 package is
// decode-only, so this is an out-of-pack ecosystem pick (no repo in
// the retrieval pack touches bzip2 at all) rather than one grounded on
// the teacher.
func bzip2Codec() *Codec {
	return &Codec{
		Method:    Bzip2Method,
		Name:      "bzip2",
		CanDecode: true,
		CanEncode: true,
		NewDecoder: func(r io.Reader, _ GPBFlag) (Decoder, error) {
			br, err := bzip2.NewReader(r, nil)
			if err != nil {
				return nil, err
			}
			return br, nil
		},
		NewEncoder: func(w io.Writer, level int) (Encoder, error) {
			lvl := normalizeBzip2Level(level)
			cw := &countingWriter{w: w}
			bw, err := bzip2.NewWriter(cw, &bzip2.WriterConfig{Level: lvl})
			if err != nil {
				return nil, err
			}
			return &bzip2Encoder{bw: bw, cw: cw}, nil
		},
	}
}

func normalizeBzip2Level(level int) int {
	switch level {
	case LevelDefault:
		return bzip2.DefaultCompression
	case LevelBestSpeed:
		return bzip2.BestSpeed
	case LevelBestCompression:
		return bzip2.BestCompression
	default:
		if level >= bzip2.BestSpeed && level <= bzip2.BestCompression {
			return level
		}
		return bzip2.DefaultCompression
	}
}

type bzip2Encoder struct {
	bw *bzip2.Writer
	cw *countingWriter
	n  int64
}

func (e *bzip2Encoder) Write(p []byte) (int, error) {
	n, err := e.bw.Write(p)
	e.n += int64(n)
	return n, err
}

func (e *bzip2Encoder) Finish() (uncompressedCount, compressedCount int64, err error) {
	if err := e.bw.Close(); err != nil {
		return 0, 0, err
	}
	return e.n, e.cw.n, nil
}
