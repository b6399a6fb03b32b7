package zipcore

import (
	"io"

	"github.com/martin-sucha/zipcore/internal/deflate64"
)

// deflate64Codec implements Deflate64 (method 9), decode-only per spec
// §4.6. No pack repo or ecosystem library implements this method, so
// internal/deflate64 is hand-written, following the same block
// structure github.com/klauspost/compress/flate uses for plain
// DEFLATE.
func deflate64Codec() *Codec {
	return &Codec{
		Method:    Deflate64,
		Name:      "deflate64",
		CanDecode: true,
		CanEncode: false,
		NewDecoder: func(r io.Reader, _ GPBFlag) (Decoder, error) {
			return deflate64.NewReader(r), nil
		},
	}
}
