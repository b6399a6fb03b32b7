package zipcore

import (
	"io"

	"github.com/martin-sucha/zipcore/internal/shrink"
)

// shrinkCodec implements Unshrinking (method 1), decode-only per spec
// §4.6, the oldest of the three legacy methods; like Deflate64, it has
// no general-purpose flag dependency.
func shrinkCodec() *Codec {
	return &Codec{
		Method:    Shrink,
		Name:      "shrink",
		CanDecode: true,
		CanEncode: false,
		NewDecoder: func(r io.Reader, _ GPBFlag) (Decoder, error) {
			return shrink.NewReader(r), nil
		},
	}
}
