package zipcore

import (
	"io"

	"github.com/martin-sucha/zipcore/internal/implode"
)

// implodeCodec implements Imploding (method 6), decode-only per spec
// §4.6. General-purpose bit 1 selects the 8KiB dictionary over the
// 4KiB default and bit 2 selects whether a literal tree is present;
// both are entry-specific, so the decoder is built per call from the
// flags the caller passes through.
func implodeCodec() *Codec {
	return &Codec{
		Method:    Imploding,
		Name:      "imploding",
		CanDecode: true,
		CanEncode: false,
		NewDecoder: func(r io.Reader, flags GPBFlag) (Decoder, error) {
			cfg := implode.Config{
				LargeWindow: flags.Has(GPBCompressionInfo1),
				ThreeTrees:  flags.Has(GPBCompressionInfo2),
			}
			return implode.NewReader(r, cfg)
		},
	}
}
