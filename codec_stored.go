package zipcore

import "io"

// storedCodec implements Store (method 0): identity, per spec §4.6.
func storedCodec() *Codec {
	return &Codec{
		Method:    Store,
		Name:      "stored",
		CanDecode: true,
		CanEncode: true,
		NewDecoder: func(r io.Reader, _ GPBFlag) (Decoder, error) {
			return io.NopCloser(r), nil
		},
		NewEncoder: func(w io.Writer, _ int) (Encoder, error) {
			return &storedEncoder{w: w}, nil
		},
	}
}

type storedEncoder struct {
	w io.Writer
	n int64
}

func (e *storedEncoder) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	e.n += int64(n)
	return n, err
}

func (e *storedEncoder) Finish() (uncompressedCount, compressedCount int64, err error) {
	return e.n, e.n, nil
}
