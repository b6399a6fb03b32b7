package zipcore

import (
	"fmt"
	"io"
	"sync"
)

// Decoder streams the uncompressed bytes of one entry. Implementations
// must tolerate being read past their declared length being unknown
// ahead of time (the streaming reader relies on decoder EOF to find
// the end of compressed data when a data descriptor is used).
type Decoder interface {
	io.ReadCloser
}

// Encoder streams the compressed bytes of one entry to an underlying
// sink. Finish flushes any buffered output and reports the total
// uncompressed and compressed byte counts seen, per spec §4.6.
type Encoder interface {
	io.Writer
	Finish() (uncompressedCount, compressedCount int64, err error)
}

// NewDecoderFunc constructs a Decoder reading compressed bytes from r.
// flags is the entry's general-purpose bit flags; Imploding uses bits
// 1-2 to select dictionary size and tree count, per spec §4.6. Codecs
// that don't need them ignore the parameter.
type NewDecoderFunc func(r io.Reader, flags GPBFlag) (Decoder, error)

// NewEncoderFunc constructs an Encoder writing compressed bytes to w
// at the given level (meaning is codec-specific; Stored ignores it).
type NewEncoderFunc func(w io.Writer, level int) (Encoder, error)

// Compression levels accepted by DEFLATED's NewEncoderFunc (spec
// §4.6). Codecs without a notion of level ignore this.
const (
	LevelDefault         = -1
	LevelBestSpeed       = 1
	LevelBestCompression = 9
)

// Codec binds a compression method code to its encoder/decoder
// constructors. A codec with CanEncode false (Deflate64, Imploding,
// Unshrinking) still has entries' contents readable, never writable.
type Codec struct {
	Method     uint16
	Name       string
	CanDecode  bool
	CanEncode  bool
	NewDecoder NewDecoderFunc
	NewEncoder NewEncoderFunc
}

// CodecTable is a capability-keyed lookup from method code to Codec,
// per spec §4.6.
type CodecTable struct {
	mu     sync.RWMutex
	codecs map[uint16]*Codec
}

// NewCodecTable returns an empty table.
func NewCodecTable() *CodecTable {
	return &CodecTable{codecs: make(map[uint16]*Codec)}
}

// Register installs (or replaces) a codec.
func (t *CodecTable) Register(c *Codec) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.codecs == nil {
		t.codecs = make(map[uint16]*Codec)
	}
	t.codecs[c.Method] = c
}

// Lookup returns the codec registered for method, if any.
func (t *CodecTable) Lookup(method uint16) (*Codec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.codecs[method]
	return c, ok
}

// CanReadMethod reports whether method has a registered decoder, per
// spec §4.4 "can_read_entry_data".
func (t *CodecTable) CanReadMethod(method uint16) bool {
	c, ok := t.Lookup(method)
	return ok && c.CanDecode
}

// CanWriteMethod reports whether method has a registered encoder.
func (t *CodecTable) CanWriteMethod(method uint16) bool {
	c, ok := t.Lookup(method)
	return ok && c.CanEncode
}

// NewDecoder builds a Decoder for method, or ErrUnsupportedMethod.
func (t *CodecTable) NewDecoder(method uint16, r io.Reader, flags GPBFlag) (Decoder, error) {
	c, ok := t.Lookup(method)
	if !ok || !c.CanDecode {
		return nil, fmt.Errorf("%w: method %d", ErrUnsupportedMethod, method)
	}
	return c.NewDecoder(r, flags)
}

// NewEncoder builds an Encoder for method, or ErrUnsupportedMethod.
func (t *CodecTable) NewEncoder(method uint16, w io.Writer, level int) (Encoder, error) {
	c, ok := t.Lookup(method)
	if !ok || !c.CanEncode {
		return nil, fmt.Errorf("%w: method %d", ErrUnsupportedMethod, method)
	}
	return c.NewEncoder(w, level)
}

// DefaultCodecs is the process-wide table used when a Reader/Writer
// isn't configured with its own, pre-populated with every method the
// spec names.
var DefaultCodecs = newDefaultCodecs()

func newDefaultCodecs() *CodecTable {
	t := NewCodecTable()
	t.Register(storedCodec())
	t.Register(deflateCodec())
	t.Register(deflate64Codec())
	t.Register(bzip2Codec())
	t.Register(implodeCodec())
	t.Register(shrinkCodec())
	return t
}
