// Package implode implements a decode-only reader for PKWARE's
// "Imploding" method (ZIP method 6): a sliding-dictionary LZ77 variant
// using up to three canonical Shannon-Fano trees (literal, length,
// distance) instead of DEFLATE's adaptive Huffman trees.
//
// No library in the retrieval pack or wider ecosystem implements this
// long-obsolete method, so this is a from-scratch implementation
// following PKWARE APPNOTE's description: a 4KiB or 8KiB sliding
// window (general-purpose-bit-flag bit 1), and either two trees
// (length + distance; literal bytes are stored raw, uncoded) or three
// trees (literal tree added) selected by general-purpose-bit-flag bit
// 2.
package implode

import (
	"errors"
	"fmt"
	"io"

	"github.com/martin-sucha/zipcore/internal/huffman"
	"github.com/martin-sucha/zipcore/internal/zipbits"
)

// Config carries the two GPB bits Imploding needs to decode a stream;
// the codec layer (codec_implode.go) derives these from the entry's
// GPB flags and dictionary-size convention, per spec §4.6.
type Config struct {
	LargeWindow bool // GPB bit 1: true = 8KiB dictionary, false = 4KiB
	ThreeTrees  bool // GPB bit 2: true = literal tree present
}

const minMatchLength = 3

// NewReader returns a Reader decoding r as an Imploded stream encoded
// with the given Config.
func NewReader(r io.Reader, cfg Config) (io.ReadCloser, error) {
	z := &reader{br: zipbits.New(r), cfg: cfg}
	windowSize := 4096
	if cfg.LargeWindow {
		windowSize = 8192
	}
	z.window = make([]byte, windowSize)

	if cfg.ThreeTrees {
		lit, err := readShannonFanoTree(z.br, 256)
		if err != nil {
			return nil, fmt.Errorf("implode: literal tree: %w", err)
		}
		z.lit = lit
	}
	lenTree, err := readShannonFanoTree(z.br, 64)
	if err != nil {
		return nil, fmt.Errorf("implode: length tree: %w", err)
	}
	z.length = lenTree
	distTree, err := readShannonFanoTree(z.br, 64)
	if err != nil {
		return nil, fmt.Errorf("implode: distance tree: %w", err)
	}
	z.dist = distTree
	return z, nil
}

type reader struct {
	br     *zipbits.Reader
	cfg    Config
	lit    *huffman.Decoder // nil when cfg.ThreeTrees is false
	length *huffman.Decoder
	dist   *huffman.Decoder

	window []byte
	wpos   int
	wfull  bool

	pending []byte
	err     error
}

// readShannonFanoTree reads PKWARE's run-length-encoded code-length
// description for a tree covering up to numSymbols symbols: a leading
// byte gives (byte count - 1), then each following byte packs
// (bit-length - 1) in its high nibble and (run length - 1) in its low
// nibble, describing that many consecutive symbols at that length.
func readShannonFanoTree(br *zipbits.Reader, numSymbols int) (*huffman.Decoder, error) {
	var nbytes [1]byte
	if err := br.ReadBytes(nbytes[:]); err != nil {
		return nil, err
	}
	count := int(nbytes[0]) + 1
	lengths := make([]int, 0, numSymbols)
	for i := 0; i < count; i++ {
		var b [1]byte
		if err := br.ReadBytes(b[:]); err != nil {
			return nil, err
		}
		bitLen := int(b[0]>>4) + 1
		run := int(b[0]&0xf) + 1
		for j := 0; j < run; j++ {
			lengths = append(lengths, bitLen)
		}
	}
	for len(lengths) < numSymbols {
		lengths = append(lengths, 0)
	}
	return huffman.New(lengths)
}

func (z *reader) Read(p []byte) (int, error) {
	for len(z.pending) == 0 {
		if z.err != nil {
			return 0, z.err
		}
		if err := z.decodeToken(); err != nil {
			z.err = err
			if errors.Is(err, io.EOF) {
				return 0, io.EOF
			}
			return 0, err
		}
	}
	n := copy(p, z.pending)
	z.pending = z.pending[n:]
	return n, nil
}

func (z *reader) Close() error { return nil }

func (z *reader) emit(b byte) {
	z.window[z.wpos] = b
	z.wpos++
	if z.wpos == len(z.window) {
		z.wpos = 0
		z.wfull = true
	}
	z.pending = append(z.pending, b)
}

func (z *reader) decodeToken() error {
	isLiteral, err := z.br.Bit()
	if err != nil {
		return err
	}
	if isLiteral == 1 {
		var b byte
		if z.lit != nil {
			sym, err := z.lit.Decode(z.br)
			if err != nil {
				return err
			}
			b = byte(sym)
		} else {
			raw, err := z.br.Bits(8)
			if err != nil {
				return err
			}
			b = byte(raw)
		}
		z.emit(b)
		return nil
	}

	lenSym, err := z.length.Decode(z.br)
	if err != nil {
		return err
	}
	length := lenSym + minMatchLength

	distLow, err := z.dist.Decode(z.br)
	if err != nil {
		return err
	}
	extraBits := uint(6)
	if !z.cfg.LargeWindow {
		extraBits = 5
	}
	extra, err := z.br.Bits(extraBits)
	if err != nil {
		return err
	}
	distance := (distLow<<extraBits | int(extra)) + 1

	return z.copyMatch(length, distance)
}

func (z *reader) copyMatch(length, dist int) error {
	avail := z.wpos
	if z.wfull {
		avail = len(z.window)
	}
	if dist <= 0 || dist > avail {
		return fmt.Errorf("implode: distance %d exceeds %d bytes of history", dist, avail)
	}
	srcPos := z.wpos - dist
	if srcPos < 0 {
		srcPos += len(z.window)
	}
	for i := 0; i < length; i++ {
		b := z.window[srcPos]
		srcPos++
		if srcPos == len(z.window) {
			srcPos = 0
		}
		z.emit(b)
	}
	return nil
}
