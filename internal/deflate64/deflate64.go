// Package deflate64 implements a decode-only reader for PKWARE's
// Enhanced Deflating ("Deflate64", ZIP method 9): standard DEFLATE
// extended to a 64KiB sliding window, a 16-bit-extra length code 285
// (base length 3, so the longest single match is 65538 bytes instead
// of DEFLATE's 258), and two additional distance codes (30, 31, 14
// extra bits each) reaching the full 64KiB window.
//
// No Go library in the retrieval pack or the wider ecosystem
// implements Deflate64 (it's a decode-only curiosity even PKWARE's own
// unzip barely exercises), so this is a from-scratch implementation
// following the same block structure as RFC 1951, amended per
// APPNOTE's description of the method's deltas from plain DEFLATE.
package deflate64

import (
	"errors"
	"fmt"
	"io"

	"github.com/martin-sucha/zipcore/internal/huffman"
	"github.com/martin-sucha/zipcore/internal/zipbits"
)

const windowSize = 1 << 16 // 64 KiB, vs DEFLATE's 32 KiB

// lengthBase/lengthExtra are DEFLATE's tables for codes 257-284
// plus Deflate64's redefinition of code 285.
var lengthBase = [29]int{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31, 35, 43, 51, 59,
	67, 83, 99, 115, 131, 163, 195, 227, 3,
}
var lengthExtra = [29]uint{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 16,
}

// distBase/distExtra are DEFLATE's 30-entry table extended with two
// Deflate64-only entries (30, 31) reaching the 64KiB window.
var distBase = [32]int{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193, 257, 385, 513,
	769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577, 32769, 49153,
}
var distExtra = [32]uint{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6, 7, 7, 8, 8, 9, 9, 10, 10,
	11, 11, 12, 12, 13, 13, 14, 14,
}

var codeLengthOrder = [19]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// Reader decodes a raw Deflate64 stream.
type Reader struct {
	br     *zipbits.Reader
	window [windowSize]byte
	wpos   int
	wfull  bool

	pending []byte // decoded bytes not yet returned to the caller
	final   bool
	err     error
}

// NewReader returns a Reader decoding r as a raw (no zlib wrapper)
// Deflate64 stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: zipbits.New(r)}
}

func (z *Reader) Read(p []byte) (int, error) {
	for len(z.pending) == 0 {
		if z.err != nil {
			return 0, z.err
		}
		if z.final {
			return 0, io.EOF
		}
		if err := z.decodeBlock(); err != nil {
			z.err = err
			return 0, err
		}
	}
	n := copy(p, z.pending)
	z.pending = z.pending[n:]
	return n, nil
}

func (z *Reader) Close() error { return nil }

func (z *Reader) emit(b byte) {
	z.window[z.wpos] = b
	z.wpos++
	if z.wpos == windowSize {
		z.wpos = 0
		z.wfull = true
	}
	z.pending = append(z.pending, b)
}

func (z *Reader) copyMatch(length, dist int) error {
	if dist <= 0 || dist > windowSize {
		return fmt.Errorf("deflate64: invalid distance %d", dist)
	}
	avail := z.wpos
	if z.wfull {
		avail = windowSize
	}
	if dist > avail {
		return errors.New("deflate64: distance too far back")
	}
	srcPos := z.wpos - dist
	if srcPos < 0 {
		srcPos += windowSize
	}
	for i := 0; i < length; i++ {
		b := z.window[srcPos]
		srcPos++
		if srcPos == windowSize {
			srcPos = 0
		}
		z.emit(b)
	}
	return nil
}

func (z *Reader) decodeBlock() error {
	final, err := z.br.Bit()
	if err != nil {
		return err
	}
	btype, err := z.br.Bits(2)
	if err != nil {
		return err
	}
	if final == 1 {
		z.final = true
	}
	switch btype {
	case 0:
		return z.decodeStored()
	case 1:
		lit, dist := fixedTables()
		return z.decodeCompressed(lit, dist)
	case 2:
		lit, dist, err := z.readDynamicTables()
		if err != nil {
			return err
		}
		return z.decodeCompressed(lit, dist)
	default:
		return errors.New("deflate64: reserved block type")
	}
}

func (z *Reader) decodeStored() error {
	z.br.AlignByte()
	var hdr [4]byte
	if err := z.br.ReadBytes(hdr[:]); err != nil {
		return err
	}
	length := int(hdr[0]) | int(hdr[1])<<8
	buf := make([]byte, length)
	if err := z.br.ReadBytes(buf); err != nil {
		return err
	}
	for _, b := range buf {
		z.emit(b)
	}
	return nil
}

func (z *Reader) decodeCompressed(lit, dist *huffman.Decoder) error {
	for {
		sym, err := lit.Decode(z.br)
		if err != nil {
			return err
		}
		switch {
		case sym < 256:
			z.emit(byte(sym))
		case sym == 256:
			return nil
		default:
			li := sym - 257
			if li >= len(lengthBase) {
				return fmt.Errorf("deflate64: bad length symbol %d", sym)
			}
			length := lengthBase[li]
			if lengthExtra[li] > 0 {
				extra, err := z.br.Bits(lengthExtra[li])
				if err != nil {
					return err
				}
				length += int(extra)
			}
			dsym, err := dist.Decode(z.br)
			if err != nil {
				return err
			}
			if dsym >= len(distBase) {
				return fmt.Errorf("deflate64: bad distance symbol %d", dsym)
			}
			distance := distBase[dsym]
			if distExtra[dsym] > 0 {
				extra, err := z.br.Bits(distExtra[dsym])
				if err != nil {
					return err
				}
				distance += int(extra)
			}
			if err := z.copyMatch(length, distance); err != nil {
				return err
			}
		}
	}
}

var fixedLit, fixedDist *huffman.Decoder

func fixedTables() (*huffman.Decoder, *huffman.Decoder) {
	if fixedLit != nil {
		return fixedLit, fixedDist
	}
	litLens := make([]int, 288)
	for i := 0; i < 144; i++ {
		litLens[i] = 8
	}
	for i := 144; i < 256; i++ {
		litLens[i] = 9
	}
	for i := 256; i < 280; i++ {
		litLens[i] = 7
	}
	for i := 280; i < 288; i++ {
		litLens[i] = 8
	}
	distLens := make([]int, 32)
	for i := range distLens {
		distLens[i] = 5
	}
	fixedLit, _ = huffman.New(litLens)
	fixedDist, _ = huffman.New(distLens)
	return fixedLit, fixedDist
}

func (z *Reader) readDynamicTables() (*huffman.Decoder, *huffman.Decoder, error) {
	hlit, err := z.br.Bits(5)
	if err != nil {
		return nil, nil, err
	}
	hdist, err := z.br.Bits(5)
	if err != nil {
		return nil, nil, err
	}
	hclen, err := z.br.Bits(4)
	if err != nil {
		return nil, nil, err
	}
	numLit := int(hlit) + 257
	numDist := int(hdist) + 1
	numCL := int(hclen) + 4

	clLens := make([]int, 19)
	for i := 0; i < numCL; i++ {
		v, err := z.br.Bits(3)
		if err != nil {
			return nil, nil, err
		}
		clLens[codeLengthOrder[i]] = int(v)
	}
	clDecoder, err := huffman.New(clLens)
	if err != nil {
		return nil, nil, err
	}

	allLens := make([]int, 0, numLit+numDist)
	for len(allLens) < numLit+numDist {
		sym, err := clDecoder.Decode(z.br)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case sym < 16:
			allLens = append(allLens, sym)
		case sym == 16:
			if len(allLens) == 0 {
				return nil, nil, errors.New("deflate64: repeat with no previous length")
			}
			n, err := z.br.Bits(2)
			if err != nil {
				return nil, nil, err
			}
			prev := allLens[len(allLens)-1]
			for i := 0; i < int(n)+3; i++ {
				allLens = append(allLens, prev)
			}
		case sym == 17:
			n, err := z.br.Bits(3)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < int(n)+3; i++ {
				allLens = append(allLens, 0)
			}
		case sym == 18:
			n, err := z.br.Bits(7)
			if err != nil {
				return nil, nil, err
			}
			for i := 0; i < int(n)+11; i++ {
				allLens = append(allLens, 0)
			}
		}
	}
	litLens := allLens[:numLit]
	distLens := allLens[numLit : numLit+numDist]
	lit, err := huffman.New(litLens)
	if err != nil {
		return nil, nil, err
	}
	dist, err := huffman.New(distLens)
	if err != nil {
		return nil, nil, err
	}
	return lit, dist, nil
}
