// Package shrink implements a decode-only reader for PKWARE's
// "Unshrinking" method (ZIP method 1): a variant of LZW with
// variable-width codes (9 to 13 bits, LSB-first within each byte, the
// same convention DEFLATE-family codecs use) and "partial clearing" —
// code 256 followed by a control byte either resets the whole table
// (control byte 1, the standard LZW clear code) or prunes unused
// leaf codes to reclaim table space without growing the code width
// back down (control byte 2).
//
// No library in the retrieval pack or wider ecosystem implements this
// obsolete method either, so like Imploding and Deflate64 this is a
// from-scratch implementation, sharing the LSB-first bit reader used
// by those two codecs.
package shrink

import (
	"errors"
	"fmt"
	"io"

	"github.com/martin-sucha/zipcore/internal/zipbits"
)

const (
	minCodeWidth = 9
	maxCodeWidth = 13
	maxCodes     = 1 << maxCodeWidth
	clearCode    = 256
	firstFree    = 257
)

// entry is one slot of the LZW dictionary: prefix is the code it
// extends (or noPrefix for a root byte), suffix is the appended byte.
type entry struct {
	prefix int32
	suffix byte
	inUse  bool // cleared by a partial-clear control byte until reused
}

const noPrefix = -1

// Reader decodes a raw Unshrinking stream.
type Reader struct {
	br        *zipbits.Reader
	width     uint
	table     [maxCodes]entry
	nextCode  int
	prevCode  int32
	pending   []byte
	stackBuf  []byte // scratch space for walking a code's prefix chain
	err       error
	started   bool
}

// NewReader returns a Reader decoding r as a raw Unshrunk stream.
func NewReader(r io.Reader) *Reader {
	z := &Reader{br: zipbits.New(r)}
	z.reset()
	return z
}

func (z *Reader) reset() {
	z.width = minCodeWidth
	z.nextCode = firstFree
	z.prevCode = -1
	for i := 0; i < 256; i++ {
		z.table[i] = entry{prefix: noPrefix, suffix: byte(i), inUse: true}
	}
	for i := 256; i < maxCodes; i++ {
		z.table[i] = entry{}
	}
}

func (z *Reader) Close() error { return nil }

func (z *Reader) Read(p []byte) (int, error) {
	for len(z.pending) == 0 {
		if z.err != nil {
			return 0, z.err
		}
		if err := z.step(); err != nil {
			z.err = err
			return 0, err
		}
	}
	n := copy(p, z.pending)
	z.pending = z.pending[n:]
	return n, nil
}

func (z *Reader) step() error {
	code, err := z.br.Bits(z.width)
	if err != nil {
		return err
	}

	if int(code) == clearCode {
		ctrl, err := z.br.Bits(8)
		if err != nil {
			return err
		}
		switch ctrl {
		case 1:
			z.fullClear()
		case 2:
			z.partialClear()
		default:
			return fmt.Errorf("shrink: unknown control byte %d after clear code", ctrl)
		}
		return nil
	}

	c := int32(code)
	if int(c) >= z.nextCode && !(int(c) < 256) {
		// KwKwK special case: code refers to the entry about to be
		// created, whose first byte equals the first byte of the
		// previous code's expansion.
		if z.prevCode < 0 || int(c) != z.nextCode {
			return fmt.Errorf("shrink: invalid code %d", c)
		}
		bytes, err := z.expand(z.prevCode)
		if err != nil {
			return err
		}
		z.emitSequence(append(append([]byte{}, bytes...), bytes[0]))
		z.addEntry(z.prevCode, bytes[0])
		z.prevCode = c
		return nil
	}

	if !z.table[c].inUse && int(c) >= 256 {
		return fmt.Errorf("shrink: reference to unused code %d", c)
	}

	bytes, err := z.expand(c)
	if err != nil {
		return err
	}
	z.emitSequence(bytes)

	if z.prevCode >= 0 {
		z.addEntry(z.prevCode, bytes[0])
	}
	z.prevCode = c
	return nil
}

// addEntry allocates the next free table slot as prefix+suffix, and
// grows the code width once the table fills at the current width.
func (z *Reader) addEntry(prefix int32, suffix byte) {
	for z.nextCode < maxCodes && z.table[z.nextCode].inUse {
		z.nextCode++
	}
	if z.nextCode >= maxCodes {
		return
	}
	z.table[z.nextCode] = entry{prefix: prefix, suffix: suffix, inUse: true}
	z.nextCode++
	if z.nextCode >= 1<<z.width && z.width < maxCodeWidth {
		z.width++
	}
}

// expand walks a code's prefix chain back to a root byte and returns
// the decoded byte sequence in forward order.
func (z *Reader) expand(code int32) ([]byte, error) {
	var out []byte
	seen := 0
	for code != noPrefix {
		if code < 0 || int(code) >= maxCodes || !z.table[code].inUse {
			return nil, errors.New("shrink: corrupt code chain")
		}
		out = append(out, z.table[code].suffix)
		code = z.table[code].prefix
		seen++
		if seen > maxCodes {
			return nil, errors.New("shrink: cyclic code chain")
		}
	}
	// out was built backwards (suffix-to-root); reverse it.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (z *Reader) emitSequence(b []byte) {
	z.pending = append(z.pending, b...)
}

// fullClear implements control byte 1: reinitialize the table to just
// the 256 root byte codes and reset the code width, the classic LZW
// clear-code behavior.
func (z *Reader) fullClear() {
	z.reset()
}

// partialClear implements control byte 2, PKWARE's "partial clear"
// extension: codes that are not a prefix of any other live code are
// freed, but the code width never shrinks back down, and root byte
// codes are never freed.
func (z *Reader) partialClear() {
	isPrefix := make([]bool, maxCodes)
	for i := firstFree; i < maxCodes; i++ {
		if z.table[i].inUse && z.table[i].prefix != noPrefix {
			isPrefix[z.table[i].prefix] = true
		}
	}
	for i := firstFree; i < maxCodes; i++ {
		if z.table[i].inUse && !isPrefix[i] {
			z.table[i] = entry{}
		}
	}
	z.nextCode = firstFree
	for z.nextCode < maxCodes && z.table[z.nextCode].inUse {
		z.nextCode++
	}
	z.prevCode = -1
}
