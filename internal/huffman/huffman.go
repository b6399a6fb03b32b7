// Package huffman builds canonical prefix-code decode tables shared
// by the Deflate64 and Imploding decoders: Deflate64's literal/length
// and distance trees, and Imploding's Shannon-Fano trees, are both
// canonical codes once their per-symbol bit lengths are known, so one
// decoder implementation serves both.
package huffman

import (
	"fmt"
	"math/bits"
)

// BitSource is the single-bit input a Decoder consumes, satisfied by
// *zipbits.Reader.
type BitSource interface {
	Bit() (uint32, error)
}

// Decoder maps canonical codes to symbols via a simple bit-by-bit
// walk. It favors clarity over lookup-table speed since these legacy
// codecs are not performance-critical paths.
type Decoder struct {
	// firstCode[l] is the first canonical code of length l.
	firstCode []int
	// firstSymbol[l] is the index into symbols of the first symbol
	// with length l.
	firstSymbol []int
	// symbols lists symbol values ordered by (length, original index).
	symbols []int
	maxLen  int
}

// New builds a canonical Huffman/Shannon-Fano decode table from a
// per-symbol bit-length array (0 means "symbol unused").
func New(lengths []int) (*Decoder, error) {
	maxLen := 0
	for _, l := range lengths {
		if l > maxLen {
			maxLen = l
		}
	}
	if maxLen == 0 {
		return &Decoder{}, nil
	}
	if maxLen > 24 {
		return nil, fmt.Errorf("huffman: code length %d too long", maxLen)
	}

	counts := make([]int, maxLen+1)
	for _, l := range lengths {
		if l > 0 {
			counts[l]++
		}
	}

	d := &Decoder{
		firstCode:   make([]int, maxLen+2),
		firstSymbol: make([]int, maxLen+2),
		maxLen:      maxLen,
	}

	code := 0
	symIdx := 0
	for l := 1; l <= maxLen; l++ {
		d.firstCode[l] = code
		d.firstSymbol[l] = symIdx
		code = (code + counts[l]) << 1
		symIdx += counts[l]
	}

	d.symbols = make([]int, symIdx)
	next := make([]int, maxLen+1)
	copy(next, d.firstSymbol[:maxLen+1])
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		d.symbols[next[l]] = sym
		next[l]++
	}
	return d, nil
}

// Decode reads bits from src one at a time (MSB-first within the
// code, matching DEFLATE's canonical-code convention) until a valid
// symbol is found.
func (d *Decoder) Decode(src BitSource) (int, error) {
	code := 0
	for l := 1; l <= d.maxLen; l++ {
		bit, err := src.Bit()
		if err != nil {
			return 0, err
		}
		code = code<<1 | int(bit)
		count := 0
		if l+1 <= d.maxLen {
			count = d.firstSymbol[l+1] - d.firstSymbol[l]
		} else {
			count = len(d.symbols) - d.firstSymbol[l]
		}
		if count > 0 && code-d.firstCode[l] < count && code >= d.firstCode[l] {
			return d.symbols[d.firstSymbol[l]+code-d.firstCode[l]], nil
		}
	}
	return 0, fmt.Errorf("huffman: invalid code")
}

// ReverseBits is a small helper legacy formats (Imploding's stored
// Shannon-Fano code description) sometimes need when a spec describes
// codes LSB-first instead of DEFLATE's MSB-first convention.
func ReverseBits(v uint32, n uint) uint32 {
	return bits.Reverse32(v) >> (32 - n)
}
