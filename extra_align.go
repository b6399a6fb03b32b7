package zipcore

import "fmt"

// AlignmentExtraField (0xa11e) is a writer hint/marker: it records
// the alignment power-of-two an entry's data offset was padded to,
// an "allow method change" bit, and the literal padding bytes, per
// spec §4.5.
type AlignmentExtraField struct {
	Alignment         uint16 // power of two, <= 0x10000
	AllowMethodChange bool
	Padding           []byte
}

func (a *AlignmentExtraField) HeaderID() uint16 { return idAlignment }

func (a *AlignmentExtraField) serialize() []byte {
	flags := a.Alignment
	if a.AllowMethodChange {
		flags |= 0x8000
	}
	out := make([]byte, 2+len(a.Padding))
	putUint16(out, flags)
	copy(out[2:], a.Padding)
	return out
}

func (a *AlignmentExtraField) SerializeLocal() []byte { return a.serialize() }
func (a *AlignmentExtraField) SerializeCD() []byte     { return a.serialize() }

func parseAlignmentExtra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 2 {
		return nil, fmt.Errorf("%w: alignment extra field payload too short", ErrInvalidExtraField)
	}
	b := readBuf(payload)
	flags := b.uint16()
	return &AlignmentExtraField{
		Alignment:         flags &^ 0x8000,
		AllowMethodChange: flags&0x8000 != 0,
		Padding:           append([]byte{}, b...),
	}, nil
}

// isPowerOfTwo reports whether v is a power of two (used to validate
// Entry.AlignmentPadding requests, spec §4.5).
func isPowerOfTwo(v uint16) bool {
	return v != 0 && v&(v-1) == 0
}
