package zipcore

import "fmt"

// Timestamp flag bits for X5455 (spec §3, §4.2).
const (
	tsFlagModify GPBFlag = 1 << 0
	tsFlagAccess GPBFlag = 1 << 1
	tsFlagCreate GPBFlag = 1 << 2
)

// ExtTimestampExtraField is the Info-ZIP Extended Timestamp extra
// field (0x5455): a flag byte plus up to three signed 32-bit Unix
// second counts. The central-directory copy always carries at most
// the modify time (spec §4.2: "Central-directory parse honors only
// bit 0 regardless of which bits the local header advertised").
type ExtTimestampExtraField struct {
	Flags  GPBFlag
	Modify int64 // valid iff Flags&tsFlagModify != 0
	Access int64 // valid iff Flags&tsFlagAccess != 0
	Create int64 // valid iff Flags&tsFlagCreate != 0

	// localContext records whether this instance was parsed for the
	// local header (true) or a central directory (false).
	// SerializeLocal and SerializeCD choose their subset from Flags
	// alone and do not consult it.
	localContext bool
}

func (x *ExtTimestampExtraField) HeaderID() uint16 { return idExtTimestamp }

func (x *ExtTimestampExtraField) SerializeLocal() []byte {
	return x.serialize(x.Flags)
}

// SerializeCD retains only the modify time bit, per spec §4.2.
func (x *ExtTimestampExtraField) SerializeCD() []byte {
	f := x.Flags & tsFlagModify
	return x.serialize(f)
}

func (x *ExtTimestampExtraField) serialize(flags GPBFlag) []byte {
	out := []byte{byte(flags)}
	if flags&tsFlagModify != 0 {
		out = append(out, int32le(x.Modify)...)
	}
	if flags&tsFlagAccess != 0 {
		out = append(out, int32le(x.Access)...)
	}
	if flags&tsFlagCreate != 0 {
		out = append(out, int32le(x.Create)...)
	}
	return out
}

func int32le(v int64) []byte {
	b := make([]byte, 4)
	putUint32(b, uint32(int32(v)))
	return b
}

// parseExtTimestamp parses an X5455 payload. When the declared length
// truncates before all flagged times are present, the flag byte is
// reset to match what actually fit (spec §4.2: "reset the flag byte so
// downstream size queries match the payload that actually fits").
// Central-directory payloads only ever carry the modify time bit
// regardless of what the local copy advertised, matching writers that
// follow spec §4.2.
func parseExtTimestamp(payload []byte, context ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: X5455 payload empty", ErrInvalidExtraField)
	}
	x := &ExtTimestampExtraField{localContext: context == ContextLocal}
	declared := GPBFlag(payload[0])
	b := readBuf(payload[1:])

	var actual GPBFlag
	if declared&tsFlagModify != 0 && len(b) >= 4 {
		x.Modify = int64(int32(b.uint32()))
		actual |= tsFlagModify
	}
	if context == ContextLocal {
		if declared&tsFlagAccess != 0 && len(b) >= 4 {
			x.Access = int64(int32(b.uint32()))
			actual |= tsFlagAccess
		}
		if declared&tsFlagCreate != 0 && len(b) >= 4 {
			x.Create = int64(int32(b.uint32()))
			actual |= tsFlagCreate
		}
	}
	x.Flags = actual
	return x, nil
}
