package zipcore

import (
	"fmt"
	"hash/crc32"
)

// NewUnixExtraField is the "new" Info-ZIP Unix extra field (0x7875):
// a version byte followed by variable-length uid/gid.
type NewUnixExtraField struct {
	Version uint8
	UID     uint64
	GID     uint64
}

func (u *NewUnixExtraField) HeaderID() uint16 { return idUnixNew }

func (u *NewUnixExtraField) serialize() []byte {
	uidBytes := variableUint(u.UID)
	gidBytes := variableUint(u.GID)
	out := make([]byte, 0, 3+len(uidBytes)+len(gidBytes))
	out = append(out, 1, byte(len(uidBytes)))
	out = append(out, uidBytes...)
	out = append(out, byte(len(gidBytes)))
	out = append(out, gidBytes...)
	return out
}

func (u *NewUnixExtraField) SerializeLocal() []byte { return u.serialize() }
func (u *NewUnixExtraField) SerializeCD() []byte     { return u.serialize() }

func variableUint(v uint64) []byte {
	if v == 0 {
		return []byte{0}
	}
	var b []byte
	for v > 0 {
		b = append(b, byte(v))
		v >>= 8
	}
	return b
}

func readVariableUint(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func parseNewUnixExtra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("%w: X7875 payload empty", ErrInvalidExtraField)
	}
	u := &NewUnixExtraField{Version: payload[0]}
	b := readBuf(payload[1:])
	if len(b) < 1 {
		return u, nil
	}
	uidLen := int(b.uint8())
	if uidLen > len(b) {
		return nil, fmt.Errorf("%w: X7875 uid truncated", ErrInvalidExtraField)
	}
	u.UID = readVariableUint(b.sub(uidLen))
	if len(b) < 1 {
		return u, nil
	}
	gidLen := int(b.uint8())
	if gidLen > len(b) {
		return nil, fmt.Errorf("%w: X7875 gid truncated", ErrInvalidExtraField)
	}
	u.GID = readVariableUint(b.sub(gidLen))
	return u, nil
}

// OldUnixExtraField is the original PKWARE Unix extra field (0x0007):
// access/modify time plus 16-bit uid/gid, and for device files, a
// major/minor pair in place of the link-target length/data.
type OldUnixExtraField struct {
	AccessTime, ModifyTime int64
	UID, GID               uint16
	LinkTarget             []byte
}

func (u *OldUnixExtraField) HeaderID() uint16 { return idUnixOld }

func (u *OldUnixExtraField) serialize() []byte {
	out := make([]byte, 12)
	b := writeBuf(out)
	b.uint32(uint32(int32(u.AccessTime)))
	b.uint32(uint32(int32(u.ModifyTime)))
	b.uint16(u.UID)
	b.uint16(u.GID)
	return append(out, u.LinkTarget...)
}

func (u *OldUnixExtraField) SerializeLocal() []byte { return u.serialize() }
func (u *OldUnixExtraField) SerializeCD() []byte {
	// CD copy carries only the fixed 12-byte portion, no link target.
	out := make([]byte, 12)
	b := writeBuf(out)
	b.uint32(uint32(int32(u.AccessTime)))
	b.uint32(uint32(int32(u.ModifyTime)))
	b.uint16(u.UID)
	b.uint16(u.GID)
	return out
}

func parseOldUnixExtra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 12 {
		return nil, fmt.Errorf("%w: X0007 payload too short", ErrInvalidExtraField)
	}
	b := readBuf(payload)
	u := &OldUnixExtraField{
		AccessTime: int64(int32(b.uint32())),
		ModifyTime: int64(int32(b.uint32())),
		UID:        b.uint16(),
		GID:        b.uint16(),
	}
	if len(b) > 0 {
		u.LinkTarget = append([]byte{}, b...)
	}
	return u, nil
}

// InfoZipOldUnixExtraField is the Info-ZIP "UX" extra field (0x5855):
// access/modify time only, 32-bit uid/gid handled by X7875 instead.
type InfoZipOldUnixExtraField struct {
	AccessTime, ModifyTime int64
}

func (u *InfoZipOldUnixExtraField) HeaderID() uint16 { return idOldUnixInfoZip }

func (u *InfoZipOldUnixExtraField) serialize() []byte {
	out := make([]byte, 8)
	b := writeBuf(out)
	b.uint32(uint32(int32(u.AccessTime)))
	b.uint32(uint32(int32(u.ModifyTime)))
	return out
}

func (u *InfoZipOldUnixExtraField) SerializeLocal() []byte { return u.serialize() }
func (u *InfoZipOldUnixExtraField) SerializeCD() []byte     { return u.serialize() }

func parseInfoZipOldUnixExtra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: X5855 payload too short", ErrInvalidExtraField)
	}
	b := readBuf(payload)
	return &InfoZipOldUnixExtraField{
		AccessTime: int64(int32(b.uint32())),
		ModifyTime: int64(int32(b.uint32())),
	}, nil
}

// AsiExtraField is the Info-ZIP/ASi "Unix2" extra field: Unix mode,
// a CRC32 of the field itself, uid/gid, and (for symlinks) the link
// target.
type AsiExtraField struct {
	Mode          uint16
	UID, GID      uint32
	SymlinkTarget string
}

func (a *AsiExtraField) HeaderID() uint16 { return idAsi }

func (a *AsiExtraField) serialize() []byte {
	rest := make([]byte, 10+len(a.SymlinkTarget))
	b := writeBuf(rest)
	b.uint16(a.Mode)
	b.uint32(0) // size-dev, unused outside device nodes
	b.uint16(uint16(a.UID))
	b.uint16(uint16(a.GID))
	copy(rest[10:], a.SymlinkTarget)
	crc := crc32.ChecksumIEEE(rest)
	out := make([]byte, 4+len(rest))
	putUint32(out, crc)
	copy(out[4:], rest)
	return out
}

func (a *AsiExtraField) SerializeLocal() []byte { return a.serialize() }
func (a *AsiExtraField) SerializeCD() []byte     { return a.serialize() }

func parseAsiExtra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 14 {
		return nil, fmt.Errorf("%w: Asi payload too short", ErrInvalidExtraField)
	}
	b := readBuf(payload)
	crc := b.uint32()
	if got := crc32.ChecksumIEEE([]byte(b)); got != crc {
		return nil, fmt.Errorf("%w: Asi checksum mismatch: expected %#x, got %#x", ErrBadChecksum, crc, got)
	}
	a := &AsiExtraField{}
	a.Mode = b.uint16()
	b.uint32() // size-dev
	a.UID = uint32(b.uint16())
	a.GID = uint32(b.uint16())
	if len(b) > 0 {
		a.SymlinkTarget = string(b)
	}
	return a, nil
}
