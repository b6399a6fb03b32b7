package zipcore

import (
	"fmt"
	"hash/crc32"
)

// UnicodePathExtraField (0x7075) overrides Entry.Name with a UTF-8
// value, carrying a CRC32 of the original (possibly non-UTF-8) header
// field so readers can detect when the override no longer matches.
type UnicodePathExtraField struct {
	Version  uint8
	NameCRC  uint32
	UnicodeName string
}

func (u *UnicodePathExtraField) HeaderID() uint16 { return idUnicodePath }

func (u *UnicodePathExtraField) serialize() []byte {
	out := make([]byte, 5+len(u.UnicodeName))
	out[0] = u.Version
	putUint32(out[1:], u.NameCRC)
	copy(out[5:], u.UnicodeName)
	return out
}

func (u *UnicodePathExtraField) SerializeLocal() []byte { return u.serialize() }
func (u *UnicodePathExtraField) SerializeCD() []byte     { return u.serialize() }

func parseUnicodePath(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	return parseUnicodeField(payload, func(version uint8, crc uint32, name string) ExtraField {
		return &UnicodePathExtraField{Version: version, NameCRC: crc, UnicodeName: name}
	})
}

// UnicodeCommentExtraField (0x6375) is UnicodePathExtraField's
// sibling for Entry.Comment.
type UnicodeCommentExtraField struct {
	Version        uint8
	CommentCRC     uint32
	UnicodeComment string
}

func (u *UnicodeCommentExtraField) HeaderID() uint16 { return idUnicodeComment }

func (u *UnicodeCommentExtraField) serialize() []byte {
	out := make([]byte, 5+len(u.UnicodeComment))
	out[0] = u.Version
	putUint32(out[1:], u.CommentCRC)
	copy(out[5:], u.UnicodeComment)
	return out
}

func (u *UnicodeCommentExtraField) SerializeLocal() []byte { return u.serialize() }
func (u *UnicodeCommentExtraField) SerializeCD() []byte     { return u.serialize() }

func parseUnicodeComment(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	return parseUnicodeField(payload, func(version uint8, crc uint32, comment string) ExtraField {
		return &UnicodeCommentExtraField{Version: version, CommentCRC: crc, UnicodeComment: comment}
	})
}

func parseUnicodeField(payload []byte, build func(version uint8, crc uint32, s string) ExtraField) (ExtraField, error) {
	if len(payload) < 5 {
		return nil, fmt.Errorf("%w: unicode extra field payload too short", ErrInvalidExtraField)
	}
	b := readBuf(payload)
	version := b.uint8()
	crc := b.uint32()
	return build(version, crc, string(b)), nil
}

// checksumMatches reports whether crc32(nameOrComment) equals the CRC
// this field recorded; a mismatch means the original header bytes
// changed since this extra field was written and the override should
// be ignored, per common ZIP reader practice.
func checksumMatches(original []byte, want uint32) bool {
	return crc32.ChecksumIEEE(original) == want
}
