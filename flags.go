package zipcore

// GPBFlag is the 2-byte "general purpose bit flag" word carried by the
// local file header and the central directory header. Individual bits
// are exposed by name; bits this package doesn't interpret are
// preserved verbatim on read/write round-trips.
type GPBFlag uint16

const (
	// GPBEncrypted (bit 0) marks the entry data as encrypted. zipcore
	// parses this bit but never enforces or implements encryption.
	GPBEncrypted GPBFlag = 1 << 0
	// GPBCompressionInfo1 (bit 1) and GPBCompressionInfo2 (bit 2) have
	// method-dependent meaning (for Imploding: 8KiB dictionary and
	// three Shannon-Fano trees, respectively); preserved, not enforced.
	GPBCompressionInfo1 GPBFlag = 1 << 1
	GPBCompressionInfo2 GPBFlag = 1 << 2
	// GPBDataDescriptor (bit 3) marks that CRC-32, compressed size and
	// uncompressed size are zero in the local header and instead
	// follow the compressed data in a data descriptor record.
	GPBDataDescriptor GPBFlag = 1 << 3
	// GPBStrongEncryption (bit 6) marks PKWARE strong encryption.
	// Parsed, never enforced (see spec Non-goals).
	GPBStrongEncryption GPBFlag = 1 << 6
	// GPBUTF8 (bit 11) marks Name and Comment as UTF-8 encoded.
	GPBUTF8 GPBFlag = 1 << 11
)

// Has reports whether all bits in mask are set.
func (f GPBFlag) Has(mask GPBFlag) bool {
	return f&mask == mask
}

// Set returns f with all bits in mask set.
func (f GPBFlag) Set(mask GPBFlag) GPBFlag {
	return f | mask
}

// Clear returns f with all bits in mask cleared.
func (f GPBFlag) Clear(mask GPBFlag) GPBFlag {
	return f &^ mask
}

// HasDataDescriptor reports whether the data-descriptor bit is set.
func (f GPBFlag) HasDataDescriptor() bool { return f.Has(GPBDataDescriptor) }

// IsUTF8 reports whether the UTF-8 name/comment bit is set.
func (f GPBFlag) IsUTF8() bool { return f.Has(GPBUTF8) }

// IsEncrypted reports whether either the classic or strong encryption
// bit is set.
func (f GPBFlag) IsEncrypted() bool {
	return f.Has(GPBEncrypted) || f.Has(GPBStrongEncryption)
}
