package zipcore

// JarMarkerExtraField (0xcafe) is an empty marker some tools
// (notably the JDK's jar tool) write so self-executing JARs can be
// identified without parsing the whole archive.
type JarMarkerExtraField struct{}

func (JarMarkerExtraField) HeaderID() uint16     { return idJar }
func (JarMarkerExtraField) SerializeLocal() []byte { return nil }
func (JarMarkerExtraField) SerializeCD() []byte     { return nil }

func parseJarExtra(_ []byte, _ ExtraFieldContext) (ExtraField, error) {
	return JarMarkerExtraField{}, nil
}

// UnrecognizedExtraField is the opaque pass-through for any header ID
// without a registered parser (spec §3). Local and CD payloads are
// tracked separately since nothing guarantees they agree for an
// unknown field.
type UnrecognizedExtraField struct {
	ID           uint16
	LocalPayload []byte
	CDPayload    []byte
}

func (u *UnrecognizedExtraField) HeaderID() uint16     { return u.ID }
func (u *UnrecognizedExtraField) SerializeLocal() []byte { return u.LocalPayload }
func (u *UnrecognizedExtraField) SerializeCD() []byte     { return u.CDPayload }

// UnparseableExtraFieldData is the BEST_EFFORT fallback capturing the
// raw bytes (including the 4-byte tag+length prefix) of a field that
// failed to parse under the active ParsePolicy, per spec §4.2 and §8
// ("round-trip is defined only in BEST_EFFORT mode to return an
// UnparseableExtraFieldData wrapping P").
//
// Re-serializing corrects the declared length to match len(payload)
// rather than preserving the original (already-inconsistent) length
// byte-for-byte; the registry's serializeWith always recomputes the
// length prefix from the payload it's given.
type UnparseableExtraFieldData struct {
	Raw []byte // tag (2) + length (2) + payload, as found
}

// HeaderID recovers the original tag from the captured raw bytes, or
// 0 if fewer than 2 bytes were captured.
func (u *UnparseableExtraFieldData) HeaderID() uint16 {
	if len(u.Raw) < 2 {
		return 0
	}
	return getUint16(u.Raw)
}

// SerializeLocal and SerializeCD both return the payload portion of
// Raw (i.e. Raw without its own 4-byte tag+length prefix), since the
// registry's serializeWith helper re-adds a tag+length prefix around
// whatever these methods return.
func (u *UnparseableExtraFieldData) SerializeLocal() []byte { return u.payload() }
func (u *UnparseableExtraFieldData) SerializeCD() []byte     { return u.payload() }

func (u *UnparseableExtraFieldData) payload() []byte {
	if len(u.Raw) < 4 {
		return nil
	}
	return u.Raw[4:]
}
