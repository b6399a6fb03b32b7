package zipcore

import (
	"fmt"
	"sync"
)

// Extra-field header IDs (spec §3, §4.2).
const (
	idZip64             uint16 = 0x0001
	idUnixOld           uint16 = 0x0007 // X0007_Unix
	idNTFS              uint16 = 0x000a // X000A_NTFS
	idUnicodeComment    uint16 = 0x6375
	idUnicodePath       uint16 = 0x7075
	idAsi               uint16 = 0x756e
	idUnixNew           uint16 = 0x7875 // X7875_NewUnix
	idJar               uint16 = 0xcafe
	idAlignment         uint16 = 0xa11e
	idExtTimestamp      uint16 = 0x5455 // X5455_ExtendedTimestamp
	idOldUnixInfoZip    uint16 = 0x5855 // X5855_OldUnix (Info-ZIP UNIX, type 1)
)

// ExtraFieldContext distinguishes the local-file-header copy of an
// extra field from its (sometimes abbreviated) central-directory copy,
// per spec §4.2.
type ExtraFieldContext int

const (
	ContextLocal ExtraFieldContext = iota
	ContextCentralDirectory
)

// ParsePolicy controls how the registry reacts to malformed extra
// field payloads, per spec §4.2.
type ParsePolicy int

const (
	// PolicyStrict fails parsing on the first malformed field,
	// known or not.
	PolicyStrict ParsePolicy = iota
	// PolicyBestEffort captures malformed fields as
	// UnparseableExtraFieldData and continues.
	PolicyBestEffort
	// PolicyOnlyParseableStrict drops malformed fields silently but
	// stops at the first one.
	PolicyOnlyParseableStrict
	// PolicyOnlyParseableLenient drops malformed fields and
	// continues.
	PolicyOnlyParseableLenient
	// PolicyStrictForKnown is strict only for header IDs that have a
	// registered parser; unknown IDs always pass through opaquely.
	PolicyStrictForKnown
)

// ExtraField is implemented by every concrete extra-field variant.
// Central-directory and local-file-data serialization are two distinct
// methods per variant rather than two separate type hierarchies (spec
// §9 "replace inheritance ... with a tagged enum").
type ExtraField interface {
	// HeaderID returns this field's 2-byte tag.
	HeaderID() uint16
	// SerializeLocal returns this field's local-file-header payload
	// (not including the 4-byte tag+length prefix).
	SerializeLocal() []byte
	// SerializeCD returns this field's central-directory payload.
	SerializeCD() []byte
}

// ExtraFieldList is an ordered collection of extra fields, as carried
// by an Entry.
type ExtraFieldList []ExtraField

// Get returns the first field with the given header ID, if any.
func (l ExtraFieldList) Get(id uint16) (ExtraField, bool) {
	for _, f := range l {
		if f.HeaderID() == id {
			return f, true
		}
	}
	return nil, false
}

// FieldParser constructs a variant from a raw payload. local is true
// when parsing the local-file-header copy of the field; context-aware
// parsers (X5455 in particular) use this to decide which bits/values
// the payload is expected to carry.
type FieldParser func(payload []byte, context ExtraFieldContext) (ExtraField, error)

// ExtraFieldRegistry maps header IDs to parsers. The zero value is a
// usable, empty registry; DefaultRegistry carries the variants this
// package knows about out of the box.
//
// A registry is safe for concurrent Parse calls. Register must not be
// called concurrently with Parse or with another Register (spec §5
// "global extra-field registry ... guard registration with a mutex
// used only at setup").
type ExtraFieldRegistry struct {
	mu      sync.RWMutex
	parsers map[uint16]FieldParser
}

// NewExtraFieldRegistry returns an empty registry.
func NewExtraFieldRegistry() *ExtraFieldRegistry {
	return &ExtraFieldRegistry{parsers: make(map[uint16]FieldParser)}
}

// Register installs a parser for the given header ID, replacing any
// previous registration.
func (r *ExtraFieldRegistry) Register(id uint16, parser FieldParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.parsers == nil {
		r.parsers = make(map[uint16]FieldParser)
	}
	r.parsers[id] = parser
}

func (r *ExtraFieldRegistry) lookup(id uint16) (FieldParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[id]
	return p, ok
}

// DefaultRegistry is the process-wide registry used by Parse when
// callers don't supply their own. It is initialized with every
// variant spec §3 names.
var DefaultRegistry = newDefaultRegistry()

func newDefaultRegistry() *ExtraFieldRegistry {
	r := NewExtraFieldRegistry()
	r.Register(idZip64, parseZip64Extra)
	r.Register(idExtTimestamp, parseExtTimestamp)
	r.Register(idNTFS, parseNTFSExtra)
	r.Register(idUnixNew, parseNewUnixExtra)
	r.Register(idUnixOld, parseOldUnixExtra)
	r.Register(idOldUnixInfoZip, parseInfoZipOldUnixExtra)
	r.Register(idAsi, parseAsiExtra)
	r.Register(idAlignment, parseAlignmentExtra)
	r.Register(idUnicodePath, parseUnicodePath)
	r.Register(idUnicodeComment, parseUnicodeComment)
	r.Register(idJar, parseJarExtra)
	return r
}

// Parse decodes the extra-field area of a local or central-directory
// header into an ordered ExtraFieldList, per the given policy.
func (r *ExtraFieldRegistry) Parse(buf []byte, context ExtraFieldContext, policy ParsePolicy) (ExtraFieldList, error) {
	var out ExtraFieldList
	b := readBuf(buf)
	for len(b) > 0 {
		if len(b) < 4 {
			out, err, _ := r.onMalformed(out, append([]byte{}, b...), 0, false, policy)
			return out, err
		}
		idBuf := b
		id := b.uint16()
		size := int(b.uint16())
		if size > len(b) {
			raw := append([]byte{}, idBuf...)
			out, err, _ := r.onMalformed(out, raw, id, true, policy)
			return out, err
		}
		payload := append([]byte{}, b.sub(size)...)
		field, err := r.parseOne(id, payload, context)
		if err != nil {
			raw := rawFieldBytes(id, payload)
			var handled bool
			out, err, handled = r.onMalformed(out, raw, id, true, policy)
			if !handled || err != nil {
				return out, err
			}
			continue
		}
		out = append(out, field)
	}
	return out, nil
}

func rawFieldBytes(id uint16, payload []byte) []byte {
	b := make([]byte, 4+len(payload))
	wb := writeBuf(b)
	wb.uint16(id)
	wb.uint16(uint16(len(payload)))
	copy(b[4:], payload)
	return b
}

func (r *ExtraFieldRegistry) parseOne(id uint16, payload []byte, context ExtraFieldContext) (ExtraField, error) {
	parser, ok := r.lookup(id)
	if !ok {
		return &UnrecognizedExtraField{ID: id, LocalPayload: append([]byte{}, payload...), CDPayload: append([]byte{}, payload...)}, nil
	}
	return parser(payload, context)
}

// onMalformed applies policy to a field that could not be parsed
// (either its length overruns the buffer, its registered parser
// errored, or haveID is false because fewer than 4 bytes remain for a
// tag+length pair). It returns the (possibly appended-to) list, an
// error to propagate (nil if policy absorbed it), and whether the
// caller may continue scanning (false for the policies that stop at
// the first malformed field: PolicyStrict, PolicyOnlyParseableStrict,
// and PolicyStrictForKnown on a known ID).
func (r *ExtraFieldRegistry) onMalformed(out ExtraFieldList, raw []byte, id uint16, haveID bool, policy ParsePolicy) (ExtraFieldList, error, bool) {
	var known bool
	if haveID {
		_, known = r.lookup(id)
	}
	switch policy {
	case PolicyBestEffort:
		return append(out, &UnparseableExtraFieldData{Raw: raw}), nil, true
	case PolicyOnlyParseableLenient:
		return out, nil, true
	case PolicyOnlyParseableStrict:
		return out, nil, false
	case PolicyStrictForKnown:
		if known {
			return out, fmt.Errorf("%w: header id %#04x", ErrInvalidExtraField, id), false
		}
		if haveID && len(raw) >= 4 {
			return append(out, &UnrecognizedExtraField{ID: id, LocalPayload: raw[4:], CDPayload: raw[4:]}), nil, true
		}
		return out, nil, true
	default: // PolicyStrict
		return out, fmt.Errorf("%w: header id %#04x", ErrInvalidExtraField, id), false
	}
}

// SerializeLocal encodes list into a local-file-header extra-field
// area.
func SerializeLocal(list ExtraFieldList) []byte {
	return serializeWith(list, ExtraField.SerializeLocal)
}

// SerializeCD encodes list into a central-directory extra-field area.
func SerializeCD(list ExtraFieldList) []byte {
	return serializeWith(list, ExtraField.SerializeCD)
}

func serializeWith(list ExtraFieldList, get func(ExtraField) []byte) []byte {
	var out []byte
	for _, f := range list {
		payload := get(f)
		head := make([]byte, 4)
		wb := writeBuf(head)
		wb.uint16(f.HeaderID())
		wb.uint16(uint16(len(payload)))
		out = append(out, head...)
		out = append(out, payload...)
	}
	return out
}
