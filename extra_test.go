package zipcore

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

// TestX5455RoundTrip exercises spec §8 scenario 2 exactly: flags byte
// 7, each time value 0x7FFFFFFF.
func TestX5455RoundTrip(t *testing.T) {
	wantLocal := []byte{7, 0xff, 0xff, 0xff, 0x7f, 0xff, 0xff, 0xff, 0x7f, 0xff, 0xff, 0xff, 0x7f}
	wantCD := []byte{1, 0xff, 0xff, 0xff, 0x7f}

	fields, err := DefaultRegistry.Parse(rawFieldBytes(idExtTimestamp, wantLocal), ContextLocal, PolicyStrict)
	if err != nil {
		t.Fatalf("Parse(local): %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("Parse(local) returned %d fields, want 1", len(fields))
	}
	x, ok := fields[0].(*ExtTimestampExtraField)
	if !ok {
		t.Fatalf("Parse(local) returned %T, want *ExtTimestampExtraField", fields[0])
	}
	if x.Flags != 7 {
		t.Errorf("Flags = %#x, want 7", uint16(x.Flags))
	}
	if x.Modify != 0x7FFFFFFF || x.Access != 0x7FFFFFFF || x.Create != 0x7FFFFFFF {
		t.Errorf("Modify/Access/Create = %d/%d/%d, want 0x7FFFFFFF each", x.Modify, x.Access, x.Create)
	}

	if got := x.SerializeLocal(); !reflect.DeepEqual(got, wantLocal) {
		t.Errorf("SerializeLocal() = % x, want % x", got, wantLocal)
	}
	if got := x.SerializeCD(); !reflect.DeepEqual(got, wantCD) {
		t.Errorf("SerializeCD() = % x, want % x", got, wantCD)
	}

	cdFields, err := DefaultRegistry.Parse(rawFieldBytes(idExtTimestamp, wantCD), ContextCentralDirectory, PolicyStrict)
	if err != nil {
		t.Fatalf("Parse(cd): %v", err)
	}
	cx := cdFields[0].(*ExtTimestampExtraField)
	if cx.Flags != tsFlagModify {
		t.Errorf("CD Flags = %#x, want bit0 only", uint16(cx.Flags))
	}
	if cx.Modify != 0x7FFFFFFF {
		t.Errorf("CD Modify = %d, want 0x7FFFFFFF", cx.Modify)
	}
}

// TestX5455TruncatedResetsFlags covers spec §4.2: a payload that
// declares more time fields than it actually carries must have its
// recovered Flags reduced to what actually fit.
func TestX5455TruncatedResetsFlags(t *testing.T) {
	// Declares modify+access+create (flags=7) but only carries the
	// modify time's 4 bytes.
	payload := []byte{7, 1, 2, 3, 4}
	field, err := parseExtTimestamp(payload, ContextLocal)
	if err != nil {
		t.Fatalf("parseExtTimestamp: %v", err)
	}
	x := field.(*ExtTimestampExtraField)
	if x.Flags != tsFlagModify {
		t.Errorf("Flags = %#x, want tsFlagModify only", uint16(x.Flags))
	}
}

func TestZip64ExtraRoundTrip(t *testing.T) {
	u, c, o := uint64(1)<<40, uint64(2)<<40, uint64(3)<<40
	d := uint32(7)
	z := &Zip64ExtraField{UncompressedSize: &u, CompressedSize: &c, LocalHeaderOffset: &o, DiskStart: &d}

	payload := z.SerializeLocal()
	field, err := parseZip64Extra(payload, ContextLocal)
	if err != nil {
		t.Fatalf("parseZip64Extra: %v", err)
	}
	got := field.(*Zip64ExtraField)
	if *got.UncompressedSize != u || *got.CompressedSize != c || *got.LocalHeaderOffset != o || *got.DiskStart != d {
		t.Errorf("round trip mismatch: got %+v", got)
	}
	if !reflect.DeepEqual(got.SerializeLocal(), payload) {
		t.Error("reserialized zip64 extra does not match original payload")
	}
}

func TestZip64ExtraTooManyValues(t *testing.T) {
	payload := make([]byte, 8*5)
	if _, err := parseZip64Extra(payload, ContextLocal); err == nil {
		t.Fatal("expected an error for a zip64 extra field with 5 8-byte values")
	} else if !errors.Is(err, ErrInvalidExtraField) {
		t.Errorf("error = %v, want ErrInvalidExtraField", err)
	}
}

func TestNTFSExtraRoundTrip(t *testing.T) {
	// Pick times whose sub-second part is an exact multiple of 100ns
	// so the round trip through FILETIME ticks is lossless.
	mod := time.Date(2024, 3, 14, 9, 26, 53, 123456700, time.UTC)
	acc := time.Date(2024, 3, 14, 9, 0, 0, 0, time.UTC)
	cre := time.Date(1999, 12, 31, 23, 59, 59, 900000000, time.UTC)

	n := &NTFSExtraField{Modify: mod, Access: acc, Create: cre}
	field, err := parseNTFSExtra(n.SerializeLocal(), ContextLocal)
	if err != nil {
		t.Fatalf("parseNTFSExtra: %v", err)
	}
	got := field.(*NTFSExtraField)
	if !got.Modify.Equal(mod) || !got.Access.Equal(acc) || !got.Create.Equal(cre) {
		t.Errorf("round trip mismatch: got %+v, want Modify=%v Access=%v Create=%v", got, mod, acc, cre)
	}
}

func TestUnicodePathRoundTrip(t *testing.T) {
	u := &UnicodePathExtraField{Version: 1, NameCRC: 0xdeadbeef, UnicodeName: "héllo/wörld.txt"}
	field, err := parseUnicodePath(u.SerializeLocal(), ContextLocal)
	if err != nil {
		t.Fatalf("parseUnicodePath: %v", err)
	}
	got := field.(*UnicodePathExtraField)
	if got.Version != u.Version || got.NameCRC != u.NameCRC || got.UnicodeName != u.UnicodeName {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, u)
	}
}

func TestAsiExtraRoundTrip(t *testing.T) {
	a := &AsiExtraField{Mode: 0120777, UID: 1000, GID: 1000, SymlinkTarget: "../other"}
	payload := a.SerializeLocal()
	field, err := parseAsiExtra(payload, ContextLocal)
	if err != nil {
		t.Fatalf("parseAsiExtra: %v", err)
	}
	got := field.(*AsiExtraField)
	if got.Mode != a.Mode || got.UID != a.UID || got.GID != a.GID || got.SymlinkTarget != a.SymlinkTarget {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, a)
	}
}

func TestAsiExtraBadChecksum(t *testing.T) {
	a := &AsiExtraField{Mode: 0100644}
	payload := a.SerializeLocal()
	payload[4] ^= 0xff // corrupt a byte covered by the checksum
	if _, err := parseAsiExtra(payload, ContextLocal); !errors.Is(err, ErrBadChecksum) {
		t.Errorf("parseAsiExtra on corrupted payload: err = %v, want ErrBadChecksum", err)
	}
}

func TestAlignmentExtraRoundTrip(t *testing.T) {
	a := &AlignmentExtraField{Alignment: 4096, AllowMethodChange: true, Padding: []byte{0, 0, 0}}
	field, err := parseAlignmentExtra(a.SerializeLocal(), ContextLocal)
	if err != nil {
		t.Fatalf("parseAlignmentExtra: %v", err)
	}
	got := field.(*AlignmentExtraField)
	if got.Alignment != a.Alignment || got.AllowMethodChange != a.AllowMethodChange || !reflect.DeepEqual(got.Padding, a.Padding) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, a)
	}
}

func TestNewUnixExtraRoundTrip(t *testing.T) {
	u := &NewUnixExtraField{Version: 1, UID: 0x1234, GID: 0x56}
	field, err := parseNewUnixExtra(u.SerializeLocal(), ContextLocal)
	if err != nil {
		t.Fatalf("parseNewUnixExtra: %v", err)
	}
	got := field.(*NewUnixExtraField)
	if got.Version != u.Version || got.UID != u.UID || got.GID != u.GID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, u)
	}
}

func TestOldUnixExtraRoundTrip(t *testing.T) {
	u := &OldUnixExtraField{AccessTime: 12345, ModifyTime: 54321, UID: 10, GID: 20}
	field, err := parseOldUnixExtra(u.SerializeLocal(), ContextLocal)
	if err != nil {
		t.Fatalf("parseOldUnixExtra: %v", err)
	}
	got := field.(*OldUnixExtraField)
	if got.AccessTime != u.AccessTime || got.ModifyTime != u.ModifyTime || got.UID != u.UID || got.GID != u.GID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, u)
	}
}

func TestJarMarkerRoundTrip(t *testing.T) {
	field, err := parseJarExtra(nil, ContextLocal)
	if err != nil {
		t.Fatalf("parseJarExtra: %v", err)
	}
	if field.HeaderID() != idJar {
		t.Errorf("HeaderID() = %#x, want %#x", field.HeaderID(), idJar)
	}
	if len(field.SerializeLocal()) != 0 || len(field.SerializeCD()) != 0 {
		t.Error("JarMarkerExtraField must serialize to an empty payload")
	}
}

func TestUnrecognizedExtraFieldPassThrough(t *testing.T) {
	const weirdID = 0x9999
	payload := []byte{1, 2, 3, 4, 5}
	fields, err := DefaultRegistry.Parse(rawFieldBytes(weirdID, payload), ContextLocal, PolicyStrict)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("got %d fields, want 1", len(fields))
	}
	u, ok := fields[0].(*UnrecognizedExtraField)
	if !ok {
		t.Fatalf("got %T, want *UnrecognizedExtraField", fields[0])
	}
	if u.ID != weirdID || !reflect.DeepEqual(u.LocalPayload, payload) {
		t.Errorf("got %+v", u)
	}
}

// TestParsePolicyMalformed covers §4.2's ParsePolicy matrix against a
// single malformed field whose declared length overruns the buffer.
func TestParsePolicyMalformed(t *testing.T) {
	// idNTFS with declared length 10 but only 2 bytes follow.
	raw := []byte{0x0a, 0x00, 10, 0, 1, 2}

	t.Run("strict fails", func(t *testing.T) {
		if _, err := DefaultRegistry.Parse(raw, ContextLocal, PolicyStrict); !errors.Is(err, ErrInvalidExtraField) {
			t.Errorf("err = %v, want ErrInvalidExtraField", err)
		}
	})
	t.Run("best effort captures raw", func(t *testing.T) {
		fields, err := DefaultRegistry.Parse(raw, ContextLocal, PolicyBestEffort)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(fields) != 1 {
			t.Fatalf("got %d fields, want 1", len(fields))
		}
		u, ok := fields[0].(*UnparseableExtraFieldData)
		if !ok {
			t.Fatalf("got %T, want *UnparseableExtraFieldData", fields[0])
		}
		if !reflect.DeepEqual(u.Raw, raw) {
			t.Errorf("Raw = % x, want % x", u.Raw, raw)
		}
		if u.HeaderID() != idNTFS {
			t.Errorf("HeaderID() = %#x, want idNTFS", u.HeaderID())
		}
	})
	t.Run("only parseable lenient drops silently", func(t *testing.T) {
		fields, err := DefaultRegistry.Parse(raw, ContextLocal, PolicyOnlyParseableLenient)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(fields) != 0 {
			t.Errorf("got %d fields, want 0", len(fields))
		}
	})
	t.Run("only parseable strict stops silently", func(t *testing.T) {
		fields, err := DefaultRegistry.Parse(raw, ContextLocal, PolicyOnlyParseableStrict)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if len(fields) != 0 {
			t.Errorf("got %d fields, want 0", len(fields))
		}
	})
}

// TestParsePolicyStrictForKnown checks the mixed policy: a malformed
// known field fails, but an unknown field with the same kind of
// truncation passes through opaquely.
func TestParsePolicyStrictForKnown(t *testing.T) {
	knownMalformed := []byte{0x0a, 0x00, 10, 0, 1, 2} // idNTFS, declared 10, only 2 present
	if _, err := DefaultRegistry.Parse(knownMalformed, ContextLocal, PolicyStrictForKnown); !errors.Is(err, ErrInvalidExtraField) {
		t.Errorf("known malformed field: err = %v, want ErrInvalidExtraField", err)
	}

	unknownMalformed := []byte{0x99, 0x99, 10, 0, 1, 2} // unregistered ID, declared 10, only 2 present
	fields, err := DefaultRegistry.Parse(unknownMalformed, ContextLocal, PolicyStrictForKnown)
	if err != nil {
		t.Fatalf("unknown malformed field should pass through, got err: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("got %d fields, want 1", len(fields))
	}
	if fields[0].HeaderID() != 0x9999 {
		t.Errorf("HeaderID() = %#x, want 0x9999", fields[0].HeaderID())
	}
}

func TestExtraFieldListGet(t *testing.T) {
	list := ExtraFieldList{
		&UnrecognizedExtraField{ID: 0x1111},
		&AlignmentExtraField{Alignment: 4},
	}
	if f, ok := list.Get(idAlignment); !ok || f.(*AlignmentExtraField).Alignment != 4 {
		t.Errorf("Get(idAlignment) = %v, %v", f, ok)
	}
	if _, ok := list.Get(0x2222); ok {
		t.Error("Get of absent header ID should report false")
	}
}

func TestSerializeLocalAndCD(t *testing.T) {
	list := ExtraFieldList{&AlignmentExtraField{Alignment: 8}}
	local := SerializeLocal(list)
	cd := SerializeCD(list)
	if !reflect.DeepEqual(local, cd) {
		t.Errorf("alignment field's local/CD forms should be identical, got % x vs % x", local, cd)
	}
	reparsed, err := DefaultRegistry.Parse(local, ContextLocal, PolicyStrict)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(reparsed) != 1 || reparsed[0].(*AlignmentExtraField).Alignment != 8 {
		t.Errorf("round trip through SerializeLocal/Parse failed: %+v", reparsed)
	}
}
