package zipcore

import "testing"

func TestGPBFlagAccessors(t *testing.T) {
	var f GPBFlag
	if f.HasDataDescriptor() || f.IsUTF8() || f.IsEncrypted() {
		t.Fatalf("zero-value GPBFlag has bits set: %#x", uint16(f))
	}

	f = f.Set(GPBDataDescriptor)
	if !f.HasDataDescriptor() {
		t.Error("HasDataDescriptor false after Set(GPBDataDescriptor)")
	}

	f = f.Set(GPBUTF8)
	if !f.IsUTF8() {
		t.Error("IsUTF8 false after Set(GPBUTF8)")
	}
	if !f.HasDataDescriptor() {
		t.Error("Set(GPBUTF8) clobbered the data-descriptor bit")
	}

	f = f.Clear(GPBDataDescriptor)
	if f.HasDataDescriptor() {
		t.Error("HasDataDescriptor true after Clear(GPBDataDescriptor)")
	}
	if !f.IsUTF8() {
		t.Error("Clear(GPBDataDescriptor) clobbered the UTF-8 bit")
	}
}

func TestGPBFlagIsEncrypted(t *testing.T) {
	cases := []struct {
		name string
		f    GPBFlag
		want bool
	}{
		{"none", 0, false},
		{"classic", GPBEncrypted, true},
		{"strong", GPBStrongEncryption, true},
		{"both", GPBEncrypted | GPBStrongEncryption, true},
		{"unrelated bit", GPBUTF8, false},
	}
	for _, c := range cases {
		if got := c.f.IsEncrypted(); got != c.want {
			t.Errorf("%s: IsEncrypted() = %v, want %v", c.name, got, c.want)
		}
	}
}

// Reserved/unrecognized bits must survive a Set/Clear round trip
// untouched, since the spec requires preserving bits this package
// doesn't interpret.
func TestGPBFlagPreservesUnknownBits(t *testing.T) {
	f := GPBFlag(0x0010 | 0x0400) // two bits this package never names
	f = f.Set(GPBDataDescriptor).Clear(GPBUTF8)
	if f&0x0010 == 0 || f&0x0400 == 0 {
		t.Errorf("unknown bits lost: got %#x", uint16(f))
	}
}
