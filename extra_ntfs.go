package zipcore

import (
	"fmt"
	"time"
)

const ntfsTagTimestamps = 0x0001

// windowsEpoch is 1601-01-01T00:00:00Z, the NTFS FILETIME epoch.
var windowsEpoch = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)

const ticksPerSecond = 1e7 // 100-nanosecond ticks per second

// NTFSExtraField is the NTFS timestamp extra field (0x000A): a
// 4-byte reserved field followed by a list of (tag, size, data)
// attributes. zipcore only recognizes attribute tag 1 (the three
// 100ns-resolution FILETIMEs), per spec §3.
type NTFSExtraField struct {
	Modify, Access, Create time.Time
}

func (n *NTFSExtraField) HeaderID() uint16 { return idNTFS }

func timeToFiletimeTicks(t time.Time) uint64 {
	secs := t.Unix() - windowsEpoch.Unix()
	nsecs := int64(t.Nanosecond())
	return uint64(secs)*ticksPerSecond + uint64(nsecs)/100
}

func filetimeTicksToTime(ticks uint64) time.Time {
	secs := int64(ticks / ticksPerSecond)
	nsecs := int64(ticks%ticksPerSecond) * (1e9 / ticksPerSecond)
	return windowsEpoch.Add(time.Duration(secs)*time.Second + time.Duration(nsecs))
}

func (n *NTFSExtraField) serialize() []byte {
	out := make([]byte, 4+4+28)
	b := writeBuf(out)
	b.uint32(0) // reserved
	b.uint16(ntfsTagTimestamps)
	b.uint16(24)
	b.uint64(timeToFiletimeTicks(n.Modify))
	b.uint64(timeToFiletimeTicks(n.Access))
	b.uint64(timeToFiletimeTicks(n.Create))
	return out
}

func (n *NTFSExtraField) SerializeLocal() []byte { return n.serialize() }
func (n *NTFSExtraField) SerializeCD() []byte     { return n.serialize() }

func parseNTFSExtra(payload []byte, _ ExtraFieldContext) (ExtraField, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: X000A payload too short", ErrInvalidExtraField)
	}
	n := &NTFSExtraField{}
	b := readBuf(payload[4:])
	for len(b) >= 4 {
		tag := b.uint16()
		size := int(b.uint16())
		if size > len(b) {
			break
		}
		attr := b.sub(size)
		if tag == ntfsTagTimestamps && len(attr) >= 24 {
			n.Modify = filetimeTicksToTime(attr.uint64())
			n.Access = filetimeTicksToTime(attr.uint64())
			n.Create = filetimeTicksToTime(attr.uint64())
		}
	}
	return n, nil
}
