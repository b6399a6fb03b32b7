package zipcore

import "time"

// dosMinTime and dosMaxTime bound the range timeToDOSTime can represent
// without resorting to under/overflowing its packed fields (spec §4.7,
// GLOSSARY "DOS time").
var (
	dosMinTime = time.Date(1980, time.January, 1, 0, 0, 0, 0, time.UTC)
	dosMaxTime = time.Date(2107, time.December, 31, 23, 59, 58, 0, time.UTC)
)

// timeToDOSTime converts t to an MS-DOS date/time pair (2-second
// resolution). Times outside [1980-01-01, 2107-12-31] are clamped
// rather than wrapped (spec §9 Open Question, resolved in DESIGN.md:
// clamping is deterministic and never produces a silently-different
// but still "valid-looking" date).
func timeToDOSTime(t time.Time) (date, timeOfDay uint16) {
	if t.IsZero() {
		t = dosMinTime
	}
	switch {
	case t.Before(dosMinTime):
		t = dosMinTime
	case t.After(dosMaxTime):
		t = dosMaxTime
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (t.Year()-1980)<<9)
	timeOfDay = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}

// dosTimeToTime is the inverse of timeToDOSTime. Results are in UTC;
// the DOS format carries no timezone, a long-standing ambiguity in
// the format itself.
func dosTimeToTime(date, timeOfDay uint16) time.Time {
	year := int(date>>9) + 1980
	month := int(date >> 5 & 0xf)
	day := int(date & 0x1f)
	hour := int(timeOfDay >> 11)
	min := int(timeOfDay >> 5 & 0x3f)
	sec := int(timeOfDay&0x1f) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC)
}

// maxSignedUnix32 bounds the X5455 extended timestamp range; values
// outside this range force the NTFS extra field instead (spec §4.7).
const maxSignedUnix32 = 1<<31 - 1
const minSignedUnix32 = -(1 << 31)

// fitsSignedUnix32 reports whether t's Unix-seconds value fits a
// signed 32-bit field.
func fitsSignedUnix32(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	u := t.Unix()
	return u >= minSignedUnix32 && u <= maxSignedUnix32
}

// writeTimestamps decides which of X5455/X000A to emit for an entry,
// and updates the DOS fields, per the policy table in spec §4.7:
//
//   - a DOS time is always computed and written to the caller's
//     fixed-width header fields (by the caller, from the returned
//     date/timeOfDay);
//   - if any of access/create/modify exceeds signed 32-bit Unix
//     seconds, X5455 is omitted and an NTFS (X000A) extra is written
//     instead, at 100ns precision;
//   - otherwise, if any of access/create/modify was explicitly set by
//     the caller, X5455 is written with the matching flag bits, and
//     X000A is written alongside it to preserve sub-second precision;
//   - if only Modified is set and it exactly fits DOS's 2-second
//     resolution, neither extra field is emitted.
func writeTimestamps(e *Entry) (date, timeOfDay uint16, extras ExtraFieldList) {
	date, timeOfDay = timeToDOSTime(e.Modified)

	haveAccess := !e.Accessed.IsZero()
	haveCreate := !e.Created.IsZero()
	anySet := haveAccess || haveCreate

	outOfRange := !fitsSignedUnix32(e.Modified) ||
		(haveAccess && !fitsSignedUnix32(e.Accessed)) ||
		(haveCreate && !fitsSignedUnix32(e.Created))

	if outOfRange {
		extras = append(extras, &NTFSExtraField{
			Modify: e.Modified,
			Access: e.Accessed,
			Create: e.Created,
		})
		return
	}

	if !anySet {
		// Only the legacy modify_time is set. Emit X5455 only if it
		// doesn't already round-trip exactly through DOS's 2-second
		// resolution (matching dosTimeToTime(date, timeOfDay) would
		// make the extra redundant); otherwise an odd second would be
		// lost on read, so still emit it whenever the recovered time
		// differs. X5455 carries whole seconds only, so any sub-second
		// part is dropped either way.
		if dosTimeToTime(date, timeOfDay).Equal(e.Modified.Truncate(time.Second)) && e.Modified.Nanosecond() == 0 {
			return
		}
	}

	flags := tsFlagModify
	if haveAccess {
		flags |= tsFlagAccess
	}
	if haveCreate {
		flags |= tsFlagCreate
	}
	extras = append(extras, &ExtTimestampExtraField{
		Flags:        flags,
		Modify:       e.Modified.Unix(),
		Access:       e.Accessed.Unix(),
		Create:       e.Created.Unix(),
		localContext: true,
	})
	if anySet {
		extras = append(extras, &NTFSExtraField{
			Modify: e.Modified,
			Access: e.Accessed,
			Create: e.Created,
		})
	}
	return
}

// reconcileTimestamps resolves Entry.Modified/Accessed/Created from
// the DOS fixed fields plus any X5455/X000A extras present, per spec
// §4.7 and the Open Question decision recorded in DESIGN.md: NTFS
// overrides X5455 when both are present and their modify-time values
// differ, and both override the DOS fields.
func reconcileTimestamps(e *Entry, dosDate, dosTime uint16) {
	e.Modified = dosTimeToTime(dosDate, dosTime)

	var ext *ExtTimestampExtraField
	var ntfs *NTFSExtraField
	for _, f := range e.Extra {
		switch v := f.(type) {
		case *ExtTimestampExtraField:
			ext = v
		case *NTFSExtraField:
			ntfs = v
		}
	}

	if ext != nil {
		if ext.Flags&tsFlagModify != 0 {
			e.Modified = time.Unix(ext.Modify, 0).UTC()
		}
		if ext.Flags&tsFlagAccess != 0 {
			e.Accessed = time.Unix(ext.Access, 0).UTC()
		}
		if ext.Flags&tsFlagCreate != 0 {
			e.Created = time.Unix(ext.Create, 0).UTC()
		}
	}

	if ntfs != nil {
		if ext == nil || !ntfs.Modify.Equal(time.Unix(ext.Modify, 0).UTC()) {
			e.Modified = ntfs.Modify
		}
		if !ntfs.Access.IsZero() {
			e.Accessed = ntfs.Access
		}
		if !ntfs.Create.IsZero() {
			e.Created = ntfs.Create
		}
	}
}
