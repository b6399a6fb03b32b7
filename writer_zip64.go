package zipcore

import (
	"io"
)

// Zip64Policy controls when ZIP64 structures are emitted (spec §4.5
// "ZIP64 policy").
type Zip64Policy int

const (
	// Zip64AsNeeded emits ZIP64 extras only for entries or the archive
	// that actually require them.
	Zip64AsNeeded Zip64Policy = iota
	// Zip64Never fails with a *Zip64Error the moment any per-entry
	// size/offset or the entry count would force ZIP64.
	Zip64Never
	// Zip64Always always emits ZIP64 structures in every LFH and CDH,
	// and always emits the ZIP64 EOCD and locator.
	Zip64Always
	// Zip64AlwaysCompatibility is Zip64Always but omits the
	// relative-header-offset and disk-start-number fields from CDH
	// ZIP64 extras, for legacy tools that choke on those.
	Zip64AlwaysCompatibility
)

// writeCentralDirectory emits the CD in insertion order, then EOCD and
// (when required) the ZIP64 EOCD and locator, per spec §4.5 and the
// teacher's writeCentralDirectory shape.
func (w *Writer) writeCentralDirectory() error {
	cdStartSegment := uint32(0)
	if w.segSink != nil {
		cdStartSegment = uint32(w.segSink.CurrentSegment())
	}
	cdStart := w.cw.count

	alwaysZip64 := w.policy == Zip64Always || w.policy == Zip64AlwaysCompatibility
	omitOffsetDisk := w.policy == Zip64AlwaysCompatibility

	for _, e := range w.cd {
		if err := w.writeOneCDHeader(e, alwaysZip64, omitOffsetDisk); err != nil {
			return err
		}
	}

	cdSize := uint64(w.cw.count - cdStart)
	records := uint64(len(w.cd))
	cdOffset := uint64(cdStart)

	needZip64EOCD := alwaysZip64 ||
		records >= uint16max ||
		cdSize >= uint32max ||
		cdOffset >= uint32max

	if w.policy == Zip64Never && (records >= uint16max) {
		return &Zip64Error{Kind: Zip64TooManyEntries}
	}
	if w.policy == Zip64Never && (cdSize >= uint32max || cdOffset >= uint32max) {
		return &Zip64Error{Kind: Zip64ArchiveTooBig}
	}

	if needZip64EOCD {
		zip64EOCDOffset := w.cw.count
		if w.segSink != nil {
			if err := w.segSink.ReserveUnsplittable(directory64EndLen + directory64LocLen); err != nil {
				return err
			}
		}

		var buf [directory64EndLen + directory64LocLen]byte
		b := writeBuf(buf[:])
		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12)
		b.uint16(zipVersion45)
		b.uint16(zipVersion45)
		b.uint32(0)
		b.uint32(cdStartSegment)
		b.uint64(records)
		b.uint64(records)
		b.uint64(cdSize)
		b.uint64(cdOffset)

		b.uint32(directory64LocSignature)
		b.uint32(cdStartSegment)
		b.uint64(uint64(zip64EOCDOffset))
		totalDisks := uint32(1)
		if w.segSink != nil {
			totalDisks = uint32(w.segSink.CurrentSegment()) + 1
		}
		b.uint32(totalDisks)

		if _, err := w.cw.Write(buf[:]); err != nil {
			return err
		}

		records = uint16max
		cdSize = uint32max
		cdOffset = uint32max
	}

	commentBytes := []byte(w.comment)
	if len(commentBytes) > uint16max {
		return errLongComment
	}

	eocdLen := directoryEndLen + len(commentBytes)
	if w.segSink != nil {
		if err := w.segSink.ReserveUnsplittable(eocdLen); err != nil {
			return err
		}
	}

	var eocd [directoryEndLen]byte
	b := writeBuf(eocd[:])
	b.uint32(directoryEndSignature)
	b.uint16(uint16(cdStartSegment))
	b.uint16(uint16(cdStartSegment))
	b.uint16(uint16(records))
	b.uint16(uint16(records))
	b.uint32(uint32(cdSize))
	b.uint32(uint32(cdOffset))
	b.uint16(uint16(len(commentBytes)))
	if _, err := w.cw.Write(eocd[:]); err != nil {
		return err
	}
	_, err := w.cw.Write(commentBytes)
	return err
}

// writeOneCDHeader writes one 46-byte-fixed CDH plus name/extra/comment,
// promoting to a ZIP64 extra when the entry's sizes or offset demand it
// or alwaysZip64 is set (spec §4.5 ZIP64 policy matrix).
func (w *Writer) writeOneCDHeader(e *Entry, alwaysZip64, omitOffsetDisk bool) error {
	needZip64 := alwaysZip64 ||
		e.UncompressedSize >= uint32max ||
		e.CompressedSize >= uint32max ||
		e.LocalHeaderOffset >= uint32max ||
		(!omitOffsetDisk && uint64(e.DiskNumberStart) >= uint16max)

	if w.policy == Zip64Never && needZip64 {
		return &Zip64Error{Kind: Zip64EntrySize, Entry: e.Name}
	}

	extras := append(ExtraFieldList{}, e.Extra...)
	// Drop any zip64 placeholder carried over from the LFH write; the
	// CDH gets its own, built fresh from final values below.
	extras = stripZip64(extras)

	var compField, uncompField uint32
	var offsetField uint32
	var diskField uint16

	if needZip64 {
		z64 := &Zip64ExtraField{}
		var u, c, o uint64
		var d uint32
		u = e.UncompressedSize
		c = e.CompressedSize
		z64.UncompressedSize = &u
		z64.CompressedSize = &c
		compField = uint32max
		uncompField = uint32max
		if !omitOffsetDisk {
			o = uint64(e.LocalHeaderOffset)
			z64.LocalHeaderOffset = &o
			offsetField = uint32max
			if uint64(e.DiskNumberStart) >= uint16max {
				d = e.DiskNumberStart
				z64.DiskStart = &d
				diskField = uint16max
			} else {
				diskField = uint16(e.DiskNumberStart)
			}
		} else {
			offsetField = uint32(e.LocalHeaderOffset)
			diskField = uint16(e.DiskNumberStart)
		}
		extras = append(ExtraFieldList{z64}, extras...)
	} else {
		compField = uint32(e.CompressedSize)
		uncompField = uint32(e.UncompressedSize)
		offsetField = uint32(e.LocalHeaderOffset)
		diskField = uint16(e.DiskNumberStart)
	}

	readerVersion := e.ReaderVersion
	if needZip64 && readerVersion < zipVersion45 {
		readerVersion = zipVersion45
	}

	extraBytes := serializeWith(extras, ExtraField.SerializeCD)
	if len(extraBytes) > uint16max {
		return errLongExtra
	}

	recordLen := directoryHeaderLen + len(e.Name) + len(extraBytes) + len(e.Comment)
	if w.segSink != nil {
		if err := w.segSink.ReserveUnsplittable(recordLen); err != nil {
			return err
		}
	}

	var fixed [directoryHeaderLen]byte
	b := writeBuf(fixed[:])
	b.uint32(directoryHeaderSignature)
	b.uint16(e.CreatorVersion)
	b.uint16(readerVersion)
	b.uint16(uint16(e.GPB))
	b.uint16(e.Method)
	date, timeOfDay := timeToDOSTime(e.Modified)
	b.uint16(timeOfDay)
	b.uint16(date)
	b.uint32(e.CRC32)
	b.uint32(compField)
	b.uint32(uncompField)
	b.uint16(uint16(len(e.Name)))
	b.uint16(uint16(len(extraBytes)))
	b.uint16(uint16(len(e.Comment)))
	b.uint16(diskField)
	b.uint16(e.InternalAttrs)
	b.uint32(e.ExternalAttrs)
	b.uint32(offsetField)

	if _, err := w.cw.Write(fixed[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w.cw, e.Name); err != nil {
		return err
	}
	if _, err := w.cw.Write(extraBytes); err != nil {
		return err
	}
	_, err := io.WriteString(w.cw, e.Comment)
	return err
}

func stripZip64(list ExtraFieldList) ExtraFieldList {
	out := make(ExtraFieldList, 0, len(list))
	for _, f := range list {
		if f.HeaderID() == idZip64 {
			continue
		}
		out = append(out, f)
	}
	return out
}
