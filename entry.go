// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipcore

import (
	"os"
	"path"
	"strings"
	"time"
)

// Compression method codes (spec §3).
const (
	Store       uint16 = 0
	Shrink      uint16 = 1
	Imploding   uint16 = 6
	Deflated    uint16 = 8
	Deflate64   uint16 = 9
	Bzip2Method uint16 = 12
)

// NameSource records which piece of an entry's metadata is the
// authoritative source of its Name, per spec §3.
type NameSource int

const (
	// NameSourcePlain means Name came from the local/CD header name
	// field, interpreted per the NonUTF8/UTF8-flag rules.
	NameSourcePlain NameSource = iota
	// NameSourceEFS means Name came from the header name field, and
	// the GPB UTF-8 ("EFS") flag was set, so no CP-437 guessing was
	// needed.
	NameSourceEFS
	// NameSourceUnicodeExtra means Name was overridden by a
	// UnicodePath extra field (0x7075).
	NameSourceUnicodeExtra
)

// UnknownSize is the sentinel for a CompressedSize/UncompressedSize
// that is not known yet (all bits set, the unsigned form of -1); the
// zero value means "known, zero-length". A Writer caller sets it on an
// entry whose sizes are only known once its data has been written:
// PutEntry then rejects a STORED entry bound for a non-seekable sink
// and, under Zip64AsNeeded on a seekable sink, reserves a ZIP64
// placeholder in the local header.
const UnknownSize uint64 = ^uint64(0)

// UnknownOffset is the sentinel value of Entry.DataOffset before a
// streaming-reader entry's offset has been resolved.
const UnknownOffset int64 = -1

// Entry describes one member of a ZIP archive: the in-memory record
// produced by readers and consumed by the writer. See spec §3.
type Entry struct {
	Name       string
	NameSource NameSource
	Comment    string

	// NonUTF8 indicates Name/Comment use CP-437 (or, in practice,
	// whatever the writer's local encoding was) rather than UTF-8.
	NonUTF8 bool

	CreatorVersion uint16
	ReaderVersion  uint16
	GPB            GPBFlag
	Method         uint16

	Modified time.Time
	Accessed time.Time // optional, zero Time if unset
	Created  time.Time // optional, zero Time if unset

	CRC32 uint32

	CompressedSize   uint64
	UncompressedSize uint64

	// LocalHeaderOffset is the absolute byte offset of this entry's
	// local file header. UnknownOffset before it is known.
	LocalHeaderOffset int64
	// DataOffset is LocalHeaderOffset + 30 + len(Name) + len(local
	// extra), i.e. where the entry's (possibly compressed) data
	// begins. UnknownOffset until a reader resolves it.
	DataOffset int64

	// Platform is the high byte of "version made by" (creatorUnix,
	// creatorFAT, ...).
	Platform       uint8
	ExternalAttrs  uint32
	InternalAttrs  uint16
	DiskNumberStart uint32

	Extra ExtraFieldList

	// AlignmentPadding, when non-zero, asks the Writer to pad the
	// local extra-field area so DataOffset becomes a multiple of this
	// many bytes. Must be a power of two, spec §4.5.
	AlignmentPadding uint16
	// AlignmentAllowMethodChange mirrors the AlignmentExtraField
	// "allow method change" bit: an archive repacker may switch this
	// entry to Store without invalidating the requested alignment.
	AlignmentAllowMethodChange bool
}

// IsDir reports whether this entry represents a directory, per the
// "trailing slash" convention (spec §3 invariant).
func (e *Entry) IsDir() bool {
	return len(e.Name) > 0 && e.Name[len(e.Name)-1] == '/'
}

// FileInfo adapts the entry to os.FileInfo.
func (e *Entry) FileInfo() os.FileInfo {
	return entryFileInfo{e}
}

type entryFileInfo struct {
	e *Entry
}

func (fi entryFileInfo) Name() string       { return path.Base(fi.e.Name) }
func (fi entryFileInfo) Size() int64        { return int64(fi.e.UncompressedSize) }
func (fi entryFileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi entryFileInfo) ModTime() time.Time { return fi.e.Modified }
func (fi entryFileInfo) Mode() os.FileMode  { return fi.e.Mode() }
func (fi entryFileInfo) Sys() interface{}   { return fi.e }

// Unix mode bits. The ZIP spec doesn't define these, but every
// Unix-aware implementation agrees on them (grounded on the teacher's
// struct.go, which already had this mapping exactly right).
const (
	sIFMT   = 0xf000
	sIFSOCK = 0xc000
	sIFLNK  = 0xa000
	sIFREG  = 0x8000
	sIFBLK  = 0x6000
	sIFDIR  = 0x4000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sISUID  = 0x800
	sISGID  = 0x400
	sISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Mode returns the Unix permission/mode bits encoded in
// ExternalAttrs, interpreted according to Platform.
func (e *Entry) Mode() (mode os.FileMode) {
	switch e.Platform {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(e.ExternalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(e.ExternalAttrs)
	}
	if e.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

// SetMode encodes mode into Platform/ExternalAttrs (Unix style, with
// the MS-DOS directory/read-only bits mirrored for legacy tools).
func (e *Entry) SetMode(mode os.FileMode) {
	e.Platform = creatorUnix
	e.CreatorVersion = e.CreatorVersion&0xff | uint16(creatorUnix)<<8
	e.ExternalAttrs = fileModeToUnixMode(mode) << 16

	if mode&os.ModeDir != 0 {
		e.ExternalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		e.ExternalAttrs |= msdosReadOnly
	}
}

// Symlink returns the symlink target recorded for this entry, if any.
// It consults an Asi extra field's link target first (legacy Info-ZIP
// Unix archives store the target there), returning ("", false) when no
// symlink target is recorded. Entry content itself (for archives that
// store the link target as the file's data, as most modern zip tools
// do) is not read here -- callers should check Mode()&os.ModeSymlink
// and, if set and Symlink reports false, read the entry's decompressed
// content as the link target.
func (e *Entry) Symlink() (target string, ok bool) {
	if e.Mode()&os.ModeSymlink == 0 {
		return "", false
	}
	for _, x := range e.Extra {
		if asi, ok := x.(*AsiExtraField); ok && asi.SymlinkTarget != "" {
			return asi.SymlinkTarget, true
		}
	}
	return "", false
}

func msdosModeToFileMode(m uint32) (mode os.FileMode) {
	if m&msdosDir != 0 {
		mode = os.ModeDir | 0777
	} else {
		mode = 0666
	}
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}

func fileModeToUnixMode(mode os.FileMode) uint32 {
	var m uint32
	switch mode & os.ModeType {
	default:
		m = sIFREG
	case os.ModeDir:
		m = sIFDIR
	case os.ModeSymlink:
		m = sIFLNK
	case os.ModeNamedPipe:
		m = sIFIFO
	case os.ModeSocket:
		m = sIFSOCK
	case os.ModeDevice:
		if mode&os.ModeCharDevice != 0 {
			m = sIFCHR
		} else {
			m = sIFBLK
		}
	}
	if mode&os.ModeSetuid != 0 {
		m |= sISUID
	}
	if mode&os.ModeSetgid != 0 {
		m |= sISGID
	}
	if mode&os.ModeSticky != 0 {
		m |= sISVTX
	}
	return m | uint32(mode&0777)
}

func unixModeToFileMode(m uint32) os.FileMode {
	mode := os.FileMode(m & 0777)
	switch m & sIFMT {
	case sIFBLK:
		mode |= os.ModeDevice
	case sIFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	case sIFDIR:
		mode |= os.ModeDir
	case sIFIFO:
		mode |= os.ModeNamedPipe
	case sIFLNK:
		mode |= os.ModeSymlink
	case sIFREG:
		// nothing to do
	case sIFSOCK:
		mode |= os.ModeSocket
	}
	if m&sISGID != 0 {
		mode |= os.ModeSetgid
	}
	if m&sISUID != 0 {
		mode |= os.ModeSetuid
	}
	if m&sISVTX != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

// normalizeEntryName rewrites backslashes to forward slashes in a
// name read from a local or central directory header. Some Windows
// tools (WinZip among them) write path separators as '\' instead of
// the '/' APPNOTE requires; readers conventionally translate them on
// the way in rather than reproducing the bug, so Entry.Name is always
// slash-separated regardless of which byte the archive carries (spec
// §8 scenario 6).
func normalizeEntryName(name string) string {
	if !strings.ContainsRune(name, '\\') {
		return name
	}
	return strings.ReplaceAll(name, "\\", "/")
}

// isZip64 reports whether this entry's sizes or offset force ZIP64
// extra-field promotion (spec §3 invariant).
func (e *Entry) isZip64() bool {
	return e.CompressedSize >= uint32max ||
		e.UncompressedSize >= uint32max ||
		(e.LocalHeaderOffset >= 0 && uint64(e.LocalHeaderOffset) >= uint32max)
}
