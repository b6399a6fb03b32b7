// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package zipcore implements the core of the PKWARE ZIP archive format:
a random-access reader, a forward-only streaming reader, a writer, the
extensible extra-field system, ZIP64 promotion, and split (multi-volume)
archive I/O.

It does not implement encryption, non-ZIP archive formats, or any
high-level "walk a directory tree" convenience layer; those are left to
callers built on top of this package. See https://www.pkware.com/appnote
for the wire format this package implements.
*/
package zipcore

const (
	fileHeaderSignature      = 0x04034b50
	directoryHeaderSignature = 0x02014b50
	directoryEndSignature    = 0x06054b50
	directory64LocSignature  = 0x07064b50
	directory64EndSignature  = 0x06064b50
	dataDescriptorSignature  = 0x08074b50 // de-facto standard; required by OS X Finder
	splitSignature           = 0x08074b50 // same bytes, used as a record-of-one at file start

	fileHeaderLen       = 30 // + filename + extra
	directoryHeaderLen  = 46 // + filename + extra + comment
	directoryEndLen     = 22 // + comment
	dataDescriptorLen   = 16 // signature, crc32, compressed size, size (4-byte sizes)
	dataDescriptor64Len = 24 // signature, crc32, compressed size, size (8-byte sizes)
	directory64LocLen   = 20
	directory64EndLen   = 56 // + extensible data sector

	// Constants for the high byte of "version made by" / CreatorVersion.
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19

	zipVersion10 = 10 // 1.0, pure Stored
	zipVersion20 = 20 // 2.0, Deflated
	zipVersion45 = 45 // 4.5, ZIP64

	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1
)
