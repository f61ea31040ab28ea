package sdfat

import (
	"encoding/binary"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nimblefs/sdfat/errkind"
)

// nameCaser folds a human filename to upper case before it's split into an
// 8.3 base/extension and validated. It applies Unicode upper-casing to the
// name as a UTF-8 string, so non-ASCII letters are upper-cased too, not
// just a-z; no OEM code page mapping is involved.
var nameCaser = cases.Upper(language.Und)

// Byte offsets within a 32-byte on-disk directory entry.
const (
	deName            = 0
	deNameLen         = 11
	deAttrib          = 11
	deFillerA         = 12 // 8 filler bytes
	deFirstClusterHi  = 20
	deFillerB         = 22 // 4 filler bytes
	deFirstClusterLo  = 26
	deFileSize        = 28
	direntSize        = 32
)

// First-byte sentinels in the name field.
const (
	deFreeDeleted = 0xE5
	deEndOfDir    = 0x00
)

// Attribute bits.
const (
	attrReadOnly = 1 << 0
	attrHidden   = 1 << 1
	attrSystem   = 1 << 2
	attrVolumeID = 1 << 3
	attrDir      = 1 << 4
	attrArchive  = 1 << 5
)

// Filler byte sequences used when synthesizing new entries. These are the
// observed reference values; existing entries keep the filler bytes they
// already have.
var (
	dirFillerA = [8]byte{0x00, 0x00, 0x43, 0x8D, 0x6B, 0x42, 0x6B, 0x42}
	dirFillerB = [4]byte{0x43, 0x8D, 0x6B, 0x42}
	fileFillerA = [8]byte{0x20, 0x00, 0x64, 0xA5, 0x7C, 0x64, 0x42, 0x92}
	fileFillerB = [4]byte{0xA5, 0x7C, 0x64, 0x42}
)

// dirent is a byte-view over one 32-byte on-disk directory entry.
type dirent struct{ data []byte }

func (d dirent) nameBytes() []byte  { return d.data[deName : deName+deNameLen] }
func (d dirent) attrib() byte       { return d.data[deAttrib] }
func (d dirent) setAttrib(a byte)   { d.data[deAttrib] = a }
func (d dirent) firstCluster() uint32 {
	hi := binary.LittleEndian.Uint16(d.data[deFirstClusterHi:])
	lo := binary.LittleEndian.Uint16(d.data[deFirstClusterLo:])
	return uint32(hi)<<16 | uint32(lo)
}
func (d dirent) setFirstCluster(c uint32) {
	binary.LittleEndian.PutUint16(d.data[deFirstClusterHi:], uint16(c>>16))
	binary.LittleEndian.PutUint16(d.data[deFirstClusterLo:], uint16(c))
}
func (d dirent) fileSize() uint32     { return binary.LittleEndian.Uint32(d.data[deFileSize:]) }
func (d dirent) setFileSize(sz uint32) { binary.LittleEndian.PutUint32(d.data[deFileSize:], sz) }

func (d dirent) markDeleted() { d.data[deName] = deFreeDeleted }

func (d dirent) writeFiller(isDir bool) {
	a, b := fileFillerA, fileFillerB
	if isDir {
		a, b = dirFillerA, dirFillerB
	}
	copy(d.data[deFillerA:deFillerA+8], a[:])
	copy(d.data[deFillerB:deFillerB+4], b[:])
}

// CondensedEntry is the in-memory view of a directory entry, translated
// from the raw 11-byte on-disk name.
type CondensedEntry struct {
	Name         [11]byte
	IsDir        bool
	IsHidden     bool
	IsEmpty      bool // end-of-directory marker reached
	FirstCluster uint32
	FileSize     uint32
}

func (d dirent) condense() CondensedEntry {
	var c CondensedEntry
	copy(c.Name[:], d.nameBytes())
	c.IsDir = d.attrib()&attrDir != 0
	c.IsHidden = d.attrib()&attrHidden != 0
	c.FirstCluster = d.firstCluster()
	c.FileSize = d.fileSize()
	return c
}

// validNameChars is the alphabet allowed in an 8.3 base or extension,
// besides letters, digits, and bytes > 127.
const validNameChars = "!#$%&()-@^_`{}~ ."

func isValidNameByte(b byte) bool {
	if b >= 'a' && b <= 'z' {
		return true
	}
	if b >= 'A' && b <= 'Z' {
		return true
	}
	if b >= '0' && b <= '9' {
		return true
	}
	if b > 127 {
		return true
	}
	return strings.IndexByte(validNameChars, b) >= 0
}

// toUpper folds a-z to A-Z; everything else is unchanged.
func toUpper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}

// encodeName8_3 translates a human name (e.g. "readme.txt") into its
// 11-byte on-disk form: base right-padded with spaces to 8 bytes,
// extension right-padded to 3. Directory names may not have an extension
// and are limited to 8 characters; file names to 12 including the dot.
func encodeName8_3(name string, isDir bool) ([11]byte, error) {
	var out [11]byte
	if name == "" {
		return out, errkind.InvalidName
	}
	if name == "." || name == ".." {
		copy(out[:], name)
		for i := len(name); i < 11; i++ {
			out[i] = ' '
		}
		return out, nil
	}

	name = nameCaser.String(name)
	base, ext, hasDot := strings.Cut(name, ".")
	if isDir {
		if hasDot || len(base) > 8 {
			return out, errkind.InvalidName
		}
	} else {
		maxLen := 12
		if len(name) > maxLen {
			return out, errkind.InvalidName
		}
	}
	if len(base) == 0 || len(base) > 8 || len(ext) > 3 {
		return out, errkind.InvalidName
	}
	for i := 0; i < len(base); i++ {
		b := byte(base[i])
		if !isValidNameByte(b) {
			return out, errkind.InvalidName
		}
		out[i] = toUpper(b)
	}
	for i := len(base); i < 8; i++ {
		out[i] = ' '
	}
	for i := 0; i < len(ext); i++ {
		b := byte(ext[i])
		if !isValidNameByte(b) {
			return out, errkind.InvalidName
		}
		out[8+i] = toUpper(b)
	}
	for i := 8 + len(ext); i < 11; i++ {
		out[i] = ' '
	}
	return out, nil
}

// decodeName8_3 reverses encodeName8_3: strips trailing spaces from base
// and extension, and reintroduces the dot iff the extension is non-empty.
func decodeName8_3(raw [11]byte) string {
	if raw[0] == '.' {
		if raw[1] == '.' {
			return ".."
		}
		return "."
	}
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}
