package zipfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
	"unicode/utf8"
)

// entryData is the payload attached to an entry: bytes supplied by the
// caller, a caller-supplied stream, or a range of the source archive.
// Directory entries carry nil data.
type entryData interface {
	// size returns the uncompressed size, if known up front.
	size() (uint64, bool)
}

// bytesData is caller-owned plaintext held in memory.
type bytesData struct {
	b []byte
}

func (d *bytesData) size() (uint64, bool) { return uint64(len(d.b)), true }

// readerData is a caller-supplied plaintext stream, consumed once on
// write.
type readerData struct {
	r io.Reader
}

func (d *readerData) size() (uint64, bool) {
	if s, ok := d.r.(interface{ Size() int64 }); ok {
		return uint64(s.Size()), true
	}
	return 0, false
}

// sourceData references compressed payload bytes inside the archive the
// entry was read from. The bytes are fetched lazily, so an unmodified
// entry can be spliced into the output without recompression.
type sourceData struct {
	src              *sourceArchive
	headerOffset     int64
	compressedSize   uint64
	uncompressedSize uint64
}

func (d *sourceData) size() (uint64, bool) { return d.uncompressedSize, true }

// An Entry is one file or directory record of an archive. Entries are
// created by opening an archive or by the Put methods of a Container and
// are mutated in place through setters; the container tracks the baseline
// state for revert and for the raw-copy decision on write.
type Entry struct {
	name             string
	createdOS        byte
	extractedOS      byte
	versionMadeBy    uint16 // low byte; 0 means derive on write
	versionNeeded    uint16 // 0 means derive on write
	method           uint16
	level            int
	flags            uint16
	dosTime          uint32
	modified         time.Time // zero when only the DOS time is known
	crc              uint32
	compressedSize   uint64
	uncompressedSize uint64
	headerOffset     uint64
	internalAttrs    uint16
	externalAttrs    uint32
	localExtras      *ExtraFields
	centralExtras    *ExtraFields
	comment          string
	password         []byte
	encryption       EncryptionMethod
	data             entryData
}

// NewEntry creates a detached entry with the given name. Names use forward
// slashes; a trailing slash marks a directory. The entry carries no data
// until it is put into a container.
func NewEntry(name string) (*Entry, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	e := &Entry{
		name:          name,
		method:        Deflate,
		level:         CompressionLevelDefault,
		dosTime:       timeToDosTime(time.Now()),
		modified:      time.Now(),
		localExtras:   &ExtraFields{},
		centralExtras: &ExtraFields{},
	}
	if e.IsDir() {
		e.method = Store
	}
	return e, nil
}

func validateName(name string) error {
	if name == "" {
		return errEmptyName
	}
	if len(name) > uint16max {
		return errLongName
	}
	return nil
}

// Name returns the entry name.
func (e *Entry) Name() string { return e.name }

// IsDir reports whether the entry is a directory, which is encoded as a
// trailing forward slash in the name.
func (e *Entry) IsDir() bool { return strings.HasSuffix(e.name, "/") }

// Method returns the compression method.
func (e *Entry) Method() uint16 { return e.method }

// SetMethod sets the compression method to Store, Deflate or BZip2.
func (e *Entry) SetMethod(method uint16) error {
	switch method {
	case Store, Deflate, BZip2:
		e.method = method
		return nil
	}
	return fmt.Errorf("%w: compression method %d", ErrAlgorithm, method)
}

// CompressionLevel returns the compression level, or
// CompressionLevelDefault.
func (e *Entry) CompressionLevel() int { return e.level }

// SetCompressionLevel sets the compression level. Valid levels are 1
// through 9 and CompressionLevelDefault.
func (e *Entry) SetCompressionLevel(level int) error {
	if level != CompressionLevelDefault && (level < 1 || level > 9) {
		return fmt.Errorf("zipfile: invalid compression level %d", level)
	}
	e.level = level
	return nil
}

// EncryptionMethod returns the entry's encryption method.
func (e *Entry) EncryptionMethod() EncryptionMethod { return e.encryption }

// IsEncrypted reports whether the entry payload is encrypted.
func (e *Entry) IsEncrypted() bool { return e.encryption != EncryptionNone }

// SetPassword sets the password and enables encryption. If a method is
// given it selects the cipher; otherwise the current method is kept, or
// AES-256 is used for a previously unencrypted entry. Passwords longer
// than 99 bytes are truncated. Directory entries are not encrypted.
func (e *Entry) SetPassword(password string, method ...EncryptionMethod) error {
	if e.IsDir() {
		return nil
	}
	if len(method) > 0 {
		if method[0] == EncryptionNone {
			e.DisableEncryption()
			return nil
		}
		e.encryption = method[0]
	} else if e.encryption == EncryptionNone {
		e.encryption = EncryptionAES256
	}
	if e.encryption == EncryptionZipCrypto {
		if err := zipCryptoAvailable(); err != nil {
			e.encryption = EncryptionNone
			return err
		}
	}
	if len(password) > maxPasswordLen {
		password = password[:maxPasswordLen]
	}
	e.password = []byte(password)
	e.flags |= flagEncrypted
	return nil
}

// DisableEncryption clears the password and encryption state. If the
// entry came from an archive with WinZip AES encryption, the compression
// method embedded in the AES extra field is restored.
func (e *Entry) DisableEncryption() {
	e.flags &^= flagEncrypted
	if e.method == WinZipAES {
		if f, ok := e.anyExtra(winZipAESExtraID).(*WinZipAESExtra); ok {
			e.method = f.Method
		} else {
			e.method = methodUnknown
		}
	}
	e.localExtras.Remove(winZipAESExtraID)
	e.centralExtras.Remove(winZipAESExtraID)
	e.encryption = EncryptionNone
	e.password = nil
}

// anyExtra looks the header ID up in the central collection first, then
// the local one.
func (e *Entry) anyExtra(id uint16) ExtraField {
	if f := e.centralExtras.Get(id); f != nil {
		return f
	}
	return e.localExtras.Get(id)
}

// Comment returns the entry comment.
func (e *Entry) Comment() string { return e.comment }

// SetComment sets the entry comment, at most 65535 bytes.
func (e *Entry) SetComment(comment string) error {
	if len(comment) > uint16max {
		return errLongComment
	}
	e.comment = comment
	return nil
}

// ModTime returns the modification time: the extended timestamp when the
// archive carried one, the DOS time otherwise.
func (e *Entry) ModTime() time.Time {
	if !e.modified.IsZero() {
		return e.modified
	}
	return dosTimeToTime(e.dosTime)
}

// SetModTime sets the modification time. The DOS time field clamps to the
// representable range 1980-01-01 through 2107-12-31.
func (e *Entry) SetModTime(t time.Time) {
	e.modified = t
	e.dosTime = timeToDosTime(t)
}

// DosTime returns the packed MS-DOS date and time.
func (e *Entry) DosTime() uint32 { return e.dosTime }

// SetDosTime sets the packed MS-DOS date and time directly.
func (e *Entry) SetDosTime(dosTime uint32) {
	e.dosTime = dosTime
	e.modified = time.Time{}
}

// CRC32 returns the stored CRC-32 of the uncompressed data. It is zero
// for WinZip AES entries using vendor version AE-2.
func (e *Entry) CRC32() uint32 { return e.crc }

// CompressedSize64 returns the compressed payload size, including any
// encryption framing.
func (e *Entry) CompressedSize64() uint64 { return e.compressedSize }

// UncompressedSize64 returns the uncompressed data size.
func (e *Entry) UncompressedSize64() uint64 { return e.uncompressedSize }

// LocalHeaderOffset returns the offset of the entry's local file header:
// in the source archive for an entry read from one, and in the output once
// the container has been written.
func (e *Entry) LocalHeaderOffset() uint64 { return e.headerOffset }

// InternalAttributes returns the internal file attributes.
func (e *Entry) InternalAttributes() uint16 { return e.internalAttrs }

// SetInternalAttributes sets the internal file attributes.
func (e *Entry) SetInternalAttributes(attrs uint16) { e.internalAttrs = attrs }

// ExternalAttributes returns the external file attributes; the meaning
// depends on the creator OS.
func (e *Entry) ExternalAttributes() uint32 { return e.externalAttrs }

// SetExternalAttributes sets the external file attributes.
func (e *Entry) SetExternalAttributes(attrs uint32) { e.externalAttrs = attrs }

// CreatedOS returns the OS code of the high byte of version-made-by.
func (e *Entry) CreatedOS() byte { return e.createdOS }

// SetCreatedOS sets the creator OS code.
func (e *Entry) SetCreatedOS(os byte) { e.createdOS = os }

// ExtractedOS returns the OS code associated with version-needed.
func (e *Entry) ExtractedOS() byte { return e.extractedOS }

// SetExtractedOS sets the extractor OS code.
func (e *Entry) SetExtractedOS(os byte) { e.extractedOS = os }

// Flags returns the general purpose bit flag.
func (e *Entry) Flags() uint16 { return e.flags }

// LocalExtraFields returns the extra fields attached to the local file
// header.
func (e *Entry) LocalExtraFields() *ExtraFields { return e.localExtras }

// CentralExtraFields returns the extra fields attached to the central
// directory record.
func (e *Entry) CentralExtraFields() *ExtraFields { return e.centralExtras }

// SetLocalExtra replaces the local extra fields with the parsed contents
// of a raw extra blob.
func (e *Entry) SetLocalExtra(data []byte) error {
	if len(data) > uint16max {
		return errLongExtra
	}
	x, err := parseExtraFields(data, true, nil)
	if err != nil {
		return err
	}
	e.localExtras = x
	return nil
}

// SetCentralExtra replaces the central extra fields with the parsed
// contents of a raw extra blob.
func (e *Entry) SetCentralExtra(data []byte) error {
	if len(data) > uint16max {
		return errLongExtra
	}
	x, err := parseExtraFields(data, false, nil)
	if err != nil {
		return err
	}
	e.centralExtras = x
	return nil
}

// Rename returns a copy of the entry under a new name, preserving all
// other fields. The receiver is not modified.
func (e *Entry) Rename(name string) (*Entry, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if e.IsDir() != strings.HasSuffix(name, "/") {
		return nil, fmt.Errorf("zipfile: rename %q to %q changes directory status", e.name, name)
	}
	n := e.clone()
	n.name = name
	return n, nil
}

// Mode returns the permission and mode bits of the entry.
func (e *Entry) Mode() (mode os.FileMode) {
	switch e.createdOS {
	case creatorUnix, creatorMacOSX:
		mode = unixModeToFileMode(e.externalAttrs >> 16)
	case creatorNTFS, creatorVFAT, creatorFAT:
		mode = msdosModeToFileMode(e.externalAttrs)
	}
	if e.IsDir() {
		mode |= os.ModeDir
	}
	return mode
}

// SetMode changes the permission and mode bits of the entry.
func (e *Entry) SetMode(mode os.FileMode) {
	e.createdOS = creatorUnix
	e.externalAttrs = fileModeToUnixMode(mode) << 16

	// set MSDOS attributes too, as the original zip does.
	if mode&os.ModeDir != 0 {
		e.externalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		e.externalAttrs |= msdosReadOnly
	}
}

// FileInfo returns an os.FileInfo for the entry.
func (e *Entry) FileInfo() os.FileInfo {
	return entryFileInfo{e}
}

type entryFileInfo struct {
	e *Entry
}

func (fi entryFileInfo) Name() string       { return path.Base(fi.e.name) }
func (fi entryFileInfo) Size() int64        { return int64(fi.e.uncompressedSize) }
func (fi entryFileInfo) IsDir() bool        { return fi.e.IsDir() }
func (fi entryFileInfo) ModTime() time.Time { return fi.e.ModTime() }
func (fi entryFileInfo) Mode() os.FileMode  { return fi.e.Mode() }
func (fi entryFileInfo) Sys() interface{}   { return fi.e }

// versionNeededToExtract derives the version-needed field when it was not
// set explicitly.
func (e *Entry) versionNeededToExtract() uint16 {
	if e.versionNeeded != 0 {
		return e.versionNeeded
	}
	switch {
	case e.method == WinZipAES || e.encryption == EncryptionAES128 ||
		e.encryption == EncryptionAES192 || e.encryption == EncryptionAES256:
		return zipVersion51
	case e.method == BZip2:
		return zipVersion46
	case e.isZip64():
		return zipVersion45
	case e.method == Deflate || e.IsDir():
		return zipVersion20
	}
	return zipVersion10
}

// madeByVersion returns the low byte of version-made-by, deriving it from
// the features in use when it was never set.
func (e *Entry) madeByVersion() byte {
	if e.versionMadeBy != 0 {
		return byte(e.versionMadeBy)
	}
	return byte(e.versionNeededToExtract())
}

// isZip64 reports whether either size saturates the 32 bit fields.
func (e *Entry) isZip64() bool {
	return e.compressedSize >= uint32max || e.uncompressedSize >= uint32max
}

// clone returns a deep copy. Attached extra field values are treated as
// immutable and shared; the collections themselves are copied.
func (e *Entry) clone() *Entry {
	n := *e
	n.localExtras = e.localExtras.clone()
	n.centralExtras = e.centralExtras.clone()
	if e.password != nil {
		n.password = append([]byte(nil), e.password...)
	}
	switch d := e.data.(type) {
	case *bytesData:
		n.data = &bytesData{b: d.b} // caller-owned, never mutated
	case *sourceData:
		sd := *d
		n.data = &sd
	}
	return &n
}

// rebuildRequired reports whether the entry must be recompressed and
// re-encrypted instead of being copied raw from the source archive.
func (e *Entry) rebuildRequired(base *Entry) bool {
	sd, ok := e.data.(*sourceData)
	if !ok || base == nil {
		return true
	}
	if _, ok := base.data.(*sourceData); !ok {
		return true
	}
	return e.method != base.method ||
		e.level != base.level ||
		e.encryption != base.encryption ||
		!bytes.Equal(e.password, base.password) ||
		e.crc != base.crc ||
		sd.compressedSize != base.compressedSize ||
		sd.uncompressedSize != base.uncompressedSize
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the string
// must be considered UTF-8 encoding (i.e., not compatible with CP-437, ASCII,
// or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encoding are compatible with a large
		// subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}
