package zipfile

import (
	"fmt"
	"time"
)

// An ExtraField is one tagged field of a header's extra area. Known header
// IDs decode into typed fields; everything else round-trips as a
// RawExtraField.
type ExtraField interface {
	// HeaderID returns the 16-bit ID identifying the field.
	HeaderID() uint16

	// encode serializes the field payload, without the id/size prefix.
	// Some fields use a shorter form in the central directory record than
	// in the local file header.
	encode(local bool) []byte
}

// extraDecoder turns a field payload into a typed ExtraField.
type extraDecoder func(data readBuf, local bool) (ExtraField, error)

// extraDecoders maps header IDs to their decoders. The Zip64 field is not
// here: its layout depends on the owning record and is decoded inline by
// parseExtraFields. Registration is init-time only.
var extraDecoders = map[uint16]extraDecoder{
	ntfsExtraID:           decodeNtfsExtra,
	extTimeExtraID:        decodeExtTimeExtra,
	oldUnixExtraID:        decodeOldUnixExtra,
	newUnixExtraID:        decodeNewUnixExtra,
	unicodePathExtraID:    decodeUnicodePathExtra,
	unicodeCommentExtraID: decodeUnicodeCommentExtra,
	asiUnixExtraID:        decodeAsiUnixExtra,
	winZipAESExtraID:      decodeWinZipAESExtra,
	jarMarkerExtraID:      decodeJarMarkerExtra,
	apkAlignExtraID:       decodeApkAlignExtra,
}

// RegisterExtraField installs a decoder for a custom header ID. It must be
// called before any archive is opened, typically from an init function.
// Registering an ID twice panics.
func RegisterExtraField(id uint16, decoder func(data []byte, local bool) (ExtraField, error)) {
	if _, ok := extraDecoders[id]; ok || id == zip64ExtraID {
		panic(fmt.Sprintf("zipfile: extra field 0x%04x already registered", id))
	}
	extraDecoders[id] = func(data readBuf, local bool) (ExtraField, error) {
		return decoder(data, local)
	}
}

// ExtraFields is an ordered collection of extra fields, unique by header
// ID. Each entry carries two collections, one for the local file header
// and one for the central directory record.
type ExtraFields struct {
	fields []ExtraField
}

// Get returns the field with the given header ID, or nil.
func (x *ExtraFields) Get(id uint16) ExtraField {
	for _, f := range x.fields {
		if f.HeaderID() == id {
			return f
		}
	}
	return nil
}

// Has reports whether a field with the given header ID is present.
func (x *ExtraFields) Has(id uint16) bool { return x.Get(id) != nil }

// Add inserts a field, replacing any existing field with the same ID in
// place.
func (x *ExtraFields) Add(f ExtraField) {
	for i, old := range x.fields {
		if old.HeaderID() == f.HeaderID() {
			x.fields[i] = f
			return
		}
	}
	x.fields = append(x.fields, f)
}

// Remove deletes the field with the given header ID, if present.
func (x *ExtraFields) Remove(id uint16) {
	for i, f := range x.fields {
		if f.HeaderID() == id {
			x.fields = append(x.fields[:i], x.fields[i+1:]...)
			return
		}
	}
}

// Len returns the number of fields.
func (x *ExtraFields) Len() int { return len(x.fields) }

// Fields returns the fields in order.
func (x *ExtraFields) Fields() []ExtraField {
	out := make([]ExtraField, len(x.fields))
	copy(out, x.fields)
	return out
}

func (x *ExtraFields) clone() *ExtraFields {
	c := &ExtraFields{}
	if len(x.fields) > 0 {
		c.fields = make([]ExtraField, len(x.fields))
		copy(c.fields, x.fields)
	}
	return c
}

// encode serializes all fields as id/size/payload triples.
func (x *ExtraFields) encode(local bool) ([]byte, error) {
	var out []byte
	for _, f := range x.fields {
		payload := f.encode(local)
		if len(payload) > uint16max {
			return nil, errLongExtra
		}
		var hdr [4]byte
		b := writeBuf(hdr[:])
		b.uint16(f.HeaderID())
		b.uint16(uint16(len(payload)))
		out = append(out, hdr[:]...)
		out = append(out, payload...)
	}
	if len(out) > uint16max {
		return nil, errLongExtra
	}
	return out, nil
}

// zip64Context carries the 32-bit fields of the record owning an extra
// blob. The central directory form of the Zip64 field only stores the
// values whose 32-bit counterparts hold the 0xFFFFFFFF sentinel, so the
// parser must consult the owning record to know which subfields to read.
type zip64Context struct {
	needUncompressedSize bool
	needCompressedSize   bool
	needHeaderOffset     bool
	needDiskStart        bool
}

// parseExtraFields decodes an extra blob into a typed collection. A header
// ID may appear at most once; later occurrences overwrite earlier ones,
// which tolerates archives written by sloppy tools.
func parseExtraFields(data []byte, local bool, z64 *zip64Context) (*ExtraFields, error) {
	x := &ExtraFields{}
	b := readBuf(data)
	for len(b) >= 4 {
		id := b.uint16()
		size := int(b.uint16())
		if size > len(b) {
			return nil, fmt.Errorf("%w: field 0x%04x of %d bytes exceeds %d remaining", ErrMalformedExtra, id, size, len(b))
		}
		payload := b.sub(size)

		var f ExtraField
		var err error
		if id == zip64ExtraID {
			f, err = decodeZip64Extra(payload, local, z64)
		} else if dec, ok := extraDecoders[id]; ok {
			f, err = dec(payload, local)
		} else {
			raw := make([]byte, len(payload))
			copy(raw, payload)
			f = &RawExtraField{ID: id, Data: raw}
		}
		if err != nil {
			return nil, err
		}
		x.Add(f)
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedExtra, len(b))
	}
	return x, nil
}

// RawExtraField preserves a field with an unrecognized header ID verbatim.
type RawExtraField struct {
	ID   uint16
	Data []byte
}

func (f *RawExtraField) HeaderID() uint16        { return f.ID }
func (f *RawExtraField) encode(local bool) []byte { return f.Data }

// Zip64Extra is the Zip64 extended information field (0x0001). In the
// central directory it carries only the values whose fixed 32-bit fields
// are saturated; in the local file header it is either absent or carries
// both sizes.
type Zip64Extra struct {
	UncompressedSize  uint64
	CompressedSize    uint64
	LocalHeaderOffset uint64
	DiskStart         uint32

	HasUncompressedSize  bool
	HasCompressedSize    bool
	HasLocalHeaderOffset bool
	HasDiskStart         bool
}

func (f *Zip64Extra) HeaderID() uint16 { return zip64ExtraID }

func (f *Zip64Extra) encode(local bool) []byte {
	if local {
		// Local form: both sizes or nothing.
		var buf [16]byte
		b := writeBuf(buf[:])
		b.uint64(f.UncompressedSize)
		b.uint64(f.CompressedSize)
		return buf[:]
	}
	buf := make([]byte, 0, 28)
	var tmp [8]byte
	put := func(v uint64, n int) {
		b := writeBuf(tmp[:])
		b.uint64(v)
		buf = append(buf, tmp[:n]...)
	}
	if f.HasUncompressedSize {
		put(f.UncompressedSize, 8)
	}
	if f.HasCompressedSize {
		put(f.CompressedSize, 8)
	}
	if f.HasLocalHeaderOffset {
		put(f.LocalHeaderOffset, 8)
	}
	if f.HasDiskStart {
		put(uint64(f.DiskStart), 4)
	}
	return buf
}

func decodeZip64Extra(b readBuf, local bool, z64 *zip64Context) (ExtraField, error) {
	f := &Zip64Extra{}
	if local {
		// The local form is either empty or exactly both sizes.
		switch len(b) {
		case 0:
			return f, nil
		case 16:
			f.UncompressedSize = b.uint64()
			f.CompressedSize = b.uint64()
			f.HasUncompressedSize = true
			f.HasCompressedSize = true
			return f, nil
		default:
			return nil, fmt.Errorf("%w: local zip64 field of %d bytes", ErrMalformedExtra, len(b))
		}
	}
	if z64 == nil {
		z64 = &zip64Context{}
	}
	if z64.needUncompressedSize {
		if len(b) < 8 {
			return nil, fmt.Errorf("%w: zip64 field too short for uncompressed size", ErrMalformedExtra)
		}
		f.UncompressedSize = b.uint64()
		f.HasUncompressedSize = true
	}
	if z64.needCompressedSize {
		if len(b) < 8 {
			return nil, fmt.Errorf("%w: zip64 field too short for compressed size", ErrMalformedExtra)
		}
		f.CompressedSize = b.uint64()
		f.HasCompressedSize = true
	}
	if z64.needHeaderOffset {
		if len(b) < 8 {
			return nil, fmt.Errorf("%w: zip64 field too short for header offset", ErrMalformedExtra)
		}
		f.LocalHeaderOffset = b.uint64()
		f.HasLocalHeaderOffset = true
	}
	if z64.needDiskStart {
		if len(b) < 4 {
			return nil, fmt.Errorf("%w: zip64 field too short for disk start", ErrMalformedExtra)
		}
		f.DiskStart = b.uint32()
		f.HasDiskStart = true
	}
	return f, nil
}

// WinZipAESExtra is the WinZip AES encryption field (0x9901).
// See: http://www.winzip.com/aes_info.htm
type WinZipAESExtra struct {
	// VendorVersion is 1 (AE-1, real CRC stored) or 2 (AE-2, CRC field is
	// zero and integrity relies on the HMAC tail).
	VendorVersion uint16

	// Strength is the key strength code: 1 for AES-128, 2 for AES-192,
	// 3 for AES-256.
	Strength byte

	// Method is the compression method of the payload before encryption.
	Method uint16
}

const winZipAESVendorID = 0x4541 // "AE"

func (f *WinZipAESExtra) HeaderID() uint16 { return winZipAESExtraID }

func (f *WinZipAESExtra) encode(local bool) []byte {
	var buf [7]byte
	b := writeBuf(buf[:])
	b.uint16(f.VendorVersion)
	b.uint16(winZipAESVendorID)
	b.uint8(f.Strength)
	b.uint16(f.Method)
	return buf[:]
}

// keySize returns the AES key size in bytes.
func (f *WinZipAESExtra) keySize() int { return 8 + 8*int(f.Strength) }

// saltSize returns the PBKDF2 salt size in bytes, half the key size.
func (f *WinZipAESExtra) saltSize() int { return f.keySize() / 2 }

// encryptionMethod maps the strength code to the public constant.
func (f *WinZipAESExtra) encryptionMethod() EncryptionMethod {
	switch f.Strength {
	case 1:
		return EncryptionAES128
	case 2:
		return EncryptionAES192
	default:
		return EncryptionAES256
	}
}

func decodeWinZipAESExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) != 7 {
		return nil, fmt.Errorf("%w: winzip aes field of %d bytes, want 7", ErrMalformedExtra, len(b))
	}
	f := &WinZipAESExtra{}
	f.VendorVersion = b.uint16()
	vendor := b.uint16()
	f.Strength = b.uint8()
	f.Method = b.uint16()
	if vendor != winZipAESVendorID {
		return nil, fmt.Errorf("%w: winzip aes vendor id 0x%04x", ErrMalformedExtra, vendor)
	}
	if f.VendorVersion != 1 && f.VendorVersion != 2 {
		return nil, fmt.Errorf("%w: winzip aes vendor version %d", ErrMalformedExtra, f.VendorVersion)
	}
	if f.Strength < 1 || f.Strength > 3 {
		return nil, fmt.Errorf("%w: winzip aes key strength %d", ErrMalformedExtra, f.Strength)
	}
	return f, nil
}

// NtfsExtra is the NTFS timestamp field (0x000A), carrying times with
// 100-nanosecond resolution.
type NtfsExtra struct {
	ModTime    time.Time
	AccessTime time.Time
	CreateTime time.Time
}

func (f *NtfsExtra) HeaderID() uint16 { return ntfsExtraID }

func (f *NtfsExtra) encode(local bool) []byte {
	var buf [32]byte
	b := writeBuf(buf[:])
	b.uint32(0) // reserved
	b.uint16(1) // attribute tag: file times
	b.uint16(24)
	b.uint64(timeToNtfsTime(f.ModTime))
	b.uint64(timeToNtfsTime(f.AccessTime))
	b.uint64(timeToNtfsTime(f.CreateTime))
	return buf[:]
}

func decodeNtfsExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("%w: ntfs field of %d bytes", ErrMalformedExtra, len(b))
	}
	b.uint32() // reserved
	f := &NtfsExtra{}
	for len(b) >= 4 {
		tag := b.uint16()
		size := int(b.uint16())
		if size > len(b) {
			return nil, fmt.Errorf("%w: ntfs attribute overflows field", ErrMalformedExtra)
		}
		attr := b.sub(size)
		if tag != 1 || size != 24 {
			continue
		}
		f.ModTime = ntfsTimeToTime(attr.uint64())
		f.AccessTime = ntfsTimeToTime(attr.uint64())
		f.CreateTime = ntfsTimeToTime(attr.uint64())
	}
	return f, nil
}

// Extended timestamp flags.
const (
	extTimeModTime    = 1 << 0
	extTimeAccessTime = 1 << 1
	extTimeCreateTime = 1 << 2
)

// ExtTimeExtra is the Info-ZIP extended timestamp field (0x5455). The
// central directory form carries the flags byte and modification time
// only; the local form carries every flagged time.
type ExtTimeExtra struct {
	Flags      uint8
	ModTime    uint32 // Unix seconds
	AccessTime uint32
	CreateTime uint32
}

func (f *ExtTimeExtra) HeaderID() uint16 { return extTimeExtraID }

func (f *ExtTimeExtra) encode(local bool) []byte {
	buf := []byte{f.Flags}
	var tmp [4]byte
	put := func(v uint32) {
		b := writeBuf(tmp[:])
		b.uint32(v)
		buf = append(buf, tmp[:]...)
	}
	if f.Flags&extTimeModTime != 0 {
		put(f.ModTime)
	}
	if local {
		if f.Flags&extTimeAccessTime != 0 {
			put(f.AccessTime)
		}
		if f.Flags&extTimeCreateTime != 0 {
			put(f.CreateTime)
		}
	}
	return buf
}

func decodeExtTimeExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: empty extended timestamp field", ErrMalformedExtra)
	}
	f := &ExtTimeExtra{Flags: b.uint8()}
	// The central form truncates after the modification time regardless of
	// the flags, so read whatever is actually present.
	if f.Flags&extTimeModTime != 0 && len(b) >= 4 {
		f.ModTime = b.uint32()
	}
	if f.Flags&extTimeAccessTime != 0 && len(b) >= 4 {
		f.AccessTime = b.uint32()
	}
	if f.Flags&extTimeCreateTime != 0 && len(b) >= 4 {
		f.CreateTime = b.uint32()
	}
	return f, nil
}

// OldUnixExtra is the Info-ZIP Unix field (0x5855). The local form carries
// uid/gid after the times; the central form does not.
type OldUnixExtra struct {
	AccessTime uint32 // Unix seconds
	ModTime    uint32
	UID        uint16
	GID        uint16
	HasIDs     bool
}

func (f *OldUnixExtra) HeaderID() uint16 { return oldUnixExtraID }

func (f *OldUnixExtra) encode(local bool) []byte {
	n := 8
	if local && f.HasIDs {
		n = 12
	}
	buf := make([]byte, n)
	b := writeBuf(buf)
	b.uint32(f.AccessTime)
	b.uint32(f.ModTime)
	if local && f.HasIDs {
		b.uint16(f.UID)
		b.uint16(f.GID)
	}
	return buf
}

func decodeOldUnixExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: unix field of %d bytes", ErrMalformedExtra, len(b))
	}
	f := &OldUnixExtra{}
	f.AccessTime = b.uint32()
	f.ModTime = b.uint32()
	if len(b) >= 4 {
		f.UID = b.uint16()
		f.GID = b.uint16()
		f.HasIDs = true
	}
	return f, nil
}

// NewUnixExtra is the Info-ZIP New Unix field (0x7875) carrying uid and
// gid. Values are stored with variable size; this implementation reads any
// size up to 8 bytes and always writes 4-byte values.
type NewUnixExtra struct {
	UID uint64
	GID uint64
}

func (f *NewUnixExtra) HeaderID() uint16 { return newUnixExtraID }

func (f *NewUnixExtra) encode(local bool) []byte {
	var buf [11]byte
	b := writeBuf(buf[:])
	b.uint8(1) // version
	b.uint8(4)
	b.uint32(uint32(f.UID))
	b.uint8(4)
	b.uint32(uint32(f.GID))
	return buf[:]
}

func decodeNewUnixExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 3 {
		return nil, fmt.Errorf("%w: new unix field of %d bytes", ErrMalformedExtra, len(b))
	}
	if v := b.uint8(); v != 1 {
		return nil, fmt.Errorf("%w: new unix field version %d", ErrMalformedExtra, v)
	}
	f := &NewUnixExtra{}
	readVar := func() (uint64, error) {
		if len(b) < 1 {
			return 0, fmt.Errorf("%w: truncated new unix field", ErrMalformedExtra)
		}
		n := int(b.uint8())
		if n > len(b) || n > 8 {
			return 0, fmt.Errorf("%w: new unix id of %d bytes", ErrMalformedExtra, n)
		}
		var v uint64
		for i, c := range b.sub(n) {
			v |= uint64(c) << (8 * i)
		}
		return v, nil
	}
	var err error
	if f.UID, err = readVar(); err != nil {
		return nil, err
	}
	if f.GID, err = readVar(); err != nil {
		return nil, err
	}
	return f, nil
}

// UnicodePathExtra is the Info-ZIP Unicode path field (0x7075).
type UnicodePathExtra struct {
	// NameCRC32 is the CRC-32 of the header's (non-Unicode) name field,
	// used to detect whether this field is stale.
	NameCRC32 uint32
	Name      string
}

func (f *UnicodePathExtra) HeaderID() uint16 { return unicodePathExtraID }

func (f *UnicodePathExtra) encode(local bool) []byte {
	buf := make([]byte, 5+len(f.Name))
	b := writeBuf(buf)
	b.uint8(1) // version
	b.uint32(f.NameCRC32)
	copy(b, f.Name)
	return buf
}

func decodeUnicodePathExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: unicode path field of %d bytes", ErrMalformedExtra, len(b))
	}
	if v := b.uint8(); v != 1 {
		return nil, fmt.Errorf("%w: unicode path field version %d", ErrMalformedExtra, v)
	}
	f := &UnicodePathExtra{}
	f.NameCRC32 = b.uint32()
	f.Name = string(b)
	return f, nil
}

// UnicodeCommentExtra is the Info-ZIP Unicode comment field (0x6375).
type UnicodeCommentExtra struct {
	CommentCRC32 uint32
	Comment      string
}

func (f *UnicodeCommentExtra) HeaderID() uint16 { return unicodeCommentExtraID }

func (f *UnicodeCommentExtra) encode(local bool) []byte {
	buf := make([]byte, 5+len(f.Comment))
	b := writeBuf(buf)
	b.uint8(1) // version
	b.uint32(f.CommentCRC32)
	copy(b, f.Comment)
	return buf
}

func decodeUnicodeCommentExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 5 {
		return nil, fmt.Errorf("%w: unicode comment field of %d bytes", ErrMalformedExtra, len(b))
	}
	if v := b.uint8(); v != 1 {
		return nil, fmt.Errorf("%w: unicode comment field version %d", ErrMalformedExtra, v)
	}
	f := &UnicodeCommentExtra{}
	f.CommentCRC32 = b.uint32()
	f.Comment = string(b)
	return f, nil
}

// AsiUnixExtra is the ASi Unix field (0x756E) carrying mode bits and an
// optional symlink target.
type AsiUnixExtra struct {
	CRC32      uint32
	Mode       uint16
	SizeDev    uint32
	UID        uint16
	GID        uint16
	LinkTarget string
}

func (f *AsiUnixExtra) HeaderID() uint16 { return asiUnixExtraID }

func (f *AsiUnixExtra) encode(local bool) []byte {
	buf := make([]byte, 14+len(f.LinkTarget))
	b := writeBuf(buf)
	b.uint32(f.CRC32)
	b.uint16(f.Mode)
	b.uint32(f.SizeDev)
	b.uint16(f.UID)
	b.uint16(f.GID)
	copy(b, f.LinkTarget)
	return buf
}

func decodeAsiUnixExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 14 {
		return nil, fmt.Errorf("%w: asi unix field of %d bytes", ErrMalformedExtra, len(b))
	}
	f := &AsiUnixExtra{}
	f.CRC32 = b.uint32()
	f.Mode = b.uint16()
	f.SizeDev = b.uint32()
	f.UID = b.uint16()
	f.GID = b.uint16()
	f.LinkTarget = string(b)
	return f, nil
}

// JarMarkerExtra is the empty executable-jar marker field (0xCAFE).
type JarMarkerExtra struct{}

func (f *JarMarkerExtra) HeaderID() uint16        { return jarMarkerExtraID }
func (f *JarMarkerExtra) encode(local bool) []byte { return nil }

func decodeJarMarkerExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: jar marker field of %d bytes, want 0", ErrMalformedExtra, len(b))
	}
	return &JarMarkerExtra{}, nil
}

// ApkAlignExtra is the Android zipalign padding field (0xD935).
type ApkAlignExtra struct {
	// Alignment is the byte multiple the entry payload is aligned to.
	Alignment uint16

	// Padding is the number of zero bytes following the alignment value.
	Padding int
}

func (f *ApkAlignExtra) HeaderID() uint16 { return apkAlignExtraID }

func (f *ApkAlignExtra) encode(local bool) []byte {
	buf := make([]byte, 2+f.Padding)
	b := writeBuf(buf)
	b.uint16(f.Alignment)
	return buf
}

func decodeApkAlignExtra(b readBuf, local bool) (ExtraField, error) {
	if len(b) < 2 {
		return nil, fmt.Errorf("%w: apk alignment field of %d bytes", ErrMalformedExtra, len(b))
	}
	f := &ApkAlignExtra{}
	f.Alignment = b.uint16()
	f.Padding = len(b)
	return f, nil
}
