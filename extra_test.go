package zipfile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtraFieldsUnknownRoundTrip(t *testing.T) {
	blob := []byte{
		0x34, 0x12, 0x03, 0x00, 0xaa, 0xbb, 0xcc, // id 0x1234, 3 bytes
		0x78, 0x56, 0x00, 0x00, // id 0x5678, empty
	}
	x, err := parseExtraFields(blob, true, nil)
	require.NoError(t, err)
	require.Equal(t, 2, x.Len())

	raw, ok := x.Get(0x1234).(*RawExtraField)
	require.True(t, ok)
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc}, raw.Data)

	out, err := x.encode(true)
	require.NoError(t, err)
	assert.Equal(t, blob, out)
}

func TestParseExtraFieldsDuplicateKeepsLast(t *testing.T) {
	blob := []byte{
		0x34, 0x12, 0x01, 0x00, 0x01,
		0x34, 0x12, 0x01, 0x00, 0x02,
	}
	x, err := parseExtraFields(blob, true, nil)
	require.NoError(t, err)
	require.Equal(t, 1, x.Len())
	raw := x.Get(0x1234).(*RawExtraField)
	assert.Equal(t, []byte{0x02}, raw.Data)
}

func TestParseExtraFieldsOvershoot(t *testing.T) {
	blob := []byte{0x34, 0x12, 0x05, 0x00, 0xaa, 0xbb} // declares 5, has 2
	_, err := parseExtraFields(blob, true, nil)
	assert.ErrorIs(t, err, ErrMalformedExtra)
}

func TestWinZipAESExtra(t *testing.T) {
	f := &WinZipAESExtra{VendorVersion: 2, Strength: 3, Method: Deflate}
	payload := f.encode(true)
	assert.Equal(t, []byte{0x02, 0x00, 'A', 'E', 0x03, 0x08, 0x00}, payload)

	got, err := decodeWinZipAESExtra(payload, true)
	require.NoError(t, err)
	assert.Equal(t, f, got)

	aes := got.(*WinZipAESExtra)
	assert.Equal(t, 32, aes.keySize())
	assert.Equal(t, 16, aes.saltSize())
	assert.Equal(t, EncryptionAES256, aes.encryptionMethod())
}

func TestWinZipAESExtraValidation(t *testing.T) {
	base := []byte{0x01, 0x00, 'A', 'E', 0x02, 0x08, 0x00}

	bad := append([]byte(nil), base...)
	bad[2] = 'X' // vendor id
	_, err := decodeWinZipAESExtra(bad, true)
	assert.ErrorIs(t, err, ErrMalformedExtra)

	bad = append([]byte(nil), base...)
	bad[0] = 3 // vendor version
	_, err = decodeWinZipAESExtra(bad, true)
	assert.ErrorIs(t, err, ErrMalformedExtra)

	bad = append([]byte(nil), base...)
	bad[4] = 4 // strength
	_, err = decodeWinZipAESExtra(bad, true)
	assert.ErrorIs(t, err, ErrMalformedExtra)

	_, err = decodeWinZipAESExtra(base[:6], true)
	assert.ErrorIs(t, err, ErrMalformedExtra)
}

func TestZip64ExtraCentralSentinelDriven(t *testing.T) {
	// Only the uncompressed size and header offset are saturated in the
	// owning record, so the field carries exactly those two values.
	var payload [16]byte
	b := writeBuf(payload[:])
	b.uint64(5_000_000_000)
	b.uint64(4_300_000_000)

	blob := append([]byte{0x01, 0x00, 0x10, 0x00}, payload[:]...)
	x, err := parseExtraFields(blob, false, &zip64Context{
		needUncompressedSize: true,
		needHeaderOffset:     true,
	})
	require.NoError(t, err)

	f := x.Get(zip64ExtraID).(*Zip64Extra)
	assert.True(t, f.HasUncompressedSize)
	assert.False(t, f.HasCompressedSize)
	assert.True(t, f.HasLocalHeaderOffset)
	assert.Equal(t, uint64(5_000_000_000), f.UncompressedSize)
	assert.Equal(t, uint64(4_300_000_000), f.LocalHeaderOffset)

	// Canonical re-encode contains only the present fields.
	assert.Len(t, f.encode(false), 16)
}

func TestZip64ExtraLocalForm(t *testing.T) {
	f, err := decodeZip64Extra(nil, true, nil)
	require.NoError(t, err)
	assert.False(t, f.(*Zip64Extra).HasUncompressedSize)

	var payload [16]byte
	b := writeBuf(payload[:])
	b.uint64(10)
	b.uint64(20)
	f, err = decodeZip64Extra(payload[:], true, nil)
	require.NoError(t, err)
	z := f.(*Zip64Extra)
	assert.Equal(t, uint64(10), z.UncompressedSize)
	assert.Equal(t, uint64(20), z.CompressedSize)

	_, err = decodeZip64Extra(payload[:8], true, nil)
	assert.ErrorIs(t, err, ErrMalformedExtra)
}

func TestExtTimeExtraLocalVsCentral(t *testing.T) {
	f := &ExtTimeExtra{
		Flags:      extTimeModTime | extTimeAccessTime,
		ModTime:    1_600_000_000,
		AccessTime: 1_600_000_100,
	}
	assert.Len(t, f.encode(true), 9)
	assert.Len(t, f.encode(false), 5)

	got, err := decodeExtTimeExtra(f.encode(true), true)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestNtfsExtraRoundTrip(t *testing.T) {
	f := &NtfsExtra{
		ModTime:    time.Date(2021, time.May, 1, 2, 3, 4, 500e6, time.UTC),
		AccessTime: time.Date(2021, time.May, 2, 0, 0, 0, 0, time.UTC),
		CreateTime: time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC),
	}
	got, err := decodeNtfsExtra(f.encode(true), true)
	require.NoError(t, err)
	g := got.(*NtfsExtra)
	assert.True(t, g.ModTime.Equal(f.ModTime))
	assert.True(t, g.AccessTime.Equal(f.AccessTime))
	assert.True(t, g.CreateTime.Equal(f.CreateTime))
}

func TestNewUnixExtraRoundTrip(t *testing.T) {
	f := &NewUnixExtra{UID: 1000, GID: 1000}
	got, err := decodeNewUnixExtra(f.encode(true), true)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestUnicodePathExtraRoundTrip(t *testing.T) {
	f := &UnicodePathExtra{NameCRC32: 0xdeadbeef, Name: "útf8/ñame.txt"}
	got, err := decodeUnicodePathExtra(f.encode(false), false)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestApkAlignExtra(t *testing.T) {
	f := &ApkAlignExtra{Alignment: 4096, Padding: 3}
	payload := f.encode(true)
	assert.Len(t, payload, 5)

	got, err := decodeApkAlignExtra(payload, true)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestJarMarkerExtra(t *testing.T) {
	got, err := decodeJarMarkerExtra(nil, true)
	require.NoError(t, err)
	assert.Equal(t, &JarMarkerExtra{}, got)

	_, err = decodeJarMarkerExtra([]byte{0}, true)
	assert.ErrorIs(t, err, ErrMalformedExtra)
}

func TestExtraFieldsAddReplacesInPlace(t *testing.T) {
	x := &ExtraFields{}
	x.Add(&RawExtraField{ID: 1, Data: []byte{1}})
	x.Add(&RawExtraField{ID: 2, Data: []byte{2}})
	x.Add(&RawExtraField{ID: 1, Data: []byte{9}})
	require.Equal(t, 2, x.Len())
	assert.Equal(t, []byte{9}, x.Get(1).(*RawExtraField).Data)
	assert.Equal(t, uint16(1), x.Fields()[0].HeaderID())

	x.Remove(1)
	assert.False(t, x.Has(1))
	assert.Equal(t, 1, x.Len())
}
