package zipfile

import (
	"bytes"
	"crypto/aes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZipCryptoRoundTrip(t *testing.T) {
	if err := zipCryptoAvailable(); err != nil {
		t.Skip("zipcrypto disabled on this host")
	}
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	password := []byte("s3cret")
	const check = byte(0x42)

	var buf bytes.Buffer
	w, err := newZipCryptoWriter(&buf, password, check)
	require.NoError(t, err)
	_, err = w.Write(plaintext)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, zipCryptoHeaderLen+len(plaintext), buf.Len())

	r, err := newZipCryptoReader(bytes.NewReader(buf.Bytes()), password, check)
	require.NoError(t, err)
	got := make([]byte, len(plaintext))
	_, err = io.ReadFull(r, got)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestZipCryptoKeysDeterministic(t *testing.T) {
	a := newZipCryptoKeys([]byte("password"))
	b := newZipCryptoKeys([]byte("password"))
	assert.Equal(t, a, b)

	c := newZipCryptoKeys([]byte("passworD"))
	assert.NotEqual(t, a, c)
}

func TestWinzipCTRCounterLittleEndian(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	ctr, err := newWinzipCTR(key)
	require.NoError(t, err)

	// Three blocks of zeros: the keystream must be AES(counter) for
	// little-endian counters 1, 2, 3.
	got := make([]byte, 48)
	ctr.XORKeyStream(got, make([]byte, 48))

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	want := make([]byte, 48)
	counter := make([]byte, 16)
	for i := 0; i < 3; i++ {
		counter[0] = byte(i + 1)
		block.Encrypt(want[i*16:], counter)
	}
	assert.Equal(t, want, got)
}

func TestWinzipCTRCounterCarry(t *testing.T) {
	key := make([]byte, 16)
	ctr, err := newWinzipCTR(key)
	require.NoError(t, err)

	// Drain 256 blocks so the low counter byte wraps and carries.
	ctr.XORKeyStream(make([]byte, 256*16), make([]byte, 256*16))

	assert.Equal(t, byte(0), ctr.counter[0])
	assert.Equal(t, byte(1), ctr.counter[1])
}

func TestAESPayloadRoundTrip(t *testing.T) {
	for _, method := range []EncryptionMethod{EncryptionAES128, EncryptionAES192, EncryptionAES256} {
		t.Run(method.String(), func(t *testing.T) {
			compressed := []byte("pretend this is deflate output")
			password := []byte("hunter2")

			var buf bytes.Buffer
			w, err := newAESWriter(&buf, password, method)
			require.NoError(t, err)
			_, err = w.Write(compressed)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			f := &WinZipAESExtra{VendorVersion: 1, Strength: aesStrength(method), Method: Deflate}
			assert.Equal(t, f.saltSize()+aesVerifierLen+len(compressed)+aesMACLen, buf.Len())

			got, err := decryptAESPayload(buf.Bytes(), password, f)
			require.NoError(t, err)
			assert.Equal(t, compressed, got)
		})
	}
}

func TestAESPayloadWrongPassword(t *testing.T) {
	var buf bytes.Buffer
	w, err := newAESWriter(&buf, []byte("right"), EncryptionAES256)
	require.NoError(t, err)
	_, err = w.Write([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f := &WinZipAESExtra{VendorVersion: 2, Strength: 3, Method: Store}
	_, err = decryptAESPayload(buf.Bytes(), []byte("wrong"), f)
	assert.ErrorIs(t, err, ErrWrongPassword)

	_, err = decryptAESPayload(buf.Bytes(), nil, f)
	assert.ErrorIs(t, err, ErrPasswordRequired)
}

func TestAESPayloadTamperedCiphertext(t *testing.T) {
	var buf bytes.Buffer
	w, err := newAESWriter(&buf, []byte("pw"), EncryptionAES128)
	require.NoError(t, err)
	_, err = w.Write([]byte("some longer content for the mac to cover"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	payload := buf.Bytes()
	f := &WinZipAESExtra{VendorVersion: 1, Strength: 1, Method: Store}

	// Flip one ciphertext bit: the password verifier still matches, so
	// the failure must come from the HMAC.
	payload[f.saltSize()+aesVerifierLen] ^= 0x01
	_, err = decryptAESPayload(payload, []byte("pw"), f)
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestAESPayloadTooShort(t *testing.T) {
	f := &WinZipAESExtra{VendorVersion: 1, Strength: 3, Method: Store}
	_, err := decryptAESPayload(make([]byte, 10), []byte("pw"), f)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestAESVendorVersion(t *testing.T) {
	assert.Equal(t, uint16(2), aesVendorVersion(Deflate, 19, true))
	assert.Equal(t, uint16(1), aesVendorVersion(Deflate, 20, true))
	assert.Equal(t, uint16(2), aesVendorVersion(BZip2, 1<<20, true))
	assert.Equal(t, uint16(1), aesVendorVersion(Store, 0, false))
	assert.Equal(t, uint16(2), aesVendorVersion(BZip2, 0, false))
}
