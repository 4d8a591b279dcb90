package zipfile

import (
	"crypto/rand"
	"fmt"
	"hash/crc32"
	"io"
	"math/bits"
)

// Traditional PKWARE encryption ("ZipCrypto"), APPNOTE section 6.1: a
// stream cipher keyed by the password, with a 12-byte encryption header
// preceding the payload. The last decrypted header byte doubles as a
// cheap password check.
const zipCryptoHeaderLen = 12

// zipCryptoAvailable rejects the method on 32-bit hosts, where the key
// arithmetic below is not performed at full width.
func zipCryptoAvailable() error {
	if bits.UintSize < 64 {
		return fmt.Errorf("%w: zipcrypto requires a 64-bit host", ErrAlgorithm)
	}
	return nil
}

type zipCryptoKeys struct {
	k0, k1, k2 uint32
}

func newZipCryptoKeys(password []byte) zipCryptoKeys {
	k := zipCryptoKeys{k0: 0x12345678, k1: 0x23456789, k2: 0x34567890}
	for _, c := range password {
		k.update(c)
	}
	return k
}

func crcUpdateByte(crc uint32, b byte) uint32 {
	return crc32.IEEETable[byte(crc)^b] ^ (crc >> 8)
}

func (k *zipCryptoKeys) update(c byte) {
	k.k0 = crcUpdateByte(k.k0, c)
	k.k1 = (k.k1+(k.k0&0xff))*134775813 + 1
	k.k2 = crcUpdateByte(k.k2, byte(k.k1>>24))
}

func (k *zipCryptoKeys) streamByte() byte {
	t := k.k2 | 2
	return byte((t * (t ^ 1)) >> 8)
}

func (k *zipCryptoKeys) decryptByte(c byte) byte {
	p := c ^ k.streamByte()
	k.update(p)
	return p
}

func (k *zipCryptoKeys) encryptByte(p byte) byte {
	c := p ^ k.streamByte()
	k.update(p)
	return c
}

// zipCryptoCheckByte is the value the last decrypted header byte is
// compared against: the high byte of the CRC, or the high byte of the
// DOS time field when a data descriptor defers the CRC.
func zipCryptoCheckByte(e *Entry) byte {
	if e.flags&flagDataDescriptor != 0 {
		return byte(e.dosTime >> 8)
	}
	return byte(e.crc >> 24)
}

// newZipCryptoReader consumes and verifies the 12-byte encryption header
// and returns a reader over the decrypted stream.
func newZipCryptoReader(r io.Reader, password []byte, check byte) (io.Reader, error) {
	if err := zipCryptoAvailable(); err != nil {
		return nil, err
	}
	keys := newZipCryptoKeys(password)
	var hdr [zipCryptoHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	for i := range hdr {
		hdr[i] = keys.decryptByte(hdr[i])
	}
	if hdr[zipCryptoHeaderLen-1] != check {
		return nil, ErrWrongPassword
	}
	return &zipCryptoReader{r: r, keys: keys}, nil
}

type zipCryptoReader struct {
	r    io.Reader
	keys zipCryptoKeys
}

func (z *zipCryptoReader) Read(p []byte) (int, error) {
	n, err := z.r.Read(p)
	for i := 0; i < n; i++ {
		p[i] = z.keys.decryptByte(p[i])
	}
	return n, err
}

// newZipCryptoWriter emits the 12-byte encryption header and returns a
// writer that encrypts everything written to it onto w.
func newZipCryptoWriter(w io.Writer, password []byte, check byte) (io.WriteCloser, error) {
	if err := zipCryptoAvailable(); err != nil {
		return nil, err
	}
	keys := newZipCryptoKeys(password)
	var hdr [zipCryptoHeaderLen]byte
	if _, err := rand.Read(hdr[:zipCryptoHeaderLen-1]); err != nil {
		return nil, err
	}
	hdr[zipCryptoHeaderLen-1] = check
	for i := range hdr {
		hdr[i] = keys.encryptByte(hdr[i])
	}
	if _, err := w.Write(hdr[:]); err != nil {
		return nil, err
	}
	return &zipCryptoWriter{w: w, keys: keys}, nil
}

type zipCryptoWriter struct {
	w    io.Writer
	keys zipCryptoKeys
	buf  []byte
}

func (z *zipCryptoWriter) Write(p []byte) (int, error) {
	if cap(z.buf) < len(p) {
		z.buf = make([]byte, len(p))
	}
	buf := z.buf[:len(p)]
	for i, c := range p {
		buf[i] = z.keys.encryptByte(c)
	}
	n, err := z.w.Write(buf)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func (z *zipCryptoWriter) Close() error { return nil }
