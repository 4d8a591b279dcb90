package zipfile

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// WinZip AES encryption, per http://www.winzip.com/aes_info.htm:
// the compressed payload is wrapped as
//
//	salt || password verifier (2) || AES-CTR ciphertext || HMAC-SHA1 tail (10)
//
// with keys derived by PBKDF2-HMAC-SHA1 over the password and salt. The
// CTR block counter is little-endian and starts at 1, which rules out the
// standard library's big-endian cipher.NewCTR.
const (
	aesKeyIterations = 1000
	aesVerifierLen   = 2
	aesMACLen        = 10
)

// aesStrength returns the key strength code for the 0x9901 extra field.
func aesStrength(m EncryptionMethod) byte {
	switch m {
	case EncryptionAES128:
		return 1
	case EncryptionAES192:
		return 2
	default:
		return 3
	}
}

// deriveAESKeys stretches the password into cipher key, HMAC key and the
// two-byte password verifier.
func deriveAESKeys(password, salt []byte, keySize int) (cipherKey, hmacKey, verifier []byte) {
	km := pbkdf2.Key(password, salt, aesKeyIterations, 2*keySize+aesVerifierLen, sha1.New)
	return km[:keySize], km[keySize : 2*keySize], km[2*keySize:]
}

// winzipCTR is AES-CTR with a 16-byte little-endian block counter
// initialized to 1.
type winzipCTR struct {
	block   cipher.Block
	counter [aes.BlockSize]byte
	stream  [aes.BlockSize]byte
	used    int
}

func newWinzipCTR(key []byte) (*winzipCTR, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &winzipCTR{block: block, used: aes.BlockSize}, nil
}

func (c *winzipCTR) refill() {
	// Increment low byte first, with carry.
	for i := 0; i < aes.BlockSize; i++ {
		c.counter[i]++
		if c.counter[i] != 0 {
			break
		}
	}
	c.block.Encrypt(c.stream[:], c.counter[:])
	c.used = 0
}

func (c *winzipCTR) XORKeyStream(dst, src []byte) {
	for i := range src {
		if c.used == aes.BlockSize {
			c.refill()
		}
		dst[i] = src[i] ^ c.stream[c.used]
		c.used++
	}
}

// decryptAESPayload authenticates and decrypts a complete WinZip AES
// payload, returning the compressed data.
func decryptAESPayload(payload, password []byte, f *WinZipAESExtra) ([]byte, error) {
	saltLen := f.saltSize()
	if len(payload) < saltLen+aesVerifierLen+aesMACLen {
		return nil, fmt.Errorf("%w: aes payload of %d bytes", ErrFormat, len(payload))
	}
	if password == nil {
		return nil, ErrPasswordRequired
	}
	salt := payload[:saltLen]
	verifier := payload[saltLen : saltLen+aesVerifierLen]
	ciphertext := payload[saltLen+aesVerifierLen : len(payload)-aesMACLen]
	tail := payload[len(payload)-aesMACLen:]

	cipherKey, hmacKey, wantVerifier := deriveAESKeys(password, salt, f.keySize())
	if subtle.ConstantTimeCompare(verifier, wantVerifier) != 1 {
		return nil, ErrWrongPassword
	}

	mac := hmac.New(sha1.New, hmacKey)
	mac.Write(ciphertext)
	if subtle.ConstantTimeCompare(mac.Sum(nil)[:aesMACLen], tail) != 1 {
		return nil, ErrAuthentication
	}

	ctr, err := newWinzipCTR(cipherKey)
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(ciphertext))
	ctr.XORKeyStream(plain, ciphertext)
	return plain, nil
}

// newAESWriter starts a WinZip AES payload on w: it emits the salt and
// password verifier immediately and returns a writer that encrypts and
// authenticates everything written to it. Close appends the HMAC tail.
func newAESWriter(w io.Writer, password []byte, method EncryptionMethod) (io.WriteCloser, error) {
	keySize := 8 + 8*int(aesStrength(method))
	salt := make([]byte, keySize/2)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	cipherKey, hmacKey, verifier := deriveAESKeys(password, salt, keySize)
	ctr, err := newWinzipCTR(cipherKey)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(salt); err != nil {
		return nil, err
	}
	if _, err := w.Write(verifier); err != nil {
		return nil, err
	}
	return &aesWriter{
		w:   w,
		ctr: ctr,
		mac: hmac.New(sha1.New, hmacKey),
	}, nil
}

type aesWriter struct {
	w   io.Writer
	ctr *winzipCTR
	mac hash.Hash
	buf []byte
}

func (a *aesWriter) Write(p []byte) (int, error) {
	if cap(a.buf) < len(p) {
		a.buf = make([]byte, len(p))
	}
	buf := a.buf[:len(p)]
	a.ctr.XORKeyStream(buf, p)
	a.mac.Write(buf)
	n, err := a.w.Write(buf)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

func (a *aesWriter) Close() error {
	_, err := a.w.Write(a.mac.Sum(nil)[:aesMACLen])
	return err
}
