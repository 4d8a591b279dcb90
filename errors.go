package zipfile

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the package. Errors wrapping additional
// context still match these with errors.Is.
var (
	// ErrNotZip is returned when no end-of-central-directory record can be
	// located in the input.
	ErrNotZip = errors.New("zipfile: not a valid zip archive")

	// ErrSpanning is returned for multi-disk (spanned or split) archives.
	ErrSpanning = errors.New("zipfile: spanned archives are not supported")

	// ErrFormat is returned when a fixed header carries a wrong signature or
	// is otherwise structurally invalid.
	ErrFormat = errors.New("zipfile: malformed header")

	// ErrMalformedExtra is returned when an extra field's declared length
	// runs off the end of the blob or a typed field fails validation.
	ErrMalformedExtra = errors.New("zipfile: malformed extra field")

	// ErrAlgorithm is returned when an entry uses a compression or
	// encryption method this package does not implement.
	ErrAlgorithm = errors.New("zipfile: unsupported method")

	// ErrChecksum is returned when decoded data does not match the stored
	// CRC-32.
	ErrChecksum = errors.New("zipfile: checksum mismatch")

	// ErrWrongPassword is returned when a password verifier does not match,
	// or decrypted data fails its integrity check.
	ErrWrongPassword = errors.New("zipfile: wrong password")

	// ErrAuthentication is returned when the HMAC authentication tail of a
	// WinZip AES entry does not match the ciphertext.
	ErrAuthentication = errors.New("zipfile: authentication failed")

	// ErrPasswordRequired is returned when reading an encrypted entry with
	// no password set.
	ErrPasswordRequired = errors.New("zipfile: password required")

	// ErrDuplicateEntry is returned by Rename when the target name is
	// already taken.
	ErrDuplicateEntry = errors.New("zipfile: entry already exists")

	errLongName    = errors.New("zipfile: entry name too long")
	errLongExtra   = errors.New("zipfile: extra field data too long")
	errLongComment = errors.New("zipfile: comment too long")
	errEmptyName   = errors.New("zipfile: empty entry name")
)

// EntryNotFoundError is returned when a named entry does not exist in the
// container.
type EntryNotFoundError struct {
	Name string
}

func (e *EntryNotFoundError) Error() string {
	return fmt.Sprintf("zipfile: entry %q not found", e.Name)
}

// entryError annotates an error with the name of the entry it occurred on.
type entryError struct {
	name string
	err  error
}

func (e *entryError) Error() string {
	return fmt.Sprintf("zipfile: entry %q: %v", e.name, e.err)
}

func (e *entryError) Unwrap() error { return e.err }
