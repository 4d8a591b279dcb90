// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipfile

import (
	"bytes"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"time"

	"go4.org/readerutil"
)

// sourceArchive is the read side of an opened archive. It is shared by
// the container and by every entry's source data range, and stays usable
// until the container is closed.
type sourceArchive struct {
	r      io.ReaderAt
	size   int64
	closer io.Closer
	closed bool

	// baseOffset absorbs non-ZIP preamble bytes (self-extracting
	// prefixes): it is added to every local header offset declared in the
	// central directory.
	baseOffset int64
}

func (s *sourceArchive) close() error {
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// Open reads the archive at the given path into a container. The file
// stays open to serve entry data until the container is closed.
func Open(path string) (*Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	c, err := OpenReader(f, fi.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	c.src.closer = f
	return c, nil
}

// OpenSizeReaderAt mounts an archive from a reader that knows its own
// size.
func OpenSizeReaderAt(r readerutil.SizeReaderAt) (*Container, error) {
	return OpenReader(r, r.Size())
}

// OpenBytes mounts an archive held in memory.
func OpenBytes(data []byte) (*Container, error) {
	return OpenReader(bytes.NewReader(data), int64(len(data)))
}

// OpenReader mounts an archive from r. Entry data is fetched from r
// lazily, so r must stay valid for the lifetime of the container.
func OpenReader(r io.ReaderAt, size int64) (*Container, error) {
	src := &sourceArchive{r: r, size: size}
	end, eocdOffset, err := readDirectoryEnd(r, size)
	if err != nil {
		return nil, err
	}
	if end.diskNumber != 0 || end.cdStartDisk != 0 || end.entriesThisDisk != end.entries {
		return nil, ErrSpanning
	}

	// The central directory ends where the EOCD (or the ZIP64 EOCD)
	// begins; the difference against the declared offset is the length of
	// any preamble before the first local header.
	cdEnd := eocdOffset
	if end.zip64EndOffset >= 0 {
		cdEnd = end.zip64EndOffset
	}
	actualCD := cdEnd - int64(end.cdSize)
	if actualCD < 0 || actualCD < int64(end.cdOffset) {
		return nil, fmt.Errorf("%w: central directory outside archive", ErrFormat)
	}
	src.baseOffset = actualCD - int64(end.cdOffset)

	c := New()
	c.src = src
	c.comment = end.comment

	cd := io.NewSectionReader(r, actualCD, int64(end.cdSize))
	for i := uint64(0); i < end.entries; i++ {
		e, err := readDirectoryHeader(cd, src)
		if err != nil {
			return nil, err
		}
		c.PutEntry(e)
	}

	c.source = &snapshot{
		entries: make(map[string]*Entry, len(c.names)),
		names:   append([]string(nil), c.names...),
		comment: c.comment,
	}
	for name, e := range c.entries {
		c.source.entries[name] = e.clone()
	}
	return c, nil
}

// directoryEnd is the merged view of the EOCD and, when present, the
// ZIP64 EOCD record.
type directoryEnd struct {
	diskNumber      uint32
	cdStartDisk     uint32
	entriesThisDisk uint64
	entries         uint64
	cdSize          uint64
	cdOffset        uint64
	comment         string

	// zip64EndOffset is the position of the ZIP64 EOCD record, or -1.
	zip64EndOffset int64
}

// readDirectoryEnd scans backwards from the end of the file for the EOCD
// signature. The comment field bounds the scan to 64 KiB plus the fixed
// record size.
func readDirectoryEnd(r io.ReaderAt, size int64) (*directoryEnd, int64, error) {
	if size < directoryEndLen {
		return nil, 0, ErrNotZip
	}
	window := int64(directoryEndLen + uint16max)
	if window > size {
		window = size
	}
	buf := make([]byte, window)
	tail := size - window
	if err := readFullAt(r, buf, tail); err != nil {
		return nil, 0, err
	}

	var eocd []byte
	var eocdOffset int64 = -1
	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		if buf[i] != 0x50 {
			continue
		}
		b := readBuf(buf[i:])
		if b.uint32() != directoryEndSignature {
			continue
		}
		cb := readBuf(buf[i+20:])
		commentLen := int(cb.uint16())
		if i+directoryEndLen+commentLen > len(buf) {
			// A stray signature inside a comment or payload.
			continue
		}
		eocd = buf[i:]
		eocdOffset = tail + int64(i)
		break
	}
	if eocdOffset < 0 {
		return nil, 0, ErrNotZip
	}

	b := readBuf(eocd[4:])
	end := &directoryEnd{
		diskNumber:      uint32(b.uint16()),
		cdStartDisk:     uint32(b.uint16()),
		entriesThisDisk: uint64(b.uint16()),
		entries:         uint64(b.uint16()),
		cdSize:          uint64(b.uint32()),
		cdOffset:        uint64(b.uint32()),
		zip64EndOffset:  -1,
	}
	commentLen := int(b.uint16())
	end.comment = string(eocd[directoryEndLen : directoryEndLen+commentLen])

	if err := readDirectory64End(r, eocdOffset, end); err != nil {
		return nil, 0, err
	}
	return end, eocdOffset, nil
}

// readDirectory64End looks for a ZIP64 EOCD locator directly before the
// EOCD and follows it. A missing locator is fine as long as no field
// needs the 64-bit record.
func readDirectory64End(r io.ReaderAt, eocdOffset int64, end *directoryEnd) error {
	locOffset := eocdOffset - directory64LocLen
	if locOffset < 0 {
		return nil
	}
	var locBuf [directory64LocLen]byte
	if err := readFullAt(r, locBuf[:], locOffset); err != nil {
		return err
	}
	b := readBuf(locBuf[:])
	if b.uint32() != directory64LocSignature {
		return nil
	}
	if b.uint32() != 0 { // disk holding the zip64 EOCD
		return ErrSpanning
	}
	recOffset := int64(b.uint64())
	if totalDisks := b.uint32(); totalDisks > 1 {
		return ErrSpanning
	}

	var recBuf [directory64EndLen]byte
	if err := readFullAt(r, recBuf[:], recOffset); err != nil {
		return err
	}
	rb := readBuf(recBuf[:])
	if rb.uint32() != directory64EndSignature {
		return fmt.Errorf("%w: zip64 end of central directory", ErrFormat)
	}
	rb.uint64() // record size
	rb.uint16() // version made by
	rb.uint16() // version needed
	end.diskNumber = rb.uint32()
	end.cdStartDisk = rb.uint32()
	end.entriesThisDisk = rb.uint64()
	end.entries = rb.uint64()
	end.cdSize = rb.uint64()
	end.cdOffset = rb.uint64()
	end.zip64EndOffset = recOffset
	return nil
}

// readDirectoryHeader parses one central directory record and builds the
// entry with its source data range attached. The local file header is not
// touched here; it is consulted lazily when the payload is first read.
func readDirectoryHeader(cd io.Reader, src *sourceArchive) (*Entry, error) {
	var buf [directoryHeaderLen]byte
	if _, err := io.ReadFull(cd, buf[:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	b := readBuf(buf[:])
	if b.uint32() != directoryHeaderSignature {
		return nil, fmt.Errorf("%w: central directory record", ErrFormat)
	}

	e := &Entry{level: CompressionLevelDefault}
	versionMadeBy := b.uint16()
	e.versionMadeBy = versionMadeBy & 0xff
	e.createdOS = byte(versionMadeBy >> 8)
	versionNeeded := b.uint16()
	e.versionNeeded = versionNeeded & 0xff
	e.extractedOS = byte(versionNeeded >> 8)
	e.flags = b.uint16()
	e.method = b.uint16()
	dosTime := uint32(b.uint16())
	dosDate := uint32(b.uint16())
	e.dosTime = dosDate<<16 | dosTime
	e.crc = b.uint32()
	compressedSize := b.uint32()
	uncompressedSize := b.uint32()
	nameLen := int(b.uint16())
	extraLen := int(b.uint16())
	commentLen := int(b.uint16())
	diskStart := b.uint16()
	e.internalAttrs = b.uint16()
	e.externalAttrs = b.uint32()
	headerOffset := b.uint32()

	varBuf := make([]byte, nameLen+extraLen+commentLen)
	if _, err := io.ReadFull(cd, varBuf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	e.name = string(varBuf[:nameLen])
	if err := validateName(e.name); err != nil {
		return nil, err
	}
	e.comment = string(varBuf[nameLen+extraLen:])

	e.compressedSize = uint64(compressedSize)
	e.uncompressedSize = uint64(uncompressedSize)
	e.headerOffset = uint64(headerOffset)

	z64 := &zip64Context{
		needUncompressedSize: uncompressedSize == uint32max,
		needCompressedSize:   compressedSize == uint32max,
		needHeaderOffset:     headerOffset == uint32max,
		needDiskStart:        diskStart == uint16max,
	}
	extras, err := parseExtraFields(varBuf[nameLen:nameLen+extraLen], false, z64)
	if err != nil {
		return nil, &entryError{name: e.name, err: err}
	}
	e.centralExtras = extras
	e.localExtras = &ExtraFields{}

	if f, ok := extras.Get(zip64ExtraID).(*Zip64Extra); ok {
		if f.HasUncompressedSize {
			e.uncompressedSize = f.UncompressedSize
		}
		if f.HasCompressedSize {
			e.compressedSize = f.CompressedSize
		}
		if f.HasLocalHeaderOffset {
			e.headerOffset = f.LocalHeaderOffset
		}
		if f.HasDiskStart && f.DiskStart != 0 {
			return nil, ErrSpanning
		}
	} else if z64.needUncompressedSize || z64.needCompressedSize || z64.needHeaderOffset {
		return nil, &entryError{name: e.name, err: fmt.Errorf("%w: saturated size without zip64 field", ErrFormat)}
	}

	e.modified = modTimeFromExtras(extras)

	if e.flags&flagEncrypted != 0 {
		if e.method == WinZipAES {
			f, ok := extras.Get(winZipAESExtraID).(*WinZipAESExtra)
			if !ok {
				return nil, &entryError{name: e.name, err: fmt.Errorf("%w: aes entry without 0x9901 field", ErrMalformedExtra)}
			}
			e.encryption = f.encryptionMethod()
		} else {
			e.encryption = EncryptionZipCrypto
		}
	}

	if !e.IsDir() {
		e.data = &sourceData{
			src:              src,
			headerOffset:     src.baseOffset + int64(e.headerOffset),
			compressedSize:   e.compressedSize,
			uncompressedSize: e.uncompressedSize,
		}
	}
	return e, nil
}

// modTimeFromExtras extracts a high resolution modification time from the
// timestamp extra fields, preferring NTFS over the Unix variants.
func modTimeFromExtras(extras *ExtraFields) time.Time {
	if f, ok := extras.Get(ntfsExtraID).(*NtfsExtra); ok && !f.ModTime.IsZero() {
		return f.ModTime
	}
	if f, ok := extras.Get(extTimeExtraID).(*ExtTimeExtra); ok && f.Flags&extTimeModTime != 0 && f.ModTime != 0 {
		return time.Unix(int64(f.ModTime), 0).UTC()
	}
	if f, ok := extras.Get(oldUnixExtraID).(*OldUnixExtra); ok && f.ModTime != 0 {
		return time.Unix(int64(f.ModTime), 0).UTC()
	}
	return time.Time{}
}

// payloadOffset parses the entry's local file header to locate the start
// of the payload. Name and extra lengths in the local header may differ
// from the central directory's, so they are read from the header itself.
func (s *sourceArchive) payloadOffset(e *Entry, d *sourceData) (int64, error) {
	if s.closed {
		return 0, fmt.Errorf("zipfile: archive is closed")
	}
	var buf [fileHeaderLen]byte
	if err := readFullAt(s.r, buf[:], d.headerOffset); err != nil {
		return 0, &entryError{name: e.name, err: err}
	}
	b := readBuf(buf[:])
	if b.uint32() != fileHeaderSignature {
		return 0, &entryError{name: e.name, err: fmt.Errorf("%w: local file header", ErrFormat)}
	}
	lengths := readBuf(buf[26:])
	nameLen := lengths.uint16()
	extraLen := lengths.uint16()
	return d.headerOffset + fileHeaderLen + int64(nameLen) + int64(extraLen), nil
}

// readLocalExtra returns the parsed extra fields of the local file
// header.
func (s *sourceArchive) readLocalExtra(e *Entry, d *sourceData) (*ExtraFields, error) {
	var buf [fileHeaderLen]byte
	if err := readFullAt(s.r, buf[:], d.headerOffset); err != nil {
		return nil, err
	}
	b := readBuf(buf[:])
	if b.uint32() != fileHeaderSignature {
		return nil, fmt.Errorf("%w: local file header", ErrFormat)
	}
	lengths := readBuf(buf[26:])
	nameLen := int(lengths.uint16())
	extraLen := int(lengths.uint16())
	extra := make([]byte, extraLen)
	if err := readFullAt(s.r, extra, d.headerOffset+fileHeaderLen+int64(nameLen)); err != nil {
		return nil, err
	}
	return parseExtraFields(extra, true, nil)
}

// openRaw returns a reader over the entry's payload exactly as stored,
// compressed and encrypted.
func (s *sourceArchive) openRaw(e *Entry, d *sourceData) (io.Reader, error) {
	off, err := s.payloadOffset(e, d)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(s.r, off, int64(d.compressedSize)), nil
}

// openDecoded returns a reader over the entry's plaintext: the payload is
// decrypted, decompressed and checksummed on the fly.
func (s *sourceArchive) openDecoded(e *Entry, d *sourceData) (io.ReadCloser, error) {
	raw, err := s.openRaw(e, d)
	if err != nil {
		return nil, err
	}

	method := e.method
	verifyCRC := true
	var compressed io.Reader = raw

	switch {
	case e.method == WinZipAES || (e.IsEncrypted() && e.encryption != EncryptionZipCrypto):
		f, ok := e.anyExtra(winZipAESExtraID).(*WinZipAESExtra)
		if !ok {
			return nil, &entryError{name: e.name, err: fmt.Errorf("%w: aes entry without 0x9901 field", ErrMalformedExtra)}
		}
		payload := make([]byte, d.compressedSize)
		if _, err := io.ReadFull(raw, payload); err != nil {
			return nil, &entryError{name: e.name, err: err}
		}
		plain, err := decryptAESPayload(payload, e.password, f)
		if err != nil {
			return nil, &entryError{name: e.name, err: err}
		}
		compressed = bytes.NewReader(plain)
		method = f.Method
		// AE-2 stores no CRC; the HMAC already authenticated the data.
		verifyCRC = f.VendorVersion != 2
	case e.IsEncrypted():
		if e.password == nil {
			return nil, &entryError{name: e.name, err: ErrPasswordRequired}
		}
		zr, err := newZipCryptoReader(raw, e.password, zipCryptoCheckByte(e))
		if err != nil {
			return nil, &entryError{name: e.name, err: err}
		}
		compressed = zr
	}

	decomp, err := decompressor(method)
	if err != nil {
		return nil, &entryError{name: e.name, err: err}
	}
	rc, err := decomp(compressed)
	if err != nil {
		return nil, &entryError{name: e.name, err: err}
	}
	return &checksumReader{
		rc:        rc,
		hash:      crc32.NewIEEE(),
		name:      e.name,
		want:      e.crc,
		wantSize:  d.uncompressedSize,
		verify:    verifyCRC,
		encrypted: e.IsEncrypted(),
	}, nil
}

// checksumReader verifies the CRC-32 of the decoded stream once it has
// been fully drained.
type checksumReader struct {
	rc        io.ReadCloser
	hash      hash.Hash32
	name      string
	want      uint32
	wantSize  uint64
	size      uint64
	verify    bool
	encrypted bool
	err       error // sticky
}

func (r *checksumReader) Read(p []byte) (n int, err error) {
	if r.err != nil {
		return 0, r.err
	}
	n, err = r.rc.Read(p)
	r.hash.Write(p[:n])
	r.size += uint64(n)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, io.EOF) {
		if r.size != r.wantSize {
			r.err = &entryError{name: r.name, err: io.ErrUnexpectedEOF}
			return n, r.err
		}
		if r.verify && r.hash.Sum32() != r.want {
			// A wrong ZipCrypto password slips past the one-byte header
			// check roughly once in 256 tries; the checksum catches it
			// here, so report it as such.
			if r.encrypted {
				r.err = &entryError{name: r.name, err: ErrWrongPassword}
			} else {
				r.err = &entryError{name: r.name, err: ErrChecksum}
			}
			return n, r.err
		}
	}
	r.err = err
	return n, err
}

func (r *checksumReader) Close() error { return r.rc.Close() }
