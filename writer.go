// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipfile

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
)

// header pairs the serialized form of an entry with its local header
// offset, for the central directory pass.
type header struct {
	entry  *Entry
	offset uint64
}

// WriteTo serializes the archive to w: local headers and payloads in
// container insertion order, then the central directory and the end
// records. Unmodified entries read from a source archive are copied raw,
// without recompression. The container remains usable afterwards.
func (c *Container) WriteTo(w io.Writer) (int64, error) {
	cw := &countWriter{w: w}
	dir := make([]*header, 0, len(c.names))
	for _, name := range c.names {
		e := c.entries[name]
		var base *Entry
		if c.source != nil {
			base = c.source.entries[name]
		}
		if base == nil {
			base = c.baselineForData(e)
		}
		h, err := c.writeEntry(cw, e, base)
		if err != nil {
			return cw.count, &entryError{name: name, err: err}
		}
		dir = append(dir, h)
	}
	if err := writeCentralDirectory(cw.count, dir, cw, c.comment); err != nil {
		return cw.count, err
	}
	return cw.count, nil
}

// baselineForData finds the baseline entry backing the same source byte
// range, so a renamed but otherwise untouched entry still qualifies for
// raw copy.
func (c *Container) baselineForData(e *Entry) *Entry {
	sd, ok := e.data.(*sourceData)
	if !ok || c.source == nil {
		return nil
	}
	for _, base := range c.source.entries {
		if bd, ok := base.data.(*sourceData); ok && bd.headerOffset == sd.headerOffset {
			return base
		}
	}
	return nil
}

// Save writes the archive to a file. The bytes go to a temporary file in
// the same directory first and are renamed into place, so the destination
// is never left half written.
func (c *Container) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".zipfile-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := c.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// writeEntry serializes one entry: the local file header, the payload
// and, for streamed payloads, the data descriptor. It works on a clone so
// the caller's entry only receives the final sizes and checksum.
func (c *Container) writeEntry(cw *countWriter, e *Entry, base *Entry) (*header, error) {
	h := e.clone()
	offset := uint64(cw.count)
	h.headerOffset = offset

	prepareFlags(h)

	switch {
	case h.IsDir():
		h.method = Store
		h.flags &^= flagDataDescriptor | flagCompressOpt1 | flagCompressOpt2
		h.crc = 0
		h.compressedSize = 0
		h.uncompressedSize = 0
		if err := writeLocalHeader(cw, h); err != nil {
			return nil, err
		}
	case !e.rebuildRequired(base):
		if err := c.copyEntry(cw, e, h); err != nil {
			return nil, err
		}
	default:
		if err := c.rebuildEntry(cw, e, h, base); err != nil {
			return nil, err
		}
	}

	// Publish the serialized state back to the live entry.
	e.crc = h.crc
	e.compressedSize = h.compressedSize
	e.uncompressedSize = h.uncompressedSize
	e.headerOffset = offset
	return &header{entry: h, offset: offset}, nil
}

// prepareFlags recomputes the UTF-8 flag from the entry's name and
// comment, the way most zip writers do: the flag is set only when a field
// actually requires multibyte UTF-8 and both fields are valid UTF-8.
func prepareFlags(h *Entry) {
	valid1, require1 := detectUTF8(h.name)
	valid2, require2 := detectUTF8(h.comment)
	switch {
	case (require1 || require2) && (valid1 && valid2):
		h.flags |= flagUTF8
	default:
		h.flags &^= flagUTF8
	}
	if h.method == Deflate {
		h.flags = h.flags&^(flagCompressOpt1|flagCompressOpt2) | deflateFlagBits(h.level)
	}
}

// copyEntry splices the already compressed (and possibly encrypted)
// payload straight from the source archive. The headers are re-serialized
// canonically; the payload bytes are identical to the source.
func (c *Container) copyEntry(cw *countWriter, e *Entry, h *Entry) error {
	d := e.data.(*sourceData)

	// Carry over the source's local extra fields, minus the zip64 field,
	// which writeLocalHeader regenerates from the sizes.
	if local, err := d.src.readLocalExtra(e, d); err == nil {
		local.Remove(zip64ExtraID)
		h.localExtras = local
	}

	// Sizes and checksum are known up front, so no data descriptor is
	// needed even if the source used one.
	h.flags &^= flagDataDescriptor
	h.compressedSize = d.compressedSize
	h.uncompressedSize = d.uncompressedSize

	raw, err := d.src.openRaw(e, d)
	if err != nil {
		return err
	}
	if err := writeLocalHeader(cw, h); err != nil {
		return err
	}
	n, err := io.Copy(cw, raw)
	if err != nil {
		return err
	}
	if uint64(n) != d.compressedSize {
		return fmt.Errorf("%w: source payload truncated", ErrFormat)
	}
	return nil
}

// rebuildEntry recompresses and re-encrypts the entry payload. Bytes and
// source-backed data are assembled in memory so the local header carries
// final sizes; caller-supplied streams are piped through with a data
// descriptor instead.
func (c *Container) rebuildEntry(cw *countWriter, e *Entry, h *Entry, base *Entry) error {
	// A source entry with method 99 recompresses with the real method
	// carried in the AES extra field.
	if h.method == WinZipAES {
		f, ok := h.anyExtra(winZipAESExtraID).(*WinZipAESExtra)
		if !ok {
			return fmt.Errorf("%w: aes entry without 0x9901 field", ErrMalformedExtra)
		}
		h.method = f.Method
		h.localExtras.Remove(winZipAESExtraID)
		h.centralExtras.Remove(winZipAESExtraID)
	}
	if h.method == methodUnknown {
		return fmt.Errorf("%w: cannot recompress entry with unknown method", ErrAlgorithm)
	}
	if h.IsEncrypted() && h.password == nil {
		return ErrPasswordRequired
	}
	if _, ok := e.data.(*readerData); ok {
		return c.rebuildStreamed(cw, e, h)
	}

	// Decode through the baseline entry: it carries the read password and
	// the original encryption state, while e may already hold the new
	// ones.
	decodeFrom := e
	if _, ok := e.data.(*sourceData); ok && base != nil {
		decodeFrom = base
	}
	rc, err := openEntryData(decodeFrom)
	if err != nil {
		return err
	}
	plaintext, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return err
	}

	h.uncompressedSize = uint64(len(plaintext))
	h.crc = crc32.ChecksumIEEE(plaintext)
	h.flags &^= flagDataDescriptor

	var payload bytes.Buffer
	if err := encodePayload(&payload, h, h.method, bytes.NewReader(plaintext), h.crc); err != nil {
		return err
	}
	h.compressedSize = uint64(payload.Len())

	if isAES(h.encryption) {
		applyAESHeaderFields(h, aesVendorVersion(h.method, h.uncompressedSize, true))
	}
	if err := writeLocalHeader(cw, h); err != nil {
		return err
	}
	_, err = payload.WriteTo(cw)
	return err
}

// rebuildStreamed writes a caller-supplied stream without buffering it:
// the local header goes out with zeroed sizes, the payload is compressed
// and encrypted on the fly, and the checksum and sizes follow in a data
// descriptor.
func (c *Container) rebuildStreamed(cw *countWriter, e *Entry, h *Entry) error {
	rc, err := openEntryData(e)
	if err != nil {
		return err
	}
	defer rc.Close()

	h.flags |= flagDataDescriptor
	h.crc = 0
	h.compressedSize = 0
	h.uncompressedSize = 0
	method := h.method
	if isAES(h.encryption) {
		// The plaintext size is unknown until the stream is drained, so
		// the vendor version can only depend on the method here.
		applyAESHeaderFields(h, aesVendorVersion(method, 0, false))
	}
	if err := writeLocalHeader(cw, h); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	plain := &countWriter{w: crc}
	counted := &countWriter{w: cw}
	if err := encodePayloadStream(counted, h, method, io.TeeReader(rc, plain)); err != nil {
		return err
	}

	h.compressedSize = uint64(counted.count)
	h.uncompressedSize = uint64(plain.count)
	h.crc = crc.Sum32()
	if f, ok := h.localExtras.Get(winZipAESExtraID).(*WinZipAESExtra); ok && f.VendorVersion == 2 {
		h.crc = 0
	}
	_, err = cw.Write(makeDataDescriptor(h))
	return err
}

// encodePayload runs plaintext through the compression and encryption
// pipeline into dst. The CRC is needed up front only for ZipCrypto, whose
// encryption header embeds its high byte as the password check.
func encodePayload(dst io.Writer, h *Entry, method uint16, plaintext io.Reader, crc uint32) error {
	var sink io.Writer = dst
	var enc io.WriteCloser
	var err error
	switch {
	case isAES(h.encryption):
		enc, err = newAESWriter(dst, h.password, h.encryption)
	case h.encryption == EncryptionZipCrypto:
		enc, err = newZipCryptoWriter(dst, h.password, byte(crc>>24))
	}
	if err != nil {
		return err
	}
	if enc != nil {
		sink = enc
	}

	comp, err := compressor(method)
	if err != nil {
		return err
	}
	cmp, err := comp(sink, h.level)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cmp, plaintext); err != nil {
		return err
	}
	if err := cmp.Close(); err != nil {
		return err
	}
	if enc != nil {
		return enc.Close()
	}
	return nil
}

// encodePayloadStream is the descriptor variant of encodePayload: the
// ZipCrypto check byte falls back to the DOS time high byte, which is
// what readers use when the CRC is deferred to the descriptor.
func encodePayloadStream(dst io.Writer, h *Entry, method uint16, plaintext io.Reader) error {
	var sink io.Writer = dst
	var enc io.WriteCloser
	var err error
	switch {
	case isAES(h.encryption):
		enc, err = newAESWriter(dst, h.password, h.encryption)
	case h.encryption == EncryptionZipCrypto:
		enc, err = newZipCryptoWriter(dst, h.password, byte(h.dosTime>>8))
	}
	if err != nil {
		return err
	}
	if enc != nil {
		sink = enc
	}
	comp, err := compressor(method)
	if err != nil {
		return err
	}
	cmp, err := comp(sink, h.level)
	if err != nil {
		return err
	}
	if _, err := io.Copy(cmp, plaintext); err != nil {
		return err
	}
	if err := cmp.Close(); err != nil {
		return err
	}
	if enc != nil {
		return enc.Close()
	}
	return nil
}

func isAES(m EncryptionMethod) bool {
	return m == EncryptionAES128 || m == EncryptionAES192 || m == EncryptionAES256
}

// aesVendorVersion picks AE-2 (no CRC stored) for tiny files and for
// BZip2 payloads, AE-1 otherwise.
func aesVendorVersion(method uint16, plaintextSize uint64, sizeKnown bool) uint16 {
	if method == BZip2 || (sizeKnown && plaintextSize < 20) {
		return 2
	}
	return 1
}

// applyAESHeaderFields switches the entry headers to the WinZip AES
// method: the fixed header carries method 99 and the 0x9901 extra field
// carries the real compression method.
func applyAESHeaderFields(h *Entry, vendorVersion uint16) {
	f := &WinZipAESExtra{
		VendorVersion: vendorVersion,
		Strength:      aesStrength(h.encryption),
		Method:        h.method,
	}
	h.method = WinZipAES
	h.localExtras.Add(f)
	h.centralExtras.Add(f)
	if vendorVersion == 2 {
		h.crc = 0
	}
}

// writeLocalHeader emits the fixed local file header, the name and the
// local extra fields. Saturated sizes move to a zip64 extra field.
func writeLocalHeader(w io.Writer, h *Entry) error {
	if len(h.name) > uint16max {
		return errLongName
	}

	h.localExtras.Remove(zip64ExtraID)
	zip64 := h.isZip64()
	if zip64 {
		h.localExtras.Add(&Zip64Extra{
			UncompressedSize:    h.uncompressedSize,
			CompressedSize:      h.compressedSize,
			HasUncompressedSize: true,
			HasCompressedSize:   true,
		})
	}
	addTimestampExtra(h)
	extra, err := h.localExtras.encode(true)
	if err != nil {
		return err
	}

	version := h.versionNeededToExtract()
	if zip64 && version < zipVersion45 {
		version = zipVersion45
	}

	var buf [fileHeaderLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(fileHeaderSignature))
	b.uint16(version)
	b.uint16(h.flags)
	b.uint16(h.method)
	b.uint32(h.dosTime)
	b.uint32(h.crc)
	if h.flags&flagDataDescriptor != 0 {
		b.uint32(0) // compressed size in the descriptor
		b.uint32(0) // uncompressed size in the descriptor
	} else if zip64 {
		b.uint32(uint32max)
		b.uint32(uint32max)
	} else {
		b.uint32(uint32(h.compressedSize))
		b.uint32(uint32(h.uncompressedSize))
	}
	b.uint16(uint16(len(h.name)))
	b.uint16(uint16(len(extra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, h.name); err != nil {
		return err
	}
	_, err = w.Write(extra)
	return err
}

// addTimestampExtra attaches an Info-ZIP extended timestamp when the
// entry has a real modification time. Nearly every major ZIP
// implementation uses a different timestamp format, but most understand
// this one.
func addTimestampExtra(h *Entry) {
	if h.modified.IsZero() || h.localExtras.Has(extTimeExtraID) {
		return
	}
	f := &ExtTimeExtra{Flags: extTimeModTime, ModTime: uint32(h.modified.Unix())}
	h.localExtras.Add(f)
	if !h.centralExtras.Has(extTimeExtraID) {
		h.centralExtras.Add(f)
	}
}

// makeDataDescriptor builds the trailer carrying CRC and sizes for
// streamed entries. Eight-byte sizes are used when either size overflows,
// without a zip64 extra in the local header (too late for that anyway).
func makeDataDescriptor(h *Entry) []byte {
	var buf []byte
	if h.isZip64() {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := writeBuf(buf)
	b.uint32(dataDescriptorSignature) // de-facto standard, required by OS X
	b.uint32(h.crc)
	if h.isZip64() {
		b.uint64(h.compressedSize)
		b.uint64(h.uncompressedSize)
	} else {
		b.uint32(uint32(h.compressedSize))
		b.uint32(uint32(h.uncompressedSize))
	}
	return buf
}

// writeCentralDirectory emits the per-entry central records followed by
// the end-of-central-directory records. Saturated values move to zip64
// extra fields and, when the directory itself overflows the classic
// limits, to a zip64 end record with its locator.
func writeCentralDirectory(start int64, dir []*header, writer io.Writer, comment string) error {
	if len(comment) > uint16max {
		return errLongComment
	}
	cw := &countWriter{w: writer}
	for _, rec := range dir {
		h := rec.entry

		needUncompressed := h.uncompressedSize >= uint32max
		needCompressed := h.compressedSize >= uint32max
		needOffset := rec.offset >= uint32max
		h.centralExtras.Remove(zip64ExtraID)
		if needUncompressed || needCompressed || needOffset {
			h.centralExtras.Add(&Zip64Extra{
				UncompressedSize:     h.uncompressedSize,
				CompressedSize:       h.compressedSize,
				LocalHeaderOffset:    rec.offset,
				HasUncompressedSize:  needUncompressed,
				HasCompressedSize:    needCompressed,
				HasLocalHeaderOffset: needOffset,
			})
		}
		extra, err := h.centralExtras.encode(false)
		if err != nil {
			return err
		}

		version := h.versionNeededToExtract()
		if (needUncompressed || needCompressed || needOffset) && version < zipVersion45 {
			version = zipVersion45
		}

		var buf [directoryHeaderLen]byte
		b := writeBuf(buf[:])
		b.uint32(uint32(directoryHeaderSignature))
		b.uint16(uint16(h.createdOS)<<8 | uint16(h.madeByVersion()))
		b.uint16(version)
		b.uint16(h.flags)
		b.uint16(h.method)
		b.uint32(h.dosTime)
		b.uint32(h.crc)
		if needCompressed {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(h.compressedSize))
		}
		if needUncompressed {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(h.uncompressedSize))
		}
		b.uint16(uint16(len(h.name)))
		b.uint16(uint16(len(extra)))
		b.uint16(uint16(len(h.comment)))
		b.uint16(0) // disk number start
		b.uint16(h.internalAttrs)
		b.uint32(h.externalAttrs)
		if needOffset {
			b.uint32(uint32max)
		} else {
			b.uint32(uint32(rec.offset))
		}
		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, h.name); err != nil {
			return err
		}
		if _, err := cw.Write(extra); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, h.comment); err != nil {
			return err
		}
	}
	size := uint64(cw.count)
	end := uint64(start) + size

	records := uint64(len(dir))
	offset := uint64(start)

	// Exactly 65535 entries still fit the classic end record; one more
	// forces the zip64 form.
	if records > uint16max || size >= uint32max || offset >= uint32max {
		var buf [directory64EndLen + directory64LocLen]byte
		b := writeBuf(buf[:])

		// zip64 end of central directory record
		b.uint32(directory64EndSignature)
		b.uint64(directory64EndLen - 12) // length minus signature (uint32) and length fields (uint64)
		b.uint16(zipVersion45)           // version made by
		b.uint16(zipVersion45)           // version needed to extract
		b.uint32(0)                      // number of this disk
		b.uint32(0)                      // number of the disk with the start of the central directory
		b.uint64(records)                // total number of entries in the central directory on this disk
		b.uint64(records)                // total number of entries in the central directory
		b.uint64(size)                   // size of the central directory
		b.uint64(offset)                 // offset of start of central directory with respect to the starting disk number

		// zip64 end of central directory locator
		b.uint32(directory64LocSignature)
		b.uint32(0)           // number of the disk with the start of the zip64 end of central directory
		b.uint64(uint64(end)) // relative offset of the zip64 end of central directory record
		b.uint32(1)           // total number of disks

		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}

		// store max values in the regular end record to signal that
		// that the zip64 values should be used instead
		records = uint16max
		size = uint32max
		offset = uint32max
	}

	// write end record
	var buf [directoryEndLen]byte
	b := writeBuf(buf[:])
	b.uint32(uint32(directoryEndSignature))
	b = b[4:]                      // skip over disk number and first disk number (2x uint16)
	b.uint16(uint16(records))      // number of entries this disk
	b.uint16(uint16(records))      // number of entries total
	b.uint32(uint32(size))         // size of directory
	b.uint32(uint32(offset))       // start of directory
	b.uint16(uint16(len(comment))) // byte size of EOCD comment
	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(cw, comment); err != nil {
		return err
	}

	return nil
}
