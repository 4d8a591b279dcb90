package zipfile

import (
	"fmt"
	"io"
	"sync"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/flate"
)

// A Compressor wraps a writer so that data written to the result comes
// out compressed on w. Closing the result flushes the stream without
// closing w.
type Compressor func(w io.Writer, level int) (io.WriteCloser, error)

// A Decompressor wraps a reader over compressed data and yields the
// uncompressed stream.
type Decompressor func(r io.Reader) (io.ReadCloser, error)

var compressors = map[uint16]Compressor{
	Store:   newStoredWriter,
	Deflate: newDeflateWriter,
	BZip2:   newBZip2Writer,
}

var decompressors = map[uint16]Decompressor{
	Store:   newStoredReader,
	Deflate: newDeflateReader,
	BZip2:   newBZip2Reader,
}

func compressor(method uint16) (Compressor, error) {
	c, ok := compressors[method]
	if !ok {
		return nil, fmt.Errorf("%w: compression method %d", ErrAlgorithm, method)
	}
	return c, nil
}

func decompressor(method uint16) (Decompressor, error) {
	d, ok := decompressors[method]
	if !ok {
		return nil, fmt.Errorf("%w: compression method %d", ErrAlgorithm, method)
	}
	return d, nil
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newStoredWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func newStoredReader(r io.Reader) (io.ReadCloser, error) {
	return nopCloser{r}, nil
}

func newDeflateWriter(w io.Writer, level int) (io.WriteCloser, error) {
	if level == CompressionLevelDefault {
		level = flate.DefaultCompression
	}
	return flate.NewWriter(w, level)
}

// We use github.com/klauspost/compress/flate instead of the standard
// compress/flate because the latter's documentation says that it may read
// beyond the end of the Deflate stream.
var deflateReaderPool sync.Pool

func newDeflateReader(r io.Reader) (io.ReadCloser, error) {
	fr, ok := deflateReaderPool.Get().(io.ReadCloser)
	if ok {
		if err := fr.(flate.Resetter).Reset(r, nil); err != nil {
			return nil, err
		}
	} else {
		fr = flate.NewReader(r)
	}
	return &pooledDeflateReader{fr: fr}, nil
}

type pooledDeflateReader struct {
	fr io.ReadCloser
}

func (r *pooledDeflateReader) Read(p []byte) (int, error) {
	if r.fr == nil {
		return 0, fmt.Errorf("zipfile: read after close")
	}
	return r.fr.Read(p)
}

func (r *pooledDeflateReader) Close() error {
	var err error
	if r.fr != nil {
		err = r.fr.Close()
		deflateReaderPool.Put(r.fr)
		r.fr = nil
	}
	return err
}

func newBZip2Writer(w io.Writer, level int) (io.WriteCloser, error) {
	if level == CompressionLevelDefault {
		level = bzip2.DefaultCompression
	}
	return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: level})
}

func newBZip2Reader(r io.Reader) (io.ReadCloser, error) {
	return bzip2.NewReader(r, nil)
}

// deflateFlagBits returns the Deflate level hint carried in bits 1 and 2
// of the general purpose bit flag.
func deflateFlagBits(level int) uint16 {
	switch {
	case level >= 9:
		return flagCompressOpt1 // maximum
	case level == 1 || level == 2:
		return flagCompressOpt1 | flagCompressOpt2 // super fast
	case level > 2 && level < 5:
		return flagCompressOpt2 // fast
	}
	return 0 // normal
}
