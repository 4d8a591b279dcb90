package zipfile

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWriteBufRoundTrip(t *testing.T) {
	buf := make([]byte, 15)
	w := writeBuf(buf)
	w.uint8(0xab)
	w.uint16(0x1234)
	w.uint32(0xdeadbeef)
	w.uint64(0x0102030405060708)

	r := readBuf(buf)
	assert.Equal(t, uint8(0xab), r.uint8())
	assert.Equal(t, uint16(0x1234), r.uint16())
	assert.Equal(t, uint32(0xdeadbeef), r.uint32())
	assert.Equal(t, uint64(0x0102030405060708), r.uint64())
	assert.Empty(t, r)
}

func TestReadBufSub(t *testing.T) {
	r := readBuf{1, 2, 3, 4, 5}
	sub := r.sub(3)
	assert.Equal(t, readBuf{1, 2, 3}, sub)
	assert.Equal(t, readBuf{4, 5}, r)
}

func TestCountWriter(t *testing.T) {
	var buf bytes.Buffer
	cw := &countWriter{w: &buf}
	_, err := cw.Write([]byte("hello"))
	require.NoError(t, err)
	_, err = cw.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), cw.count)
	assert.Equal(t, "hello world", buf.String())
}

func TestReadFullAtShortRead(t *testing.T) {
	r := bytes.NewReader([]byte("abc"))
	p := make([]byte, 5)
	err := readFullAt(r, p, 1)
	assert.Error(t, err)

	require.NoError(t, readFullAt(r, p[:2], 1))
	assert.Equal(t, []byte("bc"), p[:2])
}
