package unarc

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"hash/crc32"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gzipStream(t *testing.T, name string, content []byte) *bytes.Reader {
	t.Helper()

	var buf bytes.Buffer
	zw := kgzip.NewWriter(&buf)
	zw.Name = name
	_, err := zw.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return bytes.NewReader(buf.Bytes())
}

func TestOpenGzipRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := OpenGzip(gzipStream(t, "a.txt", []byte("hi")))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 1, a.Len())
	assert.Equal(t, []string{"a.txt"}, a.Names())

	got, err := a.Fetch("a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x68, 0x69}, got)

	// Single-file archives resolve any name to their one payload.
	got, err = a.Fetch("anything else")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x68, 0x69}, got)

	text, err := a.ReadText("a.txt", nil)
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestOpenGzipAnonymousNameFromCRC(t *testing.T) {
	t.Parallel()

	content := []byte("nameless payload")
	a, err := OpenGzip(gzipStream(t, "", content))
	require.NoError(t, err)
	defer a.Close()

	// The derived name is the lowercase hex of the CRC-32 trailer bytes
	// in stream (little-endian) order.
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], crc32.ChecksumIEEE(content))
	assert.Equal(t, []string{hex.EncodeToString(trailer[:])}, a.Names())

	got, err := a.Fetch("")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestOpenGzipAllOptionalHeaderFields(t *testing.T) {
	t.Parallel()

	content := []byte("full header")

	var buf bytes.Buffer
	// FHCRC | FEXTRA | FNAME | FCOMMENT
	buf.Write([]byte{gzipID1, gzipID2, gzipMethodDeflate, 0x1E, 0, 0, 0, 0, 0, 0xFF})
	buf.Write([]byte{3, 0, 0xDE, 0xAD, 0x00})       // extra: xlen=3 plus payload
	buf.Write([]byte{'c', 'a', 'f', 0xE9, 0})       // name "café" in ISO-8859-1
	buf.WriteString("a comment\x00")                // comment, skipped
	buf.Write([]byte{0xBE, 0xEF})                   // header crc, unchecked
	buf.Write(deflateBytes(t, content))             // body
	var trailer [8]byte
	binary.LittleEndian.PutUint32(trailer[:4], crc32.ChecksumIEEE(content))
	binary.LittleEndian.PutUint32(trailer[4:], uint32(len(content)))
	buf.Write(trailer[:])

	a, err := OpenGzip(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []string{"café"}, a.Names())
	got, err := a.Fetch("café")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestOpenGzipBadMagic(t *testing.T) {
	t.Parallel()

	r := gzipStream(t, "x", []byte("y"))
	raw := make([]byte, r.Len())
	_, err := r.Read(raw)
	require.NoError(t, err)
	raw[0] = 0x1E

	_, err = OpenGzip(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOpenGzipUnsupportedMethod(t *testing.T) {
	t.Parallel()

	r := gzipStream(t, "x", []byte("y"))
	raw := make([]byte, r.Len())
	_, err := r.Read(raw)
	require.NoError(t, err)
	raw[2] = 9

	_, err = OpenGzip(bytes.NewReader(raw))
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestOpenGzipTooShort(t *testing.T) {
	t.Parallel()

	_, err := OpenGzip(bytes.NewReader([]byte{gzipID1, gzipID2, 8}))
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestOpenGzipCorruptBody(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	buf.Write([]byte{gzipID1, gzipID2, gzipMethodDeflate, 0, 0, 0, 0, 0, 0, 0xFF})
	buf.Write(bytes.Repeat([]byte{0xC7}, 32)) // not a deflate stream
	buf.Write(make([]byte, gzipTrailerLen))

	_, err := OpenGzip(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestOpenGzipPayloadOverSizeLimit(t *testing.T) {
	t.Parallel()

	r := gzipStream(t, "big.bin", bytes.Repeat([]byte("b"), 64))

	_, err := OpenGzip(r, WithMaxFileSize(16))
	require.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestOpenGzipFetchAfterClose(t *testing.T) {
	t.Parallel()

	a, err := OpenGzip(gzipStream(t, "f.txt", []byte("gone")))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err = a.Fetch("f.txt")
	assert.ErrorIs(t, err, ErrClosed)
}
