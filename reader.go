package unarc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// leReader reads little-endian fields from a seekable stream while
// tracking the absolute offset for error context.
type leReader struct {
	r   io.ReadSeeker
	off int64
	buf [4]byte
}

func (cr *leReader) read(n int) ([]byte, error) {
	p := make([]byte, n)
	if _, err := io.ReadFull(cr.r, p); err != nil {
		return nil, fmt.Errorf("%w: premature end of stream at offset %d: %v", ErrCorrupt, cr.off, err)
	}
	cr.off += int64(n)
	return p, nil
}

func (cr *leReader) readInto(p []byte) error {
	if _, err := io.ReadFull(cr.r, p); err != nil {
		return fmt.Errorf("%w: premature end of stream at offset %d: %v", ErrCorrupt, cr.off, err)
	}
	cr.off += int64(len(p))
	return nil
}

func (cr *leReader) u8() (uint8, error) {
	if err := cr.readInto(cr.buf[:1]); err != nil {
		return 0, err
	}
	return cr.buf[0], nil
}

func (cr *leReader) u16() (uint16, error) {
	if err := cr.readInto(cr.buf[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(cr.buf[:2]), nil
}

func (cr *leReader) u32() (uint32, error) {
	if err := cr.readInto(cr.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(cr.buf[:4]), nil
}

func (cr *leReader) skip(n int64) error {
	if n == 0 {
		return nil
	}
	if _, err := cr.r.Seek(n, io.SeekCurrent); err != nil {
		return fmt.Errorf("%w: seeking past %d bytes at offset %d: %v", ErrCorrupt, n, cr.off, err)
	}
	cr.off += n
	return nil
}

func (cr *leReader) seekTo(off int64) error {
	if _, err := cr.r.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seeking to offset %d: %v", ErrCorrupt, off, err)
	}
	cr.off = off
	return nil
}

// cstring reads a NUL-terminated byte string.
func (cr *leReader) cstring() (string, error) {
	var sb bytes.Buffer
	for {
		c, err := cr.u8()
		if err != nil {
			return "", err
		}
		if c == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
}

// skipCStrings reads and discards n NUL-terminated strings.
func (cr *leReader) skipCStrings(n int) error {
	for i := 0; i < n; i++ {
		if _, err := cr.cstring(); err != nil {
			return err
		}
	}
	return nil
}

// utf16String reads a string of little-endian UTF-16 code units
// terminated by a zero unit.
func (cr *leReader) utf16String() (string, error) {
	var raw []byte
	for {
		if err := cr.readInto(cr.buf[:2]); err != nil {
			return "", err
		}
		if cr.buf[0] == 0 && cr.buf[1] == 0 {
			break
		}
		raw = append(raw, cr.buf[0], cr.buf[1])
	}
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	name, err := dec.Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("%w: decoding UTF-16 file name at offset %d: %v", ErrCorrupt, cr.off, err)
	}
	return string(name), nil
}
