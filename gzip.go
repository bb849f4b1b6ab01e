package unarc

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"golang.org/x/text/encoding/charmap"
)

// RFC1952 header layout: ID1 ID2 CM FLG MTIME[4] XFL OS, then the
// optional fields the flag byte announces, then the raw DEFLATE body,
// then an 8-byte trailer of CRC-32 and ISIZE (both little-endian).
const (
	gzipID1 = 0x1F
	gzipID2 = 0x8B

	gzipMethodDeflate = 8

	gzipFlagHeaderCRC = 0x02
	gzipFlagExtra     = 0x04
	gzipFlagName      = 0x08
	gzipFlagComment   = 0x10

	gzipFixedHeaderLen = 10
	gzipTrailerLen     = 8
)

// GzipArchive is a single-file Archive decoded from an RFC1952 stream.
type GzipArchive struct {
	*singleFileArchive
}

// OpenGzip decodes a gzip stream into a single-file Archive.
//
// The archive's one name is the stream's embedded original filename
// (decoded as ISO-8859-1 per RFC1952) when present, otherwise the
// lowercase hex of the trailer's CRC-32 bytes. Neither the CRC-32 nor
// the header checksum is verified.
func OpenGzip(r io.ReadSeeker, opts ...Option) (*GzipArchive, error) {
	cfg := newConfig(opts)
	size, err := streamSize(r)
	if err != nil {
		return nil, err
	}
	if size < gzipFixedHeaderLen+gzipTrailerLen {
		return nil, fmt.Errorf("%w: gzip stream is %d bytes", ErrInvalidFormat, size)
	}

	cr := &leReader{r: r}
	hdr, err := cr.read(gzipFixedHeaderLen)
	if err != nil {
		return nil, err
	}
	if hdr[0] != gzipID1 || hdr[1] != gzipID2 {
		return nil, fmt.Errorf("%w: bad gzip magic %#02x %#02x", ErrInvalidFormat, hdr[0], hdr[1])
	}
	if hdr[2] != gzipMethodDeflate {
		return nil, fmt.Errorf("%w: gzip compression method %d", ErrUnsupported, hdr[2])
	}
	flags := hdr[3]

	if flags&gzipFlagExtra != 0 {
		extraLen, err := cr.u16()
		if err != nil {
			return nil, err
		}
		if err := cr.skip(int64(extraLen)); err != nil {
			return nil, err
		}
	}
	var name string
	if flags&gzipFlagName != 0 {
		raw, err := cr.cstring()
		if err != nil {
			return nil, err
		}
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: decoding original filename: %v", ErrCorrupt, err)
		}
		name = string(decoded)
	}
	if flags&gzipFlagComment != 0 {
		if _, err := cr.cstring(); err != nil {
			return nil, err
		}
	}
	if flags&gzipFlagHeaderCRC != 0 {
		// Present but not verified.
		if err := cr.skip(2); err != nil {
			return nil, err
		}
	}

	bodyOff := cr.off
	bodyLen := size - gzipTrailerLen - bodyOff
	if bodyLen < 0 {
		return nil, fmt.Errorf("%w: gzip header overruns the %d-byte stream", ErrCorrupt, size)
	}

	if err := cr.seekTo(size - gzipTrailerLen); err != nil {
		return nil, err
	}
	trailer, err := cr.read(gzipTrailerLen)
	if err != nil {
		return nil, err
	}
	// ISIZE sizes the output buffer; the CRC bytes name anonymous streams.
	isize := int64(uint32(trailer[4]) | uint32(trailer[5])<<8 | uint32(trailer[6])<<16 | uint32(trailer[7])<<24)
	if name == "" {
		name = hex.EncodeToString(trailer[:4])
	}

	if err := cr.seekTo(bodyOff); err != nil {
		return nil, err
	}
	fr := flate.NewReader(io.LimitReader(r, bodyLen))
	defer fr.Close()
	data, err := readAllLimit(fr, isize, cfg.maxFileSize)
	if err != nil {
		if errors.Is(err, ErrEntryTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: inflating gzip body: %v", ErrCorrupt, err)
	}

	cfg.log().Debug("decoded gzip stream", "name", name, "bytes", len(data))
	return &GzipArchive{singleFileArchive: &singleFileArchive{name: name, data: data}}, nil
}

// maxPrealloc caps how much buffer a declared size field can reserve up
// front; the buffer still grows to limit if the data is really there.
const maxPrealloc = 32 << 20

// readAllLimit reads r to EOF into a buffer presized by hint, failing
// with ErrEntryTooLarge once more than limit bytes appear.
func readAllLimit(r io.Reader, hint, limit int64) ([]byte, error) {
	if hint < 0 || hint > maxPrealloc {
		hint = maxPrealloc
	}
	out := bytes.NewBuffer(make([]byte, 0, hint))
	n, err := io.Copy(out, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, fmt.Errorf("%w: decoded payload exceeds %d bytes", ErrEntryTooLarge, limit)
	}
	return out.Bytes(), nil
}
