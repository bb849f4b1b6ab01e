package unarc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// RFC1950 layout: CMF FLG, an optional 4-byte dictionary id when FLG
// announces one, the raw DEFLATE body, and a trailing 4-byte Adler-32.
const (
	zlibHeaderLen  = 2
	zlibTrailerLen = 4
	zlibDictIDLen  = 4

	zlibMethodMask    = 0x0F
	zlibMethodDeflate = 8

	zlibFlagDict = 0x20
)

// ZlibArchive is a single-file Archive decoded from an RFC1950 stream.
type ZlibArchive struct {
	*singleFileArchive
}

// OpenZlib decodes a zlib stream into a single-file Archive.
//
// The format carries no filename; the archive's one name is the
// lowercase hex of the trailing Adler-32 bytes. The checksum itself is
// not verified.
func OpenZlib(r io.ReadSeeker, opts ...Option) (*ZlibArchive, error) {
	cfg := newConfig(opts)
	size, err := streamSize(r)
	if err != nil {
		return nil, err
	}
	if size < zlibHeaderLen+zlibTrailerLen {
		return nil, fmt.Errorf("%w: zlib stream is %d bytes", ErrInvalidFormat, size)
	}

	cr := &leReader{r: r}
	cmf, err := cr.u8()
	if err != nil {
		return nil, err
	}
	flg, err := cr.u8()
	if err != nil {
		return nil, err
	}
	if cmf&zlibMethodMask != zlibMethodDeflate {
		return nil, fmt.Errorf("%w: zlib compression method %d", ErrUnsupported, cmf&zlibMethodMask)
	}
	if flg&zlibFlagDict != 0 {
		if err := cr.skip(zlibDictIDLen); err != nil {
			return nil, err
		}
	}

	bodyOff := cr.off
	bodyLen := size - zlibTrailerLen - bodyOff
	if bodyLen < 0 {
		return nil, fmt.Errorf("%w: zlib header overruns the %d-byte stream", ErrCorrupt, size)
	}

	if err := cr.seekTo(size - zlibTrailerLen); err != nil {
		return nil, err
	}
	trailer, err := cr.read(zlibTrailerLen)
	if err != nil {
		return nil, err
	}
	name := hex.EncodeToString(trailer)

	if err := cr.seekTo(bodyOff); err != nil {
		return nil, err
	}
	fr := flate.NewReader(io.LimitReader(r, bodyLen))
	defer fr.Close()
	data, err := readAllLimit(fr, bodyLen, cfg.maxFileSize)
	if err != nil {
		if errors.Is(err, ErrEntryTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: inflating zlib body: %v", ErrCorrupt, err)
	}

	cfg.log().Debug("decoded zlib stream", "name", name, "bytes", len(data))
	return &ZlibArchive{singleFileArchive: &singleFileArchive{name: name, data: data}}, nil
}
