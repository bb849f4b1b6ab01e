package unarc

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// Tar block layout. Entries occupy whole 512-byte blocks; fields live at
// fixed byte offsets within the header block.
const (
	tarBlockSize = 512

	tarNameOff = 0
	tarNameLen = 100
	tarSizeOff = 124
	tarSizeLen = 11
	tarTypeOff = 156
)

// Tar type flags kept by the decoder. Everything else (links,
// directories, devices, PAX records) is skipped.
const (
	tarTypeRegular       = '0'
	tarTypeRegularLegacy = 0x00
)

// TarArchive is an Archive decoded from a UNIX tar stream.
type TarArchive struct {
	*keyedArchive
}

// OpenTar decodes a tar stream into an Archive.
//
// The whole stream is consumed before OpenTar returns. Only regular-file
// entries are kept; their content is spilled to a scratch file. The
// stream must be at least one block long and a whole number of 512-byte
// blocks, and ends at either two consecutive all-zero blocks or EOF.
func OpenTar(r io.ReadSeeker, opts ...Option) (*TarArchive, error) {
	cfg := newConfig(opts)
	a, err := decodeTar(r, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &TarArchive{keyedArchive: a}, nil
}

// tarNameFunc resolves an entry's final key from its raw header block
// and the NUL-terminated base name. The key must be final before
// insertion; the store has no rename.
type tarNameFunc func(hdr []byte, base string) string

// decodeTar runs the block state machine shared by OpenTar and
// OpenUstar. nameFn may rewrite entry names; nil keeps the base name.
func decodeTar(r io.ReadSeeker, cfg *config, nameFn tarNameFunc) (_ *keyedArchive, err error) {
	size, err := streamSize(r)
	if err != nil {
		return nil, err
	}
	if size < tarBlockSize {
		return nil, fmt.Errorf("%w: tar stream is %d bytes, need at least %d", ErrInvalidFormat, size, tarBlockSize)
	}
	if size%tarBlockSize != 0 {
		return nil, fmt.Errorf("%w: tar stream length %d is not block-aligned", ErrCorrupt, size)
	}

	a, err := newKeyedArchive(cfg, int(size/(2*tarBlockSize)))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	log := cfg.log()
	var (
		hdr      [tarBlockSize]byte
		off      int64
		prevZero bool
		kept     int
		skipped  int
	)
	for off < size {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("%w: reading header block at offset %d: %v", ErrCorrupt, off, err)
		}
		blockOff := off
		off += tarBlockSize

		// Two consecutive all-zero blocks mark the end of the archive.
		// A single one is remembered, never parsed as a header.
		if isZeroBlock(hdr[:]) {
			if prevZero {
				break
			}
			prevZero = true
			continue
		}
		prevZero = false

		name := cstring(hdr[tarNameOff : tarNameOff+tarNameLen])
		entrySize, err := parseOctal(hdr[tarSizeOff : tarSizeOff+tarSizeLen])
		if err != nil {
			return nil, fmt.Errorf("%w: bad octal size field in header at offset %d: %v", ErrCorrupt, blockOff, err)
		}

		padded := paddedLength(entrySize)
		typ := hdr[tarTypeOff]
		if typ != tarTypeRegular && typ != tarTypeRegularLegacy {
			if _, err := r.Seek(padded, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("%w: skipping entry %q at offset %d: %v", ErrCorrupt, name, blockOff, err)
			}
			off += padded
			skipped++
			log.Debug("skipped non-regular tar entry", "name", name, "type", typ)
			continue
		}
		if entrySize > cfg.maxFileSize {
			return nil, fmt.Errorf("%w: entry %q is %d bytes", ErrEntryTooLarge, name, entrySize)
		}

		data := make([]byte, padded)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("%w: entry %q truncated at offset %d: %v", ErrCorrupt, name, blockOff, err)
		}
		off += padded

		if nameFn != nil {
			name = nameFn(hdr[:], name)
		}
		// Drop the zero-padding tail; only the logical size is stored.
		if _, err := a.files.Add(name, data[:entrySize]); err != nil {
			return nil, err
		}
		kept++
	}

	a.freeze()
	log.Debug("decoded tar archive", "files", kept, "skipped", skipped, "bytes", size)
	return a, nil
}

// streamSize measures r by seeking to its end, then rewinds.
func streamSize(r io.ReadSeeker) (int64, error) {
	size, err := r.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measuring stream: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewinding stream: %w", err)
	}
	return size, nil
}

// paddedLength returns the on-disk length of an entry's data region.
// Entries are block-aligned even though the logical size may not be.
func paddedLength(size int64) int64 {
	if size == 0 {
		return 0
	}
	return (size + tarBlockSize - 1) &^ (tarBlockSize - 1)
}

// parseOctal parses a tar octal ASCII field, trimmed of the spaces and
// NULs producers pad with.
func parseOctal(field []byte) (int64, error) {
	s := string(bytes.Trim(field, " \x00"))
	if s == "" {
		return 0, fmt.Errorf("empty field")
	}
	n, err := strconv.ParseInt(s, 8, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid octal %q", s)
	}
	return n, nil
}

// cstring returns the bytes of b up to the first NUL as a string.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
