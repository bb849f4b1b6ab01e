package unarc

import "io"

// POSIX ustar extension layout: a magic marker after the classic header
// fields and a filename-prefix field near the end of the block.
const (
	ustarMagic     = "ustar"
	ustarMagicOff  = 257
	ustarPrefixOff = 345
	ustarPrefixLen = 155
)

// UstarArchive is an Archive decoded from a POSIX ustar stream.
type UstarArchive struct {
	*keyedArchive
}

// OpenUstar decodes a tar stream honoring the ustar long-filename
// extension: when a header carries the "ustar" marker, the NUL-terminated
// prefix field is concatenated before the entry's base name.
//
// No path separator is inserted between prefix and name; producers that
// need one carry it in the prefix field itself.
func OpenUstar(r io.ReadSeeker, opts ...Option) (*UstarArchive, error) {
	cfg := newConfig(opts)
	a, err := decodeTar(r, cfg, ustarName)
	if err != nil {
		return nil, err
	}
	return &UstarArchive{keyedArchive: a}, nil
}

// ustarName resolves the extended entry name before insertion, so the
// store never needs a rename.
func ustarName(hdr []byte, base string) string {
	if string(hdr[ustarMagicOff:ustarMagicOff+len(ustarMagic)]) != ustarMagic {
		return base
	}
	prefix := cstring(hdr[ustarPrefixOff : ustarPrefixOff+ustarPrefixLen])
	if prefix == "" {
		return base
	}
	return prefix + base
}
