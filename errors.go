package unarc

import (
	"errors"

	"github.com/meigma/unarc/internal/spool"
)

// Sentinel errors for decode failures.
var (
	// ErrInvalidFormat is returned when a stream does not match the
	// expected format at all: bad magic bytes, or a declared size that
	// disagrees with the stream length.
	ErrInvalidFormat = errors.New("unarc: invalid format")

	// ErrUnsupported is returned when a stream is recognized but uses a
	// feature this package does not decode: an unsupported compression
	// scheme, format version, or a multi-cabinet set.
	ErrUnsupported = errors.New("unarc: unsupported feature")

	// ErrCorrupt is returned when a recognized stream is internally
	// inconsistent: undecodable header fields, out-of-range record
	// references, or a premature end of stream.
	ErrCorrupt = errors.New("unarc: corrupt archive")

	// ErrEntryTooLarge is returned when a single decoded file exceeds the
	// size limit. The whole decode is aborted; no truncated entry is kept.
	ErrEntryTooLarge = errors.New("unarc: entry exceeds size limit")
)

// Errors re-exported from internal/spool for callers that inspect
// store-level failures surfaced through an Archive.
var (
	// ErrClosed is returned by any Archive method called after Close.
	ErrClosed = spool.ErrClosed

	// ErrScratchCorrupt is returned when bytes read back from scratch
	// storage fail digest verification.
	ErrScratchCorrupt = spool.ErrDigestMismatch
)
