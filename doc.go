// Package unarc decodes tar, ustar, Microsoft Cabinet (MS-CAB), gzip and
// zlib streams into queryable, in-process collections of named byte blobs.
//
// Decoding is eager: a constructor consumes its entire input stream before
// returning, and the resulting [Archive] is read-only. Decoded file content
// is spilled to a scratch file rather than held in memory, so archives
// larger than available memory can be served as long as they fit on disk.
//
// # Quick Start
//
// Open an archive and fetch a file by name:
//
//	f, err := os.Open("bundle.tar")
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	archive, err := unarc.OpenTar(f)
//	if err != nil {
//	    return err
//	}
//	defer archive.Close()
//
//	content, err := archive.Fetch("docs/readme.txt")
//
// The gzip and zlib formats carry a single payload; their archives always
// report one entry, named after the embedded original filename (gzip, when
// present) or the lowercase hex of the stream's trailing checksum.
//
// # Limits
//
// Decoding is strict: unknown compression schemes, multi-cabinet sets and
// format versions other than those documented fail with [ErrUnsupported],
// and malformed input fails with [ErrInvalidFormat] or [ErrCorrupt]. A
// single decoded file is capped at 2 GiB ([ErrEntryTooLarge]); the cap can
// be lowered with [WithMaxFileSize]. Archives must be closed to release
// their scratch storage.
package unarc
