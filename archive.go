package unarc

import (
	"errors"
	"io/fs"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/encoding"

	"github.com/meigma/unarc/internal/spool"
)

// Archive is a read-only collection of named byte blobs produced by one
// of the decoder constructors.
//
// Archives are safe for concurrent use once constructed. Fetch of a name
// that is not present fails with an *fs.PathError wrapping fs.ErrNotExist.
// Close releases the archive's backing storage; it is idempotent, and
// Fetch fails with ErrClosed afterwards.
type Archive interface {
	// Len returns the number of files in the archive.
	Len() int

	// Names returns the file names in decode (insertion) order.
	Names() []string

	// Fetch returns the content of the named file.
	Fetch(name string) ([]byte, error)

	// ReadText fetches the named file and decodes it with enc.
	// A nil encoding returns the bytes as a string unchanged.
	ReadText(name string, enc encoding.Encoding) (string, error)

	// Close releases the archive's backing storage.
	Close() error
}

// decodeText converts raw file bytes using enc, or passes them through
// when enc is nil.
func decodeText(p []byte, enc encoding.Encoding) (string, error) {
	if enc == nil {
		return string(p), nil
	}
	out, err := enc.NewDecoder().Bytes(p)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// keyedArchive adapts a spool.Keyed to the Archive interface. It is the
// shared implementation behind the tar, ustar and cabinet decoders.
//
// Concurrent Fetch calls for the same name are deduplicated with
// singleflight; duplicate callers may receive the same backing slice.
type keyedArchive struct {
	files      *spool.Keyed
	fetchGroup singleflight.Group
}

var _ Archive = (*keyedArchive)(nil)

func newKeyedArchive(cfg *config, capacityHint int) (*keyedArchive, error) {
	store, err := spool.New(cfg.scratchDir, capacityHint)
	if err != nil {
		return nil, err
	}
	return &keyedArchive{files: spool.NewKeyed(store, cfg.keyEq())}, nil
}

// freeze marks the archive read-only after a successful decode.
func (a *keyedArchive) freeze() {
	a.files.Freeze()
}

func (a *keyedArchive) Len() int {
	return a.files.Len()
}

func (a *keyedArchive) Names() []string {
	return a.files.Keys()
}

func (a *keyedArchive) Fetch(name string) ([]byte, error) {
	content, err, _ := a.fetchGroup.Do(name, func() (any, error) {
		return a.files.Get(name)
	})
	if err != nil {
		if errors.Is(err, spool.ErrNotFound) {
			return nil, &fs.PathError{Op: "fetch", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}
	return content.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

func (a *keyedArchive) ReadText(name string, enc encoding.Encoding) (string, error) {
	p, err := a.Fetch(name)
	if err != nil {
		return "", err
	}
	return decodeText(p, enc)
}

func (a *keyedArchive) Close() error {
	return a.files.Close()
}

// singleFileArchive is the default Archive implementation for formats
// that can only ever contain one decoded payload (gzip, zlib). Len is
// always 1 and Fetch ignores its argument.
//
// The payload is held in memory; Close releases it.
type singleFileArchive struct {
	mu     sync.Mutex
	name   string
	data   []byte
	closed bool
}

var _ Archive = (*singleFileArchive)(nil)

func (a *singleFileArchive) Len() int {
	return 1
}

func (a *singleFileArchive) Names() []string {
	return []string{a.name}
}

// Fetch returns the single decoded payload regardless of name. The
// returned buffer is a copy; callers may modify it freely.
func (a *singleFileArchive) Fetch(string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	out := make([]byte, len(a.data))
	copy(out, a.data)
	return out, nil
}

func (a *singleFileArchive) ReadText(name string, enc encoding.Encoding) (string, error) {
	p, err := a.Fetch(name)
	if err != nil {
		return "", err
	}
	return decodeText(p, enc)
}

func (a *singleFileArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.data = nil
	return nil
}
