// Package spool provides an append-only, disk-backed blob store.
//
// A Store spills every appended blob to a single scratch file and keeps
// only per-blob locators (offset, length, content digest) in memory, so
// the aggregate decoded size of an archive never has to fit in memory.
// Keyed layers a string key per blob on top of the positional store.
package spool

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for store operations.
var (
	// ErrClosed is returned by any method called after Close.
	ErrClosed = errors.New("spool: store closed")

	// ErrReadOnly is returned by mutating methods on a frozen store.
	ErrReadOnly = errors.New("spool: store is read-only")

	// ErrOutOfRange is returned by Get for an index outside [0, Len).
	ErrOutOfRange = errors.New("spool: index out of range")

	// ErrKeyExists is returned by Keyed.Add when the key is already present.
	ErrKeyExists = errors.New("spool: key already exists")

	// ErrNotFound is returned by Keyed.Get when the key is absent.
	ErrNotFound = errors.New("spool: key not found")

	// ErrDigestMismatch is returned when bytes read back from the scratch
	// file do not match the digest recorded when they were appended.
	ErrDigestMismatch = errors.New("spool: scratch content verification failed")
)

// locator records where one blob lives inside the scratch file.
//
// Locators are immutable once written: the append-only discipline
// guarantees they never overlap.
type locator struct {
	off    int64
	length int64
	dig    digest.Digest
}

// Store is an append-only sequence of byte blobs backed by one scratch
// file. Blobs are addressed by insertion index. All methods serialize on
// a single mutex, so a Store is safe for concurrent use but reads are not
// parallel.
//
// Close removes the scratch file; failing to call it leaks the file.
type Store struct {
	mu       sync.Mutex
	f        *os.File
	path     string
	locs     []locator
	size     int64
	readOnly bool
	closed   bool
}

// New creates a Store with a fresh scratch file in dir (the OS temp
// directory when dir is empty). capacityHint presizes the locator list;
// it is a hint only and does not bound the store.
func New(dir string, capacityHint int) (*Store, error) {
	f, err := os.CreateTemp(dir, "unarc-*.spool")
	if err != nil {
		return nil, fmt.Errorf("creating scratch file: %w", err)
	}
	if capacityHint < 0 {
		capacityHint = 0
	}
	return &Store{
		f:    f,
		path: f.Name(),
		locs: make([]locator, 0, capacityHint),
	}, nil
}

// Add appends p to the store and returns its index.
//
// The bytes are copied to the scratch file before Add returns; the caller
// may reuse p afterwards.
func (s *Store) Add(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}
	if s.readOnly {
		return 0, ErrReadOnly
	}

	loc := locator{
		off:    s.size,
		length: int64(len(p)),
		dig:    digest.FromBytes(p),
	}
	if _, err := s.f.WriteAt(p, loc.off); err != nil {
		return 0, fmt.Errorf("writing scratch file: %w", err)
	}
	s.size += loc.length
	s.locs = append(s.locs, loc)
	return len(s.locs) - 1, nil
}

// Get returns the blob at index i in a freshly allocated buffer. The
// buffer never aliases store state, so callers may modify it freely.
//
// The bytes are verified against the digest recorded at Add time;
// mismatches (scratch file tampering or media corruption) return
// ErrDigestMismatch.
func (s *Store) Get(i int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if i < 0 || i >= len(s.locs) {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, len(s.locs))
	}

	loc := s.locs[i]
	buf := make([]byte, loc.length)
	if _, err := s.f.ReadAt(buf, loc.off); err != nil {
		return nil, fmt.Errorf("reading scratch file: %w", err)
	}
	if digest.FromBytes(buf) != loc.dig {
		return nil, ErrDigestMismatch
	}
	return buf, nil
}

// Len returns the number of blobs in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locs)
}

// Clear discards all blobs and truncates the scratch file so the store
// can be reused. It fails on a frozen or closed store.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.readOnly {
		return ErrReadOnly
	}
	if err := s.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating scratch file: %w", err)
	}
	s.locs = s.locs[:0]
	s.size = 0
	return nil
}

// Freeze marks the store read-only. Subsequent Add and Clear calls fail
// with ErrReadOnly; reads are unaffected. Freeze cannot be undone.
func (s *Store) Freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = true
}

// Close releases the store and removes its scratch file. Close is
// idempotent; every other method fails with ErrClosed afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.locs = nil

	err := s.f.Close()
	if rmErr := os.Remove(s.path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

var _ io.Closer = (*Store)(nil)
