package spool

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAddGetRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), 4)
	require.NoError(t, err)
	defer s.Close()

	blobs := [][]byte{
		[]byte("first"),
		{},
		[]byte("a longer third blob with more content"),
	}
	for i, b := range blobs {
		idx, err := s.Add(b)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	assert.Equal(t, len(blobs), s.Len())

	for i, want := range blobs {
		got, err := s.Get(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStoreGetReturnsFreshBuffer(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add([]byte("immutable"))
	require.NoError(t, err)

	first, err := s.Get(0)
	require.NoError(t, err)
	for i := range first {
		first[i] = 'x'
	}

	second, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("immutable"), second)
}

func TestStoreGetOutOfRange(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add([]byte("one"))
	require.NoError(t, err)

	_, err = s.Get(1)
	require.ErrorIs(t, err, ErrOutOfRange)
	_, err = s.Get(-1)
	require.ErrorIs(t, err, ErrOutOfRange)
}

func TestStoreClear(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add([]byte("gone after clear"))
	require.NoError(t, err)
	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Len())

	idx, err := s.Add([]byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}

func TestStoreFreeze(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add([]byte("kept"))
	require.NoError(t, err)

	s.Freeze()

	_, err = s.Add([]byte("rejected"))
	require.ErrorIs(t, err, ErrReadOnly)
	require.ErrorIs(t, s.Clear(), ErrReadOnly)

	// Reads still work on a frozen store.
	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), got)
}

func TestStoreCloseIdempotentAndRemovesScratchFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, 0)
	require.NoError(t, err)

	_, err = s.Add([]byte("spilled"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	scratch := filepath.Join(dir, entries[0].Name())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = os.Stat(scratch)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStoreMethodsAfterClose(t *testing.T) {
	t.Parallel()

	s, err := New(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Add([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Get(0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Clear(), ErrClosed)
	assert.Equal(t, 0, s.Len())
}

func TestStoreGetDetectsScratchCorruption(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := New(dir, 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Add([]byte("trusted bytes"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	scratch := filepath.Join(dir, entries[0].Name())

	// Flip one byte of the spilled blob behind the store's back.
	raw, err := os.ReadFile(scratch)
	require.NoError(t, err)
	raw[0] ^= 0xFF
	require.NoError(t, os.WriteFile(scratch, raw, 0o600))

	_, err = s.Get(0)
	require.ErrorIs(t, err, ErrDigestMismatch)
}

func TestStoreCreateFailsInMissingDir(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "does", "not", "exist"), 0)
	require.Error(t, err)
}
