package spool

import "fmt"

// Keyed layers a unique string key per blob over a Store.
//
// Keys are held in insertion order, parallel to the store's index space,
// so len(keys) == store.Len() always holds. Lookups are a linear scan
// with an injectable equality function; archives are small enough that
// hashing buys nothing.
type Keyed struct {
	store *Store
	keys  []string
	eq    func(a, b string) bool
}

// NewKeyed wraps store with a key index. eq decides key equality; nil
// means exact (==) comparison. Pass strings.EqualFold for
// case-insensitive name matching.
//
// The Keyed takes ownership of store; close it through Keyed.Close.
func NewKeyed(store *Store, eq func(a, b string) bool) *Keyed {
	if eq == nil {
		eq = func(a, b string) bool { return a == b }
	}
	return &Keyed{
		store: store,
		keys:  make([]string, 0, cap(store.locs)),
		eq:    eq,
	}
}

// Add appends p under key and returns its index. Adding a key that
// compares equal to an existing one fails with ErrKeyExists and leaves
// the store unchanged.
func (k *Keyed) Add(key string, p []byte) (int, error) {
	if k.lookup(key) >= 0 {
		return 0, fmt.Errorf("%w: %q", ErrKeyExists, key)
	}
	i, err := k.store.Add(p)
	if err != nil {
		return 0, err
	}
	k.keys = append(k.keys, key)
	return i, nil
}

// Get returns the blob stored under key in a freshly allocated buffer.
func (k *Keyed) Get(key string) ([]byte, error) {
	i := k.lookup(key)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return k.store.Get(i)
}

// At returns the blob at index i, bypassing the key index.
func (k *Keyed) At(i int) ([]byte, error) {
	return k.store.Get(i)
}

// Contains reports whether a blob is stored under key.
func (k *Keyed) Contains(key string) bool {
	return k.lookup(key) >= 0
}

// Len returns the number of blobs in the store.
func (k *Keyed) Len() int {
	return k.store.Len()
}

// Keys returns the keys in insertion order. The slice is a copy.
func (k *Keyed) Keys() []string {
	out := make([]string, len(k.keys))
	copy(out, k.keys)
	return out
}

// Freeze marks the underlying store read-only.
func (k *Keyed) Freeze() {
	k.store.Freeze()
}

// Close releases the underlying store and clears the key index, keeping
// len(keys) == store.Len() through disposal. Idempotent.
func (k *Keyed) Close() error {
	k.keys = nil
	return k.store.Close()
}

// lookup returns the index of the first key comparing equal to key, or -1.
// First match wins, matching a sequential scan.
func (k *Keyed) lookup(key string) int {
	for i, have := range k.keys {
		if k.eq(have, key) {
			return i
		}
	}
	return -1
}
