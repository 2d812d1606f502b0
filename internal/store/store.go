package store

import (
	"bytes"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

var (
	// ErrNotInteger is returned by IncrBy when the stored value cannot be coerced to an int64
	ErrNotInteger = errors.New("value is not an integer or out of range")
	// ErrOverflow is returned by IncrBy when the checked arithmetic would wrap
	ErrOverflow = errors.New("increment or decrement would overflow")
	// ErrWrongType is returned by list operations against a non-list value
	ErrWrongType = errors.New("WRONGTYPE Operation against a key holding the wrong kind of value")
)

type ExpiryStatus int

const (
	// ExpNotFound means that the key does not exist
	ExpNotFound ExpiryStatus = -2
	// ExpNoTimeout means that the key exists, but it does not have a TTL
	ExpNoTimeout ExpiryStatus = -1
	// ExpActive means that the key has an active lifetime
	ExpActive ExpiryStatus = 1
)

type SetOptions struct {
	TTL      time.Duration // relative key lifetime
	ExpireAt time.Time     // absolute deadline (EXAT/PXAT), takes precedence over TTL
	KeepTTL  bool          // if true, retain the existing TTL (ignore TTL field)
	NX       bool          // only set if the key does not exist
	XX       bool          // only set if the key already exists
}

// entry is one stored object: the tagged value plus its absolute expiration.
// idx is the entry's position in the keys slice and is kept in sync on every
// insert and swap-remove so sampling can index the keyspace in O(1)
type entry struct {
	value     Value
	expiresAt int64 // unix nanoseconds, 0 means no TTL
	idx       int
}

// Store is a thread-safe key-value keyspace with per-key expiration.
// The keys slice preserves a stable order between mutations, which is what
// makes uniform random sampling possible without a full scan. A single mutex
// guards every operation; critical sections are O(1) to O(sample size) and
// never span transport I/O
type Store struct {
	mu   sync.Mutex
	data map[string]*entry
	keys []string
}

// New creates an empty Store
func New() *Store {
	return &Store{
		data: make(map[string]*entry),
	}
}

// Get returns the value and true if the key is present and not expired.
// An expired object is removed here and reported as a miss
func (s *Store) Get(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return Value{}, false
	}
	return e.value, true
}

// Exists reports key presence with the same lazy-expiration semantics as Get
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.lookup(key)
	return ok
}

// Set writes the value based on the options. Returns true if recording has
// been performed. Without TTL, ExpireAt or KeepTTL, any previous expiration
// is cleared: a plain SET replaces the object wholesale
func (s *Store) Set(key string, v Value, opts SetOptions) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.lookup(key)

	if opts.NX && exists {
		return false
	}
	if opts.XX && !exists {
		return false
	}

	if !exists {
		e = &entry{}
		s.insert(key, e)
	}
	e.value = cloneValue(v)

	switch {
	case opts.KeepTTL:
		// retain whatever expiresAt the entry already has; a fresh
		// entry starts at 0, so KEEPTTL on a new key means no TTL
	case !opts.ExpireAt.IsZero():
		e.expiresAt = opts.ExpireAt.UnixNano()
	case opts.TTL > 0:
		e.expiresAt = time.Now().Add(opts.TTL).UnixNano()
	default:
		e.expiresAt = 0
	}

	return true
}

// Delete deletes the key. Returns true if the key existed and was deleted.
// An expired-but-not-yet-collected object still counts as deleted
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return false
	}
	s.remove(key, e)
	return true
}

// IncrBy applies a signed delta to the integer stored at key.
// An absent or expired key starts from 0. String values that parse as a
// base-10 int64 are coerced; anything else fails without mutating the key.
// The existing expiration is preserved on success
func (s *Store) IncrBy(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{}
		s.insert(key, e)
		e.value = NewIntegerValue(delta)
		return delta, nil
	}

	cur, ok := e.value.AsInt()
	if !ok {
		return 0, ErrNotInteger
	}

	if (delta > 0 && cur > math.MaxInt64-delta) ||
		(delta < 0 && cur < math.MinInt64-delta) {
		return 0, ErrOverflow
	}

	next := cur + delta
	e.value = NewIntegerValue(next)
	return next, nil
}

// Expiry returns the remaining lifetime and status as ExpiryStatus
func (s *Store) Expiry(key string) (time.Duration, ExpiryStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, ExpNotFound
	}
	if e.expiresAt == 0 {
		return 0, ExpNoTimeout
	}
	return time.Duration(e.expiresAt - time.Now().UnixNano()), ExpActive
}

// Persist removes the expiration date of the key, making it eternal.
// Returns 1 if successful, 0 if the key was not found or had no TTL
func (s *Store) Persist(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.expiresAt == 0 {
		return 0
	}
	e.expiresAt = 0
	return 1
}

// Push appends elements to the list stored at key, creating it if absent.
// front inserts each element at the head in argument order, so the last
// argument ends up first. Returns the resulting list length
func (s *Store) Push(key string, front bool, elems [][]byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{}
		s.insert(key, e)
		e.value = NewListValue(nil)
	} else if e.value.Kind != KindList {
		return 0, ErrWrongType
	}

	list := e.value.List
	for _, el := range elems {
		el = bytes.Clone(el)
		if front {
			list = append([][]byte{el}, list...)
		} else {
			list = append(list, el)
		}
	}
	e.value = NewListValue(list)
	return int64(len(list)), nil
}

// Range returns the elements of the list at key between start and stop
// inclusive. Negative indices count from the tail. An absent key yields an
// empty result
func (s *Store) Range(key string, start, stop int64) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, nil
	}
	if e.value.Kind != KindList {
		return nil, ErrWrongType
	}

	n := int64(len(e.value.List))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return nil, nil
	}
	return slices.Clone(e.value.List[start : stop+1]), nil
}

// ListLen returns the length of the list at key, 0 when absent
func (s *Store) ListLen(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, nil
	}
	if e.value.Kind != KindList {
		return 0, ErrWrongType
	}
	return int64(len(e.value.List)), nil
}

// SampleKeys returns up to n distinct keys drawn uniformly at random
// without replacement. n larger than the keyspace returns every key
func (s *Store) SampleKeys(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := len(s.keys)
	if n >= m {
		return slices.Clone(s.keys)
	}

	picked := make(map[int]struct{}, n)
	out := make([]string, 0, n)
	for len(out) < n {
		i := rand.IntN(m)
		if _, dup := picked[i]; dup {
			continue
		}
		picked[i] = struct{}{}
		out = append(out, s.keys[i])
	}
	return out
}

// Len returns the number of keys, including expired ones not yet collected
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// lookup resolves key to its live entry, collecting it on the spot when the
// expiration has passed. Callers must hold the lock
func (s *Store) lookup(key string) (*entry, bool) {
	e, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if e.expiresAt != 0 && time.Now().UnixNano() > e.expiresAt {
		s.remove(key, e)
		return nil, false
	}
	return e, true
}

// insert registers a fresh entry at the tail of the key order.
// Callers must hold the lock
func (s *Store) insert(key string, e *entry) {
	e.idx = len(s.keys)
	s.keys = append(s.keys, key)
	s.data[key] = e
}

// remove drops the entry and swap-removes its key: the last key takes the
// vacated index so the slice stays dense. Callers must hold the lock
func (s *Store) remove(key string, e *entry) {
	last := len(s.keys) - 1
	moved := s.keys[last]
	s.keys[e.idx] = moved
	s.data[moved].idx = e.idx
	s.keys = s.keys[:last]
	delete(s.data, key)
}

// cloneValue detaches the value's byte payloads from caller-owned buffers.
// Command arguments alias the session's reusable receive buffer, which is
// compacted after dispatch, so stored bytes must not share that memory
func cloneValue(v Value) Value {
	switch v.Kind {
	case KindString:
		v.Str = bytes.Clone(v.Str)
	case KindList:
		list := make([][]byte, len(v.List))
		for i, el := range v.List {
			list[i] = bytes.Clone(el)
		}
		v.List = list
	case KindInteger:
	}
	return v
}
