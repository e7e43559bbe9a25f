// Package kvstore key/value namespaces backing rank caches: memory, SQL
// (sqlite, postgres), redis and the document index metadata.
package kvstore

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var (
	ErrClosed = errors.New("kvstore: store closed")
)

type (
	// Store a key/value namespace. writes are durable after Flush; a crash
	// before Flush may lose the latest writes but never previously flushed data
	Store interface {
		// Get return ok=false for an absent key
		Get(key string) (value []byte, ok bool, err error)

		Set(key string, value []byte) error

		Delete(key string) error

		// Keys keys starting with prefix in ascending order
		Keys(prefix string) ([]string, error)

		// Reset drop every key of the namespace
		Reset() error

		Flush() error

		Close() error
	}

	// MemoryStore process local store, nothing is durable
	MemoryStore struct {
		sync.RWMutex
		data   map[string][]byte
		closed bool
	}
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Get(key string) ([]byte, bool, error) {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Keys(prefix string) ([]string, error) {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Reset() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) Flush() error {
	s.RLock()
	defer s.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.Lock()
	defer s.Unlock()
	s.closed = true
	return nil
}

// Len number of keys held
func (s *MemoryStore) Len() int {
	s.RLock()
	defer s.RUnlock()
	return len(s.data)
}
