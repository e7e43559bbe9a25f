package kvstore

import (
	"strings"
	"sync"

	"github.com/echoface/rankcache/docindex"
)

// metadata values are never empty, an empty metadata value means absent
const metaValueMarker = "="

type (
	MetadataBackend interface {
		docindex.MetadataWriter

		MetadataKeys(prefix string) ([]string, error)
	}

	// MetadataStore namespace inside the index metadata, keys are stored as
	// "<prefix><key>". writes become durable with the index writer commit, so
	// Flush has nothing to do
	MetadataStore struct {
		mu     sync.Mutex
		meta   MetadataBackend
		prefix string
		closed bool
	}
)

func NewMetadataStore(meta MetadataBackend, prefix string) *MetadataStore {
	return &MetadataStore{meta: meta, prefix: prefix}
}

func (s *MetadataStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}
	v, err := s.meta.Metadata(s.prefix + key)
	if err != nil || v == "" {
		return nil, false, err
	}
	return []byte(strings.TrimPrefix(v, metaValueMarker)), true, nil
}

func (s *MetadataStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.meta.SetMetadata(s.prefix+key, metaValueMarker+string(value))
}

func (s *MetadataStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.meta.SetMetadata(s.prefix+key, "")
}

func (s *MetadataStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	full, err := s.meta.MetadataKeys(s.prefix + prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(full))
	for _, k := range full {
		keys = append(keys, strings.TrimPrefix(k, s.prefix))
	}
	return keys, nil
}

func (s *MetadataStore) Reset() error {
	keys, err := s.Keys("")
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err = s.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *MetadataStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MetadataStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
