package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultRedisTimeout = 3 * time.Second

type (
	// RedisStore namespace of plain redis string keys "<prefix><key>". writes
	// are buffered and applied in one MULTI/EXEC on Flush
	RedisStore struct {
		mu sync.Mutex

		client  redis.UniversalClient
		prefix  string
		timeout time.Duration

		// pending key -> value, nil value marks a delete
		pending map[string][]byte
		reset   bool
		closed  bool
	}
)

// NewRedisStore the client stays owned by the caller
func NewRedisStore(client redis.UniversalClient, prefix string, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		pending: make(map[string][]byte),
	}
}

func (s *RedisStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrClosed
	}
	if v, ok := s.pending[key]; ok {
		if v == nil {
			return nil, false, nil
		}
		return append([]byte(nil), v...), true, nil
	}
	if s.reset {
		return nil, false, nil
	}

	ctx, cancel := s.ctx()
	defer cancel()
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, true, nil
}

func (s *RedisStore) Set(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.pending[key] = v
	return nil
}

func (s *RedisStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.pending[key] = nil
	return nil
}

func (s *RedisStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	set := make(map[string]struct{})
	if !s.reset {
		remote, err := s.scan(prefix)
		if err != nil {
			return nil, err
		}
		for _, k := range remote {
			set[k] = struct{}{}
		}
	}
	for k, v := range s.pending {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if v == nil {
			delete(set, k)
		} else {
			set[k] = struct{}{}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// scan keys of the namespace starting with prefix, namespace prefix removed
func (s *RedisStore) scan(prefix string) ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()

	pattern := escapeGlob(s.prefix+prefix) + "*"
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	return keys, nil
}

// Reset drop every key once flushed
func (s *RedisStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.pending = make(map[string][]byte)
	s.reset = true
	return nil
}

func (s *RedisStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *RedisStore) flush() error {
	if s.closed {
		return ErrClosed
	}
	if len(s.pending) == 0 && !s.reset {
		return nil
	}
	var stale []string
	if s.reset {
		var err error
		if stale, err = s.scan(""); err != nil {
			return err
		}
	}

	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range stale {
			pipe.Del(ctx, s.prefix+k)
		}
		for k, v := range s.pending {
			if v == nil {
				pipe.Del(ctx, s.prefix+k)
			} else {
				pipe.Set(ctx, s.prefix+k, v, 0)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis flush %s: %w", s.prefix, err)
	}
	s.pending = make(map[string][]byte)
	s.reset = false
	return nil
}

// Close flush pending writes; the client is left open
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	err := s.flush()
	s.closed = true
	return err
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
