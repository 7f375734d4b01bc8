package storage

import (
	"context"
	"time"

	"github.com/kamalcharan/contractnest-auth/pkg/domain"
	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore implements Store in process. It is only shared between the
// goroutines of one instance.
type MemoryStore struct {
	c   *gocache.Cache
	ttl TTLConfig
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-process store.
func NewMemoryStore(ttl TTLConfig) *MemoryStore {
	return &MemoryStore{
		c:   gocache.New(ttl.For(domain.DurabilityEphemeral), 5*time.Minute),
		ttl: ttl,
	}
}

// Get loads a value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a copy of value.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, durability domain.Durability) error {
	s.c.Set(key, clone(value), s.ttl.For(durability))
	return nil
}

// SetTTL stores a copy of value with an explicit TTL.
func (s *MemoryStore) SetTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.c.Set(key, clone(value), ttl)
	return nil
}

// Acquire stores value only if key is absent.
func (s *MemoryStore) Acquire(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.c.Add(key, clone(value), ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.c.Delete(k)
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
