package redis

import (
	"context"
	"time"

	"github.com/kbukum/flowkit/resilience"
)

// CacheStore is a resilience.Store backed by Redis string keys with native
// expiry, so cached results survive restarts and are shared across processes.
type CacheStore struct {
	client    *Client
	namespace string
}

var _ resilience.Store = (*CacheStore)(nil)

// NewCacheStore creates a CacheStore. Keys are written as
// <prefix>:<namespace>:<cache key>.
func NewCacheStore(client *Client, namespace string) *CacheStore {
	return &CacheStore{client: client, namespace: namespace}
}

func (s *CacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.client.Get(ctx, s.client.key(s.namespace, key))
}

func (s *CacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.client.key(s.namespace, key), value, ttl)
}

// Delete removes a cached entry.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.client.key(s.namespace, key))
}
