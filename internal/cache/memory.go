package cache

import (
	"context"
	"errors"
	"time"

	"github.com/viccon/sturdyc"
)

// MemoryConfig sizes the in-process cache.
type MemoryConfig struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
}

// DefaultMemoryConfig returns settings suitable for a single API process.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:           10000,
		NumShards:          64,
		TTL:                6 * time.Minute,
		EvictionPercentage: 10,
	}
}

func (c MemoryConfig) validate() error {
	switch {
	case c.Capacity <= 0:
		return errors.New("memory cache: capacity must be greater than 0")
	case c.NumShards <= 0:
		return errors.New("memory cache: shards must be greater than 0")
	case c.TTL <= 0:
		return errors.New("memory cache: ttl must be greater than 0")
	case c.EvictionPercentage < 1 || c.EvictionPercentage > 100:
		return errors.New("memory cache: eviction percentage must be between 1 and 100")
	}
	return nil
}

// Memory is a sharded in-process cache. Entries live for the TTL the cache
// was built with; the ttl passed to Set is ignored.
type Memory struct {
	client *sturdyc.Client[[]byte]
}

// NewMemory builds an in-process cache.
func NewMemory(cfg MemoryConfig) (*Memory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	client := sturdyc.New[[]byte](cfg.Capacity, cfg.NumShards, cfg.TTL, cfg.EvictionPercentage)
	return &Memory{client: client}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.client.Get(key)
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.client.Set(key, value)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.client.Delete(k)
	}
	return nil
}
