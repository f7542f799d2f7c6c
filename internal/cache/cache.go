// Package cache holds the key-value stores that sit in front of the pass records.
//
// Every backend implements Cache. Values are opaque bytes; callers own encoding.
// A backend error is reported to the caller, which decides whether to fall back
// to the source of truth.
package cache

import (
	"context"
	"time"
)

// Cache is a key-value store with per-entry expiry.
type Cache interface {
	// Get returns the value and true on a hit, or false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value under key, replacing any existing entry. It expires after ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes keys. Absent keys are not an error.
	Delete(ctx context.Context, keys ...string) error
}

// Nop never stores anything. Every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Nop) Delete(context.Context, ...string) error { return nil }
