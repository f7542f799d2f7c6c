// Package cachetest provides an in-memory cache with a controllable clock and
// injectable failures for tests.
package cachetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrUnavailable is returned by every operation while the fake is marked down.
var ErrUnavailable = errors.New("cache unavailable")

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Fake is a TTL map driven by a clockwork clock.
type Fake struct {
	clock clockwork.Clock

	mu      sync.Mutex
	items   map[string]entry
	down    bool
	sets    []string
	deletes []string
}

// New returns a Fake using clock. A nil clock means a new fake clock.
func New(clock clockwork.Clock) *Fake {
	if clock == nil {
		clock = clockwork.NewFakeClock()
	}
	return &Fake{clock: clock, items: make(map[string]entry)}
}

// SetDown makes every subsequent call fail with ErrUnavailable until reset.
func (f *Fake) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *Fake) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, false, ErrUnavailable
	}
	e, ok := f.items[key]
	if !ok {
		return nil, false, nil
	}
	if !f.clock.Now().Before(e.expiresAt) {
		delete(f.items, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (f *Fake) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return ErrUnavailable
	}
	f.sets = append(f.sets, key)
	f.items[key] = entry{value: append([]byte(nil), value...), expiresAt: f.clock.Now().Add(ttl)}
	return nil
}

func (f *Fake) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return ErrUnavailable
	}
	for _, k := range keys {
		f.deletes = append(f.deletes, k)
		delete(f.items, k)
	}
	return nil
}

// Has reports whether key holds an unexpired entry.
func (f *Fake) Has(key string) bool {
	_, ok, _ := f.Get(context.Background(), key)
	return ok
}

// Sets returns the keys written so far, in order.
func (f *Fake) Sets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sets...)
}

// Deletes returns the keys invalidated so far, in order.
func (f *Fake) Deletes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deletes...)
}
