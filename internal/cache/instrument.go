package cache

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Instrumented counts lookups by outcome.
type Instrumented struct {
	next    Cache
	lookups *prometheus.CounterVec
}

// Instrument wraps c. lookups must have a single "result" label.
func Instrument(c Cache, lookups *prometheus.CounterVec) *Instrumented {
	return &Instrumented{next: c, lookups: lookups}
}

func (i *Instrumented) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := i.next.Get(ctx, key)
	switch {
	case err != nil:
		i.lookups.WithLabelValues("error").Inc()
	case ok:
		i.lookups.WithLabelValues("hit").Inc()
	default:
		i.lookups.WithLabelValues("miss").Inc()
	}
	return v, ok, err
}

func (i *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return i.next.Set(ctx, key, value, ttl)
}

func (i *Instrumented) Delete(ctx context.Context, keys ...string) error {
	return i.next.Delete(ctx, keys...)
}
