package passes

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"entrypass/internal/cache"
)

// DefaultCacheTTL is how long a cached read stays valid.
const DefaultCacheTTL = 6 * time.Minute

const listKey = "entry_pass_list"

func passKey(passID string) string { return "entry_pass_" + passID }
func rollKey(rollNo string) string { return "entry_pass_roll_no_" + rollNo }

// Service reads passes through the cache and invalidates it after writes.
type Service struct {
	repo  Repository
	cache cache.Cache
	ttl   time.Duration
	group singleflight.Group

	// gen counts invalidations. A load only fills the cache when no
	// invalidation happened while it was reading the store.
	mu  sync.RWMutex
	gen uint64
}

// NewService creates a service backed by a repository and a cache.
// A nil cache disables caching.
func NewService(repo Repository, c cache.Cache, ttl time.Duration) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{repo: repo, cache: c, ttl: ttl}
}

// List returns every pass without derived fields.
func (s *Service) List(ctx context.Context) ([]EntryPass, error) {
	var cached []EntryPass
	if s.lookup(ctx, listKey, &cached) {
		return cached, nil
	}
	v, err, _ := s.group.Do(listKey, func() (any, error) {
		gen := s.generation()
		all, err := s.repo.List(ctx)
		if err != nil {
			return nil, err
		}
		s.store(ctx, gen, listKey, all)
		return all, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]EntryPass), nil
}

// Get returns a pass by primary key with derived fields.
func (s *Service) Get(ctx context.Context, passID string) (PassDetail, error) {
	return s.detail(ctx, passKey(passID), func() (EntryPass, error) {
		return s.repo.Get(ctx, passID)
	})
}

// GetByRollNo returns the first pass holding rollNo with derived fields.
func (s *Service) GetByRollNo(ctx context.Context, rollNo string) (PassDetail, error) {
	return s.detail(ctx, rollKey(rollNo), func() (EntryPass, error) {
		return s.repo.GetByRollNo(ctx, rollNo)
	})
}

func (s *Service) detail(ctx context.Context, key string, load func() (EntryPass, error)) (PassDetail, error) {
	var cached PassDetail
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		gen := s.generation()
		p, err := load()
		if err != nil {
			return nil, err
		}
		d := Detail(p)
		s.store(ctx, gen, key, d)
		return d, nil
	})
	if err != nil {
		return PassDetail{}, err
	}
	return v.(PassDetail), nil
}

// Create validates and inserts a new pass. The result carries no derived fields.
func (s *Service) Create(ctx context.Context, in Input) (EntryPass, error) {
	if err := in.validateCreate(); err != nil {
		return EntryPass{}, err
	}
	p := EntryPass{PassID: *in.PassID, Name: *in.Name, RollNo: *in.RollNo}
	if err := s.repo.Insert(ctx, p); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return EntryPass{}, fieldError("pass_id", "entry pass with this pass_id already exists")
		}
		return EntryPass{}, err
	}
	s.invalidate(ctx, listKey, rollKey(p.RollNo))
	return p, nil
}

// Update replaces name and roll_no of an existing pass.
func (s *Service) Update(ctx context.Context, passID string, in Input) (EntryPass, error) {
	return s.modify(ctx, passID, in, in.validateUpdate)
}

// Patch replaces only the supplied fields of an existing pass.
func (s *Service) Patch(ctx context.Context, passID string, in Input) (EntryPass, error) {
	return s.modify(ctx, passID, in, in.validatePatch)
}

func (s *Service) modify(ctx context.Context, passID string, in Input, validate func(string) error) (EntryPass, error) {
	current, err := s.repo.Get(ctx, passID)
	if err != nil {
		return EntryPass{}, err
	}
	if err := validate(passID); err != nil {
		return EntryPass{}, err
	}
	next, err := s.repo.Update(ctx, in.apply(current))
	if err != nil {
		return EntryPass{}, err
	}
	s.invalidate(ctx, passKey(passID), listKey, rollKey(current.RollNo), rollKey(next.RollNo))
	return next, nil
}

// Delete removes a pass.
func (s *Service) Delete(ctx context.Context, passID string) error {
	current, err := s.repo.Get(ctx, passID)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, passID); err != nil {
		return err
	}
	s.invalidate(ctx, passKey(passID), listKey, rollKey(current.RollNo))
	return nil
}

// MarkAttendance sets attended to true. It is idempotent.
func (s *Service) MarkAttendance(ctx context.Context, passID string) (EntryPass, error) {
	p, err := s.repo.MarkAttended(ctx, passID)
	if err != nil {
		return EntryPass{}, err
	}
	s.invalidate(ctx, passKey(passID), listKey, rollKey(p.RollNo))
	return p, nil
}

// All reads every pass straight from the store, bypassing the cache.
func (s *Service) All(ctx context.Context) ([]EntryPass, error) {
	return s.repo.List(ctx)
}

// lookup decodes a cached value into dst. Cache failures count as misses.
func (s *Service) lookup(ctx context.Context, key string, dst any) bool {
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Printf("cache get %s failed: %v", key, err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.Printf("cache entry %s undecodable: %v", key, err)
		return false
	}
	return true
}

func (s *Service) generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// store caches v unless an invalidation ran since gen was read.
func (s *Service) store(ctx context.Context, gen uint64, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("cache encode %s failed: %v", key, err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.gen != gen {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		log.Printf("cache set %s failed: %v", key, err)
	}
}

// invalidate drops keys and detaches in-flight loads for them, so later
// readers go back to the store instead of joining a load that predates the write.
func (s *Service) invalidate(ctx context.Context, keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for _, k := range keys {
		s.group.Forget(k)
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		log.Printf("cache invalidate %v failed: %v", keys, err)
	}
}
