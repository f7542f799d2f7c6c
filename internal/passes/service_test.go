package passes

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"entrypass/internal/cache/cachetest"
)

// memRepo is an in-memory Repository that counts reads.
type memRepo struct {
	mu    sync.Mutex
	rows  map[string]EntryPass
	reads int
}

func newMemRepo(rows ...EntryPass) *memRepo {
	r := &memRepo{rows: make(map[string]EntryPass)}
	for _, p := range rows {
		r.rows[p.PassID] = p
	}
	return r
}

func (r *memRepo) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func (r *memRepo) List(context.Context) ([]EntryPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	out := []EntryPass{}
	for _, p := range r.rows {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PassID < out[j].PassID })
	return out, nil
}

func (r *memRepo) Get(_ context.Context, id string) (EntryPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	p, ok := r.rows[id]
	if !ok {
		return EntryPass{}, ErrNotFound
	}
	return p, nil
}

func (r *memRepo) GetByRollNo(_ context.Context, rollNo string) (EntryPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	var found *EntryPass
	for _, p := range r.rows {
		if p.RollNo == rollNo && (found == nil || p.PassID < found.PassID) {
			p := p
			found = &p
		}
	}
	if found == nil {
		return EntryPass{}, ErrNotFound
	}
	return *found, nil
}

func (r *memRepo) Insert(_ context.Context, p EntryPass) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[p.PassID]; ok {
		return ErrAlreadyExists
	}
	r.rows[p.PassID] = p
	return nil
}

func (r *memRepo) Update(_ context.Context, p EntryPass) (EntryPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.rows[p.PassID]
	if !ok {
		return EntryPass{}, ErrNotFound
	}
	stored.Name, stored.RollNo = p.Name, p.RollNo
	r.rows[p.PassID] = stored
	return stored, nil
}

func (r *memRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return ErrNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *memRepo) MarkAttended(_ context.Context, id string) (EntryPass, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[id]
	if !ok {
		return EntryPass{}, ErrNotFound
	}
	p.Attended = true
	r.rows[id] = p
	return p, nil
}

// markingRepo marks the pass attended between the service's read and its update.
type markingRepo struct {
	*memRepo
}

func (r markingRepo) Update(ctx context.Context, p EntryPass) (EntryPass, error) {
	if _, err := r.memRepo.MarkAttended(ctx, p.PassID); err != nil {
		return EntryPass{}, err
	}
	return r.memRepo.Update(ctx, p)
}

// slowListRepo blocks the first List after reading the rows until release is closed.
type slowListRepo struct {
	*memRepo
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (r *slowListRepo) List(ctx context.Context) ([]EntryPass, error) {
	all, err := r.memRepo.List(ctx)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	return all, err
}

func strPtr(s string) *string { return &s }

var alice = EntryPass{PassID: "P1", Name: "Alice", RollNo: "2023d1r045"}

func newTestService(rows ...EntryPass) (*Service, *memRepo, *cachetest.Fake, clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	fake := cachetest.New(clock)
	repo := newMemRepo(rows...)
	return NewService(repo, fake, DefaultCacheTTL), repo, fake, clock
}

func TestService_GetReadThrough(t *testing.T) {
	ctx := context.Background()
	svc, repo, fake, _ := newTestService(alice)

	first, err := svc.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if first.Branch != "MCA" || first.Year != "2023" {
		t.Errorf("expected derived fields, got %+v", first)
	}
	if !fake.Has("entry_pass_P1") {
		t.Error("expected entry_pass_P1 to be cached")
	}

	for i := 0; i < 3; i++ {
		again, err := svc.Get(ctx, "P1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if again != first {
			t.Errorf("expected identical payload, got %+v", again)
		}
	}
	if repo.Reads() != 1 {
		t.Errorf("expected 1 store read, got %d", repo.Reads())
	}
}

func TestService_GetExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, clock := newTestService(alice)

	if _, err := svc.Get(ctx, "P1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	clock.Advance(DefaultCacheTTL - time.Second)
	if _, err := svc.Get(ctx, "P1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if repo.Reads() != 1 {
		t.Errorf("expected hit before ttl, got %d reads", repo.Reads())
	}
	clock.Advance(2 * time.Second)
	if _, err := svc.Get(ctx, "P1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if repo.Reads() != 2 {
		t.Errorf("expected reload after ttl, got %d reads", repo.Reads())
	}
}

func TestService_GetNotFoundIsNotCached(t *testing.T) {
	ctx := context.Background()
	svc, _, fake, _ := newTestService()

	if _, err := svc.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.GetByRollNo(ctx, "UNKNOWN"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(fake.Sets()) != 0 {
		t.Errorf("expected no cache writes, got %v", fake.Sets())
	}
}

func TestService_GetByRollNo(t *testing.T) {
	ctx := context.Background()
	svc, _, fake, _ := newTestService(alice, EntryPass{PassID: "P0", Name: "Zed", RollNo: "2023d1r045"})

	d, err := svc.GetByRollNo(ctx, "2023d1r045")
	if err != nil {
		t.Fatalf("get by roll: %v", err)
	}
	if d.PassID != "P0" {
		t.Errorf("expected lowest pass id P0, got %s", d.PassID)
	}
	if !fake.Has("entry_pass_roll_no_2023d1r045") {
		t.Error("expected roll number key to be cached")
	}
}

func TestService_ListCachesRawRecords(t *testing.T) {
	ctx := context.Background()
	svc, repo, fake, _ := newTestService(alice)

	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0] != alice {
		t.Errorf("unexpected list: %+v", all)
	}
	if !fake.Has("entry_pass_list") {
		t.Error("expected list to be cached")
	}
	if _, err := svc.List(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	if repo.Reads() != 1 {
		t.Errorf("expected 1 store read, got %d", repo.Reads())
	}
}

func TestService_WritesInvalidate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		write func(*Service) error
		check func(*testing.T, *Service)
	}{
		{
			name: "update",
			write: func(s *Service) error {
				_, err := s.Update(ctx, "P1", Input{Name: strPtr("Alicia"), RollNo: strPtr("2024d2r001")})
				return err
			},
			check: func(t *testing.T, s *Service) {
				d, err := s.Get(ctx, "P1")
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if d.Name != "Alicia" || d.Branch != "BCA" || d.Year != "2024" {
					t.Errorf("stale detail: %+v", d)
				}
			},
		},
		{
			name: "patch",
			write: func(s *Service) error {
				_, err := s.Patch(ctx, "P1", Input{Name: strPtr("Al")})
				return err
			},
			check: func(t *testing.T, s *Service) {
				d, _ := s.Get(ctx, "P1")
				if d.Name != "Al" || d.RollNo != alice.RollNo {
					t.Errorf("stale detail: %+v", d)
				}
			},
		},
		{
			name: "mark attendance",
			write: func(s *Service) error {
				_, err := s.MarkAttendance(ctx, "P1")
				return err
			},
			check: func(t *testing.T, s *Service) {
				d, _ := s.Get(ctx, "P1")
				if !d.Attended {
					t.Errorf("expected attended, got %+v", d)
				}
				all, _ := s.List(ctx)
				if len(all) != 1 || !all[0].Attended {
					t.Errorf("stale list: %+v", all)
				}
			},
		},
		{
			name:  "delete",
			write: func(s *Service) error { return s.Delete(ctx, "P1") },
			check: func(t *testing.T, s *Service) {
				if _, err := s.Get(ctx, "P1"); !errors.Is(err, ErrNotFound) {
					t.Errorf("expected ErrNotFound, got %v", err)
				}
				if _, err := s.GetByRollNo(ctx, alice.RollNo); !errors.Is(err, ErrNotFound) {
					t.Errorf("expected roll lookup miss, got %v", err)
				}
				all, _ := s.List(ctx)
				if len(all) != 0 {
					t.Errorf("stale list: %+v", all)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newTestService(alice)
			// warm every cache key
			if _, err := svc.Get(ctx, "P1"); err != nil {
				t.Fatalf("warm get: %v", err)
			}
			if _, err := svc.GetByRollNo(ctx, alice.RollNo); err != nil {
				t.Fatalf("warm roll: %v", err)
			}
			if _, err := svc.List(ctx); err != nil {
				t.Fatalf("warm list: %v", err)
			}
			if err := tt.write(svc); err != nil {
				t.Fatalf("write: %v", err)
			}
			tt.check(t, svc)
		})
	}
}

func TestService_CreateInvalidatesList(t *testing.T) {
	ctx := context.Background()
	svc, _, fake, _ := newTestService(alice)

	if _, err := svc.List(ctx); err != nil {
		t.Fatalf("list: %v", err)
	}
	created, err := svc.Create(ctx, Input{PassID: strPtr("P2"), Name: strPtr(" Bob "), RollNo: strPtr("2023d2r010")})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	want := EntryPass{PassID: "P2", Name: "Bob", RollNo: "2023d2r010"}
	if created != want {
		t.Errorf("expected %+v, got %+v", want, created)
	}
	if fake.Has("entry_pass_list") {
		t.Error("expected list cache to be invalidated")
	}
	all, _ := svc.List(ctx)
	if len(all) != 2 {
		t.Errorf("expected 2 passes, got %d", len(all))
	}
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(alice)

	tests := []struct {
		name   string
		in     Input
		fields []string
	}{
		{"empty body", Input{}, []string{"pass_id", "name", "roll_no"}},
		{"blank name", Input{PassID: strPtr("P9"), Name: strPtr("  "), RollNo: strPtr("2023d1r1")}, []string{"name"}},
		{"roll too long", Input{PassID: strPtr("P9"), Name: strPtr("x"), RollNo: strPtr("2023d1r04512")}, []string{"roll_no"}},
		{"duplicate id", Input{PassID: strPtr("P1"), Name: strPtr("x"), RollNo: strPtr("y")}, []string{"pass_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Fields) != len(tt.fields) {
				t.Errorf("expected fields %v, got %v", tt.fields, verr.Fields)
			}
			for _, f := range tt.fields {
				if len(verr.Fields[f]) == 0 {
					t.Errorf("expected error for %s, got %v", f, verr.Fields)
				}
			}
		})
	}
}

func TestService_UpdateRules(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(alice)

	if _, err := svc.Update(ctx, "missing", Input{Name: strPtr("x"), RollNo: strPtr("y")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	var verr *ValidationError
	if _, err := svc.Update(ctx, "P1", Input{Name: strPtr("x")}); !errors.As(err, &verr) || verr.Fields["roll_no"] == nil {
		t.Errorf("expected roll_no required on full update, got %v", err)
	}
	if _, err := svc.Patch(ctx, "P1", Input{PassID: strPtr("P2")}); !errors.As(err, &verr) || verr.Fields["pass_id"] == nil {
		t.Errorf("expected pass_id immutable, got %v", err)
	}
	if _, err := svc.Patch(ctx, "P1", Input{RollNo: strPtr("")}); !errors.As(err, &verr) || verr.Fields["roll_no"] == nil {
		t.Errorf("expected blank roll_no rejected, got %v", err)
	}

	updated, err := svc.Patch(ctx, "P1", Input{PassID: strPtr("P1"), RollNo: strPtr("2022d2r007")})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	want := EntryPass{PassID: "P1", Name: "Alice", RollNo: "2022d2r007"}
	if updated != want {
		t.Errorf("expected %+v, got %+v", want, updated)
	}
}

func TestService_MarkAttendanceKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	svc, _, _, _ := newTestService(alice)

	if _, err := svc.MarkAttendance(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	p, err := svc.MarkAttendance(ctx, "P1")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !p.Attended || p.Name != "Alice" {
		t.Errorf("unexpected pass: %+v", p)
	}
	// a later update cannot clear attendance
	p, err = svc.Update(ctx, "P1", Input{Name: strPtr("Alice"), RollNo: strPtr(alice.RollNo)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !p.Attended {
		t.Error("expected attended to survive update")
	}
}

func TestService_PatchKeepsConcurrentAttendance(t *testing.T) {
	ctx := context.Background()
	fake := cachetest.New(nil)
	svc := NewService(markingRepo{newMemRepo(alice)}, fake, DefaultCacheTTL)

	p, err := svc.Patch(ctx, "P1", Input{Name: strPtr("Alicia")})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if !p.Attended || p.Name != "Alicia" {
		t.Errorf("expected attended to survive patch, got %+v", p)
	}
	d, err := svc.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !d.Attended {
		t.Errorf("expected stored pass to stay attended, got %+v", d)
	}
}

func TestService_LoadStartedBeforeWriteIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := &slowListRepo{memRepo: newMemRepo(alice), read: make(chan struct{}), release: make(chan struct{})}
	fake := cachetest.New(nil)
	svc := NewService(repo, fake, DefaultCacheTTL)

	stale := make(chan []EntryPass, 1)
	go func() {
		all, _ := svc.List(ctx)
		stale <- all
	}()
	<-repo.read

	if _, err := svc.Create(ctx, Input{PassID: strPtr("P2"), Name: strPtr("Bob"), RollNo: strPtr("2023d2r010")}); err != nil {
		t.Fatalf("create: %v", err)
	}
	// a read after the write must not join the load already in flight
	fresh, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(fresh) != 2 {
		t.Errorf("expected 2 passes after create, got %+v", fresh)
	}

	close(repo.release)
	if old := <-stale; len(old) != 1 {
		t.Errorf("expected the early load to see 1 pass, got %+v", old)
	}
	all, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected cached list to hold 2 passes, got %+v", all)
	}
}

func TestService_CacheDownFallsBackToStore(t *testing.T) {
	ctx := context.Background()
	svc, repo, fake, _ := newTestService(alice)
	fake.SetDown(true)

	if _, err := svc.Get(ctx, "P1"); err != nil {
		t.Fatalf("get with cache down: %v", err)
	}
	if _, err := svc.List(ctx); err != nil {
		t.Fatalf("list with cache down: %v", err)
	}
	if _, err := svc.MarkAttendance(ctx, "P1"); err != nil {
		t.Fatalf("mark with cache down: %v", err)
	}
	if _, err := svc.Create(ctx, Input{PassID: strPtr("P2"), Name: strPtr("Bob"), RollNo: strPtr("r")}); err != nil {
		t.Fatalf("create with cache down: %v", err)
	}
	d, err := svc.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !d.Attended {
		t.Error("expected fresh store read")
	}
	if repo.Reads() != 3 {
		t.Errorf("expected every read to hit the store, got %d", repo.Reads())
	}
}

func TestService_NilCache(t *testing.T) {
	svc := NewService(newMemRepo(alice), nil, 0)
	if svc.ttl != DefaultCacheTTL {
		t.Errorf("expected default ttl, got %s", svc.ttl)
	}
	if _, err := svc.Get(context.Background(), "P1"); err != nil {
		t.Errorf("get: %v", err)
	}
}
