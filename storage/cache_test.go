package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"taskboard/domain"
)

type stubBackend struct {
	getFn    func(ctx context.Context, id string) (domain.Board, error)
	queryFn  func(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error)
	putFn    func(ctx context.Context, b domain.Board) (domain.Board, error)
	deleteFn func(ctx context.Context, id string) (string, error)
}

func (s *stubBackend) Get(ctx context.Context, id string) (domain.Board, error) {
	if s.getFn == nil {
		return domain.Board{}, errors.New("unexpected Get call")
	}
	return s.getFn(ctx, id)
}

func (s *stubBackend) Query(ctx context.Context, f domain.BoardFilter) ([]domain.Board, error) {
	if s.queryFn == nil {
		return nil, errors.New("unexpected Query call")
	}
	return s.queryFn(ctx, f)
}

func (s *stubBackend) Put(ctx context.Context, b domain.Board) (domain.Board, error) {
	if s.putFn == nil {
		return domain.Board{}, errors.New("unexpected Put call")
	}
	return s.putFn(ctx, b)
}

func (s *stubBackend) Delete(ctx context.Context, id string) (string, error) {
	if s.deleteFn == nil {
		return "", errors.New("unexpected Delete call")
	}
	return s.deleteFn(ctx, id)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheGetMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	expected := fixtureBoard("b1", "Sprint")

	var calls int
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (domain.Board, error) {
			calls++
			if id != "b1" {
				t.Fatalf("unexpected board id: %s", id)
			}
			return expected.Clone(), nil
		},
	}, client, time.Minute)

	got, err := cache.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("unexpected board: %#v", got)
	}
	if ttl := mr.TTL(boardCacheKey("b1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}

	cached, err := cache.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get cached: %v", err)
	}
	if !reflect.DeepEqual(cached, expected) {
		t.Fatalf("unexpected cached board: %#v", cached)
	}
	if calls != 1 {
		t.Fatalf("expected cached get to avoid backend, calls=%d", calls)
	}
}

func TestCachePutEvictsEntry(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	stored := fixtureBoard("b1", "Old")

	var gets int
	backend := &stubBackend{
		getFn: func(ctx context.Context, id string) (domain.Board, error) {
			gets++
			return stored.Clone(), nil
		},
		putFn: func(ctx context.Context, b domain.Board) (domain.Board, error) {
			stored = b.Clone()
			return b, nil
		},
	}
	cache := NewCache(backend, client, time.Minute)

	if _, err := cache.Get(ctx, "b1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := cache.Put(ctx, fixtureBoard("b1", "New")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if mr.Exists(boardCacheKey("b1")) {
		t.Fatalf("expected put to evict the cached board")
	}

	got, err := cache.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get after put: %v", err)
	}
	if got.Title != "New" {
		t.Fatalf("cache served stale title %q", got.Title)
	}
	if gets != 2 {
		t.Fatalf("expected get after put to reload from the store, gets=%d", gets)
	}
	if !mr.Exists(boardCacheKey("b1")) {
		t.Fatalf("expected reload to repopulate the cache")
	}
}

func TestCacheOverlappingPutsServeLastCommit(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	base := NewMemory()
	if _, err := base.Put(ctx, fixtureBoard("b1", "seed")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	committed := make(chan struct{})
	resume := make(chan struct{})
	backend := &stubBackend{
		getFn: base.Get,
		putFn: func(ctx context.Context, b domain.Board) (domain.Board, error) {
			saved, err := base.Put(ctx, b)
			if b.Title == "first" {
				// The store has the write but the caller has not heard back.
				close(committed)
				<-resume
			}
			return saved, err
		},
	}
	cache := NewCache(backend, client, time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := cache.Put(ctx, fixtureBoard("b1", "first"))
		done <- err
	}()
	<-committed
	if _, err := cache.Put(ctx, fixtureBoard("b1", "second")); err != nil {
		t.Fatalf("second put: %v", err)
	}
	if _, err := cache.Get(ctx, "b1"); err != nil {
		t.Fatalf("get between puts: %v", err)
	}
	close(resume)
	if err := <-done; err != nil {
		t.Fatalf("first put: %v", err)
	}

	want, _ := base.Get(ctx, "b1")
	got, err := cache.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != want.Title {
		t.Fatalf("store=%q cache=%q", want.Title, got.Title)
	}
}

func TestCachePutFailureEvicts(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (domain.Board, error) {
			return fixtureBoard(id, "x"), nil
		},
		putFn: func(ctx context.Context, b domain.Board) (domain.Board, error) {
			return domain.Board{}, &domain.PersistenceError{Op: "put board", Err: errors.New("boom")}
		},
	}, client, time.Minute)

	if _, err := cache.Get(ctx, "b1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if _, err := cache.Put(ctx, fixtureBoard("b1", "y")); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("put error = %v", err)
	}
	if mr.Exists(boardCacheKey("b1")) {
		t.Fatalf("expected cache entry to be evicted")
	}
}

func TestCacheDeleteEvicts(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (domain.Board, error) {
			return fixtureBoard(id, "x"), nil
		},
		deleteFn: func(ctx context.Context, id string) (string, error) {
			return id, nil
		},
	}, client, time.Minute)

	if _, err := cache.Get(ctx, "b1"); err != nil {
		t.Fatalf("warm cache: %v", err)
	}
	if id, err := cache.Delete(ctx, "b1"); err != nil || id != "b1" {
		t.Fatalf("delete = %q, %v", id, err)
	}
	if mr.Exists(boardCacheKey("b1")) {
		t.Fatalf("expected cache entry to be evicted")
	}
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	var calls int
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (domain.Board, error) {
			calls++
			return fixtureBoard(id, "x"), nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cache.Get(context.Background(), "b1"); err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	if calls != 2 {
		t.Fatalf("expected backend to serve every read, calls=%d", calls)
	}
}

func TestCacheGetNotFoundPassesThrough(t *testing.T) {
	_, client := newTestRedis(t)
	cache := NewCache(&stubBackend{
		getFn: func(ctx context.Context, id string) (domain.Board, error) {
			return domain.Board{}, domain.NotFound("board", id)
		},
	}, client, time.Minute)

	if _, err := cache.Get(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get error = %v", err)
	}
}
