package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maine/goodnews_feed/internal/logging"
	"github.com/maine/goodnews_feed/internal/news"
)

// memBackend: журнал в памяти для тестов
type memBackend struct {
	entries map[string]news.Disposition
	lookups [][]string
	failAll bool
}

func newMemBackend() *memBackend {
	return &memBackend{entries: map[string]news.Disposition{}}
}

func (m *memBackend) ContainsAny(ctx context.Context, fps []string) (map[string]bool, error) {
	m.lookups = append(m.lookups, fps)
	if m.failAll {
		return nil, errors.New("db down")
	}
	out := map[string]bool{}
	for _, fp := range fps {
		if _, ok := m.entries[fp]; ok {
			out[fp] = true
		}
	}
	return out, nil
}

func (m *memBackend) Record(ctx context.Context, e news.LedgerEntry) error {
	if d, ok := m.entries[e.Fingerprint]; ok && d != e.Disposition {
		return &news.ConflictError{Fingerprint: e.Fingerprint, Existing: d, Attempted: e.Disposition}
	}
	m.entries[e.Fingerprint] = e.Disposition
	return nil
}

func (m *memBackend) PersistOutcome(ctx context.Context, a news.Article, e news.LedgerEntry) error {
	return m.Record(ctx, e)
}

// memCache: кэш в памяти, может имитировать недоступность
type memCache struct {
	seen map[string]bool
	down bool
}

func (c *memCache) Seen(ctx context.Context, fps []string) (map[string]bool, error) {
	if c.down {
		return nil, errors.New("redis down")
	}
	out := map[string]bool{}
	for _, fp := range fps {
		if c.seen[fp] {
			out[fp] = true
		}
	}
	return out, nil
}

func (c *memCache) MarkSeen(ctx context.Context, fps ...string) error {
	if c.down {
		return errors.New("redis down")
	}
	for _, fp := range fps {
		c.seen[fp] = true
	}
	return nil
}

func TestCachedLedger_ContainsAny(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.entries["in-ledger"] = news.DispositionRejected
	cache := &memCache{seen: map[string]bool{"in-cache": true}}
	l := NewCachedLedger(backend, cache, logging.Discard())

	got, err := l.ContainsAny(ctx, []string{"in-cache", "in-ledger", "new"})
	if err != nil {
		t.Fatalf("ContainsAny() error = %v", err)
	}
	if !got["in-cache"] || !got["in-ledger"] || got["new"] {
		t.Errorf("ContainsAny() = %v", got)
	}
	if len(backend.lookups) != 1 || len(backend.lookups[0]) != 2 {
		t.Errorf("backend should be asked only about cache misses, got %v", backend.lookups)
	}
	if !cache.seen["in-ledger"] {
		t.Errorf("ledger hit should warm the cache")
	}
}

func TestCachedLedger_CacheDownFallsBack(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.entries["a"] = news.DispositionAccepted
	l := NewCachedLedger(backend, &memCache{down: true}, logging.Discard())

	ok, err := l.Contains(ctx, "a")
	if err != nil || !ok {
		t.Fatalf("Contains() = %v, %v; want true, nil", ok, err)
	}

	if err := l.PersistOutcome(ctx, news.Article{Fingerprint: "b"}, news.LedgerEntry{Fingerprint: "b", Disposition: news.DispositionRejected}); err != nil {
		t.Fatalf("PersistOutcome() must not fail when cache is down: %v", err)
	}
}

func TestCachedLedger_ConflictNotCached(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	cache := &memCache{seen: map[string]bool{}}
	l := NewCachedLedger(backend, cache, logging.Discard())

	if err := l.Record(ctx, news.LedgerEntry{Fingerprint: "x", Disposition: news.DispositionRejected}); err != nil {
		t.Fatal(err)
	}
	delete(cache.seen, "x")

	err := l.Record(ctx, news.LedgerEntry{Fingerprint: "x", Disposition: news.DispositionAccepted})
	if !errors.Is(err, news.ErrLedgerConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cache.seen["x"] {
		t.Errorf("failed write must not reach the cache")
	}
}

func TestCachedLedger_BackendError(t *testing.T) {
	backend := newMemBackend()
	backend.failAll = true
	l := NewCachedLedger(backend, nil, logging.Discard())
	if _, err := l.ContainsAny(context.Background(), []string{"a"}); err == nil {
		t.Errorf("backend errors must surface")
	}
}

// fakeRedis отвечает заранее подготовленными результатами go-redis
type fakeRedis struct {
	keys map[string]bool
	ttl  map[string]time.Duration
	err  error
}

func (f *fakeRedis) Exists(ctx context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if f.keys[k] {
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.keys[key] = true
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	fake := &fakeRedis{keys: map[string]bool{}, ttl: map[string]time.Duration{}}
	c := newRedisCache(fake, "", 48*time.Hour)

	if err := c.MarkSeen(ctx, "fp1"); err != nil {
		t.Fatalf("MarkSeen() error = %v", err)
	}
	if !fake.keys["goodnews:seen:fp1"] {
		t.Errorf("expected prefixed key, got %v", fake.keys)
	}
	if fake.ttl["goodnews:seen:fp1"] != 48*time.Hour {
		t.Errorf("TTL not applied")
	}

	seen, err := c.Seen(ctx, []string{"fp1", "fp2"})
	if err != nil {
		t.Fatalf("Seen() error = %v", err)
	}
	if !seen["fp1"] || seen["fp2"] {
		t.Errorf("Seen() = %v", seen)
	}

	fake.err = errors.New("connection refused")
	if _, err := c.Seen(ctx, []string{"fp1"}); err == nil {
		t.Errorf("expected error from Seen")
	}
	if err := c.MarkSeen(ctx, "fp3"); err == nil {
		t.Errorf("expected error from MarkSeen")
	}
}
