package dedup

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clipmill/clipmill-agent/internal/db"
)

var t0 = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func setupSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewSQLiteStore(database.Conn(), DefaultWindow)
}

func TestSQLiteStore_ClaimWithinWindow(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	ok, _, err := s.Claim(ctx, "reddit:abc123", "job-1", t0)
	if err != nil || !ok {
		t.Fatalf("first Claim = %v, %v; want true", ok, err)
	}

	ok, existing, err := s.Claim(ctx, "reddit:abc123", "job-2", t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second claim within the window should fail")
	}
	if existing == nil || existing.JobID != "job-1" {
		t.Errorf("existing = %+v, want job-1", existing)
	}
}

func TestSQLiteStore_ClaimAfterWindow(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	if ok, _, _ := s.Claim(ctx, "reddit:abc123", "job-1", t0); !ok {
		t.Fatal("first claim failed")
	}
	later := t0.Add(DefaultWindow + time.Minute)
	ok, _, err := s.Claim(ctx, "reddit:abc123", "job-2", later)
	if err != nil || !ok {
		t.Fatalf("claim after window = %v, %v; want true", ok, err)
	}
	rec, _ := s.Lookup(ctx, "reddit:abc123", later)
	if rec == nil || rec.JobID != "job-2" {
		t.Errorf("Lookup = %+v, want job-2", rec)
	}
}

func TestSQLiteStore_ConcurrentClaims(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, _, err := s.Claim(ctx, "reddit:race", "job", t0)
			if err != nil {
				t.Errorf("Claim error: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Errorf("wins = %d, want exactly 1", wins.Load())
	}
}

func TestSQLiteStore_ReleaseAndPurge(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	_, _, _ = s.Claim(ctx, "reddit:a", "j1", t0.Add(-10*24*time.Hour))
	_, _, _ = s.Claim(ctx, "reddit:b", "j2", t0)
	_, _, _ = s.Claim(ctx, "reddit:c", "j3", t0)

	if err := s.Release(ctx, "reddit:c"); err != nil {
		t.Fatal(err)
	}
	if rec, _ := s.Lookup(ctx, "reddit:c", t0); rec != nil {
		t.Error("released ref should not be found")
	}

	n, err := s.Purge(ctx, t0)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d, want 1", n)
	}
}

func TestSQLiteStore_Stats(t *testing.T) {
	s := setupSQLite(t)
	ctx := context.Background()

	seeds := []time.Duration{0, -time.Hour, -20 * time.Hour, -3 * 24 * time.Hour, -30 * 24 * time.Hour}
	for i, off := range seeds {
		ref := "reddit:" + string(rune('a'+i))
		if _, _, err := s.Claim(ctx, ref, "j", t0.Add(off)); err != nil {
			t.Fatal(err)
		}
	}

	st, err := s.Stats(ctx, t0)
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{Total: 5, Today: 2, Yesterday: 1, ThisWeek: 1, Older: 1}
	if st != want {
		t.Errorf("Stats = %+v, want %+v", st, want)
	}
}

func TestRedisStore_Claim(t *testing.T) {
	addr := os.Getenv("CLIPMILL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLIPMILL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, KeyPrefix: "clipmill:test:" + t.Name() + ":"})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	defer s.Release(ctx, "reddit:abc123")

	now := time.Now()
	if ok, _, err := s.Claim(ctx, "reddit:abc123", "job-1", now); err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}
	ok, existing, err := s.Claim(ctx, "reddit:abc123", "job-2", now)
	if err != nil || ok {
		t.Fatalf("second Claim = %v, %v; want false", ok, err)
	}
	if existing == nil || existing.JobID != "job-1" {
		t.Errorf("existing = %+v", existing)
	}
}

func TestRedisStore_ClaimFollowsCallerClock(t *testing.T) {
	addr := os.Getenv("CLIPMILL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CLIPMILL_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, KeyPrefix: "clipmill:test:" + t.Name() + ":", Window: DefaultWindow})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	defer s.Release(ctx, "reddit:clock")

	now := time.Now()
	if ok, _, err := s.Claim(ctx, "reddit:clock", "job-1", now); err != nil || !ok {
		t.Fatalf("first Claim = %v, %v", ok, err)
	}
	ttl, err := s.client.TTL(ctx, s.key("reddit:clock")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= DefaultWindow-time.Minute || ttl > DefaultWindow {
		t.Errorf("TTL = %v, want about %v", ttl, DefaultWindow)
	}

	later := now.Add(DefaultWindow + time.Hour)
	ok, existing, err := s.Claim(ctx, "reddit:clock", "job-2", later)
	if err != nil || !ok {
		t.Fatalf("Claim after window = %v, %+v, %v; want true", ok, existing, err)
	}
	rec, err := s.Lookup(ctx, "reddit:clock", later)
	if err != nil || rec == nil || rec.JobID != "job-2" {
		t.Fatalf("Lookup = %+v, %v", rec, err)
	}
	ttl, err = s.client.TTL(ctx, s.key("reddit:clock")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= DefaultWindow {
		t.Errorf("TTL = %v, want it pushed past the window by the later clock", ttl)
	}
}
