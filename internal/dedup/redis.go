package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "clipmill:dedup:"

// RedisStore shares dedup records between agents on different hosts. Keys
// expire at the caller's clock plus the window; Redis drops them on its own.
type RedisStore struct {
	client *redis.Client
	window time.Duration
	prefix string
}

type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Window    time.Duration
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return newRedisStore(client, opts), nil
}

func newRedisStore(client *redis.Client, opts RedisOptions) *RedisStore {
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, window: windowOrDefault(opts.Window), prefix: prefix}
}

// getter is satisfied by both the client and a WATCH transaction.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) key(ref string) string {
	return s.prefix + ref
}

// Claim uses SET NX with the key expiring at now plus the window, so Redis
// and Lookup agree on when a record lapses. A key that outlived the window
// for this clock is taken over under WATCH.
func (s *RedisStore) Claim(ctx context.Context, ref, jobID string, now time.Time) (bool, *Record, error) {
	rec := Record{SourceRef: ref, JobID: jobID, ProcessedAt: now.UTC()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, nil, err
	}
	expireAt := now.Add(s.window)
	err = s.client.SetArgs(ctx, s.key(ref), payload, redis.SetArgs{Mode: "NX", ExpireAt: expireAt}).Err()
	switch {
	case err == nil:
		return true, nil, nil
	case !errors.Is(err, redis.Nil):
		return false, nil, fmt.Errorf("claim %s: %w", ref, err)
	}
	existing, err := s.Lookup(ctx, ref, now)
	if err != nil {
		return false, nil, err
	}
	if existing != nil {
		return false, existing, nil
	}
	return s.takeOver(ctx, ref, payload, expireAt, now)
}

func (s *RedisStore) takeOver(ctx context.Context, ref string, payload []byte, expireAt, now time.Time) (bool, *Record, error) {
	key := s.key(ref)
	var existing *Record
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.read(ctx, tx, key)
		if err != nil {
			return err
		}
		if rec != nil && s.live(rec, now) {
			existing = rec
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.SetArgs(ctx, key, payload, redis.SetArgs{ExpireAt: expireAt})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Another claim rewrote the key first.
		if existing, err = s.Lookup(ctx, ref, now); err != nil {
			return false, nil, err
		}
		return false, existing, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("claim %s: %w", ref, err)
	}
	if existing != nil {
		return false, existing, nil
	}
	return true, nil, nil
}

func (s *RedisStore) Release(ctx context.Context, ref string) error {
	return s.client.Del(ctx, s.key(ref)).Err()
}

func (s *RedisStore) Lookup(ctx context.Context, ref string, now time.Time) (*Record, error) {
	rec, err := s.read(ctx, s.client, s.key(ref))
	if err != nil || rec == nil || !s.live(rec, now) {
		return nil, err
	}
	return rec, nil
}

func (s *RedisStore) read(ctx context.Context, c getter, key string) (*Record, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode dedup record %s: %w", key, err)
	}
	return &rec, nil
}

func (s *RedisStore) live(rec *Record, now time.Time) bool {
	return now.Sub(rec.ProcessedAt) < s.window
}

// Purge returns 0; Redis expires keys on its own.
func (s *RedisStore) Purge(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (s *RedisStore) Stats(ctx context.Context, now time.Time) (Stats, error) {
	var st Stats
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return st, err
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		st.bucket(rec.ProcessedAt.In(now.Location()), now)
	}
	return st, iter.Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
