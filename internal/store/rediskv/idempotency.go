// Package rediskv backs the Idempotency Store's request-replay protocol
// with Redis instead of the repository's in-process memory/sqlite
// tables, for deployments running more than one prefctl instance behind
// a load balancer where "in-flight" state must be visible across
// processes: a *redis.Client wrapped in a small typed client, JSON-
// encoded values, TTL on every write, and redis.Nil as the not-found
// sentinel.
package rediskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prefctl/prefctl/internal/store"
)

const keyPrefix = "prefctl:idempotency:"

// IdempotencyStore implements store.IdempotencyStore against Redis.
// Begin's "claim if absent" semantics are implemented with SETNX so that
// two instances racing on the same key never both win.
type IdempotencyStore struct {
	client *redis.Client
}

// Open parses a redis:// URL (as produced by config.Secrets.RedisURL)
// and returns a ready IdempotencyStore.
func Open(redisURL string) (*IdempotencyStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &IdempotencyStore{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *IdempotencyStore) Close() error {
	return s.client.Close()
}

func key(k string) string { return keyPrefix + k }

// Get returns the record stored at key, or store.ErrNotFound if absent.
func (s *IdempotencyStore) Get(ctx context.Context, k string) (*store.IdempotencyRecord, error) {
	data, err := s.client.Get(ctx, key(k)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	var rec store.IdempotencyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode idempotency record: %w", err)
	}
	return &rec, nil
}

// Begin atomically claims key as in-progress, returning (nil, true) if
// this caller won the race, or the existing record and false otherwise.
func (s *IdempotencyStore) Begin(ctx context.Context, k string) (*store.IdempotencyRecord, bool, error) {
	placeholder := store.IdempotencyRecord{Key: k, InProgress: true, ExpiresAt: time.Now().Add(10 * time.Minute)}
	data, err := json.Marshal(placeholder)
	if err != nil {
		return nil, false, fmt.Errorf("encode idempotency placeholder: %w", err)
	}

	won, err := s.client.SetNX(ctx, key(k), data, 10*time.Minute).Result()
	if err != nil {
		return nil, false, fmt.Errorf("claim idempotency key: %w", err)
	}
	if won {
		return nil, true, nil
	}

	existing, err := s.Get(ctx, k)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// Complete overwrites the in-progress placeholder with the finished
// record, keyed on rec.ExpiresAt.
func (s *IdempotencyStore) Complete(ctx context.Context, rec store.IdempotencyRecord) error {
	rec.InProgress = false
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode idempotency record: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.client.Set(ctx, key(rec.Key), data, ttl).Err(); err != nil {
		return fmt.Errorf("persist idempotency record: %w", err)
	}
	return nil
}
