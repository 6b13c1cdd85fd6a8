// Copyright 2022 The jobflow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kvstore keeps short lived key/value state such as one time codes.
package kvstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Store interface {
	// Set stores value under key; a ttl of zero keeps it until evicted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

type RedisStore struct {
	cli    *redis.Client
	prefix string
}

func NewRedisStore(cli *redis.Client, prefix string) *RedisStore {
	return &RedisStore{cli: cli, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	return s.prefix + k
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.cli.Set(ctx, s.key(key), value, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.cli.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.cli.Del(ctx, s.key(key)).Err()
}

type memoryEntry struct {
	value    string
	expireAt time.Time
}

// MemoryStore is a process local Store. Entries expire on their own ttl and
// the whole cache is bounded by size and by maxTTL.
type MemoryStore struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, memoryEntry]
	now   func() time.Time
}

const (
	DefaultMemorySize   = 10000
	DefaultMemoryMaxTTL = time.Hour
)

func NewMemoryStore(size int, maxTTL time.Duration) *MemoryStore {
	if size <= 0 {
		size = DefaultMemorySize
	}
	if maxTTL <= 0 {
		maxTTL = DefaultMemoryMaxTTL
	}
	return &MemoryStore{
		cache: expirable.NewLRU[string, memoryEntry](size, nil, maxTTL),
		now:   time.Now,
	}
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expireAt = s.now().Add(ttl)
	}
	s.cache.Add(key, entry)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	if !entry.expireAt.IsZero() && !s.now().Before(entry.expireAt) {
		s.cache.Remove(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Remove(key)
	return nil
}
