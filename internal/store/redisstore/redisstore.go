package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/avatar-coach/internal/training"
)

const defaultMemoryTTL = 10 * time.Minute

// Store caches per-trainee aggregates in redis.
type Store struct {
	rdb       *redis.Client
	memoryTTL time.Duration
}

func New(addr, password string, db int, memoryTTL time.Duration) *Store {
	if memoryTTL <= 0 {
		memoryTTL = defaultMemoryTTL
	}
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DB:          db,
			DialTimeout: 2 * time.Second,
		}),
		memoryTTL: memoryTTL,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func memoryKey(userID, avatarID string) string {
	return fmt.Sprintf("training:memory:%s:%s", userID, avatarID)
}

func (s *Store) GetMemory(ctx context.Context, userID, avatarID string) (training.TrainingMemory, bool, error) {
	raw, err := s.rdb.Get(ctx, memoryKey(userID, avatarID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return training.TrainingMemory{}, false, nil
	}
	if err != nil {
		return training.TrainingMemory{}, false, err
	}
	var m training.TrainingMemory
	if err := json.Unmarshal(raw, &m); err != nil {
		// corrupt entry, treat as a miss
		_ = s.rdb.Del(ctx, memoryKey(userID, avatarID)).Err()
		return training.TrainingMemory{}, false, nil
	}
	return m, true, nil
}

func (s *Store) SetMemory(ctx context.Context, userID, avatarID string, m training.TrainingMemory) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, memoryKey(userID, avatarID), b, s.memoryTTL).Err()
}

func (s *Store) InvalidateMemory(ctx context.Context, userID, avatarID string) error {
	return s.rdb.Del(ctx, memoryKey(userID, avatarID)).Err()
}

var _ training.MemoryCache = (*Store)(nil)
