package preference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	prefsKeyPrefix = "notify:prefs:"
	prefsUsersKey  = "notify:prefs:users"
)

// RedisStorage persists preferences as JSON blobs in Redis, one key per user.
// Policies are small and read on every evaluation, which makes Redis a good
// fit for them even when notifications themselves live in Postgres.
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage creates a Redis-backed preference storage.
func NewRedisStorage(client *redis.Client) (*RedisStorage, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	return &RedisStorage{client: client}, nil
}

func (s *RedisStorage) Get(ctx context.Context, userID string) (Preferences, error) {
	data, err := s.client.Get(ctx, prefsKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Preferences{}, ErrNotFound
		}
		return Preferences{}, fmt.Errorf("failed to read preferences: %w", err)
	}

	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return Preferences{}, fmt.Errorf("failed to decode preferences: %w", err)
	}
	return prefs, nil
}

func (s *RedisStorage) Save(ctx context.Context, prefs Preferences) error {
	if prefs.UserID == "" {
		return ErrInvalidPreferences
	}

	data, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("failed to encode preferences: %w", err)
	}

	// Write the blob and the user index atomically so ListUserIDs never
	// misses a saved policy.
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, prefsKeyPrefix+prefs.UserID, data, 0)
	pipe.SAdd(ctx, prefsUsersKey, prefs.UserID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save preferences: %w", err)
	}
	return nil
}

func (s *RedisStorage) ListUserIDs(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, prefsUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list preference users: %w", err)
	}
	return ids, nil
}
