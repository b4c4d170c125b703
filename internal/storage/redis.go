package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/PiotrWarzachowski/go-chat-session/internal/engine"
)

const tokenKeyPrefix = "chat-session:token:"

// RedisTokenStore keeps tokens in Redis so several hosts can resume the
// same account.
type RedisTokenStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTokenStore wraps client. A zero ttl keeps tokens until deleted.
func NewRedisTokenStore(client *redis.Client, ttl time.Duration) *RedisTokenStore {
	return &RedisTokenStore{client: client, ttl: ttl}
}

func tokenKey(uin int64) string {
	return tokenKeyPrefix + strconv.FormatInt(uin, 10)
}

func (s *RedisTokenStore) LoadToken(ctx context.Context, uin int64) (*engine.Token, error) {
	data, err := s.client.Get(ctx, tokenKey(uin)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token from redis: %w", err)
	}
	return decodeToken(uin, data)
}

func (s *RedisTokenStore) SaveToken(ctx context.Context, uin int64, token *engine.Token) error {
	data, err := encodeToken(uin, token)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, tokenKey(uin), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write token to redis: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) DeleteToken(ctx context.Context, uin int64) error {
	if err := s.client.Del(ctx, tokenKey(uin)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}
