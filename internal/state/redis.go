package state

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each trace's state in one Redis hash:
//
//	<prefix>:state:<traceID> => HASH key -> JSON value
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(
	ctx context.Context, traceID, key string,
) (json.RawMessage, error) {
	res, err := s.client.HGet(ctx, s.keyTrace(traceID), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *RedisStore) Set(
	ctx context.Context, traceID, key string, value json.RawMessage,
) error {
	return s.client.HSet(ctx, s.keyTrace(traceID), key, []byte(value)).Err()
}

func (s *RedisStore) Delete(ctx context.Context, traceID, key string) error {
	return s.client.HDel(ctx, s.keyTrace(traceID), key).Err()
}

func (s *RedisStore) Clear(ctx context.Context, traceID string) error {
	return s.client.Del(ctx, s.keyTrace(traceID)).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) keyTrace(traceID string) string {
	return s.prefix + ":state:" + traceID
}
