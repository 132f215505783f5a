package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/intake/pkg/draft"
)

// DraftStorage persists wizard drafts as plain string values with an optional expiry.
type DraftStorage struct {
	client *Client
	ttl    time.Duration
}

var _ draft.Storage = (*DraftStorage)(nil)

// NewDraftStorage creates draft storage backed by Redis. A zero ttl keeps entries forever.
func NewDraftStorage(client *Client, ttl time.Duration) *DraftStorage {
	return &DraftStorage{client: client, ttl: ttl}
}

func (s *DraftStorage) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", draft.ErrNotFound
	}
	return value, err
}

func (s *DraftStorage) Set(ctx context.Context, key string, value string) error {
	return s.client.rdb.Set(ctx, key, value, s.ttl).Err()
}

func (s *DraftStorage) Remove(ctx context.Context, key string) error {
	return s.client.rdb.Del(ctx, key).Err()
}
