// Package store holds the Redis state shared by ingest workers: job claims
// and each owner's last known position.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/DK-com2/PATHFINDER-WEB/internal/config"
	"github.com/DK-com2/PATHFINDER-WEB/internal/domain"
)

const jobKeyPrefix = "timeline:job:"

// RedisStore implements domain.PositionStore and the consumer's job guard.
type RedisStore struct {
	rdb         *redis.Client
	jobTTL      time.Duration
	positionKey string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg config.RedisConfig) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisStoreFromClient(rdb, cfg.JobTTL, cfg.PositionKey), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, jobTTL time.Duration, positionKey string) *RedisStore {
	return &RedisStore{rdb: rdb, jobTTL: jobTTL, positionKey: positionKey}
}

// ClaimJob returns true when ingestID was not claimed yet. The claim expires
// after the configured job TTL.
func (s *RedisStore) ClaimJob(ctx context.Context, ingestID string) (bool, error) {
	return s.rdb.SetNX(ctx, jobKeyPrefix+ingestID, 1, s.jobTTL).Result()
}

// ReleaseJob drops a claim so a redelivered job can run again.
func (s *RedisStore) ReleaseJob(ctx context.Context, ingestID string) error {
	return s.rdb.Del(ctx, jobKeyPrefix+ingestID).Err()
}

// SetLastPosition stores pos in the owner GEO set and its time in a hash.
func (s *RedisStore) SetLastPosition(ctx context.Context, owner string, pos domain.Position) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, s.positionKey, &redis.GeoLocation{
			Name:      owner,
			Longitude: pos.Longitude,
			Latitude:  pos.Latitude,
		})
		pipe.HSet(ctx, s.timesKey(), owner, pos.At.UTC().Format(time.RFC3339Nano))
		return nil
	})
	return err
}

// LastPosition returns the owner's stored position, or nil when none is set.
func (s *RedisStore) LastPosition(ctx context.Context, owner string) (*domain.Position, error) {
	positions, err := s.rdb.GeoPos(ctx, s.positionKey, owner).Result()
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 || positions[0] == nil {
		return nil, nil
	}

	pos := &domain.Position{Latitude: positions[0].Latitude, Longitude: positions[0].Longitude}
	at, err := s.rdb.HGet(ctx, s.timesKey(), owner).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, err
	default:
		if pos.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

// ClearLastPosition removes the owner from the GEO set and the time hash.
func (s *RedisStore) ClearLastPosition(ctx context.Context, owner string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.positionKey, owner)
		pipe.HDel(ctx, s.timesKey(), owner)
		return nil
	})
	return err
}

// Ping reports whether Redis answers.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func (s *RedisStore) timesKey() string {
	return s.positionKey + ":at"
}
