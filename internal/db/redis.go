package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/storage/redis/v3"
	goredis "github.com/redis/go-redis/v9"

	"datadesk/internal/models"
)

const (
	redisRequestPrefix = "request:"
	redisIndexKey      = "requests:index"
)

// RedisStore keeps each request as a JSON value under request:<id> and the
// insertion order in a list.
type RedisStore struct {
	storage *redis.Storage
	client  goredis.UniversalClient
}

// OpenRedisStorage connects the fiber redis storage. The storage constructor
// panics when the server is unreachable; that is reported as an error.
func OpenRedisStorage(url string) (storage *redis.Storage, err error) {
	if url == "" {
		return nil, errors.New("redis url is required")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to connect to redis: %v", r)
		}
	}()
	return redis.New(redis.Config{URL: url}), nil
}

// NewRedisStore connects to redis at url.
func NewRedisStore(url string) (*RedisStore, error) {
	storage, err := OpenRedisStorage(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{storage: storage, client: storage.Conn()}, nil
}

// Storage exposes the underlying fiber storage.
func (s *RedisStore) Storage() *redis.Storage {
	return s.storage
}

// ListRequests returns all indexed requests in insertion order.
func (s *RedisStore) ListRequests(ctx context.Context) ([]models.Request, error) {
	ids, err := s.client.LRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	requests := []models.Request{}
	if len(ids) == 0 {
		return requests, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisRequestPrefix + id
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			// Index entry without a record.
			continue
		}
		var req models.Request
		if err := json.Unmarshal([]byte(str), &req); err != nil {
			return nil, fmt.Errorf("failed to decode request: %w", err)
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// GetRequest retrieves a request by id.
func (s *RedisStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	data, err := s.storage.Get(redisRequestPrefix + id)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, ErrRequestNotFound
	}
	var req models.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// InsertRequest creates a new request at version 1.
func (s *RedisStore) InsertRequest(ctx context.Context, req *models.Request) (*models.Request, error) {
	if req.ID == "" {
		return nil, ErrMissingID
	}

	stored := req.Clone()
	stored.Version = 1
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	// The record and its index entry are written in one MULTI so a request
	// is never stored without being listed.
	key := redisRequestPrefix + stored.ID
	err = s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateID
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			p.RPush(ctx, redisIndexKey, stored.ID)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		// Another writer created the key between WATCH and EXEC.
		return nil, ErrDuplicateID
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ReplaceRequest overwrites the request with id inside a WATCH transaction
// so a concurrent writer makes the replace fail instead of being overwritten.
func (s *RedisStore) ReplaceRequest(ctx context.Context, id string, req *models.Request) (*models.Request, error) {
	key := redisRequestPrefix + id
	var stored *models.Request

	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		var existing models.Request
		if err := json.Unmarshal(current, &existing); err != nil {
			return fmt.Errorf("failed to decode request: %w", err)
		}
		if existing.Version != req.Version {
			return ErrVersionConflict
		}

		next := req.Clone()
		next.ID = id
		next.Version = existing.Version + 1
		next.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Set(ctx, key, data, 0)
			return nil
		})
		if err != nil {
			return err
		}
		stored = next
		return nil
	}, key)

	if errors.Is(err, goredis.TxFailedErr) {
		return nil, ErrVersionConflict
	}
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Close closes the redis connection.
func (s *RedisStore) Close() error {
	return s.storage.Close()
}
