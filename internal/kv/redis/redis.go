package redis

import (
	"context"
	"errors"
	"strings"

	pkgerrors "github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"

	"nvoice/backend/internal/kv"
)

const maxAtomicAttempts = 5

type Store struct {
	client *redis.Client
	prefix string
}

func New(addr string, password string, db int, prefix string) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &Store{client: client, prefix: prefix}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) key(key string) string {
	return s.prefix + key
}

func (s *Store) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, ok, err := s.read(ctx, s.client, key)
	if err != nil || !ok {
		return false, err
	}
	return true, kv.Decode(key, data, dest)
}

func (s *Store) read(ctx context.Context, c redis.Cmdable, key string) ([]byte, bool, error) {
	val, err := c.Get(ctx, s.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrapf(err, "redis get %s", key)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value any) error {
	payload, err := kv.Encode(value)
	if err != nil {
		return err
	}
	return pkgerrors.Wrapf(s.client.Set(ctx, s.key(key), payload, 0).Err(), "redis set %s", key)
}

func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return false, pkgerrors.Wrapf(err, "redis del %s", key)
	}
	return n > 0, nil
}

func (s *Store) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, 16)
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "redis scan")
	}
	return keys, nil
}

// Atomic watches every key read inside fn and flushes the buffered writes in a
// single MULTI/EXEC. A concurrent write to a watched key aborts the EXEC and the
// unit is retried from scratch.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx kv.Accessor) error) error {
	for attempt := 0; attempt < maxAtomicAttempts; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			staged := kv.NewStaged(func(ctx context.Context, key string) ([]byte, bool, error) {
				if err := rtx.Watch(ctx, s.key(key)).Err(); err != nil {
					return nil, false, pkgerrors.Wrapf(err, "redis watch %s", key)
				}
				return s.read(ctx, rtx, key)
			})
			if err := fn(ctx, staged); err != nil {
				return err
			}
			if staged.Empty() {
				return nil
			}

			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for key, data := range staged.Writes() {
					pipe.Set(ctx, s.key(key), data, 0)
				}
				for _, key := range staged.Deletes() {
					pipe.Del(ctx, s.key(key))
				}
				return nil
			})
			return err
		})
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return pkgerrors.Wrap(redis.TxFailedErr, "redis atomic: too much contention")
}
