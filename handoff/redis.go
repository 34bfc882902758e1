package handoff

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/ethereum-optimism/infra/op-testrail/runstate"
)

var _ Store = (*RedisStore)(nil)

func NewRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func CheckRedisConnection(client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	return nil
}

// RedisStore keeps all workers' artifacts for one plan entry in a single
// hash, one field per worker.
type RedisStore struct {
	r   redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisStore scopes artifacts to scope, usually the plan entry id.
// ttl bounds how long unconsumed artifacts survive; zero keeps them forever.
func NewRedisStore(r redis.UniversalClient, prefix string, scope string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		r:   r,
		key: fmt.Sprintf("%s:executed:%s", prefix, scope),
		ttl: ttl,
	}
}

func (s *RedisStore) Put(ctx context.Context, worker string, ids []runstate.CaseID) error {
	if err := validWorker(worker); err != nil {
		return err
	}
	data, err := encode(ids)
	if err != nil {
		return err
	}
	_, err = s.r.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.key, worker, data)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store handoff of worker %s: %w", worker, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	workers, err := s.r.HKeys(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list handoffs: %w", err)
	}
	sort.Strings(workers)
	return workers, nil
}

func (s *RedisStore) Get(ctx context.Context, worker string) ([]runstate.CaseID, error) {
	data, err := s.r.HGet(ctx, s.key, worker).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("worker %s: %w", worker, ErrNoArtifact)
		}
		return nil, fmt.Errorf("failed to read handoff of worker %s: %w", worker, err)
	}
	return decode(data)
}

func (s *RedisStore) Delete(ctx context.Context, worker string) error {
	if err := s.r.HDel(ctx, s.key, worker).Err(); err != nil {
		return fmt.Errorf("failed to delete handoff of worker %s: %w", worker, err)
	}
	return nil
}

// RedisMutex makes sure only one coordinator prunes a plan entry.
type RedisMutex struct {
	mu  *redsync.Mutex
	log log.Logger
}

func NewRedisMutex(r redis.UniversalClient, name string, expiry time.Duration, logger log.Logger) *RedisMutex {
	rs := redsync.New(goredis.NewPool(r))
	return &RedisMutex{
		mu:  rs.NewMutex(name, redsync.WithExpiry(expiry), redsync.WithTries(1)),
		log: logger,
	}
}

// Lock acquires the mutex or fails straight away if another coordinator
// holds it.
func (m *RedisMutex) Lock(ctx context.Context) (func(context.Context) error, error) {
	if err := m.mu.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire %s: %w", m.mu.Name(), err)
	}
	m.log.Debug("acquired prune lock", "name", m.mu.Name())
	return func(ctx context.Context) error {
		if _, err := m.mu.UnlockContext(ctx); err != nil {
			return fmt.Errorf("failed to release %s: %w", m.mu.Name(), err)
		}
		return nil
	}, nil
}
