package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/use-agent/harvest/models"
)

const redisPrefix = "harvest:session:"

// RedisOptions configures a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Client, when set, is used instead of dialing Addr.
	Client *redis.Client
}

// RedisStore keeps each session as a JSON string under harvest:session:<id>.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects and pings the server.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	rdb := opts.Client
	if rdb == nil {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("session: redis ping %s: %w", opts.Addr, err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Load(ctx context.Context, id string) (*models.SessionState, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	raw, err := s.rdb.Get(ctx, redisPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get %s: %w", id, err)
	}
	var state models.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &state, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, state *models.SessionState) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now().UTC()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", id, err)
	}
	if err := s.rdb.Set(ctx, redisPrefix+id, data, 0).Err(); err != nil {
		return fmt.Errorf("session: redis set %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.SessionInfo, error) {
	var out []models.SessionInfo
	iter := s.rdb.Scan(ctx, 0, redisPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		id := strings.TrimPrefix(iter.Val(), redisPrefix)
		state, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, info(id, state))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session: redis scan: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	n, err := s.rdb.Del(ctx, redisPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("session: redis del %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
