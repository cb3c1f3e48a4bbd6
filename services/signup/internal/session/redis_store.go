package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/config"
	"github.com/diagnosis/luxsuv-signup/services/signup/internal/domain"
	"github.com/redis/go-redis/v9"
)

const workflowKeyPrefix = "signup:workflow:"

var ErrCorruptWorkflow = errors.New("stored workflow is corrupt")

// RedisStore keeps workflows as JSON with a TTL so abandoned sign-ups
// expire on their own.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisClient parses cfg and pings the server once.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DB = cfg.DB

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*domain.Workflow, error) {
	raw, err := s.client.Get(ctx, workflowKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workflow: %w", err)
	}

	var wf domain.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWorkflow, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptWorkflow, err)
	}
	return &wf, nil
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, wf *domain.Workflow) error {
	raw, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	if err := s.client.Set(ctx, workflowKeyPrefix+sessionID, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, workflowKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}
