package payee

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jayyu23/x402-zkid/logger"
)

const keyPrefix = "x402:payee:"

// RedisStore keeps payee addresses in redis under x402:payee:<name>.
type RedisStore struct {
	url    string
	client *redis.Client
	logger logger.Logger
}

func NewRedisStore(url string, log logger.Logger) *RedisStore {
	return &RedisStore{
		url:    url,
		logger: logger.OrNoop(log).With(map[string]any{"component": "redis"}),
	}
}

// Start connects and pings. url may be a redis:// URL or a bare host:port.
func (s *RedisStore) Start(ctx context.Context) error {
	opts, err := redis.ParseURL(s.url)
	if err != nil {
		if strings.Contains(s.url, "://") {
			return fmt.Errorf("parse redis url: %w", err)
		}
		opts = &redis.Options{Addr: s.url}
	}
	s.client = redis.NewClient(opts)

	if err := s.client.Ping(ctx).Err(); err != nil {
		s.logger.Error("failed to connect to redis", map[string]any{"error": err.Error()})
		return err
	}
	s.logger.Info("redis connection established", map[string]any{"addr": opts.Addr})
	return nil
}

func (s *RedisStore) Stop() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis connection: %w", err)
	}
	s.logger.Info("redis connection closed", nil)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, name string) (string, bool, error) {
	if s.client == nil {
		return "", false, errors.New("redis store not started")
	}
	addr, err := s.client.Get(ctx, keyPrefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return addr, true, nil
}

func (s *RedisStore) Put(ctx context.Context, name, addr string) error {
	if s.client == nil {
		return errors.New("redis store not started")
	}
	return s.client.Set(ctx, keyPrefix+name, addr, 0).Err()
}
