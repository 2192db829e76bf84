package session

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/config"
)

const redisKeyPrefix = "nugetd:session:"

// RedisStore keeps sessions in Redis with per-key TTLs, for deployments
// that run more than one server instance behind a balancer. The sessions
// stay logically ephemeral; losing them only forces a re-login.
type RedisStore struct {
	client redis.UniversalClient
	logger *logrus.Logger
}

// NewRedisStore wraps an existing client. The caller owns the client's
// lifecycle.
func NewRedisStore(client redis.UniversalClient, logger *logrus.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// NewRedisClient connects a standalone client and verifies it with a ping.
func NewRedisClient(cfg *config.RedisConfig, logger *logrus.Logger) (*redis.Client, error) {
	options := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	}

	if cfg.TLSEnabled {
		options.TLSConfig = &tls.Config{
			ServerName: extractHostname(cfg.Address),
		}
	}

	rdb := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"address": cfg.Address,
		"db":      cfg.Database,
	}).Info("Connected to Redis")

	return rdb, nil
}

// Put saves the session with a TTL matching its expiry.
func (r *RedisStore) Put(ctx context.Context, s *Session) error {
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, redisKeyPrefix+s.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the live session for token, or nil when Redis has no entry.
func (r *RedisStore) Get(ctx context.Context, token string) (*Session, error) {
	data, err := r.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		r.logger.WithError(err).Warn("Dropping undecodable session entry")
		_ = r.client.Del(ctx, redisKeyPrefix+token).Err()
		return nil, nil
	}
	if s.Expired(time.Now()) {
		return nil, nil
	}
	return &s, nil
}

// Delete forgets a token.
func (r *RedisStore) Delete(ctx context.Context, token string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Destroy is a no-op; the client is owned by the caller.
func (r *RedisStore) Destroy() {}

// extractHostname extracts hostname from address (host:port -> host)
func extractHostname(address string) string {
	if idx := strings.LastIndex(address, ":"); idx != -1 {
		return address[:idx]
	}
	return address
}
