package queue

import (
	"strings"

	"github.com/hibiken/asynq"

	"brain-knowledge-platform/internal/config"
)

// RedisOptFromConfig builds the asynq Redis connection from the same
// settings the cache client uses. REDIS_URL may be a full URL or just
// host:port.
func RedisOptFromConfig(cfg *config.Config) (asynq.RedisConnOpt, error) {
	if strings.HasPrefix(cfg.RedisURL, "redis://") || strings.HasPrefix(cfg.RedisURL, "rediss://") {
		return asynq.ParseRedisURI(cfg.RedisURL)
	}
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, nil
}
