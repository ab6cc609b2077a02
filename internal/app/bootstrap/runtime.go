package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/commerce-concierge/internal/config"
	"github.com/wolfman30/commerce-concierge/internal/state"
	"github.com/wolfman30/commerce-concierge/internal/tenant"
	"github.com/wolfman30/commerce-concierge/pkg/logging"
)

const lockPrefix = "concierge:lock:"

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	logger = logging.OrDefault(logger)

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// BuildStateStore picks the conversation state backend named by STATE_BACKEND.
// The redis backend also yields a cross-process locker.
func BuildStateStore(cfg *appconfig.Config, redisClient *redis.Client, awsCfg func() (aws.Config, error)) (state.Store, state.Locker, error) {
	switch cfg.StateBackend {
	case "memory":
		return state.NewMemoryStore(), nil, nil
	case "redis", "":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("bootstrap: STATE_BACKEND=redis requires a reachable REDIS_ADDR")
		}
		return state.NewRedisStore(redisClient, cfg.StateTTL), state.NewRedisLocker(redisClient, lockPrefix), nil
	case "dynamodb":
		loaded, err := awsCfg()
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		var locker state.Locker
		if redisClient != nil {
			locker = state.NewRedisLocker(redisClient, lockPrefix)
		}
		return state.NewDynamoStore(dynamodb.NewFromConfig(loaded), cfg.DynamoStateTable, cfg.StateTTL), locker, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown STATE_BACKEND %q", cfg.StateBackend)
	}
}

// BuildTenantProvider returns the Redis settings store, or an empty in-memory
// store when Redis is unavailable.
func BuildTenantProvider(redisClient *redis.Client, logger *logging.Logger) tenant.Provider {
	if redisClient == nil {
		logging.OrDefault(logger).Warn("redis unavailable; tenant settings are empty until seeded in-process")
		return tenant.NewMemoryStore()
	}
	return tenant.NewRedisStore(redisClient)
}
