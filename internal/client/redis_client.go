package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sms-auth-service/internal/config"
	"sms-auth-service/internal/util"
)

// ErrKeyNotFound is returned for reads of missing or expired keys.
var ErrKeyNotFound = errors.New("key not found")

type RedisClient struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisClient initializes a Redis client with TLS support for dev & prod
func NewRedisClient(cfg *config.Config, logger *zap.Logger) (*RedisClient, error) {
	redisConfig := cfg.Redis

	// Parse redis:// or rediss://
	opts, err := redis.ParseURL(redisConfig.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Only set password if not already in URL
	if opts.Password == "" && redisConfig.Password != "" {
		opts.Password = redisConfig.Password
	}

	opts.DB = redisConfig.DB
	opts.PoolSize = redisConfig.PoolSize
	opts.MinIdleConns = redisConfig.PoolSize / 2
	if opts.MinIdleConns < 10 {
		opts.MinIdleConns = 10
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.ConnMaxLifetime = 0

	if strings.HasPrefix(redisConfig.URL, "rediss://") {
		caFile := util.GetEnv("REDIS_TLS_CA_FILE", "/app/certs/ca.crt")
		certFile := util.GetEnv("REDIS_TLS_CERT_FILE", "/app/certs/redis.crt")
		keyFile := util.GetEnv("REDIS_TLS_KEY_FILE", "/app/certs/redis.key")

		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read Redis CA file: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if ok := caCertPool.AppendCertsFromPEM(caCert); !ok {
			return nil, fmt.Errorf("failed to append CA cert")
		}

		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load Redis TLS certificate/key: %w", err)
		}

		opts.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			RootCAs:      caCertPool,
			MinVersion:   tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	util.Info("Redis client initialized",
		zap.String("url", redisConfig.URL),
		zap.Int("db", redisConfig.DB),
		zap.Int("pool_size", redisConfig.PoolSize))

	return &RedisClient{
		Client: client,
		config: &redisConfig,
	}, nil
}

// NewRedisClientFromAddr wraps an already reachable Redis address without
// config plumbing; used by tests against miniredis.
func NewRedisClientFromAddr(addr string) *RedisClient {
	return &RedisClient{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
		config: &config.RedisConfig{},
	}
}

// Graceful close
func (r *RedisClient) Close() error {
	if r.Client != nil {
		if err := r.Client.Close(); err != nil {
			util.Error("failed to close Redis client", zap.Error(err))
			return err
		}
		util.Info("Redis client closed")
	}
	return nil
}

// HealthCheck verifies Redis connectivity and data integrity
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	if err := r.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	testKey := "healthcheck"
	testValue := strconv.FormatInt(time.Now().Unix(), 10)
	if err := r.Client.Set(ctx, testKey, testValue, 10*time.Second).Err(); err != nil {
		return fmt.Errorf("redis set operation failed: %w", err)
	}

	val, err := r.Client.Get(ctx, testKey).Result()
	if err != nil {
		return fmt.Errorf("redis get operation failed: %w", err)
	}

	if val != testValue {
		return fmt.Errorf("redis data integrity failed")
	}

	_ = r.Client.Del(ctx, testKey)
	return nil
}

// ===================== CORE OPERATIONS =====================

func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return r.Client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return "", err
	}
	return val, nil
}

// GetDel atomically reads and deletes a key. This is the single-use
// redemption primitive; two concurrent callers can never both win.
func (r *RedisClient) GetDel(ctx context.Context, key string) (string, error) {
	val, err := r.Client.GetDel(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		return "", err
	}
	return val, nil
}

func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.Client.TTL(ctx, key).Result()
}

// ===================== ADVANCED OPS =====================

func (r *RedisClient) IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error) {
	pipe := r.Client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiration)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incrCmd.Val(), nil
}

// ===================== SET OPS =====================

func (r *RedisClient) SAdd(ctx context.Context, key string, members ...interface{}) error {
	return r.Client.SAdd(ctx, key, members...).Err()
}

func (r *RedisClient) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.Client.SMembers(ctx, key).Result()
}

func (r *RedisClient) SRem(ctx context.Context, key string, members ...interface{}) error {
	return r.Client.SRem(ctx, key, members...).Err()
}

// ===================== PIPELINES =====================

func (r *RedisClient) Pipeline() redis.Pipeliner {
	return r.Client.Pipeline()
}
