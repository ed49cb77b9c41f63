package kvstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/extra/redisotel/v8"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RedisStore is a blob store backed by Redis. All keys of one device live as
// fields of a single hash named after the namespace, so wiping a device is one DEL.
type RedisStore struct {
	client    *redis.Client
	namespace string
	log       logrus.FieldLogger

	maxElapsed time.Duration
}

// NewRedisStore accepts a Redis connection string ("redis://..." or "hostname:port")
// and a namespace (typically a device id) and returns a store instance.
func NewRedisStore(redisAddr, namespace string, log logrus.FieldLogger) *RedisStore {
	opts, err := redis.ParseURL(redisAddr)
	if err != nil {
		// Not in "redis://..." format, use it as a simple Addr.
		opts = &redis.Options{
			Addr:         redisAddr,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     4,
			PoolTimeout:  4 * time.Second,
			IdleTimeout:  180 * time.Second,
		}
	}

	client := redis.NewClient(opts)
	client.AddHook(redisotel.NewTracingHook())

	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RedisStore{
		client:     client,
		namespace:  "shopclient:" + namespace,
		log:        log,
		maxElapsed: 30 * time.Second,
	}
}

// Initialize checks the Redis connection, retrying with exponential backoff.
func (r *RedisStore) Initialize(ctx context.Context) error {
	r.log.Info("RedisStore: initializing connection...")

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = r.maxElapsed

	attempt := 0
	op := func() error {
		attempt++
		if err := r.ping(ctx); err != nil {
			return storageErr(err, "redis ping failed (attempt %d)", attempt)
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		r.log.WithError(err).Warnf("RedisStore: waiting %v before next attempt", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		r.log.WithError(err).Errorf("RedisStore: failed to connect after %d attempts", attempt)
		return err
	}

	r.log.Infof("RedisStore: Ping successful on attempt %d", attempt)
	return nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.HGet(ctx, r.namespace, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr(err, "redis HGet %s", key)
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := r.client.HSet(ctx, r.namespace, key, value).Err(); err != nil {
		return storageErr(err, "redis HSet %s", key)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.namespace, key).Err(); err != nil {
		return storageErr(err, "redis HDel %s", key)
	}
	return nil
}

// Ping checks if Redis is alive.
func (r *RedisStore) Ping(ctx context.Context) bool {
	if err := r.ping(ctx); err != nil {
		r.log.WithError(err).Debug("RedisStore: Ping failed")
		return false
	}
	return true
}

func (r *RedisStore) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.client.Ping(pingCtx).Err()
}

// Close releases the connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
