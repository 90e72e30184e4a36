package tenantlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/retail-ledger/ledger"
)

// ErrBusy is returned when the tenant lock could not be obtained in time.
var ErrBusy = errors.New("tenant is busy")

const (
	DefaultTTL       = 30 * time.Second
	DefaultWait      = 5 * time.Second
	defaultKeyPrefix = "retail-ledger:tenant"
)

// Redis guards a tenant across app instances with a redislock key
// "<prefix>:<tenantID>". The TTL bounds how long a crashed holder can
// block the tenant; a live holder refreshes the key every TTL/2 until it
// unlocks.
type Redis struct {
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
	prefix string
	log    *zap.Logger
}

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithWait bounds how long Lock retries before returning ErrBusy.
func WithWait(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.wait = d
		}
	}
}

func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

func WithLogger(log *zap.Logger) RedisOption {
	return func(r *Redis) {
		if log != nil {
			r.log = log
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		locker: redislock.New(client),
		ttl:    DefaultTTL,
		wait:   DefaultWait,
		prefix: defaultKeyPrefix,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.Named("tenantlock.redis")
	return r
}

func (r *Redis) key(tenantID ledger.TenantID) string {
	return fmt.Sprintf("%s:%s", r.prefix, tenantID)
}

// Lock obtains the tenant key, retrying with linear backoff for up to the wait duration.
func (r *Redis) Lock(ctx context.Context, tenantID ledger.TenantID) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.wait)
	defer cancel()

	key := r.key(tenantID)
	lock, err := r.locker.Obtain(waitCtx, key, r.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(25 * time.Millisecond),
	})
	if errors.Is(err, redislock.ErrNotObtained) || (err != nil && waitCtx.Err() != nil && ctx.Err() == nil) {
		r.log.Warn("could not obtain tenant lock", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrBusy, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain tenant lock %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(lock, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// Release with a fresh context: the caller's may already be cancelled.
			relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := lock.Release(relCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.Warn("release tenant lock", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// keepAlive extends the lock TTL every ttl/2 until stop is closed.
func (r *Redis) keepAlive(lock *redislock.Lock, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/2)
			err := lock.Refresh(ctx, r.ttl, nil)
			cancel()
			if err != nil {
				// The key expired or was taken over; the store's own
				// serialisation still applies.
				r.log.Warn("refresh tenant lock", zap.String("key", key), zap.Error(err))
				return
			}
		}
	}
}
