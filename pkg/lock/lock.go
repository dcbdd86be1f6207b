// Package lock implements token-owned leases on Redis.
//
// A lease is a key holding a random token with a TTL. Only the holder of the
// token may release or extend it, and both operations are single Lua scripts
// so the ownership check and the mutation cannot interleave with another
// client re-acquiring an expired key.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	releaseLua = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`

	extendLua = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`

	// extendRatio is the fraction of the TTL after which an auto-extended
	// lease is re-armed.
	extendRatio = 0.7

	releaseTimeout = 2 * time.Second
)

var (
	releaseScript = redis.NewScript(releaseLua)
	extendScript  = redis.NewScript(extendLua)
)

// ErrNotAcquired is returned by WithLock when every acquisition attempt found
// the key held by someone else.
var ErrNotAcquired = errors.New("lock: not acquired")

// Client is the subset of the go-redis API the manager needs. *redis.Client
// and *redis.ClusterClient satisfy it.
type Client interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// Lease is the outcome of Acquire. Token is empty when Acquired is false.
type Lease struct {
	Key      string
	Token    string
	TTL      time.Duration
	Acquired bool
}

// LockInfo describes the current holder of a key.
type LockInfo struct {
	Exists bool
	TTL    time.Duration
	Owner  string
}

type options struct {
	attempts   int
	baseDelay  time.Duration
	growth     float64
	autoExtend bool
}

// Option tunes a single Acquire or WithLock call, or the manager defaults.
type Option func(*options)

// WithAttempts sets how many times acquisition is retried after the first try.
func WithAttempts(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.attempts = n
		}
	}
}

// WithBackoff sets the first retry delay and the factor it grows by per retry.
func WithBackoff(base time.Duration, growth float64) Option {
	return func(o *options) {
		if base > 0 {
			o.baseDelay = base
		}
		if growth >= 1 {
			o.growth = growth
		}
	}
}

// WithAutoExtend keeps the lease alive while the WithLock callback runs.
func WithAutoExtend() Option {
	return func(o *options) { o.autoExtend = true }
}

// Manager hands out leases backed by Redis.
type Manager struct {
	client   Client
	logger   *zap.Logger
	defaults options
	newToken func() string
}

// NewManager constructs a lease manager. Defaults are 3 retries starting at
// 100ms and growing 1.5x per retry.
func NewManager(client Client, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := options{attempts: 3, baseDelay: 100 * time.Millisecond, growth: 1.5}
	for _, opt := range opts {
		opt(&defaults)
	}
	return &Manager{
		client:   client,
		logger:   logger,
		defaults: defaults,
		newToken: func() string { return uuid.NewString() },
	}
}

func (m *Manager) resolve(opts []Option) options {
	o := m.defaults
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Acquire tries to take key for ttl. Contention is not an error: when every
// attempt finds the key held, the returned lease has Acquired false. A Redis
// failure on the last attempt is returned.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration, opts ...Option) (Lease, error) {
	o := m.resolve(opts)
	token := m.newToken()
	delay := o.baseDelay

	var lastErr error
	for attempt := 0; attempt <= o.attempts; attempt++ {
		ok, err := m.client.SetNX(ctx, key, token, ttl).Result()
		switch {
		case err != nil:
			lastErr = err
			m.logger.Error("lock acquire failed", zap.String("key", key), zap.Int("attempt", attempt), zap.Error(err))
		case ok:
			m.logger.Debug("lock acquired", zap.String("key", key), zap.Int("attempt", attempt))
			return Lease{Key: key, Token: token, TTL: ttl, Acquired: true}, nil
		default:
			lastErr = nil
		}

		if attempt == o.attempts {
			break
		}
		if err := sleep(ctx, delay); err != nil {
			return Lease{Key: key}, err
		}
		delay = time.Duration(float64(delay) * o.growth)
	}

	if lastErr != nil {
		return Lease{Key: key}, fmt.Errorf("acquire lock %s: %w", key, lastErr)
	}
	m.logger.Warn("lock not acquired", zap.String("key", key), zap.Int("attempts", o.attempts+1))
	return Lease{Key: key}, nil
}

// Release deletes key only if it still holds token. It reports false when the
// lease already expired or belongs to another holder.
func (m *Manager) Release(ctx context.Context, key, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", key, err)
	}
	if n != 1 {
		m.logger.Warn("lock not released, not owned or expired", zap.String("key", key))
		return false, nil
	}
	m.logger.Debug("lock released", zap.String("key", key))
	return true, nil
}

// Extend re-arms the TTL of key only if it still holds token.
func (m *Manager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, m.client, []string{key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", key, err)
	}
	if n == 1 {
		m.logger.Debug("lock extended", zap.String("key", key), zap.Duration("ttl", ttl))
	}
	return n == 1, nil
}

// Info reports who holds key and for how much longer.
func (m *Manager) Info(ctx context.Context, key string) (LockInfo, error) {
	owner, err := m.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return LockInfo{}, nil
	}
	if err != nil {
		return LockInfo{}, fmt.Errorf("inspect lock %s: %w", key, err)
	}
	ttl, err := m.client.PTTL(ctx, key).Result()
	if err != nil {
		return LockInfo{}, fmt.Errorf("inspect lock %s: %w", key, err)
	}
	info := LockInfo{Exists: true, Owner: owner}
	if ttl > 0 {
		info.TTL = ttl
	}
	return info, nil
}

// WithLock runs fn while holding key. The lease is released exactly once
// however fn returns, including by panic, and fn's error is returned as is.
// ErrNotAcquired is returned without calling fn when the key stays held.
func (m *Manager) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error, opts ...Option) error {
	o := m.resolve(opts)
	lease, err := m.Acquire(ctx, key, ttl, opts...)
	if err != nil {
		return err
	}
	if !lease.Acquired {
		return fmt.Errorf("%w: %s", ErrNotAcquired, key)
	}

	var stopExtend func()
	if o.autoExtend {
		stopExtend = m.keepAlive(ctx, lease)
	}

	defer func() {
		if stopExtend != nil {
			stopExtend()
		}
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()
		if _, relErr := m.Release(releaseCtx, lease.Key, lease.Token); relErr != nil {
			m.logger.Error("lock release failed", zap.String("key", key), zap.Error(relErr))
		}
	}()

	return fn(ctx)
}

// keepAlive extends the lease at 70% of its TTL until the returned stop
// function is called. stop blocks until the extender goroutine exits.
func (m *Manager) keepAlive(ctx context.Context, lease Lease) func() {
	interval := time.Duration(float64(lease.TTL) * extendRatio)
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.Extend(ctx, lease.Key, lease.Token, lease.TTL)
				if err != nil || !ok {
					m.logger.Warn("lock extend failed, lease may be lost", zap.String("key", lease.Key), zap.Error(err))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
