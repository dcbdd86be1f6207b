package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis is an in-memory stand-in that understands the two lease scripts.
type fakeRedis struct {
	mu       sync.Mutex
	values   map[string]string
	expires  map[string]time.Time
	setErr   error
	setCalls int
	releases int
	extends  int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, expires: map[string]time.Time{}}
}

func (f *fakeRedis) live(key string) (string, bool) {
	v, ok := f.values[key]
	if !ok {
		return "", false
	}
	if exp, has := f.expires[key]; has && time.Now().After(exp) {
		delete(f.values, key)
		delete(f.expires, key)
		return "", false
	}
	return v, true
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setCalls++
	if f.setErr != nil {
		return redis.NewBoolResult(false, f.setErr)
	}
	if _, ok := f.live(key); ok {
		return redis.NewBoolResult(false, nil)
	}
	f.values[key] = value.(string)
	f.expires[key] = time.Now().Add(expiration)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.live(key)
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) PTTL(_ context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live(key); !ok {
		return redis.NewDurationResult(-2, nil)
	}
	return redis.NewDurationResult(time.Until(f.expires[key]), nil)
}

func (f *fakeRedis) run(script string, keys []string, args []interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	key, token := keys[0], args[0].(string)
	current, ok := f.live(key)
	switch script {
	case releaseLua:
		f.releases++
		if !ok || current != token {
			return redis.NewCmdResult(int64(0), nil)
		}
		delete(f.values, key)
		delete(f.expires, key)
		return redis.NewCmdResult(int64(1), nil)
	case extendLua:
		f.extends++
		if !ok || current != token {
			return redis.NewCmdResult(int64(0), nil)
		}
		f.expires[key] = time.Now().Add(time.Duration(args[1].(int64)) * time.Millisecond)
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(nil, errors.New("unknown script"))
}

func (f *fakeRedis) Eval(_ context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.run(script, keys, args)
}

func (f *fakeRedis) EvalSha(_ context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	switch sha1 {
	case releaseScript.Hash():
		return f.run(releaseLua, keys, args)
	case extendScript.Hash():
		return f.run(extendLua, keys, args)
	}
	return redis.NewCmdResult(nil, errors.New("unknown sha"))
}

func (f *fakeRedis) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedis) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeRedis) ScriptExists(_ context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeRedis) ScriptLoad(_ context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult(redis.NewScript(script).Hash(), nil)
}

func (f *fakeRedis) counts() (sets, releases, extends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setCalls, f.releases, f.extends
}

func newTestManager(client Client) *Manager {
	return NewManager(client, nil, WithBackoff(time.Millisecond, 1.5))
}

func TestAcquireFreeKey(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)

	lease, err := m.Acquire(context.Background(), "krs:lock:section:1", time.Second)
	require.NoError(t, err)
	assert.True(t, lease.Acquired)
	assert.NotEmpty(t, lease.Token)

	info, err := m.Info(context.Background(), "krs:lock:section:1")
	require.NoError(t, err)
	assert.True(t, info.Exists)
	assert.Equal(t, lease.Token, info.Owner)
	assert.Greater(t, info.TTL, time.Duration(0))
}

func TestAcquireHeldKeyFailsWithoutMutatingLease(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)
	ctx := context.Background()

	first, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	second, err := m.Acquire(ctx, "k", time.Minute, WithAttempts(2))
	require.NoError(t, err)
	assert.False(t, second.Acquired)
	assert.Empty(t, second.Token)

	sets, _, _ := client.counts()
	assert.Equal(t, 1+3, sets)

	info, err := m.Info(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, first.Token, info.Owner)
}

func TestAcquireReturnsTransportError(t *testing.T) {
	client := newFakeRedis()
	client.setErr = errors.New("connection refused")
	m := newTestManager(client)

	_, err := m.Acquire(context.Background(), "k", time.Second, WithAttempts(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestAcquireStopsOnContextCancel(t *testing.T) {
	client := newFakeRedis()
	m := NewManager(client, nil, WithBackoff(time.Hour, 1))
	_, err := m.Acquire(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Acquire(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReleaseRequiresOwnership(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	ok, err := m.Release(ctx, "k", "someone-else")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := m.Info(ctx, "k")
	require.NoError(t, err)
	assert.True(t, info.Exists)

	ok, err = m.Release(ctx, "k", lease.Token)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err = m.Info(ctx, "k")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestExtendRequiresOwnership(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)
	ctx := context.Background()

	lease, err := m.Acquire(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)

	ok, err := m.Extend(ctx, "k", "other", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Extend(ctx, "k", lease.Token, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	info, err := m.Info(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, info.TTL, time.Second)
}

func TestWithLockReleasesOnceOnError(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)
	boom := errors.New("boom")

	err := m.WithLock(context.Background(), "k", time.Minute, func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotAcquired)

	_, releases, _ := client.counts()
	assert.Equal(t, 1, releases)

	info, err := m.Info(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)

	assert.Panics(t, func() {
		_ = m.WithLock(context.Background(), "k", time.Minute, func(ctx context.Context) error {
			panic("handler blew up")
		})
	})

	_, releases, _ := client.counts()
	assert.Equal(t, 1, releases)
}

func TestWithLockNotAcquired(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)
	ctx := context.Background()

	_, err := m.Acquire(ctx, "k", time.Minute)
	require.NoError(t, err)

	called := false
	err = m.WithLock(ctx, "k", time.Minute, func(ctx context.Context) error {
		called = true
		return nil
	}, WithAttempts(0))
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)

	_, releases, _ := client.counts()
	assert.Zero(t, releases)
}

func TestWithLockAutoExtend(t *testing.T) {
	client := newFakeRedis()
	m := newTestManager(client)

	err := m.WithLock(context.Background(), "k", 20*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(80 * time.Millisecond)
		return nil
	}, WithAutoExtend())
	require.NoError(t, err)

	_, releases, extends := client.counts()
	assert.GreaterOrEqual(t, extends, 1)
	assert.Equal(t, 1, releases)

	info, err := m.Info(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, info.Exists)
}
