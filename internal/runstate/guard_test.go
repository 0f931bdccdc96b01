package runstate

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

type activeStub struct {
	active bool
	err    error
	calls  int
}

func (a *activeStub) HasActiveRun(context.Context, string) (bool, error) {
	a.calls++
	return a.active, a.err
}

type memLock struct {
	mu      sync.Mutex
	held    map[string]bool
	tryErr  error
	forced  int
	unlocks int
}

func newMemLock() *memLock { return &memLock{held: make(map[string]bool)} }

func (m *memLock) TryLock(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tryErr != nil {
		return false, m.tryErr
	}
	if m.held[key] {
		return false, nil
	}
	m.held[key] = true
	return true, nil
}

func (m *memLock) ForceLock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forced++
	m.held[key] = true
	return nil
}

func (m *memLock) Unlock(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlocks++
	delete(m.held, key)
	return nil
}

func TestGuard_AcquireRelease(t *testing.T) {
	g := NewGuard(&activeStub{}, nil)
	release, err := g.Acquire(context.Background(), "org-1")
	require.NoError(t, err)

	_, err = g.Acquire(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrRunInProgress)

	_, err = g.Acquire(context.Background(), "org-2")
	assert.NoError(t, err)

	release()
	release()
	_, err = g.Acquire(context.Background(), "org-1")
	assert.NoError(t, err)
}

func TestGuard_DurableActiveRun(t *testing.T) {
	store := &activeStub{active: true}
	g := NewGuard(store, nil)
	_, err := g.Acquire(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrRunInProgress)

	store.active = false
	_, err = g.Acquire(context.Background(), "org-1")
	assert.NoError(t, err)
}

func TestGuard_StoreError(t *testing.T) {
	g := NewGuard(&activeStub{err: errors.New("db down")}, nil)
	_, err := g.Acquire(context.Background(), "org-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunInProgress)

	g.store = &activeStub{}
	_, err = g.Acquire(context.Background(), "org-1")
	assert.NoError(t, err)
}

func TestGuard_LockerHeldAndActive(t *testing.T) {
	lock := newMemLock()
	lock.held[lockKey("org-1")] = true
	g := NewGuard(&activeStub{active: true}, lock)

	_, err := g.Acquire(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Zero(t, lock.forced)
}

func TestGuard_StaleLockTakenOver(t *testing.T) {
	lock := newMemLock()
	lock.held[lockKey("org-1")] = true
	g := NewGuard(&activeStub{}, lock)

	release, err := g.Acquire(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, lock.forced)

	release()
	assert.Equal(t, 1, lock.unlocks)
	assert.False(t, lock.held[lockKey("org-1")])
}

func TestGuard_LockerErrorDegrades(t *testing.T) {
	lock := newMemLock()
	lock.tryErr = errors.New("redis down")
	store := &activeStub{}
	g := NewGuard(store, lock)

	release, err := g.Acquire(context.Background(), "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.calls)
	release()
	assert.Zero(t, lock.unlocks)
}

func TestGuard_ReleasesLockWhenActive(t *testing.T) {
	lock := newMemLock()
	g := NewGuard(&activeStub{active: true}, lock)

	_, err := g.Acquire(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, 1, lock.unlocks)
	assert.Empty(t, lock.held)
}

type fakeRedis struct {
	setnx   bool
	err     error
	evalErr error
	keys    []string
	args    []any
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.keys = append(f.keys, key)
	f.args = append(f.args, value)
	return redis.NewBoolResult(f.setnx, f.err)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	f.keys = append(f.keys, key)
	f.args = append(f.args, value)
	return redis.NewStatusResult("OK", f.err)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	f.keys = append(f.keys, keys...)
	f.args = append(f.args, args...)
	return redis.NewCmdResult(int64(1), f.evalErr)
}

func TestRedisLock(t *testing.T) {
	rdb := &fakeRedis{setnx: true}
	l := newRedisLock(rdb, 0)
	assert.Equal(t, time.Hour, l.ttl)

	ok, err := l.TryLock(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, l.ForceLock(context.Background(), "k"))
	require.NoError(t, l.Unlock(context.Background(), "k"))

	assert.Equal(t, []string{"k", "k", "k"}, rdb.keys)
	for _, a := range rdb.args {
		assert.Equal(t, l.token, a)
	}

	rdb.err = errors.New("conn refused")
	_, err = l.TryLock(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, l.ForceLock(context.Background(), "k"))

	rdb.evalErr = redis.Nil
	assert.NoError(t, l.Unlock(context.Background(), "k"))
	rdb.evalErr = errors.New("boom")
	assert.Error(t, l.Unlock(context.Background(), "k"))
}

func TestNewRedisLock_BadURL(t *testing.T) {
	_, _, err := NewRedisLock("not a url", time.Minute)
	assert.Error(t, err)

	l, client, err := NewRedisLock("redis://localhost:6379/0", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, l)
	require.NoError(t, client.Close())
}
