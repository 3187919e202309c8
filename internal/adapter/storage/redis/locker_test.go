package redis_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockCluster struct {
	nodes  []*miniredis.Miniredis
	stores []goredis.UniversalClient
}

func newLockCluster(t *testing.T, n int) *lockCluster {
	t.Helper()
	c := &lockCluster{}
	for i := 0; i < n; i++ {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
		t.Cleanup(func() { _ = client.Close() })
		c.nodes = append(c.nodes, mr)
		c.stores = append(c.stores, client)
	}
	return c
}

func testLockConfig() redis.LockConfig {
	return redis.LockConfig{
		Prefix:      "locks:",
		DriftFactor: 0.01,
		RetryDelay:  5 * time.Millisecond,
		RetryJitter: 5 * time.Millisecond,
		DefaultTTL:  time.Second,
	}
}

func newManager(t *testing.T, c *lockCluster) *redis.LockManager {
	t.Helper()
	m, err := redis.NewLockManager(context.Background(), c.stores, testLockConfig(), nil, zerolog.Nop())
	require.NoError(t, err)
	return m
}

func TestNewLockManager_StartupCheckCleansUp(t *testing.T) {
	c := newLockCluster(t, 3)
	newManager(t, c)

	for _, node := range c.nodes {
		assert.False(t, node.Exists("locks:startup-check"))
	}
}

func TestNewLockManager_NoStores(t *testing.T) {
	_, err := redis.NewLockManager(context.Background(), nil, testLockConfig(), nil, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewLockManager_QuorumUnreachable(t *testing.T) {
	c := newLockCluster(t, 3)
	c.nodes[0].Close()
	c.nodes[1].Close()

	_, err := redis.NewLockManager(context.Background(), c.stores, testLockConfig(), nil, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1/3 lock stores reachable")
}

func TestWithLock_RunsAndReleases(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)

	var ran bool
	err := m.WithLock(context.Background(), []string{"wallet:abc"}, ports.LockOptions{TTL: time.Second, MaxRetries: 0},
		func(ctx context.Context) error {
			ran = true
			for _, node := range c.nodes {
				assert.True(t, node.Exists("locks:wallet:abc"), "lease must be held on every store")
			}
			return nil
		})

	require.NoError(t, err)
	assert.True(t, ran)
	for _, node := range c.nodes {
		assert.False(t, node.Exists("locks:wallet:abc"))
	}
}

func TestWithLock_SetsTTL(t *testing.T) {
	c := newLockCluster(t, 1)
	m := newManager(t, c)

	err := m.WithLock(context.Background(), []string{"wallet:ttl"}, ports.LockOptions{TTL: 5 * time.Second},
		func(ctx context.Context) error {
			ttl := c.nodes[0].TTL("locks:wallet:ttl")
			assert.Equal(t, 5*time.Second, ttl)
			return nil
		})
	require.NoError(t, err)
}

func TestWithLock_ToleratesMinorityFailure(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)
	c.nodes[2].Close()

	var ran bool
	err := m.WithLock(context.Background(), []string{"wallet:minority"}, ports.LockOptions{TTL: time.Second},
		func(ctx context.Context) error {
			ran = true
			return nil
		})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLock_ExhaustsWhenHeldElsewhere(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)

	// Another holder owns the key on a majority of stores.
	require.NoError(t, c.nodes[0].Set("locks:wallet:busy", "other-token"))
	require.NoError(t, c.nodes[1].Set("locks:wallet:busy", "other-token"))

	var ran bool
	err := m.WithLock(context.Background(), []string{"wallet:busy"}, ports.LockOptions{TTL: time.Second, MaxRetries: 2},
		func(ctx context.Context) error {
			ran = true
			return nil
		})

	require.Error(t, err)
	assert.False(t, ran, "fn must never run without the lease")
	assert.Equal(t, apperror.CodeLockExhausted, apperror.CodeOf(err))
	assert.ErrorIs(t, err, redis.ErrLockNotAcquired)

	// The minority lease taken on node 2 is rolled back; the other holder is untouched.
	assert.False(t, c.nodes[2].Exists("locks:wallet:busy"))
	v, _ := c.nodes[0].Get("locks:wallet:busy")
	assert.Equal(t, "other-token", v)
}

func TestWithLock_PropagatesErrorAndReleases(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)
	boom := errors.New("boom")

	err := m.WithLock(context.Background(), []string{"wallet:err"}, ports.LockOptions{TTL: time.Second},
		func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	for _, node := range c.nodes {
		assert.False(t, node.Exists("locks:wallet:err"))
	}
}

func TestWithLock_ReleasesOnPanic(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)

	assert.Panics(t, func() {
		_ = m.WithLock(context.Background(), []string{"wallet:panic"}, ports.LockOptions{TTL: time.Second},
			func(ctx context.Context) error { panic("critical section blew up") })
	})

	for _, node := range c.nodes {
		assert.False(t, node.Exists("locks:wallet:panic"))
	}
}

func TestWithLock_ReleaseOnlyRemovesOwnToken(t *testing.T) {
	c := newLockCluster(t, 1)
	m := newManager(t, c)

	err := m.WithLock(context.Background(), []string{"wallet:stolen"}, ports.LockOptions{TTL: time.Second},
		func(ctx context.Context) error {
			// Simulate expiry followed by a new holder.
			c.nodes[0].Del("locks:wallet:stolen")
			return c.nodes[0].Set("locks:wallet:stolen", "new-holder")
		})

	require.NoError(t, err)
	v, err := c.nodes[0].Get("locks:wallet:stolen")
	require.NoError(t, err)
	assert.Equal(t, "new-holder", v)
}

func TestWithLock_MultiKeyIsAllOrNothing(t *testing.T) {
	c := newLockCluster(t, 1)
	m := newManager(t, c)

	require.NoError(t, c.nodes[0].Set("locks:wallet:b", "someone"))

	var ran bool
	err := m.WithLock(context.Background(), []string{"wallet:b", "wallet:a"}, ports.LockOptions{TTL: time.Second, MaxRetries: 1},
		func(ctx context.Context) error {
			ran = true
			return nil
		})

	require.Error(t, err)
	assert.False(t, ran)
	assert.False(t, c.nodes[0].Exists("locks:wallet:a"), "earlier key of the set must be released")
}

func TestWithLock_DeduplicatesKeys(t *testing.T) {
	c := newLockCluster(t, 1)
	m := newManager(t, c)

	err := m.WithLock(context.Background(), []string{"wallet:x", "wallet:x", " wallet:x "}, ports.LockOptions{TTL: time.Second},
		func(ctx context.Context) error {
			assert.Equal(t, []string{"locks:wallet:x"}, c.nodes[0].Keys())
			return nil
		})
	require.NoError(t, err)
}

func TestWithLock_NoKeys(t *testing.T) {
	c := newLockCluster(t, 1)
	m := newManager(t, c)

	err := m.WithLock(context.Background(), []string{" "}, ports.LockOptions{}, func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func TestWithLock_ContextCancelledDuringRetry(t *testing.T) {
	c := newLockCluster(t, 1)
	cfg := testLockConfig()
	cfg.RetryDelay = time.Second
	m, err := redis.NewLockManager(context.Background(), c.stores, cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.nodes[0].Set("locks:wallet:slow", "someone"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = m.WithLock(ctx, []string{"wallet:slow"}, ports.LockOptions{TTL: time.Second, MaxRetries: 5},
		func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithLock_MutualExclusion(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)

	const workers = 12
	var (
		active  int32
		overlap int32
		counter int64
		wg      sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), []string{"wallet:shared"}, ports.LockOptions{TTL: 2 * time.Second, MaxRetries: 200},
				func(ctx context.Context) error {
					if atomic.AddInt32(&active, 1) > 1 {
						atomic.StoreInt32(&overlap, 1)
					}
					v := atomic.LoadInt64(&counter)
					time.Sleep(time.Millisecond)
					atomic.StoreInt64(&counter, v+1)
					atomic.AddInt32(&active, -1)
					return nil
				})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(0), overlap, "critical sections overlapped")
	assert.Equal(t, int64(workers), atomic.LoadInt64(&counter))
}

func TestLockManager_PingAndClose(t *testing.T) {
	c := newLockCluster(t, 3)
	m := newManager(t, c)

	assert.NoError(t, m.Ping(context.Background()))
	assert.Equal(t, "lock-stores", m.Name())

	require.NoError(t, m.Close())
	assert.Error(t, m.Ping(context.Background()))
}
