package redis

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"wallet-ledger/internal/adapter/metrics"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/pkg/apperror"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// ErrLockNotAcquired is returned by a single attempt that failed to reach quorum.
var ErrLockNotAcquired = errors.New("lock not acquired")

const (
	clockDriftFloor     = 2 * time.Millisecond
	storeRequestTimeout = 250 * time.Millisecond
	releaseTimeout      = 2 * time.Second
	startupCheckKey     = "startup-check"
	startupCheckTTL     = time.Second
)

// LockConfig tunes lease acquisition.
type LockConfig struct {
	Prefix      string
	DriftFactor float64
	RetryDelay  time.Duration
	RetryJitter time.Duration
	DefaultTTL  time.Duration
}

// LockManager implements ports.Locker as a quorum lease over independent
// Redis stores. A lease on a key is held once a majority of stores accepted
// SET NX PX with our token and the remaining validity is positive.
type LockManager struct {
	stores  []goredis.UniversalClient
	quorum  int
	cfg     LockConfig
	metrics ports.MetricsRecorder
	log     zerolog.Logger
}

type lease struct {
	key        string
	token      string
	validUntil time.Time
}

// NewLockManager pings every store, then proves the quorum works by taking
// and releasing a startup-check lease.
func NewLockManager(ctx context.Context, stores []goredis.UniversalClient, cfg LockConfig, rec ports.MetricsRecorder, log zerolog.Logger) (*LockManager, error) {
	if len(stores) == 0 {
		return nil, fmt.Errorf("lock manager: no stores configured")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 10 * time.Second
	}
	if rec == nil {
		rec = metrics.Noop{}
	}

	m := &LockManager{
		stores:  stores,
		quorum:  len(stores)/2 + 1,
		cfg:     cfg,
		metrics: rec,
		log:     log,
	}

	if err := m.Ping(ctx); err != nil {
		return nil, fmt.Errorf("lock manager: %w", err)
	}

	l, err := m.acquire(ctx, m.key(startupCheckKey), startupCheckTTL)
	if err != nil {
		return nil, fmt.Errorf("lock manager startup check: %w", err)
	}
	if err := m.release(ctx, l); err != nil {
		return nil, fmt.Errorf("lock manager startup check release: %w", err)
	}

	log.Info().
		Int("stores", len(stores)).
		Int("quorum", m.quorum).
		Msg("Lock manager ready")

	return m, nil
}

// WithLock acquires every key (sorted, de-duplicated) and runs fn while they
// are held. Acquisition is retried up to opts.MaxRetries times with linear
// backoff plus jitter. Leases are released when fn returns or panics.
func (m *LockManager) WithLock(ctx context.Context, keys []string, opts ports.LockOptions, fn func(ctx context.Context) error) error {
	resources := m.normalize(keys)
	if len(resources) == 0 {
		return fmt.Errorf("lock manager: no keys to lock")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}

	start := time.Now()
	var (
		leases  []*lease
		lastErr error
	)
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := m.wait(ctx, attempt); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
		leases, lastErr = m.acquireAll(ctx, resources, ttl)
		if lastErr == nil {
			break
		}
		m.log.Debug().
			Err(lastErr).
			Strs("keys", resources).
			Int("attempt", attempt+1).
			Msg("lock attempt failed")
	}

	if lastErr != nil {
		m.metrics.ObserveLockAcquire("exhausted", time.Since(start))
		m.log.Warn().
			Err(lastErr).
			Strs("keys", resources).
			Int("max_retries", opts.MaxRetries).
			Msg("lock acquisition exhausted")
		return apperror.ErrLockTimeout(fmt.Errorf("acquire %s: %w", strings.Join(resources, ","), lastErr))
	}
	m.metrics.ObserveLockAcquire("acquired", time.Since(start))

	held := time.Now()
	defer func() {
		// Release must run even when the caller's context is already done.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
		defer cancel()

		for i := len(leases) - 1; i >= 0; i-- {
			l := leases[i]
			if time.Now().After(l.validUntil) {
				m.log.Warn().Str("key", l.key).Msg("lease validity elapsed before release")
			}
			if err := m.release(relCtx, l); err != nil {
				m.log.Error().Err(err).Str("key", l.key).Msg("failed to release lock, relying on TTL")
			}
		}
		m.metrics.ObserveLockHeld(time.Since(held))
	}()

	return fn(ctx)
}

// Ping succeeds when at least a quorum of stores answers.
func (m *LockManager) Ping(ctx context.Context) error {
	var (
		mu      sync.Mutex
		healthy int
		errs    []error
		wg      sync.WaitGroup
	)
	for i, store := range m.stores {
		wg.Add(1)
		go func(i int, store goredis.UniversalClient) {
			defer wg.Done()
			err := store.Ping(ctx).Err()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("store %d: %w", i, err))
				return
			}
			healthy++
		}(i, store)
	}
	wg.Wait()

	if healthy < m.quorum {
		return fmt.Errorf("%d/%d lock stores reachable, need %d: %w", healthy, len(m.stores), m.quorum, errors.Join(errs...))
	}
	if len(errs) > 0 {
		m.log.Warn().Err(errors.Join(errs...)).Msg("some lock stores unreachable")
	}
	return nil
}

// Name returns the dependency name.
func (m *LockManager) Name() string {
	return "lock-stores"
}

// Close closes every store client.
func (m *LockManager) Close() error {
	var errs []error
	for _, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *LockManager) normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, m.key(k))
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (m *LockManager) key(k string) string {
	return m.cfg.Prefix + k
}

func (m *LockManager) wait(ctx context.Context, attempt int) error {
	delay := m.cfg.RetryDelay * time.Duration(attempt)
	if m.cfg.RetryJitter > 0 {
		delay += time.Duration(rand.Int64N(int64(m.cfg.RetryJitter)))
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// acquireAll takes the keys in order. On any failure the leases already
// taken are released so a partial set is never held.
func (m *LockManager) acquireAll(ctx context.Context, keys []string, ttl time.Duration) ([]*lease, error) {
	leases := make([]*lease, 0, len(keys))
	for _, k := range keys {
		l, err := m.acquire(ctx, k, ttl)
		if err != nil {
			relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
			for i := len(leases) - 1; i >= 0; i-- {
				if relErr := m.release(relCtx, leases[i]); relErr != nil {
					m.log.Warn().Err(relErr).Str("key", leases[i].key).Msg("failed to release partial lock set")
				}
			}
			cancel()
			return nil, err
		}
		leases = append(leases, l)
	}
	return leases, nil
}

func (m *LockManager) acquire(ctx context.Context, key string, ttl time.Duration) (*lease, error) {
	token := uuid.NewString()
	start := time.Now()

	var (
		mu       sync.Mutex
		acquired int
		errs     []error
		wg       sync.WaitGroup
	)
	for _, store := range m.stores {
		wg.Add(1)
		go func(store goredis.UniversalClient) {
			defer wg.Done()
			reqCtx, cancel := context.WithTimeout(ctx, storeRequestTimeout)
			defer cancel()
			ok, err := store.SetNX(reqCtx, key, token, ttl).Result()
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				acquired++
			}
		}(store)
	}
	wg.Wait()

	drift := time.Duration(float64(ttl)*m.cfg.DriftFactor) + clockDriftFloor
	validity := ttl - time.Since(start) - drift
	l := &lease{key: key, token: token, validUntil: start.Add(ttl - drift)}

	if acquired >= m.quorum && validity > 0 {
		return l, nil
	}

	relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	_ = m.release(relCtx, l)

	err := fmt.Errorf("%w: %s held on %d/%d stores", ErrLockNotAcquired, key, acquired, len(m.stores))
	if len(errs) > 0 {
		err = errors.Join(err, errors.Join(errs...))
	}
	return nil, err
}

// release removes the lease from every store where it still holds our token.
func (m *LockManager) release(ctx context.Context, l *lease) error {
	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for _, store := range m.stores {
		wg.Add(1)
		go func(store goredis.UniversalClient) {
			defer wg.Done()
			if err := releaseScript.Run(ctx, store, []string{l.key}, l.token).Err(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(store)
	}
	wg.Wait()

	// A minority of unreachable stores will expire the key on their own.
	if len(errs) > len(m.stores)-m.quorum {
		return fmt.Errorf("release %s: %w", l.key, errors.Join(errs...))
	}
	return nil
}
