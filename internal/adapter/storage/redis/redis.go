package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"wallet-ledger/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient creates the primary Redis client and verifies connectivity.
// It backs the reference cache and the rate limiter.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(options(cfg.Addr(), cfg))

	// Verify connectivity
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	log.Info().
		Str("addr", cfg.Addr()).
		Int("db", cfg.DB).
		Msg("Redis connection established")

	return client, nil
}

// NewLockStores creates one client per independent lock store address.
// Connectivity is checked by NewLockManager, which tolerates a minority of
// unreachable stores.
func NewLockStores(addrs []string, cfg config.RedisConfig) []goredis.UniversalClient {
	stores := make([]goredis.UniversalClient, 0, len(addrs))
	for _, addr := range addrs {
		stores = append(stores, goredis.NewClient(options(addr, cfg)))
	}
	return stores
}

func options(addr string, cfg config.RedisConfig) *goredis.Options {
	opts := &goredis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}
