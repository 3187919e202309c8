package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Lock     LockConfig     `mapstructure:"lock"`
	Paystack PaystackConfig `mapstructure:"paystack"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres, memory
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LockConfig tunes the quorum lock. Stores lists independent Redis nodes
// ("host:port"); when empty the primary Redis instance is the only store.
type LockConfig struct {
	Stores      []string      `mapstructure:"stores"`
	Prefix      string        `mapstructure:"prefix"`
	DriftFactor float64       `mapstructure:"drift_factor"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
	RetryJitter time.Duration `mapstructure:"retry_jitter"`
	MaxRetries  int           `mapstructure:"max_retries"`
	FundTTL     time.Duration `mapstructure:"fund_ttl"`
	TransferTTL time.Duration `mapstructure:"transfer_ttl"`
	PayoutTTL   time.Duration `mapstructure:"payout_ttl"`
}

// StoreAddrs returns the lock store addresses, falling back to the primary Redis.
func (l LockConfig) StoreAddrs(primary RedisConfig) []string {
	if len(l.Stores) == 0 {
		return []string{primary.Addr()}
	}
	return l.Stores
}

type PaystackConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	SecretKey     string        `mapstructure:"secret_key"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// SigningSecret returns the secret used to verify webhook signatures.
// Paystack signs webhooks with the account secret key unless a dedicated one is set.
func (p PaystackConfig) SigningSecret() string {
	if p.WebhookSecret != "" {
		return p.WebhookSecret
	}
	return p.SecretKey
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Load reads configuration from file and environment variables.
// A .env file in the working directory is loaded first when present.
// Environment variables override file values. Prefix: WL_ (Wallet Ledger).
// Nested keys use underscore: WL_DATABASE_HOST, WL_PAYSTACK_SECRET_KEY, etc.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "wallet_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("lock.stores", []string{})
	v.SetDefault("lock.prefix", "locks:")
	v.SetDefault("lock.drift_factor", 0.01)
	v.SetDefault("lock.retry_delay", "200ms")
	v.SetDefault("lock.retry_jitter", "200ms")
	v.SetDefault("lock.max_retries", 3)
	v.SetDefault("lock.fund_ttl", "5s")
	v.SetDefault("lock.transfer_ttl", "10s")
	v.SetDefault("lock.payout_ttl", "10s")
	v.SetDefault("paystack.base_url", "https://api.paystack.co")
	v.SetDefault("paystack.secret_key", "")
	v.SetDefault("paystack.webhook_secret", "")
	v.SetDefault("paystack.timeout", "8s")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "wallet-ledger")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "wallet_ledger")

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: WL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("WL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required; env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects unknown drivers and lock settings that would break the lock discipline.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("database.driver must be postgres or memory, got %q", c.Database.Driver)
	}
	if c.Lock.MaxRetries < 0 {
		return fmt.Errorf("lock.max_retries must be >= 0")
	}
	for name, ttl := range map[string]time.Duration{
		"fund_ttl":     c.Lock.FundTTL,
		"transfer_ttl": c.Lock.TransferTTL,
		"payout_ttl":   c.Lock.PayoutTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("lock.%s must be positive", name)
		}
	}
	// The payout critical section contains the provider call.
	if c.Paystack.Timeout >= c.Lock.PayoutTTL {
		return fmt.Errorf("paystack.timeout (%s) must be shorter than lock.payout_ttl (%s)",
			c.Paystack.Timeout, c.Lock.PayoutTTL)
	}
	return nil
}
