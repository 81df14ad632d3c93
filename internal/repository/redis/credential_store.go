package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/NordCoder/Storefront/internal/domain/session"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
}

func (c Config) withDefaults() Config {
	out := c
	if out.KeyPrefix == "" {
		out.KeyPrefix = "storefront:session:"
	}
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// Open builds a client and checks it with PING.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

const (
	fieldAccess  = "access"
	fieldRefresh = "refresh"
)

// CredentialStore keeps one profile's pair as a hash {prefix}{profile}.
type CredentialStore struct {
	rdb *redis.Client
	key string
}

var _ session.Store = (*CredentialStore)(nil)

func NewCredentialStore(rdb *redis.Client, prefix, profile string) *CredentialStore {
	if prefix == "" {
		prefix = "storefront:session:"
	}
	return &CredentialStore{rdb: rdb, key: prefix + profile}
}

func (s *CredentialStore) Load(ctx context.Context) (session.Credentials, error) {
	m, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return session.Credentials{}, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	return session.Credentials{Access: m[fieldAccess], Refresh: m[fieldRefresh]}, nil
}

func (s *CredentialStore) Save(ctx context.Context, c session.Credentials) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.key)
	pipe.HSet(ctx, s.key, map[string]string{
		fieldAccess:  c.Access,
		fieldRefresh: c.Refresh,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save %s: %w", s.key, err)
	}
	return nil
}

func (s *CredentialStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("del %s: %w", s.key, err)
	}
	return nil
}

func (s *CredentialStore) Close() error { return s.rdb.Close() }
