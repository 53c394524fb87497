package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ggoodman/remitadmin-go/sessions"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

const (
	fieldAccessToken  = "access_token"
	fieldRefreshToken = "refresh_token"
	fieldProfile      = "user"
)

// Config for the Redis-backed Store. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// RedisDB selects the logical database. ENV: REDIS_DB
	RedisDB int `env:"REDIS_DB,default=0"`
	// KeyPrefix for all keys. ENV: SESSION_KEY_PREFIX
	KeyPrefix string `env:"SESSION_KEY_PREFIX,default=remitadmin:session:"`
	// TTL applied to every key on Set; zero disables expiry. ENV: SESSION_TTL
	TTL time.Duration `env:"SESSION_TTL,default=0s"`
}

// Store implements sessions.Store using Redis.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	owned     bool
}

// New connects to Redis and verifies the connection with PING.
func New(cfg Config) (*Store, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.RedisDB})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	s := NewWithClient(cl, cfg.KeyPrefix, cfg.TTL)
	s.owned = true
	return s, nil
}

// NewFromEnv builds a Store using envdecode to populate Config.
func NewFromEnv() (*Store, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("redisstore: decode env: %w", err)
	}
	return New(cfg)
}

// NewWithClient wraps an existing client. The caller keeps ownership of the
// client; Close does not close it.
func NewWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Store {
	if keyPrefix == "" {
		keyPrefix = "remitadmin:session:"
	}
	return &Store{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Close closes the Redis client if the Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) key(field string) string { return s.keyPrefix + field }

func (s *Store) Get(ctx context.Context) (*sessions.Session, error) {
	vals, err := s.client.MGet(ctx, s.key(fieldAccessToken), s.key(fieldRefreshToken), s.key(fieldProfile)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: get: %w", err)
	}
	access, _ := vals[0].(string)
	refresh, _ := vals[1].(string)
	if access == "" || refresh == "" {
		// A partial session (e.g. one key expired before the others) is
		// unusable for the refresh flow.
		return nil, nil
	}
	sess := &sessions.Session{AccessToken: access, RefreshToken: refresh}
	if profile, ok := vals[2].(string); ok && profile != "" {
		sess.Profile = []byte(profile)
	}
	return sess, nil
}

func (s *Store) Set(ctx context.Context, sess *sessions.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(fieldAccessToken), sess.AccessToken, s.ttl)
		p.Set(ctx, s.key(fieldRefreshToken), sess.RefreshToken, s.ttl)
		if len(sess.Profile) > 0 {
			p.Set(ctx, s.key(fieldProfile), []byte(sess.Profile), s.ttl)
		} else {
			p.Del(ctx, s.key(fieldProfile))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: set: %w", err)
	}
	return nil
}

func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	err := s.client.SetArgs(ctx, s.key(fieldAccessToken), token, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return sessions.ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("redisstore: set access token: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, s.key(fieldAccessToken), s.key(fieldRefreshToken), s.key(fieldProfile))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: clear: %w", err)
	}
	return nil
}

// Compile-time interface check
var _ sessions.Store = (*Store)(nil)
