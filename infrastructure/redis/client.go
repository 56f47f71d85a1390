// Package redis opens verified go-redis clients.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	infracontext "github.com/jonesrussell/ocrbase/infrastructure/context"
)

// Config accepts either a redis:// URL or a host:port address.
type Config struct {
	Address  string `env:"REDIS_URL"      yaml:"address"`
	Password string `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int    `env:"REDIS_DB"       yaml:"db"`
}

var ErrEmptyAddress = errors.New("redis address is required")

// Options converts cfg into go-redis options.
func (c Config) Options() (*redis.Options, error) {
	if c.Address == "" {
		return nil, ErrEmptyAddress
	}
	if strings.HasPrefix(c.Address, "redis://") || strings.HasPrefix(c.Address, "rediss://") {
		opts, err := redis.ParseURL(c.Address)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if c.Password != "" {
			opts.Password = c.Password
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.Address, Password: c.Password, DB: c.DB}, nil
}

// NewClient connects and pings once before returning.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := infracontext.WithPingTimeout(ctx)
	defer cancel()
	if err = client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
