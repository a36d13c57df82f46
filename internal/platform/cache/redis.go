package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures the redis client. Addr accepts host:port or a redis:// URL.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// ClientOptions converts Options into go-redis options.
func ClientOptions(opts Options) (*redis.Options, error) {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, fmt.Errorf("platform/cache: redis address required")
	}
	var out *redis.Options
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("platform/cache: parse url: %w", err)
		}
		out = parsed
	} else {
		out = &redis.Options{Addr: addr}
	}
	if opts.Password != "" {
		out.Password = opts.Password
	}
	if opts.DB > 0 {
		out.DB = opts.DB
	}
	out.DialTimeout = 5 * time.Second
	out.ReadTimeout = 2 * time.Second
	out.WriteTimeout = 2 * time.Second
	return out, nil
}

// New creates a redis client and verifies it answers PING.
func New(ctx context.Context, opts Options) (*redis.Client, error) {
	clientOpts, err := ClientOptions(opts)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(clientOpts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("platform/cache: ping: %w", err)
	}

	return client, nil
}
