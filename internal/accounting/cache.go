package accounting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const bumpChannel = "ledger.bump"

// ReportCache stores built reports per organization and drops them when postings change balances.
type ReportCache interface {
	Fetch(ctx context.Context, orgID int64, parts []string, dest any, loader func(context.Context) (any, error)) error
	Bump(ctx context.Context, orgID int64) error
}

// RedisReportCache versions keys per organization. Bumping the version orphans
// every previously cached report, which then expires through the TTL.
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisReportCache instantiates the cache helper. A nil client disables caching
// but concurrent identical builds are still collapsed.
func NewRedisReportCache(client *redis.Client, ttl time.Duration) *RedisReportCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisReportCache{client: client, ttl: ttl}
}

func versionKey(orgID int64) string {
	return "ledger:org:" + strconv.FormatInt(orgID, 10) + ":report_version"
}

// Version returns the organization's cache version, initialising when missing.
func (c *RedisReportCache) Version(ctx context.Context, orgID int64) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	key := versionKey(orgID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// SETNX so two first readers agree on the initial version
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *RedisReportCache) BuildKey(ctx context.Context, orgID int64, parts ...string) (string, error) {
	ver, err := c.Version(ctx, orgID)
	if err != nil {
		return "", err
	}
	base := append([]string{"ledger", "report", strconv.FormatInt(orgID, 10)}, parts...)
	return fmt.Sprintf("%s:v%d", strings.Join(base, ":"), ver), nil
}

// Fetch loads a cached report or builds it once through loader.
func (c *RedisReportCache) Fetch(ctx context.Context, orgID int64, parts []string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	key, err := c.BuildKey(ctx, orgID, parts...)
	if err != nil {
		return err
	}
	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			return json.Unmarshal(payload, dest)
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}
	}
	ch := c.group.DoChan(key, func() (any, error) {
		value, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if c.client != nil {
			if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				return nil, err
			}
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return res.Err
		}
		return json.Unmarshal(res.Val.([]byte), dest)
	}
}

// Bump invalidates the organization's reports and publishes the new version.
func (c *RedisReportCache) Bump(ctx context.Context, orgID int64) error {
	if c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(orgID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, strconv.FormatInt(orgID, 10)+":"+strconv.FormatInt(ver, 10)).Err()
}
