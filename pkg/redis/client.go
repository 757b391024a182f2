// Package redis wraps go-redis/v9 for the score cache: byte-valued get/set
// with TTL, pattern invalidation and a ping for health checks. A
// comma-separated address list selects a cluster client.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conceptrank/conceptrank/pkg/config"
)

const scanCount = 200

type Client struct {
	rdb redis.UniversalClient
}

// NewClient connects and verifies the connection with a PING.
func NewClient(cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        splitAddrs(cfg.Addr),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func splitAddrs(addr string) []string {
	var addrs []string
	for _, a := range strings.Split(addr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// Get reports found=false with a nil error for a missing key.
func (c *Client) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// FlushByPattern unlinks every key matching the glob pattern and returns
// how many were removed. On a cluster each master is scanned.
func (c *Client) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	var deleted atomic.Int64
	flushNode := func(ctx context.Context, node redis.UniversalClient) error {
		n, err := unlinkMatching(ctx, node, pattern)
		deleted.Add(n)
		return err
	}
	var err error
	if cluster, ok := c.rdb.(*redis.ClusterClient); ok {
		err = cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			return flushNode(ctx, node)
		})
	} else {
		err = flushNode(ctx, c.rdb)
	}
	return deleted.Load(), err
}

// unlinkMatching scans one node and unlinks matches a page at a time. Keys
// are unlinked singly in a pipeline since a page may span cluster slots.
func unlinkMatching(ctx context.Context, node redis.UniversalClient, pattern string) (int64, error) {
	var total int64
	var cursor uint64
	for {
		keys, next, err := node.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			return total, fmt.Errorf("scanning %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			cmds, err := node.Pipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, k := range keys {
					pipe.Unlink(ctx, k)
				}
				return nil
			})
			for _, cmd := range cmds {
				if n, err := cmd.(*redis.IntCmd).Result(); err == nil {
					total += n
				}
			}
			if err != nil {
				return total, fmt.Errorf("unlinking %d keys: %w", len(keys), err)
			}
		}
		if cursor = next; cursor == 0 {
			return total, nil
		}
	}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
