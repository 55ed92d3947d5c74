package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vantagesec/verdict/internal/intel"
)

// Redis is the shared store for multi-instance deployments. Expiry is
// enforced server-side with SET EX, so a stale entry can never be served.
type Redis struct {
	cli        *redis.Client
	ttl        time.Duration
	prefix     string
	errorCount int
}

func NewRedis(addr string, depth intel.Depth, ttl time.Duration) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{Addr: addr})
	if err := cli.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &Redis{cli: cli, ttl: ttl, prefix: "verdict:cache:" + string(depth) + ":"}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*intel.Assessment, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw, err := r.cli.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logErr(err)
		}
		return nil, false
	}
	var a intel.Assessment
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, false
	}
	return &a, true
}

func (r *Redis) Set(ctx context.Context, key string, a *intel.Assessment) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	raw, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := r.cli.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		r.logErr(err) // be permissive on failure; the next caller recomputes
	}
}

// Ping is used by the health checker.
func (r *Redis) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.cli.Ping(ctx).Err()
}

func (r *Redis) logErr(err error) {
	r.errorCount++
	if r.errorCount%100 == 1 { // Log every 100th error to avoid spam
		log.Printf("Redis cache error (count: %d): %v", r.errorCount, err)
	}
}

// RedisStores builds the per-depth store set against one Redis instance.
func RedisStores(addr string, standard, deep, forensic time.Duration) (map[intel.Depth]Store, *Redis, error) {
	std, err := NewRedis(addr, intel.DepthStandard, standard)
	if err != nil {
		return nil, nil, err
	}
	dp, err := NewRedis(addr, intel.DepthDeep, deep)
	if err != nil {
		return nil, nil, err
	}
	fr, err := NewRedis(addr, intel.DepthForensic, forensic)
	if err != nil {
		return nil, nil, err
	}
	return map[intel.Depth]Store{
		intel.DepthStandard: std,
		intel.DepthDeep:     dp,
		intel.DepthForensic: fr,
	}, std, nil
}
