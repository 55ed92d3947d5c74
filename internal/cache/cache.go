package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/metrics"
)

// Store is the expiring key-value backend behind the cache. One store per
// analysis depth; each carries its own TTL. Entries are replaced, never
// mutated.
type Store interface {
	Get(ctx context.Context, key string) (*intel.Assessment, bool)
	Set(ctx context.Context, key string, a *intel.Assessment)
}

// Sink observes every freshly computed assessment. The trend history hangs
// off this hook.
type Sink interface {
	Record(a *intel.Assessment)
}

// ComputeFunc produces an assessment on a cache miss.
type ComputeFunc func(ctx context.Context) (*intel.Assessment, error)

type call struct {
	done chan struct{}
	a    *intel.Assessment
	err  error
}

// Cache memoizes assessments per (indicator, depth) and guarantees at most
// one concurrent computation per key: concurrent callers for the same key
// wait on the in-flight call and share its result.
type Cache struct {
	stores map[intel.Depth]Store

	mu       sync.Mutex
	inflight map[string]*call

	hits   atomic.Int64
	misses atomic.Int64

	sinks []Sink
}

func New(stores map[intel.Depth]Store) *Cache {
	return &Cache{
		stores:   stores,
		inflight: make(map[string]*call),
	}
}

// AddSink registers an observer for computed assessments. Not safe to call
// concurrently with GetOrCompute; wire sinks at startup.
func (c *Cache) AddSink(s Sink) {
	c.sinks = append(c.sinks, s)
}

func Key(ind indicator.Indicator, depth intel.Depth) string {
	return ind.Key() + "|" + string(depth)
}

// GetOrCompute returns the cached assessment or runs computeFn exactly once
// per key no matter how many callers arrive while it is in flight. The
// computation is detached from the caller's cancellation: an analysis already
// dispatched finishes and populates the cache even if the requesting job is
// stopped, because waiters on other jobs may still want the result.
func (c *Cache) GetOrCompute(ctx context.Context, ind indicator.Indicator, depth intel.Depth, computeFn ComputeFunc) (*intel.Assessment, error) {
	store, ok := c.stores[depth]
	if !ok {
		store = c.stores[intel.DepthStandard]
	}
	key := Key(ind, depth)

	if a, ok := store.Get(ctx, key); ok {
		c.hits.Add(1)
		metrics.CacheHits.Inc()
		return a, nil
	}

	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		// Joining an in-flight computation counts as a hit for dedup
		// accounting: no extra source queries were spent.
		c.hits.Add(1)
		metrics.CacheHits.Inc()
		select {
		case <-cl.done:
			return cl.a, cl.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// The entry may have landed between the store read and taking the lock.
	if a, ok := store.Get(ctx, key); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		metrics.CacheHits.Inc()
		return a, nil
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	c.misses.Add(1)
	metrics.CacheMisses.Inc()

	// The store write runs under the same detached context as the
	// computation: a caller cancelled mid-compute must not make the write
	// fail and drop the finished result.
	dctx := context.WithoutCancel(ctx)
	cl.a, cl.err = computeFn(dctx)
	if cl.err == nil {
		store.Set(dctx, key, cl.a)
		for _, s := range c.sinks {
			s.Record(cl.a)
		}
	}

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()
	close(cl.done)

	return cl.a, cl.err
}

// Peek returns a cached assessment without computing anything.
func (c *Cache) Peek(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, bool) {
	store, ok := c.stores[depth]
	if !ok {
		return nil, false
	}
	return store.Get(ctx, Key(ind, depth))
}

func (c *Cache) Hits() int64   { return c.hits.Load() }
func (c *Cache) Misses() int64 { return c.misses.Load() }

// HitRate is hits/(hits+misses) since startup.
func (c *Cache) HitRate() float64 {
	h, m := c.hits.Load(), c.misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}
