package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerSource enforces an independent request rate for each reputation source.
type PerSource struct {
	mu         sync.Mutex
	m          map[string]*limitEntry
	perSecond  float64
	burst      int
	maxEntries int
}

type limitEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func New(perSecond float64, burst int) *PerSource {
	ps := &PerSource{
		m:          make(map[string]*limitEntry),
		perSecond:  perSecond,
		burst:      burst,
		maxEntries: 1000, // Prevent unlimited growth
	}

	go ps.cleanup()
	return ps
}

// SetLimit installs a source-specific rate, overriding the default.
func (p *PerSource) SetLimit(source string, perSecond float64, burst int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[source] = &limitEntry{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), burst),
		lastUsed: time.Now(),
	}
}

func (p *PerSource) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if len(p.m) > p.maxEntries {
			cutoff := time.Now().Add(-1 * time.Hour)
			for source, entry := range p.m {
				if entry.lastUsed.Before(cutoff) {
					delete(p.m, source)
				}
			}
		}
		p.mu.Unlock()
	}
}

func (p *PerSource) get(source string) *limitEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.m[source]
	if !ok {
		entry = &limitEntry{
			limiter:  rate.NewLimiter(rate.Limit(p.perSecond), p.burst),
			lastUsed: time.Now(),
		}
		p.m[source] = entry
	} else {
		entry.lastUsed = time.Now()
	}
	return entry
}

func (p *PerSource) Allow(source string) bool {
	return p.get(source).limiter.Allow()
}

// Wait blocks until the source's limiter admits a request or ctx expires,
// so a throttled source can never hold an assessment past its timeout.
func (p *PerSource) Wait(ctx context.Context, source string) error {
	return p.get(source).limiter.Wait(ctx)
}
