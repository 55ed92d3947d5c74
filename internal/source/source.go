package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

var (
	// ErrRateLimited means the source throttled this call. Recovered locally
	// via backoff; never propagated past the aggregator.
	ErrRateLimited = errors.New("source rate limited")

	// ErrSourceTimeout means the source did not answer within its budget.
	ErrSourceTimeout = errors.New("source timeout")
)

// Source is one pluggable reputation capability. Implementations must honor
// ctx cancellation; the aggregator bounds every query with the source's own
// Timeout.
type Source interface {
	Name() string
	Type() string
	Reliability() float64
	Timeout() time.Duration
	// DeepOnly sources are skipped at standard depth.
	DeepOnly() bool
	Query(ctx context.Context, ind indicator.Indicator) (intel.Finding, error)
}

// base carries the registry metadata shared by every built-in source.
type base struct {
	name        string
	typ         string
	reliability float64
	timeout     time.Duration
	deepOnly    bool
}

func (b base) Name() string           { return b.name }
func (b base) Type() string           { return b.typ }
func (b base) Reliability() float64   { return b.reliability }
func (b base) Timeout() time.Duration { return b.timeout }
func (b base) DeepOnly() bool         { return b.deepOnly }

// finding pre-fills the source attribution fields.
func (b base) finding(verdict intel.Verdict, confidence float64, started time.Time) intel.Finding {
	return intel.Finding{
		SourceName:  b.name,
		SourceType:  b.typ,
		Reliability: b.reliability,
		Verdict:     verdict,
		Confidence:  confidence,
		LatencyMS:   time.Since(started).Milliseconds(),
		ObservedAt:  time.Now().UTC(),
	}
}

// Registry is the fixed set of configured sources. Sources register once at
// startup; lookups after that are lock-free for the common read path.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
	byName  map[string]Source
}

func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Source)}
}

func (r *Registry) Register(s Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byName[s.Name()]; dup {
		return fmt.Errorf("source %q already registered", s.Name())
	}
	r.byName[s.Name()] = s
	r.sources = append(r.sources, s)
	return nil
}

func (r *Registry) List() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Get(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// ForDepth returns the sources participating at the given analysis depth.
func (r *Registry) ForDepth(depth intel.Depth) []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Source
	for _, s := range r.sources {
		if s.DeepOnly() && depth == intel.DepthStandard {
			continue
		}
		out = append(out, s)
	}
	return out
}
