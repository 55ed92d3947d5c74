package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"

	"github.com/vantagesec/verdict/internal/circuitbreaker"
	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
	"github.com/vantagesec/verdict/internal/metrics"
	"github.com/vantagesec/verdict/internal/rate"
)

// Result is the aggregator's output: every source yields exactly one finding,
// degraded to unknown when the source could not answer.
type Result struct {
	Findings   []intel.Finding
	Configured int
	Failed     int
}

// Aggregator fans an indicator out to every registered source concurrently.
// The whole collection never blocks longer than the largest source timeout.
type Aggregator struct {
	reg      *Registry
	ratelim  *rate.PerSource
	breakers *circuitbreaker.SourceBreakers
	log      *logging.Logger
}

func NewAggregator(reg *Registry, ratelim *rate.PerSource, breakers *circuitbreaker.SourceBreakers, log *logging.Logger) *Aggregator {
	return &Aggregator{reg: reg, ratelim: ratelim, breakers: breakers, log: log}
}

// Breakers exposes per-source circuit state for health reporting.
func (a *Aggregator) Breakers() *circuitbreaker.SourceBreakers { return a.breakers }

// Sources returns the registry backing this aggregator.
func (a *Aggregator) Sources() *Registry { return a.reg }

// Collect queries all sources participating at the given depth. Partial
// failure is the normal case: a timed-out or broken source contributes an
// unknown finding and bumps Failed instead of aborting the assessment.
func (a *Aggregator) Collect(ctx context.Context, ind indicator.Indicator, depth intel.Depth) Result {
	tr := otel.Tracer("verdict/source")
	ctx, span := tr.Start(ctx, "Collect")
	defer span.End()

	sources := a.reg.ForDepth(depth)
	findings := make([]intel.Finding, len(sources))
	var failed int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			f, err := a.queryOne(ctx, src, ind)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				metrics.SourceQueries.WithLabelValues(src.Name(), "error").Inc()
				a.log.Debug("source query degraded to unknown", "source", src.Name(), "indicator", ind.Value, "err", err)
			} else {
				metrics.SourceQueries.WithLabelValues(src.Name(), "ok").Inc()
			}
			findings[i] = f
		}(i, src)
	}
	wg.Wait()

	return Result{Findings: findings, Configured: len(sources), Failed: failed}
}

// queryOne runs a single source query under its rate limit, circuit breaker
// and timeout. Rate-limit rejections from the source get one short backoff
// cycle inside the same timeout budget before degrading.
func (a *Aggregator) queryOne(ctx context.Context, src Source, ind indicator.Indicator) (intel.Finding, error) {
	started := time.Now()
	qctx, cancel := context.WithTimeout(ctx, src.Timeout())
	defer cancel()

	if err := a.ratelim.Wait(qctx, src.Name()); err != nil {
		return unknownFinding(src, started), ErrSourceTimeout
	}

	var f intel.Finding
	err := a.breakers.Execute(src.Name(), func() error {
		op := func() error {
			got, err := src.Query(qctx, ind)
			if err != nil {
				if errors.Is(err, ErrRateLimited) {
					return err // retryable
				}
				return backoff.Permanent(err)
			}
			f = got
			return nil
		}
		bo := backoff.WithContext(backoff.NewExponentialBackOff(), qctx)
		return backoff.Retry(op, backoff.WithMaxRetries(bo, 2))
	})
	if err != nil {
		if qctx.Err() != nil {
			err = ErrSourceTimeout
		}
		return unknownFinding(src, started), err
	}
	return f, nil
}

// unknownFinding is the zero-weight placeholder for a source that failed to
// respond. The scoring engine excludes it from the weighted mean.
func unknownFinding(src Source, started time.Time) intel.Finding {
	return intel.Finding{
		SourceName:  src.Name(),
		SourceType:  src.Type(),
		Reliability: src.Reliability(),
		Verdict:     intel.VerdictUnknown,
		Confidence:  0,
		LatencyMS:   time.Since(started).Milliseconds(),
		ObservedAt:  time.Now().UTC(),
	}
}
