package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
	"github.com/vantagesec/verdict/internal/metrics"
)

// ErrInvalidConfig is fatal to the submitting call; nothing is dispatched.
var ErrInvalidConfig = errors.New("invalid bulk config")

// ErrNotFound is returned when polling an unknown job id.
var ErrNotFound = errors.New("bulk job not found")

// Config controls one bulk job.
type Config struct {
	BatchSize     int
	MaxConcurrent int
	Depth         intel.Depth
}

func (c Config) validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: batch_size must be at least 1", ErrInvalidConfig)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max_concurrent must be at least 1", ErrInvalidConfig)
	}
	switch c.Depth {
	case intel.DepthStandard, intel.DepthDeep, intel.DepthForensic:
	default:
		return fmt.Errorf("%w: unknown depth %q", ErrInvalidConfig, c.Depth)
	}
	return nil
}

// Status is the job lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// Result is the per-entry outcome. Exactly one of Assessment/Error is set.
type Result struct {
	Index      int               `json:"index"`
	Value      string            `json:"value"`
	Assessment *intel.Assessment `json:"assessment,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Stats are the aggregate job statistics, valid once the job is terminal.
type Stats struct {
	RiskCounts    map[intel.RiskLevel]int `json:"risk_counts"`
	PerSecond     float64                 `json:"per_second"`
	CacheHitRatio float64                 `json:"cache_hit_ratio"`
	Elapsed       time.Duration           `json:"elapsed"`
}

// Job tracks one bulk submission. Terminal exactly when
// completed+failed == total; each input entry is counted once, duplicates
// included, even though duplicate keys share a single computation through
// the cache.
type Job struct {
	ID    string
	Total int

	completed atomic.Int64
	failed    atomic.Int64

	mu      sync.Mutex
	status  Status
	results []Result
	stats   Stats

	cancel context.CancelFunc
	done   chan struct{}
}

func (j *Job) Completed() int { return int(j.completed.Load()) }
func (j *Job) Failed() int    { return int(j.failed.Load()) }

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Results returns a copy of the per-entry outcomes recorded so far.
func (j *Job) Results() []Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Result, len(j.results))
	copy(out, j.results)
	return out
}

func (j *Job) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Wait blocks until the job is terminal.
func (j *Job) Wait() { <-j.done }

// Done exposes the terminal signal for select loops.
func (j *Job) Done() <-chan struct{} { return j.done }

// CacheStats is the slice of cache accounting the orchestrator samples
// around a job to derive its hit ratio.
type CacheStats interface {
	Hits() int64
	Misses() int64
}

// AnalyzeFunc runs one indicator through the cache-backed pipeline.
type AnalyzeFunc func(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error)

// Orchestrator runs bounded-concurrency batch analyses.
type Orchestrator struct {
	analyze AnalyzeFunc
	cstats  CacheStats
	log     *logging.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewOrchestrator(analyze AnalyzeFunc, cstats CacheStats, log *logging.Logger) *Orchestrator {
	return &Orchestrator{analyze: analyze, cstats: cstats, log: log, jobs: make(map[string]*Job)}
}

// Submit validates config, creates the job and starts processing in the
// background. The returned job is pollable immediately.
func (o *Orchestrator) Submit(values []string, cfg Config) (*Job, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty indicator list", ErrInvalidConfig)
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:      uuid.NewString(),
		Total:   len(values),
		status:  StatusRunning,
		results: make([]Result, len(values)),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	go o.run(ctx, job, values, cfg)
	return job, nil
}

// Get returns a job by id for polling.
func (o *Orchestrator) Get(id string) (*Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// Stop cancels dispatching for a job. Analyses already in flight finish and
// still populate the cache; entries never dispatched are recorded as failed
// so the terminal accounting invariant holds.
func (o *Orchestrator) Stop(id string) error {
	job, err := o.Get(id)
	if err != nil {
		return err
	}
	job.cancel()
	return nil
}

func (o *Orchestrator) run(ctx context.Context, job *Job, values []string, cfg Config) {
	started := time.Now()
	hits0, misses0 := o.cstats.Hits(), o.cstats.Misses()

	sem := make(chan struct{}, cfg.MaxConcurrent)
	var wg sync.WaitGroup
	riskCounts := make(map[intel.RiskLevel]int)
	var riskMu sync.Mutex
	stopped := false

	// Batching chunks the input; concurrency is bounded globally across the
	// whole job by the semaphore, not per batch.
	for start := 0; start < len(values); start += cfg.BatchSize {
		end := start + cfg.BatchSize
		if end > len(values) {
			end = len(values)
		}
		for i := start; i < end; i++ {
			if !stopped {
				select {
				case <-ctx.Done():
					stopped = true
				case sem <- struct{}{}:
				}
			}
			if stopped {
				job.recordFailure(i, values[i], "job stopped before dispatch")
				job.failed.Add(1)
				continue
			}
			wg.Add(1)
			go func(i int, value string) {
				defer wg.Done()
				defer func() { <-sem }()

				ind, err := indicator.Parse(value)
				if err != nil {
					job.recordFailure(i, value, err.Error())
					job.failed.Add(1)
					return
				}
				a, err := o.analyze(ctx, ind, cfg.Depth)
				if err != nil {
					job.recordFailure(i, value, err.Error())
					job.failed.Add(1)
					return
				}
				job.recordSuccess(i, value, a)
				job.completed.Add(1)
				riskMu.Lock()
				riskCounts[a.RiskLevel]++
				riskMu.Unlock()
			}(i, values[i])
		}
	}
	wg.Wait()

	elapsed := time.Since(started)
	hitRatio := 0.0
	dh := o.cstats.Hits() - hits0
	dm := o.cstats.Misses() - misses0
	if dh+dm > 0 {
		hitRatio = float64(dh) / float64(dh+dm)
	}

	job.mu.Lock()
	if stopped {
		job.status = StatusStopped
	} else {
		job.status = StatusCompleted
	}
	job.stats = Stats{
		RiskCounts:    riskCounts,
		PerSecond:     float64(job.Total) / elapsed.Seconds(),
		CacheHitRatio: hitRatio,
		Elapsed:       elapsed,
	}
	status := job.status
	job.mu.Unlock()

	metrics.BulkJobsTotal.WithLabelValues(string(status)).Inc()
	o.log.Info("bulk job finished",
		"job", job.ID,
		"status", status,
		"total", job.Total,
		"completed", job.Completed(),
		"failed", job.Failed(),
		"elapsed", elapsed,
	)
	close(job.done)
}

func (j *Job) recordSuccess(i int, value string, a *intel.Assessment) {
	j.mu.Lock()
	j.results[i] = Result{Index: i, Value: value, Assessment: a}
	j.mu.Unlock()
}

func (j *Job) recordFailure(i int, value, msg string) {
	j.mu.Lock()
	j.results[i] = Result{Index: i, Value: value, Error: msg}
	j.mu.Unlock()
}
