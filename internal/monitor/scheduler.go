package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
)

var (
	ErrNotFound      = errors.New("monitor job not found")
	ErrInvalidConfig = errors.New("invalid monitor config")
)

// Config controls one monitor job.
type Config struct {
	Interval       time.Duration
	AlertThreshold float64
	Depth          intel.Depth
	// RecoveryAlerts also fires on the downward crossing. Default off:
	// upward-only matches the common paging setup.
	RecoveryAlerts bool
	Channels       []Notifier
}

func (c Config) validate() error {
	if c.Interval < time.Second {
		return fmt.Errorf("%w: interval must be at least 1s", ErrInvalidConfig)
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		return fmt.Errorf("%w: alert_threshold must be in [0,100]", ErrInvalidConfig)
	}
	return nil
}

// JobStatus is the monitor job state machine: active ⇄ paused → stopped.
type JobStatus string

const (
	StatusActive  JobStatus = "active"
	StatusPaused  JobStatus = "paused"
	StatusStopped JobStatus = "stopped"
)

// Job is a recurring re-check over a fixed indicator set. lastScores is
// scoped to the job: two jobs watching the same indicator keep independent
// baselines and do not interfere.
type Job struct {
	ID         string
	Indicators []indicator.Indicator

	cfg Config

	mu          sync.Mutex
	status      JobStatus
	lastScores  map[string]float64
	nextCheckAt time.Time

	cancel context.CancelFunc
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

func (j *Job) NextCheckAt() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.nextCheckAt
}

// LastScore returns the job's last observed score for an indicator.
func (j *Job) LastScore(ind indicator.Indicator) (float64, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	s, ok := j.lastScores[ind.Key()]
	return s, ok
}

// AnalyzeFunc runs one indicator through the cache-backed pipeline.
type AnalyzeFunc func(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error)

// Scheduler owns all monitor jobs and their tick loops.
type Scheduler struct {
	analyze AnalyzeFunc
	log     *logging.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewScheduler(analyze AnalyzeFunc, log *logging.Logger) *Scheduler {
	return &Scheduler{analyze: analyze, log: log, jobs: make(map[string]*Job)}
}

// Setup creates and starts a monitor job.
func (s *Scheduler) Setup(indicators []indicator.Indicator, cfg Config) (*Job, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(indicators) == 0 {
		return nil, fmt.Errorf("%w: no indicators to monitor", ErrInvalidConfig)
	}
	if cfg.Depth == "" {
		cfg.Depth = intel.DepthStandard
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:          uuid.NewString(),
		Indicators:  indicators,
		cfg:         cfg,
		status:      StatusActive,
		lastScores:  make(map[string]float64),
		nextCheckAt: time.Now().Add(cfg.Interval),
		cancel:      cancel,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	go s.loop(ctx, job)
	s.log.Info("monitor job started", "job", job.ID, "indicators", len(indicators), "interval", cfg.Interval)
	return job, nil
}

func (s *Scheduler) Get(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job, nil
}

// Pause suspends ticking; the job keeps its score baselines.
func (s *Scheduler) Pause(id string) error { return s.transition(id, StatusPaused) }

// Resume reactivates a paused job.
func (s *Scheduler) Resume(id string) error { return s.transition(id, StatusActive) }

// Stop terminates the job. Terminal: a stopped job cannot be resumed.
func (s *Scheduler) Stop(id string) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	job.mu.Lock()
	job.status = StatusStopped
	job.mu.Unlock()
	job.cancel()
	return nil
}

func (s *Scheduler) transition(id string, to JobStatus) error {
	job, err := s.Get(id)
	if err != nil {
		return err
	}
	job.mu.Lock()
	defer job.mu.Unlock()
	if job.status == StatusStopped {
		return fmt.Errorf("monitor job %s is stopped", id)
	}
	job.status = to
	return nil
}

// loop schedules ticks without overlap: the timer is reset only after the
// previous tick's analyses have all returned, so slow sources delay the next
// check instead of piling ticks up.
func (s *Scheduler) loop(ctx context.Context, job *Job) {
	timer := time.NewTimer(job.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if job.Status() == StatusActive {
			s.runTick(ctx, job)
		}

		job.mu.Lock()
		job.nextCheckAt = time.Now().Add(job.cfg.Interval)
		job.mu.Unlock()
		timer.Reset(job.cfg.Interval)
	}
}

// runTick re-analyzes every tracked indicator sequentially and fires alerts
// on edge transitions only. A score that stays above the threshold across
// ticks does not re-fire.
func (s *Scheduler) runTick(ctx context.Context, job *Job) {
	for _, ind := range job.Indicators {
		if ctx.Err() != nil {
			return
		}
		a, err := s.analyze(ctx, ind, job.cfg.Depth)
		if err != nil {
			s.log.Warn("monitor analysis failed", "job", job.ID, "indicator", ind.Value, "err", err)
			continue
		}

		key := ind.Key()
		job.mu.Lock()
		prev, seen := job.lastScores[key]
		job.lastScores[key] = a.Score
		job.mu.Unlock()

		if !seen {
			continue // first observation establishes the baseline
		}

		th := job.cfg.AlertThreshold
		switch {
		case prev < th && a.Score >= th:
			s.dispatch(ctx, job, alertFrom(job, ind, prev, a, DirectionCrossedUp))
		case job.cfg.RecoveryAlerts && prev >= th && a.Score < th:
			s.dispatch(ctx, job, alertFrom(job, ind, prev, a, DirectionRecovered))
		}
	}
}

func alertFrom(job *Job, ind indicator.Indicator, prev float64, a *intel.Assessment, direction string) Alert {
	return Alert{
		JobID:         job.ID,
		Indicator:     ind,
		PreviousScore: prev,
		NewScore:      a.Score,
		Threshold:     job.cfg.AlertThreshold,
		Direction:     direction,
		RiskLevel:     a.RiskLevel,
		FiredAt:       time.Now().UTC(),
	}
}

func (s *Scheduler) dispatch(ctx context.Context, job *Job, alert Alert) {
	for _, ch := range job.cfg.Channels {
		if err := ch.Notify(ctx, alert); err != nil {
			s.log.Warn("alert delivery failed", "job", job.ID, "channel", ch.Name(), "err", err)
		}
	}
}
