package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

type capturingChannel struct {
	mu     sync.Mutex
	alerts []Alert
}

func (c *capturingChannel) Name() string { return "capture" }

func (c *capturingChannel) Notify(_ context.Context, a Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *capturingChannel) all() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Alert, len(c.alerts))
	copy(out, c.alerts)
	return out
}

// scriptedAnalyze replays a fixed score sequence, one score per call.
func scriptedAnalyze(scores []float64) AnalyzeFunc {
	var mu sync.Mutex
	i := 0
	return func(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(scores) {
			return nil, errors.New("script exhausted")
		}
		s := scores[i]
		i++
		return &intel.Assessment{
			Indicator:   ind,
			Depth:       depth,
			Score:       s,
			RiskLevel:   intel.RiskLevelFromScore(s),
			GeneratedAt: time.Now(),
		}, nil
	}
}

func setupJob(t *testing.T, analyze AnalyzeFunc, cfg Config) (*Scheduler, *Job) {
	t.Helper()
	s := NewScheduler(analyze, zap.NewNop().Sugar())
	ind, err := indicator.Parse("example.com")
	if err != nil {
		t.Fatal(err)
	}
	// Long interval keeps the background loop idle; ticks are driven by hand.
	cfg.Interval = time.Hour
	job, err := s.Setup([]indicator.Indicator{ind}, cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Stop(job.ID) })
	return s, job
}

func TestRunTick_EdgeTriggeredAlerts(t *testing.T) {
	ch := &capturingChannel{}
	// Scores 10, 60, 40, 70 against threshold 50: two upward crossings
	// (10->60 and 40->70), and the first observation never alerts.
	s, job := setupJob(t, scriptedAnalyze([]float64{10, 60, 40, 70}), Config{
		AlertThreshold: 50,
		Depth:          intel.DepthStandard,
		Channels:       []Notifier{ch},
	})

	for i := 0; i < 4; i++ {
		s.runTick(context.Background(), job)
	}

	alerts := ch.all()
	if len(alerts) != 2 {
		t.Fatalf("expected exactly 2 alerts, got %d: %+v", len(alerts), alerts)
	}
	for i, a := range alerts {
		if a.Direction != DirectionCrossedUp {
			t.Errorf("alert %d: expected crossed_up, got %s", i, a.Direction)
		}
	}
	if alerts[0].PreviousScore != 10 || alerts[0].NewScore != 60 {
		t.Errorf("first alert: expected 10 -> 60, got %v -> %v", alerts[0].PreviousScore, alerts[0].NewScore)
	}
	if alerts[1].PreviousScore != 40 || alerts[1].NewScore != 70 {
		t.Errorf("second alert: expected 40 -> 70, got %v -> %v", alerts[1].PreviousScore, alerts[1].NewScore)
	}
}

func TestRunTick_SustainedHighScoreDoesNotRefire(t *testing.T) {
	ch := &capturingChannel{}
	s, job := setupJob(t, scriptedAnalyze([]float64{20, 80, 85, 90}), Config{
		AlertThreshold: 50,
		Channels:       []Notifier{ch},
	})

	for i := 0; i < 4; i++ {
		s.runTick(context.Background(), job)
	}
	if got := len(ch.all()); got != 1 {
		t.Errorf("expected a single alert for the initial crossing, got %d", got)
	}
}

func TestRunTick_RecoveryAlertsOptIn(t *testing.T) {
	ch := &capturingChannel{}
	s, job := setupJob(t, scriptedAnalyze([]float64{70, 30}), Config{
		AlertThreshold: 50,
		RecoveryAlerts: true,
		Channels:       []Notifier{ch},
	})

	s.runTick(context.Background(), job)
	s.runTick(context.Background(), job)

	alerts := ch.all()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 recovery alert, got %d", len(alerts))
	}
	if alerts[0].Direction != DirectionRecovered {
		t.Errorf("expected recovered, got %s", alerts[0].Direction)
	}
}

func TestRunTick_AnalysisFailureKeepsBaseline(t *testing.T) {
	ch := &capturingChannel{}
	var calls int
	var mu sync.Mutex
	analyze := func(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 2:
			return nil, errors.New("sources unavailable")
		case 3:
			return &intel.Assessment{Indicator: ind, Score: 90, RiskLevel: intel.RiskMalicious}, nil
		default:
			return &intel.Assessment{Indicator: ind, Score: 10, RiskLevel: intel.RiskClean}, nil
		}
	}
	s, job := setupJob(t, analyze, Config{AlertThreshold: 50, Channels: []Notifier{ch}})

	for i := 0; i < 3; i++ {
		s.runTick(context.Background(), job)
	}
	// Baseline 10 survives the failed tick, so the jump to 90 still alerts.
	if got := len(ch.all()); got != 1 {
		t.Errorf("expected 1 alert after failed tick, got %d", got)
	}
}

func TestSetup_RejectsInvalidConfig(t *testing.T) {
	s := NewScheduler(scriptedAnalyze(nil), zap.NewNop().Sugar())
	ind, _ := indicator.Parse("example.com")

	cases := []Config{
		{Interval: 100 * time.Millisecond, AlertThreshold: 50},
		{Interval: time.Minute, AlertThreshold: -1},
		{Interval: time.Minute, AlertThreshold: 101},
	}
	for i, cfg := range cases {
		if _, err := s.Setup([]indicator.Indicator{ind}, cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("case %d: expected ErrInvalidConfig, got %v", i, err)
		}
	}
	if _, err := s.Setup(nil, Config{Interval: time.Minute, AlertThreshold: 50}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty indicator set: expected ErrInvalidConfig, got %v", err)
	}
}

func TestLifecycle_PauseResumeStop(t *testing.T) {
	s, job := setupJob(t, scriptedAnalyze([]float64{10}), Config{AlertThreshold: 50})

	if job.Status() != StatusActive {
		t.Fatalf("expected active, got %s", job.Status())
	}
	if err := s.Pause(job.ID); err != nil {
		t.Fatal(err)
	}
	if job.Status() != StatusPaused {
		t.Errorf("expected paused, got %s", job.Status())
	}

	if err := s.Resume(job.ID); err != nil {
		t.Fatal(err)
	}
	if job.Status() != StatusActive {
		t.Errorf("expected active after resume, got %s", job.Status())
	}

	if err := s.Stop(job.ID); err != nil {
		t.Fatal(err)
	}
	if job.Status() != StatusStopped {
		t.Errorf("expected stopped, got %s", job.Status())
	}
	if err := s.Resume(job.ID); err == nil {
		t.Error("expected resume of a stopped job to fail")
	}
}

func TestScheduler_UnknownJob(t *testing.T) {
	s := NewScheduler(scriptedAnalyze(nil), zap.NewNop().Sugar())
	if err := s.Pause("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
