// Package engine is the single point of contact for request-routing and
// persistence collaborators: plain structured data in, plain structured data
// out, no transport anywhere.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/vantagesec/verdict/internal/bulk"
	"github.com/vantagesec/verdict/internal/cache"
	"github.com/vantagesec/verdict/internal/circuitbreaker"
	"github.com/vantagesec/verdict/internal/config"
	"github.com/vantagesec/verdict/internal/health"
	"github.com/vantagesec/verdict/internal/httpclient"
	"github.com/vantagesec/verdict/internal/hunt"
	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
	"github.com/vantagesec/verdict/internal/metrics"
	"github.com/vantagesec/verdict/internal/monitor"
	"github.com/vantagesec/verdict/internal/rate"
	"github.com/vantagesec/verdict/internal/report"
	"github.com/vantagesec/verdict/internal/scoring"
	"github.com/vantagesec/verdict/internal/source"
	"github.com/vantagesec/verdict/internal/trend"
)

// Engine wires the aggregation, scoring, caching and scheduling subsystems.
type Engine struct {
	agg      *source.Aggregator
	scorer   *scoring.Engine
	cache    *cache.Cache
	bulkOrch *bulk.Orchestrator
	hunter   *hunt.Hunter
	sched    *monitor.Scheduler
	hist     *trend.History
	trends   *trend.Analyzer
	reporter *report.Reporter
	exporter *report.Exporter
	log      *logging.Logger
	started  time.Time
}

// New builds an engine from pre-constructed components. Most callers want
// NewFromConfig.
func New(agg *source.Aggregator, scorer *scoring.Engine, c *cache.Cache, hist *trend.History, exporter *report.Exporter, log *logging.Logger) *Engine {
	e := &Engine{
		agg:      agg,
		scorer:   scorer,
		cache:    c,
		hist:     hist,
		exporter: exporter,
		log:      log,
		started:  time.Now(),
	}
	c.AddSink(hist)
	e.bulkOrch = bulk.NewOrchestrator(e.Analyze, c, log)
	e.hunter = hunt.New(hist, e.Analyze, log)
	e.sched = monitor.NewScheduler(e.Analyze, log)
	e.trends = trend.NewAnalyzer(hist)
	e.reporter = report.NewReporter(e.Analyze, e.trends, log)
	return e
}

// NewFromConfig assembles the full engine: source registry, limiters,
// breakers, cache stores and exporter, all per configuration.
func NewFromConfig(cfg *config.Config, stores map[intel.Depth]cache.Store, log *logging.Logger) (*Engine, error) {
	reg := source.NewRegistry()
	client := httpclient.Default()
	ratelim := rate.New(10, 5)

	for _, sc := range cfg.Sources {
		timeout := time.Duration(sc.TimeoutMS) * time.Millisecond
		var s source.Source
		switch sc.Type {
		case "dnsbl":
			s = source.NewDNSBL(sc.Name, sc.Zone, sc.Reliability, timeout, sc.DeepOnly)
		case "http":
			s = source.NewHTTPFeed(sc.Name, sc.URL, sc.APIKey, sc.Reliability, timeout, sc.DeepOnly, client)
		case "rules":
			r := source.NewRules(sc.Name, sc.Reliability, timeout)
			if sc.FeedFile != "" {
				n, err := r.LoadFeed(sc.FeedFile)
				if err != nil {
					return nil, fmt.Errorf("source %s: load feed: %w", sc.Name, err)
				}
				log.Info("loaded rules feed", "source", sc.Name, "entries", n)
			}
			s = r
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", sc.Name, sc.Type)
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
		ratelim.SetLimit(sc.Name, sc.RatePerSec, sc.Burst)
	}

	agg := source.NewAggregator(reg, ratelim, circuitbreaker.NewSourceBreakers(nil), log)
	c := cache.New(stores)
	hist := trend.NewHistory(cfg.HistoryMaxEntries, time.Duration(cfg.HistoryMaxAgeHours)*time.Hour)
	exporter, err := report.NewExporter(cfg.ExportDir, time.Duration(cfg.ExportTTLHours)*time.Hour, log)
	if err != nil {
		return nil, err
	}

	return New(agg, scoring.New(), c, hist, exporter, log), nil
}

// Analyze is the cache-backed pipeline every operation funnels through.
func (e *Engine) Analyze(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error) {
	return e.cache.GetOrCompute(ctx, ind, depth, func(cctx context.Context) (*intel.Assessment, error) {
		tr := otel.Tracer("verdict/engine")
		cctx, span := tr.Start(cctx, "Analyze")
		defer span.End()

		started := time.Now()
		res := e.agg.Collect(cctx, ind, depth)
		a := e.scorer.Evaluate(ind, depth, res.Findings, res.Configured)

		metrics.AnalysesTotal.WithLabelValues(string(depth), string(a.RiskLevel)).Inc()
		metrics.AnalysisSecs.Observe(time.Since(started).Seconds())
		return a, nil
	})
}

// CheckReputation assesses one indicator value at the given depth.
func (e *Engine) CheckReputation(ctx context.Context, value string, depth intel.Depth) (*intel.Assessment, error) {
	ind, err := indicator.Parse(value)
	if err != nil {
		return nil, err
	}
	if depth == "" {
		depth = intel.DepthStandard
	}
	switch depth {
	case intel.DepthStandard, intel.DepthDeep, intel.DepthForensic:
	default:
		return nil, fmt.Errorf("unknown analysis depth %q", depth)
	}
	return e.Analyze(ctx, ind, depth)
}

// BulkCheck submits a batch job; poll it via BulkJob or wait on Job.Done().
func (e *Engine) BulkCheck(values []string, cfg bulk.Config) (*bulk.Job, error) {
	return e.bulkOrch.Submit(values, cfg)
}

// BulkJob returns a pollable job by id.
func (e *Engine) BulkJob(id string) (*bulk.Job, error) { return e.bulkOrch.Get(id) }

// StopBulk cancels dispatching for a bulk job; in-flight analyses finish.
func (e *Engine) StopBulk(id string) error { return e.bulkOrch.Stop(id) }

// HuntThreats runs a declarative hunt over cached and refreshed assessments.
func (e *Engine) HuntThreats(ctx context.Context, q hunt.Query) (*hunt.Result, error) {
	return e.hunter.Hunt(ctx, q)
}

// SetupMonitoring starts periodic re-checks over the given indicator values.
// Malformed values are fatal here: a monitor over garbage is a config error.
func (e *Engine) SetupMonitoring(values []string, cfg monitor.Config) (*monitor.Job, error) {
	inds := make([]indicator.Indicator, 0, len(values))
	for _, v := range values {
		ind, err := indicator.Parse(v)
		if err != nil {
			return nil, err
		}
		inds = append(inds, ind)
	}
	if len(cfg.Channels) == 0 {
		cfg.Channels = []monitor.Notifier{monitor.NewLogChannel(e.log)}
	}
	return e.sched.Setup(inds, cfg)
}

func (e *Engine) PauseMonitor(id string) error  { return e.sched.Pause(id) }
func (e *Engine) ResumeMonitor(id string) error { return e.sched.Resume(id) }
func (e *Engine) StopMonitor(id string) error   { return e.sched.Stop(id) }

// GenerateThreatReport composes deep assessments and trend context.
func (e *Engine) GenerateThreatReport(ctx context.Context, values []string, cfg report.ReportConfig) (*report.Report, error) {
	inds := make([]indicator.Indicator, 0, len(values))
	for _, v := range values {
		ind, err := indicator.Parse(v)
		if err != nil {
			return nil, err
		}
		inds = append(inds, ind)
	}
	return e.reporter.Generate(ctx, inds, cfg)
}

// AnalyzeTrends aggregates the trailing window of assessment history.
func (e *Engine) AnalyzeTrends(windowHours int) (*trend.Snapshot, error) {
	return e.trends.Analyze(windowHours)
}

// ExportData analyzes the given indicators and packages the assessments
// into a time-bounded artifact with compliance metadata.
func (e *Engine) ExportData(ctx context.Context, values []string, cfg report.ExportConfig) (*report.ExportJob, error) {
	var assessments []*intel.Assessment
	for _, v := range values {
		ind, err := indicator.Parse(v)
		if err != nil {
			return nil, err
		}
		a, err := e.Analyze(ctx, ind, intel.DepthDeep)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return e.exporter.Export(assessments, cfg)
}

// OpenExport resolves an export id, enforcing artifact expiry.
func (e *Engine) OpenExport(id string) (string, error) { return e.exporter.Open(id) }

// SourceStatus is the per-source slice of the health report.
type SourceStatus struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Reliability  float64 `json:"reliability"`
	CircuitState string  `json:"circuit_state"`
	Requests     uint32  `json:"requests"`
	Failures     uint32  `json:"failures"`
}

// Health is the engine health snapshot.
type Health struct {
	UptimeSeconds float64        `json:"uptime_seconds"`
	CacheHitRate  float64        `json:"cache_hit_rate"`
	HistorySize   int            `json:"history_size"`
	Sources       []SourceStatus `json:"sources"`
}

// HealthStatus reports uptime, cache effectiveness and per-source state.
func (e *Engine) HealthStatus() Health {
	h := Health{
		UptimeSeconds: time.Since(e.started).Seconds(),
		CacheHitRate:  e.cache.HitRate(),
		HistorySize:   e.hist.Len(),
	}
	for _, s := range e.agg.Sources().List() {
		st := SourceStatus{
			Name:         s.Name(),
			Type:         s.Type(),
			Reliability:  s.Reliability(),
			CircuitState: e.agg.Breakers().State(s.Name()).String(),
		}
		stats := e.agg.Breakers().Stats()
		if bs, ok := stats[s.Name()]; ok {
			st.Requests = bs.Requests
			st.Failures = bs.Failures
		}
		h.Sources = append(h.Sources, st)
	}
	return h
}

// RegisterHealthCheckers wires engine internals into the HTTP health handler.
func (e *Engine) RegisterHealthCheckers(handler *health.Handler) {
	handler.RegisterChecker("cache", health.NewCacheChecker(e.cache.HitRate))
	for _, s := range e.agg.Sources().List() {
		name := s.Name()
		handler.RegisterChecker("source:"+name, health.NewSourceChecker(func() string {
			return e.agg.Breakers().State(name).String()
		}))
	}
}
