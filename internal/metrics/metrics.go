package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vantagesec/verdict/internal/health"
	"go.uber.org/zap"
)

var (
	AnalysesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "verdict_analyses_total", Help: "completed reputation analyses"}, []string{"depth", "risk_level"})
	SourceQueries = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "verdict_source_queries_total", Help: "reputation source queries"}, []string{"source", "status"})
	CacheHits     = prometheus.NewCounter(prometheus.CounterOpts{Name: "verdict_cache_hits_total", Help: "assessment cache hits"})
	CacheMisses   = prometheus.NewCounter(prometheus.CounterOpts{Name: "verdict_cache_misses_total", Help: "assessment cache misses"})
	AlertsTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "verdict_alerts_total", Help: "monitor alerts dispatched"}, []string{"channel", "status"})
	AnalysisSecs  = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "verdict_analysis_duration_seconds", Help: "end-to-end analysis latency", Buckets: prometheus.DefBuckets})
	BulkJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "verdict_bulk_jobs_total", Help: "bulk jobs by terminal status"}, []string{"status"})
)

func init() {
	prometheus.MustRegister(AnalysesTotal, SourceQueries, CacheHits, CacheMisses, AlertsTotal, AnalysisSecs, BulkJobsTotal)
}

func Serve(addr string, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", healthHandler.HealthHandler)
	http.HandleFunc("/ready", healthHandler.ReadinessHandler)
	http.HandleFunc("/live", healthHandler.LivenessHandler)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Warn("metrics server stopped", "err", err)
	}
}
