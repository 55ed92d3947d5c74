package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/vantagesec/verdict/internal/bulk"
	"github.com/vantagesec/verdict/internal/cache"
	"github.com/vantagesec/verdict/internal/config"
	"github.com/vantagesec/verdict/internal/engine"
	"github.com/vantagesec/verdict/internal/health"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
	"github.com/vantagesec/verdict/internal/metrics"
	"github.com/vantagesec/verdict/internal/monitor"
	"github.com/vantagesec/verdict/internal/queue"
	"github.com/vantagesec/verdict/internal/report"
	"github.com/vantagesec/verdict/internal/telemetry"
)

func main() {
	var configFile string
	var indicatorsFile string
	var depth string
	var batchSize int
	var maxConcurrent int
	var outputFormat string
	var metricsAddr string
	var exportDir string
	var otelEndpoint string
	var otelInsecure bool
	var otelService string
	var watch bool
	var watchIntervalSec int
	var alertThreshold float64
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&indicatorsFile, "indicators", "", "path to newline-separated indicators (IPs, domains, URLs, hashes)")
	flag.StringVar(&depth, "depth", "standard", "analysis depth (standard, deep, forensic)")
	flag.IntVar(&batchSize, "batch_size", 0, "indicators per batch")
	flag.IntVar(&maxConcurrent, "max_concurrent", 0, "concurrent analyses across the job")
	flag.StringVar(&outputFormat, "output_format", "jsonl", "output format (json, jsonl, csv)")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&exportDir, "export_dir", "", "directory for export artifacts")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.BoolVar(&watch, "watch", false, "keep monitoring the indicators after the initial analysis")
	flag.IntVar(&watchIntervalSec, "watch_interval_sec", 0, "monitor re-check interval in seconds")
	flag.Float64Var(&alertThreshold, "alert_threshold", 60, "monitor alert threshold (0-100)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "VERDICT (Verdict Engine for Reputation Data and Intelligence Correlation)\n")
		fmt.Fprintf(os.Stderr, "Aggregates reputation sources into scored, explainable threat assessments\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -indicators=iocs.txt -depth=deep\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=config.yaml -output_format=csv > assessments.csv\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -indicators=iocs.txt -watch -watch_interval_sec=300\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  REDIS_ADDR       Redis server for the shared assessment cache\n")
		fmt.Fprintf(os.Stderr, "  REDIS_QUEUE_ADDR Redis server for the indicator intake queue\n")
		fmt.Fprintf(os.Stderr, "  VERDICT_API_KEY  Default API key for http sources\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("VERDICT Engine v1.0.0")
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	ctx := context.Background()
	log := logging.New()
	defer log.Sync()

	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			log.Fatal("failed to load config file", "file", configFile, "err", err)
		}
		log.Info("loaded config from file", "file", configFile)
	} else {
		cfg = &config.Config{}
		cfg.SetDefaults()
	}

	cfg.LoadFromEnv()

	flags := make(map[string]interface{})
	if batchSize > 0 {
		flags["batch_size"] = batchSize
	}
	if maxConcurrent > 0 {
		flags["max_concurrent"] = maxConcurrent
	}
	if metricsAddr != "" {
		flags["metrics_addr"] = metricsAddr
	}
	if exportDir != "" {
		flags["export_dir"] = exportDir
	}
	if otelEndpoint != "" {
		flags["otel_endpoint"] = otelEndpoint
	}
	if otelService != "" {
		flags["otel_service"] = otelService
	}
	if watchIntervalSec > 0 {
		flags["monitor_interval_sec"] = watchIntervalSec
	}
	flags["otel_insecure"] = otelInsecure
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", "err", err)
	}

	if indicatorsFile == "" && cfg.RedisQueueAddr == "" {
		flag.Usage()
		os.Exit(1)
	}

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warn("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler(log)
	healthHandler.SetMetadata("engine", cfg.Engine)
	healthHandler.SetMetadata("run", cfg.Run)
	healthHandler.SetMetadata("version", "1.0.0")

	if cfg.MetricsAddr != "" {
		go metrics.ServeWithHealth(cfg.MetricsAddr, healthHandler, log)
		log.Info("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	// Cache stores: shared Redis when configured, per-depth in-memory LRUs
	// otherwise.
	var stores map[intel.Depth]cache.Store
	if cfg.RedisAddr != "" {
		var rd *cache.Redis
		stores, rd, err = cache.RedisStores(cfg.RedisAddr,
			time.Duration(cfg.CacheTTLStandardSec)*time.Second,
			time.Duration(cfg.CacheTTLDeepSec)*time.Second,
			time.Duration(cfg.CacheTTLForensicSec)*time.Second,
		)
		if err != nil {
			log.Fatal("redis cache init", "err", err)
		}
		healthHandler.RegisterChecker("redis", health.NewRedisChecker(cfg.RedisAddr, rd.Ping))
		log.Info("redis cache enabled", "addr", cfg.RedisAddr)
	} else {
		stores = cache.MemoryStores(cfg.CacheMaxEntries,
			time.Duration(cfg.CacheTTLStandardSec)*time.Second,
			time.Duration(cfg.CacheTTLDeepSec)*time.Second,
			time.Duration(cfg.CacheTTLForensicSec)*time.Second,
		)
		log.Info("memory cache enabled", "entries", cfg.CacheMaxEntries)
	}

	eng, err := engine.NewFromConfig(cfg, stores, log)
	if err != nil {
		log.Fatal("engine init", "err", err)
	}
	eng.RegisterHealthCheckers(healthHandler)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	values, err := collectIndicators(ctx, indicatorsFile, cfg, log)
	if err != nil {
		log.Fatal("collect indicators", "err", err)
	}
	if len(values) == 0 {
		log.Fatal("no indicators to analyze")
	}

	log.Info("starting verdict",
		"engine", cfg.Engine,
		"run", cfg.Run,
		"indicators", len(values),
		"depth", depth,
		"max_concurrent", cfg.MaxConcurrent,
	)
	healthHandler.SetReady(true)

	job, err := eng.BulkCheck(values, bulk.Config{
		BatchSize:     cfg.BatchSize,
		MaxConcurrent: cfg.MaxConcurrent,
		Depth:         intel.Depth(depth),
	})
	if err != nil {
		log.Fatal("bulk submit", "err", err)
	}

	select {
	case <-job.Done():
	case <-ctx.Done():
		_ = eng.StopBulk(job.ID)
		job.Wait()
	}

	stats := job.Stats()
	log.Info("bulk analysis complete",
		"completed", job.Completed(),
		"failed", job.Failed(),
		"per_second", fmt.Sprintf("%.1f", stats.PerSecond),
		"cache_hit_ratio", fmt.Sprintf("%.2f", stats.CacheHitRatio),
	)

	format, err := report.ParseFormat(outputFormat)
	if err != nil {
		log.Fatal("output format", "err", err)
	}
	var assessments []*intel.Assessment
	for _, r := range job.Results() {
		if r.Assessment != nil {
			assessments = append(assessments, r.Assessment)
		}
	}
	if err := report.NewWriter(format, os.Stdout).WriteAssessments(assessments); err != nil {
		log.Error("write output", "err", err)
	}

	if watch && ctx.Err() == nil {
		mjob, err := eng.SetupMonitoring(values, monitor.Config{
			Interval:       time.Duration(cfg.MonitorIntervalSec) * time.Second,
			AlertThreshold: alertThreshold,
			Depth:          intel.Depth(depth),
			RecoveryAlerts: cfg.RecoveryAlerts,
		})
		if err != nil {
			log.Fatal("setup monitoring", "err", err)
		}
		log.Info("monitoring", "job", mjob.ID, "interval_sec", cfg.MonitorIntervalSec, "threshold", alertThreshold)
		<-ctx.Done()
		_ = eng.StopMonitor(mjob.ID)
	}

	log.Info("shutdown complete")
}

// collectIndicators reads the input file, or drains the Redis intake queue
// until it is empty when no file is given.
func collectIndicators(ctx context.Context, file string, cfg *config.Config, log *logging.Logger) ([]string, error) {
	var values []string

	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 1024), 1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			values = append(values, line)
		}
		return values, sc.Err()
	}

	q, err := queue.NewRedis(cfg.RedisQueueAddr, cfg.RedisQueueKey, 120*time.Second)
	if err != nil {
		return nil, err
	}
	log.Info("redis intake enabled", "addr", cfg.RedisQueueAddr, "key", cfg.RedisQueueKey)
	errStreak := 0
	for {
		if ctx.Err() != nil {
			return values, nil
		}
		value, ack, err := q.Lease(ctx)
		if err != nil {
			errStreak++
			if errStreak >= 5 {
				return values, fmt.Errorf("redis intake: %w", err)
			}
			log.Warn("intake lease failed, retrying", "attempt", errStreak, "err", err)
			time.Sleep(time.Second)
			continue
		}
		errStreak = 0
		if value == "" {
			return values, nil // queue drained
		}
		values = append(values, value)
		_ = ack()
	}
}
