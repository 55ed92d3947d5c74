package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
	"github.com/vantagesec/verdict/internal/trend"
)

// ReportConfig controls report composition.
type ReportConfig struct {
	// Depth defaults to deep; reports are meant to carry technical detail.
	Depth            intel.Depth
	IncludeTrends    bool
	TrendWindowHours int
}

// ExecutiveSummary is the counts-and-bullets view for readers who stop at
// the first page.
type ExecutiveSummary struct {
	TotalIndicators int                     `json:"total_indicators"`
	RiskCounts      map[intel.RiskLevel]int `json:"risk_counts"`
	KeyFindings     []string                `json:"key_findings"`
}

// Report is the composed threat report.
type Report struct {
	ID              string              `json:"id"`
	GeneratedAt     time.Time           `json:"generated_at"`
	Summary         ExecutiveSummary    `json:"summary"`
	Assessments     []*intel.Assessment `json:"assessments"`
	TrendContext    *trend.Snapshot     `json:"trend_context,omitempty"`
	Recommendations []string            `json:"recommendations"`
}

// AnalyzeFunc runs one indicator through the cache-backed pipeline.
type AnalyzeFunc func(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error)

// Reporter composes deep assessments plus trend context into a structured
// report.
type Reporter struct {
	analyze AnalyzeFunc
	trends  *trend.Analyzer
	log     *logging.Logger
}

func NewReporter(analyze AnalyzeFunc, trends *trend.Analyzer, log *logging.Logger) *Reporter {
	return &Reporter{analyze: analyze, trends: trends, log: log}
}

func (r *Reporter) Generate(ctx context.Context, indicators []indicator.Indicator, cfg ReportConfig) (*Report, error) {
	if len(indicators) == 0 {
		return nil, fmt.Errorf("report needs at least one indicator")
	}
	if cfg.Depth == "" {
		cfg.Depth = intel.DepthDeep
	}

	var assessments []*intel.Assessment
	riskCounts := make(map[intel.RiskLevel]int)
	for _, ind := range indicators {
		a, err := r.analyze(ctx, ind, cfg.Depth)
		if err != nil {
			r.log.Warn("report analysis failed, skipping indicator", "indicator", ind.Value, "err", err)
			continue
		}
		assessments = append(assessments, a)
		riskCounts[a.RiskLevel]++
	}

	sort.Slice(assessments, func(i, j int) bool {
		return assessments[i].Score > assessments[j].Score
	})

	rep := &Report{
		ID:          uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		Summary: ExecutiveSummary{
			TotalIndicators: len(assessments),
			RiskCounts:      riskCounts,
			KeyFindings:     keyFindings(assessments),
		},
		Assessments:     assessments,
		Recommendations: recommendations(assessments),
	}

	if cfg.IncludeTrends {
		window := cfg.TrendWindowHours
		if window == 0 {
			window = 24
		}
		snap, err := r.trends.Analyze(window)
		if err != nil {
			r.log.Warn("trend context unavailable for report", "err", err)
		} else {
			rep.TrendContext = snap
		}
	}
	return rep, nil
}

func keyFindings(assessments []*intel.Assessment) []string {
	var out []string
	for _, a := range assessments {
		if a.RiskLevel != intel.RiskMalicious && a.RiskLevel != intel.RiskHigh {
			continue
		}
		line := fmt.Sprintf("%s %s scored %.0f (%s)", a.Indicator.Kind, a.Indicator.Value, a.Score, a.RiskLevel)
		if len(a.ThreatContext.ActorIDs) > 0 {
			line += ", attributed to " + strings.Join(a.ThreatContext.ActorIDs, ", ")
		}
		out = append(out, line)
		if len(out) == 10 {
			break
		}
	}
	if len(out) == 0 && len(assessments) > 0 {
		out = append(out, fmt.Sprintf("no high-risk indicators among %d analyzed", len(assessments)))
	}
	return out
}

// recommendations dedupes per-assessment actions, highest risk first.
func recommendations(assessments []*intel.Assessment) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, a := range assessments {
		for _, action := range a.RecommendedActions {
			if _, ok := seen[action]; ok {
				continue
			}
			seen[action] = struct{}{}
			out = append(out, action)
		}
	}
	return out
}
