// Package scoring combines per-source findings into one scored, explainable
// assessment. All of it is documented statistical aggregation: reliability
// weighted means with exponential recency decay and a variance-based
// confidence penalty. There is no learned model anywhere in here.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

// decayLambda controls exponential recency decay per hour of finding age.
// A day-old finding keeps ~30% of its weight, a week-old one effectively none.
const decayLambda = 0.05

// disagreementPenalty caps how much verdict disagreement can reduce
// confidence. Full disagreement halves it rather than zeroing it, so a
// split decision still reads as "we heard back" rather than "we know nothing".
const disagreementPenalty = 0.5

// Engine turns findings into assessments.
type Engine struct {
	now func() time.Time
}

func New() *Engine {
	return &Engine{now: time.Now}
}

// NewWithClock is for tests that need deterministic decay.
func NewWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

func verdictValue(v intel.Verdict) (float64, bool) {
	switch v {
	case intel.VerdictMalicious:
		return 100, true
	case intel.VerdictSuspicious:
		return 60, true
	case intel.VerdictClean:
		return 0, true
	default:
		// unknown findings carry zero contribution weight
		return 0, false
	}
}

func recencyDecay(observedAt, now time.Time) float64 {
	age := now.Sub(observedAt).Hours()
	if age < 0 {
		age = 0
	}
	return math.Exp(-decayLambda * age)
}

// Evaluate produces the assessment for one indicator from the aggregator's
// findings. configured is the number of sources asked; findings may contain
// unknown entries for sources that failed or abstained.
func (e *Engine) Evaluate(ind indicator.Indicator, depth intel.Depth, findings []intel.Finding, configured int) *intel.Assessment {
	now := e.now()

	var weightSum, contribSum float64
	var values []float64
	var contributions []intel.SourceContribution

	for _, f := range findings {
		v, ok := verdictValue(f.Verdict)
		if !ok {
			continue
		}
		w := f.Reliability * recencyDecay(f.ObservedAt, now)
		weightSum += w
		contribSum += v * w
		values = append(values, v)
		contributions = append(contributions, intel.SourceContribution{
			SourceName:   f.SourceName,
			Verdict:      f.Verdict,
			Weight:       w,
			Contribution: v * w,
			LatencyMS:    f.LatencyMS,
		})
	}

	a := &intel.Assessment{
		Indicator:     ind,
		Depth:         depth,
		Findings:      findings,
		ThreatContext: mergeContext(findings),
		GeneratedAt:   now,
	}

	if len(values) == 0 || weightSum == 0 {
		// No source contributed. This is explicitly unknown, never clean.
		a.RiskLevel = intel.RiskUnknown
		a.Confidence = 0
		a.RecommendedActions = actionsFor(intel.RiskUnknown)
		if depth != intel.DepthStandard {
			a.TechnicalDetail = detail(findings, contributions, configured, 0)
		}
		return a
	}

	score := contribSum / weightSum
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	variance := varianceOf(values)
	a.Score = score
	a.RiskLevel = intel.RiskLevelFromScore(score)
	a.Confidence = confidence(len(values), configured, variance)
	a.RecommendedActions = actionsFor(a.RiskLevel)
	if depth != intel.DepthStandard {
		a.TechnicalDetail = detail(findings, contributions, configured, variance)
	}
	return a
}

// confidence scales source coverage down by verdict disagreement. Verdict
// values live in [0,100], so the largest possible standard deviation is 50.
func confidence(responded, configured int, variance float64) float64 {
	if configured == 0 {
		return 0
	}
	coverage := float64(responded) / float64(configured)
	if coverage > 1 {
		coverage = 1
	}
	normStddev := math.Sqrt(variance) / 50.0
	if normStddev > 1 {
		normStddev = 1
	}
	c := coverage * (1 - disagreementPenalty*normStddev)
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

func varianceOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	var sum float64
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return sum / float64(len(values))
}

func detail(findings []intel.Finding, contributions []intel.SourceContribution, configured int, variance float64) *intel.TechnicalDetail {
	failed := 0
	for _, f := range findings {
		if f.Verdict == intel.VerdictUnknown && f.Confidence == 0 {
			failed++
		}
	}
	return &intel.TechnicalDetail{
		SourcesConfigured: configured,
		SourcesResponded:  len(contributions),
		SourcesFailed:     failed,
		Contributions:     contributions,
		ScoreVariance:     variance,
	}
}

func mergeContext(findings []intel.Finding) intel.ThreatContext {
	return intel.ThreatContext{
		ActorIDs:        union(findings, func(f intel.Finding) []string { return f.ActorIDs }),
		MalwareFamilies: union(findings, func(f intel.Finding) []string { return f.MalwareFamilies }),
		CampaignIDs:     union(findings, func(f intel.Finding) []string { return f.CampaignIDs }),
		KillChainPhases: union(findings, func(f intel.Finding) []string { return f.KillChainPhases }),
		Countries:       union(findings, func(f intel.Finding) []string { return f.Countries }),
	}
}

func union(findings []intel.Finding, pick func(intel.Finding) []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range findings {
		for _, v := range pick(f) {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func actionsFor(level intel.RiskLevel) []string {
	switch level {
	case intel.RiskMalicious:
		return []string{
			"block indicator at perimeter controls",
			"search historical logs for prior contact",
			"open an incident for affected assets",
		}
	case intel.RiskHigh:
		return []string{
			"block indicator pending review",
			"review recent traffic involving the indicator",
		}
	case intel.RiskMedium:
		return []string{
			"add indicator to watchlist",
			"schedule re-analysis at deep depth",
		}
	case intel.RiskLow:
		return []string{"add indicator to watchlist"}
	case intel.RiskClean:
		return []string{"no action required"}
	default:
		return []string{"insufficient source coverage; retry when sources recover"}
	}
}
