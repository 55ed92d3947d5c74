package hunt

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

// Query is a declarative hunt over the engine's assessment record.
type Query struct {
	Criteria string    `json:"criteria"`
	MinScore float64   `json:"min_score"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
	Limit    int       `json:"limit,omitempty"`
}

// Result is stateless, derived on demand. Findings are ranked by score
// descending, ties broken by most recent GeneratedAt.
type Result struct {
	HuntID      string              `json:"hunt_id"`
	Findings    []*intel.Assessment `json:"findings"`
	Insights    []string            `json:"insights"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// AnalyzeFunc re-runs an indicator through the cache-backed pipeline; the
// cache decides whether a fresh computation is needed.
type AnalyzeFunc func(ctx context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error)

// Hunter matches free-text criteria against the history record, refreshes
// stale matches and ranks what is left.
type Hunter struct {
	hist    *trend.History
	analyze AnalyzeFunc
	log     *logging.Logger
}

func New(hist *trend.History, analyze AnalyzeFunc, log *logging.Logger) *Hunter {
	return &Hunter{hist: hist, analyze: analyze, log: log}
}

func (h *Hunter) Hunt(ctx context.Context, q Query) (*Result, error) {
	criteria := strings.ToLower(strings.TrimSpace(q.Criteria))

	candidates := h.hist.Between(q.From, q.To)

	// Latest record per indicator key; older generations only add noise.
	latest := make(map[string]*intel.Assessment)
	for _, a := range candidates {
		if criteria != "" && !matches(a, criteria) {
			continue
		}
		key := a.Indicator.Key()
		if prev, ok := latest[key]; !ok || a.GeneratedAt.After(prev.GeneratedAt) {
			latest[key] = a
		}
	}

	var findings []*intel.Assessment
	for _, a := range latest {
		// Re-analysis goes through the cache: fresh entries are served as-is,
		// expired ones trigger exactly one recomputation.
		fresh, err := h.analyze(ctx, a.Indicator, a.Depth)
		if err != nil {
			h.log.Debug("hunt refresh failed, using historical assessment", "indicator", a.Indicator.Value, "err", err)
			fresh = a
		}
		if fresh.Score >= q.MinScore {
			findings = append(findings, fresh)
		}
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Score != findings[j].Score {
			return findings[i].Score > findings[j].Score
		}
		return findings[i].GeneratedAt.After(findings[j].GeneratedAt)
	})
	if q.Limit > 0 && len(findings) > q.Limit {
		findings = findings[:q.Limit]
	}

	return &Result{
		HuntID:      uuid.NewString(),
		Findings:    findings,
		Insights:    insights(findings),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func matches(a *intel.Assessment, criteria string) bool {
	if strings.Contains(strings.ToLower(a.Indicator.Value), criteria) {
		return true
	}
	for _, set := range [][]string{
		a.ThreatContext.ActorIDs,
		a.ThreatContext.MalwareFamilies,
		a.ThreatContext.CampaignIDs,
		a.ThreatContext.KillChainPhases,
	} {
		for _, v := range set {
			if strings.Contains(strings.ToLower(v), criteria) {
				return true
			}
		}
	}
	return false
}

// insights is best-effort annotation; an empty list is a valid outcome.
func insights(findings []*intel.Assessment) []string {
	var out []string
	if len(findings) == 0 {
		return out
	}

	actorCount := make(map[string]int)
	familyCount := make(map[string]int)
	malicious := 0
	for _, a := range findings {
		for _, actor := range a.ThreatContext.ActorIDs {
			actorCount[actor]++
		}
		for _, fam := range a.ThreatContext.MalwareFamilies {
			familyCount[fam]++
		}
		if a.RiskLevel == intel.RiskMalicious {
			malicious++
		}
	}

	for actor, n := range actorCount {
		if n >= 2 {
			out = append(out, fmt.Sprintf("actor %s attributed across %d results", actor, n))
		}
	}
	for fam, n := range familyCount {
		if n >= 2 {
			out = append(out, fmt.Sprintf("malware family %s present in %d results", fam, n))
		}
	}
	if malicious > 0 && malicious*2 >= len(findings) {
		out = append(out, fmt.Sprintf("%d of %d matched indicators score malicious", malicious, len(findings)))
	}
	sort.Strings(out)
	return out
}
