package intel

import (
	"time"

	"github.com/vantagesec/verdict/internal/indicator"
)

// Depth selects how much work an analysis performs and how long its result
// stays fresh in the cache.
type Depth string

const (
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
	DepthForensic Depth = "forensic"
)

// Verdict is one source's raw judgement of an indicator.
type Verdict string

const (
	VerdictMalicious  Verdict = "malicious"
	VerdictSuspicious Verdict = "suspicious"
	VerdictClean      Verdict = "clean"
	VerdictUnknown    Verdict = "unknown"
)

// Finding is a single source's normalized verdict on one indicator.
type Finding struct {
	SourceName  string    `json:"source_name"`
	SourceType  string    `json:"source_type"`
	Reliability float64   `json:"reliability"`
	Verdict     Verdict   `json:"verdict"`
	Confidence  float64   `json:"confidence"`
	LatencyMS   int64     `json:"latency_ms"`
	ObservedAt  time.Time `json:"observed_at"`

	// Context attribution carried by richer sources, merged into the
	// assessment's ThreatContext.
	ActorIDs        []string `json:"actor_ids,omitempty"`
	MalwareFamilies []string `json:"malware_families,omitempty"`
	CampaignIDs     []string `json:"campaign_ids,omitempty"`
	KillChainPhases []string `json:"kill_chain_phases,omitempty"`
	Countries       []string `json:"countries,omitempty"`
}

// RiskLevel is the discrete band derived from the aggregate score.
type RiskLevel string

const (
	RiskUnknown   RiskLevel = "unknown"
	RiskClean     RiskLevel = "clean"
	RiskLow       RiskLevel = "low"
	RiskMedium    RiskLevel = "medium"
	RiskHigh      RiskLevel = "high"
	RiskMalicious RiskLevel = "malicious"
)

// RiskLevelFromScore maps a score to its band. The banding is fixed:
// >=80 malicious, 60-79 high, 40-59 medium, 20-39 low, 0-19 clean.
// Callers with zero contributing findings must use RiskUnknown instead.
func RiskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskMalicious
	case score >= 60:
		return RiskHigh
	case score >= 40:
		return RiskMedium
	case score >= 20:
		return RiskLow
	default:
		return RiskClean
	}
}

// ThreatContext holds id references into the collaborator's actor/campaign
// store. References only: the engine never owns these records.
type ThreatContext struct {
	ActorIDs        []string `json:"actor_ids,omitempty"`
	MalwareFamilies []string `json:"malware_families,omitempty"`
	CampaignIDs     []string `json:"campaign_ids,omitempty"`
	KillChainPhases []string `json:"kill_chain_phases,omitempty"`
	Countries       []string `json:"countries,omitempty"`
}

// SourceContribution is one row of the deep-analysis contribution table.
type SourceContribution struct {
	SourceName   string  `json:"source_name"`
	Verdict      Verdict `json:"verdict"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
	LatencyMS    int64   `json:"latency_ms"`
}

// TechnicalDetail is populated only at deep and forensic depth.
type TechnicalDetail struct {
	SourcesConfigured int                  `json:"sources_configured"`
	SourcesResponded  int                  `json:"sources_responded"`
	SourcesFailed     int                  `json:"sources_failed"`
	Contributions     []SourceContribution `json:"contributions"`
	ScoreVariance     float64              `json:"score_variance"`
}

// Assessment is the engine's combined output for one indicator at one depth.
// Immutable once created; cached entries are replaced, never mutated.
type Assessment struct {
	Indicator          indicator.Indicator `json:"indicator"`
	Depth              Depth               `json:"depth"`
	Score              float64             `json:"score"`
	RiskLevel          RiskLevel           `json:"risk_level"`
	Confidence         float64             `json:"confidence"`
	Findings           []Finding           `json:"findings"`
	ThreatContext      ThreatContext       `json:"threat_context"`
	TechnicalDetail    *TechnicalDetail    `json:"technical_detail,omitempty"`
	RecommendedActions []string            `json:"recommended_actions"`
	GeneratedAt        time.Time           `json:"generated_at"`
}
