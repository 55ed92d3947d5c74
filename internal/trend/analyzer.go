package trend

import (
	"fmt"
	"math"
	"time"

	"github.com/vantagesec/verdict/internal/intel"
)

// Prediction is a short-horizon extrapolation from the observed window: the
// hourly malicious rate projected forward 24h, with confidence derived from
// the variance of per-bucket counts. It is documented statistics, not a
// learned model.
type Prediction struct {
	ExpectedMalicious24h float64 `json:"expected_malicious_24h"`
	Confidence           float64 `json:"confidence"`
	Basis                string  `json:"basis"`
}

// Snapshot aggregates one trailing window of assessments.
type Snapshot struct {
	WindowHours            int                     `json:"window_hours"`
	TotalAssessments       int                     `json:"total_assessments"`
	RiskDistribution       map[intel.RiskLevel]int `json:"risk_distribution"`
	ScoreDistribution      map[string]int          `json:"score_distribution"`
	ActorActivity          map[string]int          `json:"actor_activity"`
	MalwareDistribution    map[string]int          `json:"malware_distribution"`
	GeographicDistribution map[string]int          `json:"geographic_distribution"`
	Predictions            Prediction              `json:"predictions"`
	GeneratedAt            time.Time               `json:"generated_at"`
}

var scoreBuckets = []struct {
	label string
	lo    float64
}{
	{"80-100", 80},
	{"60-79", 60},
	{"40-59", 40},
	{"20-39", 20},
	{"0-19", 0},
}

// Analyzer derives trend snapshots from the history record.
type Analyzer struct {
	hist *History
	now  func() time.Time
}

func NewAnalyzer(hist *History) *Analyzer {
	return &Analyzer{hist: hist, now: time.Now}
}

// Analyze aggregates the trailing windowHours of history. A window with zero
// assessments yields zero-valued distributions, not an error.
func (an *Analyzer) Analyze(windowHours int) (*Snapshot, error) {
	if windowHours < 1 {
		return nil, fmt.Errorf("window_hours must be at least 1, got %d", windowHours)
	}

	entries := an.hist.Window(time.Duration(windowHours) * time.Hour)
	s := &Snapshot{
		WindowHours:            windowHours,
		TotalAssessments:       len(entries),
		RiskDistribution:       make(map[intel.RiskLevel]int),
		ScoreDistribution:      make(map[string]int),
		ActorActivity:          make(map[string]int),
		MalwareDistribution:    make(map[string]int),
		GeographicDistribution: make(map[string]int),
		GeneratedAt:            an.now(),
	}
	for _, lvl := range []intel.RiskLevel{intel.RiskUnknown, intel.RiskClean, intel.RiskLow, intel.RiskMedium, intel.RiskHigh, intel.RiskMalicious} {
		s.RiskDistribution[lvl] = 0
	}
	for _, b := range scoreBuckets {
		s.ScoreDistribution[b.label] = 0
	}

	for _, a := range entries {
		s.RiskDistribution[a.RiskLevel]++
		if a.RiskLevel != intel.RiskUnknown {
			for _, b := range scoreBuckets {
				if a.Score >= b.lo {
					s.ScoreDistribution[b.label]++
					break
				}
			}
		}
		for _, actor := range a.ThreatContext.ActorIDs {
			s.ActorActivity[actor]++
		}
		for _, fam := range a.ThreatContext.MalwareFamilies {
			s.MalwareDistribution[fam]++
		}
		for _, c := range a.ThreatContext.Countries {
			s.GeographicDistribution[c]++
		}
	}

	s.Predictions = an.predict(entries, windowHours)
	return s, nil
}

// predict buckets the window into hourly-ish slices, takes the mean malicious
// count per slice and extrapolates 24h forward. Confidence shrinks with the
// coefficient of variation across slices: a steady rate predicts well, a
// bursty one does not.
func (an *Analyzer) predict(entries []*intel.Assessment, windowHours int) Prediction {
	if len(entries) == 0 {
		return Prediction{Basis: "no assessments in window"}
	}

	buckets := windowHours
	if buckets > 24 {
		buckets = 24
	}
	counts := make([]float64, buckets)
	bucketDur := time.Duration(windowHours) * time.Hour / time.Duration(buckets)
	windowStart := an.now().Add(-time.Duration(windowHours) * time.Hour)

	for _, a := range entries {
		if a.RiskLevel != intel.RiskMalicious {
			continue
		}
		idx := int(a.GeneratedAt.Sub(windowStart) / bucketDur)
		if idx < 0 {
			idx = 0
		}
		if idx >= buckets {
			idx = buckets - 1
		}
		counts[idx]++
	}

	var mean float64
	for _, c := range counts {
		mean += c
	}
	mean /= float64(buckets)

	var variance float64
	for _, c := range counts {
		d := c - mean
		variance += d * d
	}
	variance /= float64(buckets)

	perHour := mean / bucketDur.Hours()
	confidence := 0.0
	if mean > 0 {
		cv := math.Sqrt(variance) / mean
		confidence = 1 / (1 + cv)
	}

	return Prediction{
		ExpectedMalicious24h: perHour * 24,
		Confidence:           confidence,
		Basis:                fmt.Sprintf("mean rate over %d buckets of %s, variance-scaled confidence", buckets, bucketDur),
	}
}
