package hunt

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/trend"
)

func record(hist *trend.History, value string, score float64, generated time.Time, ctx intel.ThreatContext) *intel.Assessment {
	ind, _ := indicator.Parse(value)
	a := &intel.Assessment{
		Indicator:     ind,
		Depth:         intel.DepthStandard,
		Score:         score,
		RiskLevel:     intel.RiskLevelFromScore(score),
		ThreatContext: ctx,
		GeneratedAt:   generated,
	}
	hist.Record(a)
	return a
}

// passthroughAnalyze replays the historical assessment, as the cache would for
// a fresh entry.
func passthroughAnalyze(hist map[string]*intel.Assessment) AnalyzeFunc {
	return func(_ context.Context, ind indicator.Indicator, depth intel.Depth) (*intel.Assessment, error) {
		if a, ok := hist[ind.Key()]; ok {
			return a, nil
		}
		return nil, errors.New("unknown indicator")
	}
}

func TestHunt_RankingAndTieBreak(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	now := time.Now()

	byKey := make(map[string]*intel.Assessment)
	for _, e := range []struct {
		value string
		score float64
		age   time.Duration
	}{
		{"low.example.com", 30, time.Hour},
		{"newer.example.com", 85, time.Minute},
		{"older.example.com", 85, time.Hour},
		{"top.example.com", 95, 2 * time.Hour},
	} {
		a := record(hist, e.value, e.score, now.Add(-e.age), intel.ThreatContext{})
		byKey[a.Indicator.Key()] = a
	}

	h := New(hist, passthroughAnalyze(byKey), zap.NewNop().Sugar())
	res, err := h.Hunt(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Findings) != 4 {
		t.Fatalf("expected 4 findings, got %d", len(res.Findings))
	}
	got := make([]string, len(res.Findings))
	for i, f := range res.Findings {
		got[i] = f.Indicator.Value
	}
	want := []string{"top.example.com", "newer.example.com", "older.example.com", "low.example.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ranking mismatch: got %v, want %v", got, want)
		}
	}
}

func TestHunt_MinScoreAndLimit(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	now := time.Now()
	byKey := make(map[string]*intel.Assessment)
	for i, score := range []float64{10, 55, 70, 90} {
		a := record(hist, []string{"a", "b", "c", "d"}[i]+".example.com", score, now, intel.ThreatContext{})
		byKey[a.Indicator.Key()] = a
	}

	h := New(hist, passthroughAnalyze(byKey), zap.NewNop().Sugar())
	res, err := h.Hunt(context.Background(), Query{MinScore: 60, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("expected 1 finding after filter+limit, got %d", len(res.Findings))
	}
	if res.Findings[0].Score != 90 {
		t.Errorf("expected top score 90, got %v", res.Findings[0].Score)
	}
}

func TestHunt_CriteriaMatchesContextFields(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	now := time.Now()
	byKey := make(map[string]*intel.Assessment)

	a1 := record(hist, "c2.example.com", 88, now, intel.ThreatContext{ActorIDs: []string{"APT-Kestrel"}})
	a2 := record(hist, "benign.example.com", 5, now, intel.ThreatContext{})
	byKey[a1.Indicator.Key()] = a1
	byKey[a2.Indicator.Key()] = a2

	h := New(hist, passthroughAnalyze(byKey), zap.NewNop().Sugar())
	res, err := h.Hunt(context.Background(), Query{Criteria: "kestrel"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 || res.Findings[0].Indicator.Value != "c2.example.com" {
		t.Fatalf("expected the actor-attributed indicator only, got %+v", res.Findings)
	}
}

func TestHunt_LatestGenerationWinsPerIndicator(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	now := time.Now()

	record(hist, "example.com", 20, now.Add(-2*time.Hour), intel.ThreatContext{})
	latest := record(hist, "example.com", 80, now, intel.ThreatContext{})
	byKey := map[string]*intel.Assessment{latest.Indicator.Key(): latest}

	h := New(hist, passthroughAnalyze(byKey), zap.NewNop().Sugar())
	res, err := h.Hunt(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 {
		t.Fatalf("expected one finding per indicator, got %d", len(res.Findings))
	}
	if res.Findings[0].Score != 80 {
		t.Errorf("expected the newest generation, got score %v", res.Findings[0].Score)
	}
}

func TestHunt_RefreshFailureFallsBackToHistory(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	record(hist, "example.com", 65, time.Now(), intel.ThreatContext{})

	failing := func(context.Context, indicator.Indicator, intel.Depth) (*intel.Assessment, error) {
		return nil, errors.New("sources down")
	}
	h := New(hist, failing, zap.NewNop().Sugar())
	res, err := h.Hunt(context.Background(), Query{MinScore: 60})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 1 || res.Findings[0].Score != 65 {
		t.Fatalf("expected historical fallback, got %+v", res.Findings)
	}
}

func TestHunt_Insights(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	now := time.Now()
	byKey := make(map[string]*intel.Assessment)
	for _, v := range []string{"a.example.com", "b.example.com", "c.example.com"} {
		a := record(hist, v, 90, now, intel.ThreatContext{
			ActorIDs:        []string{"apt-x"},
			MalwareFamilies: []string{"lokibot"},
		})
		byKey[a.Indicator.Key()] = a
	}

	h := New(hist, passthroughAnalyze(byKey), zap.NewNop().Sugar())
	res, err := h.Hunt(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}

	joined := strings.Join(res.Insights, "\n")
	if !strings.Contains(joined, "apt-x") {
		t.Errorf("expected actor insight, got %v", res.Insights)
	}
	if !strings.Contains(joined, "lokibot") {
		t.Errorf("expected malware family insight, got %v", res.Insights)
	}
	if !strings.Contains(joined, "malicious") {
		t.Errorf("expected malicious share insight, got %v", res.Insights)
	}
}

func TestHunt_EmptyHistory(t *testing.T) {
	hist := trend.NewHistory(100, 24*time.Hour)
	h := New(hist, passthroughAnalyze(nil), zap.NewNop().Sugar())

	res, err := h.Hunt(context.Background(), Query{Criteria: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Findings) != 0 {
		t.Errorf("expected no findings, got %d", len(res.Findings))
	}
	if res.HuntID == "" {
		t.Error("expected a hunt id even for empty results")
	}
}
