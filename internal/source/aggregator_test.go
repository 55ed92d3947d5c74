package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagesec/verdict/internal/circuitbreaker"
	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/rate"
)

// fakeSource returns a fixed finding, an error, or blocks until its context
// expires, depending on mode.
type fakeSource struct {
	base
	verdict intel.Verdict
	err     error
	block   bool
}

func newFakeSource(name string, verdict intel.Verdict, reliability float64, deepOnly bool) *fakeSource {
	return &fakeSource{
		base:    base{name: name, typ: "test", reliability: reliability, timeout: 200 * time.Millisecond, deepOnly: deepOnly},
		verdict: verdict,
	}
}

func (s *fakeSource) Query(ctx context.Context, ind indicator.Indicator) (intel.Finding, error) {
	if s.block {
		<-ctx.Done()
		return intel.Finding{}, ctx.Err()
	}
	if s.err != nil {
		return intel.Finding{}, s.err
	}
	return s.finding(s.verdict, 0.9, time.Now()), nil
}

func testAggregator(t *testing.T, sources ...Source) *Aggregator {
	t.Helper()
	reg := NewRegistry()
	for _, s := range sources {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	return NewAggregator(reg, rate.New(1000, 1000), circuitbreaker.NewSourceBreakers(nil), zap.NewNop().Sugar())
}

func TestCollect_PartialFailureDegradesToUnknown(t *testing.T) {
	ok := newFakeSource("ok", intel.VerdictMalicious, 0.9, false)
	failing := newFakeSource("failing", intel.VerdictClean, 0.8, false)
	failing.err = errors.New("feed unreachable")
	hanging := newFakeSource("hanging", intel.VerdictClean, 0.7, false)
	hanging.block = true

	agg := testAggregator(t, ok, failing, hanging)
	ind, _ := indicator.Parse("example.com")

	started := time.Now()
	res := agg.Collect(context.Background(), ind, intel.DepthStandard)
	elapsed := time.Since(started)

	if res.Configured != 3 {
		t.Errorf("expected 3 configured sources, got %d", res.Configured)
	}
	if res.Failed != 2 {
		t.Errorf("expected 2 failures, got %d", res.Failed)
	}
	if len(res.Findings) != 3 {
		t.Fatalf("every source must yield exactly one finding, got %d", len(res.Findings))
	}

	byName := make(map[string]intel.Finding)
	for _, f := range res.Findings {
		byName[f.SourceName] = f
	}
	if byName["ok"].Verdict != intel.VerdictMalicious {
		t.Errorf("healthy source: expected malicious, got %s", byName["ok"].Verdict)
	}
	for _, name := range []string{"failing", "hanging"} {
		f := byName[name]
		if f.Verdict != intel.VerdictUnknown || f.Confidence != 0 {
			t.Errorf("%s: expected zero-weight unknown finding, got verdict=%s confidence=%v", name, f.Verdict, f.Confidence)
		}
		if f.Reliability == 0 {
			t.Errorf("%s: degraded finding must keep source attribution", name)
		}
	}

	// Sources run concurrently, so the whole collection is bounded by the
	// slowest timeout, not the sum.
	if elapsed > time.Second {
		t.Errorf("collection took %v, expected it bounded by the source timeout", elapsed)
	}
}

func TestCollect_DeepOnlySourcesSkippedAtStandardDepth(t *testing.T) {
	std := newFakeSource("std", intel.VerdictClean, 0.9, false)
	deep := newFakeSource("deep", intel.VerdictMalicious, 0.9, true)
	agg := testAggregator(t, std, deep)
	ind, _ := indicator.Parse("example.com")

	res := agg.Collect(context.Background(), ind, intel.DepthStandard)
	if res.Configured != 1 {
		t.Errorf("standard depth: expected 1 source, got %d", res.Configured)
	}

	res = agg.Collect(context.Background(), ind, intel.DepthDeep)
	if res.Configured != 2 {
		t.Errorf("deep depth: expected 2 sources, got %d", res.Configured)
	}
	res = agg.Collect(context.Background(), ind, intel.DepthForensic)
	if res.Configured != 2 {
		t.Errorf("forensic depth: expected 2 sources, got %d", res.Configured)
	}
}

func TestCollect_AllSourcesFailing(t *testing.T) {
	a := newFakeSource("a", intel.VerdictClean, 0.9, false)
	a.err = errors.New("down")
	b := newFakeSource("b", intel.VerdictClean, 0.8, false)
	b.err = errors.New("down")

	agg := testAggregator(t, a, b)
	ind, _ := indicator.Parse("example.com")
	res := agg.Collect(context.Background(), ind, intel.DepthStandard)

	if res.Failed != res.Configured {
		t.Errorf("expected all %d sources failed, got %d", res.Configured, res.Failed)
	}
	for _, f := range res.Findings {
		if f.Verdict != intel.VerdictUnknown {
			t.Errorf("expected unknown finding from failed source, got %s", f.Verdict)
		}
	}
}

func TestRegistry_RejectsDuplicateNames(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(newFakeSource("dup", intel.VerdictClean, 0.5, false)); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register(newFakeSource("dup", intel.VerdictClean, 0.5, false)); err == nil {
		t.Error("expected duplicate registration to fail")
	}
}

func TestRulesSource_FeedAndHeuristics(t *testing.T) {
	feed := filepath.Join(t.TempDir(), "feed.txt")
	if err := os.WriteFile(feed, []byte("# known bad\nknown-bad.example.com\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := NewRules("rules", 0.6, time.Second)
	if n, err := src.LoadFeed(feed); err != nil || n != 1 {
		t.Fatalf("LoadFeed: n=%d err=%v", n, err)
	}
	ctx := context.Background()

	cases := []struct {
		value string
		want  intel.Verdict
	}{
		{"known-bad.example.com", intel.VerdictMalicious},
		{"login.example.tk", intel.VerdictSuspicious},   // suspicious TLD
		{"xn--pple-43d.com", intel.VerdictSuspicious},   // punycode
		{"http://1.2.3.4/pay", intel.VerdictSuspicious}, // IP-literal URL
		{"example.com", intel.VerdictClean},
	}
	for _, tt := range cases {
		ind, err := indicator.Parse(tt.value)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.value, err)
		}
		f, err := src.Query(ctx, ind)
		if err != nil {
			t.Fatalf("Query(%q): %v", tt.value, err)
		}
		if f.Verdict != tt.want {
			t.Errorf("Query(%q): expected %s, got %s", tt.value, tt.want, f.Verdict)
		}
	}
}
