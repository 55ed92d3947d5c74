package report

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vantagesec/verdict/internal/indicator"
	"github.com/vantagesec/verdict/internal/intel"
)

func exportAssessments() []*intel.Assessment {
	now := time.Now().UTC()
	return []*intel.Assessment{
		{
			Indicator: indicator.Indicator{Value: "evil.example.com", Kind: indicator.KindDomain},
			Depth:     intel.DepthDeep, Score: 92, RiskLevel: intel.RiskMalicious,
			Confidence: 0.9, GeneratedAt: now,
			ThreatContext: intel.ThreatContext{ActorIDs: []string{"apt-x"}},
		},
		{
			Indicator: indicator.Indicator{Value: "1.2.3.4", Kind: indicator.KindIP},
			Depth:     intel.DepthDeep, Score: 15, RiskLevel: intel.RiskClean,
			Confidence: 0.8, GeneratedAt: now,
		},
	}
}

func TestExport_CreatesArtifactAndSummary(t *testing.T) {
	e, err := NewExporter(t.TempDir(), time.Hour, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}

	job, err := e.Export(exportAssessments(), ExportConfig{
		Format:         FormatJSON,
		Classification: "tlp:amber",
		RetentionDays:  30,
	})
	if err != nil {
		t.Fatal(err)
	}

	if job.Summary.Assessments != 2 {
		t.Errorf("expected 2 assessments in summary, got %d", job.Summary.Assessments)
	}
	if job.Summary.RiskCounts[intel.RiskMalicious] != 1 || job.Summary.RiskCounts[intel.RiskClean] != 1 {
		t.Errorf("unexpected risk counts: %v", job.Summary.RiskCounts)
	}
	if job.Compliance.Classification != "tlp:amber" {
		t.Errorf("unexpected classification: %s", job.Compliance.Classification)
	}
	if !job.ExpiresAt.After(job.CreatedAt) {
		t.Error("expected ExpiresAt after CreatedAt")
	}

	path, err := e.Open(job.ID)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var decoded []*intel.Assessment
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("artifact is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Errorf("expected 2 assessments in artifact, got %d", len(decoded))
	}
}

func TestExport_ExpiryEnforcedOnOpen(t *testing.T) {
	e, err := NewExporter(t.TempDir(), time.Hour, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}

	job, err := e.Export(exportAssessments(), ExportConfig{Format: FormatJSONL, TTL: 10 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.Open(job.ID); err != nil {
		t.Fatalf("fresh artifact must open: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if _, err := e.Open(job.ID); !errors.Is(err, ErrExportExpired) {
		t.Errorf("expected ErrExportExpired, got %v", err)
	}
}

func TestExport_UnknownID(t *testing.T) {
	e, err := NewExporter(t.TempDir(), time.Hour, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Open("missing"); !errors.Is(err, ErrExportNotFound) {
		t.Errorf("expected ErrExportNotFound, got %v", err)
	}
}

func TestPruneExpired_RemovesArtifacts(t *testing.T) {
	e, err := NewExporter(t.TempDir(), time.Hour, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}

	expired, err := e.Export(exportAssessments(), ExportConfig{TTL: 5 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	kept, err := e.Export(exportAssessments(), ExportConfig{TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if n := e.PruneExpired(); n != 1 {
		t.Errorf("expected 1 pruned, got %d", n)
	}
	if _, err := os.Stat(expired.ArtifactRef); !os.IsNotExist(err) {
		t.Error("expected expired artifact removed from disk")
	}
	if _, err := e.Open(kept.ID); err != nil {
		t.Errorf("surviving artifact must still open: %v", err)
	}
}

func TestExport_AuditSidecar(t *testing.T) {
	e, err := NewExporter(t.TempDir(), time.Hour, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	job, err := e.Export(exportAssessments(), ExportConfig{AuditTrail: true})
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(job.ArtifactRef + ".audit.json")
	if err != nil {
		t.Fatalf("expected audit sidecar: %v", err)
	}
	var sidecar ExportJob
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		t.Fatalf("audit sidecar is not valid JSON: %v", err)
	}
	if sidecar.ID != job.ID {
		t.Errorf("sidecar id mismatch: %s vs %s", sidecar.ID, job.ID)
	}
}

func TestWriter_CSVColumns(t *testing.T) {
	var sb strings.Builder
	if err := NewWriter(FormatCSV, &sb).WriteAssessments(exportAssessments()); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "value,kind,depth,score,risk_level") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "evil.example.com") || !strings.Contains(lines[1], "apt-x") {
		t.Errorf("unexpected first row: %s", lines[1])
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"json": FormatJSON, "JSONL": FormatJSONL, "ndjson": FormatJSONL, "csv": FormatCSV} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
