package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vantagesec/verdict/internal/intel"
	"github.com/vantagesec/verdict/internal/logging"
)

// ErrExportExpired is surfaced when an artifact is accessed past its expiry.
var ErrExportExpired = errors.New("export artifact expired")

// ErrExportNotFound is returned for unknown export ids.
var ErrExportNotFound = errors.New("export not found")

// ComplianceMetadata travels with every export artifact.
type ComplianceMetadata struct {
	Classification string `json:"classification"`
	RetentionDays  int    `json:"retention_days"`
	AuditTrail     bool   `json:"audit_trail"`
}

// ExportConfig controls one export.
type ExportConfig struct {
	Format         Format
	Classification string
	RetentionDays  int
	AuditTrail     bool
	// TTL bounds artifact availability; zero uses the exporter default.
	TTL time.Duration
}

// ExportSummary is the caller-facing accounting of what went out.
type ExportSummary struct {
	Assessments int                     `json:"assessments"`
	RiskCounts  map[intel.RiskLevel]int `json:"risk_counts"`
}

// ExportJob references a time-bounded downloadable artifact.
type ExportJob struct {
	ID          string             `json:"id"`
	Format      Format             `json:"format"`
	Summary     ExportSummary      `json:"summary"`
	Compliance  ComplianceMetadata `json:"compliance_metadata"`
	ArtifactRef string             `json:"artifact_ref"`
	CreatedAt   time.Time          `json:"created_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// Exporter packages assessments into spool-dir artifacts.
type Exporter struct {
	dir        string
	defaultTTL time.Duration
	log        *logging.Logger

	mu   sync.Mutex
	jobs map[string]*ExportJob
}

func NewExporter(dir string, defaultTTL time.Duration, log *logging.Logger) (*Exporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}
	return &Exporter{dir: dir, defaultTTL: defaultTTL, log: log, jobs: make(map[string]*ExportJob)}, nil
}

// Export writes the artifact and registers the job. The artifact filename
// carries the creation timestamp, matching how failed batches are spooled.
func (e *Exporter) Export(assessments []*intel.Assessment, cfg ExportConfig) (*ExportJob, error) {
	if cfg.Format == "" {
		cfg.Format = FormatJSON
	}
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = e.defaultTTL
	}

	now := time.Now().UTC()
	name := now.Format("20060102T150405.000000000") + "." + string(cfg.Format)
	path := filepath.Join(e.dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}
	werr := NewWriter(cfg.Format, f).WriteAssessments(assessments)
	cerr := f.Close()
	if werr != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write artifact: %w", werr)
	}
	if cerr != nil {
		os.Remove(path)
		return nil, cerr
	}

	riskCounts := make(map[intel.RiskLevel]int)
	for _, a := range assessments {
		riskCounts[a.RiskLevel]++
	}

	job := &ExportJob{
		ID:     uuid.NewString(),
		Format: cfg.Format,
		Summary: ExportSummary{
			Assessments: len(assessments),
			RiskCounts:  riskCounts,
		},
		Compliance: ComplianceMetadata{
			Classification: cfg.Classification,
			RetentionDays:  cfg.RetentionDays,
			AuditTrail:     cfg.AuditTrail,
		},
		ArtifactRef: path,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}

	if cfg.AuditTrail {
		e.writeAudit(job)
	}

	e.mu.Lock()
	e.jobs[job.ID] = job
	e.mu.Unlock()

	e.log.Info("export created", "id", job.ID, "format", cfg.Format, "assessments", len(assessments), "expires_at", job.ExpiresAt)
	return job, nil
}

// Open resolves an export id to its artifact path, enforcing expiry.
func (e *Exporter) Open(id string) (string, error) {
	e.mu.Lock()
	job, ok := e.jobs[id]
	e.mu.Unlock()
	if !ok {
		return "", ErrExportNotFound
	}
	if time.Now().After(job.ExpiresAt) {
		return "", ErrExportExpired
	}
	return job.ArtifactRef, nil
}

// PruneExpired deletes expired artifacts from disk and drops their jobs.
func (e *Exporter) PruneExpired() int {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	pruned := 0
	for id, job := range e.jobs {
		if now.After(job.ExpiresAt) {
			if err := os.Remove(job.ArtifactRef); err != nil && !os.IsNotExist(err) {
				e.log.Warn("failed to remove expired artifact", "path", job.ArtifactRef, "err", err)
			}
			delete(e.jobs, id)
			pruned++
		}
	}
	return pruned
}

// writeAudit drops a sidecar record next to the artifact.
func (e *Exporter) writeAudit(job *ExportJob) {
	path := job.ArtifactRef + ".audit.json"
	f, err := os.Create(path)
	if err != nil {
		e.log.Warn("audit sidecar create failed", "err", err)
		return
	}
	defer f.Close()
	_ = json.NewEncoder(f).Encode(job)
}
