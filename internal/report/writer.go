package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/vantagesec/verdict/internal/intel"
)

// Format represents the export output format
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
)

// ParseFormat validates a format string.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Writer serializes assessments in the configured format.
type Writer struct {
	format Format
	w      io.Writer
}

// NewWriter creates a new assessment writer
func NewWriter(format Format, w io.Writer) *Writer {
	return &Writer{format: format, w: w}
}

// WriteAssessments writes the full set in the configured format.
func (w *Writer) WriteAssessments(assessments []*intel.Assessment) error {
	switch w.format {
	case FormatJSON:
		encoder := json.NewEncoder(w.w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(assessments)

	case FormatJSONL:
		encoder := json.NewEncoder(w.w)
		for _, a := range assessments {
			if err := encoder.Encode(a); err != nil {
				return err
			}
		}
		return nil

	case FormatCSV:
		return w.writeCSV(assessments)

	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

func (w *Writer) writeCSV(assessments []*intel.Assessment) error {
	cw := csv.NewWriter(w.w)
	cw.Write([]string{
		"value", "kind", "depth", "score", "risk_level", "confidence",
		"actors", "malware_families", "campaigns", "generated_at",
	})
	for _, a := range assessments {
		cw.Write([]string{
			a.Indicator.Value,
			string(a.Indicator.Kind),
			string(a.Depth),
			strconv.FormatFloat(a.Score, 'f', 2, 64),
			string(a.RiskLevel),
			strconv.FormatFloat(a.Confidence, 'f', 3, 64),
			strings.Join(a.ThreatContext.ActorIDs, ";"),
			strings.Join(a.ThreatContext.MalwareFamilies, ";"),
			strings.Join(a.ThreatContext.CampaignIDs, ";"),
			a.GeneratedAt.Format(time.RFC3339),
		})
	}
	cw.Flush()
	return cw.Error()
}
