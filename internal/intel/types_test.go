package intel

import "testing"

func TestRiskLevelFromScore_BandBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  RiskLevel
	}{
		{0, RiskClean},
		{19, RiskClean},
		{19.99, RiskClean},
		{20, RiskLow},
		{39, RiskLow},
		{40, RiskMedium},
		{59, RiskMedium},
		{60, RiskHigh},
		{79, RiskHigh},
		{79.99, RiskHigh},
		{80, RiskMalicious},
		{100, RiskMalicious},
	}

	for _, tt := range tests {
		if got := RiskLevelFromScore(tt.score); got != tt.want {
			t.Errorf("RiskLevelFromScore(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
