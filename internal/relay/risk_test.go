package relay

import "testing"

func TestNormalizeRisk(t *testing.T) {
	tests := []struct {
		name       string
		userStatus string
		score      int
		wantScore  int
		wantLevel  RiskLevel
	}{
		{"emergency with zero score forced high", "emergency", 0, 90, RiskHigh},
		{"emergency with real score kept", "emergency", 55, 55, RiskMedium},
		{"safe forced low despite high score", "safe", 95, 0, RiskLow},
		{"low bucket", "trapped_safe", 39, 39, RiskLow},
		{"medium bucket lower bound", "trapped_safe", 40, 40, RiskMedium},
		{"medium bucket upper bound", "trapped_safe", 69, 69, RiskMedium},
		{"high bucket", "trapped_safe", 70, 70, RiskHigh},
		{"unknown status zero score", "", 0, 0, RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, level := NormalizeRisk(tt.userStatus, tt.score)
			if score != tt.wantScore || level != tt.wantLevel {
				t.Errorf("NormalizeRisk(%q, %d) = (%d, %s), want (%d, %s)",
					tt.userStatus, tt.score, score, level, tt.wantScore, tt.wantLevel)
			}
		})
	}
}
