package relay

// RiskLevel is the bucketed indicator operators see instead of the raw score.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Forced indicator values for statuses that override the raw score.
const (
	forcedEmergencyScore = 90
	forcedSafeScore      = 0
)

// NormalizeRisk derives the displayed risk indicator from the classification
// context. An emergency with a missing or zero score is forced high so a
// failed assessment can never bury an emergency; a user reported safe is
// forced low regardless of stale score data. Otherwise the raw score is
// bucketed: <40 low, 40-69 medium, >=70 high.
func NormalizeRisk(userStatus string, score int) (int, RiskLevel) {
	switch {
	case userStatus == "safe":
		return forcedSafeScore, RiskLow
	case userStatus == "emergency" && score == 0:
		return forcedEmergencyScore, RiskHigh
	}
	switch {
	case score < 40:
		return score, RiskLow
	case score < 70:
		return score, RiskMedium
	default:
		return score, RiskHigh
	}
}
