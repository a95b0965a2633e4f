package predictor

// RiskLevel categorizes a failure probability for maintenance planning.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// Risk category boundaries, inclusive at the lower bound:
// [0,0.2) Low, [0.2,0.4) Medium, [0.4,0.7) High, [0.7,1] Critical.
const (
	mediumLowerBound   = 0.2
	highLowerBound     = 0.4
	criticalLowerBound = 0.7
)

// RiskFor maps a failure probability to its risk category.
func RiskFor(probability float64) RiskLevel {
	switch {
	case probability >= criticalLowerBound:
		return RiskCritical
	case probability >= highLowerBound:
		return RiskHigh
	case probability >= mediumLowerBound:
		return RiskMedium
	default:
		return RiskLow
	}
}

// RecommendationFor returns the planner-facing action for a risk category.
func RecommendationFor(level RiskLevel) string {
	switch level {
	case RiskCritical:
		return "URGENT: Schedule immediate inspection and preventive maintenance"
	case RiskHigh:
		return "HIGH PRIORITY: Schedule PM within next 7 days"
	case RiskMedium:
		return "MODERATE: Monitor closely and schedule PM within next 30 days"
	default:
		return "LOW RISK: Continue normal PM schedule"
	}
}
