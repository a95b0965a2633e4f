package trainer

// Threshold optimization objectives.
const (
	ObjectiveF1        = "f1"
	ObjectivePrecision = "precision"
	ObjectiveRecall    = "recall"
)

// OptimizeThreshold scans candidate decision thresholds over [0,1) at the
// given step and returns the one maximizing the objective on the supplied
// validation probabilities, along with the achieved score. Ties go to the
// lowest threshold, which favors recall on rare failures.
func OptimizeThreshold(probs []float64, labels []int, step float64, objective string) (float64, float64) {
	if step <= 0 || step >= 1 {
		step = 0.01
	}

	bestThreshold := 0.5
	bestScore := -1.0

	for t := 0.0; t < 1.0; t += step {
		m := EvaluateProbs(probs, labels, t)

		var score float64
		switch objective {
		case ObjectivePrecision:
			score = m.Precision
		case ObjectiveRecall:
			score = m.Recall
		default:
			score = m.F1
		}

		if score > bestScore {
			bestScore = score
			bestThreshold = t
		}
	}

	return bestThreshold, bestScore
}
