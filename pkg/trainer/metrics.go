package trainer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Metrics holds binary-classification quality measures for one split.
// ROCAUC is threshold-free; the rest are computed at the model threshold.
type Metrics struct {
	ROCAUC    float64   `json:"roc_auc"`
	Precision float64   `json:"precision"`
	Recall    float64   `json:"recall"`
	F1        float64   `json:"f1"`
	Confusion Confusion `json:"confusion"`
}

// Confusion is the 2x2 confusion matrix at the decision threshold.
type Confusion struct {
	TrueNegative  int `json:"tn"`
	FalsePositive int `json:"fp"`
	FalseNegative int `json:"fn"`
	TruePositive  int `json:"tp"`
}

// EvaluateProbs computes metrics from probabilities and ground truth at the
// given threshold. Undefined ratios (zero denominators) evaluate to 0
// rather than NaN.
func EvaluateProbs(probs []float64, labels []int, threshold float64) Metrics {
	m := Metrics{ROCAUC: rocAUC(probs, labels)}

	for i, p := range probs {
		predicted := p >= threshold
		actual := labels[i] == 1
		switch {
		case predicted && actual:
			m.Confusion.TruePositive++
		case predicted && !actual:
			m.Confusion.FalsePositive++
		case !predicted && actual:
			m.Confusion.FalseNegative++
		default:
			m.Confusion.TrueNegative++
		}
	}

	m.Precision = safeRatio(m.Confusion.TruePositive, m.Confusion.TruePositive+m.Confusion.FalsePositive)
	m.Recall = safeRatio(m.Confusion.TruePositive, m.Confusion.TruePositive+m.Confusion.FalseNegative)
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m
}

// rocAUC computes the area under the ROC curve by trapezoidal integration
// over the curve points from gonum. Degenerate inputs (a single class)
// yield 0.
func rocAUC(probs []float64, labels []int) float64 {
	var pos, neg int
	for _, l := range labels {
		if l == 1 {
			pos++
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0
	}

	type scored struct {
		prob     float64
		positive bool
	}
	pairs := make([]scored, len(probs))
	for i := range probs {
		pairs[i] = scored{prob: probs[i], positive: labels[i] == 1}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].prob < pairs[j].prob })

	ys := make([]float64, len(pairs))
	classes := make([]bool, len(pairs))
	for i, p := range pairs {
		ys[i] = p.prob
		classes[i] = p.positive
	}

	tpr, fpr, _ := stat.ROC(nil, ys, classes, nil)

	var auc float64
	for i := 1; i < len(fpr); i++ {
		auc += math.Abs(fpr[i]-fpr[i-1]) * (tpr[i] + tpr[i-1]) / 2
	}
	return auc
}

func safeRatio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
