package trainer

import (
	"math"
	"testing"
)

func TestEvaluateProbsConfusion(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.3, 0.1, 0.6, 0.2}
	labels := []int{1, 1, 1, 0, 0, 0}

	m := EvaluateProbs(probs, labels, 0.5)

	want := Confusion{TruePositive: 2, FalseNegative: 1, FalsePositive: 1, TrueNegative: 2}
	if m.Confusion != want {
		t.Errorf("confusion = %+v, want %+v", m.Confusion, want)
	}
	if got, wantP := m.Precision, 2.0/3.0; math.Abs(got-wantP) > 1e-12 {
		t.Errorf("precision = %v, want %v", got, wantP)
	}
	if got, wantR := m.Recall, 2.0/3.0; math.Abs(got-wantR) > 1e-12 {
		t.Errorf("recall = %v, want %v", got, wantR)
	}
	if got, wantF := m.F1, 2.0/3.0; math.Abs(got-wantF) > 1e-12 {
		t.Errorf("f1 = %v, want %v", got, wantF)
	}
}

func TestEvaluateProbsThresholdInclusive(t *testing.T) {
	m := EvaluateProbs([]float64{0.5}, []int{1}, 0.5)
	if m.Confusion.TruePositive != 1 {
		t.Errorf("probability equal to threshold should predict positive, got %+v", m.Confusion)
	}
}

func TestEvaluateProbsZeroDivision(t *testing.T) {
	// No predicted positives and no actual positives: every ratio is 0.
	m := EvaluateProbs([]float64{0.1, 0.2}, []int{0, 0}, 0.5)
	if m.Precision != 0 || m.Recall != 0 || m.F1 != 0 {
		t.Errorf("metrics = %+v, want all zero", m)
	}
	if math.IsNaN(m.Precision) || math.IsNaN(m.Recall) || math.IsNaN(m.F1) {
		t.Error("zero-division case produced NaN")
	}
}

func TestROCAUCPerfectRanking(t *testing.T) {
	probs := []float64{0.9, 0.8, 0.2, 0.1}
	labels := []int{1, 1, 0, 0}
	m := EvaluateProbs(probs, labels, 0.5)
	if math.Abs(m.ROCAUC-1.0) > 1e-12 {
		t.Errorf("ROCAUC = %v, want 1.0 for perfect ranking", m.ROCAUC)
	}
}

func TestROCAUCSingleClass(t *testing.T) {
	m := EvaluateProbs([]float64{0.2, 0.9}, []int{1, 1}, 0.5)
	if m.ROCAUC != 0 {
		t.Errorf("single-class ROCAUC = %v, want 0", m.ROCAUC)
	}
}
