package trainer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Scaler standardizes feature columns to zero mean and unit variance.
// Fitted parameters persist inside the model bundle so inference applies
// exactly the training-time transform.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// FitScaler computes per-column mean and standard deviation. Constant
// columns get a unit deviation so they pass through unchanged instead of
// producing NaN.
func FitScaler(X [][]float64) (*Scaler, error) {
	if len(X) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on empty matrix")
	}
	p := len(X[0])
	s := &Scaler{
		Means: make([]float64, p),
		Stds:  make([]float64, p),
	}

	col := make([]float64, len(X))
	for j := 0; j < p; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Means[j] = mean
		s.Stds[j] = std
	}
	return s, nil
}

// Transform standardizes one raw feature vector.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Means) {
		return nil, fmt.Errorf("vector has %d values, scaler expects %d", len(x), len(s.Means))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out, nil
}

// TransformAll standardizes a matrix row by row.
func (s *Scaler) TransformAll(X [][]float64) ([][]float64, error) {
	out := make([][]float64, len(X))
	for i, row := range X {
		scaled, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = scaled
	}
	return out, nil
}
