package trainer

import "fmt"

// DataInsufficientError aborts a training run that has too few positive
// samples to produce a meaningful model. It fires before any fitting
// happens, so no degenerate model is ever built or persisted.
type DataInsufficientError struct {
	Positives int
	Required  int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("insufficient training data: %d positive samples, need at least %d", e.Positives, e.Required)
}
