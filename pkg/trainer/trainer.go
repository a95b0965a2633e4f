// Package trainer fits the failure-prediction model: feature scaling, the
// bagged tree ensemble, decision-threshold calibration and evaluation.
package trainer

import (
	"time"

	"github.com/sajari/regression"

	"maintguard/pkg/dataset"
	"maintguard/pkg/features"
	"maintguard/pkg/forest"
	"maintguard/pkg/logx"
	"maintguard/pkg/metrics"
)

// Config holds training settings.
type Config struct {
	TreeCount           int     `json:"tree_count"`
	MaxDepth            int     `json:"max_depth"`
	MinSamplesSplit     int     `json:"min_samples_split"`
	MinSamplesLeaf      int     `json:"min_samples_leaf"`
	MinPositiveSamples  int     `json:"min_positive_samples"`
	ThresholdSearchStep float64 `json:"threshold_search_step"`
	ThresholdObjective  string  `json:"threshold_objective"`
	Seed                int64   `json:"seed"`
}

// DefaultConfig returns the default training settings.
func DefaultConfig() *Config {
	return &Config{
		TreeCount:           200,
		MaxDepth:            10,
		MinSamplesSplit:     20,
		MinSamplesLeaf:      10,
		MinPositiveSamples:  30,
		ThresholdSearchStep: 0.01,
		ThresholdObjective:  ObjectiveF1,
		Seed:                42,
	}
}

// Model is a trained failure-prediction model: the ensemble plus
// everything inference needs to reproduce the training-time transform.
type Model struct {
	Forest       *forest.Forest            `json:"forest"`
	Scaler       *Scaler                   `json:"scaler"`
	FeatureNames []string                  `json:"feature_names"`
	Encoder      *features.LocationEncoder `json:"location_encoding"`
	Threshold    float64                   `json:"threshold"`
}

// Proba scores one raw (unscaled) feature vector.
func (m *Model) Proba(raw []float64) (float64, error) {
	scaled, err := m.Scaler.Transform(raw)
	if err != nil {
		return 0, err
	}
	return m.Forest.PredictProba(scaled)
}

// SampleCounts summarizes the dataset a model was trained on.
type SampleCounts struct {
	Total      int `json:"total"`
	Train      int `json:"train"`
	Validation int `json:"validation"`
	Test       int `json:"test"`
	Positives  int `json:"positives"`
}

// Report is the outcome of one training run, returned to the caller and
// persisted in the bundle metadata.
type Report struct {
	TrainedAt  time.Time          `json:"trained_at"`
	Duration   time.Duration      `json:"duration"`
	Counts     SampleCounts       `json:"counts"`
	Threshold  float64            `json:"threshold"`
	Objective  string             `json:"objective"`
	Metrics    map[string]Metrics `json:"metrics"`
	BaselineR2 float64            `json:"baseline_r2"`
}

// Trainer fits models from labeled datasets.
type Trainer struct {
	logger *logx.Logger
	config *Config
}

// New creates a trainer.
func New(logger *logx.Logger, config *Config) *Trainer {
	if config == nil {
		config = DefaultConfig()
	}
	return &Trainer{logger: logger, config: config}
}

// Train fits the scaler and forest on the dataset's training split,
// calibrates the decision threshold on the validation split and evaluates
// on all three. It returns *DataInsufficientError before fitting anything
// when the training split holds too few positives.
func (t *Trainer) Train(ds *dataset.Dataset) (*Model, *Report, error) {
	start := time.Now()

	trainPositives := countPositives(ds.Train)
	if trainPositives < t.config.MinPositiveSamples {
		return nil, nil, &DataInsufficientError{Positives: trainPositives, Required: t.config.MinPositiveSamples}
	}

	X, y, w := toMatrix(ds.Train)

	scaler, err := FitScaler(X)
	if err != nil {
		return nil, nil, err
	}
	scaled, err := scaler.TransformAll(X)
	if err != nil {
		return nil, nil, err
	}

	t.logger.Info("training_started",
		"train_samples", len(ds.Train),
		"positives", trainPositives,
		"tree_count", t.config.TreeCount,
	)

	f, err := forest.Fit(scaled, y, w, &forest.Config{
		TreeCount:       t.config.TreeCount,
		MaxDepth:        t.config.MaxDepth,
		MinSamplesSplit: t.config.MinSamplesSplit,
		MinSamplesLeaf:  t.config.MinSamplesLeaf,
		Seed:            t.config.Seed,
	})
	if err != nil {
		return nil, nil, err
	}

	model := &Model{
		Forest:       f,
		Scaler:       scaler,
		FeatureNames: features.Names(),
		Encoder:      ds.Encoder,
		Threshold:    0.5,
	}

	// Calibrate the decision threshold on validation data. Without a
	// validation block the default threshold stands.
	if len(ds.Validation) > 0 {
		valProbs, valLabels, err := t.score(model, ds.Validation)
		if err != nil {
			return nil, nil, err
		}
		threshold, score := OptimizeThreshold(valProbs, valLabels, t.config.ThresholdSearchStep, t.config.ThresholdObjective)
		model.Threshold = threshold
		t.logger.Info("threshold_calibrated",
			"threshold", threshold,
			"objective", t.config.ThresholdObjective,
			"score", score,
		)
	}

	report := &Report{
		TrainedAt: time.Now().UTC(),
		Counts: SampleCounts{
			Total:      ds.Size(),
			Train:      len(ds.Train),
			Validation: len(ds.Validation),
			Test:       len(ds.Test),
			Positives:  ds.Positives,
		},
		Threshold:  model.Threshold,
		Objective:  t.config.ThresholdObjective,
		Metrics:    make(map[string]Metrics, 3),
		BaselineR2: t.baselineR2(scaled, y),
	}

	for name, split := range map[string][]dataset.Sample{
		"train":      ds.Train,
		"validation": ds.Validation,
		"test":       ds.Test,
	} {
		if len(split) == 0 {
			continue
		}
		m, err := t.Evaluate(model, split)
		if err != nil {
			return nil, nil, err
		}
		report.Metrics[name] = m
	}

	report.Duration = time.Since(start)
	metrics.TrainingDuration.Observe(report.Duration.Seconds())

	t.logger.Info("training_complete",
		"duration_s", report.Duration.Seconds(),
		"threshold", model.Threshold,
		"test_roc_auc", report.Metrics["test"].ROCAUC,
		"test_f1", report.Metrics["test"].F1,
		"baseline_r2", report.BaselineR2,
	)
	return model, report, nil
}

// Evaluate scores a sample set with the model and computes metrics at the
// model's calibrated threshold.
func (t *Trainer) Evaluate(model *Model, samples []dataset.Sample) (Metrics, error) {
	probs, labels, err := t.score(model, samples)
	if err != nil {
		return Metrics{}, err
	}
	return EvaluateProbs(probs, labels, model.Threshold), nil
}

func (t *Trainer) score(model *Model, samples []dataset.Sample) ([]float64, []int, error) {
	probs := make([]float64, len(samples))
	labels := make([]int, len(samples))
	for i, s := range samples {
		p, err := model.Proba(s.Features.Values())
		if err != nil {
			return nil, nil, err
		}
		probs[i] = p
		labels[i] = s.Label
	}
	return probs, labels, nil
}

// baselineR2 fits a plain linear regression over the scaled training
// matrix as a sanity baseline. A forest that cannot beat this is suspect.
// Regression failures (for example a singular design matrix) only cost
// the baseline figure, never the run.
func (t *Trainer) baselineR2(scaled [][]float64, y []int) float64 {
	var r regression.Regression
	r.SetObserved("failure_within_horizon")
	for i, name := range features.Names() {
		r.SetVar(i, name)
	}
	for i, row := range scaled {
		r.Train(regression.DataPoint(float64(y[i]), row))
	}
	if err := r.Run(); err != nil {
		t.logger.Warn("baseline_regression_failed", "error", err)
		return 0
	}
	return r.R2
}

func countPositives(samples []dataset.Sample) int {
	var n int
	for _, s := range samples {
		if s.Label == 1 {
			n++
		}
	}
	return n
}

func toMatrix(samples []dataset.Sample) (X [][]float64, y []int, w []float64) {
	X = make([][]float64, len(samples))
	y = make([]int, len(samples))
	w = make([]float64, len(samples))
	for i, s := range samples {
		X[i] = s.Features.Values()
		y[i] = s.Label
		w[i] = s.Weight
	}
	return X, y, w
}
