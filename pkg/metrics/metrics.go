// Package metrics exposes Prometheus instrumentation for the pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// SnapshotsGenerated counts labeled snapshots produced by dataset builds.
	SnapshotsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "maintguard",
			Subsystem: "dataset",
			Name:      "snapshots_generated_total",
			Help:      "Total number of labeled snapshots generated.",
		},
	)

	// EquipmentSkipped counts equipment skipped after retry exhaustion.
	EquipmentSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "maintguard",
			Subsystem: "dataset",
			Name:      "equipment_skipped_total",
			Help:      "Total number of equipment skipped due to store failures.",
		},
	)

	// DatasetBuildDuration tracks wall time of dataset builds.
	DatasetBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "maintguard",
			Subsystem: "dataset",
			Name:      "build_duration_seconds",
			Help:      "Duration of dataset builds in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// TrainingDuration tracks wall time of model training runs.
	TrainingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "maintguard",
			Subsystem: "trainer",
			Name:      "training_duration_seconds",
			Help:      "Duration of model training runs in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// PredictionsTotal counts predictions by risk level.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "maintguard",
			Subsystem: "predictor",
			Name:      "predictions_total",
			Help:      "Total number of predictions produced, by risk level.",
		},
		[]string{"risk_level"},
	)

	// ModelAgeDays reports the age of the loaded model bundle.
	ModelAgeDays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "maintguard",
			Subsystem: "registry",
			Name:      "model_age_days",
			Help:      "Age in days of the currently loaded model bundle.",
		},
	)
)

func init() {
	// Safe register; duplicate registration is ignored so multiple
	// importing binaries do not panic.
	_ = prometheus.Register(SnapshotsGenerated)
	_ = prometheus.Register(EquipmentSkipped)
	_ = prometheus.Register(DatasetBuildDuration)
	_ = prometheus.Register(TrainingDuration)
	_ = prometheus.Register(PredictionsTotal)
	_ = prometheus.Register(ModelAgeDays)
}
