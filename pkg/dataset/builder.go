package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"maintguard/pkg/cmms"
	"maintguard/pkg/features"
	"maintguard/pkg/logx"
	"maintguard/pkg/metrics"
	"maintguard/pkg/store"
)

// Sample is one labeled training example. Samples exist only for the
// duration of a training run.
type Sample struct {
	Snapshot cmms.Snapshot
	Features *features.Vector
	Label    int
	Weight   float64
}

// Dataset is the output of a build: all samples plus the chronological
// train/validation/test split and the fitted location encoder.
type Dataset struct {
	Train      []Sample
	Validation []Sample
	Test       []Sample

	Encoder *features.LocationEncoder

	EquipmentTotal   int
	EquipmentSkipped int
	Positives        int
}

// Size returns the total number of samples across all splits.
func (d *Dataset) Size() int {
	return len(d.Train) + len(d.Validation) + len(d.Test)
}

// Config holds dataset extraction settings.
type Config struct {
	LookbackMonths       int     `json:"lookback_months"`
	HorizonDays          int     `json:"horizon_days"`
	SnapshotIntervalDays int     `json:"snapshot_interval_days"`
	ClassWeightRatio     float64 `json:"class_weight_ratio"`
	TrainFraction        float64 `json:"train_fraction"`
	ValidationFraction   float64 `json:"validation_fraction"`
	Workers              int     `json:"workers"`
}

// DefaultConfig returns default extraction settings.
func DefaultConfig() *Config {
	return &Config{
		LookbackMonths:       12,
		HorizonDays:          30,
		SnapshotIntervalDays: 7,
		ClassWeightRatio:     10,
		TrainFraction:        0.7,
		ValidationFraction:   0.1,
		Workers:              8,
	}
}

// Builder joins the snapshot generator, feature engineer and label
// generator into a labeled dataset.
type Builder struct {
	store    store.EventStore
	engineer *features.Engineer
	logger   *logx.Logger
	config   *Config
}

// NewBuilder creates a dataset builder.
func NewBuilder(st store.EventStore, logger *logx.Logger, config *Config) *Builder {
	if config == nil {
		config = DefaultConfig()
	}
	return &Builder{
		store:    st,
		engineer: features.NewEngineer(st, logger),
		logger:   logger,
		config:   config,
	}
}

// Build extracts the labeled dataset as of now. Feature extraction runs in
// parallel across equipment; each worker holds only read access to the
// store and shares no mutable state with its peers. Equipment whose
// extraction fails transiently is skipped and counted; the build aborts
// only when a majority of equipment fail, or on a leakage-guard trip.
func (b *Builder) Build(ctx context.Context, now time.Time) (*Dataset, error) {
	start := time.Now()

	equipment, err := b.store.ListEquipment(ctx)
	if err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	if len(equipment) == 0 {
		return nil, fmt.Errorf("no active equipment in store")
	}

	locations := make([]string, len(equipment))
	for i, eq := range equipment {
		locations[i] = eq.Location
	}
	encoder := features.NewLocationEncoder(locations)

	// Every snapshot needs a full label window of future data, so the
	// newest as-of date sits one horizon behind now.
	anchor := now.AddDate(0, 0, -b.config.HorizonDays)

	b.logger.Info("dataset_build_started",
		"equipment_count", len(equipment),
		"lookback_months", b.config.LookbackMonths,
		"horizon_days", b.config.HorizonDays,
		"snapshot_interval_days", b.config.SnapshotIntervalDays,
		"anchor", anchor.Format("2006-01-02"),
	)

	workers := b.config.Workers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		samples  []Sample
		skipped  int
		fatalErr error
	)

	submitErr := forEach(pool, len(equipment), func(i int) {
		eq := equipment[i]

		got, err := b.buildEquipment(ctx, &eq, anchor, now, encoder)
		mu.Lock()
		defer mu.Unlock()

		switch {
		case err == nil:
			samples = append(samples, got...)
		case isIsolatable(err):
			skipped++
			metrics.EquipmentSkipped.Inc()
			b.logger.Warn("equipment_skipped",
				"equipment_no", eq.EquipmentNo,
				"error", err,
			)
		default:
			if fatalErr == nil {
				fatalErr = err
			}
		}
	})
	if submitErr != nil {
		return nil, fmt.Errorf("submit extraction task: %w", submitErr)
	}

	if fatalErr != nil {
		return nil, fatalErr
	}
	if skipped*2 > len(equipment) {
		return nil, fmt.Errorf("dataset build aborted: %d of %d equipment failed extraction", skipped, len(equipment))
	}

	ds := split(samples, b.config.TrainFraction, b.config.ValidationFraction)
	ds.Encoder = encoder
	ds.EquipmentTotal = len(equipment)
	ds.EquipmentSkipped = skipped
	for _, s := range append(append(append([]Sample{}, ds.Train...), ds.Validation...), ds.Test...) {
		if s.Label == 1 {
			ds.Positives++
		}
	}

	metrics.SnapshotsGenerated.Add(float64(ds.Size()))
	metrics.DatasetBuildDuration.Observe(time.Since(start).Seconds())

	b.logger.Info("dataset_build_complete",
		"samples", ds.Size(),
		"positives", ds.Positives,
		"train", len(ds.Train),
		"validation", len(ds.Validation),
		"test", len(ds.Test),
		"equipment_skipped", skipped,
		"duration_s", time.Since(start).Seconds(),
	)
	return ds, nil
}

// buildEquipment extracts all labeled samples for one equipment.
func (b *Builder) buildEquipment(ctx context.Context, eq *cmms.EquipmentRecord, anchor, now time.Time, encoder *features.LocationEncoder) ([]Sample, error) {
	dates := SnapshotDates(anchor, b.config.LookbackMonths, b.config.SnapshotIntervalDays, eq.CommissionedAt)
	samples := make([]Sample, 0, len(dates))

	for _, asOf := range dates {
		snap := cmms.Snapshot{EquipmentNo: eq.EquipmentNo, AsOf: asOf}
		if err := snap.Validate(eq, now); err != nil {
			return nil, err
		}

		vec, err := b.engineer.Compute(ctx, eq, asOf, encoder)
		if err != nil {
			return nil, err
		}
		label, err := Label(ctx, b.store, eq.EquipmentNo, asOf, b.config.HorizonDays)
		if err != nil {
			return nil, err
		}

		weight := 1.0
		if label == 1 {
			weight = b.config.ClassWeightRatio
		}
		samples = append(samples, Sample{Snapshot: snap, Features: vec, Label: label, Weight: weight})
	}
	return samples, nil
}

// isIsolatable reports whether an extraction error affects only one
// equipment. Leakage-guard trips indicate a defect and are never isolated.
func isIsolatable(err error) bool {
	var transient *store.TransientStoreError
	var leakage *features.LeakageGuardError
	if errors.As(err, &leakage) {
		return false
	}
	return errors.As(err, &transient)
}

// forEach submits task(0..n-1) to the pool and waits for every submitted
// task to finish before returning, including when a later submission
// fails. Returning earlier would let in-flight workers outlive the call.
func forEach(pool *ants.Pool, n int, task func(i int)) error {
	var wg sync.WaitGroup
	var submitErr error
	for i := 0; i < n && submitErr == nil; i++ {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			task(i)
		}); err != nil {
			wg.Done()
			submitErr = err
		}
	}
	wg.Wait()
	return submitErr
}

// split performs the chronological block split: samples are ordered by
// as-of date and cut into oldest/middle/newest blocks. A cut never lands
// inside one as-of date block, so no pair of splits shares snapshots from
// the same date, which keeps near-in-time outcomes for an equipment out
// of both train and test.
func split(samples []Sample, trainFrac, valFrac float64) *Dataset {
	sort.Slice(samples, func(i, j int) bool {
		if !samples[i].Snapshot.AsOf.Equal(samples[j].Snapshot.AsOf) {
			return samples[i].Snapshot.AsOf.Before(samples[j].Snapshot.AsOf)
		}
		return samples[i].Snapshot.EquipmentNo < samples[j].Snapshot.EquipmentNo
	})

	n := len(samples)
	trainEnd := blockBoundary(samples, int(float64(n)*trainFrac))
	valEnd := blockBoundary(samples, int(float64(n)*(trainFrac+valFrac)))
	if valEnd < trainEnd {
		valEnd = trainEnd
	}

	return &Dataset{
		Train:      samples[:trainEnd],
		Validation: samples[trainEnd:valEnd],
		Test:       samples[valEnd:],
	}
}

// blockBoundary advances an index to the end of the as-of date block it
// falls inside.
func blockBoundary(samples []Sample, idx int) int {
	if idx <= 0 {
		return 0
	}
	if idx >= len(samples) {
		return len(samples)
	}
	cut := samples[idx-1].Snapshot.AsOf
	for idx < len(samples) && samples[idx].Snapshot.AsOf.Equal(cut) {
		idx++
	}
	return idx
}
