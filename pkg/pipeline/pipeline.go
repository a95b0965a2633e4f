// Package pipeline wires the store, dataset builder, trainer, registry,
// predictor and history log into the operations the CLI exposes.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"maintguard/pkg/config"
	"maintguard/pkg/dataset"
	"maintguard/pkg/history"
	"maintguard/pkg/logx"
	"maintguard/pkg/predictor"
	"maintguard/pkg/registry"
	"maintguard/pkg/report"
	"maintguard/pkg/store"
	"maintguard/pkg/trainer"
)

// Pipeline owns the full train/predict lifecycle.
type Pipeline struct {
	cfg        *config.Config
	logger     *logx.Logger
	store      store.EventStore
	closeStore func() error
	registry   *registry.Registry
	predictor  *predictor.Predictor
	history    *history.Store
	bundle     *registry.Bundle
}

// New opens the CMMS store, the model registry and the history log and
// loads the current model bundle if one exists.
func New(cfg *config.Config, logger *logx.Logger) (*Pipeline, error) {
	st, err := store.Open(&store.Config{
		Path:           cfg.Store.Path,
		MaxRetries:     cfg.Store.MaxRetries,
		RetryBaseDelay: cfg.Store.RetryBaseDelay,
		RetryMaxDelay:  cfg.Store.RetryMaxDelay,
	}, logger.WithComponent("store"))
	if err != nil {
		return nil, err
	}

	p, err := build(cfg, logger, st, st.Close)
	if err != nil {
		st.Close()
		return nil, err
	}
	return p, nil
}

// build wires the pipeline over an already-opened event store.
func build(cfg *config.Config, logger *logx.Logger, st store.EventStore, closeStore func() error) (*Pipeline, error) {
	reg, err := registry.New(cfg.Model.Dir, logger.WithComponent("registry"))
	if err != nil {
		return nil, err
	}

	hist, err := history.Open(&history.Config{
		Path:          cfg.History.Path,
		RetentionDays: cfg.History.RetentionDays,
		OpenTimeout:   5 * time.Second,
	}, logger.WithComponent("history"))
	if err != nil {
		return nil, err
	}

	pred := predictor.New(st, logger.WithComponent("predictor"), &predictor.Config{
		Workers:           cfg.Predict.Workers,
		HighRiskThreshold: cfg.Predict.HighRiskThreshold,
		ModelMaxAge:       time.Duration(cfg.Model.MaxAgeDays) * 24 * time.Hour,
	})

	p := &Pipeline{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		closeStore: closeStore,
		registry:   reg,
		predictor:  pred,
		history:    hist,
	}

	bundle, err := reg.Load()
	switch err.(type) {
	case nil:
		pred.UseBundle(bundle)
		p.bundle = bundle
		logger.Info("model_loaded",
			"bundle_id", bundle.ID,
			"trained_at", bundle.Metadata.TrainedAt,
		)
	case *registry.ModelNotFoundError:
		logger.Info("no_model_loaded", "model_dir", cfg.Model.Dir)
	default:
		hist.Close()
		return nil, err
	}

	return p, nil
}

// Close releases the store and history database.
func (p *Pipeline) Close() error {
	histErr := p.history.Close()
	if p.closeStore != nil {
		if err := p.closeStore(); err != nil {
			return err
		}
	}
	return histErr
}

// Train builds a fresh dataset, fits a model, persists the bundle and
// loads it for subsequent predictions. Nothing is persisted when training
// fails; the previously current bundle stays in effect.
func (p *Pipeline) Train(ctx context.Context) (*trainer.Report, error) {
	t := p.cfg.Training

	builder := dataset.NewBuilder(p.store, p.logger.WithComponent("dataset"), &dataset.Config{
		LookbackMonths:       t.LookbackMonths,
		HorizonDays:          t.HorizonDays,
		SnapshotIntervalDays: t.SnapshotIntervalDays,
		ClassWeightRatio:     t.ClassWeightRatio,
		TrainFraction:        t.TrainFraction,
		ValidationFraction:   t.ValidationFraction,
		Workers:              t.Workers,
	})

	ds, err := builder.Build(ctx, time.Now())
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}

	tr := trainer.New(p.logger.WithComponent("trainer"), &trainer.Config{
		TreeCount:           t.TreeCount,
		MaxDepth:            10,
		MinSamplesSplit:     20,
		MinSamplesLeaf:      10,
		MinPositiveSamples:  t.MinPositiveSamples,
		ThresholdSearchStep: t.ThresholdSearchStep,
		ThresholdObjective:  t.ThresholdObjective,
		Seed:                t.Seed,
	})

	model, rep, err := tr.Train(ds)
	if err != nil {
		return nil, err
	}

	bundle, err := p.registry.Save(model, registry.Metadata{
		TrainedAt:            rep.TrainedAt,
		Counts:               rep.Counts,
		Metrics:              rep.Metrics,
		LookbackMonths:       t.LookbackMonths,
		HorizonDays:          t.HorizonDays,
		SnapshotIntervalDays: t.SnapshotIntervalDays,
	})
	if err != nil {
		return nil, fmt.Errorf("persist model bundle: %w", err)
	}

	p.predictor.UseBundle(bundle)
	p.bundle = bundle
	p.logger.Info("training_complete",
		"bundle_id", bundle.ID,
		"samples", rep.Counts.Total,
		"positives", rep.Counts.Positives,
		"threshold", rep.Threshold,
	)
	return rep, nil
}

// PredictOne scores a single equipment.
func (p *Pipeline) PredictOne(ctx context.Context, equipmentNo string) (*predictor.Result, error) {
	return p.predictor.PredictOne(ctx, equipmentNo)
}

// PredictAll scores the whole fleet, records the run in the history log
// and returns results ordered by descending failure probability.
func (p *Pipeline) PredictAll(ctx context.Context) ([]predictor.Result, error) {
	results, err := p.predictor.PredictAll(ctx)
	if err != nil {
		return nil, err
	}

	if err := p.recordRun(results); err != nil {
		p.logger.Warn("history_record_failed", "error", err)
	}
	return results, nil
}

// HighRisk returns fleet predictions at or above the threshold. Pass a
// negative threshold to use the configured default.
func (p *Pipeline) HighRisk(ctx context.Context, threshold float64) ([]predictor.Result, error) {
	return p.predictor.HighRisk(ctx, threshold)
}

// RiskReport scores the fleet and renders the plain-text risk report.
func (p *Pipeline) RiskReport(ctx context.Context) (string, error) {
	results, err := p.PredictAll(ctx)
	if err != nil {
		return "", err
	}
	return report.RiskReport(results, time.Now()), nil
}

// ModelState returns the predictor lifecycle state.
func (p *Pipeline) ModelState() predictor.State {
	return p.predictor.State()
}

// RecentRuns returns the most recent recorded prediction runs.
func (p *Pipeline) RecentRuns(limit int) ([]history.Run, error) {
	return p.history.Recent(limit)
}

// EquipmentTrend returns recorded scores for one equipment, oldest first.
func (p *Pipeline) EquipmentTrend(equipmentNo string, limit int) ([]history.TrendPoint, error) {
	return p.history.EquipmentTrend(equipmentNo, limit)
}

func (p *Pipeline) recordRun(results []predictor.Result) error {
	modelID := ""
	if p.bundle != nil {
		modelID = p.bundle.ID
	}
	return p.history.Record(&history.Run{
		RecordedAt: time.Now(),
		ModelID:    modelID,
		Results:    results,
		Equipment:  len(results),
	})
}
