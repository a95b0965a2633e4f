// Package predictor scores current equipment snapshots with a loaded model
// bundle and produces the ranked, risk-categorized equipment list.
package predictor

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
	"maintguard/pkg/registry"
	"maintguard/pkg/store"
)

// State tracks the model lifecycle. No transition ever mutates a persisted
// bundle; retraining produces a new bundle and re-enters StateTrained.
type State string

const (
	StateUntrained State = "untrained"
	StateTrained   State = "trained"
	StatePersisted State = "persisted"
	StateLoaded    State = "loaded"
	StateStale     State = "stale"
)

// Result is one equipment failure prediction.
type Result struct {
	EquipmentNo        string    `json:"equipment_no"`
	Description        string    `json:"description"`
	Location           string    `json:"location"`
	FailureProbability float64   `json:"failure_probability"`
	RiskLevel          RiskLevel `json:"risk_level"`
	Recommendation     string    `json:"recommendation"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Config holds inference settings.
type Config struct {
	Workers           int           `json:"workers"`
	HighRiskThreshold float64       `json:"high_risk_threshold"`
	ModelMaxAge       time.Duration `json:"model_max_age"`
}

// DefaultConfig returns default inference settings.
func DefaultConfig() *Config {
	return &Config{
		Workers:           8,
		HighRiskThreshold: 0.4,
		ModelMaxAge:       90 * 24 * time.Hour,
	}
}

// Predictor scores equipment with a loaded model bundle.
type Predictor struct {
	mu       sync.RWMutex
	store    store.EventStore
	engineer *features.Engineer
	logger   *logx.Logger
	config   *Config

	bundle *registry.Bundle
	state  State
}

// New creates a predictor with no model loaded.
func New(st store.EventStore, logger *logx.Logger, config *Config) *Predictor {
	if config == nil {
		config = DefaultConfig()
	}
	return &Predictor{
		store:    st,
		engineer: features.NewEngineer(st, logger),
		logger:   logger,
		config:   config,
		state:    StateUntrained,
	}
}

// UseBundle loads a bundle for scoring. A bundle older than the configured
// maximum age enters StateStale: it still scores, but callers should
// retrain.
func (p *Predictor) UseBundle(bundle *registry.Bundle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.bundle = bundle
	p.state = StateLoaded
	if bundle.StaleAt(time.Now(), p.config.ModelMaxAge) {
		p.state = StateStale
		p.logger.Warn("model_bundle_stale",
			"bundle_id", bundle.ID,
			"trained_at", bundle.Metadata.TrainedAt,
			"max_age", p.config.ModelMaxAge,
		)
	}
}

// State returns the current lifecycle state, re-checking staleness so a
// long-lived loaded bundle eventually flips to StateStale.
func (p *Predictor) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateLoaded && p.bundle.StaleAt(time.Now(), p.config.ModelMaxAge) {
		p.state = StateStale
	}
	return p.state
}

// PredictOne scores a single equipment as of now.
func (p *Predictor) PredictOne(ctx context.Context, equipmentNo string) (*Result, error) {
	bundle, err := p.currentBundle()
	if err != nil {
		return nil, err
	}

	eq, err := p.store.Equipment(ctx, equipmentNo)
	if err != nil {
		return nil, err
	}
	return p.predictEquipment(ctx, eq, bundle, time.Now())
}

// PredictAll scores every active equipment in parallel and returns results
// ordered by descending failure probability. Equipment whose extraction
// fails transiently is skipped; the call fails only when a majority fail.
func (p *Predictor) PredictAll(ctx context.Context) ([]Result, error) {
	bundle, err := p.currentBundle()
	if err != nil {
		return nil, err
	}

	equipment, err := p.store.ListEquipment(ctx)
	if err != nil {
		return nil, err
	}

	workers := p.config.Workers
	if workers < 1 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	now := time.Now()
	var (
		mu       sync.Mutex
		results  []Result
		skipped  int
		fatalErr error
	)

	submitErr := forEach(pool, len(equipment), func(i int) {
		eq := equipment[i]

		res, err := p.predictEquipment(ctx, &eq, bundle, now)
		mu.Lock()
		defer mu.Unlock()

		switch {
		case err == nil:
			results = append(results, *res)
		case isIsolatable(err):
			skipped++
			p.logger.Warn("prediction_skipped",
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
		return nil, fmt.Errorf("submit prediction task: %w", submitErr)
	}

	if fatalErr != nil {
		return nil, fatalErr
	}
	if skipped*2 > len(equipment) {
		return nil, fmt.Errorf("prediction batch aborted: %d of %d equipment failed", skipped, len(equipment))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FailureProbability != results[j].FailureProbability {
			return results[i].FailureProbability > results[j].FailureProbability
		}
		return results[i].EquipmentNo < results[j].EquipmentNo
	})

	p.logger.Info("prediction_batch_complete",
		"equipment_total", len(equipment),
		"scored", len(results),
		"skipped", skipped,
	)
	return results, nil
}

// HighRisk returns predictions at or above the threshold, ordered by
// descending probability. A negative threshold selects the configured
// default.
func (p *Predictor) HighRisk(ctx context.Context, threshold float64) ([]Result, error) {
	if threshold < 0 {
		threshold = p.config.HighRiskThreshold
	}

	all, err := p.PredictAll(ctx)
	if err != nil {
		return nil, err
	}

	high := make([]Result, 0, len(all))
	for _, r := range all {
		if r.FailureProbability >= threshold {
			high = append(high, r)
		}
	}
	return high, nil
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

func (p *Predictor) currentBundle() (*registry.Bundle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.bundle == nil {
		return nil, &registry.ModelNotFoundError{}
	}
	return p.bundle, nil
}

func (p *Predictor) predictEquipment(ctx context.Context, eq *cmms.EquipmentRecord, bundle *registry.Bundle, now time.Time) (*Result, error) {
	vec, err := p.engineer.Compute(ctx, eq, now, bundle.Model.Encoder)
	if err != nil {
		return nil, err
	}

	prob, err := bundle.Model.Proba(vec.Values())
	if err != nil {
		return nil, err
	}
	if prob < 0 {
		prob = 0
	} else if prob > 1 {
		prob = 1
	}

	level := RiskFor(prob)
	metrics.PredictionsTotal.WithLabelValues(string(level)).Inc()

	return &Result{
		EquipmentNo:        eq.EquipmentNo,
		Description:        eq.Description,
		Location:           eq.Location,
		FailureProbability: prob,
		RiskLevel:          level,
		Recommendation:     RecommendationFor(level),
		GeneratedAt:        now,
	}, nil
}

// isIsolatable reports whether a per-equipment failure may be skipped.
func isIsolatable(err error) bool {
	var transient *store.TransientStoreError
	return errors.As(err, &transient)
}
