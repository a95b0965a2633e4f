// Package history persists prediction runs to a local bbolt database so
// operators can compare risk scores across runs and audit past batches.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"maintguard/pkg/logx"
	"maintguard/pkg/predictor"
)

// Bucket names for the bbolt database
const (
	RunsBucket = "prediction_runs"
)

// keyFormat orders keys chronologically under a byte-wise cursor scan.
const keyFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one recorded prediction batch.
type Run struct {
	ID         string             `json:"id"`
	RecordedAt time.Time          `json:"recorded_at"`
	ModelID    string             `json:"model_id"`
	Results    []predictor.Result `json:"results"`
	RiskCounts map[string]int     `json:"risk_counts"`
	Equipment  int                `json:"equipment"`
}

// Config holds history database settings.
type Config struct {
	Path          string        `json:"path"`
	RetentionDays int           `json:"retention_days"`
	OpenTimeout   time.Duration `json:"open_timeout"`
}

// DefaultConfig returns default history settings.
func DefaultConfig() *Config {
	return &Config{
		Path:          "maintguard_history.db",
		RetentionDays: 365,
		OpenTimeout:   5 * time.Second,
	}
}

// Store records prediction runs.
type Store struct {
	db     *bolt.DB
	config *Config
	logger *logx.Logger
}

// Open opens or creates the history database at the configured path.
func Open(config *Config, logger *logx.Logger) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout: config.OpenTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(RunsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create history bucket: %w", err)
	}

	return &Store{db: db, config: config, logger: logger}, nil
}

// Close closes the history database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a completed prediction batch and prunes runs older than the
// retention window.
func (s *Store) Record(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.RecordedAt.IsZero() {
		run.RecordedAt = time.Now()
	}
	if run.RiskCounts == nil {
		run.RiskCounts = countRiskLevels(run.Results)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal prediction run: %w", err)
	}

	key := run.RecordedAt.UTC().Format(keyFormat)
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(RunsBucket)).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("store prediction run: %w", err)
	}

	pruned, err := s.prune(time.Now())
	if err != nil {
		s.logger.Warn("history_prune_failed", "error", err)
	} else if pruned > 0 {
		s.logger.Debug("history_pruned", "runs_removed", pruned)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(limit int) ([]Run, error) {
	var runs []Run
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(RunsBucket)).Cursor()
		for k, v := cursor.Last(); k != nil && len(runs) < limit; k, v = cursor.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			runs = append(runs, run)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

// EquipmentTrend returns the recorded failure probabilities for one
// equipment, oldest first.
func (s *Store) EquipmentTrend(equipmentNo string, limit int) ([]TrendPoint, error) {
	var points []TrendPoint
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(RunsBucket)).Cursor()
		for k, v := cursor.Last(); k != nil && len(points) < limit; k, v = cursor.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			for _, r := range run.Results {
				if r.EquipmentNo == equipmentNo {
					points = append(points, TrendPoint{
						RecordedAt:         run.RecordedAt,
						FailureProbability: r.FailureProbability,
						RiskLevel:          r.RiskLevel,
					})
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// reverse to chronological order
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// TrendPoint is one equipment's score from one recorded run.
type TrendPoint struct {
	RecordedAt         time.Time           `json:"recorded_at"`
	FailureProbability float64             `json:"failure_probability"`
	RiskLevel          predictor.RiskLevel `json:"risk_level"`
}

func (s *Store) prune(now time.Time) (int, error) {
	if s.config.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := now.AddDate(0, 0, -s.config.RetentionDays).UTC().Format(keyFormat)

	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		cursor := tx.Bucket([]byte(RunsBucket)).Cursor()
		for k, _ := cursor.First(); k != nil && string(k) < cutoff; k, _ = cursor.Next() {
			if err := cursor.Delete(); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return pruned, fmt.Errorf("prune history: %w", err)
	}
	return pruned, nil
}

func countRiskLevels(results []predictor.Result) map[string]int {
	counts := make(map[string]int, 4)
	for _, r := range results {
		counts[string(r.RiskLevel)]++
	}
	return counts
}
