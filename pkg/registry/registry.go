// Package registry persists trained model bundles as self-describing,
// versioned JSON files. Bundles are immutable once written: retraining
// produces a new bundle file and atomically repoints the current marker,
// so a concurrent reader never observes a partial or mutated bundle.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"maintguard/pkg/features"
	"maintguard/pkg/logx"
	"maintguard/pkg/metrics"
	"maintguard/pkg/trainer"
)

// FormatVersion tags the bundle layout for forward-compatibility checks.
const FormatVersion = 1

// currentMarker is the file naming the active bundle inside the registry
// directory.
const currentMarker = "current"

// Bundle is one persisted trained model with its provenance.
type Bundle struct {
	FormatVersion int            `json:"format_version"`
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	Model         *trainer.Model `json:"model"`
	Metadata      Metadata       `json:"metadata"`
}

// Metadata records how the bundle was trained.
type Metadata struct {
	TrainedAt            time.Time                  `json:"trained_at"`
	Counts               trainer.SampleCounts       `json:"sample_counts"`
	Metrics              map[string]trainer.Metrics `json:"metrics"`
	LookbackMonths       int                        `json:"lookback_months"`
	HorizonDays          int                        `json:"horizon_days"`
	SnapshotIntervalDays int                        `json:"snapshot_interval_days"`
}

// AgeAt returns the bundle age at the given instant.
func (b *Bundle) AgeAt(now time.Time) time.Duration {
	return now.Sub(b.Metadata.TrainedAt)
}

// StaleAt reports whether the bundle is older than maxAge. Stale bundles
// are flagged for retraining, never deleted.
func (b *Bundle) StaleAt(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && b.AgeAt(now) > maxAge
}

// Registry stores bundles in a directory.
type Registry struct {
	dir    string
	logger *logx.Logger
}

// New creates a registry rooted at dir, creating it if needed.
func New(dir string, logger *logx.Logger) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry directory: %w", err)
	}
	return &Registry{dir: dir, logger: logger}, nil
}

// Save persists a new bundle and repoints the current marker to it. Both
// writes go through a temporary file and an atomic rename; a failed save
// leaves no partial bundle and the previous current bundle untouched.
func (r *Registry) Save(model *trainer.Model, meta Metadata) (*Bundle, error) {
	bundle := &Bundle{
		FormatVersion: FormatVersion,
		ID:            uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
		Model:         model,
		Metadata:      meta,
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}

	name := fmt.Sprintf("bundle-%s-%s.json", bundle.CreatedAt.Format("20060102T150405Z"), bundle.ID[:8])
	if err := atomicWrite(filepath.Join(r.dir, name), data); err != nil {
		return nil, fmt.Errorf("write bundle: %w", err)
	}
	if err := atomicWrite(filepath.Join(r.dir, currentMarker), []byte(name)); err != nil {
		return nil, fmt.Errorf("update current marker: %w", err)
	}

	r.logger.Info("model_bundle_saved",
		"bundle_id", bundle.ID,
		"file", name,
		"trained_at", meta.TrainedAt,
		"features", len(model.FeatureNames),
	)
	return bundle, nil
}

// Load reads the current bundle. It fails with *ModelNotFoundError when no
// bundle exists and with *SchemaMismatchError when the persisted feature
// list does not match the current feature engineer output.
func (r *Registry) Load() (*Bundle, error) {
	markerPath := filepath.Join(r.dir, currentMarker)
	name, err := os.ReadFile(markerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ModelNotFoundError{Path: r.dir}
		}
		return nil, fmt.Errorf("read current marker: %w", err)
	}

	bundlePath := filepath.Join(r.dir, string(name))
	data, err := os.ReadFile(bundlePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ModelNotFoundError{Path: bundlePath}
		}
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	var bundle Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse bundle %s: %w", bundlePath, err)
	}

	if bundle.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("bundle %s has format version %d, this build reads version %d",
			bundlePath, bundle.FormatVersion, FormatVersion)
	}

	expected := features.Names()
	if !sameSchema(expected, bundle.Model.FeatureNames) {
		return nil, &SchemaMismatchError{Expected: expected, Found: bundle.Model.FeatureNames}
	}

	metrics.ModelAgeDays.Set(bundle.AgeAt(time.Now()).Hours() / 24)

	r.logger.Info("model_bundle_loaded",
		"bundle_id", bundle.ID,
		"trained_at", bundle.Metadata.TrainedAt,
		"threshold", bundle.Model.Threshold,
	)
	return &bundle, nil
}

// atomicWrite writes data to a temporary file in the target directory and
// renames it over the final path in one step.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func sameSchema(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
