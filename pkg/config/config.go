// Package config loads the pipeline configuration.
//
// Configuration is resolved from, in order of precedence:
// 1. Environment variables (TRAINING_HORIZON_DAYS, STORE_PATH, ...)
// 2. An optional config.yaml file
// 3. Built-in defaults
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure. Every tunable of the
// training and prediction pipeline lives here; nothing is scattered
// across call sites.
type Config struct {
	Store    StoreConfig    `mapstructure:"store"`
	Training TrainingConfig `mapstructure:"training"`
	Model    ModelConfig    `mapstructure:"model"`
	Predict  PredictConfig  `mapstructure:"predict"`
	History  HistoryConfig  `mapstructure:"history"`
	Log      LogConfig      `mapstructure:"log"`
}

// StoreConfig contains CMMS database settings.
type StoreConfig struct {
	Path           string        `mapstructure:"path"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration `mapstructure:"retry_max_delay"`
}

// TrainingConfig contains dataset extraction and model fitting settings.
type TrainingConfig struct {
	LookbackMonths       int     `mapstructure:"lookback_months"`
	HorizonDays          int     `mapstructure:"horizon_days"`
	SnapshotIntervalDays int     `mapstructure:"snapshot_interval_days"`
	TreeCount            int     `mapstructure:"tree_count"`
	ClassWeightRatio     float64 `mapstructure:"class_weight_ratio"`
	MinPositiveSamples   int     `mapstructure:"min_positive_samples"`
	ThresholdSearchStep  float64 `mapstructure:"threshold_search_step"`
	ThresholdObjective   string  `mapstructure:"threshold_objective"`
	TrainFraction        float64 `mapstructure:"train_fraction"`
	ValidationFraction   float64 `mapstructure:"validation_fraction"`
	Seed                 int64   `mapstructure:"seed"`
	Workers              int     `mapstructure:"workers"`
}

// ModelConfig contains model bundle persistence settings.
type ModelConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// PredictConfig contains inference settings.
type PredictConfig struct {
	Workers           int     `mapstructure:"workers"`
	HighRiskThreshold float64 `mapstructure:"high_risk_threshold"`
}

// HistoryConfig contains prediction-run log settings.
type HistoryConfig struct {
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from the given file path (optional; pass ""
// to search the default locations), applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/maintguard")
	}

	// Maps nested config: training.horizon_days -> TRAINING_HORIZON_DAYS
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path == "" {
			return nil, fmt.Errorf("read config: %w", err)
		} else if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		// Config file is optional; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without touching the
// filesystem or environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Unmarshal of defaults cannot fail: the defaults are typed below.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks for configuration errors that would corrupt a
// training run rather than merely failing it.
func (c *Config) Validate() error {
	t := c.Training
	if t.LookbackMonths < 1 {
		return fmt.Errorf("training.lookback_months must be >= 1, got %d", t.LookbackMonths)
	}
	if t.HorizonDays < 1 {
		return fmt.Errorf("training.horizon_days must be >= 1, got %d", t.HorizonDays)
	}
	if t.SnapshotIntervalDays < 1 {
		return fmt.Errorf("training.snapshot_interval_days must be >= 1, got %d", t.SnapshotIntervalDays)
	}
	if t.TreeCount < 1 {
		return fmt.Errorf("training.tree_count must be >= 1, got %d", t.TreeCount)
	}
	if t.ClassWeightRatio <= 0 {
		return fmt.Errorf("training.class_weight_ratio must be positive, got %v", t.ClassWeightRatio)
	}
	if t.ThresholdSearchStep <= 0 || t.ThresholdSearchStep >= 1 {
		return fmt.Errorf("training.threshold_search_step must be in (0,1), got %v", t.ThresholdSearchStep)
	}
	if t.TrainFraction <= 0 || t.ValidationFraction < 0 ||
		t.TrainFraction+t.ValidationFraction >= 1 {
		return fmt.Errorf("training split fractions must leave room for a test set: train=%v validation=%v",
			t.TrainFraction, t.ValidationFraction)
	}
	switch t.ThresholdObjective {
	case "f1", "precision", "recall":
	default:
		return fmt.Errorf("training.threshold_objective must be one of f1|precision|recall, got %q", t.ThresholdObjective)
	}
	if c.Predict.HighRiskThreshold < 0 || c.Predict.HighRiskThreshold > 1 {
		return fmt.Errorf("predict.high_risk_threshold must be in [0,1], got %v", c.Predict.HighRiskThreshold)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.path", "/var/lib/maintguard/cmms.db")
	v.SetDefault("store.max_retries", 4)
	v.SetDefault("store.retry_base_delay", "250ms")
	v.SetDefault("store.retry_max_delay", "5s")

	v.SetDefault("training.lookback_months", 12)
	v.SetDefault("training.horizon_days", 30)
	v.SetDefault("training.snapshot_interval_days", 7)
	v.SetDefault("training.tree_count", 200)
	v.SetDefault("training.class_weight_ratio", 10.0)
	v.SetDefault("training.min_positive_samples", 30)
	v.SetDefault("training.threshold_search_step", 0.01)
	v.SetDefault("training.threshold_objective", "f1")
	v.SetDefault("training.train_fraction", 0.7)
	v.SetDefault("training.validation_fraction", 0.1)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.workers", 8)

	v.SetDefault("model.dir", "/var/lib/maintguard/models")
	v.SetDefault("model.max_age_days", 90)

	v.SetDefault("predict.workers", 8)
	v.SetDefault("predict.high_risk_threshold", 0.4)

	v.SetDefault("history.path", "/var/lib/maintguard/history.db")
	v.SetDefault("history.retention_days", 365)

	v.SetDefault("log.level", "info")
}
