// Package store provides read-only access to the CMMS maintenance history.
//
// The pipeline never writes to the CMMS database. Every range query uses
// the half-open-to-closed convention (from, to]: an event belongs to the
// range when from < date <= to. Feature extraction passes
// (asOf-window, asOf], label extraction passes (asOf, asOf+horizon], so
// the same convention serves both sides of the leakage boundary.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"

	"maintguard/pkg/cmms"
	"maintguard/pkg/logx"
)

// EventStore is the read-only view of the CMMS history the pipeline needs.
type EventStore interface {
	// ListEquipment returns equipment eligible for prediction
	// (status Active or Run to Failure), ordered by equipment number.
	ListEquipment(ctx context.Context) ([]cmms.EquipmentRecord, error)

	// Equipment returns a single equipment record by number.
	Equipment(ctx context.Context, equipmentNo string) (*cmms.EquipmentRecord, error)

	// PMHistory returns PM completions with from < completed_at <= to.
	PMHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.MaintenanceEvent, error)

	// FailureHistory returns closed corrective work orders with
	// from < reported_at <= to.
	FailureHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.FailureEvent, error)

	// PartsRequests returns parts requests with from < requested_at <= to.
	PartsRequests(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.PartsConsumptionEvent, error)
}

// Config holds connection and retry settings for the SQLite store.
type Config struct {
	Path           string        `json:"path"`
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay"`
}

// DefaultConfig returns default store settings.
func DefaultConfig() *Config {
	return &Config{
		Path:           "/var/lib/maintguard/cmms.db",
		MaxRetries:     4,
		RetryBaseDelay: 250 * time.Millisecond,
		RetryMaxDelay:  5 * time.Second,
	}
}

// SQLiteStore implements EventStore against the CMMS SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *logx.Logger
	config *Config
}

// Open opens the CMMS database read-only.
func Open(config *Config, logger *logx.Logger) (*SQLiteStore, error) {
	if config == nil {
		config = DefaultConfig()
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", config.Path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open CMMS database: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger, config: config}

	logger.Info("cmms_store_opened",
		"path", config.Path,
		"max_retries", config.MaxRetries,
	)
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ListEquipment returns all equipment eligible for prediction.
func (s *SQLiteStore) ListEquipment(ctx context.Context) ([]cmms.EquipmentRecord, error) {
	query := `
	SELECT equipment_no, description, location, status,
	       commissioned_date,
	       weekly_pm, monthly_pm, six_month_pm, annual_pm
	FROM equipment
	WHERE status IN (?, ?)
	ORDER BY equipment_no
	`

	var records []cmms.EquipmentRecord
	err := s.withRetry(ctx, "", func() error {
		rows, err := s.db.QueryContext(ctx, query, cmms.StatusActive, cmms.StatusRunToFailure)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanEquipment(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Equipment returns a single equipment record by number.
func (s *SQLiteStore) Equipment(ctx context.Context, equipmentNo string) (*cmms.EquipmentRecord, error) {
	query := `
	SELECT equipment_no, description, location, status,
	       commissioned_date,
	       weekly_pm, monthly_pm, six_month_pm, annual_pm
	FROM equipment
	WHERE equipment_no = ?
	`

	var rec cmms.EquipmentRecord
	var found bool
	err := s.withRetry(ctx, equipmentNo, func() error {
		rows, err := s.db.QueryContext(ctx, query, equipmentNo)
		if err != nil {
			return err
		}
		defer rows.Close()

		found = false
		if rows.Next() {
			rec, err = scanEquipment(rows)
			if err != nil {
				return err
			}
			found = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("equipment %s not found", equipmentNo)
	}
	return &rec, nil
}

// PMHistory returns PM completions in (from, to].
func (s *SQLiteStore) PMHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.MaintenanceEvent, error) {
	query := `
	SELECT equipment_no, completion_date,
	       labor_hours + COALESCE(labor_minutes, 0) / 60.0
	FROM pm_completions
	WHERE equipment_no = ?
	  AND completion_date > ?
	  AND completion_date <= ?
	ORDER BY completion_date
	`

	var events []cmms.MaintenanceEvent
	err := s.withRetry(ctx, equipmentNo, func() error {
		rows, err := s.db.QueryContext(ctx, query, equipmentNo, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var ev cmms.MaintenanceEvent
			if err := rows.Scan(&ev.EquipmentNo, &ev.CompletedAt, &ev.LaborHours); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FailureHistory returns closed corrective work orders in (from, to].
// Work-order priority maps to ordinal severity: P1=4 down to P4=1.
func (s *SQLiteStore) FailureHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.FailureEvent, error) {
	query := `
	SELECT equipment_no, reported_date,
	       COALESCE(labor_hours, 0),
	       CASE priority
	           WHEN 'P1' THEN 4
	           WHEN 'P2' THEN 3
	           WHEN 'P3' THEN 2
	           WHEN 'P4' THEN 1
	           ELSE 0
	       END
	FROM corrective_maintenance
	WHERE equipment_no = ?
	  AND reported_date > ?
	  AND reported_date <= ?
	  AND status IN ('Closed', 'Completed')
	ORDER BY reported_date
	`

	var events []cmms.FailureEvent
	err := s.withRetry(ctx, equipmentNo, func() error {
		rows, err := s.db.QueryContext(ctx, query, equipmentNo, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var ev cmms.FailureEvent
			if err := rows.Scan(&ev.EquipmentNo, &ev.ReportedAt, &ev.RepairHours, &ev.Severity); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// PartsRequests returns parts requests in (from, to].
func (s *SQLiteStore) PartsRequests(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.PartsConsumptionEvent, error) {
	query := `
	SELECT equipment_no, requested_date, COALESCE(quantity, 1)
	FROM cm_parts_requests
	WHERE equipment_no = ?
	  AND requested_date > ?
	  AND requested_date <= ?
	ORDER BY requested_date
	`

	var events []cmms.PartsConsumptionEvent
	err := s.withRetry(ctx, equipmentNo, func() error {
		rows, err := s.db.QueryContext(ctx, query, equipmentNo, from, to)
		if err != nil {
			return err
		}
		defer rows.Close()

		events = events[:0]
		for rows.Next() {
			var ev cmms.PartsConsumptionEvent
			if err := rows.Scan(&ev.EquipmentNo, &ev.RequestedAt, &ev.Quantity); err != nil {
				return err
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// withRetry runs op, retrying transient failures with bounded exponential
// backoff. After the ceiling the failure surfaces as *TransientStoreError
// scoped to the equipment, so the caller can skip it without aborting the
// whole batch.
func (s *SQLiteStore) withRetry(ctx context.Context, equipmentNo string, op func() error) error {
	attempts := 0

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.config.RetryBaseDelay
	bo.MaxInterval = s.config.RetryMaxDelay

	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		s.logger.Warn("cmms_query_retry",
			"equipment_no", equipmentNo,
			"attempt", attempts,
			"error", err,
		)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.config.MaxRetries)), ctx)
	if err := backoff.Retry(wrapped, policy); err != nil {
		if isTransient(err) {
			return &TransientStoreError{EquipmentNo: equipmentNo, Attempts: attempts, Err: err}
		}
		return err
	}
	return nil
}

// isTransient reports whether a database error is worth retrying.
// SQLite signals contention through busy/locked errors; connection and
// I/O hiccups are retryable too.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if err == sql.ErrConnDone {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "database is busy", "disk i/o error", "connection"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func scanEquipment(rows *sql.Rows) (cmms.EquipmentRecord, error) {
	var rec cmms.EquipmentRecord
	var commissioned sql.NullTime
	var weekly, monthly, sixMonth, annual sql.NullBool
	if err := rows.Scan(
		&rec.EquipmentNo, &rec.Description, &rec.Location, &rec.Status,
		&commissioned,
		&weekly, &monthly, &sixMonth, &annual,
	); err != nil {
		return rec, err
	}
	if commissioned.Valid {
		rec.CommissionedAt = commissioned.Time
	}
	rec.WeeklyPM = weekly.Valid && weekly.Bool
	rec.MonthlyPM = monthly.Valid && monthly.Bool
	rec.SixMonthPM = sixMonth.Valid && sixMonth.Bool
	rec.AnnualPM = annual.Valid && annual.Bool
	return rec, nil
}
