// Package features computes the per-snapshot feature vector for failure
// prediction. Every field is a pure function of CMMS events dated at or
// before the snapshot's as-of date; the engineer re-checks that boundary
// on every computation and fails hard when it is crossed.
package features

import (
	"context"
	"fmt"
	"math"
	"time"

	"maintguard/pkg/cmms"
	"maintguard/pkg/logx"
	"maintguard/pkg/store"
)

const (
	// WindowDays is the trailing history window for all count/rate features.
	WindowDays = 180

	// NeverDays is the sentinel for equipment with no PM or failure history
	// in days-since features. A documented constant, never NaN.
	NeverDays = 9999

	// DefaultPMIntervalDays is the overdue cutoff for equipment with no PM
	// schedule flag set.
	DefaultPMIntervalDays = 45
)

// Vector is the feature vector for one snapshot. Field order matches Names.
type Vector struct {
	PMCount6Mo           float64 `json:"pm_count_6mo"`
	DaysSinceLastPM      float64 `json:"days_since_last_pm"`
	PMComplianceRate     float64 `json:"pm_compliance_rate"`
	AvgPMHours           float64 `json:"avg_pm_hours"`
	PMOverdue            float64 `json:"pm_overdue"`
	FailureCount6Mo      float64 `json:"failure_count_6mo"`
	DaysSinceLastFailure float64 `json:"days_since_last_failure"`
	FailureRatePerMonth  float64 `json:"failure_rate_per_month"`
	AvgRepairHours       float64 `json:"avg_repair_hours"`
	TotalRepairHours6Mo  float64 `json:"total_repair_hours_6mo"`
	AvgFailureSeverity   float64 `json:"avg_failure_severity"`
	EquipmentAgeDays     float64 `json:"equipment_age_days"`
	MonthlyPMFlag        float64 `json:"monthly_pm_flag"`
	SixMonthPMFlag       float64 `json:"six_month_pm_flag"`
	AnnualPMFlag         float64 `json:"annual_pm_flag"`
	LocationEncoded      float64 `json:"location_encoded"`
	PartsConsumption6Mo  float64 `json:"parts_consumption_6mo"`

	// Interaction terms.
	ComplianceXFailureRate   float64 `json:"pm_compliance_x_failure_rate"`
	DaysSincePMXFailureCount float64 `json:"days_since_pm_x_failure_count"`
}

// Names returns the ordered feature column names. The order is part of the
// persisted model contract: a loaded bundle must carry exactly this list.
func Names() []string {
	return []string{
		"pm_count_6mo",
		"days_since_last_pm",
		"pm_compliance_rate",
		"avg_pm_hours",
		"pm_overdue",
		"failure_count_6mo",
		"days_since_last_failure",
		"failure_rate_per_month",
		"avg_repair_hours",
		"total_repair_hours_6mo",
		"avg_failure_severity",
		"equipment_age_days",
		"monthly_pm_flag",
		"six_month_pm_flag",
		"annual_pm_flag",
		"location_encoded",
		"parts_consumption_6mo",
		"pm_compliance_x_failure_rate",
		"days_since_pm_x_failure_count",
	}
}

// Values returns the vector as an ordered slice matching Names.
func (v *Vector) Values() []float64 {
	return []float64{
		v.PMCount6Mo,
		v.DaysSinceLastPM,
		v.PMComplianceRate,
		v.AvgPMHours,
		v.PMOverdue,
		v.FailureCount6Mo,
		v.DaysSinceLastFailure,
		v.FailureRatePerMonth,
		v.AvgRepairHours,
		v.TotalRepairHours6Mo,
		v.AvgFailureSeverity,
		v.EquipmentAgeDays,
		v.MonthlyPMFlag,
		v.SixMonthPMFlag,
		v.AnnualPMFlag,
		v.LocationEncoded,
		v.PartsConsumption6Mo,
		v.ComplianceXFailureRate,
		v.DaysSincePMXFailureCount,
	}
}

// LeakageGuardError indicates a feature computation observed an event dated
// after its snapshot's as-of date. This is a programming defect, not a data
// problem; the run must abort.
type LeakageGuardError struct {
	EquipmentNo string
	AsOf        time.Time
	EventAt     time.Time
	Source      string
}

func (e *LeakageGuardError) Error() string {
	return fmt.Sprintf("leakage guard: %s event for equipment %s dated %s is after snapshot as-of %s",
		e.Source, e.EquipmentNo, e.EventAt.Format("2006-01-02"), e.AsOf.Format("2006-01-02"))
}

// Engineer computes feature vectors from the event store.
type Engineer struct {
	store  store.EventStore
	logger *logx.Logger
}

// NewEngineer creates a feature engineer over the given store.
func NewEngineer(st store.EventStore, logger *logx.Logger) *Engineer {
	return &Engineer{store: st, logger: logger}
}

// Compute builds the feature vector for one snapshot. The encoder maps the
// equipment location to its persisted categorical index; unknown locations
// encode as -1.
func (e *Engineer) Compute(ctx context.Context, eq *cmms.EquipmentRecord, asOf time.Time, enc *LocationEncoder) (*Vector, error) {
	windowStart := asOf.AddDate(0, 0, -WindowDays)

	pms, err := e.store.PMHistory(ctx, eq.EquipmentNo, windowStart, asOf)
	if err != nil {
		return nil, err
	}
	failures, err := e.store.FailureHistory(ctx, eq.EquipmentNo, windowStart, asOf)
	if err != nil {
		return nil, err
	}
	parts, err := e.store.PartsRequests(ctx, eq.EquipmentNo, windowStart, asOf)
	if err != nil {
		return nil, err
	}

	if err := e.guard(eq.EquipmentNo, asOf, pms, failures, parts); err != nil {
		return nil, err
	}

	v := &Vector{}

	// PM history.
	v.PMCount6Mo = float64(len(pms))
	v.DaysSinceLastPM = NeverDays
	var pmHours float64
	var lastPM time.Time
	for _, pm := range pms {
		pmHours += pm.LaborHours
		if pm.CompletedAt.After(lastPM) {
			lastPM = pm.CompletedAt
		}
	}
	if len(pms) > 0 {
		v.AvgPMHours = pmHours / float64(len(pms))
		v.DaysSinceLastPM = clamp(daysBetween(lastPM, asOf), 0, NeverDays)
	}

	expected := expectedPMCount(eq)
	if expected > 0 {
		v.PMComplianceRate = clamp(v.PMCount6Mo/expected, 0, 1)
	}
	if v.DaysSinceLastPM > float64(expectedPMIntervalDays(eq)) {
		v.PMOverdue = 1
	}

	// Failure history.
	v.FailureCount6Mo = float64(len(failures))
	v.DaysSinceLastFailure = NeverDays
	var repairHours, severitySum float64
	var lastFailure time.Time
	for _, f := range failures {
		repairHours += f.RepairHours
		severitySum += float64(f.Severity)
		if f.ReportedAt.After(lastFailure) {
			lastFailure = f.ReportedAt
		}
	}
	v.TotalRepairHours6Mo = repairHours
	if len(failures) > 0 {
		v.AvgRepairHours = repairHours / float64(len(failures))
		v.AvgFailureSeverity = severitySum / float64(len(failures))
		v.DaysSinceLastFailure = clamp(daysBetween(lastFailure, asOf), 0, NeverDays)
	}
	v.FailureRatePerMonth = v.FailureCount6Mo / 6.0

	// Equipment characteristics.
	if !eq.CommissionedAt.IsZero() {
		v.EquipmentAgeDays = daysBetween(eq.CommissionedAt, asOf)
	}
	v.MonthlyPMFlag = boolFlag(eq.MonthlyPM)
	v.SixMonthPMFlag = boolFlag(eq.SixMonthPM)
	v.AnnualPMFlag = boolFlag(eq.AnnualPM)
	v.LocationEncoded = float64(enc.Encode(eq.Location))

	// Parts consumption.
	v.PartsConsumption6Mo = float64(len(parts))

	// Interaction terms.
	v.ComplianceXFailureRate = v.PMComplianceRate * v.FailureRatePerMonth
	v.DaysSincePMXFailureCount = (v.DaysSinceLastPM / 100.0) * v.FailureCount6Mo

	return v, nil
}

// guard rejects any event dated after the snapshot as-of date. The store
// queries are already bounded, so a trip here means a defect in the store
// or the query plumbing.
func (e *Engineer) guard(equipmentNo string, asOf time.Time, pms []cmms.MaintenanceEvent, failures []cmms.FailureEvent, parts []cmms.PartsConsumptionEvent) error {
	for _, pm := range pms {
		if pm.CompletedAt.After(asOf) {
			return &LeakageGuardError{EquipmentNo: equipmentNo, AsOf: asOf, EventAt: pm.CompletedAt, Source: "pm_completion"}
		}
	}
	for _, f := range failures {
		if f.ReportedAt.After(asOf) {
			return &LeakageGuardError{EquipmentNo: equipmentNo, AsOf: asOf, EventAt: f.ReportedAt, Source: "failure"}
		}
	}
	for _, p := range parts {
		if p.RequestedAt.After(asOf) {
			return &LeakageGuardError{EquipmentNo: equipmentNo, AsOf: asOf, EventAt: p.RequestedAt, Source: "parts_request"}
		}
	}
	return nil
}

// expectedPMCount derives how many PM completions the schedule flags call
// for inside the trailing window.
func expectedPMCount(eq *cmms.EquipmentRecord) float64 {
	var expected float64
	if eq.WeeklyPM {
		expected += float64(WindowDays) / 7.0
	}
	if eq.MonthlyPM {
		expected += float64(WindowDays) / 30.0
	}
	if eq.SixMonthPM {
		expected += float64(WindowDays) / 180.0
	}
	if eq.AnnualPM {
		expected += float64(WindowDays) / 365.0
	}
	return expected
}

// expectedPMIntervalDays is the tightest scheduled PM interval; the overdue
// flag trips when the last completion is older than this.
func expectedPMIntervalDays(eq *cmms.EquipmentRecord) int {
	switch {
	case eq.WeeklyPM:
		return 7
	case eq.MonthlyPM:
		return 30
	case eq.SixMonthPM:
		return 180
	case eq.AnnualPM:
		return 365
	default:
		return DefaultPMIntervalDays
	}
}

// daysBetween counts whole days from one instant to another, matching the
// day-granular resolution of the CMMS date columns.
func daysBetween(from, to time.Time) float64 {
	return math.Floor(to.Sub(from).Hours() / 24.0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func boolFlag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
