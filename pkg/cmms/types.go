// Package cmms defines the maintenance-history records the prediction
// pipeline consumes. All records are immutable historical facts owned by
// the CMMS database; this core only ever reads them.
package cmms

import (
	"fmt"
	"time"
)

// Equipment status values eligible for prediction.
const (
	StatusActive       = "Active"
	StatusRunToFailure = "Run to Failure"
)

// EquipmentRecord is the master-data row for one piece of equipment.
type EquipmentRecord struct {
	EquipmentNo    string    `json:"equipment_no"`
	Description    string    `json:"description"`
	Location       string    `json:"location"`
	Status         string    `json:"status"`
	CommissionedAt time.Time `json:"commissioned_at"`

	// PM frequency flags. An equipment can carry several schedules at once.
	WeeklyPM   bool `json:"weekly_pm"`
	MonthlyPM  bool `json:"monthly_pm"`
	SixMonthPM bool `json:"six_month_pm"`
	AnnualPM   bool `json:"annual_pm"`
}

// MaintenanceEvent is a completed preventive-maintenance work order.
type MaintenanceEvent struct {
	EquipmentNo string    `json:"equipment_no"`
	CompletedAt time.Time `json:"completed_at"`
	LaborHours  float64   `json:"labor_hours"`
}

// FailureEvent is a closed corrective-maintenance work order. Severity is
// ordinal 1 (minor) to 4 (critical), mapped from the work-order priority.
type FailureEvent struct {
	EquipmentNo string    `json:"equipment_no"`
	ReportedAt  time.Time `json:"reported_at"`
	RepairHours float64   `json:"repair_hours"`
	Severity    int       `json:"severity"`
}

// PartsConsumptionEvent is a parts request raised against an equipment.
type PartsConsumptionEvent struct {
	EquipmentNo string    `json:"equipment_no"`
	RequestedAt time.Time `json:"requested_at"`
	Quantity    int       `json:"quantity"`
}

// Snapshot is one (equipment, as-of date) point. Features for a snapshot may
// only be computed from events dated at or before AsOf.
type Snapshot struct {
	EquipmentNo string    `json:"equipment_no"`
	AsOf        time.Time `json:"as_of"`
}

// Validate checks the snapshot invariants against the equipment record.
func (s Snapshot) Validate(eq *EquipmentRecord, now time.Time) error {
	if s.AsOf.After(now) {
		return fmt.Errorf("snapshot %s: as-of date %s is in the future", s.EquipmentNo, s.AsOf.Format("2006-01-02"))
	}
	if !eq.CommissionedAt.IsZero() && s.AsOf.Before(eq.CommissionedAt) {
		return fmt.Errorf("snapshot %s: as-of date %s precedes commissioning %s",
			s.EquipmentNo, s.AsOf.Format("2006-01-02"), eq.CommissionedAt.Format("2006-01-02"))
	}
	return nil
}
