package features

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"maintguard/pkg/cmms"
	"maintguard/pkg/logx"
)

// MockEventStore implements store.EventStore for testing
type MockEventStore struct {
	Equipments []cmms.EquipmentRecord
	PMs        []cmms.MaintenanceEvent
	Failures   []cmms.FailureEvent
	Parts      []cmms.PartsConsumptionEvent

	// BypassWindow returns events untrimmed, simulating a broken query.
	BypassWindow bool

	Err error
}

func (m *MockEventStore) ListEquipment(ctx context.Context) ([]cmms.EquipmentRecord, error) {
	return m.Equipments, m.Err
}

func (m *MockEventStore) Equipment(ctx context.Context, equipmentNo string) (*cmms.EquipmentRecord, error) {
	for i := range m.Equipments {
		if m.Equipments[i].EquipmentNo == equipmentNo {
			return &m.Equipments[i], nil
		}
	}
	return nil, errors.New("equipment not found")
}

func (m *MockEventStore) PMHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.MaintenanceEvent, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []cmms.MaintenanceEvent
	for _, e := range m.PMs {
		if e.EquipmentNo != equipmentNo {
			continue
		}
		if m.BypassWindow || (e.CompletedAt.After(from) && !e.CompletedAt.After(to)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) FailureHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.FailureEvent, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []cmms.FailureEvent
	for _, e := range m.Failures {
		if e.EquipmentNo != equipmentNo {
			continue
		}
		if m.BypassWindow || (e.ReportedAt.After(from) && !e.ReportedAt.After(to)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) PartsRequests(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.PartsConsumptionEvent, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []cmms.PartsConsumptionEvent
	for _, e := range m.Parts {
		if e.EquipmentNo != equipmentNo {
			continue
		}
		if m.BypassWindow || (e.RequestedAt.After(from) && !e.RequestedAt.After(to)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func testEquipment() *cmms.EquipmentRecord {
	return &cmms.EquipmentRecord{
		EquipmentNo:    "EQ-1001",
		Description:    "Conveyor Drive",
		Location:       "Building A",
		Status:         cmms.StatusActive,
		CommissionedAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		MonthlyPM:      true,
	}
}

func TestNamesMatchValues(t *testing.T) {
	names := Names()
	values := (&Vector{}).Values()
	if len(names) != len(values) {
		t.Fatalf("Names has %d entries, Values has %d", len(names), len(values))
	}
}

func TestComputeNoHistory(t *testing.T) {
	eq := testEquipment()
	st := &MockEventStore{Equipments: []cmms.EquipmentRecord{*eq}}
	enc := NewLocationEncoder([]string{"Building A"})
	engineer := NewEngineer(st, logx.NewLogger("error", "test"))

	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	v, err := engineer.Compute(context.Background(), eq, asOf, enc)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if v.DaysSinceLastPM != NeverDays {
		t.Errorf("DaysSinceLastPM = %v, want sentinel %d", v.DaysSinceLastPM, NeverDays)
	}
	if v.DaysSinceLastFailure != NeverDays {
		t.Errorf("DaysSinceLastFailure = %v, want sentinel %d", v.DaysSinceLastFailure, NeverDays)
	}
	if v.PMComplianceRate != 0 {
		t.Errorf("PMComplianceRate = %v, want 0", v.PMComplianceRate)
	}
	if v.PMOverdue != 1 {
		t.Errorf("PMOverdue = %v, want 1 for equipment with no PM history", v.PMOverdue)
	}
	for i, val := range v.Values() {
		if val != val {
			t.Errorf("feature %s is NaN", Names()[i])
		}
	}
}

func TestComputeKnownValues(t *testing.T) {
	eq := testEquipment()
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	st := &MockEventStore{
		Equipments: []cmms.EquipmentRecord{*eq},
		PMs: []cmms.MaintenanceEvent{
			{EquipmentNo: "EQ-1001", CompletedAt: asOf.AddDate(0, 0, -10), LaborHours: 2},
			{EquipmentNo: "EQ-1001", CompletedAt: asOf.AddDate(0, 0, -40), LaborHours: 4},
			{EquipmentNo: "EQ-1001", CompletedAt: asOf.AddDate(0, 0, -70), LaborHours: 3},
		},
		Failures: []cmms.FailureEvent{
			{EquipmentNo: "EQ-1001", ReportedAt: asOf.AddDate(0, 0, -5), RepairHours: 6, Severity: 3},
			{EquipmentNo: "EQ-1001", ReportedAt: asOf.AddDate(0, 0, -100), RepairHours: 2, Severity: 1},
		},
		Parts: []cmms.PartsConsumptionEvent{
			{EquipmentNo: "EQ-1001", RequestedAt: asOf.AddDate(0, 0, -5), Quantity: 2},
		},
	}
	enc := NewLocationEncoder([]string{"Building A", "Building B"})
	engineer := NewEngineer(st, logx.NewLogger("error", "test"))

	v, err := engineer.Compute(context.Background(), eq, asOf, enc)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if v.PMCount6Mo != 3 {
		t.Errorf("PMCount6Mo = %v, want 3", v.PMCount6Mo)
	}
	if v.DaysSinceLastPM != 10 {
		t.Errorf("DaysSinceLastPM = %v, want 10", v.DaysSinceLastPM)
	}
	if v.AvgPMHours != 3 {
		t.Errorf("AvgPMHours = %v, want 3", v.AvgPMHours)
	}
	// Monthly schedule expects 6 PMs in 180 days; 3 completed.
	if got, want := v.PMComplianceRate, 0.5; got != want {
		t.Errorf("PMComplianceRate = %v, want %v", got, want)
	}
	// Last PM 10 days ago, monthly interval is 30 days.
	if v.PMOverdue != 0 {
		t.Errorf("PMOverdue = %v, want 0", v.PMOverdue)
	}
	if v.FailureCount6Mo != 2 {
		t.Errorf("FailureCount6Mo = %v, want 2", v.FailureCount6Mo)
	}
	if v.DaysSinceLastFailure != 5 {
		t.Errorf("DaysSinceLastFailure = %v, want 5", v.DaysSinceLastFailure)
	}
	if v.AvgFailureSeverity != 2 {
		t.Errorf("AvgFailureSeverity = %v, want 2", v.AvgFailureSeverity)
	}
	if v.TotalRepairHours6Mo != 8 {
		t.Errorf("TotalRepairHours6Mo = %v, want 8", v.TotalRepairHours6Mo)
	}
	if got, want := v.FailureRatePerMonth, 2.0/6.0; got != want {
		t.Errorf("FailureRatePerMonth = %v, want %v", got, want)
	}
	if v.PartsConsumption6Mo != 1 {
		t.Errorf("PartsConsumption6Mo = %v, want 1", v.PartsConsumption6Mo)
	}
	if v.LocationEncoded != 0 {
		t.Errorf("LocationEncoded = %v, want 0", v.LocationEncoded)
	}
	if got, want := v.ComplianceXFailureRate, 0.5*(2.0/6.0); got != want {
		t.Errorf("ComplianceXFailureRate = %v, want %v", got, want)
	}
	if got, want := v.DaysSincePMXFailureCount, (10.0/100.0)*2; got != want {
		t.Errorf("DaysSincePMXFailureCount = %v, want %v", got, want)
	}
}

func TestComputeExcludesEventsOutsideWindow(t *testing.T) {
	eq := testEquipment()
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	st := &MockEventStore{
		Equipments: []cmms.EquipmentRecord{*eq},
		PMs: []cmms.MaintenanceEvent{
			// Older than the 180 day window.
			{EquipmentNo: "EQ-1001", CompletedAt: asOf.AddDate(0, 0, -200), LaborHours: 2},
		},
	}
	enc := NewLocationEncoder([]string{"Building A"})
	engineer := NewEngineer(st, logx.NewLogger("error", "test"))

	v, err := engineer.Compute(context.Background(), eq, asOf, enc)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v.PMCount6Mo != 0 {
		t.Errorf("PMCount6Mo = %v, want 0 for events outside window", v.PMCount6Mo)
	}
}

func TestLeakageGuard(t *testing.T) {
	eq := testEquipment()
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	st := &MockEventStore{
		Equipments: []cmms.EquipmentRecord{*eq},
		Failures: []cmms.FailureEvent{
			// Dated after the as-of, returned anyway by the broken query.
			{EquipmentNo: "EQ-1001", ReportedAt: asOf.AddDate(0, 0, 3), Severity: 2},
		},
		BypassWindow: true,
	}
	enc := NewLocationEncoder([]string{"Building A"})
	engineer := NewEngineer(st, logx.NewLogger("error", "test"))

	_, err := engineer.Compute(context.Background(), eq, asOf, enc)
	var guard *LeakageGuardError
	if !errors.As(err, &guard) {
		t.Fatalf("Compute error = %v, want LeakageGuardError", err)
	}
	if guard.Source != "failure" {
		t.Errorf("guard.Source = %q, want %q", guard.Source, "failure")
	}
}

func TestFutureEventsDoNotChangeVector(t *testing.T) {
	eq := testEquipment()
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	st := &MockEventStore{
		Equipments: []cmms.EquipmentRecord{*eq},
		PMs: []cmms.MaintenanceEvent{
			{EquipmentNo: "EQ-1001", CompletedAt: asOf.AddDate(0, 0, -10), LaborHours: 2},
		},
		Failures: []cmms.FailureEvent{
			{EquipmentNo: "EQ-1001", ReportedAt: asOf.AddDate(0, 0, -60), RepairHours: 4, Severity: 2},
		},
	}
	enc := NewLocationEncoder([]string{"Building A"})
	engineer := NewEngineer(st, logx.NewLogger("error", "test"))

	before, err := engineer.Compute(context.Background(), eq, asOf, enc)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	// Outcomes recorded after the as-of date must not move any feature.
	st.Failures = append(st.Failures,
		cmms.FailureEvent{EquipmentNo: "EQ-1001", ReportedAt: asOf.AddDate(0, 0, 7), RepairHours: 9, Severity: 5},
	)
	st.PMs = append(st.PMs,
		cmms.MaintenanceEvent{EquipmentNo: "EQ-1001", CompletedAt: asOf.AddDate(0, 0, 2), LaborHours: 1},
	)
	st.Parts = append(st.Parts,
		cmms.PartsConsumptionEvent{EquipmentNo: "EQ-1001", RequestedAt: asOf.AddDate(0, 0, 1), Quantity: 5},
	)

	after, err := engineer.Compute(context.Background(), eq, asOf, enc)
	if err != nil {
		t.Fatalf("Compute after future events failed: %v", err)
	}
	if !reflect.DeepEqual(before.Values(), after.Values()) {
		t.Errorf("vector changed after injecting future events:\nbefore %v\nafter  %v",
			before.Values(), after.Values())
	}
}

func TestOverdueUsesTightestSchedule(t *testing.T) {
	tests := []struct {
		name        string
		eq          cmms.EquipmentRecord
		daysSincePM int
		wantOverdue float64
	}{
		{"weekly within", cmms.EquipmentRecord{WeeklyPM: true, MonthlyPM: true}, 5, 0},
		{"weekly beyond", cmms.EquipmentRecord{WeeklyPM: true, MonthlyPM: true}, 8, 1},
		{"monthly within", cmms.EquipmentRecord{MonthlyPM: true}, 25, 0},
		{"monthly beyond", cmms.EquipmentRecord{MonthlyPM: true}, 31, 1},
		{"no schedule default", cmms.EquipmentRecord{}, 46, 1},
		{"no schedule within default", cmms.EquipmentRecord{}, 44, 0},
	}

	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq := tt.eq
			eq.EquipmentNo = "EQ-X"
			eq.Location = "Building A"
			eq.CommissionedAt = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

			st := &MockEventStore{
				PMs: []cmms.MaintenanceEvent{
					{EquipmentNo: "EQ-X", CompletedAt: asOf.AddDate(0, 0, -tt.daysSincePM), LaborHours: 1},
				},
			}
			enc := NewLocationEncoder([]string{"Building A"})
			engineer := NewEngineer(st, logx.NewLogger("error", "test"))

			v, err := engineer.Compute(context.Background(), &eq, asOf, enc)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if v.PMOverdue != tt.wantOverdue {
				t.Errorf("PMOverdue = %v, want %v", v.PMOverdue, tt.wantOverdue)
			}
		})
	}
}

func TestComplianceClipped(t *testing.T) {
	eq := testEquipment()
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	pms := make([]cmms.MaintenanceEvent, 0, 20)
	for i := 0; i < 20; i++ {
		pms = append(pms, cmms.MaintenanceEvent{
			EquipmentNo: "EQ-1001",
			CompletedAt: asOf.AddDate(0, 0, -(i + 1)),
			LaborHours:  1,
		})
	}
	st := &MockEventStore{Equipments: []cmms.EquipmentRecord{*eq}, PMs: pms}
	enc := NewLocationEncoder([]string{"Building A"})
	engineer := NewEngineer(st, logx.NewLogger("error", "test"))

	v, err := engineer.Compute(context.Background(), eq, asOf, enc)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if v.PMComplianceRate != 1 {
		t.Errorf("PMComplianceRate = %v, want clipped to 1", v.PMComplianceRate)
	}
}
