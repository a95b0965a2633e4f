package dataset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/panjf2000/ants/v2"

	"maintguard/pkg/cmms"
	"maintguard/pkg/logx"
	"maintguard/pkg/store"
)

// MockEventStore implements store.EventStore for testing
type MockEventStore struct {
	Equipments []cmms.EquipmentRecord
	PMs        []cmms.MaintenanceEvent
	Failures   []cmms.FailureEvent
	Parts      []cmms.PartsConsumptionEvent

	// FailFor returns a transient error for these equipment numbers.
	FailFor map[string]bool
}

func (m *MockEventStore) ListEquipment(ctx context.Context) ([]cmms.EquipmentRecord, error) {
	return m.Equipments, nil
}

func (m *MockEventStore) Equipment(ctx context.Context, equipmentNo string) (*cmms.EquipmentRecord, error) {
	for i := range m.Equipments {
		if m.Equipments[i].EquipmentNo == equipmentNo {
			return &m.Equipments[i], nil
		}
	}
	return nil, errors.New("equipment not found")
}

func (m *MockEventStore) failure(equipmentNo string) error {
	if m.FailFor[equipmentNo] {
		return &store.TransientStoreError{
			EquipmentNo: equipmentNo,
			Attempts:    4,
			Err:         errors.New("database is locked"),
		}
	}
	return nil
}

func (m *MockEventStore) PMHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.MaintenanceEvent, error) {
	if err := m.failure(equipmentNo); err != nil {
		return nil, err
	}
	var out []cmms.MaintenanceEvent
	for _, e := range m.PMs {
		if e.EquipmentNo == equipmentNo && e.CompletedAt.After(from) && !e.CompletedAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) FailureHistory(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.FailureEvent, error) {
	if err := m.failure(equipmentNo); err != nil {
		return nil, err
	}
	var out []cmms.FailureEvent
	for _, e := range m.Failures {
		if e.EquipmentNo == equipmentNo && e.ReportedAt.After(from) && !e.ReportedAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockEventStore) PartsRequests(ctx context.Context, equipmentNo string, from, to time.Time) ([]cmms.PartsConsumptionEvent, error) {
	if err := m.failure(equipmentNo); err != nil {
		return nil, err
	}
	var out []cmms.PartsConsumptionEvent
	for _, e := range m.Parts {
		if e.EquipmentNo == equipmentNo && e.RequestedAt.After(from) && !e.RequestedAt.After(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func testStore(equipmentCount int, now time.Time) *MockEventStore {
	st := &MockEventStore{FailFor: map[string]bool{}}
	for i := 0; i < equipmentCount; i++ {
		no := string(rune('A' + i))
		st.Equipments = append(st.Equipments, cmms.EquipmentRecord{
			EquipmentNo:    "EQ-" + no,
			Location:       "Plant " + no,
			Status:         cmms.StatusActive,
			CommissionedAt: now.AddDate(-5, 0, 0),
			MonthlyPM:      true,
		})
		// Regular PM and failure history so labels vary.
		for m := 1; m <= 14; m++ {
			st.PMs = append(st.PMs, cmms.MaintenanceEvent{
				EquipmentNo: "EQ-" + no,
				CompletedAt: now.AddDate(0, -m, 0),
				LaborHours:  2,
			})
		}
		if i%2 == 0 {
			for m := 1; m <= 14; m++ {
				st.Failures = append(st.Failures, cmms.FailureEvent{
					EquipmentNo: "EQ-" + no,
					ReportedAt:  now.AddDate(0, -m, -10),
					RepairHours: 4,
					Severity:    2,
				})
			}
		}
	}
	return st
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	return cfg
}

func TestBuildProducesChronologicalSplit(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	builder := NewBuilder(testStore(4, now), logx.NewLogger("error", "test"), testConfig())

	ds, err := builder.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if ds.Size() != 4*52 {
		t.Errorf("dataset size = %d, want %d", ds.Size(), 4*52)
	}
	if ds.EquipmentTotal != 4 || ds.EquipmentSkipped != 0 {
		t.Errorf("equipment total/skipped = %d/%d, want 4/0", ds.EquipmentTotal, ds.EquipmentSkipped)
	}

	// Every training sample must predate every validation sample, which
	// must predate every test sample.
	if len(ds.Train) == 0 || len(ds.Test) == 0 {
		t.Fatalf("empty split: train=%d validation=%d test=%d", len(ds.Train), len(ds.Validation), len(ds.Test))
	}
	lastTrain := ds.Train[len(ds.Train)-1].Snapshot.AsOf
	for _, s := range ds.Validation {
		if s.Snapshot.AsOf.Before(lastTrain) || s.Snapshot.AsOf.Equal(lastTrain) {
			t.Fatalf("validation sample at %s does not postdate training end %s", s.Snapshot.AsOf, lastTrain)
		}
	}
	if len(ds.Validation) > 0 {
		lastVal := ds.Validation[len(ds.Validation)-1].Snapshot.AsOf
		for _, s := range ds.Test {
			if s.Snapshot.AsOf.Before(lastVal) || s.Snapshot.AsOf.Equal(lastVal) {
				t.Fatalf("test sample at %s does not postdate validation end %s", s.Snapshot.AsOf, lastVal)
			}
		}
	}
}

func TestBuildPositiveWeights(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.ClassWeightRatio = 10
	builder := NewBuilder(testStore(4, now), logx.NewLogger("error", "test"), cfg)

	ds, err := builder.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if ds.Positives == 0 {
		t.Fatal("expected positive samples from the failure history")
	}

	for _, s := range append(append(append([]Sample{}, ds.Train...), ds.Validation...), ds.Test...) {
		want := 1.0
		if s.Label == 1 {
			want = 10.0
		}
		if s.Weight != want {
			t.Fatalf("sample label %d has weight %v, want %v", s.Label, s.Weight, want)
		}
	}
}

func TestBuildSkipsTransientFailures(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	st := testStore(5, now)
	st.FailFor["EQ-B"] = true

	builder := NewBuilder(st, logx.NewLogger("error", "test"), testConfig())
	ds, err := builder.Build(context.Background(), now)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if ds.EquipmentSkipped != 1 {
		t.Errorf("EquipmentSkipped = %d, want 1", ds.EquipmentSkipped)
	}
	if ds.Size() != 4*52 {
		t.Errorf("dataset size = %d, want %d", ds.Size(), 4*52)
	}
}

func TestBuildAbortsOnMajorityFailure(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	st := testStore(5, now)
	st.FailFor["EQ-A"] = true
	st.FailFor["EQ-B"] = true
	st.FailFor["EQ-C"] = true

	builder := NewBuilder(st, logx.NewLogger("error", "test"), testConfig())
	if _, err := builder.Build(context.Background(), now); err == nil {
		t.Fatal("Build succeeded with a majority of equipment failing, want error")
	}
}

func TestSplitBlockBoundary(t *testing.T) {
	// Ten samples over two as-of dates; a naive 70% cut would land inside
	// the second date block.
	d1 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	var samples []Sample
	for i := 0; i < 5; i++ {
		samples = append(samples, Sample{Snapshot: cmms.Snapshot{EquipmentNo: "A", AsOf: d1}})
		samples = append(samples, Sample{Snapshot: cmms.Snapshot{EquipmentNo: "B", AsOf: d2}})
	}

	ds := split(samples, 0.7, 0.1)
	for _, s := range ds.Train {
		for _, u := range ds.Test {
			if s.Snapshot.AsOf.Equal(u.Snapshot.AsOf) {
				t.Fatal("train and test share an as-of date block")
			}
		}
		for _, u := range ds.Validation {
			if s.Snapshot.AsOf.Equal(u.Snapshot.AsOf) {
				t.Fatal("train and validation share an as-of date block")
			}
		}
	}
}

func TestForEachWaitsForInFlightTasks(t *testing.T) {
	// Single nonblocking worker: the first task occupies it, the second
	// submission fails immediately.
	pool, err := ants.NewPool(1, ants.WithNonblocking(true))
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	defer pool.Release()

	release := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(release) })

	completed := 0
	err = forEach(pool, 3, func(i int) {
		<-release
		completed++
	})
	if err == nil {
		t.Fatal("forEach returned nil, want submit error")
	}
	if completed != 1 {
		t.Errorf("completed = %d, want 1; forEach returned before in-flight work finished", completed)
	}
}
