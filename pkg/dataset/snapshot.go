// Package dataset turns CMMS history into labeled training samples:
// snapshot enumeration, leakage-safe labeling, parallel feature extraction
// and the chronological train/validation/test split.
package dataset

import (
	"context"
	"time"

	"maintguard/pkg/store"
)

// daysPerYear anchors the month-to-days conversion so a 12-month lookback
// resolves to exactly 365 days.
const daysPerYear = 365

// LookbackDays converts a lookback in months to days.
func LookbackDays(months int) int {
	return months * daysPerYear / 12
}

// SnapshotDates enumerates as-of dates for one equipment, stepping backward
// from the anchor by intervalDays until the lookback window is covered.
// Dates before the commissioning date are excluded. The result is in
// chronological order and holds exactly lookbackDays/intervalDays entries
// for equipment old enough to cover the window.
func SnapshotDates(anchor time.Time, lookbackMonths, intervalDays int, commissionedAt time.Time) []time.Time {
	if intervalDays < 1 || lookbackMonths < 1 {
		return nil
	}

	count := LookbackDays(lookbackMonths) / intervalDays
	dates := make([]time.Time, 0, count)
	for k := count - 1; k >= 0; k-- {
		d := anchor.AddDate(0, 0, -k*intervalDays)
		if !commissionedAt.IsZero() && d.Before(commissionedAt) {
			continue
		}
		dates = append(dates, d)
	}
	return dates
}

// Label computes the binary failure label for a snapshot: 1 iff at least
// one failure is reported in (asOf, asOf+horizonDays]. It reads strictly
// after the feature cutoff, so it cannot leak into the features.
func Label(ctx context.Context, st store.EventStore, equipmentNo string, asOf time.Time, horizonDays int) (int, error) {
	failures, err := st.FailureHistory(ctx, equipmentNo, asOf, asOf.AddDate(0, 0, horizonDays))
	if err != nil {
		return 0, err
	}
	if len(failures) > 0 {
		return 1, nil
	}
	return 0, nil
}
