// Package report renders prediction batches as plain-text risk reports
// suitable for email or console review.
package report

import (
	"fmt"
	"os"
	"strings"
	"time"

	"maintguard/pkg/predictor"
)

const (
	lineWidth = 80
	topCount  = 20
)

// RiskReport renders a ranked plain-text report for a prediction batch.
// The input must already be sorted by descending failure probability.
func RiskReport(results []predictor.Result, generatedAt time.Time) string {
	var b strings.Builder
	rule := strings.Repeat("=", lineWidth)
	thin := strings.Repeat("-", lineWidth)

	counts := map[predictor.RiskLevel]int{}
	for _, r := range results {
		counts[r.RiskLevel]++
	}

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "EQUIPMENT FAILURE RISK REPORT")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b)

	fmt.Fprintln(&b, "RISK SUMMARY")
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "Total equipment analyzed: %d\n", len(results))
	fmt.Fprintf(&b, "Critical risk (>=0.7):   %d\n", counts[predictor.RiskCritical])
	fmt.Fprintf(&b, "High risk (0.4-0.7):     %d\n", counts[predictor.RiskHigh])
	fmt.Fprintf(&b, "Medium risk (0.2-0.4):   %d\n", counts[predictor.RiskMedium])
	fmt.Fprintf(&b, "Low risk (<0.2):         %d\n", counts[predictor.RiskLow])
	fmt.Fprintln(&b)

	fmt.Fprintf(&b, "TOP %d HIGHEST RISK EQUIPMENT\n", topCount)
	fmt.Fprintln(&b, thin)
	fmt.Fprintf(&b, "%-15s %-30s %-15s %-8s %-10s\n", "Equipment", "Description", "Location", "Prob", "Risk")
	fmt.Fprintln(&b, thin)
	for i, r := range results {
		if i >= topCount {
			break
		}
		fmt.Fprintf(&b, "%-15s %-30s %-15s %-8.3f %-10s\n",
			truncate(r.EquipmentNo, 15),
			truncate(r.Description, 28),
			truncate(r.Location, 15),
			r.FailureProbability,
			r.RiskLevel,
		)
	}
	fmt.Fprintln(&b)

	critical := make([]predictor.Result, 0)
	for _, r := range results {
		if r.RiskLevel == predictor.RiskCritical {
			critical = append(critical, r)
		}
	}
	if len(critical) > 0 {
		fmt.Fprintln(&b, "CRITICAL EQUIPMENT REQUIRING IMMEDIATE ATTENTION")
		fmt.Fprintln(&b, thin)
		for _, r := range critical {
			fmt.Fprintf(&b, "* %s - %s\n", r.EquipmentNo, r.Description)
			fmt.Fprintf(&b, "  Location: %s\n", r.Location)
			fmt.Fprintf(&b, "  Failure Probability: %.1f%%\n", r.FailureProbability*100)
			fmt.Fprintf(&b, "  Recommendation: %s\n", r.Recommendation)
			fmt.Fprintln(&b)
		}
	}

	return b.String()
}

// WriteFile renders the report and writes it to path.
func WriteFile(path string, results []predictor.Result, generatedAt time.Time) error {
	text := RiskReport(results, generatedAt)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write risk report: %w", err)
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
