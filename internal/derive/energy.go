// Package derive computes time-series quantities over a validated series:
// cumulative energy, runtime and cost, hourly cost buckets, smoothing and
// summary statistics.
//
// IntegrateEnergy assigns the cumulative energy fields of the records it is
// given, in place. Callers that need the pre-derivation series must clone it
// first (telemetry.CloneSeries), which is what Smooth does internally.
package derive

import (
	"math"

	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

const secondsPerHour = 3600.0

// EnergySummary aggregates the trapezoidal energy integral of a series.
type EnergySummary struct {
	NetWh        float64 `json:"netWh"`
	ChargedWh    float64 `json:"chargedWh"`
	DischargedWh float64 `json:"dischargedWh"`

	NetKWh            float64 `json:"netKWh"`
	ChargedKWh        float64 `json:"chargedKWh"`
	DischargedKWh     float64 `json:"dischargedKWh"`
	EfficiencyPercent float64 `json:"efficiencyPercent"`

	Intervals        int `json:"intervals"`        // intervals that contributed
	SkippedIntervals int `json:"skippedIntervals"` // degenerate intervals carried forward
}

// IntegrateEnergy integrates voltage*current over consecutive record pairs
// with the trapezoidal rule and writes the running totals into each record.
//
// An interval is skipped, carrying the previous cumulative value forward,
// when dt <= 0 or when either endpoint lacks a finite voltage, current or
// relative time. The sign of the average current classifies the interval:
// positive adds to charged energy, negative adds its magnitude to discharged
// energy, zero only affects the net total.
//
// EfficiencyPercent is discharged/charged*100. When either side is zero
// (a charge-only or discharge-only run) it is 100, which means "nothing to
// measure", not a perfect round trip.
func IntegrateEnergy(records []telemetry.MeasurementRecord) EnergySummary {
	summary := EnergySummary{EfficiencyPercent: 100}
	if len(records) == 0 {
		return summary
	}

	records[0].CumulativeEnergyWh = 0
	records[0].CumulativeEnergyKWh = 0

	var total, charged, discharged float64

	for i := 1; i < len(records); i++ {
		prev, curr := &records[i-1], &records[i]

		intervalWh, avgCurrent, ok := trapezoid(prev, curr)
		if !ok {
			curr.CumulativeEnergyWh = prev.CumulativeEnergyWh
			curr.CumulativeEnergyKWh = curr.CumulativeEnergyWh / 1000
			summary.SkippedIntervals++
			continue
		}

		total += intervalWh
		switch {
		case avgCurrent > 0:
			charged += intervalWh
		case avgCurrent < 0:
			discharged += math.Abs(intervalWh)
		}
		summary.Intervals++

		curr.CumulativeEnergyWh = total
		curr.CumulativeEnergyKWh = total / 1000
	}

	summary.NetWh = total
	summary.ChargedWh = charged
	summary.DischargedWh = discharged
	summary.NetKWh = total / 1000
	summary.ChargedKWh = charged / 1000
	summary.DischargedKWh = discharged / 1000
	if charged > 0 && discharged > 0 {
		summary.EfficiencyPercent = discharged / charged * 100
	}

	return summary
}

// trapezoid returns the interval energy in Wh and the average current.
func trapezoid(prev, curr *telemetry.MeasurementRecord) (float64, float64, bool) {
	v0, ok0 := telemetry.Value(prev.Voltage)
	v1, ok1 := telemetry.Value(curr.Voltage)
	i0, ok2 := telemetry.Value(prev.Current)
	i1, ok3 := telemetry.Value(curr.Current)
	if !ok0 || !ok1 || !ok2 || !ok3 {
		return 0, 0, false
	}

	dt, ok := interval(prev, curr)
	if !ok {
		return 0, 0, false
	}

	avgVoltage := (v0 + v1) / 2
	avgCurrent := (i0 + i1) / 2
	return avgVoltage * avgCurrent * (dt / secondsPerHour), avgCurrent, true
}

// interval returns the positive, finite time step between two records.
func interval(prev, curr *telemetry.MeasurementRecord) (float64, bool) {
	if !isFinite(prev.RelativeTime) || !isFinite(curr.RelativeTime) {
		return 0, false
	}
	dt := curr.RelativeTime - prev.RelativeTime
	if dt <= 0 || !isFinite(dt) {
		return 0, false
	}
	return dt, true
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
