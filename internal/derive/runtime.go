package derive

import (
	"errors"
	"math"
	"sort"

	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// ErrInvalidUnitPrice is returned for a negative or non-finite tariff.
var ErrInvalidUnitPrice = errors.New("unit price must be a finite number >= 0")

// HourlyCost is one sparse bucket of the hourly breakdown.
type HourlyCost struct {
	HourIndex int     `json:"hourIndex"`
	EnergyWh  float64 `json:"energyWh"`
	EnergyKWh float64 `json:"energyKWh"`
	Cost      float64 `json:"cost"`
}

// RuntimeCostSummary reports elapsed runtime and the energy cost of a series.
type RuntimeCostSummary struct {
	TotalSeconds    float64      `json:"totalSeconds"`
	TotalHours      float64      `json:"totalHours"`
	EnergyWh        float64      `json:"energyWh"`
	EnergyKWh       float64      `json:"energyKWh"`
	UnitPrice       float64      `json:"unitPrice"`
	TotalCost       float64      `json:"totalCost"`
	CostPerHour     float64      `json:"costPerHour"`
	HourlyBreakdown []HourlyCost `json:"hourlyBreakdown"`
}

// ValidateUnitPrice checks a tariff supplied by the user.
func ValidateUnitPrice(price float64) error {
	if !isFinite(price) || price < 0 {
		return ErrInvalidUnitPrice
	}
	return nil
}

// RuntimeCost computes runtime, energy cost and the hourly breakdown.
//
// Runtime is the sum of all positive time steps, so duplicate or
// out-of-order timestamps never shrink it and it is never negative. Energy
// for costing is integrated per interval as power*dt/3600 from the earlier
// endpoint, falling back to voltage*current when power is absent; intervals
// with no usable power contribute nothing. Interval energies are summed as
// magnitudes (throughput, no charge/discharge split).
//
// Each interval's energy is bucketed by floor(prevRelativeTime/3600); only
// hours with data appear. CostPerHour is 0 when no time elapsed. The series
// is not modified.
func RuntimeCost(records []telemetry.MeasurementRecord, unitPrice float64) RuntimeCostSummary {
	summary := RuntimeCostSummary{UnitPrice: unitPrice, HourlyBreakdown: []HourlyCost{}}

	buckets := make(map[int]float64)

	for i := 1; i < len(records); i++ {
		prev, curr := &records[i-1], &records[i]

		dt, ok := interval(prev, curr)
		if !ok {
			continue
		}
		summary.TotalSeconds += dt

		power, ok := powerOf(prev)
		if !ok {
			continue
		}
		intervalWh := math.Abs(power * dt / secondsPerHour)
		summary.EnergyWh += intervalWh

		hour := int(math.Floor(prev.RelativeTime / secondsPerHour))
		buckets[hour] += intervalWh
	}

	summary.TotalHours = summary.TotalSeconds / secondsPerHour
	summary.EnergyKWh = summary.EnergyWh / 1000
	summary.TotalCost = math.Abs(summary.EnergyKWh) * unitPrice
	if summary.TotalHours > 0 {
		summary.CostPerHour = summary.TotalCost / summary.TotalHours
	}

	hours := make([]int, 0, len(buckets))
	for h := range buckets {
		hours = append(hours, h)
	}
	sort.Ints(hours)

	for _, h := range hours {
		kwh := buckets[h] / 1000
		summary.HourlyBreakdown = append(summary.HourlyBreakdown, HourlyCost{
			HourIndex: h,
			EnergyWh:  buckets[h],
			EnergyKWh: kwh,
			Cost:      math.Abs(kwh) * unitPrice,
		})
	}

	return summary
}

// powerOf returns the logged power, or voltage*current when power is absent.
func powerOf(r *telemetry.MeasurementRecord) (float64, bool) {
	if p, ok := telemetry.Value(r.Power); ok {
		return p, true
	}
	v, okV := telemetry.Value(r.Voltage)
	i, okI := telemetry.Value(r.Current)
	if !okV || !okI {
		return 0, false
	}
	return v * i, true
}
