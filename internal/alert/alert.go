// Package alert evaluates threshold and cell-imbalance conditions over a
// measurement series. Evaluation is pure and stateless: every call recomputes
// the full alert set from the series and thresholds it is given.
package alert

import (
	"fmt"
	"math"

	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// Kind identifies an alert condition.
type Kind string

const (
	KindVoltageLow     Kind = "voltage_low"
	KindVoltageHigh    Kind = "voltage_high"
	KindOverCurrent    Kind = "over_current"
	KindSOCLow         Kind = "soc_low"
	KindCellImbalance  Kind = "cell_imbalance"
	KindCellOverheated Kind = "cell_temperature"
)

// Thresholds are the alert limits supplied by configuration.
type Thresholds struct {
	VoltageLow       float64 `json:"voltageLow" yaml:"voltage_low"`
	VoltageHigh      float64 `json:"voltageHigh" yaml:"voltage_high"`
	CurrentMax       float64 `json:"currentMax" yaml:"current_max"`
	SOCLow           float64 `json:"socLow" yaml:"soc_low"`
	CellImbalanceMax float64 `json:"cellImbalanceMax" yaml:"cell_imbalance_max"`
	CellTempMax      float64 `json:"cellTempMax" yaml:"cell_temp_max"`
}

// DefaultThresholds returns the limits for a nominal 48V LiFePO4-class pack.
func DefaultThresholds() Thresholds {
	return Thresholds{
		VoltageLow:       48,
		VoltageHigh:      60,
		CurrentMax:       50,
		SOCLow:           20,
		CellImbalanceMax: 0.1,
		CellTempMax:      55,
	}
}

// Validate checks that every limit is finite and the voltage window is
// ordered.
func (t Thresholds) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"voltage_low", t.VoltageLow},
		{"voltage_high", t.VoltageHigh},
		{"current_max", t.CurrentMax},
		{"soc_low", t.SOCLow},
		{"cell_imbalance_max", t.CellImbalanceMax},
		{"cell_temp_max", t.CellTempMax},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return fmt.Errorf("threshold %s must be finite, got %v", f.name, f.value)
		}
	}
	if t.VoltageLow >= t.VoltageHigh {
		return fmt.Errorf("threshold voltage_low (%.2f) must be below voltage_high (%.2f)", t.VoltageLow, t.VoltageHigh)
	}
	if t.CurrentMax <= 0 {
		return fmt.Errorf("threshold current_max must be positive, got %.2f", t.CurrentMax)
	}
	if t.CellImbalanceMax < 0 {
		return fmt.Errorf("threshold cell_imbalance_max must be >= 0, got %.3f", t.CellImbalanceMax)
	}
	return nil
}

// Alert is one triggered condition. Count is the number of offending samples
// for per-sample checks and 1 for the series-wide cell checks. Observed is
// the extreme value: minimum for low checks, maximum otherwise, and the
// largest spread for imbalance.
type Alert struct {
	Kind      Kind    `json:"kind"`
	Message   string  `json:"message"`
	Count     int     `json:"count"`
	Observed  float64 `json:"observed"`
	Threshold float64 `json:"threshold"`
}

// extreme tracks the offending samples for one per-sample check.
type extreme struct {
	count int
	value float64
	pick  func(a, b float64) float64
}

func (e *extreme) add(v float64) {
	if e.count == 0 {
		e.value = v
	} else {
		e.value = e.pick(e.value, v)
	}
	e.count++
}

// Evaluate returns the alerts triggered by the series, in display order:
// low voltage, high voltage, over-current, low SOC, cell imbalance, cell
// temperature. Absent or non-finite readings never trigger an alert.
func Evaluate(series []telemetry.MeasurementRecord, th Thresholds) []Alert {
	low := extreme{pick: math.Min}
	high := extreme{pick: math.Max}
	current := extreme{pick: math.Max}
	soc := extreme{pick: math.Min}

	spread := math.Inf(-1)
	hottest := math.Inf(-1)

	for i := range series {
		r := &series[i]

		if v, ok := telemetry.Value(r.Voltage); ok {
			if v < th.VoltageLow {
				low.add(v)
			}
			if v > th.VoltageHigh {
				high.add(v)
			}
		}
		if c, ok := telemetry.Value(r.Current); ok && math.Abs(c) > th.CurrentMax {
			current.add(math.Abs(c))
		}
		if s, ok := telemetry.Value(r.SOC); ok && s < th.SOCLow {
			soc.add(s)
		}

		if cells := r.ValidCellVoltages(); len(cells) > 0 {
			lo, hi := cells[0], cells[0]
			for _, c := range cells[1:] {
				lo = math.Min(lo, c)
				hi = math.Max(hi, c)
			}
			spread = math.Max(spread, hi-lo)
		}
		for _, t := range r.ValidCellTemperatures() {
			hottest = math.Max(hottest, t)
		}
	}

	alerts := make([]Alert, 0)

	if low.count > 0 {
		alerts = append(alerts, Alert{
			Kind:      KindVoltageLow,
			Message:   fmt.Sprintf("Low Voltage Alert: %d samples below %.2fV (min %.2fV)", low.count, th.VoltageLow, low.value),
			Count:     low.count,
			Observed:  low.value,
			Threshold: th.VoltageLow,
		})
	}
	if high.count > 0 {
		alerts = append(alerts, Alert{
			Kind:      KindVoltageHigh,
			Message:   fmt.Sprintf("High Voltage Alert: %d samples above %.2fV (max %.2fV)", high.count, th.VoltageHigh, high.value),
			Count:     high.count,
			Observed:  high.value,
			Threshold: th.VoltageHigh,
		})
	}
	if current.count > 0 {
		alerts = append(alerts, Alert{
			Kind:      KindOverCurrent,
			Message:   fmt.Sprintf("Over-Current Alert: %d samples above %.2fA (max %.2fA)", current.count, th.CurrentMax, current.value),
			Count:     current.count,
			Observed:  current.value,
			Threshold: th.CurrentMax,
		})
	}
	if soc.count > 0 {
		alerts = append(alerts, Alert{
			Kind:      KindSOCLow,
			Message:   fmt.Sprintf("Low SOC Alert: %d samples below %.1f%% (min %.1f%%)", soc.count, th.SOCLow, soc.value),
			Count:     soc.count,
			Observed:  soc.value,
			Threshold: th.SOCLow,
		})
	}
	if spread > th.CellImbalanceMax {
		alerts = append(alerts, Alert{
			Kind:      KindCellImbalance,
			Message:   fmt.Sprintf("Cell Imbalance Alert: max spread %.3fV exceeds %.3fV", spread, th.CellImbalanceMax),
			Count:     1,
			Observed:  spread,
			Threshold: th.CellImbalanceMax,
		})
	}
	if hottest > th.CellTempMax {
		alerts = append(alerts, Alert{
			Kind:      KindCellOverheated,
			Message:   fmt.Sprintf("Cell Temperature Alert: max %.1f°C exceeds %.1f°C", hottest, th.CellTempMax),
			Count:     1,
			Observed:  hottest,
			Threshold: th.CellTempMax,
		})
	}

	return alerts
}

// Has reports whether alerts contains one of the given kind.
func Has(alerts []Alert, kind Kind) bool {
	for _, a := range alerts {
		if a.Kind == kind {
			return true
		}
	}
	return false
}
