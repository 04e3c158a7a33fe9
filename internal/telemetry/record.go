// Package telemetry turns raw BMS log text into a validated, time-ordered
// series of measurement records.
//
// The package is pure: no logging, no I/O, no shared state. Parse extracts
// records from `---` delimited blocks and Validate refines them into the
// series consumed by the derive and alert packages.
package telemetry

import "math"

// Fixed capacities of the per-record cell arrays.
const (
	MaxCellVoltages     = 16
	MaxCellTemperatures = 5
)

// Physical ranges enforced on parsed and validated values.
const (
	MinCellVoltage = 2.0
	MaxCellVoltage = 4.5
	MinCellTemp    = -40.0
	MaxCellTemp    = 120.0
	MaxPackVoltage = 100.0
	MinSOC         = 0.0
	MaxSOC         = 100.0
	maxNanoseconds = 999_999_999
)

// MeasurementRecord is one telemetry sample.
//
// Optional readings are pointers: nil means the value was not logged (or was
// discarded), which downstream aggregation treats as "no contribution".
// Cell arrays keep nil placeholders for out-of-range entries so that the
// index of every cell is preserved.
type MeasurementRecord struct {
	SecondsEpoch int64   `json:"sec"`
	Nanoseconds  int64   `json:"nanosec"`
	Timestamp    float64 `json:"timestamp"`
	RelativeTime float64 `json:"relativeTime"`

	Voltage     *float64 `json:"voltage,omitempty"`
	Current     *float64 `json:"current,omitempty"`
	SOC         *float64 `json:"soc,omitempty"`
	Power       *float64 `json:"power,omitempty"`
	RemainingAh *float64 `json:"remainingAh,omitempty"`

	ChargeFET    int `json:"chargeFet"`
	DischargeFET int `json:"dischargeFet"`

	CellVoltages     []*float64 `json:"cellVoltages,omitempty"`
	CellTemperatures []*float64 `json:"cellTemperatures,omitempty"`

	CumulativeEnergyWh  float64 `json:"cumulativeEnergyWh"`
	CumulativeEnergyKWh float64 `json:"cumulativeEnergyKWh"`
}

// Float returns a pointer to v, for building optional readings.
func Float(v float64) *float64 {
	return &v
}

// Finite reports whether p holds a finite value.
func Finite(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && !math.IsInf(*p, 0)
}

// Value returns the reading and whether it is present and finite.
func Value(p *float64) (float64, bool) {
	if !Finite(p) {
		return 0, false
	}
	return *p, true
}

// HasMeasurement reports whether the record carries at least one of
// voltage, current, SOC or a non-empty cell-voltage list.
func (r *MeasurementRecord) HasMeasurement() bool {
	return r.Voltage != nil || r.Current != nil || r.SOC != nil || len(r.CellVoltages) > 0
}

// ValidCellVoltages returns the non-nil cell voltages in index order.
func (r *MeasurementRecord) ValidCellVoltages() []float64 {
	return compact(r.CellVoltages)
}

// ValidCellTemperatures returns the non-nil cell temperatures in index order.
func (r *MeasurementRecord) ValidCellTemperatures() []float64 {
	return compact(r.CellTemperatures)
}

// Clone returns a deep copy of the record. Optional readings and cell arrays
// are copied so the clone can be mutated independently.
func (r MeasurementRecord) Clone() MeasurementRecord {
	out := r
	out.Voltage = copyFloat(r.Voltage)
	out.Current = copyFloat(r.Current)
	out.SOC = copyFloat(r.SOC)
	out.Power = copyFloat(r.Power)
	out.RemainingAh = copyFloat(r.RemainingAh)
	out.CellVoltages = copyCells(r.CellVoltages)
	out.CellTemperatures = copyCells(r.CellTemperatures)
	return out
}

// CloneSeries deep-copies every record of a series.
func CloneSeries(records []MeasurementRecord) []MeasurementRecord {
	if records == nil {
		return nil
	}
	out := make([]MeasurementRecord, len(records))
	for i := range records {
		out[i] = records[i].Clone()
	}
	return out
}

func compact(cells []*float64) []float64 {
	var out []float64
	for _, c := range cells {
		if v, ok := Value(c); ok {
			out = append(out, v)
		}
	}
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyCells(cells []*float64) []*float64 {
	if cells == nil {
		return nil
	}
	out := make([]*float64, len(cells))
	for i, c := range cells {
		out[i] = copyFloat(c)
	}
	return out
}

// filterCells truncates to capacity and replaces out-of-range or non-finite
// entries with nil at their original index.
func filterCells(cells []*float64, capacity int, lo, hi float64) []*float64 {
	if cells == nil {
		return nil
	}
	if len(cells) > capacity {
		cells = cells[:capacity]
	}
	out := make([]*float64, len(cells))
	for i, c := range cells {
		if v, ok := Value(c); ok && v >= lo && v <= hi {
			out[i] = Float(v)
		}
	}
	return out
}

func timestampOf(sec, nanosec int64) float64 {
	return float64(sec) + float64(nanosec)*1e-9
}
