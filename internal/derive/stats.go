package derive

import (
	"fmt"
	"math"

	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// FieldStats summarizes one optional numeric field over a series.
// Count is the number of finite values seen; with Count == 0 every other
// field is 0.
type FieldStats struct {
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	MaxAbs float64 `json:"maxAbs"`
}

// SeriesStats is the summary table shown for a validated series.
type SeriesStats struct {
	Records         int        `json:"records"`
	DurationSeconds float64    `json:"durationSeconds"`
	Voltage         FieldStats `json:"voltage"`
	Current         FieldStats `json:"current"`
	SOC             FieldStats `json:"soc"`
	Power           FieldStats `json:"power"`
}

// Duration renders the series duration as minutes below one hour and as
// hours otherwise.
func (s SeriesStats) Duration() string {
	if s.DurationSeconds < secondsPerHour {
		return fmt.Sprintf("%.1f min", s.DurationSeconds/60)
	}
	return fmt.Sprintf("%.2f h", s.DurationSeconds/secondsPerHour)
}

// CellStats summarizes per-cell voltages and temperatures over a series.
type CellStats struct {
	MinVoltage   float64 `json:"minVoltage"`
	MaxVoltage   float64 `json:"maxVoltage"`
	AvgVoltage   float64 `json:"avgVoltage"`
	MaxImbalance float64 `json:"maxImbalance"`
	CellCount    int     `json:"cellCount"`

	MinTemperature float64 `json:"minTemperature"`
	MaxTemperature float64 `json:"maxTemperature"`
	AvgTemperature float64 `json:"avgTemperature"`
	SensorCount    int     `json:"sensorCount"`
}

type accumulator struct {
	sum, min, max, maxAbs float64
	count                 int
}

func (a *accumulator) add(p *float64) {
	v, ok := telemetry.Value(p)
	if !ok {
		return
	}
	if a.count == 0 {
		a.min, a.max = v, v
	}
	a.sum += v
	a.min = math.Min(a.min, v)
	a.max = math.Max(a.max, v)
	a.maxAbs = math.Max(a.maxAbs, math.Abs(v))
	a.count++
}

func (a *accumulator) stats() FieldStats {
	if a.count == 0 {
		return FieldStats{}
	}
	return FieldStats{
		Count:  a.count,
		Avg:    a.sum / float64(a.count),
		Min:    a.min,
		Max:    a.max,
		MaxAbs: a.maxAbs,
	}
}

// ComputeStats summarizes a validated series. Averages only include present
// finite values; missing power is no contribution, never a zero.
func ComputeStats(records []telemetry.MeasurementRecord) SeriesStats {
	stats := SeriesStats{Records: len(records)}
	if len(records) == 0 {
		return stats
	}

	var voltage, current, soc, power accumulator
	for i := range records {
		r := &records[i]
		voltage.add(r.Voltage)
		current.add(r.Current)
		soc.add(r.SOC)
		power.add(r.Power)
	}

	first, last := records[0].RelativeTime, records[len(records)-1].RelativeTime
	if d := last - first; isFinite(d) && d > 0 {
		stats.DurationSeconds = d
	}

	stats.Voltage = voltage.stats()
	stats.Current = current.stats()
	stats.SOC = soc.stats()
	stats.Power = power.stats()
	return stats
}

// ComputeCellStats returns nil when no record carries a valid cell voltage or
// cell temperature.
func ComputeCellStats(records []telemetry.MeasurementRecord) *CellStats {
	var cells, temps accumulator
	var maxImbalance float64
	var cellCount, sensorCount int

	for i := range records {
		valid := records[i].ValidCellVoltages()
		if len(valid) > 0 {
			lo, hi := valid[0], valid[0]
			for _, v := range valid {
				cells.add(telemetry.Float(v))
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
			maxImbalance = math.Max(maxImbalance, hi-lo)
			cellCount = max(cellCount, len(valid))
		}

		validTemps := records[i].ValidCellTemperatures()
		for _, t := range validTemps {
			temps.add(telemetry.Float(t))
		}
		sensorCount = max(sensorCount, len(validTemps))
	}

	if cells.count == 0 && temps.count == 0 {
		return nil
	}

	c, t := cells.stats(), temps.stats()
	return &CellStats{
		MinVoltage:     c.Min,
		MaxVoltage:     c.Max,
		AvgVoltage:     c.Avg,
		MaxImbalance:   maxImbalance,
		CellCount:      cellCount,
		MinTemperature: t.Min,
		MaxTemperature: t.Max,
		AvgTemperature: t.Avg,
		SensorCount:    sensorCount,
	}
}
