package telemetry

import "math"

// ValidationStats counts the range policy decisions of one Validate call.
type ValidationStats struct {
	Input      int
	Accepted   int
	Dropped    int // records removed (bad timestamp, bad voltage, no measurement)
	ClampedSOC int // records kept with SOC clamped into [0, 100]
}

// Validate refines a parsed series into the validated series. It never
// mutates its input.
//
// Drop discipline applies to every range check except SOC:
//   - non-finite timestamp: dropped
//   - voltage present but non-finite or outside (0, 100]: dropped
//   - no voltage, current, SOC or cell-voltage list: dropped
//
// SOC outside [0, 100] is clamped and the record kept. Non-finite current,
// power or remaining capacity become absent. Power is derived as
// voltage*current when absent and both operands are finite; otherwise it
// stays absent (nil), never a synthetic zero. Cell arrays are truncated to
// capacity with out-of-range entries nulled in place.
//
// The output is stably sorted by timestamp and relative times are recomputed
// from its first record, so Validate(Validate(x)) equals Validate(x).
func Validate(records []MeasurementRecord) []MeasurementRecord {
	out, _ := ValidateWithStats(records)
	return out
}

// ValidateWithStats is Validate plus policy counters.
func ValidateWithStats(records []MeasurementRecord) ([]MeasurementRecord, ValidationStats) {
	stats := ValidationStats{Input: len(records)}
	out := make([]MeasurementRecord, 0, len(records))

	for i := range records {
		rec, clamped, ok := normalize(records[i])
		if !ok {
			stats.Dropped++
			continue
		}
		if clamped {
			stats.ClampedSOC++
		}
		out = append(out, rec)
	}

	sortAndAnchor(out)
	stats.Accepted = len(out)
	return out, stats
}

func normalize(in MeasurementRecord) (MeasurementRecord, bool, bool) {
	if math.IsNaN(in.Timestamp) || math.IsInf(in.Timestamp, 0) {
		return in, false, false
	}

	rec := in.Clone()

	if rec.Voltage != nil {
		v, ok := Value(rec.Voltage)
		if !ok || v <= 0 || v > MaxPackVoltage {
			return in, false, false
		}
	}

	clamped := false
	if rec.SOC != nil {
		if soc, ok := Value(rec.SOC); ok {
			c := clamp(soc, MinSOC, MaxSOC)
			clamped = c != soc
			rec.SOC = Float(c)
		} else {
			rec.SOC = nil
		}
	}

	rec.Current = finiteOrNil(rec.Current)
	rec.Power = finiteOrNil(rec.Power)
	rec.RemainingAh = finiteOrNil(rec.RemainingAh)

	rec.CellVoltages = filterCells(rec.CellVoltages, MaxCellVoltages, MinCellVoltage, MaxCellVoltage)
	rec.CellTemperatures = filterCells(rec.CellTemperatures, MaxCellTemperatures, MinCellTemp, MaxCellTemp)

	if !rec.HasMeasurement() {
		return in, false, false
	}

	if rec.Power == nil {
		rec.Power = derivePower(rec.Voltage, rec.Current)
	}

	rec.ChargeFET = flag(rec.ChargeFET)
	rec.DischargeFET = flag(rec.DischargeFET)

	return rec, clamped, true
}

// ApplyCurrentSign returns a copy of the series with current and power
// negated when invert is true. The canonical convention is positive current
// for charging; packs whose BMS logs the opposite sign are normalized here,
// before validation and derivation.
func ApplyCurrentSign(records []MeasurementRecord, invert bool) []MeasurementRecord {
	out := CloneSeries(records)
	if !invert {
		return out
	}
	for i := range out {
		if out[i].Current != nil {
			out[i].Current = Float(-*out[i].Current)
		}
		if out[i].Power != nil {
			out[i].Power = Float(-*out[i].Power)
		}
	}
	return out
}

func finiteOrNil(p *float64) *float64 {
	if !Finite(p) {
		return nil
	}
	return p
}

func flag(v int) int {
	if v > 0 {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
