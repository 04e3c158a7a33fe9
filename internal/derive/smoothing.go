package derive

import "github.com/olegiv/bms-telemetry-go/internal/telemetry"

// DefaultSmoothingWindow is the moving-average window used when none is set.
const DefaultSmoothingWindow = 5

// Clone returns a deep copy of the series. Derivation mutates records in
// place, so callers that need a pre-derivation snapshot clone first.
func Clone(records []telemetry.MeasurementRecord) []telemetry.MeasurementRecord {
	return telemetry.CloneSeries(records)
}

// Smooth returns a copy of the series with voltage, current, power and SOC
// replaced by a centered moving average.
//
// For record i the window is [max(0, i-w/2), min(n-1, i+w/2)] and only finite
// values inside it are averaged. A record whose window holds no finite value
// keeps its original value. When smoothing is disabled, w < 2, or the series
// is shorter than w, the copy is returned unchanged.
func Smooth(records []telemetry.MeasurementRecord, enabled bool, window int) []telemetry.MeasurementRecord {
	out := Clone(records)
	if !enabled || window < 2 || len(records) < window {
		return out
	}

	fields := []func(*telemetry.MeasurementRecord) **float64{
		func(r *telemetry.MeasurementRecord) **float64 { return &r.Voltage },
		func(r *telemetry.MeasurementRecord) **float64 { return &r.Current },
		func(r *telemetry.MeasurementRecord) **float64 { return &r.Power },
		func(r *telemetry.MeasurementRecord) **float64 { return &r.SOC },
	}

	half := window / 2
	n := len(records)

	for _, field := range fields {
		// Read from the unsmoothed input so earlier results don't feed later windows.
		for i := range out {
			lo := max(0, i-half)
			hi := min(n-1, i+half)

			var sum float64
			var count int
			for j := lo; j <= hi; j++ {
				src := records[j]
				if v, ok := telemetry.Value(*field(&src)); ok {
					sum += v
					count++
				}
			}
			if count == 0 {
				continue
			}
			*field(&out[i]) = telemetry.Float(sum / float64(count))
		}
	}

	return out
}
