package derive

import (
	"math"
	"reflect"
	"testing"

	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

const floatTolerance = 1e-9

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) <= floatTolerance
}

func assertClose(t *testing.T, name string, got, want float64) {
	t.Helper()
	if !approxEqual(got, want) {
		t.Errorf("%s: expected %v, got %v", name, want, got)
	}
}

func sample(rel float64, voltage, current *float64) telemetry.MeasurementRecord {
	return telemetry.MeasurementRecord{
		SecondsEpoch: int64(rel),
		Timestamp:    rel,
		RelativeTime: rel,
		Voltage:      voltage,
		Current:      current,
	}
}

func constantSeries(n int, dt, voltage, current float64) []telemetry.MeasurementRecord {
	out := make([]telemetry.MeasurementRecord, n)
	for i := range out {
		out[i] = sample(float64(i)*dt, telemetry.Float(voltage), telemetry.Float(current))
	}
	return out
}

func TestIntegrateEnergy_Conservation(t *testing.T) {
	records, err := telemetry.Parse("--- \nsec: 0\nvoltage: 50.0\ncurrent: 10.0\n--- \nsec: 10\nvoltage: 50.0\ncurrent: 10.0\n")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	records = telemetry.Validate(records)

	summary := IntegrateEnergy(records)

	want := 50.0 * 10.0 * 10.0 / 3600.0
	assertClose(t, "first cumulative", records[0].CumulativeEnergyWh, 0)
	assertClose(t, "second cumulative", records[1].CumulativeEnergyWh, want)
	assertClose(t, "second cumulative kWh", records[1].CumulativeEnergyKWh, want/1000)
	assertClose(t, "chargedKWh", summary.ChargedKWh, want/1000)
	assertClose(t, "dischargedKWh", summary.DischargedKWh, 0)
	assertClose(t, "efficiency", summary.EfficiencyPercent, 100)
	if summary.Intervals != 1 || summary.SkippedIntervals != 0 {
		t.Errorf("Expected 1 interval and 0 skipped, got %d/%d", summary.Intervals, summary.SkippedIntervals)
	}
}

func TestIntegrateEnergy_ChargeDischargeSplit(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(50), telemetry.Float(10)),
		sample(3600, telemetry.Float(50), telemetry.Float(10)),
		sample(7200, telemetry.Float(50), telemetry.Float(-10)),
		sample(10800, telemetry.Float(50), telemetry.Float(-10)),
	}

	summary := IntegrateEnergy(records)

	// Interval 2 averages to zero current: net only.
	assertClose(t, "charged Wh", summary.ChargedWh, 500)
	assertClose(t, "discharged Wh", summary.DischargedWh, 500)
	assertClose(t, "net Wh", summary.NetWh, 0)
	assertClose(t, "efficiency", summary.EfficiencyPercent, 100)
	assertClose(t, "peak cumulative", records[1].CumulativeEnergyWh, 500)
	assertClose(t, "final cumulative", records[3].CumulativeEnergyWh, 0)
}

func TestIntegrateEnergy_Efficiency(t *testing.T) {
	tests := []struct {
		name           string
		currents       []float64
		wantCharged    float64
		wantDischarged float64
		wantEfficiency float64
	}{
		{name: "discharge only falls back", currents: []float64{-5, -5, -5}, wantCharged: 0, wantDischarged: 400, wantEfficiency: 100},
		{name: "charge only falls back", currents: []float64{5, 5}, wantCharged: 200, wantDischarged: 0, wantEfficiency: 100},
		{name: "idle", currents: []float64{0, 0}, wantCharged: 0, wantDischarged: 0, wantEfficiency: 100},
		// 400 + 100 charged (the transition averages +2.5A), 200 discharged.
		{name: "partial return", currents: []float64{10, 10, -5, -5}, wantCharged: 500, wantDischarged: 200, wantEfficiency: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []telemetry.MeasurementRecord
			for i, c := range tt.currents {
				records = append(records, sample(float64(i)*3600, telemetry.Float(40), telemetry.Float(c)))
			}
			summary := IntegrateEnergy(records)
			assertClose(t, "charged", summary.ChargedWh, tt.wantCharged)
			assertClose(t, "discharged", summary.DischargedWh, tt.wantDischarged)
			assertClose(t, "efficiency", summary.EfficiencyPercent, tt.wantEfficiency)
		})
	}
}

func TestIntegrateEnergy_DegenerateIntervalsCarryForward(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(50), telemetry.Float(10)),
		sample(36, telemetry.Float(50), telemetry.Float(10)),
		sample(36, telemetry.Float(50), telemetry.Float(10)), // dt == 0
		sample(72, telemetry.Float(50), nil),                 // missing current
		sample(108, telemetry.Float(50), telemetry.Float(10)),
		{RelativeTime: math.NaN(), Voltage: telemetry.Float(50), Current: telemetry.Float(10)},
	}

	summary := IntegrateEnergy(records)

	step := 50.0 * 10.0 * 36.0 / 3600.0
	assertClose(t, "after first interval", records[1].CumulativeEnergyWh, step)
	assertClose(t, "zero dt", records[2].CumulativeEnergyWh, step)
	assertClose(t, "missing current", records[3].CumulativeEnergyWh, step)
	assertClose(t, "after missing endpoint", records[4].CumulativeEnergyWh, step)
	assertClose(t, "NaN time", records[5].CumulativeEnergyWh, step)

	if summary.SkippedIntervals != 4 {
		t.Errorf("Expected 4 skipped intervals, got %d", summary.SkippedIntervals)
	}
	for i, r := range records {
		if !isFinite(r.CumulativeEnergyWh) {
			t.Errorf("record %d: non-finite cumulative energy %v", i, r.CumulativeEnergyWh)
		}
	}
}

func TestIntegrateEnergy_Empty(t *testing.T) {
	summary := IntegrateEnergy(nil)
	if summary.NetWh != 0 || summary.EfficiencyPercent != 100 {
		t.Errorf("Unexpected summary for empty series: %+v", summary)
	}
}

func TestRuntimeCost_Basic(t *testing.T) {
	records := constantSeries(3, 1800, 50, 10)

	summary := RuntimeCost(records, 0.25)

	assertClose(t, "total seconds", summary.TotalSeconds, 3600)
	assertClose(t, "total hours", summary.TotalHours, 1)
	assertClose(t, "energy Wh", summary.EnergyWh, 500)
	assertClose(t, "energy kWh", summary.EnergyKWh, 0.5)
	assertClose(t, "total cost", summary.TotalCost, 0.125)
	assertClose(t, "cost per hour", summary.CostPerHour, 0.125)
}

func TestRuntimeCost_UnsignedThroughput(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(50), telemetry.Float(10)),
		sample(3600, telemetry.Float(50), telemetry.Float(-10)),
		sample(7200, telemetry.Float(50), telemetry.Float(-10)),
	}

	summary := RuntimeCost(records, 1)
	assertClose(t, "energy Wh", summary.EnergyWh, 1000)
	assertClose(t, "cost", summary.TotalCost, 1)
}

func TestRuntimeCost_PrefersLoggedPower(t *testing.T) {
	records := constantSeries(2, 3600, 50, 10)
	records[0].Power = telemetry.Float(200)

	summary := RuntimeCost(records, 0)
	assertClose(t, "energy Wh", summary.EnergyWh, 200)
}

func TestRuntimeCost_NonNegativeRuntime(t *testing.T) {
	tests := []struct {
		name string
		rels []float64
		want float64
	}{
		{name: "empty", rels: nil, want: 0},
		{name: "single", rels: []float64{5}, want: 0},
		{name: "sorted", rels: []float64{0, 10, 30}, want: 30},
		{name: "duplicates", rels: []float64{0, 10, 10, 20}, want: 20},
		{name: "out of order", rels: []float64{0, 30, 10, 40}, want: 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []telemetry.MeasurementRecord
			for _, rel := range tt.rels {
				records = append(records, sample(rel, telemetry.Float(50), telemetry.Float(1)))
			}
			summary := RuntimeCost(records, 1)
			if summary.TotalSeconds < 0 {
				t.Fatalf("negative runtime %v", summary.TotalSeconds)
			}
			assertClose(t, "total seconds", summary.TotalSeconds, tt.want)
			if summary.TotalHours == 0 && summary.CostPerHour != 0 {
				t.Errorf("Expected 0 cost per hour with no elapsed time, got %v", summary.CostPerHour)
			}
		})
	}
}

func TestRuntimeCost_HourlyBreakdownSparse(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(50), telemetry.Float(10)),
		sample(1800, telemetry.Float(50), telemetry.Float(10)),
		sample(3600, telemetry.Float(50), nil),
		sample(7200, telemetry.Float(50), telemetry.Float(20)),
		sample(9000, telemetry.Float(50), telemetry.Float(20)),
	}

	summary := RuntimeCost(records, 2)

	// Hour 0: two 1800s intervals at 500W. Hour 1 has no usable power.
	// Hour 2: one 1800s interval at 1000W.
	want := []HourlyCost{
		{HourIndex: 0, EnergyWh: 500, EnergyKWh: 0.5, Cost: 1},
		{HourIndex: 2, EnergyWh: 500, EnergyKWh: 0.5, Cost: 1},
	}
	if len(summary.HourlyBreakdown) != len(want) {
		t.Fatalf("Expected %d buckets, got %+v", len(want), summary.HourlyBreakdown)
	}
	for i, w := range want {
		got := summary.HourlyBreakdown[i]
		if got.HourIndex != w.HourIndex {
			t.Errorf("bucket %d: expected hour %d, got %d", i, w.HourIndex, got.HourIndex)
		}
		assertClose(t, "bucket energy", got.EnergyWh, w.EnergyWh)
		assertClose(t, "bucket kWh", got.EnergyKWh, w.EnergyKWh)
		assertClose(t, "bucket cost", got.Cost, w.Cost)
	}
	assertClose(t, "total seconds", summary.TotalSeconds, 9000)
}

func TestRuntimeCost_DoesNotMutate(t *testing.T) {
	records := constantSeries(4, 60, 50, 5)
	snapshot := Clone(records)

	_ = RuntimeCost(records, 0.3)

	if !reflect.DeepEqual(records, snapshot) {
		t.Error("RuntimeCost mutated its input")
	}
}

func TestValidateUnitPrice(t *testing.T) {
	tests := []struct {
		price   float64
		wantErr bool
	}{
		{price: 0, wantErr: false},
		{price: 0.31, wantErr: false},
		{price: -0.01, wantErr: true},
		{price: math.NaN(), wantErr: true},
		{price: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		err := ValidateUnitPrice(tt.price)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateUnitPrice(%v) error = %v, wantErr %v", tt.price, err, tt.wantErr)
		}
	}
}

func TestSmooth_ConstantSeriesUnchanged(t *testing.T) {
	records := constantSeries(9, 10, 50, 4)
	for i := range records {
		records[i].SOC = telemetry.Float(75)
		records[i].Power = telemetry.Float(200)
	}

	for _, window := range []int{2, 3, 5, 9} {
		smoothed := Smooth(records, true, window)
		for i := range smoothed {
			for name, pair := range map[string][2]*float64{
				"voltage": {smoothed[i].Voltage, records[i].Voltage},
				"current": {smoothed[i].Current, records[i].Current},
				"soc":     {smoothed[i].SOC, records[i].SOC},
				"power":   {smoothed[i].Power, records[i].Power},
			} {
				if !approxEqual(*pair[0], *pair[1]) {
					t.Errorf("window %d record %d %s: expected %v, got %v", window, i, name, *pair[1], *pair[0])
				}
			}
		}
	}
}

func TestSmooth_CenteredWindow(t *testing.T) {
	var records []telemetry.MeasurementRecord
	for i, v := range []float64{10, 20, 30, 40, 50} {
		records = append(records, sample(float64(i), telemetry.Float(v), nil))
	}

	smoothed := Smooth(records, true, 3)

	want := []float64{15, 20, 30, 40, 45}
	for i, w := range want {
		assertClose(t, "smoothed voltage", *smoothed[i].Voltage, w)
	}
	assertClose(t, "input untouched", *records[0].Voltage, 10)
}

func TestSmooth_SkipsMissingValues(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(10), nil),
		sample(1, nil, nil),
		sample(2, telemetry.Float(30), nil),
	}
	records[0].SOC = telemetry.Float(50)

	smoothed := Smooth(records, true, 3)

	assertClose(t, "record 0", *smoothed[0].Voltage, 10)
	assertClose(t, "record 1 filled", *smoothed[1].Voltage, 20)
	assertClose(t, "record 2", *smoothed[2].Voltage, 30)
	if smoothed[0].Current != nil {
		t.Error("Expected current with no finite neighbors to stay absent")
	}
	assertClose(t, "soc neighbor", *smoothed[1].SOC, 50)
}

func TestSmooth_NoOp(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(10), nil),
		sample(1, telemetry.Float(20), nil),
		sample(2, telemetry.Float(90), nil),
	}

	tests := []struct {
		name    string
		enabled bool
		window  int
	}{
		{name: "disabled", enabled: false, window: 3},
		{name: "window below 2", enabled: true, window: 1},
		{name: "series shorter than window", enabled: true, window: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			smoothed := Smooth(records, tt.enabled, tt.window)
			if !reflect.DeepEqual(smoothed, records) {
				t.Errorf("Expected unchanged series, got %+v", smoothed)
			}
			if len(smoothed) > 0 && smoothed[0].Voltage == records[0].Voltage {
				t.Error("Expected a copy, got shared pointers")
			}
		})
	}
}

func TestComputeStats(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		sample(0, telemetry.Float(50), telemetry.Float(10)),
		sample(60, telemetry.Float(52), telemetry.Float(-20)),
		sample(120, telemetry.Float(54), nil),
	}
	records[0].Power = telemetry.Float(500)
	records[1].Power = telemetry.Float(-1040)
	records[2].SOC = telemetry.Float(80)

	stats := ComputeStats(records)

	if stats.Records != 3 {
		t.Errorf("Expected 3 records, got %d", stats.Records)
	}
	assertClose(t, "duration", stats.DurationSeconds, 120)
	if got := stats.Duration(); got != "2.0 min" {
		t.Errorf("Expected duration 2.0 min, got %q", got)
	}
	assertClose(t, "avg voltage", stats.Voltage.Avg, 52)
	assertClose(t, "min voltage", stats.Voltage.Min, 50)
	assertClose(t, "max voltage", stats.Voltage.Max, 54)
	assertClose(t, "avg current", stats.Current.Avg, -5)
	assertClose(t, "max |current|", stats.Current.MaxAbs, 20)
	if stats.Current.Count != 2 {
		t.Errorf("Expected 2 current samples, got %d", stats.Current.Count)
	}
	assertClose(t, "avg power", stats.Power.Avg, -270)
	assertClose(t, "max |power|", stats.Power.MaxAbs, 1040)
	assertClose(t, "avg soc", stats.SOC.Avg, 80)
}

func TestComputeStats_Empty(t *testing.T) {
	stats := ComputeStats(nil)
	if stats.Records != 0 || stats.Voltage.Count != 0 || stats.DurationSeconds != 0 {
		t.Errorf("Unexpected stats for empty series: %+v", stats)
	}
}

func TestSeriesStats_DurationHours(t *testing.T) {
	stats := SeriesStats{DurationSeconds: 5400}
	if got := stats.Duration(); got != "1.50 h" {
		t.Errorf("Expected 1.50 h, got %q", got)
	}
}

func TestComputeCellStats(t *testing.T) {
	records := []telemetry.MeasurementRecord{
		{CellVoltages: []*float64{telemetry.Float(3.30), nil, telemetry.Float(3.25)}},
		{
			CellVoltages:     []*float64{telemetry.Float(3.40), telemetry.Float(3.20), telemetry.Float(3.35)},
			CellTemperatures: []*float64{telemetry.Float(25), telemetry.Float(31)},
		},
	}

	stats := ComputeCellStats(records)
	if stats == nil {
		t.Fatal("Expected cell stats, got nil")
	}
	assertClose(t, "min cell", stats.MinVoltage, 3.20)
	assertClose(t, "max cell", stats.MaxVoltage, 3.40)
	assertClose(t, "imbalance", stats.MaxImbalance, 0.20)
	assertClose(t, "max temp", stats.MaxTemperature, 31)
	assertClose(t, "avg temp", stats.AvgTemperature, 28)
	if stats.CellCount != 3 || stats.SensorCount != 2 {
		t.Errorf("Expected 3 cells and 2 sensors, got %d/%d", stats.CellCount, stats.SensorCount)
	}
}

func TestComputeCellStats_NoCells(t *testing.T) {
	records := constantSeries(3, 10, 50, 1)
	if stats := ComputeCellStats(records); stats != nil {
		t.Errorf("Expected nil, got %+v", stats)
	}
}
