package telemetry

import (
	"math"
	"reflect"
	"testing"
)

func rec(sec int64, voltage, current, soc *float64) MeasurementRecord {
	return MeasurementRecord{
		SecondsEpoch: sec,
		Timestamp:    float64(sec),
		Voltage:      voltage,
		Current:      current,
		SOC:          soc,
	}
}

func TestValidate_SOCClampedNotDropped(t *testing.T) {
	records, err := Parse("---\nsec: 1\nsoc: 150\n---\nsec: 2\nsoc: -3\nvoltage: 50\n")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out, stats := ValidateWithStats(records)
	if len(out) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(out))
	}
	assertFloat(t, "clamped high", out[0].SOC, 100)
	assertFloat(t, "clamped low", out[1].SOC, 0)
	if stats.ClampedSOC != 2 {
		t.Errorf("Expected 2 clamped records, got %d", stats.ClampedSOC)
	}
	if stats.Dropped != 0 {
		t.Errorf("Expected 0 dropped, got %d", stats.Dropped)
	}
}

func TestValidate_VoltageRange(t *testing.T) {
	tests := []struct {
		name    string
		voltage float64
		keep    bool
	}{
		{name: "negative", voltage: -5, keep: false},
		{name: "zero", voltage: 0, keep: false},
		{name: "NaN", voltage: math.NaN(), keep: false},
		{name: "above pack range", voltage: 100.5, keep: false},
		{name: "upper bound", voltage: 100, keep: true},
		{name: "normal", voltage: 51.2, keep: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Validate([]MeasurementRecord{rec(1, Float(tt.voltage), Float(1), nil)})
			if tt.keep && len(out) != 1 {
				t.Errorf("Expected record to be kept, got %d records", len(out))
			}
			if !tt.keep && len(out) != 0 {
				t.Errorf("Expected record to be dropped, got %d records", len(out))
			}
		})
	}
}

func TestValidate_NegativeVoltageFromParse(t *testing.T) {
	records, err := Parse("---\nsec: 1\nvoltage: -5\ncurrent: 2\n---\nsec: 2\nvoltage: 50\n")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	out := Validate(records)
	if len(out) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(out))
	}
	if out[0].SecondsEpoch != 2 {
		t.Errorf("Expected surviving record sec=2, got %d", out[0].SecondsEpoch)
	}
	if out[0].RelativeTime != 0 {
		t.Errorf("Expected relative time re-anchored to 0, got %v", out[0].RelativeTime)
	}
}

func TestValidate_NonFiniteTimestampDropped(t *testing.T) {
	in := []MeasurementRecord{
		{Timestamp: math.NaN(), Voltage: Float(50)},
		{Timestamp: math.Inf(1), Voltage: Float(50)},
		{Timestamp: 3, Voltage: Float(50)},
	}
	out := Validate(in)
	if len(out) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(out))
	}
}

func TestValidate_RequiresMeasurement(t *testing.T) {
	in := []MeasurementRecord{
		{Timestamp: 1, Power: Float(100)},
		{Timestamp: 2, CellVoltages: []*float64{Float(3.3)}},
		{Timestamp: 3, Current: Float(-2)},
	}
	out := Validate(in)
	if len(out) != 2 {
		t.Fatalf("Expected power-only record to be dropped, got %d records", len(out))
	}
}

func TestValidate_PowerPolicy(t *testing.T) {
	in := []MeasurementRecord{
		rec(1, Float(50), Float(2), nil),
		rec(2, Float(50), nil, nil),
		rec(3, nil, Float(math.Inf(-1)), Float(40)),
		{Timestamp: 4, Voltage: Float(50), Current: Float(2), Power: Float(99)},
	}

	out := Validate(in)
	if len(out) != 4 {
		t.Fatalf("Expected 4 records, got %d", len(out))
	}
	assertFloat(t, "derived", out[0].Power, 100)
	assertNil(t, "no current", out[1].Power)
	assertNil(t, "non-finite current", out[2].Current)
	assertNil(t, "non-finite current power", out[2].Power)
	assertFloat(t, "logged power kept", out[3].Power, 99)
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	in := []MeasurementRecord{
		rec(2, Float(50), Float(2), Float(120)),
		rec(1, Float(51), Float(1), nil),
	}
	snapshot := CloneSeries(in)

	_ = Validate(in)

	if !reflect.DeepEqual(in, snapshot) {
		t.Error("Validate mutated its input")
	}
}

func TestValidate_Idempotent(t *testing.T) {
	input := `---
sec: 20
voltage: 52.1
current: -4
soc: 130
cell_voltages:
- 3.3
- 9.9
- 3.2
---
sec: 10
voltage: 52.3
current: 1
---
sec: 15
voltage: -1
---
sec: 17
soc: 55
cell_temperatures:
- 25
- 300
`
	records, err := Parse(input)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	once := Validate(records)
	twice := Validate(once)

	if !reflect.DeepEqual(once, twice) {
		t.Errorf("Validate is not idempotent\nonce:  %+v\ntwice: %+v", once, twice)
	}
}

func TestValidate_CellArraysRefiltered(t *testing.T) {
	cells := make([]*float64, 18)
	for i := range cells {
		cells[i] = Float(3.3)
	}
	cells[4] = Float(7)

	out := Validate([]MeasurementRecord{{Timestamp: 1, CellVoltages: cells}})
	if len(out) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(out))
	}
	if len(out[0].CellVoltages) != MaxCellVoltages {
		t.Errorf("Expected %d cells, got %d", MaxCellVoltages, len(out[0].CellVoltages))
	}
	assertNil(t, "cell 4", out[0].CellVoltages[4])
	assertFloat(t, "cell 5", out[0].CellVoltages[5], 3.3)
}

func TestValidate_FETFlagsNormalized(t *testing.T) {
	out := Validate([]MeasurementRecord{{Timestamp: 1, Voltage: Float(50), ChargeFET: 7, DischargeFET: -1}})
	if len(out) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(out))
	}
	if out[0].ChargeFET != 1 || out[0].DischargeFET != 0 {
		t.Errorf("Expected FETs 1/0, got %d/%d", out[0].ChargeFET, out[0].DischargeFET)
	}
}

func TestApplyCurrentSign(t *testing.T) {
	in := []MeasurementRecord{
		{Timestamp: 1, Voltage: Float(50), Current: Float(4), Power: Float(200)},
		{Timestamp: 2, Voltage: Float(50)},
	}

	same := ApplyCurrentSign(in, false)
	assertFloat(t, "unchanged current", same[0].Current, 4)

	inverted := ApplyCurrentSign(in, true)
	assertFloat(t, "inverted current", inverted[0].Current, -4)
	assertFloat(t, "inverted power", inverted[0].Power, -200)
	assertNil(t, "absent current stays absent", inverted[1].Current)

	assertFloat(t, "input untouched", in[0].Current, 4)
}
