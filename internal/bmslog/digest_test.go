package bmslog

import (
	"fmt"
	"strings"
	"testing"

	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
)

func runLog(t *testing.T, samples int, opts analyzer.Options) *analyzer.Result {
	t.Helper()
	var b strings.Builder
	for i := 0; i < samples; i++ {
		fmt.Fprintf(&b, "---\nsec: %d\nvoltage: %.2f\ncurrent: %.1f\nsoc: %d\ncell_voltages:\n- 3.30\n- 3.34\n",
			1700000000+i*60, 46.0+float64(i%10)*0.5, -12.5, 50+i%40)
	}
	result, err := analyzer.Run(b.String(), opts)
	if err != nil {
		t.Fatalf("Unexpected pipeline error: %v", err)
	}
	return result
}

func TestDigest_Sections(t *testing.T) {
	opts := analyzer.DefaultOptions()
	opts.UnitPrice = 0.25
	result := runLog(t, 120, opts)

	digest, err := NewDigester(100000).Digest(result)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	assertContains(t, digest, []string{
		"Run Summary",
		"Records: 120",
		"Start: 2023-11-14T22:13:20Z",
		"Alerts",
		"Low Voltage Alert",
		"Energy And Cost",
		"Round-trip efficiency: n/a (nothing charged)",
		"Cells",
		"Max imbalance: 0.040 V",
		"Hourly Breakdown",
		"Samples",
	}, "Digest()")
	assertNotContains(t, digest, []string{"omitted for brevity"}, "Digest()")
}

func TestDigest_CompressesOverBudget(t *testing.T) {
	result := runLog(t, 600, analyzer.DefaultOptions())

	d := NewDigester(2000)
	full, err := NewDigester(1 << 30).Digest(result)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	compressed, err := d.Digest(result)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if d.EstimateTokens(compressed) >= d.EstimateTokens(full) {
		t.Errorf("Expected compressed digest to be smaller (%d >= %d)", d.EstimateTokens(compressed), d.EstimateTokens(full))
	}
	assertContains(t, compressed, []string{"omitted for brevity", "Low Voltage Alert", "Records: 600"}, "compressed Digest()")
}

func TestDigest_NilResult(t *testing.T) {
	if _, err := NewDigester(1000).Digest(nil); err == nil {
		t.Error("Expected error for nil result")
	}
}

func TestSampleIndexes(t *testing.T) {
	tests := []struct {
		n, limit int
		want     []int
	}{
		{n: 0, limit: 5, want: []int{}},
		{n: 3, limit: 5, want: []int{0, 1, 2}},
		{n: 9, limit: 3, want: []int{0, 4, 8}},
		{n: 10, limit: 4, want: []int{0, 3, 6, 9}},
	}

	for _, tt := range tests {
		got := sampleIndexes(tt.n, tt.limit)
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("sampleIndexes(%d, %d) = %v, want %v", tt.n, tt.limit, got, tt.want)
		}
	}
}

func TestCompressByPriority(t *testing.T) {
	rows := []string{"header"}
	for i := 0; i < 10; i++ {
		rows = append(rows, fmt.Sprintf("row %d", i))
	}
	content := strings.Join(rows, "\n") + "\n"

	high := compressByPriority(&Section{Content: content, Priority: PriorityHigh})
	if high != content {
		t.Error("High priority sections must not be compressed")
	}

	low := compressByPriority(&Section{Content: content, Priority: PriorityLow})
	assertContains(t, low, []string{"header\n", "row 0\n", "row 9\n", "[... 8 rows omitted for brevity ...]"}, "low priority")

	medium := compressByPriority(&Section{Content: content, Priority: PriorityMedium})
	assertContains(t, medium, []string{"header\n", "[... 5 rows omitted for brevity ...]"}, "medium priority")
}
