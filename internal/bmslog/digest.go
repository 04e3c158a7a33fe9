package bmslog

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// Compile-time interface check
var _ analyzer.Digester = (*Digester)(nil)

// Section priorities.
const (
	PriorityHigh   = 1
	PriorityMedium = 2
	PriorityLow    = 3
)

// maxSampleRows caps the sample table before any token-based compression.
const maxSampleRows = 240

// Section is one titled block of the digest.
type Section struct {
	Name     string
	Content  string
	Priority int
}

// Digester renders an analyzer.Result as plain text for the AI prompt.
// Implements analyzer.Digester interface.
type Digester struct {
	maxTokens int
}

// NewDigester creates a digester with the given token budget.
func NewDigester(maxTokens int) *Digester {
	return &Digester{
		maxTokens: maxTokens,
	}
}

// EstimateTokens delegates to the shared analyzer.EstimateTokens function.
func (d *Digester) EstimateTokens(content string) int {
	return analyzer.EstimateTokens(content)
}

// Digest renders the result. Summary, alert, energy and cell sections are
// always kept whole; when the budget is exceeded the hourly breakdown keeps
// half its rows and the sample table a fifth.
func (d *Digester) Digest(result *analyzer.Result) (string, error) {
	if result == nil {
		return "", fmt.Errorf("cannot digest nil result")
	}

	sections := d.buildSections(result)

	totalTokens := 0
	for _, section := range sections {
		totalTokens += d.EstimateTokens(section.Content)
	}

	var out strings.Builder
	for _, section := range sections {
		content := section.Content
		if totalTokens > d.maxTokens {
			content = compressByPriority(section)
		}
		fmt.Fprintf(&out, "################### %s ###################\n", section.Name)
		out.WriteString(content)
		out.WriteString("\n")
	}

	return out.String(), nil
}

func (d *Digester) buildSections(result *analyzer.Result) []*Section {
	sections := []*Section{
		{Name: "Run Summary", Content: summarySection(result), Priority: PriorityHigh},
		{Name: "Alerts", Content: alertsSection(result), Priority: PriorityHigh},
		{Name: "Energy And Cost", Content: energySection(result), Priority: PriorityHigh},
	}
	if result.CellStats != nil {
		sections = append(sections, &Section{Name: "Cells", Content: cellsSection(result), Priority: PriorityHigh})
	}
	if len(result.Runtime.HourlyBreakdown) > 0 {
		sections = append(sections, &Section{Name: "Hourly Breakdown", Content: hourlySection(result), Priority: PriorityMedium})
	}
	sections = append(sections, &Section{Name: "Samples", Content: samplesSection(result.Records), Priority: PriorityLow})
	return sections
}

func summarySection(r *analyzer.Result) string {
	var b strings.Builder
	s := r.Stats
	fmt.Fprintf(&b, "Records: %d\n", s.Records)
	fmt.Fprintf(&b, "Duration: %s\n", s.Duration())
	if len(r.Records) > 0 {
		first, last := r.Records[0], r.Records[len(r.Records)-1]
		fmt.Fprintf(&b, "Start: %s\n", formatEpoch(first.Timestamp))
		fmt.Fprintf(&b, "End: %s\n", formatEpoch(last.Timestamp))
	}
	writeField(&b, "Voltage (V)", s.Voltage.Count, "avg %.2f, min %.2f, max %.2f", s.Voltage.Avg, s.Voltage.Min, s.Voltage.Max)
	writeField(&b, "Current (A)", s.Current.Count, "avg %.2f, max |I| %.2f", s.Current.Avg, s.Current.MaxAbs)
	writeField(&b, "SOC (%)", s.SOC.Count, "avg %.1f, min %.1f, max %.1f", s.SOC.Avg, s.SOC.Min, s.SOC.Max)
	writeField(&b, "Power (W)", s.Power.Count, "avg %.1f, max |P| %.1f", s.Power.Avg, s.Power.MaxAbs)

	dg := r.Diagnostics
	fmt.Fprintf(&b, "Parser: %d blocks, %d skipped, %d dropped by validation, %d SOC clamped, %d degenerate intervals\n",
		dg.Blocks, dg.SkippedBlocks, dg.Dropped, dg.ClampedSOC, dg.SkippedIntervals)
	return b.String()
}

func writeField(b *strings.Builder, label string, count int, format string, args ...any) {
	if count == 0 {
		fmt.Fprintf(b, "%s: no samples\n", label)
		return
	}
	fmt.Fprintf(b, "%s: %s (%d samples)\n", label, fmt.Sprintf(format, args...), count)
}

func alertsSection(r *analyzer.Result) string {
	if len(r.Alerts) == 0 {
		return "No alerts.\n"
	}
	var b strings.Builder
	for _, a := range r.Alerts {
		fmt.Fprintf(&b, "- [%s] %s\n", a.Kind, a.Message)
	}
	return b.String()
}

func energySection(r *analyzer.Result) string {
	var b strings.Builder
	e, rt := r.Energy, r.Runtime
	fmt.Fprintf(&b, "Net energy: %.4f kWh\n", e.NetKWh)
	fmt.Fprintf(&b, "Charged: %.4f kWh\n", e.ChargedKWh)
	fmt.Fprintf(&b, "Discharged: %.4f kWh\n", e.DischargedKWh)
	if e.ChargedWh > 0 {
		fmt.Fprintf(&b, "Round-trip efficiency: %.1f%%\n", e.EfficiencyPercent)
	} else {
		b.WriteString("Round-trip efficiency: n/a (nothing charged)\n")
	}
	fmt.Fprintf(&b, "Runtime: %.2f h\n", rt.TotalHours)
	fmt.Fprintf(&b, "Energy throughput: %.4f kWh\n", rt.EnergyKWh)
	fmt.Fprintf(&b, "Unit price: %.4f per kWh\n", rt.UnitPrice)
	fmt.Fprintf(&b, "Total cost: %.4f (%.4f per hour)\n", rt.TotalCost, rt.CostPerHour)
	return b.String()
}

func cellsSection(r *analyzer.Result) string {
	c := r.CellStats
	var b strings.Builder
	if c.CellCount > 0 {
		fmt.Fprintf(&b, "Cells: %d\n", c.CellCount)
		fmt.Fprintf(&b, "Cell voltage (V): avg %.3f, min %.3f, max %.3f\n", c.AvgVoltage, c.MinVoltage, c.MaxVoltage)
		fmt.Fprintf(&b, "Max imbalance: %.3f V\n", c.MaxImbalance)
	}
	if c.SensorCount > 0 {
		fmt.Fprintf(&b, "Temperature sensors: %d\n", c.SensorCount)
		fmt.Fprintf(&b, "Cell temperature (C): avg %.1f, min %.1f, max %.1f\n", c.AvgTemperature, c.MinTemperature, c.MaxTemperature)
	}
	return b.String()
}

func hourlySection(r *analyzer.Result) string {
	var b strings.Builder
	b.WriteString("hour | energy_kwh | cost\n")
	for _, h := range r.Runtime.HourlyBreakdown {
		fmt.Fprintf(&b, "%d | %.4f | %.4f\n", h.HourIndex, h.EnergyKWh, h.Cost)
	}
	return b.String()
}

// samplesSection renders an evenly spaced subset of the series, always
// including the first and last record.
func samplesSection(records []telemetry.MeasurementRecord) string {
	var b strings.Builder
	b.WriteString("t_rel_s | voltage | current | soc | power | cum_kwh\n")
	for _, i := range sampleIndexes(len(records), maxSampleRows) {
		r := &records[i]
		fmt.Fprintf(&b, "%.0f | %s | %s | %s | %s | %.4f\n",
			r.RelativeTime, cell(r.Voltage, 2), cell(r.Current, 2), cell(r.SOC, 1), cell(r.Power, 1), r.CumulativeEnergyKWh)
	}
	return b.String()
}

func sampleIndexes(n, limit int) []int {
	if n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, limit)
	step := float64(n-1) / float64(limit-1)
	for k := 0; k < limit; k++ {
		out = append(out, int(math.Round(float64(k)*step)))
	}
	return out
}

func cell(p *float64, precision int) string {
	v, ok := telemetry.Value(p)
	if !ok {
		return "-"
	}
	return fmt.Sprintf("%.*f", precision, v)
}

func formatEpoch(ts float64) string {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC().Format(time.RFC3339)
}

// compressByPriority thins table rows according to section priority. The
// first line of a section is its header and is always kept; the remaining
// rows are thinned evenly so the first and last rows survive.
func compressByPriority(section *Section) string {
	var keepRatio float64
	switch section.Priority {
	case PriorityHigh:
		return section.Content
	case PriorityMedium:
		keepRatio = 0.5
	default:
		keepRatio = 0.2
	}

	lines := strings.Split(strings.TrimRight(section.Content, "\n"), "\n")
	header, rows := lines[0], lines[1:]

	keepCount := int(math.Ceil(float64(len(rows)) * keepRatio))
	if keepCount < 2 {
		keepCount = 2
	}
	if keepCount >= len(rows) {
		return section.Content
	}

	var result strings.Builder
	result.WriteString(header + "\n")
	for _, i := range sampleIndexes(len(rows), keepCount) {
		result.WriteString(rows[i] + "\n")
	}
	fmt.Fprintf(&result, "[... %d rows omitted for brevity ...]\n", len(rows)-keepCount)
	return result.String()
}
