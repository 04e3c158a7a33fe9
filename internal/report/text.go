// Package report renders an analysed run as a plain-text console report.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// Chart dimensions used when Options leaves them unset.
const (
	DefaultChartWidth  = 72
	DefaultChartHeight = 10
)

// Options controls report rendering.
type Options struct {
	PackName    string
	Source      string
	Charts      bool
	ChartWidth  int
	ChartHeight int
}

// Write renders result to w.
func Write(w io.Writer, result *analyzer.Result, opts Options) error {
	if result == nil {
		return fmt.Errorf("no result to report")
	}

	var b strings.Builder
	writeHeader(&b, result, opts)
	writeStats(&b, result)
	writeEnergy(&b, result)
	writeCost(&b, result)
	writeCells(&b, result)
	writeAlerts(&b, result)
	if opts.Charts {
		writeCharts(&b, result, opts)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

func writeHeader(b *strings.Builder, result *analyzer.Result, opts Options) {
	title := "BMS Run Report"
	if opts.PackName != "" {
		title += ": " + opts.PackName
	}
	fmt.Fprintf(b, "%s\n%s\n", title, strings.Repeat("=", len(title)))
	if opts.Source != "" {
		fmt.Fprintf(b, "Source:        %s\n", opts.Source)
	}

	d := result.Diagnostics
	fmt.Fprintf(b, "Blocks:        %d (%d skipped)\n", d.Blocks, d.SkippedBlocks)
	fmt.Fprintf(b, "Records:       %d parsed, %d dropped, %d SOC clamped\n", d.Parsed, d.Dropped, d.ClampedSOC)
	if d.SkippedIntervals > 0 {
		fmt.Fprintf(b, "Intervals:     %d skipped (non-positive time step)\n", d.SkippedIntervals)
	}
}

func writeStats(b *strings.Builder, result *analyzer.Result) {
	s := result.Stats
	section(b, "Statistics")
	fmt.Fprintf(b, "Records:       %d\n", s.Records)
	fmt.Fprintf(b, "Duration:      %s\n", s.Duration())
	if s.Voltage.Count > 0 {
		fmt.Fprintf(b, "Voltage:       avg %.2f V, min %.2f V, max %.2f V\n", s.Voltage.Avg, s.Voltage.Min, s.Voltage.Max)
	}
	if s.Current.Count > 0 {
		fmt.Fprintf(b, "Current:       avg %.2f A, max |%.2f| A\n", s.Current.Avg, s.Current.MaxAbs)
	}
	if s.SOC.Count > 0 {
		fmt.Fprintf(b, "SOC:           avg %.1f %%, min %.1f %%\n", s.SOC.Avg, s.SOC.Min)
	}
	if s.Power.Count > 0 {
		fmt.Fprintf(b, "Power:         avg %.1f W, max |%.1f| W\n", s.Power.Avg, s.Power.MaxAbs)
	}
}

func writeEnergy(b *strings.Builder, result *analyzer.Result) {
	e := result.Energy
	section(b, "Energy")
	fmt.Fprintf(b, "Net:           %.3f kWh\n", e.NetKWh)
	fmt.Fprintf(b, "Charged:       %.3f kWh\n", e.ChargedKWh)
	fmt.Fprintf(b, "Discharged:    %.3f kWh\n", e.DischargedKWh)
	fmt.Fprintf(b, "Efficiency:    %.1f %%\n", e.EfficiencyPercent)
}

func writeCost(b *strings.Builder, result *analyzer.Result) {
	rc := result.Runtime
	section(b, "Runtime and cost")
	fmt.Fprintf(b, "Runtime:       %.2f h\n", rc.TotalHours)
	fmt.Fprintf(b, "Throughput:    %.3f kWh\n", rc.EnergyKWh)
	if rc.UnitPrice <= 0 {
		b.WriteString("Cost:          no tariff set\n")
		return
	}
	fmt.Fprintf(b, "Unit price:    %.4f per kWh\n", rc.UnitPrice)
	fmt.Fprintf(b, "Total cost:    %.2f\n", rc.TotalCost)
	fmt.Fprintf(b, "Cost per hour: %.2f\n", rc.CostPerHour)

	if len(rc.HourlyBreakdown) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%-6s %12s %10s\n", "Hour", "Energy kWh", "Cost")
	for _, h := range rc.HourlyBreakdown {
		fmt.Fprintf(b, "%-6d %12.3f %10.2f\n", h.HourIndex+1, h.EnergyKWh, h.Cost)
	}
}

func writeCells(b *strings.Builder, result *analyzer.Result) {
	cs := result.CellStats
	if cs == nil {
		return
	}
	section(b, "Cells")
	fmt.Fprintf(b, "Voltage:       min %.3f V, max %.3f V, avg %.3f V (%d cells)\n",
		cs.MinVoltage, cs.MaxVoltage, cs.AvgVoltage, cs.CellCount)
	fmt.Fprintf(b, "Imbalance:     max %.3f V\n", cs.MaxImbalance)
	if cs.SensorCount > 0 {
		fmt.Fprintf(b, "Temperature:   min %.1f C, max %.1f C, avg %.1f C (%d sensors)\n",
			cs.MinTemperature, cs.MaxTemperature, cs.AvgTemperature, cs.SensorCount)
	}
}

func writeAlerts(b *strings.Builder, result *analyzer.Result) {
	section(b, "Alerts")
	if len(result.Alerts) == 0 {
		b.WriteString("None\n")
		return
	}
	for i, a := range result.Alerts {
		fmt.Fprintf(b, "%d. %s\n", i+1, a.Message)
	}
}

func writeCharts(b *strings.Builder, result *analyzer.Result, opts Options) {
	width, height := opts.ChartWidth, opts.ChartHeight
	if width <= 0 {
		width = DefaultChartWidth
	}
	if height <= 0 {
		height = DefaultChartHeight
	}

	records := result.Smoothed
	if len(records) == 0 {
		records = result.Records
	}

	charts := []struct {
		title string
		value func(*telemetry.MeasurementRecord) *float64
	}{
		{"Voltage (V)", func(r *telemetry.MeasurementRecord) *float64 { return r.Voltage }},
		{"SOC (%)", func(r *telemetry.MeasurementRecord) *float64 { return r.SOC }},
	}

	for _, c := range charts {
		data, from, to := series(records, result.TimeMode, c.value)
		section(b, c.title)
		if len(data) < 2 {
			b.WriteString("Not enough data to chart\n")
			continue
		}
		caption := fmt.Sprintf("%s, %s %.0f to %.0f", c.title, result.TimeMode.Label(), from, to)
		b.WriteString(asciigraph.Plot(data,
			asciigraph.Height(height),
			asciigraph.Width(width),
			asciigraph.Caption(caption),
		))
		b.WriteString("\n")
	}
}

// series collects the present values of one field and the time range they
// span on the selected axis.
func series(records []telemetry.MeasurementRecord, mode analyzer.TimeMode, value func(*telemetry.MeasurementRecord) *float64) (data []float64, from, to float64) {
	for i := range records {
		v, ok := telemetry.Value(value(&records[i]))
		if !ok {
			continue
		}
		t := mode.TimeValue(&records[i])
		if len(data) == 0 {
			from = t
		}
		to = t
		data = append(data, v)
	}
	return data, from, to
}
