package analyzer

import (
	"errors"
	"fmt"

	"github.com/olegiv/bms-telemetry-go/internal/alert"
	"github.com/olegiv/bms-telemetry-go/internal/derive"
	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// ErrNoData is returned when the input parsed cleanly but produced no
// usable samples. It is a distinguished outcome, not a failure of the input.
var ErrNoData = errors.New("no valid BMS samples found")

// Options configures one pipeline run. Every value is passed explicitly;
// the pipeline reads no global state.
type Options struct {
	Thresholds       alert.Thresholds
	UnitPrice        float64
	SmoothingEnabled bool
	SmoothingWindow  int
	InvertCurrent    bool
	TimeMode         TimeMode
}

// DefaultOptions returns options with default thresholds, no tariff and
// smoothing disabled.
func DefaultOptions() Options {
	return Options{
		Thresholds:      alert.DefaultThresholds(),
		SmoothingWindow: derive.DefaultSmoothingWindow,
		TimeMode:        TimeAbsolute,
	}
}

// Validate checks the run options.
func (o Options) Validate() error {
	if err := o.Thresholds.Validate(); err != nil {
		return err
	}
	if err := derive.ValidateUnitPrice(o.UnitPrice); err != nil {
		return fmt.Errorf("invalid unit price %v: %w", o.UnitPrice, err)
	}
	if o.SmoothingEnabled && o.SmoothingWindow < 2 {
		return fmt.Errorf("smoothing window must be >= 2, got %d", o.SmoothingWindow)
	}
	if _, err := ParseTimeMode(string(o.TimeMode)); err != nil {
		return err
	}
	return nil
}

// Diagnostics counts what the pipeline discarded or repaired on the way.
type Diagnostics struct {
	Blocks           int `json:"blocks"`
	SkippedBlocks    int `json:"skippedBlocks"`
	Parsed           int `json:"parsed"`
	Dropped          int `json:"dropped"`
	ClampedSOC       int `json:"clampedSoc"`
	SkippedIntervals int `json:"skippedIntervals"`
}

// Result is the full output of one pipeline run.
type Result struct {
	// Records is the validated series with cumulative energy assigned.
	Records []telemetry.MeasurementRecord
	// Smoothed is a display copy of Records; equal to it when smoothing is off.
	Smoothed []telemetry.MeasurementRecord

	Energy    derive.EnergySummary
	Runtime   derive.RuntimeCostSummary
	Alerts    []alert.Alert
	Stats     derive.SeriesStats
	CellStats *derive.CellStats

	TimeMode    TimeMode
	Diagnostics Diagnostics
}

// Run executes parse, validate, derive and evaluate over raw log text.
//
// A structurally invalid input (not text) returns a *telemetry.ParseError.
// Input that parses but yields no valid record returns ErrNoData together
// with a Result carrying only Diagnostics, so callers can report what was
// skipped. Alerts are evaluated on the unsmoothed series.
func Run(text string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	mode, _ := ParseTimeMode(string(opts.TimeMode))

	parsed, parseStats, err := telemetry.ParseWithStats(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse BMS log: %w", err)
	}

	parsed = telemetry.ApplyCurrentSign(parsed, opts.InvertCurrent)
	records, validation := telemetry.ValidateWithStats(parsed)

	result := &Result{
		TimeMode: mode,
		Diagnostics: Diagnostics{
			Blocks:        parseStats.Blocks,
			SkippedBlocks: parseStats.SkippedBlocks,
			Parsed:        parseStats.Records,
			Dropped:       validation.Dropped,
			ClampedSOC:    validation.ClampedSOC,
		},
	}

	if len(records) == 0 {
		return result, ErrNoData
	}

	// Derivation happens once, over the full ordered series.
	result.Energy = derive.IntegrateEnergy(records)
	result.Runtime = derive.RuntimeCost(records, opts.UnitPrice)
	result.Diagnostics.SkippedIntervals = result.Energy.SkippedIntervals

	result.Records = records
	result.Smoothed = derive.Smooth(records, opts.SmoothingEnabled, opts.SmoothingWindow)
	result.Alerts = alert.Evaluate(records, opts.Thresholds)
	result.Stats = derive.ComputeStats(records)
	result.CellStats = derive.ComputeCellStats(records)

	return result, nil
}

// HasAlerts reports whether the run triggered any alert.
func (r *Result) HasAlerts() bool {
	return r != nil && len(r.Alerts) > 0
}
