package analyzer

import (
	"fmt"

	"github.com/olegiv/bms-telemetry-go/internal/telemetry"
)

// TimeMode selects the time axis used when presenting a series.
type TimeMode string

// Supported time modes.
const (
	TimeAbsolute TimeMode = "absolute"
	TimeRelative TimeMode = "relative"
)

// ValidTimeModes returns the accepted time mode strings.
// Useful for configuration validation.
func ValidTimeModes() []string {
	return []string{
		string(TimeAbsolute),
		string(TimeRelative),
	}
}

// ParseTimeMode converts a string to TimeMode.
// An empty string selects TimeAbsolute.
func ParseTimeMode(s string) (TimeMode, error) {
	switch s {
	case "", string(TimeAbsolute):
		return TimeAbsolute, nil
	case string(TimeRelative):
		return TimeRelative, nil
	default:
		return "", fmt.Errorf("invalid time mode: %q (valid modes: %v)", s, ValidTimeModes())
	}
}

// TimeValue returns the record's position on the selected axis: the epoch
// timestamp for absolute mode and seconds since the first record otherwise.
func (m TimeMode) TimeValue(r *telemetry.MeasurementRecord) float64 {
	if m == TimeRelative {
		return r.RelativeTime
	}
	return r.Timestamp
}

// Label returns a short axis caption for the mode.
func (m TimeMode) Label() string {
	if m == TimeRelative {
		return "seconds since start"
	}
	return "unix time"
}
