// Package notification delivers run reports to Telegram channels and to the
// local desktop.
package notification

import (
	"time"

	"github.com/olegiv/bms-telemetry-go/internal/ai"
	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
)

// RunReport is everything a notifier needs about one analysed run.
type RunReport struct {
	PackName  string // display name, the log path in single-pack mode
	Source    string
	Timestamp time.Time
	Result    *analyzer.Result

	// Analysis and AIStats are nil when AI insights are disabled or failed.
	Analysis *ai.Analysis
	AIStats  *ai.Stats
}

// NeedsAttention reports whether the run belongs on the alerts channel:
// a threshold alert fired or the AI status is Satisfactory or worse.
func (r *RunReport) NeedsAttention() bool {
	if r.Result.HasAlerts() {
		return true
	}
	return r.Analysis != nil && r.Analysis.SystemStatus.NeedsAttention()
}
