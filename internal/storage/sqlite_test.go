package storage

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/olegiv/bms-telemetry-go/internal/alert"
	"github.com/olegiv/bms-telemetry-go/internal/derive"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	storage, err := New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return storage
}

// sampleRun returns a run taken ago before now.
func sampleRun(pack string, ago time.Duration) *Run {
	return &Run{
		Timestamp:         time.Now().Add(-ago),
		Pack:              pack,
		Source:            "/data/" + pack + ".yaml",
		Records:           120,
		SkippedBlocks:     2,
		Dropped:           1,
		DurationSeconds:   7200,
		NetKWh:            -1.2,
		ChargedKWh:        0.3,
		DischargedKWh:     1.5,
		EfficiencyPercent: 500,
		RuntimeHours:      2,
		UnitPrice:         0.25,
		TotalCost:         0.45,
		CostPerHour:       0.225,
		HourlyCosts: []derive.HourlyCost{
			{HourIndex: 0, EnergyWh: 1000, EnergyKWh: 1, Cost: 0.25},
			{HourIndex: 1, EnergyWh: 800, EnergyKWh: 0.8, Cost: 0.2},
		},
		Alerts: []alert.Alert{
			{Kind: alert.KindVoltageLow, Message: "Low Voltage Alert: 3 samples below 48.00V (min 46.20V)", Count: 3, Observed: 46.2, Threshold: 48},
		},
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "runs.db")

	storage, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	defer func() { _ = storage.Close() }()

	if storage.SchemaVersion() != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, storage.SchemaVersion())
	}
}

func TestNew_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")

	first, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := first.SaveRun(sampleRun("", time.Hour)); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	_ = first.Close()

	second, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer func() { _ = second.Close() }()

	runs, err := second.GetRecentRuns(7, "")
	if err != nil {
		t.Fatalf("GetRecentRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("Expected 1 run after reopen, got %d", len(runs))
	}
}

func TestSaveRun_RoundTrip(t *testing.T) {
	storage := newTestStorage(t)
	run := sampleRun("garage", time.Hour)
	run.SystemStatus = "Good"
	run.Summary = "Pack discharged evenly"
	run.InputTokens = 1000
	run.OutputTokens = 500
	run.AICostUSD = 0.0105

	if err := storage.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if _, err := ulid.ParseStrict(run.ID); err != nil {
		t.Fatalf("Expected ULID id, got %q: %v", run.ID, err)
	}

	runs, err := storage.GetRecentRuns(7, "garage")
	if err != nil {
		t.Fatalf("GetRecentRuns() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("Expected 1 run, got %d", len(runs))
	}

	got := runs[0]
	if got.ID != run.ID || got.Source != run.Source || got.Records != 120 || got.Dropped != 1 {
		t.Errorf("Run fields mismatch: %+v", got)
	}
	if got.NetKWh != -1.2 || got.TotalCost != 0.45 || got.EfficiencyPercent != 500 {
		t.Errorf("Energy/cost mismatch: %+v", got)
	}
	if !reflect.DeepEqual(got.Alerts, run.Alerts) {
		t.Errorf("Alerts = %+v, want %+v", got.Alerts, run.Alerts)
	}
	if got.SystemStatus != "Good" || got.AICostUSD != 0.0105 {
		t.Errorf("AI fields mismatch: %+v", got)
	}
	if got.HourlyCosts != nil {
		t.Error("GetRecentRuns should not load hourly costs")
	}

	hours, err := storage.GetHourlyCosts(run.ID)
	if err != nil {
		t.Fatalf("GetHourlyCosts() error = %v", err)
	}
	if !reflect.DeepEqual(hours, run.HourlyCosts) {
		t.Errorf("GetHourlyCosts() = %+v, want %+v", hours, run.HourlyCosts)
	}
}

func TestSaveRun_NoAlertsNoHours(t *testing.T) {
	storage := newTestStorage(t)
	run := &Run{Source: "bms.yaml", Records: 3, EfficiencyPercent: 100}

	if err := storage.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}
	if run.Timestamp.IsZero() {
		t.Error("Expected SaveRun to stamp the run")
	}

	runs, err := storage.GetRecentRuns(1, "")
	if err != nil || len(runs) != 1 {
		t.Fatalf("GetRecentRuns() = %d runs, %v", len(runs), err)
	}
	if len(runs[0].Alerts) != 0 {
		t.Errorf("Expected no alerts, got %v", runs[0].Alerts)
	}

	hours, err := storage.GetHourlyCosts(run.ID)
	if err != nil {
		t.Fatalf("GetHourlyCosts() error = %v", err)
	}
	if hours == nil || len(hours) != 0 {
		t.Errorf("Expected empty non-nil hours, got %#v", hours)
	}
}

func TestGetRecentRuns_FiltersAndOrders(t *testing.T) {
	storage := newTestStorage(t)

	for _, r := range []*Run{
		sampleRun("garage", 3*time.Hour),
		sampleRun("garage", time.Hour),
		sampleRun("garage", 10*24*time.Hour),
		sampleRun("boat", 2*time.Hour),
	} {
		if err := storage.SaveRun(r); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	runs, err := storage.GetRecentRuns(7, "garage")
	if err != nil {
		t.Fatalf("GetRecentRuns() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("Expected 2 recent garage runs, got %d", len(runs))
	}
	if !runs[0].Timestamp.After(runs[1].Timestamp) {
		t.Error("Expected newest run first")
	}
	for _, r := range runs {
		if r.Pack != "garage" {
			t.Errorf("Unexpected pack %q", r.Pack)
		}
	}

	single, err := storage.GetRecentRuns(7, "")
	if err != nil {
		t.Fatalf("GetRecentRuns() error = %v", err)
	}
	if len(single) != 0 {
		t.Errorf("Single-pack history should be separate, got %d runs", len(single))
	}
}

func TestGetHistoricalContext(t *testing.T) {
	storage := newTestStorage(t)

	empty, err := storage.GetHistoricalContext(7, "garage")
	if err != nil {
		t.Fatalf("GetHistoricalContext() error = %v", err)
	}
	if empty != "" {
		t.Errorf("Expected empty context without history, got %q", empty)
	}

	run := sampleRun("garage", time.Hour)
	run.SystemStatus = "Satisfactory"
	run.Summary = "Cell 3 drifting"
	if err := storage.SaveRun(run); err != nil {
		t.Fatalf("SaveRun() error = %v", err)
	}

	ctx, err := storage.GetHistoricalContext(7, "garage")
	if err != nil {
		t.Fatalf("GetHistoricalContext() error = %v", err)
	}
	for _, want := range []string{
		"Previous 1 BMS runs:",
		"120 records over 2.0 h",
		"net -1.200 kWh",
		"Cost: 0.45",
		"Alerts: voltage_low",
		"Status: Satisfactory - Cell 3 drifting",
	} {
		if !strings.Contains(ctx, want) {
			t.Errorf("Context missing %q:\n%s", want, ctx)
		}
	}
}

func TestCleanupOldRuns(t *testing.T) {
	storage := newTestStorage(t)

	old := sampleRun("", 40*24*time.Hour)
	recent := sampleRun("", time.Hour)
	for _, r := range []*Run{old, recent} {
		if err := storage.SaveRun(r); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	deleted, err := storage.CleanupOldRuns(30)
	if err != nil {
		t.Fatalf("CleanupOldRuns() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 deleted run, got %d", deleted)
	}

	hours, err := storage.GetHourlyCosts(old.ID)
	if err != nil {
		t.Fatalf("GetHourlyCosts() error = %v", err)
	}
	if len(hours) != 0 {
		t.Errorf("Expected hourly rows of deleted run to be gone, got %d", len(hours))
	}

	hours, err = storage.GetHourlyCosts(recent.ID)
	if err != nil || len(hours) != 2 {
		t.Errorf("Recent run hourly rows = %d, %v; want 2", len(hours), err)
	}

	deleted, err = storage.CleanupOldRuns(30)
	if err != nil || deleted != 0 {
		t.Errorf("Second cleanup = %d, %v; want 0", deleted, err)
	}
}

func TestGetStatistics(t *testing.T) {
	storage := newTestStorage(t)

	stats, err := storage.GetStatistics("garage")
	if err != nil {
		t.Fatalf("GetStatistics() error = %v", err)
	}
	if stats["total_runs"] != 0 {
		t.Errorf("Expected 0 runs, got %v", stats["total_runs"])
	}

	withAlerts := sampleRun("garage", time.Hour)
	withAlerts.SystemStatus = "Bad"
	clean := sampleRun("garage", 2*time.Hour)
	clean.Alerts = nil
	clean.SystemStatus = "Good"
	other := sampleRun("boat", time.Hour)

	for _, r := range []*Run{withAlerts, clean, other} {
		if err := storage.SaveRun(r); err != nil {
			t.Fatalf("SaveRun() error = %v", err)
		}
	}

	stats, err = storage.GetStatistics("garage")
	if err != nil {
		t.Fatalf("GetStatistics() error = %v", err)
	}
	if stats["total_runs"] != 2 {
		t.Errorf("Expected 2 runs, got %v", stats["total_runs"])
	}
	if stats["runs_with_alerts"] != 1 {
		t.Errorf("Expected 1 run with alerts, got %v", stats["runs_with_alerts"])
	}
	if cost, ok := stats["total_cost"].(float64); !ok || cost < 0.899 || cost > 0.901 {
		t.Errorf("Expected total cost 0.90, got %v", stats["total_cost"])
	}
	want := map[string]int{"Bad": 1, "Good": 1}
	if !reflect.DeepEqual(stats["status_distribution"], want) {
		t.Errorf("status_distribution = %v, want %v", stats["status_distribution"], want)
	}
}

func TestClose(t *testing.T) {
	storage, err := New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := storage.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
