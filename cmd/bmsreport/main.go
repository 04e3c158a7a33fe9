package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olegiv/bms-telemetry-go/internal/ai"
	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
	"github.com/olegiv/bms-telemetry-go/internal/bmslog"
	"github.com/olegiv/bms-telemetry-go/internal/config"
	internalerrors "github.com/olegiv/bms-telemetry-go/internal/errors"
	"github.com/olegiv/bms-telemetry-go/internal/logging"
	"github.com/olegiv/bms-telemetry-go/internal/notification"
	"github.com/olegiv/bms-telemetry-go/internal/report"
	"github.com/olegiv/bms-telemetry-go/internal/storage"
	"github.com/olegiv/bms-telemetry-go/pkg/logger"
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitNoData  = 2
)

const historyDays = 7

// Version information - injected at build time via ldflags
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli := config.ParseCLI()

	if cli.ShowHelp {
		config.PrintUsage()
		return exitSuccess
	}

	if cli.ShowVersion {
		fmt.Printf("bmsreport %s\n", version)
		if gitCommit != "unknown" {
			fmt.Printf("  commit: %s\n", gitCommit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
		return exitSuccess
	}

	if cli.ListPacks {
		if err := listPacks(os.Stdout, cli.PacksConfig); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitFailure
		}
		return exitSuccess
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	cfg, err := config.LoadWithCLI(cli)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return exitFailure
	}

	// Console logs go to stderr; stdout carries the report.
	baseLog := logger.New(logger.Config{
		Level:      cfg.LogLevel,
		LogDir:     "./logs",
		FileName:   "bmsreport.log",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Console:    true,
		ConsoleOut: os.Stderr,
	})
	log := logging.NewSecure(baseLog)
	if cfg.PackID != "" {
		log = log.With("pack", cfg.PackID)
	}
	defer func() {
		if err := log.Close(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to close logger: %v\n", err)
		}
	}()

	log.Info().Str("version", version).Str("source", cfg.BMSLogPath).Msg("Starting BMS report")

	err = runReport(ctx, cfg, log, os.Stdout)
	switch {
	case errors.Is(err, analyzer.ErrNoData):
		log.Warn().Err(err).Msg("Log parsed but contained no usable samples")
		return exitNoData
	case err != nil:
		log.Error().Err(err).Msg("Report failed")
		return exitFailure
	}

	log.Info().Msg("Report completed successfully")
	return exitSuccess
}

func runReport(ctx context.Context, cfg *config.Config, log *logging.SecureLogger, out io.Writer) error {
	startTime := time.Now()

	// 1. Read and analyse the log
	var reader analyzer.LogReader = bmslog.NewReader(cfg.MaxLogSizeMB)
	content, err := reader.Read(cfg.BMSLogPath)
	if err != nil {
		return fmt.Errorf("failed to read BMS log: %w", err)
	}

	if info, err := reader.GetSourceInfo(cfg.BMSLogPath); err == nil {
		log.Info().
			Float64("size_mb", info["size_mb"].(float64)).
			Float64("age_hours", info["age_hours"].(float64)).
			Msg("BMS log read successfully")
	}

	result, err := analyzer.Run(content, cfg.AnalyzerOptions())
	if errors.Is(err, analyzer.ErrNoData) {
		d := result.Diagnostics
		_, _ = fmt.Fprintf(out, "No valid BMS samples in %s: %d blocks, %d skipped, %d records dropped\n",
			cfg.BMSLogPath, d.Blocks, d.SkippedBlocks, d.Dropped)
		return err
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	log.Info().
		Int("records", result.Stats.Records).
		Int("skipped_blocks", result.Diagnostics.SkippedBlocks).
		Int("dropped", result.Diagnostics.Dropped).
		Int("alerts", len(result.Alerts)).
		Float64("net_kwh", result.Energy.NetKWh).
		Msg("Analysis complete")

	// 2. Console report
	reportOpts := report.Options{
		PackName: cfg.DisplayName(),
		Source:   cfg.BMSLogPath,
		Charts:   cfg.ReportCharts,
	}
	if err := report.Write(out, result, reportOpts); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	// 3. Storage (optional)
	var store *storage.Storage
	if cfg.EnableDatabase {
		store, err = storage.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close database")
			}
		}()
		log.Debug().Str("path", cfg.DatabasePath).Int("schema_version", store.SchemaVersion()).Msg("Database initialized")
	}

	runInfo := &notification.RunReport{
		PackName:  cfg.DisplayName(),
		Source:    cfg.BMSLogPath,
		Timestamp: time.Now(),
		Result:    result,
	}

	// 4. AI insights (optional, failures are not fatal)
	if cfg.EnableAIAnalysis {
		analysis, stats, err := analyzeWithAI(ctx, cfg, store, result, log)
		if err != nil {
			log.Warn().Err(err).Msg("AI analysis failed, continuing without it")
		} else {
			runInfo.Analysis = analysis
			runInfo.AIStats = stats
		}
	}

	if store != nil {
		saveRun(store, cfg, runInfo, log)
	}

	// 5. Notifications
	if cfg.HasTelegram() {
		if err := sendTelegram(cfg, runInfo, log); err != nil {
			return err
		}
	}

	if cfg.EnableDesktopNotify {
		desktop := notification.NewDesktopNotifier("BMS Report")
		if err := desktop.NotifyAlerts(cfg.DisplayName(), result.Alerts); err != nil {
			log.Warn().Err(err).Msg("Desktop notification failed")
		}
	}

	log.Info().
		Float64("total_duration_s", time.Since(startTime).Seconds()).
		Msg("All operations completed successfully")

	return nil
}

func analyzeWithAI(ctx context.Context, cfg *config.Config, store *storage.Storage, result *analyzer.Result, log *logging.SecureLogger) (*ai.Analysis, *ai.Stats, error) {
	var provider ai.Provider
	provider, err := ai.NewClient(cfg.AnthropicAPIKey, cfg.ClaudeModel, cfg.GetProxyURL(true), cfg.AITimeoutSeconds, cfg.AIMaxTokens)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize Claude client: %w", err)
	}

	var digester analyzer.Digester = bmslog.NewDigester(cfg.MaxDigestTokens)
	digest, err := digester.Digest(result)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build run digest: %w", err)
	}
	log.Debug().Int("digest_tokens", digester.EstimateTokens(digest)).Msg("Run digest built")

	var historicalContext string
	if store != nil {
		historicalContext, err = store.GetHistoricalContext(historyDays, cfg.PackID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to get historical context, continuing without it")
		}
	}

	var prompts analyzer.PromptBuilder = bmslog.NewPromptBuilder()
	log.Info().
		Str("provider", provider.GetProviderName()).
		Str("api_key", internalerrors.MaskCredential(cfg.AnthropicAPIKey)).
		Str("log_type", prompts.GetLogType()).
		Msg("Analyzing with Claude AI...")

	analysis, stats, err := provider.Analyze(ctx, prompts.GetSystemPrompt(),
		prompts.GetUserPrompt(digest, historicalContext))
	if err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("status", string(analysis.SystemStatus)).
		Int("critical_issues", len(analysis.CriticalIssues)).
		Int("warnings", len(analysis.Warnings)).
		Float64("cost_usd", stats.CostUSD).
		Float64("duration_s", stats.DurationSeconds).
		Msg("AI analysis completed")

	log.Debug().
		Int("input_tokens", stats.InputTokens).
		Int("output_tokens", stats.OutputTokens).
		Int("cache_creation_tokens", stats.CacheCreationTokens).
		Int("cache_read_tokens", stats.CacheReadTokens).
		Msg("Token usage details")

	return analysis, stats, nil
}

// saveRun records the run and prunes old history. Failures are logged only.
func saveRun(store *storage.Storage, cfg *config.Config, r *notification.RunReport, log *logging.SecureLogger) {
	res := r.Result
	run := &storage.Run{
		Timestamp:         r.Timestamp,
		Pack:              cfg.PackID,
		Source:            r.Source,
		Records:           res.Stats.Records,
		SkippedBlocks:     res.Diagnostics.SkippedBlocks,
		Dropped:           res.Diagnostics.Dropped,
		DurationSeconds:   res.Stats.DurationSeconds,
		NetKWh:            res.Energy.NetKWh,
		ChargedKWh:        res.Energy.ChargedKWh,
		DischargedKWh:     res.Energy.DischargedKWh,
		EfficiencyPercent: res.Energy.EfficiencyPercent,
		RuntimeHours:      res.Runtime.TotalHours,
		UnitPrice:         res.Runtime.UnitPrice,
		TotalCost:         res.Runtime.TotalCost,
		CostPerHour:       res.Runtime.CostPerHour,
		HourlyCosts:       res.Runtime.HourlyBreakdown,
		Alerts:            res.Alerts,
	}
	if r.Analysis != nil {
		run.SystemStatus = string(r.Analysis.SystemStatus)
		run.Summary = r.Analysis.Summary
	}
	if r.AIStats != nil {
		run.InputTokens = r.AIStats.InputTokens
		run.OutputTokens = r.AIStats.OutputTokens
		run.AICostUSD = r.AIStats.CostUSD
	}

	if err := store.SaveRun(run); err != nil {
		log.Warn().Err(err).Msg("Failed to save run to database")
	} else {
		log.Info().Str("id", run.ID).Msg("Run saved to database")
	}

	deleted, err := store.CleanupOldRuns(cfg.RetentionDays)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to cleanup old runs")
	} else if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Old runs cleaned up")
	}

	if stats, err := store.GetStatistics(cfg.PackID); err == nil {
		log.Debug().
			Int("total_runs", stats["total_runs"].(int)).
			Int("runs_with_alerts", stats["runs_with_alerts"].(int)).
			Float64("total_cost", stats["total_cost"].(float64)).
			Msg("Run history statistics")
	}
}

func sendTelegram(cfg *config.Config, r *notification.RunReport, log *logging.SecureLogger) error {
	client, err := notification.NewTelegramClient(
		cfg.TelegramBotToken,
		cfg.GetProxyURL(true),
		cfg.TelegramArchiveChannel,
		cfg.TelegramAlertsChannel,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Telegram client")
		}
	}()

	log.Info().
		Str("username", client.GetBotInfo()["username"].(string)).
		Str("token", internalerrors.MaskCredential(cfg.TelegramBotToken)).
		Msg("Telegram bot initialized")

	if err := client.SendRunReport(r); err != nil {
		return fmt.Errorf("failed to send Telegram notification: %w", err)
	}

	if cfg.HasAlertsChannel() && r.NeedsAttention() {
		log.Info().Msg("Alert notification sent (run needs attention)")
	}
	return nil
}

// listPacks prints the packs in bms-packs.yaml.
func listPacks(w io.Writer, packsConfigPath string) error {
	packsConfig, foundPath, err := config.LoadPacksConfig(packsConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load packs config: %w", err)
	}
	if packsConfig == nil {
		_, _ = fmt.Fprintln(w, "No bms-packs.yaml found; running in single-pack mode.")
		return nil
	}

	_, _ = fmt.Fprintf(w, "Packs in %s:\n", foundPath)
	for _, id := range packsConfig.ListPacks() {
		pack, _ := packsConfig.GetPack(id)
		marker := " "
		if id == packsConfig.DefaultPack {
			marker = "*"
		}
		name := pack.Name
		if name == "" {
			name = id
		}
		_, _ = fmt.Fprintf(w, " %s %-16s %-24s %s\n", marker, id, name, pack.LogPath)
	}
	return nil
}
