package config

import (
	"crypto/subtle"
	"flag"
	"fmt"
	"math"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/olegiv/bms-telemetry-go/internal/alert"
	"github.com/olegiv/bms-telemetry-go/internal/analyzer"
)

var telegramTokenRegex = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// CLIOptions holds command-line argument overrides
type CLIOptions struct {
	SourcePath  string   // -source-path: BMS export to analyze
	Pack        string   // -pack: pack ID from bms-packs.yaml
	PacksConfig string   // -packs-config: path to bms-packs.yaml
	ListPacks   bool     // -list-packs: list available packs and exit
	UnitPrice   *float64 // -unit-price: tariff per kWh, nil when not given
	Smooth      *bool    // -smooth: enable display smoothing, nil when not given
	ShowHelp    bool     // -help: show usage
	ShowVersion bool     // -version: show version
}

// ParseCLI parses os.Args and returns CLIOptions. Invalid flags exit the
// process with usage, as flag.CommandLine does.
func ParseCLI() *CLIOptions {
	flag.CommandLine.Usage = func() { printUsage(flag.CommandLine) }
	opts, _ := parseCLIArgs(flag.CommandLine, os.Args[1:])
	return opts
}

// PrintUsage prints the command-line usage information
func PrintUsage() {
	printUsage(flag.CommandLine)
}

func parseCLIArgs(fs *flag.FlagSet, args []string) (*CLIOptions, error) {
	opts := &CLIOptions{}
	var unitPrice float64
	var smooth bool

	fs.StringVar(&opts.SourcePath, "source-path", "", "Path to the BMS log export (overrides config)")
	fs.StringVar(&opts.Pack, "pack", "", "Pack ID from bms-packs.yaml")
	fs.StringVar(&opts.PacksConfig, "packs-config", "", "Path to bms-packs.yaml configuration file")
	fs.BoolVar(&opts.ListPacks, "list-packs", false, "List available packs from bms-packs.yaml and exit")
	fs.Float64Var(&unitPrice, "unit-price", 0, "Energy tariff per kWh (overrides config)")
	fs.BoolVar(&smooth, "smooth", false, "Smooth the displayed series (alerts always use raw samples)")
	fs.BoolVar(&opts.ShowHelp, "help", false, "Show usage information")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "unit-price":
			opts.UnitPrice = &unitPrice
		case "smooth":
			opts.Smooth = &smooth
		}
	})

	return opts, nil
}

func printUsage(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, "BMS Report - battery telemetry analysis with energy, cost and alert reporting\n\n")
	_, _ = fmt.Fprintf(out, "Usage: %s [options]\n\n", os.Args[0])
	_, _ = fmt.Fprintf(out, "Options:\n")
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, "\nExamples:\n")
	_, _ = fmt.Fprintf(out, "  %s -source-path ./run.yaml\n", os.Args[0])
	_, _ = fmt.Fprintf(out, "  %s -source-path ./run.yaml -unit-price 0.25 -smooth\n", os.Args[0])
	_, _ = fmt.Fprintf(out, "  %s -pack garage\n", os.Args[0])
	_, _ = fmt.Fprintf(out, "  %s -list-packs\n", os.Args[0])
	_, _ = fmt.Fprintf(out, "\nMulti-pack setups:\n")
	_, _ = fmt.Fprintf(out, "  Create bms-packs.yaml with pack profiles and use -pack to select one.\n")
	_, _ = fmt.Fprintf(out, "\nEnvironment variables can be set in .env file or exported directly.\n")
	_, _ = fmt.Fprintf(out, "CLI arguments override pack profiles, which override environment variables.\n")
}

// Config holds all application configuration
type Config struct {
	// Input
	BMSLogPath   string
	MaxLogSizeMB int

	// Analysis
	UnitPrice        float64
	SmoothingEnabled bool
	SmoothingWindow  int
	TimeMode         string
	InvertCurrent    bool
	Thresholds       alert.Thresholds

	// Pack profile (zero values in single-pack mode)
	PackID          string
	PackName        string
	PacksConfig     *PacksConfig
	PacksConfigPath string

	// Application
	LogLevel       string
	EnableDatabase bool
	DatabasePath   string
	RetentionDays  int
	ReportCharts   bool

	// Telegram (optional)
	TelegramBotToken       string
	TelegramArchiveChannel int64
	TelegramAlertsChannel  int64

	// Desktop notifications
	EnableDesktopNotify bool

	// AI insights (optional)
	EnableAIAnalysis bool
	AnthropicAPIKey  string
	ClaudeModel      string
	AITimeoutSeconds int
	AIMaxTokens      int
	MaxDigestTokens  int

	// Proxy
	HTTPProxy  string
	HTTPSProxy string
}

// Load loads configuration from .env file and environment variables.
// For CLI overrides, use LoadWithCLI instead.
func Load() (*Config, error) {
	return LoadWithCLI(nil)
}

// LoadWithCLI loads configuration with CLI argument overrides.
// Priority: CLI args > pack profile > .env file > OS environment > defaults
func LoadWithCLI(cli *CLIOptions) (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// godotenv sets OS env vars from .env, which viper then reads
	_ = godotenv.Load()

	setDefaults()

	config := &Config{
		BMSLogPath:   viper.GetString("BMS_LOG_PATH"),
		MaxLogSizeMB: viper.GetInt("MAX_LOG_SIZE_MB"),

		UnitPrice:        viper.GetFloat64("UNIT_PRICE"),
		SmoothingEnabled: viper.GetBool("SMOOTHING_ENABLED"),
		SmoothingWindow:  viper.GetInt("SMOOTHING_WINDOW"),
		TimeMode:         viper.GetString("TIME_MODE"),
		InvertCurrent:    viper.GetBool("INVERT_CURRENT"),
		Thresholds: alert.Thresholds{
			VoltageLow:       viper.GetFloat64("THRESHOLD_VOLTAGE_LOW"),
			VoltageHigh:      viper.GetFloat64("THRESHOLD_VOLTAGE_HIGH"),
			CurrentMax:       viper.GetFloat64("THRESHOLD_CURRENT_MAX"),
			SOCLow:           viper.GetFloat64("THRESHOLD_SOC_LOW"),
			CellImbalanceMax: viper.GetFloat64("THRESHOLD_CELL_IMBALANCE_MAX"),
			CellTempMax:      viper.GetFloat64("THRESHOLD_CELL_TEMP_MAX"),
		},

		LogLevel:       viper.GetString("LOG_LEVEL"),
		EnableDatabase: viper.GetBool("ENABLE_DATABASE"),
		DatabasePath:   viper.GetString("DATABASE_PATH"),
		RetentionDays:  viper.GetInt("RETENTION_DAYS"),
		ReportCharts:   viper.GetBool("REPORT_CHARTS"),

		TelegramBotToken:       viper.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramArchiveChannel: viper.GetInt64("TELEGRAM_CHANNEL_ARCHIVE_ID"),
		TelegramAlertsChannel:  viper.GetInt64("TELEGRAM_CHANNEL_ALERTS_ID"),

		EnableDesktopNotify: viper.GetBool("ENABLE_DESKTOP_NOTIFY"),

		EnableAIAnalysis: viper.GetBool("ENABLE_AI_ANALYSIS"),
		AnthropicAPIKey:  viper.GetString("ANTHROPIC_API_KEY"),
		ClaudeModel:      viper.GetString("CLAUDE_MODEL"),
		AITimeoutSeconds: viper.GetInt("AI_TIMEOUT_SECONDS"),
		AIMaxTokens:      viper.GetInt("AI_MAX_TOKENS"),
		MaxDigestTokens:  viper.GetInt("MAX_DIGEST_TOKENS"),

		HTTPProxy:  viper.GetString("HTTP_PROXY"),
		HTTPSProxy: viper.GetString("HTTPS_PROXY"),
	}

	if err := config.applyPackProfile(cli); err != nil {
		return nil, err
	}

	// CLI overrides win over everything
	if cli != nil {
		if cli.SourcePath != "" {
			config.BMSLogPath = cli.SourcePath
		}
		if cli.UnitPrice != nil {
			config.UnitPrice = *cli.UnitPrice
		}
		if cli.Smooth != nil {
			config.SmoothingEnabled = *cli.Smooth
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// applyPackProfile merges the selected pack from bms-packs.yaml. A missing
// file is single-pack mode unless -pack or -packs-config asked for one.
func (c *Config) applyPackProfile(cli *CLIOptions) error {
	var configPath, packID string
	if cli != nil {
		configPath = cli.PacksConfig
		packID = cli.Pack
	}

	packsConfig, foundPath, err := LoadPacksConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load packs config: %w", err)
	}

	if packsConfig == nil {
		if packID != "" {
			return fmt.Errorf("pack '%s' requested but no bms-packs.yaml found. "+
				"Create bms-packs.yaml in one of: ./bms-packs.yaml, ./configs/bms-packs.yaml, "+
				"/etc/bmsreport/bms-packs.yaml, or ~/.config/bmsreport/bms-packs.yaml", packID)
		}
		return nil
	}

	c.PacksConfig = packsConfig
	c.PacksConfigPath = foundPath

	if packID == "" {
		packID = packsConfig.DefaultPack
	}
	if packID == "" {
		// File present but nothing selected: listing is still possible.
		return nil
	}

	pack, err := packsConfig.GetPack(packID)
	if err != nil {
		return fmt.Errorf("failed to get pack '%s': %w", packID, err)
	}

	c.PackID = packID
	c.PackName = packID
	if pack.Name != "" {
		c.PackName = pack.Name
	}
	c.BMSLogPath = pack.LogPath
	if pack.InvertCurrent != nil {
		c.InvertCurrent = *pack.InvertCurrent
	}
	if pack.UnitPrice != nil {
		c.UnitPrice = *pack.UnitPrice
	}
	c.Thresholds = pack.Thresholds.Apply(c.Thresholds)

	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	defaults := alert.DefaultThresholds()

	viper.SetDefault("BMS_LOG_PATH", "./bms.yaml")
	viper.SetDefault("MAX_LOG_SIZE_MB", 50)
	viper.SetDefault("UNIT_PRICE", 0.0)
	viper.SetDefault("SMOOTHING_ENABLED", false)
	viper.SetDefault("SMOOTHING_WINDOW", 5)
	viper.SetDefault("TIME_MODE", string(analyzer.TimeAbsolute))
	viper.SetDefault("INVERT_CURRENT", false)
	viper.SetDefault("THRESHOLD_VOLTAGE_LOW", defaults.VoltageLow)
	viper.SetDefault("THRESHOLD_VOLTAGE_HIGH", defaults.VoltageHigh)
	viper.SetDefault("THRESHOLD_CURRENT_MAX", defaults.CurrentMax)
	viper.SetDefault("THRESHOLD_SOC_LOW", defaults.SOCLow)
	viper.SetDefault("THRESHOLD_CELL_IMBALANCE_MAX", defaults.CellImbalanceMax)
	viper.SetDefault("THRESHOLD_CELL_TEMP_MAX", defaults.CellTempMax)

	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("ENABLE_DATABASE", true)
	viper.SetDefault("DATABASE_PATH", "./data/runs.db")
	viper.SetDefault("RETENTION_DAYS", 90)
	viper.SetDefault("REPORT_CHARTS", true)
	viper.SetDefault("ENABLE_DESKTOP_NOTIFY", false)

	viper.SetDefault("ENABLE_AI_ANALYSIS", false)
	viper.SetDefault("CLAUDE_MODEL", "claude-sonnet-4-5-20250929")
	viper.SetDefault("AI_TIMEOUT_SECONDS", 120)
	viper.SetDefault("AI_MAX_TOKENS", 4000)
	viper.SetDefault("MAX_DIGEST_TOKENS", 20000)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.BMSLogPath == "" {
		return fmt.Errorf("BMS_LOG_PATH is required")
	}
	if c.MaxLogSizeMB < 1 || c.MaxLogSizeMB > 100 {
		return fmt.Errorf("MAX_LOG_SIZE_MB must be between 1 and 100")
	}

	if err := c.validateAnalysis(); err != nil {
		return err
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.EnableDatabase {
		if c.DatabasePath == "" {
			return fmt.Errorf("DATABASE_PATH is required when ENABLE_DATABASE=true")
		}
		if c.RetentionDays < 1 {
			return fmt.Errorf("RETENTION_DAYS must be at least 1")
		}
	}

	if err := c.validateTelegram(); err != nil {
		return err
	}

	return c.validateAI()
}

func (c *Config) validateAnalysis() error {
	if math.IsNaN(c.UnitPrice) || math.IsInf(c.UnitPrice, 0) || c.UnitPrice < 0 {
		return fmt.Errorf("UNIT_PRICE must be a finite number >= 0 (got: %v)", c.UnitPrice)
	}
	if c.SmoothingWindow < 2 {
		return fmt.Errorf("SMOOTHING_WINDOW must be at least 2 (got: %d)", c.SmoothingWindow)
	}
	if _, err := analyzer.ParseTimeMode(c.TimeMode); err != nil {
		return fmt.Errorf("TIME_MODE: %w", err)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("THRESHOLD_*: %w", err)
	}
	return nil
}

// validateTelegram accepts an empty configuration; a token without an
// archive channel (or the reverse) is an error.
func (c *Config) validateTelegram() error {
	if c.TelegramBotToken == "" {
		if c.TelegramArchiveChannel != 0 || c.TelegramAlertsChannel != 0 {
			return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when a Telegram channel is configured")
		}
		return nil
	}

	if !telegramTokenRegex.MatchString(c.TelegramBotToken) {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN has invalid format (expected: 'number:token')")
	}
	if c.TelegramArchiveChannel == 0 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ARCHIVE_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.TelegramArchiveChannel > -100 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ARCHIVE_ID must be a supergroup/channel ID (starts with -100)")
	}
	if c.TelegramAlertsChannel != 0 && c.TelegramAlertsChannel > -100 {
		return fmt.Errorf("TELEGRAM_CHANNEL_ALERTS_ID must be a supergroup/channel ID (starts with -100)")
	}
	return nil
}

func (c *Config) validateAI() error {
	if !c.EnableAIAnalysis {
		return nil
	}

	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when ENABLE_AI_ANALYSIS=true")
	}
	if !constantTimePrefixMatch(c.AnthropicAPIKey, "sk-ant-") {
		return fmt.Errorf("ANTHROPIC_API_KEY must start with 'sk-ant-'")
	}
	if c.ClaudeModel == "" {
		return fmt.Errorf("CLAUDE_MODEL is required when ENABLE_AI_ANALYSIS=true")
	}
	if c.AITimeoutSeconds < 30 || c.AITimeoutSeconds > 600 {
		return fmt.Errorf("AI_TIMEOUT_SECONDS must be between 30 and 600")
	}
	if c.AIMaxTokens < 1000 || c.AIMaxTokens > 16000 {
		return fmt.Errorf("AI_MAX_TOKENS must be between 1000 and 16000")
	}
	if c.MaxDigestTokens < 2000 {
		return fmt.Errorf("MAX_DIGEST_TOKENS must be at least 2000")
	}
	return nil
}

// constantTimePrefixMatch checks if s starts with prefix using constant-time comparison.
// Returns false if s is shorter than prefix.
func constantTimePrefixMatch(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(s[:len(prefix)]), []byte(prefix)) == 1
}

// AnalyzerOptions converts the analysis settings into pipeline options.
func (c *Config) AnalyzerOptions() analyzer.Options {
	mode, _ := analyzer.ParseTimeMode(c.TimeMode)
	return analyzer.Options{
		Thresholds:       c.Thresholds,
		UnitPrice:        c.UnitPrice,
		SmoothingEnabled: c.SmoothingEnabled,
		SmoothingWindow:  c.SmoothingWindow,
		InvertCurrent:    c.InvertCurrent,
		TimeMode:         mode,
	}
}

// HasTelegram returns true if Telegram delivery is configured
func (c *Config) HasTelegram() bool {
	return c.TelegramBotToken != ""
}

// HasAlertsChannel returns true if alerts channel is configured
func (c *Config) HasAlertsChannel() bool {
	return c.TelegramAlertsChannel != 0
}

// GetProxyURL returns the appropriate proxy URL for HTTP/HTTPS requests
func (c *Config) GetProxyURL(isHTTPS bool) string {
	if isHTTPS && c.HTTPSProxy != "" {
		return c.HTTPSProxy
	}
	if c.HTTPProxy != "" {
		return c.HTTPProxy
	}
	return ""
}

// DisplayName returns the pack name for reports, or the log file path in
// single-pack mode.
func (c *Config) DisplayName() string {
	if c.PackName != "" {
		return c.PackName
	}
	return c.BMSLogPath
}
