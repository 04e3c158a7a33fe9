package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/olegiv/bms-telemetry-go/internal/alert"
)

// ThresholdOverrides replaces individual alert limits for one pack. Nil
// fields keep the environment value.
type ThresholdOverrides struct {
	VoltageLow       *float64 `yaml:"voltage_low"`
	VoltageHigh      *float64 `yaml:"voltage_high"`
	CurrentMax       *float64 `yaml:"current_max"`
	SOCLow           *float64 `yaml:"soc_low"`
	CellImbalanceMax *float64 `yaml:"cell_imbalance_max"`
	CellTempMax      *float64 `yaml:"cell_temp_max"`
}

// Apply returns base with every set override written over it.
func (o ThresholdOverrides) Apply(base alert.Thresholds) alert.Thresholds {
	set := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	set(&base.VoltageLow, o.VoltageLow)
	set(&base.VoltageHigh, o.VoltageHigh)
	set(&base.CurrentMax, o.CurrentMax)
	set(&base.SOCLow, o.SOCLow)
	set(&base.CellImbalanceMax, o.CellImbalanceMax)
	set(&base.CellTempMax, o.CellTempMax)
	return base
}

// Pack is one battery pack profile.
type Pack struct {
	Name          string             `yaml:"name"`           // Human-readable name for reports
	LogPath       string             `yaml:"log_path"`       // BMS export for this pack
	InvertCurrent *bool              `yaml:"invert_current"` // Pack logs discharge as positive current
	UnitPrice     *float64           `yaml:"unit_price"`     // Tariff per kWh
	Thresholds    ThresholdOverrides `yaml:"thresholds"`
}

// PacksConfig is the bms-packs.yaml file.
type PacksConfig struct {
	Version     string          `yaml:"version"`
	DefaultPack string          `yaml:"default_pack"`
	Packs       map[string]Pack `yaml:"packs"`
}

// Validate checks the file for errors.
func (c *PacksConfig) Validate() error {
	if len(c.Packs) == 0 {
		return fmt.Errorf("no packs defined in configuration")
	}

	if c.DefaultPack != "" {
		if _, exists := c.Packs[c.DefaultPack]; !exists {
			return fmt.Errorf("default_pack '%s' does not exist in packs", c.DefaultPack)
		}
	}

	for _, packID := range c.ListPacks() {
		pack := c.Packs[packID]
		if pack.LogPath == "" {
			return fmt.Errorf("pack '%s': log_path is required", packID)
		}
		if pack.UnitPrice != nil && *pack.UnitPrice < 0 {
			return fmt.Errorf("pack '%s': unit_price must be >= 0 (got: %v)", packID, *pack.UnitPrice)
		}
		if err := pack.Thresholds.Apply(alert.DefaultThresholds()).Validate(); err != nil {
			return fmt.Errorf("pack '%s': %w", packID, err)
		}
	}

	return nil
}

// GetPack returns a pack by ID, falling back to default_pack if packID is empty.
func (c *PacksConfig) GetPack(packID string) (*Pack, error) {
	if packID == "" {
		if c.DefaultPack == "" {
			return nil, fmt.Errorf("no pack ID specified and no default_pack configured")
		}
		packID = c.DefaultPack
	}

	pack, exists := c.Packs[packID]
	if !exists {
		return nil, fmt.Errorf("pack '%s' not found (available: %v)", packID, c.ListPacks())
	}

	return &pack, nil
}

// ListPacks returns all pack IDs in sorted order.
func (c *PacksConfig) ListPacks() []string {
	packs := make([]string, 0, len(c.Packs))
	for packID := range c.Packs {
		packs = append(packs, packID)
	}
	sort.Strings(packs)
	return packs
}

// packSearchPaths lists candidate locations in priority order.
func packSearchPaths() []string {
	paths := []string{
		"./bms-packs.yaml",
		"./configs/bms-packs.yaml",
		"/etc/bmsreport/bms-packs.yaml",
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".config", "bmsreport", "bms-packs.yaml"))
	}
	return paths
}

// LoadPacksConfig loads bms-packs.yaml. With an empty configPath the
// standard locations are searched and nil, "", nil means single-pack mode.
func LoadPacksConfig(configPath string) (*PacksConfig, string, error) {
	searchPaths := packSearchPaths()
	if configPath != "" {
		searchPaths = []string{configPath}
	}

	for _, path := range searchPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
		}

		var cfg PacksConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse %s: %w", path, err)
		}

		if err := cfg.Validate(); err != nil {
			return nil, "", fmt.Errorf("invalid config in %s: %w", path, err)
		}

		return &cfg, path, nil
	}

	if configPath != "" {
		return nil, "", fmt.Errorf("packs config not found: %s", configPath)
	}

	return nil, "", nil
}
