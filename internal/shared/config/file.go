package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML overlay for analysis settings.
type FileConfig struct {
	AnomalyThresholdDays   *int        `yaml:"anomaly_threshold_days"`
	ExcludeWeekends        *bool       `yaml:"exclude_weekends"`
	DrilldownThresholdDays *int        `yaml:"drilldown_threshold_days"`
	VenueColumnAliases     []string    `yaml:"venue_column_aliases"`
	ChunkTiers             []ChunkTier `yaml:"chunk_tiers"`
}

// LoadFile reads a YAML overlay from path.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &fc, nil
}

// ApplyFile overlays the YAML file at path onto c. Absent keys keep their value.
func (c *Config) ApplyFile(path string) error {
	fc, err := LoadFile(path)
	if err != nil {
		return err
	}

	if fc.AnomalyThresholdDays != nil {
		c.Analysis.AnomalyThresholdDays = *fc.AnomalyThresholdDays
	}
	if fc.ExcludeWeekends != nil {
		c.Analysis.ExcludeWeekends = *fc.ExcludeWeekends
	}
	if fc.DrilldownThresholdDays != nil {
		c.Analysis.DrilldownThresholdDays = *fc.DrilldownThresholdDays
	}
	if len(fc.VenueColumnAliases) > 0 {
		c.Analysis.VenueColumnAliases = fc.VenueColumnAliases
	}
	if len(fc.ChunkTiers) > 0 {
		for i, tier := range fc.ChunkTiers {
			last := i == len(fc.ChunkTiers)-1
			if tier.MaxDays <= 0 && !last {
				return fmt.Errorf("chunk tier %d: max_days must be positive", i)
			}
			if tier.ChunkDays < 0 {
				return fmt.Errorf("chunk tier %d: chunk_days must not be negative", i)
			}
		}
		c.Analysis.ChunkTiers = fc.ChunkTiers
	}
	return nil
}
