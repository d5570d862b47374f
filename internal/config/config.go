// Package config loads the MCSOTDMA configuration knobs enumerated in
// spec §6 from a YAML file, with pflag command-line overrides, the same
// two-stage load the teacher uses in cmd/direwolf/main.go (flags parsed
// once at startup on top of a file-backed default).
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ContentionMethod selects how the SH link manager sizes its candidate
// slot set (spec §4.5).
type ContentionMethod string

const (
	ContentionNaive          ContentionMethod = "naive"
	ContentionSlottedAloha   ContentionMethod = "slotted_aloha"
)

// DutyCycleStrategy selects the duty-cycle allocation policy (spec §4.3).
type DutyCycleStrategy string

const (
	DutyCycleStatic  DutyCycleStrategy = "static"
	DutyCycleDynamic DutyCycleStrategy = "dynamic"
)

// Config holds every knob named in spec §6.
type Config struct {
	PlanningHorizon         int32             `yaml:"planning_horizon"`
	NumProposedChannels     int               `yaml:"num_proposed_channels"`
	NumProposedSlots        int               `yaml:"num_proposed_slots"`
	DefaultPPTimeout        int               `yaml:"default_pp_timeout"`
	MinOffsetToAllowProc    int32             `yaml:"min_offset_to_allow_processing"`
	MaxLinkRenewalAttempts  int               `yaml:"max_link_renewal_attempts"`
	TargetCollisionProb     float64           `yaml:"target_collision_prob"`
	MinCandidates           int               `yaml:"min_candidates"`
	MaxCandidates           int               `yaml:"max_candidates"`
	ContentionMethod        ContentionMethod  `yaml:"contention_method"`
	DutyCyclePeriod         int               `yaml:"duty_cycle_period"`
	MaxDutyCycle            float64           `yaml:"max_duty_cycle"`
	MinSupportedPPLinks     int               `yaml:"min_supported_pp_links"`
	DutyCycleStrategy       DutyCycleStrategy `yaml:"duty_cycle_strategy"`
	ForceBidirectionalLinks bool              `yaml:"force_bidirectional_links"`
	ForcePPPeriod           *uint8            `yaml:"force_pp_period"`
	AdvertiseNextSlot       bool              `yaml:"advertise_next_slot_in_header"`

	// Supplemented (SPEC_FULL §4): optional beacon module.
	BeaconEnabled       bool  `yaml:"beacon_enabled"`
	BeaconIntervalSlots int64 `yaml:"beacon_interval_slots"`
}

// Default returns the configuration spec §6 implies as sensible defaults
// (planning_horizon: 1024, num_proposed_channels: 3, ...).
func Default() Config {
	return Config{
		PlanningHorizon:        1024,
		NumProposedChannels:    3,
		NumProposedSlots:       3,
		DefaultPPTimeout:       20,
		MinOffsetToAllowProc:   2,
		MaxLinkRenewalAttempts: 3,
		TargetCollisionProb:    0.1,
		MinCandidates:          2,
		MaxCandidates:          16,
		ContentionMethod:       ContentionSlottedAloha,
		DutyCyclePeriod:        1000,
		MaxDutyCycle:           0.1,
		MinSupportedPPLinks:    4,
		DutyCycleStrategy:      DutyCycleStatic,
		ForceBidirectionalLinks: false,
		AdvertiseNextSlot:      true,
		BeaconEnabled:          false,
		BeaconIntervalSlots:    0,
	}
}

// Load reads defaults, overlays a YAML file if path is non-empty, then
// overlays command-line flags registered against fs, and validates the
// result. fs should already have been parsed by the caller.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if fs != nil {
		applyFlagOverrides(&cfg, fs)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RegisterFlags registers pflag overrides onto fs for planning-horizon,
// max-duty-cycle, duty-cycle-strategy, contention-method and
// force-bidirectional-links, mirroring the teacher's pattern of flags
// layered on top of a config file. The other knobs have no flag and come
// only from the config file or the defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int32("planning-horizon", 0, "planning horizon H, in slots (0 = use config file/default)")
	fs.Float64("max-duty-cycle", 0, "maximum duty cycle d_max (0 = use config file/default)")
	fs.String("duty-cycle-strategy", "", "static|dynamic")
	fs.String("contention-method", "", "naive|slotted_aloha")
	fs.Bool("force-bidirectional-links", false, "force every PP link to reserve at least one TX and one RX burst")
}

func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) {
	if v, err := fs.GetInt32("planning-horizon"); err == nil && v != 0 {
		cfg.PlanningHorizon = v
	}
	if v, err := fs.GetFloat64("max-duty-cycle"); err == nil && v != 0 {
		cfg.MaxDutyCycle = v
	}
	if v, err := fs.GetString("duty-cycle-strategy"); err == nil && v != "" {
		cfg.DutyCycleStrategy = DutyCycleStrategy(v)
	}
	if v, err := fs.GetString("contention-method"); err == nil && v != "" {
		cfg.ContentionMethod = ContentionMethod(v)
	}
	if fs.Changed("force-bidirectional-links") {
		v, _ := fs.GetBool("force-bidirectional-links")
		cfg.ForceBidirectionalLinks = v
	}
}

// Validate fails fast on out-of-range knobs, the way the teacher's
// config loader rejects malformed lines immediately at startup.
func (c Config) Validate() error {
	if c.PlanningHorizon <= 0 {
		return fmt.Errorf("config: planning_horizon must be positive, got %d", c.PlanningHorizon)
	}
	if c.MaxDutyCycle <= 0 || c.MaxDutyCycle > 1 {
		return fmt.Errorf("config: max_duty_cycle must be in (0,1], got %f", c.MaxDutyCycle)
	}
	if c.MinSupportedPPLinks < 0 {
		return fmt.Errorf("config: min_supported_pp_links must be >= 0, got %d", c.MinSupportedPPLinks)
	}
	if c.TargetCollisionProb <= 0 || c.TargetCollisionProb >= 1 {
		return fmt.Errorf("config: target_collision_prob must be in (0,1), got %f", c.TargetCollisionProb)
	}
	if c.MinCandidates <= 0 || c.MaxCandidates < c.MinCandidates {
		return fmt.Errorf("config: need 0 < min_candidates <= max_candidates, got %d/%d", c.MinCandidates, c.MaxCandidates)
	}
	switch c.DutyCycleStrategy {
	case DutyCycleStatic, DutyCycleDynamic:
	default:
		return fmt.Errorf("config: unknown duty_cycle_strategy %q", c.DutyCycleStrategy)
	}
	switch c.ContentionMethod {
	case ContentionNaive, ContentionSlottedAloha:
	default:
		return fmt.Errorf("config: unknown contention_method %q", c.ContentionMethod)
	}
	if c.DefaultPPTimeout <= 0 {
		return fmt.Errorf("config: default_pp_timeout must be positive, got %d", c.DefaultPPTimeout)
	}
	return nil
}
