package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_isValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestValidate_rejectsBadValues(t *testing.T) {
	base := Default()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"non-positive horizon", func(c *Config) { c.PlanningHorizon = 0 }},
		{"duty cycle out of range", func(c *Config) { c.MaxDutyCycle = 1.5 }},
		{"negative min supported pp links", func(c *Config) { c.MinSupportedPPLinks = -1 }},
		{"collision prob at boundary", func(c *Config) { c.TargetCollisionProb = 1 }},
		{"max below min candidates", func(c *Config) { c.MaxCandidates = c.MinCandidates - 1 }},
		{"unknown duty cycle strategy", func(c *Config) { c.DutyCycleStrategy = "bogus" }},
		{"unknown contention method", func(c *Config) { c.ContentionMethod = "bogus" }},
		{"non-positive pp timeout", func(c *Config) { c.DefaultPPTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_noFileUsesDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_fileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planning_horizon: 2048\nmax_duty_cycle: 0.2\n"), 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2048, cfg.PlanningHorizon)
	assert.InDelta(t, 0.2, cfg.MaxDutyCycle, 1e-9)
	// untouched fields keep their defaults
	assert.Equal(t, Default().DefaultPPTimeout, cfg.DefaultPPTimeout)
}

func TestLoad_missingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoad_flagOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("planning_horizon: 2048\n"), 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--planning-horizon=4096", "--duty-cycle-strategy=dynamic"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.EqualValues(t, 4096, cfg.PlanningHorizon)
	assert.Equal(t, DutyCycleDynamic, cfg.DutyCycleStrategy)
}

func TestLoad_invalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(": not yaml"), 0o644))

	_, err := Load(path, nil)
	assert.Error(t, err)
}
