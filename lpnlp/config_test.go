package lpnlp

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jjhbw/GoMINLP/milp"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StrategyOA, cfg.Strategy)
	assert.True(t, cfg.UseDual)
	assert.True(t, cfg.LinearizeActive)
	assert.True(t, cfg.LinearizeViolated)
	assert.False(t, cfg.LinearizeInactive)
	assert.True(t, cfg.InitialFeas)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"unknown strategy", func(c *Config) { c.Strategy = "ECP" }},
		{"zero tolerance", func(c *Config) { c.ZeroTolerance = 0 }},
		{"integer tolerance too large", func(c *Config) { c.IntegerTolerance = 0.5 }},
		{"unknown init strategy", func(c *Config) { c.InitStrategy = "max_binary" }},
		{"unknown derivatives", func(c *Config) { c.Derivatives = "symbolic" }},
		{"max penalty below initial", func(c *Config) { c.NLP.MaxPenalty = c.NLP.InitialPenalty / 2 }},
		{"no workers", func(c *Config) { c.Search.Workers = 0 }},
		{"unknown branching", func(c *Config) { c.Search.Branching = "strong" }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := DefaultConfig()
			test.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
strategy: GOA
use_dual: false
linearize_inactive: true
nlp:
  max_outer_iterations: 20
  timeout: 2s
search:
  workers: 1
  branching: maxfun
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, StrategyGOA, cfg.Strategy)
	assert.False(t, cfg.UseDual)
	assert.True(t, cfg.LinearizeInactive)
	assert.Equal(t, 20, cfg.NLP.MaxOuterIterations)
	assert.Equal(t, 2*time.Second, cfg.NLP.Timeout)

	// untouched keys keep their defaults
	defaults := DefaultConfig()
	assert.Equal(t, defaults.ZeroTolerance, cfg.ZeroTolerance)
	assert.Equal(t, defaults.NLP.MaxInnerIterations, cfg.NLP.MaxInnerIterations)
	assert.Equal(t, defaults.Search.MaxNodes, cfg.Search.MaxNodes)

	settings, err := cfg.milpSettings()
	require.NoError(t, err)
	assert.Equal(t, milp.BRANCH_MAXFUN, settings.Heuristic)
	assert.Equal(t, 1, settings.Workers)
	assert.Equal(t, cfg.IntegerTolerance, settings.IntegralityTolerance)

	nlpSettings := cfg.nlpSettings()
	assert.Equal(t, 20, nlpSettings.MaxOuterIterations)
	assert.Equal(t, 2*time.Second, nlpSettings.Timeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{"malformed yaml", func(t *testing.T) string { return writeConfig(t, "strategy: [OA") }},
		{"invalid value", func(t *testing.T) string { return writeConfig(t, "zero_tolerance: -1") }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := LoadConfig(test.path(t))
			assert.Error(t, err)
		})
	}
}
