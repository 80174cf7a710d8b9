package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadIn(t *testing.T, dir string, env map[string]string) (*Config, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
	for k, v := range env {
		t.Setenv(k, v)
	}
	return Load()
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadIn(t, t.TempDir(), nil)
	require.NoError(t, err)

	assert.Equal(t, "EURUSD", cfg.Symbol)
	assert.Equal(t, 60, cfg.PeriodSeconds)
	assert.Equal(t, "trend_following", cfg.Strategy)
	assert.Equal(t, 12, cfg.Decision.FastPeriod)
	assert.Equal(t, 0.02, cfg.Risk.RiskPerTrade)
	assert.Equal(t, 45, cfg.Approval.DecisionSecond)
	assert.Equal(t, 0.05, cfg.Approval.StrongBullish)
}

func TestLoad_YAMLThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	yml := `
symbol: GBPUSD
risk:
  risk_per_trade: 0.01
approval:
  decision_second: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yml), 0o644))

	cfg, err := loadIn(t, dir, map[string]string{
		"SYMBOL": "USDJPY", // env beats yaml
	})
	require.NoError(t, err)

	assert.Equal(t, "USDJPY", cfg.Symbol)
	assert.Equal(t, 0.01, cfg.Risk.RiskPerTrade)
	assert.Equal(t, 30, cfg.Approval.DecisionSecond)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("SYMBOL=AUDUSD\nRISK_PER_TRADE=0.05\n"), 0o644))

	cfg, err := loadIn(t, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, "AUDUSD", cfg.Symbol)
	assert.Equal(t, 0.05, cfg.Risk.RiskPerTrade)
}

func TestLoad_Validation(t *testing.T) {
	cases := map[string]map[string]string{
		"risk out of range":        {"RISK_PER_TRADE": "0.5"},
		"decision second past bar": {"DECISION_SECOND": "75"},
		"unknown strategy":         {"STRATEGY": "martingale"},
		"inverted thresholds":      {"THRESHOLD_STRONG_BULLISH": "-1"},
		"fast above slow":          {"FAST_PERIOD": "30"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := loadIn(t, t.TempDir(), env)
			assert.Error(t, err)
		})
	}
}

func TestLoad_ExplicitConfigFileMustExist(t *testing.T) {
	_, err := loadIn(t, t.TempDir(), map[string]string{"CONFIG_FILE": "missing.yaml"})
	assert.Error(t, err)
}
