package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/settlebot/config"
	"github.com/alejandrodnm/settlebot/internal/domain"
)

var envKeys = []string{
	"DRY_RUN", "CONFIDENCE_THRESHOLD", "MIN_EDGE", "COOLDOWN_SECONDS", "EXPOSURE_CAP_USDC",
	"MARKET_EXPOSURE_CAP_USDC", "CONFIRMATION_DEPTH", "POLL_INTERVAL_SECONDS", "POLYGON_RPC_URL",
	"ORACLE_ADDRESS", "POLY_PRIVATE_KEY", "LOG_LEVEL", "LOG_FORMAT", "LOG_FILE", "DB_PATH",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

const minimalYAML = `
chain:
  rpc_url: http://localhost:8545
`

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(writeYAML(t, minimalYAML))
	require.NoError(t, err)

	assert.True(t, cfg.DryRun(), "dry-run is on unless disabled")
	assert.Equal(t, 15*time.Second, cfg.PollInterval())
	assert.Equal(t, uint64(20), *cfg.Pipeline.ConfirmationDepth)
	assert.Equal(t, int64(137), cfg.Chain.ChainID)
	assert.Equal(t, "settlebot.db", cfg.Storage.DSN)
	assert.Equal(t, "text", cfg.Log.Format)

	oc := cfg.ToOrchestrator()
	assert.True(t, oc.Execution.DryRun)
	assert.True(t, decimal.RequireFromString("0.6").Equal(oc.Risk.ConfidenceThreshold))
	assert.True(t, decimal.RequireFromString("0.05").Equal(oc.Signal.MinEdge))
	assert.True(t, decimal.NewFromInt(10).Equal(oc.Risk.OrderNotional))
	assert.Equal(t, 10*time.Minute, oc.Risk.Cooldown)
	assert.Equal(t, uint64(100), oc.Cursor.StartLookback)
	assert.NoError(t, oc.Validate())
}

func TestLoad_YAMLValues(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(writeYAML(t, `
pipeline:
  confirmation_depth: 64
  workers: 1
risk:
  confidence_threshold: 0.75
execution:
  dry_run: true
  order_size_usdc: 25
chain:
  rpc_url: http://localhost:8545
`))
	require.NoError(t, err)

	oc := cfg.ToOrchestrator()
	assert.Equal(t, uint64(64), oc.Cursor.ConfirmationDepth)
	assert.Equal(t, 1, oc.Workers)
	assert.True(t, decimal.RequireFromString("0.75").Equal(oc.Risk.ConfidenceThreshold))
	assert.True(t, decimal.NewFromInt(25).Equal(oc.Execution.OrderSizeUSDC))
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("MIN_EDGE", "0.1")
	t.Setenv("COOLDOWN_SECONDS", "30")
	t.Setenv("EXPOSURE_CAP_USDC", "500")
	t.Setenv("CONFIRMATION_DEPTH", "5")
	t.Setenv("POLL_INTERVAL_SECONDS", "3")
	t.Setenv("POLYGON_RPC_URL", "http://rpc.example")
	t.Setenv("DB_PATH", ":memory:")

	cfg, err := config.Load(writeYAML(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "http://rpc.example", cfg.Chain.RPCURL)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	oc := cfg.ToOrchestrator()
	assert.True(t, decimal.RequireFromString("0.8").Equal(oc.Risk.ConfidenceThreshold))
	assert.True(t, decimal.RequireFromString("0.1").Equal(oc.Signal.MinEdge))
	assert.Equal(t, 30*time.Second, oc.Risk.Cooldown)
	assert.True(t, decimal.NewFromInt(500).Equal(oc.Risk.AggregateExposureCap))
	assert.Equal(t, uint64(5), oc.Cursor.ConfirmationDepth)
	assert.Equal(t, 3*time.Second, oc.PollInterval)
}

func TestLoad_ExplicitZeroIsHonored(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		clearEnv(t)
		cfg, err := config.Load(writeYAML(t, `
pipeline:
  confirmation_depth: 0
risk:
  confidence_threshold: 0
  cooldown_seconds: 0
chain:
  rpc_url: http://localhost:8545
`))
		require.NoError(t, err)

		oc := cfg.ToOrchestrator()
		assert.Equal(t, uint64(0), oc.Cursor.ConfirmationDepth)
		assert.True(t, oc.Risk.ConfidenceThreshold.IsZero())
		assert.Equal(t, time.Duration(0), oc.Risk.Cooldown)
	})

	t.Run("env", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CONFIRMATION_DEPTH", "0")
		t.Setenv("CONFIDENCE_THRESHOLD", "0")
		t.Setenv("COOLDOWN_SECONDS", "0")
		cfg, err := config.Load(writeYAML(t, `
pipeline:
  confirmation_depth: 64
risk:
  cooldown_seconds: 120
chain:
  rpc_url: http://localhost:8545
`))
		require.NoError(t, err)

		oc := cfg.ToOrchestrator()
		assert.Equal(t, uint64(0), oc.Cursor.ConfirmationDepth)
		assert.True(t, oc.Risk.ConfidenceThreshold.IsZero())
		assert.Equal(t, time.Duration(0), oc.Risk.Cooldown)
	})
}

func TestLoad_DryRunOnlyDisabledExplicitly(t *testing.T) {
	for _, v := range []string{"1", "true", "yes", "no"} {
		clearEnv(t)
		t.Setenv("DRY_RUN", v)
		cfg, err := config.Load(writeYAML(t, minimalYAML))
		require.NoError(t, err, v)
		assert.True(t, cfg.DryRun(), "DRY_RUN=%s", v)
	}

	for _, v := range []string{"0", "false", "FALSE"} {
		clearEnv(t)
		t.Setenv("DRY_RUN", v)
		t.Setenv("POLY_PRIVATE_KEY", "0xabc")
		cfg, err := config.Load(writeYAML(t, minimalYAML))
		require.NoError(t, err, v)
		assert.False(t, cfg.DryRun(), "DRY_RUN=%s", v)
	}
}

func TestLoad_LiveWithoutKeyIsFatal(t *testing.T) {
	clearEnv(t)
	t.Setenv("DRY_RUN", "false")

	_, err := config.Load(writeYAML(t, minimalYAML))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
	assert.Contains(t, err.Error(), "POLY_PRIVATE_KEY")
}

func TestLoad_InvalidThresholdsAreFatal(t *testing.T) {
	cases := map[string]string{
		"confidence > 1": "CONFIDENCE_THRESHOLD",
		"min edge >= 1":  "MIN_EDGE",
	}
	for name, key := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "1.5")
			_, err := config.Load(writeYAML(t, minimalYAML))
			assert.ErrorIs(t, err, domain.ErrFatalConfig)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrFatalConfig)

	_, err = config.Load(writeYAML(t, "log: {format: xml}\nchain: {rpc_url: x}\n"))
	assert.ErrorIs(t, err, domain.ErrFatalConfig)

	_, err = config.Load(writeYAML(t, "pipeline: {}\n"))
	assert.ErrorIs(t, err, domain.ErrFatalConfig, "rpc url is required")

	t.Setenv("COOLDOWN_SECONDS", "ten")
	_, err = config.Load(writeYAML(t, minimalYAML))
	assert.ErrorIs(t, err, domain.ErrFatalConfig)
}
