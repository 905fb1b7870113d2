package settings

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/modules/ranking"
)

func setupService(t *testing.T) *Service {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "advisory.db"),
		Name:    "advisory",
		Profile: database.ProfileCritical,
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	return NewService(NewRepository(db.Conn(), zerolog.Nop()), zerolog.Nop())
}

func TestService_GetDefaults(t *testing.T) {
	svc := setupService(t)

	value, err := svc.Get("market_avg_pe")
	require.NoError(t, err)
	assert.Equal(t, 22.0, value)

	value, err = svc.Get("schedule_refresh")
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", value)

	value, err = svc.Get("backup_enabled")
	require.NoError(t, err)
	assert.Equal(t, true, value)

	_, err = svc.Get("no_such_setting")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown setting")
}

func TestService_SetAndGet(t *testing.T) {
	svc := setupService(t)

	require.NoError(t, svc.Set("market_avg_pe", 19.5))
	value, err := svc.Get("market_avg_pe")
	require.NoError(t, err)
	assert.Equal(t, 19.5, value)

	require.NoError(t, svc.Set("backup_enabled", false))
	value, err = svc.Get("backup_enabled")
	require.NoError(t, err)
	assert.Equal(t, false, value)

	require.NoError(t, svc.Set("schedule_backup", "30 4 * * 1"))
	value, err = svc.Get("schedule_backup")
	require.NoError(t, err)
	assert.Equal(t, "30 4 * * 1", value)
}

func TestService_SetRejectsBadValues(t *testing.T) {
	svc := setupService(t)

	tests := []struct {
		name    string
		key     string
		value   interface{}
		wantErr string
	}{
		{"unknown key", "no_such_setting", 1.0, "unknown setting"},
		{"string for float", "market_avg_pe", "twenty", "must be a number"},
		{"float for bool", "backup_enabled", 1.0, "must be a boolean"},
		{"number for schedule", "schedule_refresh", 3.0, "must be a string"},
		{"bad cron spec", "schedule_refresh", "every day at 3", "not a valid cron spec"},
		{"six field cron", "schedule_cleanup", "0 0 * * * *", "not a valid cron spec"},
		{"weight above one", "weight_momentum", 1.5, "between 0 and 1"},
		{"negative weight", "weight_value", -0.1, "between 0 and 1"},
		{"risk free rate too high", "risk_free_rate", 0.5, "between 0 and 0.2"},
		{"zero target return", "target_annual_return", 0.0, "between 0 and 0.5"},
		{"negative market cap floor", "screen_min_market_cap", -1.0, "non-negative"},
		{"zero max position weight", "max_position_weight", 0.0, "between 0 and 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Set(tt.key, tt.value)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestService_NegativeZScoreThresholdAllowed(t *testing.T) {
	svc := setupService(t)

	require.NoError(t, svc.Set("screen_zscore_threshold", -1.2))
	assert.InDelta(t, -1.2, svc.GetFloat("screen_zscore_threshold"), 1e-12)
}

func TestService_GetAllMergesOverrides(t *testing.T) {
	svc := setupService(t)

	require.NoError(t, svc.Set("risk_free_rate", 0.025))
	require.NoError(t, svc.Set("backup_s3_enabled", true))

	all, err := svc.GetAll()
	require.NoError(t, err)
	assert.Len(t, all, len(SettingDefaults))
	assert.Equal(t, 0.025, all["risk_free_rate"])
	assert.Equal(t, true, all["backup_s3_enabled"])
	assert.Equal(t, 22.0, all["market_avg_pe"])
	assert.Equal(t, "0 3 * * *", all["schedule_refresh"])
}

func TestService_Reset(t *testing.T) {
	svc := setupService(t)

	require.NoError(t, svc.Set("market_avg_pe", 30.0))
	require.NoError(t, svc.Reset("market_avg_pe"))

	value, err := svc.Get("market_avg_pe")
	require.NoError(t, err)
	assert.Equal(t, 22.0, value)

	err = svc.Reset("no_such_setting")
	require.Error(t, err)
}

func TestService_TypedAccessors(t *testing.T) {
	svc := setupService(t)

	assert.InDelta(t, 0.03, svc.GetFloat("risk_free_rate"), 1e-12)
	assert.Equal(t, 30, svc.GetInt("backup_retention_days"))
	assert.True(t, svc.GetBool("backup_enabled"))
	assert.False(t, svc.GetBool("backup_s3_enabled"))
	assert.Equal(t, "0 4 * * *", svc.GetString("schedule_backup"))

	// Wrong-kind access degrades to zero values.
	assert.Equal(t, 0.0, svc.GetFloat("schedule_backup"))
	assert.False(t, svc.GetBool("market_avg_pe"))
	assert.Equal(t, "", svc.GetString("risk_free_rate"))
}

func TestService_Criteria(t *testing.T) {
	svc := setupService(t)

	c := svc.Criteria()
	assert.InDelta(t, 500_000_000, c.MinMarketCap, 1e-6)
	assert.InDelta(t, 40, c.MaxPE, 1e-12)
	assert.InDelta(t, -0.5, c.ZScoreThreshold, 1e-12)

	require.NoError(t, svc.Set("screen_max_pe", 30.0))
	require.NoError(t, svc.Set("screen_min_roe", 0.12))

	c = svc.Criteria()
	assert.InDelta(t, 30, c.MaxPE, 1e-12)
	assert.InDelta(t, 0.12, c.MinROE, 1e-12)
	assert.Equal(t, 4, c.MinPeerGroupSize)
}

func TestService_RankingWeights(t *testing.T) {
	svc := setupService(t)

	assert.Equal(t, ranking.DefaultWeights(), svc.RankingWeights())

	// A tuned set that still sums to one.
	require.NoError(t, svc.Set("weight_value", 0.30))
	require.NoError(t, svc.Set("weight_momentum", 0.15))

	w := svc.RankingWeights()
	assert.InDelta(t, 0.30, w.Value, 1e-12)
	assert.InDelta(t, 0.15, w.Momentum, 1e-12)

	// Break the sum and the baseline comes back.
	require.NoError(t, svc.Set("weight_value", 0.90))
	assert.Equal(t, ranking.DefaultWeights(), svc.RankingWeights())
}

func TestService_Validate(t *testing.T) {
	svc := setupService(t)

	require.NoError(t, svc.Validate("market_avg_pe", 25.0))
	require.Error(t, svc.Validate("market_avg_pe", "nope"))
	require.Error(t, svc.Validate("no_such_setting", 1.0))

	// Validate never persists.
	value, err := svc.Get("market_avg_pe")
	require.NoError(t, err)
	assert.Equal(t, 22.0, value)
}
