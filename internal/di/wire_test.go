package di

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/steward/internal/config"
	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/settings"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:            t.TempDir(),
		LogLevel:           "disabled",
		Port:               8010,
		RiskFreeRate:       0.03,
		TargetAnnualReturn: 0.11,
		MarketAvgPE:        22.0,
		Backup: &config.BackupConfig{
			Enabled:  true,
			LocalDir: "backups",
			S3Region: "eu-central-1",
		},
	}
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, container)
	defer container.Close()

	assert.NotNil(t, container.AdvisoryDB)
	assert.NotNil(t, container.UniverseDB)
	assert.NotNil(t, container.CacheDB)
	assert.NotNil(t, container.HistoryConn)

	assert.NotNil(t, container.SecurityRepo)
	assert.NotNil(t, container.ScoreRepo)
	assert.NotNil(t, container.ProfileRepo)
	assert.NotNil(t, container.SessionRepo)
	assert.NotNil(t, container.ReportRepo)
	assert.NotNil(t, container.CacheStore)

	assert.NotNil(t, container.EventBus)
	assert.NotNil(t, container.EventManager)
	assert.NotNil(t, container.SettingsService)
	assert.NotNil(t, container.FeatureEngine)
	assert.NotNil(t, container.RankingEngine)
	assert.NotNil(t, container.SentimentService)
	assert.NotNil(t, container.OptimizerService)
	assert.NotNil(t, container.RiskService)
	assert.NotNil(t, container.ImportService)
	assert.NotNil(t, container.AdvisorService)
	assert.NotNil(t, container.BackupService)
	assert.NotNil(t, container.Scheduler)

	jobs := container.Scheduler.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "backup", jobs[0].Name)
	assert.Equal(t, "0 4 * * *", jobs[0].Schedule)
	assert.Equal(t, "cleanup", jobs[1].Name)
	assert.Equal(t, "0 * * * *", jobs[1].Schedule)
	assert.Equal(t, "refresh_scores", jobs[2].Name)
	assert.Equal(t, "0 3 * * *", jobs[2].Schedule)

	// Settings are reachable through the advisory database.
	assert.InDelta(t, 22.0, container.SettingsService.GetFloat("market_avg_pe"), 1e-9)
}

func TestWire_BackupDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Enabled = false

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.Nil(t, container.BackupService)

	jobs := container.Scheduler.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "cleanup", jobs[0].Name)
	assert.Equal(t, "refresh_scores", jobs[1].Name)
}

func TestWire_SeedsEmptyUniverse(t *testing.T) {
	cfg := testConfig(t)

	seed := `{"securities":[
		{"symbol":"ALPHA","name":"Alpha Industries","sector":"Technology","currency":"EUR","active":true},
		{"symbol":"BRAVO","name":"Bravo Logistics","sector":"Industrials","currency":"EUR","active":true}
	]}`
	seedPath := filepath.Join(cfg.DataDir, "seed.json")
	require.NoError(t, os.WriteFile(seedPath, []byte(seed), 0o644))
	cfg.SeedFile = seedPath

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)

	count, err := container.SecurityRepo.Count(false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	container.Close()

	// A second boot must not re-seed a populated universe.
	bigger := `{"securities":[
		{"symbol":"ALPHA","name":"Alpha Industries","active":true},
		{"symbol":"BRAVO","name":"Bravo Logistics","active":true},
		{"symbol":"CHARL","name":"Charlie Mining","active":true}
	]}`
	require.NoError(t, os.WriteFile(seedPath, []byte(bigger), 0o644))

	container, err = Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	count, err = container.SecurityRepo.Count(false)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestWire_FailsOnBadPersistedSchedule(t *testing.T) {
	cfg := testConfig(t)

	// Corrupt the stored schedule directly, bypassing service validation.
	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "advisory.db"),
		Profile: database.ProfileCritical,
		Name:    "advisory",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	repo := settings.NewRepository(db.Conn(), zerolog.Nop())
	require.NoError(t, repo.Set("schedule_refresh", "every tuesday"))
	require.NoError(t, db.Close())

	_, err = Wire(cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to register jobs")
}

func TestRegisterListeners_ReschedulesJobs(t *testing.T) {
	cfg := testConfig(t)

	container, err := Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	container.EventManager.EmitTyped(events.SettingsChanged, "settings", &events.SettingsChangedData{
		Key:   "schedule_refresh",
		Value: "30 2 * * *",
	})

	jobs := container.Scheduler.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, "refresh_scores", jobs[2].Name)
	assert.Equal(t, "30 2 * * *", jobs[2].Schedule)

	// A bad spec is rejected and the previous schedule survives.
	container.EventManager.EmitTyped(events.SettingsChanged, "settings", &events.SettingsChangedData{
		Key:   "schedule_refresh",
		Value: "not a cron line",
	})

	jobs = container.Scheduler.Jobs()
	assert.Equal(t, "30 2 * * *", jobs[2].Schedule)
}

func TestSettingFloat(t *testing.T) {
	v, ok := settingFloat(float64(0.05))
	assert.True(t, ok)
	assert.InDelta(t, 0.05, v, 1e-9)

	v, ok = settingFloat(7)
	assert.True(t, ok)
	assert.InDelta(t, 7.0, v, 1e-9)

	v, ok = settingFloat("0.12")
	assert.True(t, ok)
	assert.InDelta(t, 0.12, v, 1e-9)

	_, ok = settingFloat("high")
	assert.False(t, ok)

	_, ok = settingFloat(nil)
	assert.False(t, ok)

	_, ok = settingFloat([]string{"0.1"})
	assert.False(t, ok)
}
