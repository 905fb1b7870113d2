// Package settings stores runtime-tunable configuration in advisory.db.
// Every tunable has a default; the settings table only holds overrides,
// so a fresh install behaves sensibly with an empty table.
package settings

// SettingDefaults holds the default value for every known setting.
// Keys absent from this map are rejected on write.
var SettingDefaults = map[string]interface{}{
	// Valuation and return targets
	"market_avg_pe":        22.0, // Market average PE anchoring the fair value pillar
	"target_annual_return": 0.11, // Target CAGR the return estimator scales score views to
	"risk_free_rate":       0.03, // Annual risk-free rate for Sharpe and Sortino
	"max_position_weight":  0.35, // Fallback per-position cap for ad-hoc optimize requests

	// Screening gates
	"screen_min_market_cap":     500_000_000.0,
	"screen_max_pe":             40.0,
	"screen_min_roe":            0.08,
	"screen_max_debt_to_equity": 2.0,
	"screen_min_dividend_yield": 0.0,
	"screen_max_volatility":     0.60,
	"screen_zscore_threshold":   -0.5,

	// Ranking pillar weights
	"weight_value":     0.25,
	"weight_quality":   0.25,
	"weight_momentum":  0.20,
	"weight_sentiment": 0.15,
	"weight_stability": 0.15,

	// Job schedules, standard five-field cron
	"schedule_refresh": "0 3 * * *", // Nightly feature, screen and rank refresh
	"schedule_cleanup": "0 * * * *", // Hourly cache and stale session cleanup
	"schedule_backup":  "0 4 * * *", // Nightly database backup

	// Backups
	"backup_enabled":        true,  // Write local snapshots at all
	"backup_s3_enabled":     false, // Also upload snapshots to S3
	"backup_retention_days": 30.0,  // Local snapshots older than this are pruned
}

// StringSettings marks the keys whose values are strings. Everything
// not listed here or in BoolSettings parses as a float.
var StringSettings = map[string]bool{
	"schedule_refresh": true,
	"schedule_cleanup": true,
	"schedule_backup":  true,
}

// BoolSettings marks the keys whose values are booleans.
var BoolSettings = map[string]bool{
	"backup_enabled":    true,
	"backup_s3_enabled": true,
}

// cronSettings are the string settings validated as cron specs on write.
var cronSettings = map[string]bool{
	"schedule_refresh": true,
	"schedule_cleanup": true,
	"schedule_backup":  true,
}

// SettingUpdate is the body of a single-key update request.
type SettingUpdate struct {
	Value interface{} `json:"value"`
}
