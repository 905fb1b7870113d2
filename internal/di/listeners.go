package di

import (
	"strconv"

	"github.com/aristath/steward/internal/events"
	"github.com/rs/zerolog"
)

// scheduleJobs maps schedule settings to the jobs they drive.
var scheduleJobs = map[string]string{
	"schedule_refresh": "refresh_scores",
	"schedule_cleanup": "cleanup",
	"schedule_backup":  "backup",
}

// RegisterListeners applies settings changes to live components so
// tuning takes effect without a restart.
func RegisterListeners(c *Container, log zerolog.Logger) {
	lg := log.With().Str("component", "settings_listener").Logger()

	c.EventBus.Subscribe(events.SettingsChanged, func(event *events.Event) {
		key, _ := event.Data["key"].(string)
		if key == "" {
			return
		}

		if jobName, ok := scheduleJobs[key]; ok {
			spec, ok := event.Data["value"].(string)
			if !ok {
				return
			}
			if err := c.Scheduler.Reschedule(jobName, spec); err != nil {
				lg.Warn().Err(err).Str("job", jobName).Msg("Failed to apply new schedule")
			}
			return
		}

		value, ok := settingFloat(event.Data["value"])
		if !ok {
			return
		}
		switch key {
		case "market_avg_pe":
			c.RankingEngine.SetMarketAvgPE(value)
		case "target_annual_return":
			c.ReturnsEstimator.SetTargetReturn(value)
		case "risk_free_rate":
			c.RiskService.SetRiskFreeRate(value)
		}
	})
}

// settingFloat unwraps a numeric setting value. Event payloads arrive
// JSON decoded, so numbers are float64; numeric strings are accepted.
func settingFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
