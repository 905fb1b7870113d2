package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/screening"
)

// Service layers defaults, validation and typed access over the
// repository. Reads always produce a usable value: overrides that fail
// to parse degrade to the default rather than erroring.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a settings service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "settings").Logger(),
	}
}

// GetAll returns the effective value of every known setting, overrides
// merged over defaults.
func (s *Service) GetAll() (map[string]interface{}, error) {
	overrides, err := s.repo.GetAll()
	if err != nil {
		return nil, err
	}

	result := make(map[string]interface{}, len(SettingDefaults))
	for key, defaultValue := range SettingDefaults {
		raw, exists := overrides[key]
		if !exists {
			result[key] = defaultValue
			continue
		}
		result[key] = parseStored(key, raw, defaultValue)
	}
	return result, nil
}

// Get returns the effective value for a key. Unknown keys error.
func (s *Service) Get(key string) (interface{}, error) {
	defaultValue, exists := SettingDefaults[key]
	if !exists {
		return nil, fmt.Errorf("unknown setting: %s", key)
	}

	raw, err := s.repo.Get(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return defaultValue, nil
	}
	return parseStored(key, *raw, defaultValue), nil
}

// Set validates and persists a setting override. Unknown keys and
// values of the wrong type or out of range are rejected.
func (s *Service) Set(key string, value interface{}) error {
	if _, exists := SettingDefaults[key]; !exists {
		return fmt.Errorf("unknown setting: %s", key)
	}

	stored, err := validateValue(key, value)
	if err != nil {
		return err
	}
	if err := s.repo.Set(key, stored); err != nil {
		return err
	}

	s.log.Info().Str("key", key).Str("value", stored).Msg("Setting updated")
	return nil
}

// Validate checks a key and value without persisting anything.
func (s *Service) Validate(key string, value interface{}) error {
	if _, exists := SettingDefaults[key]; !exists {
		return fmt.Errorf("unknown setting: %s", key)
	}
	_, err := validateValue(key, value)
	return err
}

// Reset removes the override for a key, reverting it to the default.
func (s *Service) Reset(key string) error {
	if _, exists := SettingDefaults[key]; !exists {
		return fmt.Errorf("unknown setting: %s", key)
	}
	return s.repo.Delete(key)
}

// GetFloat returns the effective float value for a key, zero when the
// key is unknown or not a float.
func (s *Service) GetFloat(key string) float64 {
	value, err := s.Get(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Float setting lookup failed")
		return 0
	}
	f, ok := toFloat(value)
	if !ok {
		return 0
	}
	return f
}

// GetInt returns the effective value truncated to int.
func (s *Service) GetInt(key string) int {
	return int(s.GetFloat(key))
}

// GetBool returns the effective bool value for a key, false when the
// key is unknown or not a bool.
func (s *Service) GetBool(key string) bool {
	value, err := s.Get(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Bool setting lookup failed")
		return false
	}
	b, ok := value.(bool)
	if !ok {
		return false
	}
	return b
}

// GetString returns the effective string value for a key, empty when
// the key is unknown or not a string.
func (s *Service) GetString(key string) string {
	value, err := s.Get(key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("String setting lookup failed")
		return ""
	}
	str, ok := value.(string)
	if !ok {
		return ""
	}
	return str
}

// Criteria assembles screening gates from the effective settings.
func (s *Service) Criteria() screening.Criteria {
	c := screening.DefaultCriteria()
	c.MinMarketCap = s.GetFloat("screen_min_market_cap")
	c.MaxPE = s.GetFloat("screen_max_pe")
	c.MinROE = s.GetFloat("screen_min_roe")
	c.MaxDebtToEquity = s.GetFloat("screen_max_debt_to_equity")
	c.MinDividendYield = s.GetFloat("screen_min_dividend_yield")
	c.MaxVolatility = s.GetFloat("screen_max_volatility")
	c.ZScoreThreshold = s.GetFloat("screen_zscore_threshold")
	return c
}

// RankingWeights assembles pillar weights from the effective settings.
// An invalid stored combination falls back to the baseline weights.
func (s *Service) RankingWeights() ranking.Weights {
	w := ranking.Weights{
		Value:     s.GetFloat("weight_value"),
		Quality:   s.GetFloat("weight_quality"),
		Momentum:  s.GetFloat("weight_momentum"),
		Sentiment: s.GetFloat("weight_sentiment"),
		Stability: s.GetFloat("weight_stability"),
	}
	if err := w.Validate(); err != nil {
		s.log.Warn().Err(err).Msg("Stored ranking weights invalid, using defaults")
		return ranking.DefaultWeights()
	}
	return w
}

// parseStored converts a stored string to the key's kind, falling back
// to the default when a float fails to parse.
func parseStored(key, raw string, defaultValue interface{}) interface{} {
	switch {
	case BoolSettings[key]:
		return isTruthy(raw)
	case StringSettings[key]:
		return raw
	default:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
		return defaultValue
	}
}

// validateValue checks type and range for a key and returns the string
// form to store.
func validateValue(key string, value interface{}) (string, error) {
	switch {
	case BoolSettings[key]:
		b, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("%s must be a boolean", key)
		}
		if b {
			return "true", nil
		}
		return "false", nil

	case StringSettings[key]:
		str, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("%s must be a string", key)
		}
		if cronSettings[key] {
			if _, err := cron.ParseStandard(str); err != nil {
				return "", fmt.Errorf("%s is not a valid cron spec: %w", key, err)
			}
		}
		return str, nil

	default:
		f, ok := toFloat(value)
		if !ok {
			return "", fmt.Errorf("%s must be a number", key)
		}
		if err := checkRange(key, f); err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
}

func checkRange(key string, v float64) error {
	switch {
	case strings.HasPrefix(key, "weight_"):
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1", key)
		}
	case key == "risk_free_rate":
		if v < 0 || v > 0.2 {
			return fmt.Errorf("risk_free_rate must be between 0 and 0.2")
		}
	case key == "target_annual_return":
		if v <= 0 || v > 0.5 {
			return fmt.Errorf("target_annual_return must be between 0 and 0.5")
		}
	case key == "market_avg_pe":
		if v <= 0 || v > 200 {
			return fmt.Errorf("market_avg_pe must be between 0 and 200")
		}
	case key == "max_position_weight":
		if v <= 0 || v > 1 {
			return fmt.Errorf("max_position_weight must be between 0 and 1")
		}
	case key == "backup_retention_days":
		if v < 0 {
			return fmt.Errorf("backup_retention_days must be non-negative")
		}
	case key == "screen_zscore_threshold":
		// Any finite threshold is usable, including negative ones.
	case strings.HasPrefix(key, "screen_"):
		if v < 0 {
			return fmt.Errorf("%s must be non-negative", key)
		}
	}
	return nil
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
