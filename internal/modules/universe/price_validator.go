package universe

import (
	"math"
	"time"

	"github.com/rs/zerolog"
)

const (
	// Validation thresholds
	maxPriceMultiplier    = 10.0   // Close > 10x recent average is abnormal
	minPriceMultiplier    = 0.1    // Close < 0.1x recent average is abnormal
	maxPriceChangePercent = 1000.0 // >1000% day-over-day change is a spike
	minPriceChangePercent = -90.0  // <-90% day-over-day change is a crash
	absolutePriceMax      = 100000.0
	absolutePriceMin      = 0.01
	contextWindowDays     = 30 // Recent average uses the trailing 30 bars
)

// InterpolationLog records a repaired price bar
type InterpolationLog struct {
	Date              string  `json:"date"`
	OriginalClose     float64 `json:"original_close"`
	InterpolatedClose float64 `json:"interpolated_close"`
	Method            string  `json:"method"` // "linear", "forward_fill", "backward_fill"
	Reason            string  `json:"reason"`
}

// PriceValidator screens incoming price bars and repairs abnormal ones
// so a single bad vendor tick cannot distort momentum or volatility math.
type PriceValidator struct {
	log zerolog.Logger
}

// NewPriceValidator creates a new price validator
func NewPriceValidator(log zerolog.Logger) *PriceValidator {
	return &PriceValidator{
		log: log.With().Str("component", "price_validator").Logger(),
	}
}

// Validate checks one bar against the bars that precede it.
// prior must be in ascending date order; its last element is the previous day.
// Returns (isValid, reason).
func (v *PriceValidator) Validate(price DailyPrice, prior []DailyPrice) (bool, string) {
	if ok, reason := checkOHLC(price); !ok {
		return false, reason
	}

	if len(prior) == 0 {
		if price.Close > absolutePriceMax {
			return false, "absolute_bound_exceeded"
		}
		if price.Close < absolutePriceMin {
			return false, "absolute_bound_below_minimum"
		}
		return true, ""
	}

	// Day-over-day change takes priority over the average checks.
	prevClose := prior[len(prior)-1].Close
	if prevClose > 0 {
		changePercent := ((price.Close - prevClose) / prevClose) * 100.0
		if changePercent > maxPriceChangePercent {
			return false, "spike_detected"
		}
		if changePercent < minPriceChangePercent {
			return false, "crash_detected"
		}
	}

	window := prior
	if len(window) > contextWindowDays {
		window = window[len(window)-contextWindowDays:]
	}
	var sum float64
	for _, p := range window {
		sum += p.Close
	}
	avg := sum / float64(len(window))

	if avg > 0 {
		if price.Close > avg*maxPriceMultiplier {
			return false, "price_too_high"
		}
		if price.Close < avg*minPriceMultiplier {
			return false, "price_too_low"
		}
	}

	return true, ""
}

// CleanSeries validates an ascending batch and repairs abnormal bars from
// their nearest valid neighbors. Dates and volumes are always preserved.
func (v *PriceValidator) CleanSeries(prices []DailyPrice) ([]DailyPrice, []InterpolationLog) {
	if len(prices) == 0 {
		return prices, nil
	}

	result := make([]DailyPrice, 0, len(prices))
	var logs []InterpolationLog

	for i, price := range prices {
		valid, reason := v.Validate(price, result)
		if valid {
			result = append(result, price)
			continue
		}

		var before, after *DailyPrice
		if len(result) > 0 {
			before = &result[len(result)-1]
		}
		for j := i + 1; j < len(prices); j++ {
			if ok, _ := checkOHLC(prices[j]); ok {
				after = &prices[j]
				break
			}
		}

		repaired, method := interpolateBar(price, before, after)
		logs = append(logs, InterpolationLog{
			Date:              price.Date,
			OriginalClose:     price.Close,
			InterpolatedClose: repaired.Close,
			Method:            method,
			Reason:            reason,
		})

		v.log.Warn().
			Str("date", price.Date).
			Float64("original_close", price.Close).
			Float64("interpolated_close", repaired.Close).
			Str("method", method).
			Str("reason", reason).
			Msg("Repaired abnormal price")

		result = append(result, repaired)
	}

	return result, logs
}

// interpolateBar rebuilds an abnormal bar from its neighbors.
func interpolateBar(price DailyPrice, before, after *DailyPrice) (DailyPrice, string) {
	repaired := price

	switch {
	case before != nil && after != nil:
		frac := dateFraction(before.Date, price.Date, after.Date)
		repaired.Close = before.Close + (after.Close-before.Close)*frac
		repaired.Open = repaired.Close * avgRatio(before.Open/before.Close, after.Open/after.Close)
		repaired.High = repaired.Close * avgRatio(before.High/before.Close, after.High/after.Close)
		repaired.Low = repaired.Close * avgRatio(before.Low/before.Close, after.Low/after.Close)
		ensureOHLCConsistency(&repaired)
		return repaired, "linear"

	case before != nil:
		repaired.Open = before.Open
		repaired.High = before.High
		repaired.Low = before.Low
		repaired.Close = before.Close
		return repaired, "forward_fill"

	case after != nil:
		repaired.Open = after.Open
		repaired.High = after.High
		repaired.Low = after.Low
		repaired.Close = after.Close
		return repaired, "backward_fill"

	default:
		ensureOHLCConsistency(&repaired)
		return repaired, "no_interpolation"
	}
}

func checkOHLC(price DailyPrice) (bool, string) {
	if price.High < price.Low {
		return false, "high_below_low"
	}
	if price.High < price.Open || price.High < price.Close {
		return false, "high_below_body"
	}
	if price.Low > price.Open || price.Low > price.Close {
		return false, "low_above_body"
	}
	if price.Close <= 0 {
		return false, "non_positive_close"
	}
	return true, ""
}

// dateFraction returns how far target sits between start and end, in days.
// Falls back to the midpoint when dates fail to parse or the range is empty.
func dateFraction(start, target, end string) float64 {
	s, err1 := time.Parse("2006-01-02", start)
	t, err2 := time.Parse("2006-01-02", target)
	e, err3 := time.Parse("2006-01-02", end)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0.5
	}

	total := e.Sub(s).Hours() / 24.0
	if total <= 0 {
		return 0.5
	}

	return t.Sub(s).Hours() / 24.0 / total
}

func avgRatio(a, b float64) float64 {
	if math.IsNaN(a) || math.IsInf(a, 0) {
		a = 1
	}
	if math.IsNaN(b) || math.IsInf(b, 0) {
		b = 1
	}
	return (a + b) / 2.0
}

func ensureOHLCConsistency(price *DailyPrice) {
	price.High = math.Max(price.High, math.Max(price.Open, price.Close))
	price.Low = math.Min(price.Low, math.Min(price.Open, price.Close))
	if price.High < price.Low {
		price.High = price.Low
	}
}
