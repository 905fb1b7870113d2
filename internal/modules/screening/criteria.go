// Package screening reduces the universe to a candidate set through ordered
// filter layers and peer-relative z-score screening.
package screening

import "github.com/aristath/steward/internal/modules/profile"

// Criteria holds the screening gates. A zero value disables a gate,
// except ZScoreThreshold and MinPeerGroupSize which are always applied.
type Criteria struct {
	MinMarketCap        float64  `json:"min_market_cap"`
	MaxPE               float64  `json:"max_pe"`
	MinROE              float64  `json:"min_roe"`
	MaxDebtToEquity     float64  `json:"max_debt_to_equity"`
	MinDividendYield    float64  `json:"min_dividend_yield"`
	MaxVolatility       float64  `json:"max_volatility"`
	ExcludedSectors     []string `json:"excluded_sectors,omitempty"`
	RequireCompleteData bool     `json:"require_complete_data"`
	ZScoreThreshold     float64  `json:"z_score_threshold"`
	MinPeerGroupSize    int      `json:"min_peer_group_size"`
}

// DefaultCriteria returns the balanced baseline gates.
func DefaultCriteria() Criteria {
	return Criteria{
		MinMarketCap:     500_000_000,
		MaxPE:            40,
		MinROE:           0.08,
		MaxDebtToEquity:  2.0,
		MinDividendYield: 0,
		MaxVolatility:    0.60,
		ZScoreThreshold:  -0.5,
		MinPeerGroupSize: 4,
	}
}

// ForBand adjusts the gates for a risk band: conservative tightens valuation
// and volatility and requires a dividend, aggressive tolerates more
// volatility and drops the dividend floor.
func (c Criteria) ForBand(band profile.Band) Criteria {
	switch band {
	case profile.BandConservative:
		c.MaxPE *= 0.8
		c.MaxVolatility *= 0.8
		if c.MinDividendYield < 0.01 {
			c.MinDividendYield = 0.01
		}
	case profile.BandAggressive:
		c.MaxVolatility *= 1.25
		c.MinDividendYield = 0
	}
	return c
}
