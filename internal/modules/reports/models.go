// Package reports assembles the narrative advisory report for a
// recommendation and persists it. The narrative is deterministic
// template text built from the pipeline outputs, stored as markdown
// with a compact JSON summary alongside.
package reports

import "time"

// Summary is the machine-readable digest stored next to the markdown.
type Summary struct {
	ProfileName    string             `json:"profile_name,omitempty"`
	Band           string             `json:"band,omitempty"`
	Candidates     int                `json:"candidates"`
	Positions      int                `json:"positions"`
	ExpectedReturn float64            `json:"expected_return"`
	Volatility     float64            `json:"volatility"`
	Sharpe         float64            `json:"sharpe"`
	CVaR95         float64            `json:"cvar_95"`
	TopHolding     string             `json:"top_holding,omitempty"`
	Regime         string             `json:"regime,omitempty"`
	Weights        map[string]float64 `json:"weights,omitempty"`
}

// Report is a persisted advisory narrative.
type Report struct {
	ID               string    `json:"id"`
	RecommendationID string    `json:"recommendation_id"`
	Markdown         string    `json:"markdown"`
	Summary          Summary   `json:"summary"`
	CreatedAt        time.Time `json:"created_at"`
}
