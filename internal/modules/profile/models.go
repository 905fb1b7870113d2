// Package profile stores user financial profiles and derives the risk
// posture that parameterizes screening and optimization.
package profile

import "time"

// Risk tolerance values a user may state.
const (
	ToleranceConservative = "conservative"
	ToleranceBalanced     = "balanced"
	ToleranceAggressive   = "aggressive"
)

// Band is the assessed risk band driving optimizer bounds.
type Band string

const (
	BandConservative Band = "conservative"
	BandBalanced     Band = "balanced"
	BandAggressive   Band = "aggressive"
)

// Profile is a user's financial situation as they reported it.
// Money fields are annual or monthly amounts in the account currency.
type Profile struct {
	ID                     string    `json:"id"`
	Name                   string    `json:"name" validate:"required"`
	Age                    int       `json:"age" validate:"gte=18,lte=100"`
	AnnualIncome           float64   `json:"annual_income" validate:"gte=0"`
	MonthlyExpenses        float64   `json:"monthly_expenses" validate:"gte=0"`
	TotalSavings           float64   `json:"total_savings" validate:"gte=0"`
	TotalDebt              float64   `json:"total_debt" validate:"gte=0"`
	InvestmentHorizonYears int       `json:"investment_horizon_years" validate:"min=1,max=50"`
	RiskTolerance          string    `json:"risk_tolerance" validate:"required,oneof=conservative balanced aggressive"`
	InvestmentGoal         string    `json:"investment_goal,omitempty"`
	ExcludedSectors        []string  `json:"excluded_sectors,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// RiskAssessment is derived from a profile. Capacity measures what the
// finances can absorb, willingness what the user says they want; the
// binding constraint dominates the final score.
type RiskAssessment struct {
	RiskCapacity      float64  `json:"risk_capacity"`
	RiskWillingness   float64  `json:"risk_willingness"`
	RiskScore         float64  `json:"risk_score"`
	Band              Band     `json:"band"`
	MaxEquityWeight   float64  `json:"max_equity_weight"`
	MaxPositionWeight float64  `json:"max_position_weight"`
	TargetReturn      float64  `json:"target_return"`
	Notes             []string `json:"notes,omitempty"`
}
