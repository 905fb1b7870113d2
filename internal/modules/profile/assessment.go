package profile

import (
	"fmt"
	"math"

	"github.com/aristath/steward/pkg/formulas"
)

// Capacity component weights. The savings-rate component drops out when
// no income is reported and the rest renormalize.
const (
	horizonWeight     = 0.35
	debtWeight        = 0.25
	savingsRateWeight = 0.20
	bufferWeight      = 0.20
)

// Band thresholds on the blended risk score.
const (
	conservativeCeiling = 0.35
	balancedCeiling     = 0.65
)

// fullMarks reference points for capacity components.
const (
	fullHorizonYears    = 20.0
	fullSavingsToDebt   = 4.0  // savings at 4x debt scores 1.0
	fullSavingsRate     = 0.30 // saving 30% of income scores 1.0
	fullBufferMonths    = 12.0
	minBufferMonths     = 3.0
	shortHorizonYears   = 3
	shortHorizonCeiling = 0.30
)

// Assess derives a risk assessment from a profile. It is deterministic:
// the same profile always yields the same assessment.
func Assess(p *Profile) RiskAssessment {
	capacity, notes := riskCapacity(p)
	willingness := riskWillingness(p.RiskTolerance)

	// The binding constraint wins: the score never exceeds either input.
	// Capacity shades the bound downward when the finances are weaker
	// than the stated appetite.
	score := math.Min(capacity, willingness) * (0.85 + 0.15*capacity)

	if p.TotalDebt > 0 && p.TotalDebt > 2*p.TotalSavings {
		if score > balancedCeiling {
			score = balancedCeiling
		}
		notes = append(notes, "Debt exceeds twice savings; risk budget capped at balanced")
	}

	if p.InvestmentHorizonYears < shortHorizonYears {
		if score > shortHorizonCeiling {
			score = shortHorizonCeiling
		}
		notes = append(notes, fmt.Sprintf("Horizon of %d years forces a conservative posture", p.InvestmentHorizonYears))
	}

	band := bandForScore(score)
	maxEquity, maxPosition, targetReturn := bandParameters(band)

	return RiskAssessment{
		RiskCapacity:      formulas.Round3(capacity),
		RiskWillingness:   formulas.Round3(willingness),
		RiskScore:         formulas.Round3(score),
		Band:              band,
		MaxEquityWeight:   maxEquity,
		MaxPositionWeight: maxPosition,
		TargetReturn:      targetReturn,
		Notes:             notes,
	}
}

// riskCapacity scores what the finances can absorb, in [0,1].
func riskCapacity(p *Profile) (float64, []string) {
	var notes []string

	horizonScore := formulas.Clamp(float64(p.InvestmentHorizonYears)/fullHorizonYears, 0, 1)

	debtScore := 1.0
	if p.TotalDebt > 0 {
		if p.TotalSavings <= 0 {
			debtScore = 0
		} else {
			debtScore = formulas.Clamp(p.TotalSavings/p.TotalDebt/fullSavingsToDebt, 0, 1)
		}
	}

	bufferScore := 1.0
	if p.MonthlyExpenses > 0 {
		months := p.TotalSavings / p.MonthlyExpenses
		bufferScore = formulas.Clamp(months/fullBufferMonths, 0, 1)
		if months < minBufferMonths {
			notes = append(notes, fmt.Sprintf("Savings cover %.1f months of expenses; a larger emergency buffer is advisable", months))
		}
	}

	weighted := horizonScore*horizonWeight + debtScore*debtWeight + bufferScore*bufferWeight
	totalWeight := horizonWeight + debtWeight + bufferWeight

	if p.AnnualIncome > 0 {
		rate := (p.AnnualIncome - 12*p.MonthlyExpenses) / p.AnnualIncome
		rateScore := formulas.Clamp(rate/fullSavingsRate, 0, 1)
		weighted += rateScore * savingsRateWeight
		totalWeight += savingsRateWeight
	} else {
		notes = append(notes, "No income reported; capacity assessed from the balance sheet alone")
	}

	return weighted / totalWeight, notes
}

// riskWillingness maps stated tolerance to [0,1].
func riskWillingness(tolerance string) float64 {
	switch tolerance {
	case ToleranceConservative:
		return 0.20
	case ToleranceAggressive:
		return 0.85
	default:
		return 0.50
	}
}

func bandForScore(score float64) Band {
	switch {
	case score < conservativeCeiling:
		return BandConservative
	case score <= balancedCeiling:
		return BandBalanced
	default:
		return BandAggressive
	}
}

// bandParameters maps a band to optimizer inputs: the equity ceiling
// (its complement is the cash floor), the per-position cap and the
// default target return.
func bandParameters(band Band) (maxEquity, maxPosition, targetReturn float64) {
	switch band {
	case BandConservative:
		return 0.60, 0.15, 0.06
	case BandAggressive:
		return 0.95, 0.35, 0.12
	default:
		return 0.80, 0.25, 0.09
	}
}
