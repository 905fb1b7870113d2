package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidProfile() *Profile {
	return &Profile{
		Name:                   "Test",
		Age:                    35,
		AnnualIncome:           90000,
		MonthlyExpenses:        3000,
		TotalSavings:           120000,
		TotalDebt:              10000,
		InvestmentHorizonYears: 20,
		RiskTolerance:          ToleranceAggressive,
	}
}

func TestAssess_Deterministic(t *testing.T) {
	p := solidProfile()

	first := Assess(p)
	second := Assess(p)

	assert.Equal(t, first, second)
}

func TestAssess_Bands(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Profile)
		wantBand Band
	}{
		{
			name:     "strong finances and aggressive tolerance",
			mutate:   func(p *Profile) {},
			wantBand: BandAggressive,
		},
		{
			name: "conservative tolerance binds regardless of capacity",
			mutate: func(p *Profile) {
				p.RiskTolerance = ToleranceConservative
			},
			wantBand: BandConservative,
		},
		{
			name: "balanced tolerance lands in the middle band",
			mutate: func(p *Profile) {
				p.RiskTolerance = ToleranceBalanced
			},
			wantBand: BandBalanced,
		},
		{
			name: "weak finances bind an aggressive tolerance",
			mutate: func(p *Profile) {
				p.TotalSavings = 5000
				p.TotalDebt = 60000
				p.InvestmentHorizonYears = 5
				p.MonthlyExpenses = 2500
			},
			wantBand: BandConservative,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := solidProfile()
			tt.mutate(p)

			got := Assess(p)
			assert.Equal(t, tt.wantBand, got.Band)
		})
	}
}

func TestAssess_HeavyDebtNeverAssessesAboveBalanced(t *testing.T) {
	p := solidProfile()
	p.TotalSavings = 20000
	p.TotalDebt = 50000 // more than twice savings

	got := Assess(p)

	assert.NotEqual(t, BandAggressive, got.Band)
	assert.LessOrEqual(t, got.RiskScore, 0.65)
	assert.Contains(t, got.Notes, "Debt exceeds twice savings; risk budget capped at balanced")
}

func TestAssess_ShortHorizonForcesConservative(t *testing.T) {
	p := solidProfile()
	p.InvestmentHorizonYears = 2

	got := Assess(p)

	assert.Equal(t, BandConservative, got.Band)
}

func TestAssess_ZeroIncomeUsesBalanceSheet(t *testing.T) {
	p := solidProfile()
	p.AnnualIncome = 0

	got := Assess(p)

	assert.Greater(t, got.RiskCapacity, 0.0)
	assert.Contains(t, got.Notes, "No income reported; capacity assessed from the balance sheet alone")
}

func TestAssess_BandParameters(t *testing.T) {
	tests := []struct {
		band            Band
		wantMaxPosition float64
		wantMaxEquity   float64
	}{
		{BandConservative, 0.15, 0.60},
		{BandBalanced, 0.25, 0.80},
		{BandAggressive, 0.35, 0.95},
	}

	for _, tt := range tests {
		t.Run(string(tt.band), func(t *testing.T) {
			maxEquity, maxPosition, targetReturn := bandParameters(tt.band)
			assert.Equal(t, tt.wantMaxEquity, maxEquity)
			assert.Equal(t, tt.wantMaxPosition, maxPosition)
			assert.Greater(t, targetReturn, 0.0)
		})
	}
}

func TestAssess_ScoresStayInRange(t *testing.T) {
	profiles := []*Profile{
		solidProfile(),
		{Name: "broke", Age: 22, MonthlyExpenses: 2000, TotalDebt: 80000, InvestmentHorizonYears: 1, RiskTolerance: ToleranceAggressive},
		{Name: "rich", Age: 50, AnnualIncome: 500000, MonthlyExpenses: 5000, TotalSavings: 2000000, InvestmentHorizonYears: 30, RiskTolerance: ToleranceAggressive},
	}

	for _, p := range profiles {
		got := Assess(p)

		require.GreaterOrEqual(t, got.RiskCapacity, 0.0)
		require.LessOrEqual(t, got.RiskCapacity, 1.0)
		require.GreaterOrEqual(t, got.RiskScore, 0.0)
		require.LessOrEqual(t, got.RiskScore, 1.0)
		require.NotEmpty(t, got.Band)
	}
}
