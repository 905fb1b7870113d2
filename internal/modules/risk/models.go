// Package risk computes portfolio and security risk metrics from price
// history. Portfolio metrics are derived from a weighted daily return
// series over the aligned histories of the held symbols, with a Monte
// Carlo CVaR cross-check on top of the historical estimates.
package risk

// Concentration describes how narrowly the portfolio weight is spread.
type Concentration struct {
	HHI       float64 `json:"hhi"`
	TopWeight float64 `json:"top_weight"`
	TopSymbol string  `json:"top_symbol,omitempty"`
	Positions int     `json:"positions"`
}

// SymbolRisk holds per-position metrics. VarianceShare is the position's
// fraction of total portfolio variance and can be negative for
// diversifying positions.
type SymbolRisk struct {
	Weight           float64 `json:"weight"`
	AnnualReturn     float64 `json:"annual_return"`
	AnnualVolatility float64 `json:"annual_volatility"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	VaR95            float64 `json:"var_95"`
	CVaR95           float64 `json:"cvar_95"`
	Beta             float64 `json:"beta"`
	VarianceShare    float64 `json:"variance_share"`
}

// PortfolioRiskMetrics is the full risk picture for a weight vector.
// VaR and CVaR are daily return quantiles, negative when they represent
// losses. Beta is measured against an equal-weight universe proxy.
type PortfolioRiskMetrics struct {
	AnnualReturn     float64               `json:"annual_return"`
	AnnualVolatility float64               `json:"annual_volatility"`
	Sharpe           float64               `json:"sharpe"`
	Sortino          float64               `json:"sortino"`
	MaxDrawdown      float64               `json:"max_drawdown"`
	VaR95            float64               `json:"var_95"`
	VaR99            float64               `json:"var_99"`
	CVaR95           float64               `json:"cvar_95"`
	CVaR99           float64               `json:"cvar_99"`
	MonteCarloCVaR95 float64               `json:"monte_carlo_cvar_95"`
	Beta             float64               `json:"beta"`
	Concentration    Concentration         `json:"concentration"`
	PerSymbol        map[string]SymbolRisk `json:"per_symbol,omitempty"`
	Excluded         map[string]string     `json:"excluded,omitempty"`
	ObservationDays  int                   `json:"observation_days"`
}

// SecurityRiskMetrics mirrors the portfolio metrics for a single symbol.
type SecurityRiskMetrics struct {
	Symbol           string  `json:"symbol"`
	AnnualReturn     float64 `json:"annual_return"`
	AnnualVolatility float64 `json:"annual_volatility"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	VaR95            float64 `json:"var_95"`
	VaR99            float64 `json:"var_99"`
	CVaR95           float64 `json:"cvar_95"`
	CVaR99           float64 `json:"cvar_99"`
	Beta             float64 `json:"beta"`
	ObservationDays  int     `json:"observation_days"`
}
