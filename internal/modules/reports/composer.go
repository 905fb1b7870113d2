package reports

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/optimization"
	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/risk"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/pkg/formulas"
)

const (
	// maxNotableRejections caps the rejection list in the screening section.
	maxNotableRejections = 5

	// concentrationNote is the top-weight level worth calling out.
	concentrationNote = 0.25
)

// Composer assembles the narrative report from the pipeline outputs.
// Every input may be nil or empty; the narrative explains what is
// missing instead of rendering placeholders.
type Composer struct {
	log zerolog.Logger
}

// NewComposer creates a report composer.
func NewComposer(log zerolog.Logger) *Composer {
	return &Composer{
		log: log.With().Str("service", "reports").Logger(),
	}
}

// Compose builds the markdown narrative and its JSON summary. The
// returned report carries no ID; the repository assigns one on save.
func (c *Composer) Compose(
	p *profile.Profile,
	assessment *profile.RiskAssessment,
	screen *screening.Result,
	ranked []ranking.RankedSecurity,
	solution *optimization.Solution,
	metrics *risk.PortfolioRiskMetrics,
) *Report {
	var b strings.Builder

	b.WriteString("# Investment Advisory Report\n\n")
	if p != nil {
		fmt.Fprintf(&b, "Prepared for %s.\n\n", p.Name)
	}

	writeAssessmentSection(&b, p, assessment)
	writeScreeningSection(&b, screen)
	writeHoldingsSection(&b, ranked, solution)
	writeCharacteristicsSection(&b, solution, metrics)
	writeDisclosuresSection(&b, solution, metrics)
	writeMethodologySection(&b)

	report := &Report{
		Markdown:  b.String(),
		Summary:   buildSummary(p, assessment, screen, solution, metrics),
		CreatedAt: time.Now().UTC(),
	}

	c.log.Info().
		Int("markdown_bytes", len(report.Markdown)).
		Int("positions", report.Summary.Positions).
		Msg("Report composed")

	return report
}

func writeAssessmentSection(b *strings.Builder, p *profile.Profile, a *profile.RiskAssessment) {
	b.WriteString("## Profile & Risk Assessment\n\n")

	if a == nil {
		b.WriteString("No risk assessment was produced for this run.\n\n")
		return
	}

	if p != nil {
		fmt.Fprintf(b, "%s is %d with a %d-year investment horizon and a stated %s risk tolerance. ",
			p.Name, p.Age, p.InvestmentHorizonYears, p.RiskTolerance)
	}
	fmt.Fprintf(b, "Risk capacity scores %.2f and willingness %.2f; the binding constraint places the profile in the **%s** band.\n\n",
		a.RiskCapacity, a.RiskWillingness, a.Band)
	fmt.Fprintf(b, "The portfolio targets a %s annual return with single positions capped at %s and equity exposure at %s.\n\n",
		pct1(a.TargetReturn), pct0(a.MaxPositionWeight), pct0(a.MaxEquityWeight))

	for _, note := range a.Notes {
		fmt.Fprintf(b, "- %s\n", note)
	}
	if len(a.Notes) > 0 {
		b.WriteString("\n")
	}
}

func writeScreeningSection(b *strings.Builder, screen *screening.Result) {
	b.WriteString("## Screening Summary\n\n")

	if screen == nil {
		b.WriteString("No screening result is attached to this run.\n\n")
		return
	}

	total := len(screen.Candidates) + len(screen.Rejected)
	fmt.Fprintf(b, "Screening passed %d of %d securities.", len(screen.Candidates), total)
	if len(screen.LayerCounts) > 0 {
		parts := make([]string, 0, len(screen.LayerCounts))
		for _, layer := range sortedCountKeys(screen.LayerCounts) {
			parts = append(parts, fmt.Sprintf("%s %d", layer, screen.LayerCounts[layer]))
		}
		fmt.Fprintf(b, " Rejections by layer: %s.", strings.Join(parts, ", "))
	}
	b.WriteString("\n\n")

	if len(screen.Candidates) == 0 {
		b.WriteString("The screen eliminated every candidate, so no portfolio was constructed for this run.\n\n")
	}

	if len(screen.Rejected) > 0 {
		b.WriteString("Notable rejections:\n\n")
		for i, rej := range screen.Rejected {
			if i == maxNotableRejections {
				break
			}
			fmt.Fprintf(b, "- %s: %s (%s)\n", rej.Symbol, rej.Reason, rej.Layer)
		}
		b.WriteString("\n")
	}
}

func writeHoldingsSection(b *strings.Builder, ranked []ranking.RankedSecurity, solution *optimization.Solution) {
	b.WriteString("## Top Holdings Rationale\n\n")

	if solution == nil || len(solution.Weights) == 0 {
		b.WriteString("No holdings were recommended for this run.\n\n")
		return
	}

	rankedBySymbol := make(map[string]ranking.RankedSecurity, len(ranked))
	for _, rs := range ranked {
		rankedBySymbol[rs.Symbol] = rs
	}

	for _, entry := range sortedWeights(solution.Weights) {
		fmt.Fprintf(b, "- **%s** (%s)", entry.symbol, pct1(entry.weight))
		if rs, ok := rankedBySymbol[entry.symbol]; ok {
			fmt.Fprintf(b, ": ranked %s of %d candidates", ordinal(rs.Rank), len(ranked))
			if pillar, score, found := strongestPillar(rs.Pillars); found {
				fmt.Fprintf(b, ", strongest on %s (%.2f)", pillar, score)
			}
		}
		b.WriteString(".\n")
	}
	b.WriteString("\n")
}

func writeCharacteristicsSection(b *strings.Builder, solution *optimization.Solution, metrics *risk.PortfolioRiskMetrics) {
	b.WriteString("## Portfolio Characteristics\n\n")

	if solution == nil && metrics == nil {
		b.WriteString("Portfolio metrics are unavailable for this run.\n\n")
		return
	}

	b.WriteString("| Metric | Value |\n")
	b.WriteString("| --- | --- |\n")
	if solution != nil {
		fmt.Fprintf(b, "| Expected annual return | %s |\n", pct1(solution.ExpectedReturn))
		fmt.Fprintf(b, "| Annual volatility | %s |\n", pct1(solution.Volatility))
		fmt.Fprintf(b, "| Sharpe ratio | %.2f |\n", solution.Sharpe)
	}
	if metrics != nil {
		fmt.Fprintf(b, "| Sortino ratio | %.2f |\n", metrics.Sortino)
		fmt.Fprintf(b, "| Max drawdown | %s |\n", pct1(metrics.MaxDrawdown))
		fmt.Fprintf(b, "| VaR 95 (daily) | %s |\n", pct1(metrics.VaR95))
		fmt.Fprintf(b, "| CVaR 95 (daily) | %s |\n", pct1(metrics.CVaR95))
		fmt.Fprintf(b, "| Monte Carlo CVaR 95 (daily) | %s |\n", pct1(metrics.MonteCarloCVaR95))
		fmt.Fprintf(b, "| Beta vs universe | %.2f |\n", metrics.Beta)
	}
	b.WriteString("\n")
}

func writeDisclosuresSection(b *strings.Builder, solution *optimization.Solution, metrics *risk.PortfolioRiskMetrics) {
	b.WriteString("## Risk Disclosures\n\n")

	var flags []string
	if solution != nil {
		for _, symbol := range sortedStringKeys(solution.Diagnostics.DroppedSymbols) {
			flags = append(flags, fmt.Sprintf("%s was excluded from optimization: %s.",
				symbol, solution.Diagnostics.DroppedSymbols[symbol]))
		}
		for _, w := range solution.Diagnostics.CorrelationWarnings {
			flags = append(flags, fmt.Sprintf("%s and %s are highly correlated (%.2f); diversification between them is limited.",
				w.SymbolA, w.SymbolB, w.Correlation))
		}
	}
	if metrics != nil {
		if metrics.Concentration.TopWeight >= concentrationNote && metrics.Concentration.TopSymbol != "" {
			flags = append(flags, fmt.Sprintf("The largest position, %s, holds %s of the portfolio.",
				metrics.Concentration.TopSymbol, pct1(metrics.Concentration.TopWeight)))
		}
		for _, symbol := range sortedStringKeys(metrics.Excluded) {
			flags = append(flags, fmt.Sprintf("%s was excluded from risk metrics: %s.",
				symbol, metrics.Excluded[symbol]))
		}
	}
	if solution != nil && solution.Diagnostics.Regime != "" {
		flags = append(flags, regimeNote(solution.Diagnostics.Regime))
	}

	for _, flag := range flags {
		fmt.Fprintf(b, "- %s\n", flag)
	}
	if len(flags) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("All figures derive from historical market data. Past performance does not guarantee future results, and this report is not personal financial advice.\n\n")
}

func writeMethodologySection(b *strings.Builder) {
	b.WriteString("## Methodology\n\n")
	b.WriteString("Candidates pass a four-layer screen (eligibility, quality and stability gates, " +
		"then sector-relative z-score selection) and are ranked on five weighted pillars " +
		"(value, quality, momentum, sentiment, stability) with a market-regime tilt. " +
		"Portfolio weights come from mean-variance optimization over 252 trading days of history " +
		"with Ledoit-Wolf covariance shrinkage and a position-bound sweep. " +
		"Risk figures combine historical quantiles with a Monte Carlo cross-check.\n")
}

func buildSummary(
	p *profile.Profile,
	assessment *profile.RiskAssessment,
	screen *screening.Result,
	solution *optimization.Solution,
	metrics *risk.PortfolioRiskMetrics,
) Summary {
	var s Summary

	if p != nil {
		s.ProfileName = p.Name
	}
	if assessment != nil {
		s.Band = string(assessment.Band)
	}
	if screen != nil {
		s.Candidates = len(screen.Candidates)
	}
	if solution != nil {
		s.Positions = len(solution.Weights)
		s.ExpectedReturn = formulas.Round3(solution.ExpectedReturn)
		s.Volatility = formulas.Round3(solution.Volatility)
		s.Sharpe = formulas.Round3(solution.Sharpe)
		s.Regime = solution.Diagnostics.Regime

		if len(solution.Weights) > 0 {
			s.Weights = make(map[string]float64, len(solution.Weights))
			for symbol, w := range solution.Weights {
				s.Weights[symbol] = formulas.Round3(w)
			}
			s.TopHolding = sortedWeights(solution.Weights)[0].symbol
		}
	}
	if metrics != nil {
		s.CVaR95 = formulas.Round3(metrics.CVaR95)
	}

	return s
}

func regimeNote(regime string) string {
	switch regime {
	case "bull":
		return "Markets currently read as a bull regime; return estimates carry no haircut."
	case "bear":
		return "Markets currently read as a bear regime; expected returns were reduced accordingly."
	default:
		return "Markets currently read as sideways; expected returns carry no regime adjustment."
	}
}

type weightEntry struct {
	symbol string
	weight float64
}

// sortedWeights orders positions by weight descending, symbol as tiebreak.
func sortedWeights(weights map[string]float64) []weightEntry {
	entries := make([]weightEntry, 0, len(weights))
	for symbol, w := range weights {
		entries = append(entries, weightEntry{symbol: symbol, weight: w})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			return entries[i].weight > entries[j].weight
		}
		return entries[i].symbol < entries[j].symbol
	})
	return entries
}

// strongestPillar picks the highest-scoring pillar, alphabetical on ties.
func strongestPillar(pillars map[string]float64) (string, float64, bool) {
	if len(pillars) == 0 {
		return "", 0, false
	}

	names := make([]string, 0, len(pillars))
	for name := range pillars {
		names = append(names, name)
	}
	sort.Strings(names)

	best := names[0]
	for _, name := range names[1:] {
		if pillars[name] > pillars[best] {
			best = name
		}
	}
	return best, pillars[best], true
}

// ordinal renders 1 as 1st, 2 as 2nd and so on.
func ordinal(n int) string {
	suffix := "th"
	switch n % 10 {
	case 1:
		if n%100 != 11 {
			suffix = "st"
		}
	case 2:
		if n%100 != 12 {
			suffix = "nd"
		}
	case 3:
		if n%100 != 13 {
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}

func pct1(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func pct0(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedCountKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
