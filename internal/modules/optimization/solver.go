package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
)

const (
	// PenaltyWeight scales the soft constraints (sum-to-1, sector caps and
	// the efficient-frontier targets) inside the objective.
	PenaltyWeight = 1000.0

	// varianceEpsilon keeps the Sharpe objective finite near zero variance.
	varianceEpsilon = 1e-10
)

// Solver runs the penalty-method mean-variance optimization for a single
// bound. Box constraints are handled by projecting inside the objective and
// re-projecting after the solve.
type Solver struct {
	log zerolog.Logger
}

// NewSolver creates a solver.
func NewSolver(log zerolog.Logger) *Solver {
	return &Solver{log: log.With().Str("component", "solver").Logger()}
}

// solveSpec is one fully-specified problem instance.
type solveSpec struct {
	symbols        []string
	mu             []float64   // annualized expected returns, row-aligned
	cov            [][]float64 // annualized covariance, row-aligned
	maxWeight      float64
	riskFreeRate   float64
	targetReturn   float64 // efficient_return only
	targetVariance float64 // efficient_risk only, targetVol squared
	strategy       string
	sectorIdx      map[string][]int // sector -> member rows
	sectorCaps     map[string]float64
}

// Solve optimizes the given strategy over [0, maxWeight] per position and
// returns weights summing to 1. expectedReturns must cover every symbol.
func (s *Solver) Solve(
	symbols []string,
	expectedReturns map[string]float64,
	cov [][]float64,
	maxWeight float64,
	sectorCaps map[string]float64,
	sectors map[string]string,
	strategy string,
	targetReturn *float64,
	targetVolatility *float64,
	riskFreeRate float64,
) (map[string]float64, error) {
	n := len(symbols)
	if n == 0 {
		return nil, fmt.Errorf("no symbols to solve")
	}
	if len(cov) != n {
		return nil, fmt.Errorf("covariance dimension %d does not match %d symbols", len(cov), n)
	}
	if float64(n)*maxWeight+WeightSumTolerance < 1.0 {
		return nil, fmt.Errorf("max weight %.2f cannot allocate a full portfolio across %d positions", maxWeight, n)
	}

	spec := solveSpec{
		symbols:      symbols,
		mu:           make([]float64, n),
		cov:          cov,
		maxWeight:    maxWeight,
		riskFreeRate: riskFreeRate,
		strategy:     strategy,
		sectorCaps:   sectorCaps,
	}
	for i, symbol := range symbols {
		mu, ok := expectedReturns[symbol]
		if !ok {
			return nil, fmt.Errorf("no expected return for %s", symbol)
		}
		spec.mu[i] = mu
	}
	if targetReturn != nil {
		spec.targetReturn = *targetReturn
	}
	if targetVolatility != nil {
		spec.targetVariance = *targetVolatility * *targetVolatility
	}
	if len(sectorCaps) > 0 {
		spec.sectorIdx = make(map[string][]int)
		for i, symbol := range symbols {
			sector := sectors[symbol]
			if sector == "" {
				continue
			}
			if _, capped := sectorCaps[sector]; capped {
				spec.sectorIdx[sector] = append(spec.sectorIdx[sector], i)
			}
		}
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 { return spec.objective(x) },
		Grad: func(grad, x []float64) { spec.gradient(grad, x) },
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	settings := &optimize.Settings{}
	result, err := optimize.Minimize(problem, initial, settings, &optimize.BFGS{})
	if err != nil || !acceptedStatus(result.Status) {
		s.log.Debug().
			Err(err).
			Str("strategy", strategy).
			Float64("max_weight", maxWeight).
			Msg("BFGS failed, retrying with Nelder-Mead")

		result, err = optimize.Minimize(problem, initial, settings, &optimize.NelderMead{})
		if err != nil {
			return nil, fmt.Errorf("optimization failed: %w", err)
		}
		if !acceptedStatus(result.Status) {
			return nil, fmt.Errorf("optimizer did not converge: %v", result.Status)
		}
	}

	weights := spec.project(result.X)
	if err := normalizeWithCap(weights, maxWeight); err != nil {
		return nil, err
	}

	out := make(map[string]float64, n)
	for i, symbol := range symbols {
		out[symbol] = weights[i]
	}
	return out, nil
}

// project clamps raw optimizer coordinates into [0, maxWeight].
func (sp *solveSpec) project(x []float64) []float64 {
	w := make([]float64, len(x))
	for i, v := range x {
		if math.IsNaN(v) {
			v = 0
		}
		w[i] = math.Max(0, math.Min(sp.maxWeight, v))
	}
	return w
}

func (sp *solveSpec) portfolioReturn(w []float64) float64 {
	ret := 0.0
	for i, v := range w {
		ret += v * sp.mu[i]
	}
	return ret
}

func (sp *solveSpec) portfolioVariance(w []float64) float64 {
	variance := 0.0
	for i := range w {
		for j := range w {
			variance += w[i] * w[j] * sp.cov[i][j]
		}
	}
	return variance
}

// varianceGradient fills dVar with d(variance)/dw.
func (sp *solveSpec) varianceGradient(dVar, w []float64) {
	for i := range w {
		g := 0.0
		for j := range w {
			g += sp.cov[i][j] * w[j]
		}
		dVar[i] = 2 * g
	}
}

func (sp *solveSpec) objective(x []float64) float64 {
	w := sp.project(x)
	ret := sp.portfolioReturn(w)
	variance := sp.portfolioVariance(w)

	var f float64
	switch sp.strategy {
	case StrategyMinVolatility:
		f = variance
	case StrategyEfficientReturn:
		diff := ret - sp.targetReturn
		f = variance + PenaltyWeight*diff*diff
	case StrategyEfficientRisk:
		diff := variance - sp.targetVariance
		f = -ret + PenaltyWeight*diff*diff
	default: // max_sharpe
		sigma := math.Sqrt(math.Max(variance, varianceEpsilon))
		f = -(ret - sp.riskFreeRate) / sigma
	}

	sum := 0.0
	for _, v := range w {
		sum += v
	}
	f += PenaltyWeight * (sum - 1) * (sum - 1)

	for sector, idx := range sp.sectorIdx {
		sw := 0.0
		for _, i := range idx {
			sw += w[i]
		}
		if over := sw - sp.sectorCaps[sector]; over > 0 {
			f += PenaltyWeight * over * over
		}
	}

	return f
}

func (sp *solveSpec) gradient(grad, x []float64) {
	w := sp.project(x)
	ret := sp.portfolioReturn(w)
	variance := sp.portfolioVariance(w)

	dVar := make([]float64, len(w))
	sp.varianceGradient(dVar, w)

	switch sp.strategy {
	case StrategyMinVolatility:
		copy(grad, dVar)
	case StrategyEfficientReturn:
		diff := ret - sp.targetReturn
		for i := range grad {
			grad[i] = dVar[i] + 2*PenaltyWeight*diff*sp.mu[i]
		}
	case StrategyEfficientRisk:
		diff := variance - sp.targetVariance
		for i := range grad {
			grad[i] = -sp.mu[i] + 2*PenaltyWeight*diff*dVar[i]
		}
	default: // max_sharpe
		sigma := math.Sqrt(math.Max(variance, varianceEpsilon))
		excess := ret - sp.riskFreeRate
		for i := range grad {
			grad[i] = -sp.mu[i]/sigma + excess*dVar[i]/(2*sigma*sigma*sigma)
		}
	}

	sum := 0.0
	for _, v := range w {
		sum += v
	}
	for i := range grad {
		grad[i] += 2 * PenaltyWeight * (sum - 1)
	}

	for sector, idx := range sp.sectorIdx {
		sw := 0.0
		for _, i := range idx {
			sw += w[i]
		}
		if over := sw - sp.sectorCaps[sector]; over > 0 {
			for _, i := range idx {
				grad[i] += 2 * PenaltyWeight * over
			}
		}
	}
}

func acceptedStatus(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence:
		return true
	default:
		return false
	}
}

// normalizeWithCap scales weights to sum to 1 while keeping every position
// within [0, maxWeight]. Mass clipped at the cap is redistributed over the
// positions with headroom, which converges in at most n passes.
func normalizeWithCap(w []float64, maxWeight float64) error {
	n := len(w)
	if n == 0 {
		return fmt.Errorf("no weights to normalize")
	}
	if float64(n)*maxWeight+WeightSumTolerance < 1.0 {
		return fmt.Errorf("max weight %.2f cannot allocate a full portfolio across %d positions", maxWeight, n)
	}

	sum := 0.0
	for i := range w {
		if w[i] < 0 || math.IsNaN(w[i]) {
			w[i] = 0
		}
		sum += w[i]
	}
	if sum <= 0 {
		for i := range w {
			w[i] = 1.0 / float64(n)
		}
		sum = 1.0
	}
	for i := range w {
		w[i] /= sum
	}

	for iter := 0; iter <= n; iter++ {
		excess := 0.0
		freeSum := 0.0
		for i := range w {
			if w[i] > maxWeight {
				excess += w[i] - maxWeight
				w[i] = maxWeight
			} else if w[i] < maxWeight {
				freeSum += w[i]
			}
		}
		if excess < 1e-12 {
			break
		}

		if freeSum > 0 {
			scale := (freeSum + excess) / freeSum
			for i := range w {
				if w[i] < maxWeight {
					w[i] *= scale
				}
			}
			continue
		}

		// No proportional headroom left, spread equally.
		var free []int
		for i := range w {
			if w[i] < maxWeight {
				free = append(free, i)
			}
		}
		if len(free) == 0 {
			break
		}
		share := excess / float64(len(free))
		for _, i := range free {
			w[i] += share
		}
	}

	return nil
}
