package optimization

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/profile"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/universe"
)

// Service orchestrates one optimization run: risk model, expected returns,
// the bound sweep and the final dust-floor pass.
type Service struct {
	builder      *RiskModelBuilder
	returns      *ReturnsEstimator
	solver       *Solver
	securityRepo *universe.SecurityRepository
	sentimentSvc *sentiment.Service
	log          zerolog.Logger
}

// NewService creates an optimization service.
func NewService(
	builder *RiskModelBuilder,
	returns *ReturnsEstimator,
	solver *Solver,
	securityRepo *universe.SecurityRepository,
	sentimentSvc *sentiment.Service,
	log zerolog.Logger,
) *Service {
	return &Service{
		builder:      builder,
		returns:      returns,
		solver:       solver,
		securityRepo: securityRepo,
		sentimentSvc: sentimentSvc,
		log:          log.With().Str("service", "optimization").Logger(),
	}
}

// BandMaxWeight returns the per-position cap a risk band allows.
func BandMaxWeight(band profile.Band) float64 {
	switch band {
	case profile.BandConservative:
		return 0.15
	case profile.BandAggressive:
		return 0.35
	default:
		return 0.25
	}
}

// BandTargetReturn returns the default annual target return for a band.
func BandTargetReturn(band profile.Band) float64 {
	switch band {
	case profile.BandConservative:
		return 0.06
	case profile.BandAggressive:
		return 0.12
	default:
		return 0.09
	}
}

// Optimize runs the request over the default bound ladder, or over the
// caller's pinned MaxWeight when set.
func (s *Service) Optimize(req Request) (*Solution, error) {
	ladder := DefaultBoundSweep
	if req.MaxWeight > 0 {
		ladder = []float64{req.MaxWeight}
	}
	return s.optimize(req, ladder)
}

// OptimizeForBand caps the bound ladder at the band's per-position limit and
// fills the band's risk-free-rate and target-return defaults.
func (s *Service) OptimizeForBand(req Request, band profile.Band) (*Solution, error) {
	bandCap := BandMaxWeight(band)

	if req.RiskFreeRate == 0 {
		req.RiskFreeRate = DefaultRiskFreeRate
	}
	if req.TargetReturn == nil {
		target := BandTargetReturn(band)
		req.TargetReturn = &target
	}

	var ladder []float64
	if req.MaxWeight > 0 {
		ladder = []float64{math.Min(req.MaxWeight, bandCap)}
	} else {
		for _, bound := range DefaultBoundSweep {
			if bound <= bandCap+1e-9 {
				ladder = append(ladder, bound)
			}
		}
	}

	return s.optimize(req, ladder)
}

func (s *Service) optimize(req Request, ladder []float64) (*Solution, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	symbols := dedupeSymbols(req.Symbols)
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols to optimize")
	}

	regimeScore := 0.0
	regime := sentiment.RegimeSideways
	if s.sentimentSvc != nil {
		snapshot, err := s.sentimentSvc.CurrentRegime(0)
		if err != nil {
			s.log.Warn().Err(err).Msg("Regime detection failed, assuming sideways")
		} else if snapshot.Regime != "" {
			regimeScore = snapshot.Score
			regime = snapshot.Regime
		}
	}

	model, err := s.builder.Build(symbols, DefaultLookbackDays)
	if err != nil {
		return nil, err
	}

	diagnostics := Diagnostics{
		DroppedSymbols:      model.Dropped,
		CorrelationWarnings: model.Warnings,
		Shrinkage:           model.Shrinkage,
		ObservationDays:     model.Days,
		Regime:              string(regime),
	}

	var sentimentScores map[string]float64
	if req.SentimentTilt && s.sentimentSvc != nil {
		scores, err := s.sentimentSvc.SymbolScores()
		if err != nil {
			s.log.Warn().Err(err).Msg("Sentiment scores unavailable, skipping tilt")
		} else {
			sentimentScores = scores
		}
	}

	mu, err := s.returns.Estimate(model.Symbols, sentimentScores, regimeScore)
	if err != nil {
		return nil, err
	}

	rf := req.RiskFreeRate
	if rf == 0 {
		rf = DefaultRiskFreeRate
	}

	if len(model.Symbols) == 1 {
		symbol := model.Symbols[0]
		vol := math.Sqrt(math.Max(model.Covariance[0][0], 0))
		er := mu[symbol]

		s.log.Info().
			Str("symbol", symbol).
			Str("strategy", req.Strategy).
			Msg("Single candidate, assigning full weight")

		return &Solution{
			Weights:        map[string]float64{symbol: 1.0},
			ExpectedReturn: er,
			Volatility:     vol,
			Sharpe:         sharpeRatio(er, vol, rf),
			Strategy:       req.Strategy,
			BoundsUsed:     1.0,
			Diagnostics:    diagnostics,
		}, nil
	}

	var sectors map[string]string
	if len(req.SectorCaps) > 0 {
		sectors, err = s.sectorMap()
		if err != nil {
			return nil, err
		}
	}

	floor := req.MinWeight
	if floor <= 0 {
		floor = WeightFloor
	}

	var best *Solution
	var lastErr error
	attempts := make([]AttemptResult, 0, len(ladder))

	for _, bound := range ladder {
		attempt := AttemptResult{MaxWeight: bound}

		weights, err := s.solver.Solve(
			model.Symbols, mu, model.Covariance,
			bound, req.SectorCaps, sectors,
			req.Strategy, req.TargetReturn, req.TargetVolatility, rf,
		)
		if err == nil {
			weights, err = floorWeights(weights, floor, bound)
		}
		if err != nil {
			attempt.Error = err.Error()
			attempts = append(attempts, attempt)
			lastErr = err
			continue
		}

		er, vol := portfolioStats(weights, mu, model)
		sharpe := sharpeRatio(er, vol, rf)

		attempt.Converged = true
		attempt.Sharpe = sharpe
		attempt.ExpectedReturn = er
		attempt.Volatility = vol
		attempt.Positions = len(weights)
		attempts = append(attempts, attempt)

		if best == nil || sharpe > best.Sharpe {
			best = &Solution{
				Weights:        weights,
				ExpectedReturn: er,
				Volatility:     vol,
				Sharpe:         sharpe,
				Strategy:       req.Strategy,
				BoundsUsed:     bound,
			}
		}
	}

	if best == nil {
		return nil, fmt.Errorf("optimization failed for all weight bounds: %w", lastErr)
	}

	best.Attempts = attempts
	best.Diagnostics = diagnostics

	s.log.Info().
		Str("strategy", best.Strategy).
		Float64("bound", best.BoundsUsed).
		Float64("sharpe", best.Sharpe).
		Float64("expected_return", best.ExpectedReturn).
		Float64("volatility", best.Volatility).
		Int("positions", len(best.Weights)).
		Str("regime", diagnostics.Regime).
		Msg("Optimization completed")

	return best, nil
}

func (s *Service) sectorMap() (map[string]string, error) {
	securities, err := s.securityRepo.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load securities for sector caps: %w", err)
	}
	sectors := make(map[string]string, len(securities))
	for _, sec := range securities {
		sectors[sec.Symbol] = sec.Sector
	}
	return sectors, nil
}

// floorWeights zeroes dust positions below the floor and renormalizes the
// survivors under the same cap.
func floorWeights(weights map[string]float64, floor, maxWeight float64) (map[string]float64, error) {
	kept := make([]string, 0, len(weights))
	for symbol, w := range weights {
		if w >= floor {
			kept = append(kept, symbol)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no positions above the %.3f weight floor", floor)
	}
	sort.Strings(kept)

	vals := make([]float64, len(kept))
	for i, symbol := range kept {
		vals[i] = weights[symbol]
	}
	if err := normalizeWithCap(vals, maxWeight); err != nil {
		return nil, err
	}

	out := make(map[string]float64, len(kept))
	for i, symbol := range kept {
		out[symbol] = vals[i]
	}
	return out, nil
}

// portfolioStats computes the annualized expected return and volatility of a
// weight map against the risk model.
func portfolioStats(weights map[string]float64, mu map[string]float64, model *RiskModel) (float64, float64) {
	idx := make(map[string]int, len(model.Symbols))
	for i, symbol := range model.Symbols {
		idx[symbol] = i
	}

	expectedReturn := 0.0
	for symbol, w := range weights {
		expectedReturn += w * mu[symbol]
	}

	variance := 0.0
	for a, wa := range weights {
		ia, ok := idx[a]
		if !ok {
			continue
		}
		for b, wb := range weights {
			ib, ok := idx[b]
			if !ok {
				continue
			}
			variance += wa * wb * model.Covariance[ia][ib]
		}
	}

	return expectedReturn, math.Sqrt(math.Max(variance, 0))
}

func sharpeRatio(expectedReturn, volatility, riskFreeRate float64) float64 {
	if volatility <= 0 {
		return 0
	}
	return (expectedReturn - riskFreeRate) / volatility
}
