package optimization

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/pkg/formulas"
)

const (
	// Expected returns are clamped to this annualized range.
	ExpectedReturnMin = -0.10
	ExpectedReturnMax = 0.30

	// Blend weights between historical CAGR and the score-implied target.
	CAGRWeight  = 0.70
	ScoreWeight = 0.30

	// DefaultTargetReturn is the score-implied annual target for a neutral
	// composite of 0.5. Settings can override it.
	DefaultTargetReturn = 0.11

	// SentimentTiltMax bounds the per-symbol sentiment adjustment.
	SentimentTiltMax = 0.15

	// BearReductionMax is the largest whole-vector haircut in a deep bear
	// regime.
	BearReductionMax = 0.25

	// CAGRLookbackDays covers roughly five years of trading days.
	CAGRLookbackDays = 1260
)

// ReturnsEstimator produces annualized expected returns for the optimizer.
// Each estimate blends the symbol's historical CAGR with a score-implied
// target, then applies sentiment and regime adjustments.
type ReturnsEstimator struct {
	historyDB    *universe.HistoryDB
	scoreRepo    *universe.ScoreRepository
	log          zerolog.Logger
	targetReturn float64
}

// NewReturnsEstimator creates a returns estimator.
func NewReturnsEstimator(historyDB *universe.HistoryDB, scoreRepo *universe.ScoreRepository, log zerolog.Logger) *ReturnsEstimator {
	return &ReturnsEstimator{
		historyDB:    historyDB,
		scoreRepo:    scoreRepo,
		log:          log.With().Str("component", "returns").Logger(),
		targetReturn: DefaultTargetReturn,
	}
}

// SetTargetReturn overrides the score-implied target. Non-positive values
// are ignored.
func (e *ReturnsEstimator) SetTargetReturn(target float64) {
	if target > 0 {
		e.targetReturn = target
	}
}

// Estimate computes expected returns for every symbol. sentimentScores maps
// symbols to blended sentiment in [0, 1]; nil disables the tilt and absent
// symbols are treated as neutral. regimeScore runs from -1 (deep bear) to
// +1 (strong bull); negative values haircut the whole vector.
func (e *ReturnsEstimator) Estimate(symbols []string, sentimentScores map[string]float64, regimeScore float64) (map[string]float64, error) {
	composites, err := e.loadComposites()
	if err != nil {
		return nil, err
	}

	regime := formulas.Clamp(regimeScore, -1, 1)
	reduction := 1.0
	if regime < 0 {
		reduction = 1.0 - BearReductionMax*math.Abs(regime)
	}

	estimates := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		base := e.baseReturn(symbol, composites)

		if sentimentScores != nil {
			score, ok := sentimentScores[symbol]
			if !ok {
				score = 0.5
			}
			tilt := 1.0 + (formulas.Clamp(score, 0, 1)-0.5)/0.5*SentimentTiltMax
			base *= tilt
		}

		base *= reduction
		estimates[symbol] = formulas.Clamp(base, ExpectedReturnMin, ExpectedReturnMax)
	}

	e.log.Debug().
		Int("symbols", len(estimates)).
		Float64("regime_score", regime).
		Float64("regime_reduction", reduction).
		Bool("sentiment_tilt", sentimentScores != nil).
		Msg("Estimated expected returns")

	return estimates, nil
}

// baseReturn blends historical CAGR with the score-implied target. A symbol
// without a year of history falls back to the score-implied estimate alone,
// an unscored symbol counts as neutral.
func (e *ReturnsEstimator) baseReturn(symbol string, composites map[string]float64) float64 {
	composite, ok := composites[symbol]
	if !ok {
		composite = 0.5
	}

	// Composite 0.5 is neutral: the factor doubles the target contribution
	// at 1.0 and removes it at 0.
	factor := 0.0
	if composite > 0 {
		factor = composite / 0.5
	}
	scoreImplied := e.targetReturn * factor

	cagr := e.historicalCAGR(symbol)
	if cagr == nil {
		e.log.Debug().Str("symbol", symbol).Msg("No CAGR available, using score-implied estimate")
		return scoreImplied
	}

	return *cagr*CAGRWeight + scoreImplied*ScoreWeight
}

func (e *ReturnsEstimator) historicalCAGR(symbol string) *float64 {
	closes, err := e.historyDB.GetCloseSeries(symbol, CAGRLookbackDays)
	if err != nil {
		e.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to load closes for CAGR")
		return nil
	}
	return formulas.CalculateCAGRFromDailyPrices(closes)
}

func (e *ReturnsEstimator) loadComposites() (map[string]float64, error) {
	scores, err := e.scoreRepo.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load security scores: %w", err)
	}

	composites := make(map[string]float64, len(scores))
	for _, s := range scores {
		composites[s.Symbol] = s.Composite
	}
	return composites, nil
}
