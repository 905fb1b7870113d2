package ranking

import (
	"fmt"
	"sort"
	"time"

	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/screening"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/pkg/formulas"
	"github.com/rs/zerolog"
)

// RankedSecurity is one row of a ranking run: per-pillar scores, the
// weighted composite, and the dense rank. Components keeps the raw
// sub-scores behind each pillar for explainability.
type RankedSecurity struct {
	Symbol     string                        `json:"symbol"`
	Pillars    map[string]float64            `json:"pillars"`
	Composite  float64                       `json:"composite"`
	Rank       int                           `json:"rank"`
	Components map[string]map[string]float64 `json:"components,omitempty"`
}

// Engine scores screened candidates and persists the ranked result.
type Engine struct {
	scoreRepo   *universe.ScoreRepository
	events      *events.Manager
	log         zerolog.Logger
	marketAvgPE float64
}

// NewEngine creates a ranking engine.
func NewEngine(scoreRepo *universe.ScoreRepository, evts *events.Manager, log zerolog.Logger) *Engine {
	return &Engine{
		scoreRepo:   scoreRepo,
		events:      evts,
		log:         log.With().Str("service", "ranking").Logger(),
		marketAvgPE: DefaultMarketAvgPE,
	}
}

// SetMarketAvgPE overrides the market PE anchor used by the value pillar.
// Non-positive values are ignored.
func (e *Engine) SetMarketAvgPE(pe float64) {
	if pe > 0 {
		e.marketAvgPE = pe
	}
}

// Rank scores every candidate on the five pillars, orders them by the
// regime-tilted weighted composite, persists the scores and emits a
// ScoresUpdated event. Ordering is composite descending with symbol as
// the tiebreak, ranks run 1..N.
func (e *Engine) Rank(candidates []screening.Candidate, weights Weights, regime sentiment.MarketRegime) ([]RankedSecurity, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}

	tilted := weights.ForRegime(regime)

	ranked := make([]RankedSecurity, 0, len(candidates))
	for i := range candidates {
		ranked = append(ranked, e.scoreCandidate(&candidates[i], tilted))
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Composite != ranked[j].Composite {
			return ranked[i].Composite > ranked[j].Composite
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	if len(ranked) == 0 {
		e.log.Info().Msg("No candidates to rank")
		return ranked, nil
	}

	if err := e.persist(ranked); err != nil {
		return nil, fmt.Errorf("failed to persist ranking: %w", err)
	}

	e.events.EmitTyped(events.ScoresUpdated, "ranking", &events.ScoresUpdatedData{
		Count:      len(ranked),
		Regime:     string(regime),
		ComputedAt: time.Now().UTC().Format(time.RFC3339),
	})

	e.log.Info().
		Int("count", len(ranked)).
		Str("regime", string(regime)).
		Str("top", ranked[0].Symbol).
		Msg("Ranked candidates")

	return ranked, nil
}

func (e *Engine) scoreCandidate(c *screening.Candidate, w Weights) RankedSecurity {
	v := &c.Features

	value := scoreValue(v, e.marketAvgPE)
	quality := scoreQuality(v)
	momentum := scoreMomentum(v)
	sent := scoreSentiment(v)
	stability := scoreStability(v)

	composite := value.Score*w.Value +
		quality.Score*w.Quality +
		momentum.Score*w.Momentum +
		sent.Score*w.Sentiment +
		stability.Score*w.Stability

	return RankedSecurity{
		Symbol:    c.Symbol,
		Composite: formulas.Round3(formulas.Clamp(composite, 0, 1)),
		Pillars: map[string]float64{
			PillarValue:     value.Score,
			PillarQuality:   quality.Score,
			PillarMomentum:  momentum.Score,
			PillarSentiment: sent.Score,
			PillarStability: stability.Score,
		},
		Components: map[string]map[string]float64{
			PillarValue:     value.Components,
			PillarQuality:   quality.Components,
			PillarMomentum:  momentum.Components,
			PillarSentiment: sent.Components,
			PillarStability: stability.Components,
		},
	}
}

func (e *Engine) persist(ranked []RankedSecurity) error {
	scores := make([]universe.SecurityScore, 0, len(ranked))
	for i := range ranked {
		r := &ranked[i]
		scores = append(scores, universe.SecurityScore{
			Symbol:         r.Symbol,
			ValueScore:     r.Pillars[PillarValue],
			QualityScore:   r.Pillars[PillarQuality],
			MomentumScore:  r.Pillars[PillarMomentum],
			SentimentScore: r.Pillars[PillarSentiment],
			StabilityScore: r.Pillars[PillarStability],
			Composite:      r.Composite,
			Rank:           r.Rank,
			Components:     flattenComponents(r.Components),
		})
	}

	return e.scoreRepo.SaveScores(scores)
}

// flattenComponents collapses nested pillar sub-scores to dotted keys for
// the single components column on security_scores.
func flattenComponents(components map[string]map[string]float64) map[string]float64 {
	flat := make(map[string]float64)
	for pillar, subs := range components {
		for name, score := range subs {
			flat[pillar+"."+name] = score
		}
	}
	return flat
}
