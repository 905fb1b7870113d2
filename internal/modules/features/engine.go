package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/aristath/steward/internal/database"
	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/sentiment"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/aristath/steward/pkg/formulas"
	"github.com/rs/zerolog"
)

const (
	cacheNamespace = "features"
	cacheTTL       = 48 * time.Hour

	// closeWindow covers the 52-week range plus EMA200 warmup.
	closeWindow = 270
)

// Engine computes feature vectors from the universe stores.
// Vectors are cached per symbol and day; imports invalidate the cache.
type Engine struct {
	securityRepo     *universe.SecurityRepository
	fundamentalsRepo *universe.FundamentalsRepository
	sentimentRepo    *universe.SentimentRepository
	historyDB        *universe.HistoryDB
	cache            *database.CacheStore
	log              zerolog.Logger
}

// NewEngine creates a feature engine. The cache may be nil, computation then
// runs uncached.
func NewEngine(
	securityRepo *universe.SecurityRepository,
	fundamentalsRepo *universe.FundamentalsRepository,
	sentimentRepo *universe.SentimentRepository,
	historyDB *universe.HistoryDB,
	cache *database.CacheStore,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		securityRepo:     securityRepo,
		fundamentalsRepo: fundamentalsRepo,
		sentimentRepo:    sentimentRepo,
		historyDB:        historyDB,
		cache:            cache,
		log:              log.With().Str("service", "features").Logger(),
	}
}

// SubscribeInvalidation wires cache invalidation to import events: price
// imports drop the affected symbol, universe imports drop everything.
func (e *Engine) SubscribeInvalidation(bus *events.Bus) {
	if e.cache == nil || bus == nil {
		return
	}

	bus.Subscribe(events.PricesImported, func(ev *events.Event) {
		data, ok := ev.GetTypedData().(*events.PricesImportedData)
		if !ok || data.Symbol == "" {
			return
		}
		if _, err := e.cache.DeletePrefix(cacheNamespace, data.Symbol+":"); err != nil {
			e.log.Warn().Err(err).Str("symbol", data.Symbol).Msg("Feature cache invalidation failed")
		}
	})

	bus.Subscribe(events.UniverseImported, func(ev *events.Event) {
		if _, err := e.cache.DeleteNamespace(cacheNamespace); err != nil {
			e.log.Warn().Err(err).Msg("Feature cache invalidation failed")
		}
	})
}

// Compute builds (or loads from cache) the feature vector for one symbol.
// Missing inputs produce neutral values and quality flags, never an error;
// only an unknown symbol or a storage failure errors.
func (e *Engine) Compute(symbol string) (*FeatureVector, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	sec, err := e.securityRepo.GetBySymbol(symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load security %s: %w", symbol, err)
	}
	if sec == nil {
		return nil, fmt.Errorf("security not found: %s", symbol)
	}

	asOf := time.Now().UTC().Format("2006-01-02")
	cacheKey := symbol + ":" + asOf

	if e.cache != nil {
		var cached FeatureVector
		hit, err := e.cache.Get(cacheNamespace, cacheKey, &cached)
		if err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("Feature cache read failed")
		} else if hit {
			return &cached, nil
		}
	}

	vector, err := e.build(sec, asOf)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(cacheNamespace, cacheKey, vector, cacheTTL); err != nil {
			e.log.Warn().Err(err).Str("symbol", symbol).Msg("Feature cache write failed")
		}
	}

	return vector, nil
}

// computeWorkers bounds the pool that fans feature computation out over
// the universe. The work is mostly sqlite reads, so a handful of workers
// saturates the stores without thrashing them.
const computeWorkers = 8

type computeJob struct {
	index  int
	symbol string
}

type computeResult struct {
	index  int
	symbol string
	vector *FeatureVector
	err    error
}

// ComputeUniverse computes vectors for every active security using a small
// worker pool. Symbols that fail to compute are skipped with a warning; the
// rest come back in universe order.
func (e *Engine) ComputeUniverse(ctx context.Context, progress func(done, total int)) ([]FeatureVector, error) {
	securities, err := e.securityRepo.GetAllActive()
	if err != nil {
		return nil, fmt.Errorf("failed to load active securities: %w", err)
	}

	total := len(securities)
	jobs := make(chan computeJob, total)
	results := make(chan computeResult, total)

	workers := computeWorkers
	if total < workers {
		workers = total
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					results <- computeResult{index: job.index, symbol: job.symbol, err: ctx.Err()}
					continue
				}
				vector, err := e.Compute(job.symbol)
				results <- computeResult{index: job.index, symbol: job.symbol, vector: vector, err: err}
			}
		}()
	}

	for i, sec := range securities {
		jobs <- computeJob{index: i, symbol: sec.Symbol}
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*FeatureVector, total)
	done := 0
	skipped := 0
	for res := range results {
		done++
		if res.err != nil {
			if !errors.Is(res.err, context.Canceled) && !errors.Is(res.err, context.DeadlineExceeded) {
				e.log.Warn().Err(res.err).Str("symbol", res.symbol).Msg("Failed to compute features, skipping")
			}
			skipped++
		} else {
			ordered[res.index] = res.vector
		}
		if progress != nil && (done%10 == 0 || done == total) {
			progress(done, total)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([]FeatureVector, 0, total-skipped)
	for _, v := range ordered {
		if v != nil {
			vectors = append(vectors, *v)
		}
	}

	e.log.Info().
		Int("computed", len(vectors)).
		Int("skipped", skipped).
		Msg("Computed universe features")

	return vectors, nil
}

func (e *Engine) build(sec *universe.Security, asOf string) (*FeatureVector, error) {
	fund, err := e.fundamentalsRepo.GetLatest(sec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load fundamentals for %s: %w", sec.Symbol, err)
	}

	sent, err := e.sentimentRepo.GetLatest(sec.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to load sentiment for %s: %w", sec.Symbol, err)
	}

	closes, err := e.historyDB.GetCloseSeries(sec.Symbol, closeWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load price history for %s: %w", sec.Symbol, err)
	}

	vector := &FeatureVector{
		Symbol:      sec.Symbol,
		Sector:      sec.Sector,
		Active:      sec.Active,
		Fundamental: buildFundamental(fund),
		Technical:   buildTechnical(closes),
		Qualitative: buildQualitative(sent),
		AsOf:        asOf,
	}

	vector.DataQuality = DataQuality{
		HasPrices:       len(closes) >= MinTechnicalDays,
		HasFundamentals: fund != nil,
		HasSentiment:    sent != nil,
		PriceDays:       len(closes),
	}
	vector.DataQuality.Complete = vector.DataQuality.HasPrices &&
		vector.DataQuality.HasFundamentals &&
		vector.DataQuality.HasSentiment

	return vector, nil
}

func buildFundamental(f *universe.Fundamentals) FundamentalFeatures {
	if f == nil {
		return FundamentalFeatures{}
	}

	return FundamentalFeatures{
		PE:              sanitizePtr(f.PERatio),
		ForwardPE:       sanitizePtr(f.ForwardPE),
		PB:              sanitizePtr(f.PBRatio),
		ROE:             sanitizePtr(f.ROE),
		DebtToEquity:    sanitizePtr(f.DebtToEquity),
		ProfitMargin:    sanitizePtr(f.ProfitMargin),
		OperatingMargin: sanitizePtr(f.OperatingMargin),
		RevenueGrowth:   sanitizePtr(f.RevenueGrowth),
		EarningsGrowth:  sanitizePtr(f.EarningsGrowth),
		DividendYield:   sanitizePtr(f.DividendYield),
		MarketCap:       sanitizePtr(f.MarketCap),
		Beta:            sanitizePtr(f.Beta),
	}
}

func buildTechnical(closes []float64) TechnicalFeatures {
	tech := TechnicalFeatures{
		RSI14:            NeutralRSI,
		PricePosition52w: NeutralPricePos,
		BollingerPos:     NeutralBollingerPos,
	}

	if len(closes) < MinTechnicalDays {
		return tech
	}

	tech.Momentum3M = sanitizePtr(formulas.CalculateMomentum(closes, Momentum3MDays))
	tech.Momentum6M = sanitizePtr(formulas.CalculateMomentum(closes, Momentum6MDays))
	tech.RSI14 = boundedValue(formulas.CalculateRSI(closes, 14), NeutralRSI)
	tech.PricePosition52w = boundedValue(formulas.CalculatePricePosition52w(closes), NeutralPricePos)
	tech.BollingerPos = boundedValue(formulas.CalculateBollingerPosition(closes, 20, 2), NeutralBollingerPos)
	tech.EMA50DistPct = sanitizePtr(formulas.CalculateDistanceFromEMA(closes, 50))
	tech.EMA200DistPct = sanitizePtr(formulas.CalculateDistanceFromEMA(closes, 200))

	vol := formulas.AnnualizedVolatility(formulas.CalculateReturns(closes))
	tech.VolatilityAnnualized = sanitizePtr(&vol)

	return tech
}

func buildQualitative(rec *universe.SentimentRecord) QualitativeFeatures {
	q := QualitativeFeatures{
		AnalystScore:   NeutralSentiment,
		NewsScore:      0,
		SentimentScore: NeutralSentiment,
	}

	if rec == nil {
		return q
	}

	if rec.AnalystRating != nil {
		q.AnalystScore = sentiment.AnalystScore(*rec.AnalystRating, rec.AnalystCount)
	}
	if rec.NewsScore != nil {
		q.NewsScore = formulas.Clamp(*rec.NewsScore, -1, 1)
	}
	q.SentimentScore = sentiment.Blend(rec.AnalystRating, rec.AnalystCount, rec.NewsScore)

	return q
}

// sanitizePtr drops NaN and Inf values, absence beats garbage.
func sanitizePtr(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

// boundedValue unwraps a bounded indicator, falling back to its neutral value.
func boundedValue(v *float64, fallback float64) float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return fallback
	}
	return *v
}
