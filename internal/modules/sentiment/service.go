package sentiment

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/steward/internal/events"
	"github.com/aristath/steward/internal/modules/universe"
	"github.com/rs/zerolog"
)

// DefaultRegimeWindow is the trailing trading-day window for regime detection.
const DefaultRegimeWindow = 60

// Symbols whose last price is older than this are excluded from the proxy,
// a stale series would misalign against the rest of the universe.
const proxyStaleDays = 7

// Service exposes the market regime and per-symbol sentiment scores.
// The market proxy is an equal-weight daily mean return across active
// symbols with price history; no external index is fetched.
type Service struct {
	securityRepo  *universe.SecurityRepository
	sentimentRepo *universe.SentimentRepository
	historyDB     *universe.HistoryDB
	detector      *RegimeDetector
	events        *events.Manager
	log           zerolog.Logger

	mu         sync.Mutex
	lastRegime MarketRegime
}

// NewService creates a sentiment service.
func NewService(
	securityRepo *universe.SecurityRepository,
	sentimentRepo *universe.SentimentRepository,
	historyDB *universe.HistoryDB,
	detector *RegimeDetector,
	eventManager *events.Manager,
	log zerolog.Logger,
) *Service {
	return &Service{
		securityRepo:  securityRepo,
		sentimentRepo: sentimentRepo,
		historyDB:     historyDB,
		detector:      detector,
		events:        eventManager,
		log:           log.With().Str("service", "sentiment").Logger(),
	}
}

// CurrentRegime detects the market regime over the trailing window.
// A RegimeChanged event fires when the classification flips.
func (s *Service) CurrentRegime(window int) (Snapshot, error) {
	if window <= 0 {
		window = DefaultRegimeWindow
	}

	proxy, symbols, err := s.universeProxyReturns(window)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to build universe proxy: %w", err)
	}

	snapshot := s.detector.DetectFromReturns(proxy, window)
	snapshot.Symbols = symbols

	s.mu.Lock()
	changed := s.lastRegime != "" && s.lastRegime != snapshot.Regime
	s.lastRegime = snapshot.Regime
	s.mu.Unlock()

	if changed && s.events != nil {
		s.events.EmitTyped(events.RegimeChanged, "sentiment", &events.RegimeChangedData{
			Regime: string(snapshot.Regime),
			Score:  snapshot.Score,
		})
	}

	return snapshot, nil
}

// SymbolScores returns the blended sentiment score for every symbol with an
// imported sentiment record. Symbols without one are simply absent; callers
// treat absence as neutral.
func (s *Service) SymbolScores() (map[string]float64, error) {
	records, err := s.sentimentRepo.GetAllLatest()
	if err != nil {
		return nil, fmt.Errorf("failed to load sentiment records: %w", err)
	}

	scores := make(map[string]float64, len(records))
	for symbol, rec := range records {
		scores[symbol] = Blend(rec.AnalystRating, rec.AnalystCount, rec.NewsScore)
	}

	return scores, nil
}

// universeProxyReturns builds the equal-weight daily return series.
// Series are aligned by trading-day offset from each symbol's latest bar,
// which holds up because the whole universe imports from the same vendor
// batches. Stale and short series are dropped, not interpolated.
func (s *Service) universeProxyReturns(window int) ([]float64, int, error) {
	securities, err := s.securityRepo.GetAllActive()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load active securities: %w", err)
	}

	type series struct {
		latest  string
		returns []float64
	}

	var all []series
	maxLatest := ""

	for _, sec := range securities {
		prices, err := s.historyDB.GetDailyPrices(sec.Symbol, window+1)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Failed to load prices for proxy, skipping")
			continue
		}
		if len(prices) < window+1 {
			continue
		}

		// GetDailyPrices returns newest first
		closes := make([]float64, len(prices))
		for i, p := range prices {
			closes[len(prices)-1-i] = p.Close
		}

		returns := make([]float64, 0, window)
		for i := 1; i < len(closes); i++ {
			if closes[i-1] != 0 {
				returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
			}
		}
		if len(returns) < window {
			continue
		}

		latest := prices[0].Date
		if latest > maxLatest {
			maxLatest = latest
		}
		all = append(all, series{latest: latest, returns: returns[len(returns)-window:]})
	}

	if len(all) == 0 {
		return nil, 0, nil
	}

	cutoff := staleCutoff(maxLatest, proxyStaleDays)
	proxy := make([]float64, window)
	used := 0

	for _, sr := range all {
		if sr.latest < cutoff {
			continue
		}
		for i, r := range sr.returns {
			proxy[i] += r
		}
		used++
	}

	if used == 0 {
		return nil, 0, nil
	}
	for i := range proxy {
		proxy[i] /= float64(used)
	}

	s.log.Debug().
		Int("symbols", used).
		Int("window", window).
		Msg("Built universe proxy returns")

	return proxy, used, nil
}

// staleCutoff returns the earliest acceptable latest-bar date.
func staleCutoff(maxLatest string, days int) string {
	t, err := time.Parse("2006-01-02", maxLatest)
	if err != nil {
		return ""
	}
	return t.AddDate(0, 0, -days).Format("2006-01-02")
}
