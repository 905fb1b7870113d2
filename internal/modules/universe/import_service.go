package universe

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aristath/steward/internal/events"
	"github.com/rs/zerolog"
)

// UniverseBatch is the JSON payload accepted by the universe import.
// Any of the three sections may be empty.
type UniverseBatch struct {
	Securities   []Security        `json:"securities"`
	Fundamentals []Fundamentals    `json:"fundamentals"`
	Sentiment    []SentimentRecord `json:"sentiment"`
}

// ImportResult reports how many rows each section contributed.
type ImportResult struct {
	Securities   int `json:"securities"`
	Fundamentals int `json:"fundamentals"`
	Sentiment    int `json:"sentiment"`
}

// PriceImport is the JSON payload accepted by the price import.
type PriceImport struct {
	Symbol string       `json:"symbol"`
	Prices []DailyPrice `json:"prices"`
}

// ImportService ingests vendor-prepared universe and price batches.
// There is no live market connection; files and API uploads are the
// only way data enters the system.
type ImportService struct {
	securityRepo     *SecurityRepository
	fundamentalsRepo *FundamentalsRepository
	sentimentRepo    *SentimentRepository
	historyDB        *HistoryDB
	priceValidator   *PriceValidator
	events           *events.Manager
	log              zerolog.Logger
}

// NewImportService creates a new import service
func NewImportService(
	securityRepo *SecurityRepository,
	fundamentalsRepo *FundamentalsRepository,
	sentimentRepo *SentimentRepository,
	historyDB *HistoryDB,
	priceValidator *PriceValidator,
	eventManager *events.Manager,
	log zerolog.Logger,
) *ImportService {
	return &ImportService{
		securityRepo:     securityRepo,
		fundamentalsRepo: fundamentalsRepo,
		sentimentRepo:    sentimentRepo,
		historyDB:        historyDB,
		priceValidator:   priceValidator,
		events:           eventManager,
		log:              log.With().Str("service", "universe_import").Logger(),
	}
}

// ImportUniverse upserts a batch of securities, fundamentals and sentiment
// records, stamping each imported security as synced now.
func (s *ImportService) ImportUniverse(batch *UniverseBatch) (*ImportResult, error) {
	if batch == nil {
		return nil, fmt.Errorf("batch cannot be nil")
	}
	if len(batch.Securities) == 0 && len(batch.Fundamentals) == 0 && len(batch.Sentiment) == 0 {
		return nil, fmt.Errorf("batch is empty")
	}

	now := time.Now().Unix()
	today := time.Now().UTC().Format("2006-01-02")

	for i := range batch.Securities {
		sec := &batch.Securities[i]
		sec.LastSynced = &now
		if err := s.securityRepo.Upsert(sec); err != nil {
			return nil, fmt.Errorf("security %d: %w", i, err)
		}
	}

	for i := range batch.Fundamentals {
		if strings.TrimSpace(batch.Fundamentals[i].AsOf) == "" {
			batch.Fundamentals[i].AsOf = today
		}
	}
	if err := s.fundamentalsRepo.UpsertBatch(batch.Fundamentals); err != nil {
		return nil, fmt.Errorf("fundamentals: %w", err)
	}

	for i := range batch.Sentiment {
		if strings.TrimSpace(batch.Sentiment[i].AsOf) == "" {
			batch.Sentiment[i].AsOf = today
		}
	}
	if err := s.sentimentRepo.UpsertBatch(batch.Sentiment); err != nil {
		return nil, fmt.Errorf("sentiment: %w", err)
	}

	result := &ImportResult{
		Securities:   len(batch.Securities),
		Fundamentals: len(batch.Fundamentals),
		Sentiment:    len(batch.Sentiment),
	}

	s.log.Info().
		Int("securities", result.Securities).
		Int("fundamentals", result.Fundamentals).
		Int("sentiment", result.Sentiment).
		Msg("Universe batch imported")

	if s.events != nil {
		s.events.EmitTyped(events.UniverseImported, "universe", &events.UniverseImportedData{
			Securities:   result.Securities,
			Fundamentals: result.Fundamentals,
			Sentiment:    result.Sentiment,
		})
	}

	return result, nil
}

// ImportPrices validates and stores a daily price batch for one symbol.
// The symbol must already exist in the universe. Returns the number of
// bars stored after repair.
func (s *ImportService) ImportPrices(payload *PriceImport) (int, error) {
	if payload == nil {
		return 0, fmt.Errorf("payload cannot be nil")
	}

	symbol := strings.ToUpper(strings.TrimSpace(payload.Symbol))
	if symbol == "" {
		return 0, fmt.Errorf("symbol cannot be empty")
	}
	if len(payload.Prices) == 0 {
		return 0, fmt.Errorf("prices cannot be empty")
	}

	security, err := s.securityRepo.GetBySymbol(symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to look up security: %w", err)
	}
	if security == nil {
		return 0, fmt.Errorf("security not found: %s", symbol)
	}

	prices := make([]DailyPrice, len(payload.Prices))
	copy(prices, payload.Prices)
	sort.Slice(prices, func(i, j int) bool { return prices[i].Date < prices[j].Date })

	cleaned, repairs := s.priceValidator.CleanSeries(prices)
	if len(repairs) > 0 {
		s.log.Warn().
			Str("symbol", symbol).
			Int("repaired", len(repairs)).
			Msg("Repaired abnormal prices in import batch")
	}

	if err := s.historyDB.ImportDailyPrices(symbol, cleaned); err != nil {
		return 0, fmt.Errorf("failed to store prices: %w", err)
	}

	now := time.Now().Unix()
	if err := s.securityRepo.Update(symbol, map[string]interface{}{"last_synced": now}); err != nil {
		s.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to stamp last_synced")
	}

	if s.events != nil {
		s.events.EmitTyped(events.PricesImported, "universe", &events.PricesImportedData{
			Symbol: symbol,
			Days:   len(cleaned),
		})
	}

	return len(cleaned), nil
}

// SeedIfEmpty loads a universe batch from a JSON file when the securities
// table is empty. Missing files are skipped so fresh installs still boot.
func (s *ImportService) SeedIfEmpty(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	count, err := s.securityRepo.Count(false)
	if err != nil {
		return fmt.Errorf("failed to count securities: %w", err)
	}
	if count > 0 {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Info().Str("path", path).Msg("No seed file found, starting with empty universe")
			return nil
		}
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var batch UniverseBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	result, err := s.ImportUniverse(&batch)
	if err != nil {
		return fmt.Errorf("failed to import seed: %w", err)
	}

	s.log.Info().
		Str("path", path).
		Int("securities", result.Securities).
		Msg("Seeded universe from file")

	return nil
}
