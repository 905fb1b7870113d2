package universe

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

const sentimentColumns = `symbol, as_of, analyst_rating, analyst_count, news_score`

// SentimentRepository handles database operations for sentiment records
type SentimentRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSentimentRepository creates a new sentiment repository
func NewSentimentRepository(universeDB *sql.DB, log zerolog.Logger) *SentimentRepository {
	return &SentimentRepository{
		db:  universeDB,
		log: log.With().Str("repo", "sentiment").Logger(),
	}
}

// GetLatest retrieves the most recent sentiment record for a symbol.
// Returns (nil, nil) when no record exists.
func (r *SentimentRepository) GetLatest(symbol string) (*SentimentRecord, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM sentiment_records WHERE symbol = ? ORDER BY as_of DESC LIMIT 1", sentimentColumns)
	rows, err := r.db.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query sentiment for %s: %w", symbol, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return scanSentiment(rows)
}

// GetAllLatest returns the most recent record per symbol, keyed by symbol.
func (r *SentimentRepository) GetAllLatest() (map[string]SentimentRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sentiment_records s
		INNER JOIN (
			SELECT symbol AS latest_symbol, MAX(as_of) AS latest_as_of
			FROM sentiment_records
			GROUP BY symbol
		) latest ON s.symbol = latest.latest_symbol AND s.as_of = latest.latest_as_of`,
		prefixColumns("s", sentimentColumns))

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest sentiment: %w", err)
	}
	defer rows.Close()

	result := make(map[string]SentimentRecord)
	for rows.Next() {
		rec, err := scanSentiment(rows)
		if err != nil {
			return nil, err
		}
		result[rec.Symbol] = *rec
	}

	return result, rows.Err()
}

// Upsert writes one sentiment record, replacing the row for (symbol, as_of).
func (r *SentimentRepository) Upsert(rec *SentimentRecord) error {
	if rec == nil {
		return fmt.Errorf("sentiment record cannot be nil")
	}

	return r.upsertTx(r.db.Exec, rec)
}

// UpsertBatch writes sentiment records in a single transaction.
func (r *SentimentRepository) UpsertBatch(items []SentimentRecord) error {
	if len(items) == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i := range items {
		if err := r.upsertTx(tx.Exec, &items[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sentiment batch: %w", err)
	}

	r.log.Debug().Int("count", len(items)).Msg("Upserted sentiment batch")
	return nil
}

func (r *SentimentRepository) upsertTx(exec execFunc, rec *SentimentRecord) error {
	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	if rec.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if strings.TrimSpace(rec.AsOf) == "" {
		return fmt.Errorf("as_of cannot be empty for %s", rec.Symbol)
	}
	if rec.AnalystRating != nil && (*rec.AnalystRating < 1 || *rec.AnalystRating > 5) {
		return fmt.Errorf("analyst rating out of range for %s: %f", rec.Symbol, *rec.AnalystRating)
	}
	if rec.NewsScore != nil && (*rec.NewsScore < -1 || *rec.NewsScore > 1) {
		return fmt.Errorf("news score out of range for %s: %f", rec.Symbol, *rec.NewsScore)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO sentiment_records (%s) VALUES (?, ?, ?, ?, ?)", sentimentColumns)
	_, err := exec(query,
		rec.Symbol,
		strings.TrimSpace(rec.AsOf),
		nullFloat64Ptr(rec.AnalystRating),
		nullIntPtr(rec.AnalystCount),
		nullFloat64Ptr(rec.NewsScore),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sentiment for %s: %w", rec.Symbol, err)
	}

	return nil
}

// scanSentiment scans a row in sentimentColumns order.
func scanSentiment(rows *sql.Rows) (*SentimentRecord, error) {
	var rec SentimentRecord
	var rating, news sql.NullFloat64
	var count sql.NullInt64

	if err := rows.Scan(&rec.Symbol, &rec.AsOf, &rating, &count, &news); err != nil {
		return nil, fmt.Errorf("failed to scan sentiment record: %w", err)
	}

	rec.Symbol = strings.ToUpper(strings.TrimSpace(rec.Symbol))
	rec.AnalystRating = fromNullFloat(rating)
	rec.NewsScore = fromNullFloat(news)
	if count.Valid {
		v := int(count.Int64)
		rec.AnalystCount = &v
	}

	return &rec, nil
}

// nullIntPtr converts a nil pointer to NULL
func nullIntPtr(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
