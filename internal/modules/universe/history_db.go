package universe

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
)

// historySchema is applied on open. history.db stays on the mattn driver
// with its own flat schema so bulk price imports never contend with the
// core databases.
const historySchema = `
CREATE TABLE IF NOT EXISTS daily_prices (
    symbol TEXT NOT NULL,
    date TEXT NOT NULL,
    open REAL,
    high REAL,
    low REAL,
    close REAL NOT NULL,
    adjusted_close REAL,
    volume INTEGER,
    PRIMARY KEY (symbol, date)
);

CREATE INDEX IF NOT EXISTS idx_daily_prices_date ON daily_prices(date);

CREATE TABLE IF NOT EXISTS monthly_prices (
    symbol TEXT NOT NULL,
    year_month TEXT NOT NULL,
    avg_close REAL,
    avg_adj_close REAL,
    source TEXT DEFAULT 'calculated',
    created_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (symbol, year_month)
);
`

// OpenHistoryDB opens (creating if needed) the price history database.
// The caller owns the returned handle and closes it on shutdown.
func OpenHistoryDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping history database: %w", err)
	}

	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	return db, nil
}

// HistoryDB provides access to historical price data
type HistoryDB struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewHistoryDB creates a new history database accessor
func NewHistoryDB(db *sql.DB, log zerolog.Logger) *HistoryDB {
	return &HistoryDB{
		db:  db,
		log: log.With().Str("component", "history_db").Logger(),
	}
}

// GetDailyPrices fetches up to limit daily prices for a symbol,
// most recent first.
func (h *HistoryDB) GetDailyPrices(symbol string, limit int) ([]DailyPrice, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	query := `
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE symbol = ?
		ORDER BY date DESC
		LIMIT ?
	`

	rows, err := h.db.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	return scanDailyPrices(rows)
}

// GetRecentPrices fetches daily prices from the last N calendar days,
// most recent first.
func (h *HistoryDB) GetRecentPrices(symbol string, days int) ([]DailyPrice, error) {
	if days <= 0 {
		return []DailyPrice{}, nil
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	cutoff := time.Now().AddDate(0, 0, -days).Format("2006-01-02")

	query := `
		SELECT date, open, high, low, close, volume
		FROM daily_prices
		WHERE symbol = ? AND date >= ?
		ORDER BY date DESC
	`

	rows, err := h.db.Query(query, symbol, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent prices: %w", err)
	}
	defer rows.Close()

	return scanDailyPrices(rows)
}

// GetCloseSeries returns up to limit adjusted closes in ascending date
// order, the shape indicator math consumes.
func (h *HistoryDB) GetCloseSeries(symbol string, limit int) ([]float64, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	query := `
		SELECT close FROM (
			SELECT date, COALESCE(adjusted_close, close) AS close
			FROM daily_prices
			WHERE symbol = ?
			ORDER BY date DESC
			LIMIT ?
		)
		ORDER BY date ASC
	`

	rows, err := h.db.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query close series: %w", err)
	}
	defer rows.Close()

	var closes []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan close: %w", err)
		}
		closes = append(closes, c)
	}

	return closes, rows.Err()
}

// GetMonthlyPrices fetches up to limit monthly averages for a symbol,
// most recent first.
func (h *HistoryDB) GetMonthlyPrices(symbol string, limit int) ([]MonthlyPrice, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	query := `
		SELECT year_month, avg_adj_close
		FROM monthly_prices
		WHERE symbol = ?
		ORDER BY year_month DESC
		LIMIT ?
	`

	rows, err := h.db.Query(query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly prices: %w", err)
	}
	defer rows.Close()

	var prices []MonthlyPrice
	for rows.Next() {
		var p MonthlyPrice
		if err := rows.Scan(&p.YearMonth, &p.AvgAdjClose); err != nil {
			return nil, fmt.Errorf("failed to scan monthly price: %w", err)
		}
		prices = append(prices, p)
	}

	return prices, rows.Err()
}

// HasHistory reports whether any daily prices exist for a symbol.
func (h *HistoryDB) HasHistory(symbol string) (bool, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var count int
	err := h.db.QueryRow("SELECT COUNT(*) FROM daily_prices WHERE symbol = ?", symbol).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check history: %w", err)
	}

	return count > 0, nil
}

// CountDays returns the number of daily price rows stored for a symbol.
func (h *HistoryDB) CountDays(symbol string) (int, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var count int
	err := h.db.QueryRow("SELECT COUNT(*) FROM daily_prices WHERE symbol = ?", symbol).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history days: %w", err)
	}

	return count, nil
}

// ImportDailyPrices writes daily prices and re-aggregates the symbol's
// monthly averages in a single transaction.
func (h *HistoryDB) ImportDailyPrices(symbol string, prices []DailyPrice) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(prices) == 0 {
		return nil
	}

	tx, err := h.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO daily_prices
		(symbol, date, open, high, low, close, volume, adjusted_close)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, price := range prices {
		if _, err := time.Parse("2006-01-02", price.Date); err != nil {
			return fmt.Errorf("invalid price date %q: %w", price.Date, err)
		}

		volume := sql.NullInt64{}
		if price.Volume != nil {
			volume.Int64 = *price.Volume
			volume.Valid = true
		}

		// Close doubles as adjusted_close until a vendor supplies one.
		_, err = stmt.Exec(
			symbol,
			price.Date,
			price.Open,
			price.High,
			price.Low,
			price.Close,
			volume,
			price.Close,
		)
		if err != nil {
			return fmt.Errorf("failed to insert daily price for %s: %w", price.Date, err)
		}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO monthly_prices
		(symbol, year_month, avg_close, avg_adj_close, source, created_at)
		SELECT
			? as symbol,
			strftime('%Y-%m', date) as year_month,
			AVG(close) as avg_close,
			AVG(adjusted_close) as avg_adj_close,
			'calculated',
			datetime('now')
		FROM daily_prices
		WHERE symbol = ?
		GROUP BY strftime('%Y-%m', date)
	`, symbol, symbol)
	if err != nil {
		return fmt.Errorf("failed to aggregate monthly prices: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	h.log.Info().
		Str("symbol", symbol).
		Int("count", len(prices)).
		Msg("Imported daily prices")

	return nil
}

func scanDailyPrices(rows *sql.Rows) ([]DailyPrice, error) {
	var prices []DailyPrice
	for rows.Next() {
		var p DailyPrice
		var open, high, low sql.NullFloat64
		var volume sql.NullInt64

		if err := rows.Scan(&p.Date, &open, &high, &low, &p.Close, &volume); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}

		if open.Valid {
			p.Open = open.Float64
		}
		if high.Valid {
			p.High = high.Float64
		}
		if low.Valid {
			p.Low = low.Float64
		}
		if volume.Valid {
			p.Volume = &volume.Int64
		}

		prices = append(prices, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return prices, nil
}
