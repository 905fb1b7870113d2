package universe

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// fundamentalsColumns is the canonical column list for fundamentals queries.
// Keep in sync with scanFundamentals.
const fundamentalsColumns = `symbol, as_of, market_cap, pe_ratio, forward_pe, pb_ratio, roe, roa, debt_to_equity, current_ratio, profit_margin, operating_margin, revenue_growth, earnings_growth, dividend_yield, free_cashflow, beta`

// FundamentalsRepository handles database operations for fundamental snapshots
type FundamentalsRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewFundamentalsRepository creates a new fundamentals repository
func NewFundamentalsRepository(universeDB *sql.DB, log zerolog.Logger) *FundamentalsRepository {
	return &FundamentalsRepository{
		db:  universeDB,
		log: log.With().Str("repo", "fundamentals").Logger(),
	}
}

// GetLatest retrieves the most recent fundamentals snapshot for a symbol.
// Returns (nil, nil) when no snapshot exists.
func (r *FundamentalsRepository) GetLatest(symbol string) (*Fundamentals, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM fundamentals WHERE symbol = ? ORDER BY as_of DESC LIMIT 1", fundamentalsColumns)
	rows, err := r.db.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query fundamentals for %s: %w", symbol, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return scanFundamentals(rows)
}

// GetAllLatest returns the most recent snapshot per symbol, keyed by symbol.
// Screening consumes this map so it pays one query instead of one per symbol.
func (r *FundamentalsRepository) GetAllLatest() (map[string]Fundamentals, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM fundamentals f
		INNER JOIN (
			SELECT symbol AS latest_symbol, MAX(as_of) AS latest_as_of
			FROM fundamentals
			GROUP BY symbol
		) latest ON f.symbol = latest.latest_symbol AND f.as_of = latest.latest_as_of`,
		prefixColumns("f", fundamentalsColumns))

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest fundamentals: %w", err)
	}
	defer rows.Close()

	result := make(map[string]Fundamentals)
	for rows.Next() {
		f, err := scanFundamentals(rows)
		if err != nil {
			return nil, err
		}
		result[f.Symbol] = *f
	}

	return result, rows.Err()
}

// Upsert writes one fundamentals snapshot, replacing the row for (symbol, as_of).
func (r *FundamentalsRepository) Upsert(f *Fundamentals) error {
	if f == nil {
		return fmt.Errorf("fundamentals cannot be nil")
	}

	return r.upsertTx(r.db.Exec, f)
}

// UpsertBatch writes snapshots in a single transaction.
func (r *FundamentalsRepository) UpsertBatch(items []Fundamentals) error {
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
		return fmt.Errorf("failed to commit fundamentals batch: %w", err)
	}

	r.log.Debug().Int("count", len(items)).Msg("Upserted fundamentals batch")
	return nil
}

type execFunc func(query string, args ...interface{}) (sql.Result, error)

func (r *FundamentalsRepository) upsertTx(exec execFunc, f *Fundamentals) error {
	f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
	if f.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if strings.TrimSpace(f.AsOf) == "" {
		return fmt.Errorf("as_of cannot be empty for %s", f.Symbol)
	}

	query := fmt.Sprintf(`INSERT OR REPLACE INTO fundamentals (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, fundamentalsColumns)
	_, err := exec(query,
		f.Symbol,
		strings.TrimSpace(f.AsOf),
		nullFloat64Ptr(f.MarketCap),
		nullFloat64Ptr(f.PERatio),
		nullFloat64Ptr(f.ForwardPE),
		nullFloat64Ptr(f.PBRatio),
		nullFloat64Ptr(f.ROE),
		nullFloat64Ptr(f.ROA),
		nullFloat64Ptr(f.DebtToEquity),
		nullFloat64Ptr(f.CurrentRatio),
		nullFloat64Ptr(f.ProfitMargin),
		nullFloat64Ptr(f.OperatingMargin),
		nullFloat64Ptr(f.RevenueGrowth),
		nullFloat64Ptr(f.EarningsGrowth),
		nullFloat64Ptr(f.DividendYield),
		nullFloat64Ptr(f.FreeCashflow),
		nullFloat64Ptr(f.Beta),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert fundamentals for %s: %w", f.Symbol, err)
	}

	return nil
}

// scanFundamentals scans a row in fundamentalsColumns order.
func scanFundamentals(rows *sql.Rows) (*Fundamentals, error) {
	var f Fundamentals
	var marketCap, peRatio, forwardPE, pbRatio, roe, roa, debtToEquity, currentRatio sql.NullFloat64
	var profitMargin, operatingMargin, revenueGrowth, earningsGrowth, dividendYield, freeCashflow, beta sql.NullFloat64

	err := rows.Scan(
		&f.Symbol,
		&f.AsOf,
		&marketCap,
		&peRatio,
		&forwardPE,
		&pbRatio,
		&roe,
		&roa,
		&debtToEquity,
		&currentRatio,
		&profitMargin,
		&operatingMargin,
		&revenueGrowth,
		&earningsGrowth,
		&dividendYield,
		&freeCashflow,
		&beta,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan fundamentals: %w", err)
	}

	f.Symbol = strings.ToUpper(strings.TrimSpace(f.Symbol))
	f.MarketCap = fromNullFloat(marketCap)
	f.PERatio = fromNullFloat(peRatio)
	f.ForwardPE = fromNullFloat(forwardPE)
	f.PBRatio = fromNullFloat(pbRatio)
	f.ROE = fromNullFloat(roe)
	f.ROA = fromNullFloat(roa)
	f.DebtToEquity = fromNullFloat(debtToEquity)
	f.CurrentRatio = fromNullFloat(currentRatio)
	f.ProfitMargin = fromNullFloat(profitMargin)
	f.OperatingMargin = fromNullFloat(operatingMargin)
	f.RevenueGrowth = fromNullFloat(revenueGrowth)
	f.EarningsGrowth = fromNullFloat(earningsGrowth)
	f.DividendYield = fromNullFloat(dividendYield)
	f.FreeCashflow = fromNullFloat(freeCashflow)
	f.Beta = fromNullFloat(beta)

	return &f, nil
}

// prefixColumns rewrites a comma-separated column list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// fromNullFloat converts a nullable column to an optional field
func fromNullFloat(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// nullFloat64Ptr converts a nil pointer to NULL
func nullFloat64Ptr(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}
