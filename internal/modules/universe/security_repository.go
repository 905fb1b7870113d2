package universe

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// securitiesColumns is the canonical column list for securities queries.
// Keep in sync with scanSecurity.
const securitiesColumns = `symbol, name, sector, industry, exchange, currency, isin, active, min_lot, tags, last_synced`

// SecurityRepository handles database operations for securities
type SecurityRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSecurityRepository creates a new security repository
func NewSecurityRepository(universeDB *sql.DB, log zerolog.Logger) *SecurityRepository {
	return &SecurityRepository{
		db:  universeDB,
		log: log.With().Str("repo", "security").Logger(),
	}
}

// GetBySymbol retrieves a security by its symbol.
// Returns (nil, nil) when the symbol is unknown.
func (r *SecurityRepository) GetBySymbol(symbol string) (*Security, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM securities WHERE symbol = ?", securitiesColumns)
	rows, err := r.db.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query security %s: %w", symbol, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanSecurity(rows)
}

// GetAll retrieves every security, active or not, ordered by symbol.
func (r *SecurityRepository) GetAll() ([]Security, error) {
	query := fmt.Sprintf("SELECT %s FROM securities ORDER BY symbol", securitiesColumns)
	return r.querySecurities(query)
}

// GetAllActive retrieves all active securities ordered by symbol.
func (r *SecurityRepository) GetAllActive() ([]Security, error) {
	query := fmt.Sprintf("SELECT %s FROM securities WHERE active = 1 ORDER BY symbol", securitiesColumns)
	return r.querySecurities(query)
}

// GetBySector retrieves all active securities in a sector.
func (r *SecurityRepository) GetBySector(sector string) ([]Security, error) {
	sector = strings.TrimSpace(sector)
	if sector == "" {
		return nil, fmt.Errorf("sector cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM securities WHERE active = 1 AND sector = ? ORDER BY symbol", securitiesColumns)
	return r.querySecurities(query, sector)
}

// DistinctSectors lists the sectors present among active securities.
func (r *SecurityRepository) DistinctSectors() ([]string, error) {
	rows, err := r.db.Query("SELECT DISTINCT sector FROM securities WHERE active = 1 AND sector IS NOT NULL AND sector != '' ORDER BY sector")
	if err != nil {
		return nil, fmt.Errorf("failed to query sectors: %w", err)
	}
	defer rows.Close()

	var sectors []string
	for rows.Next() {
		var sector string
		if err := rows.Scan(&sector); err != nil {
			return nil, fmt.Errorf("failed to scan sector: %w", err)
		}
		sectors = append(sectors, sector)
	}

	return sectors, rows.Err()
}

// Count returns the number of securities, optionally restricted to active ones.
func (r *SecurityRepository) Count(activeOnly bool) (int, error) {
	query := "SELECT COUNT(*) FROM securities"
	if activeOnly {
		query += " WHERE active = 1"
	}

	var count int
	if err := r.db.QueryRow(query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count securities: %w", err)
	}

	return count, nil
}

// Upsert inserts a security or updates its mutable columns on conflict.
// created_at is preserved across updates.
func (r *SecurityRepository) Upsert(sec *Security) error {
	if sec == nil {
		return fmt.Errorf("security cannot be nil")
	}

	sec.Symbol = strings.ToUpper(strings.TrimSpace(sec.Symbol))
	if sec.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if strings.TrimSpace(sec.Name) == "" {
		return fmt.Errorf("name cannot be empty for %s", sec.Symbol)
	}

	currency := strings.ToUpper(strings.TrimSpace(sec.Currency))
	if currency == "" {
		currency = "USD"
	}
	minLot := sec.MinLot
	if minLot <= 0 {
		minLot = 1
	}

	tagsJSON, err := encodeTags(sec.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for %s: %w", sec.Symbol, err)
	}

	query := `
		INSERT INTO securities (symbol, name, sector, industry, exchange, currency, isin, active, min_lot, tags, last_synced, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			sector = excluded.sector,
			industry = excluded.industry,
			exchange = excluded.exchange,
			currency = excluded.currency,
			isin = excluded.isin,
			active = excluded.active,
			min_lot = excluded.min_lot,
			tags = excluded.tags,
			last_synced = excluded.last_synced,
			updated_at = datetime('now')`

	_, err = r.db.Exec(query,
		sec.Symbol,
		strings.TrimSpace(sec.Name),
		nullString(sec.Sector),
		nullString(sec.Industry),
		nullString(sec.Exchange),
		currency,
		nullString(strings.ToUpper(strings.TrimSpace(sec.ISIN))),
		boolToInt(sec.Active),
		minLot,
		tagsJSON,
		nullInt64Ptr(sec.LastSynced),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert security %s: %w", sec.Symbol, err)
	}

	return nil
}

// Update applies a partial update to a security.
// Column names are whitelisted to keep the dynamic SET clause safe.
func (r *SecurityRepository) Update(symbol string, updates map[string]interface{}) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if len(updates) == 0 {
		return nil
	}

	allowed := map[string]bool{
		"name":        true,
		"sector":      true,
		"industry":    true,
		"exchange":    true,
		"currency":    true,
		"isin":        true,
		"active":      true,
		"min_lot":     true,
		"tags":        true,
		"last_synced": true,
	}

	setClauses := make([]string, 0, len(updates)+1)
	args := make([]interface{}, 0, len(updates)+1)

	for col, val := range updates {
		if !allowed[col] {
			return fmt.Errorf("column not updatable: %s", col)
		}

		switch col {
		case "active":
			if b, ok := val.(bool); ok {
				val = boolToInt(b)
			}
		case "tags":
			if tags, ok := val.([]string); ok {
				encoded, err := encodeTags(tags)
				if err != nil {
					return fmt.Errorf("failed to encode tags: %w", err)
				}
				val = encoded
			}
		}

		setClauses = append(setClauses, col+" = ?")
		args = append(args, val)
	}

	setClauses = append(setClauses, "updated_at = datetime('now')")
	args = append(args, symbol)

	query := fmt.Sprintf("UPDATE securities SET %s WHERE symbol = ?", strings.Join(setClauses, ", ")) //nolint:gosec // column names whitelisted above
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update security %s: %w", symbol, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("security not found: %s", symbol)
	}

	return nil
}

// Deactivate soft-deletes a security so history and scores survive.
func (r *SecurityRepository) Deactivate(symbol string) error {
	return r.Update(symbol, map[string]interface{}{"active": false})
}

// querySecurities runs a query returning securitiesColumns and scans all rows.
func (r *SecurityRepository) querySecurities(query string, args ...interface{}) ([]Security, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query securities: %w", err)
	}
	defer rows.Close()

	var securities []Security
	for rows.Next() {
		sec, err := r.scanSecurity(rows)
		if err != nil {
			return nil, err
		}
		securities = append(securities, *sec)
	}

	return securities, rows.Err()
}

// scanSecurity scans a row in securitiesColumns order.
func (r *SecurityRepository) scanSecurity(rows *sql.Rows) (*Security, error) {
	var sec Security
	var sector, industry, exchange, currency, isin, tags sql.NullString
	var active int
	var minLot, lastSynced sql.NullInt64

	err := rows.Scan(
		&sec.Symbol,
		&sec.Name,
		&sector,
		&industry,
		&exchange,
		&currency,
		&isin,
		&active,
		&minLot,
		&tags,
		&lastSynced,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan security: %w", err)
	}

	sec.Symbol = strings.ToUpper(strings.TrimSpace(sec.Symbol))
	sec.Active = active != 0

	if sector.Valid {
		sec.Sector = sector.String
	}
	if industry.Valid {
		sec.Industry = industry.String
	}
	if exchange.Valid {
		sec.Exchange = exchange.String
	}
	if currency.Valid {
		sec.Currency = strings.ToUpper(currency.String)
	}
	if isin.Valid {
		sec.ISIN = strings.ToUpper(isin.String)
	}
	if minLot.Valid && minLot.Int64 > 0 {
		sec.MinLot = int(minLot.Int64)
	} else {
		sec.MinLot = 1
	}
	if lastSynced.Valid {
		v := lastSynced.Int64
		sec.LastSynced = &v
	}
	if tags.Valid && tags.String != "" {
		var decoded []string
		if err := json.Unmarshal([]byte(tags.String), &decoded); err != nil {
			r.log.Warn().Err(err).Str("symbol", sec.Symbol).Msg("Malformed tags JSON, ignoring")
		} else {
			sec.Tags = decoded
		}
	}

	return &sec, nil
}

// encodeTags serializes a tag list to its JSON column form.
// Empty lists are stored as NULL.
func encodeTags(tags []string) (interface{}, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			cleaned = append(cleaned, t)
		}
	}
	if len(cleaned) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return nil, err
	}

	return string(encoded), nil
}

// nullString converts empty strings to NULL
func nullString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// nullInt64Ptr converts a nil pointer to NULL
func nullInt64Ptr(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// boolToInt converts a bool to the 0/1 form SQLite stores
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
