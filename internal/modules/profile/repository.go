package profile

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// profilesColumns is the canonical column list for profile queries.
// Keep in sync with scanProfile.
const profilesColumns = `id, name, age, annual_income, monthly_expenses, total_savings, total_debt, investment_horizon_years, risk_tolerance, investment_goal, excluded_sectors, created_at, updated_at`

// Repository handles database operations for profiles
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new profile repository
func NewRepository(advisoryDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  advisoryDB,
		log: log.With().Str("repo", "profile").Logger(),
	}
}

// Create inserts a profile, generating an id and timestamps.
func (r *Repository) Create(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}

	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	excludedJSON, err := encodeSectors(p.ExcludedSectors)
	if err != nil {
		return fmt.Errorf("failed to encode excluded sectors: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO profiles (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", profilesColumns)
	_, err = r.db.Exec(query,
		p.ID,
		strings.TrimSpace(p.Name),
		p.Age,
		p.AnnualIncome,
		p.MonthlyExpenses,
		p.TotalSavings,
		p.TotalDebt,
		p.InvestmentHorizonYears,
		p.RiskTolerance,
		nullableString(p.InvestmentGoal),
		excludedJSON,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}

	r.log.Info().Str("profile_id", p.ID).Str("name", p.Name).Msg("Profile created")
	return nil
}

// GetByID retrieves a profile. Returns (nil, nil) when the id is unknown.
func (r *Repository) GetByID(id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("profile id cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM profiles WHERE id = ?", profilesColumns)
	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query profile %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanProfile(rows)
}

// List retrieves all profiles, newest first.
func (r *Repository) List() ([]Profile, error) {
	query := fmt.Sprintf("SELECT %s FROM profiles ORDER BY created_at DESC", profilesColumns)
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		p, err := r.scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}

	return profiles, rows.Err()
}

// Update replaces a profile's mutable fields. The id and created_at
// never change.
func (r *Repository) Update(p *Profile) error {
	if p == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("profile id cannot be empty")
	}

	excludedJSON, err := encodeSectors(p.ExcludedSectors)
	if err != nil {
		return fmt.Errorf("failed to encode excluded sectors: %w", err)
	}

	p.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE profiles SET
			name = ?, age = ?, annual_income = ?, monthly_expenses = ?,
			total_savings = ?, total_debt = ?, investment_horizon_years = ?,
			risk_tolerance = ?, investment_goal = ?, excluded_sectors = ?,
			updated_at = ?
		WHERE id = ?`

	result, err := r.db.Exec(query,
		strings.TrimSpace(p.Name),
		p.Age,
		p.AnnualIncome,
		p.MonthlyExpenses,
		p.TotalSavings,
		p.TotalDebt,
		p.InvestmentHorizonYears,
		p.RiskTolerance,
		nullableString(p.InvestmentGoal),
		excludedJSON,
		p.UpdatedAt.Format(time.RFC3339),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile %s: %w", p.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("profile not found: %s", p.ID)
	}

	return nil
}

// Delete removes a profile. Sessions and recommendations cascade in the
// schema.
func (r *Repository) Delete(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("profile id cannot be empty")
	}

	result, err := r.db.Exec("DELETE FROM profiles WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("profile not found: %s", id)
	}

	r.log.Info().Str("profile_id", id).Msg("Profile deleted")
	return nil
}

// scanProfile scans a row in profilesColumns order.
func (r *Repository) scanProfile(rows *sql.Rows) (*Profile, error) {
	var p Profile
	var goal, excluded sql.NullString
	var createdAt, updatedAt string

	err := rows.Scan(
		&p.ID,
		&p.Name,
		&p.Age,
		&p.AnnualIncome,
		&p.MonthlyExpenses,
		&p.TotalSavings,
		&p.TotalDebt,
		&p.InvestmentHorizonYears,
		&p.RiskTolerance,
		&goal,
		&excluded,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan profile: %w", err)
	}

	if goal.Valid {
		p.InvestmentGoal = goal.String
	}
	if excluded.Valid && excluded.String != "" {
		var sectors []string
		if err := json.Unmarshal([]byte(excluded.String), &sectors); err != nil {
			r.log.Warn().Err(err).Str("profile_id", p.ID).Msg("Malformed excluded_sectors JSON, ignoring")
		} else {
			p.ExcludedSectors = sectors
		}
	}

	p.CreatedAt = parseTimestamp(createdAt)
	p.UpdatedAt = parseTimestamp(updatedAt)

	return &p, nil
}

// parseTimestamp accepts both RFC3339 (written by this code) and the
// SQLite datetime('now') form used by column defaults.
func parseTimestamp(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", raw); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func encodeSectors(sectors []string) (interface{}, error) {
	if len(sectors) == 0 {
		return nil, nil
	}

	encoded, err := json.Marshal(sectors)
	if err != nil {
		return nil, err
	}

	return string(encoded), nil
}

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
