package reports

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reportsColumns is the canonical column list for report queries.
// Keep in sync with scanReport.
const reportsColumns = `id, recommendation_id, markdown, summary, created_at`

// Repository handles database operations for reports
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new report repository
func NewRepository(advisoryDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  advisoryDB,
		log: log.With().Str("repo", "reports").Logger(),
	}
}

// SaveReport persists a composed report, assigning an id when missing.
func (r *Repository) SaveReport(report *Report) error {
	if report == nil {
		return fmt.Errorf("report cannot be nil")
	}
	if strings.TrimSpace(report.Markdown) == "" {
		return fmt.Errorf("report markdown cannot be empty")
	}

	if strings.TrimSpace(report.ID) == "" {
		report.ID = uuid.New().String()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode report summary: %w", err)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO reports (%s) VALUES (?, ?, ?, ?, ?)", reportsColumns)
	_, err = r.db.Exec(query,
		report.ID,
		report.RecommendationID,
		report.Markdown,
		string(summaryJSON),
		report.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", report.ID, err)
	}

	r.log.Info().
		Str("report_id", report.ID).
		Str("recommendation_id", report.RecommendationID).
		Msg("Report saved")
	return nil
}

// GetReport retrieves a report. Returns (nil, nil) when the id is unknown.
func (r *Repository) GetReport(id string) (*Report, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("report id cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM reports WHERE id = ?", reportsColumns)
	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query report %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanReport(rows)
}

// GetByRecommendation retrieves the newest report attached to a
// recommendation. Returns (nil, nil) when none exists.
func (r *Repository) GetByRecommendation(recommendationID string) (*Report, error) {
	recommendationID = strings.TrimSpace(recommendationID)
	if recommendationID == "" {
		return nil, fmt.Errorf("recommendation id cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM reports WHERE recommendation_id = ? ORDER BY created_at DESC LIMIT 1", reportsColumns)
	rows, err := r.db.Query(query, recommendationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query report for recommendation %s: %w", recommendationID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanReport(rows)
}

// List retrieves all reports newest first. The markdown body is omitted
// to keep the listing light; fetch individual reports for the full text.
func (r *Repository) List() ([]Report, error) {
	rows, err := r.db.Query(`SELECT id, recommendation_id, summary, created_at FROM reports ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var report Report
		var summary sql.NullString
		var createdAt string

		if err := rows.Scan(&report.ID, &report.RecommendationID, &summary, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}

		r.decodeSummary(&report, summary)
		report.CreatedAt = parseTimestamp(createdAt)
		reports = append(reports, report)
	}

	return reports, rows.Err()
}

// scanReport scans a row in reportsColumns order.
func (r *Repository) scanReport(rows *sql.Rows) (*Report, error) {
	var report Report
	var summary sql.NullString
	var createdAt string

	err := rows.Scan(
		&report.ID,
		&report.RecommendationID,
		&report.Markdown,
		&summary,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan report: %w", err)
	}

	r.decodeSummary(&report, summary)
	report.CreatedAt = parseTimestamp(createdAt)

	return &report, nil
}

func (r *Repository) decodeSummary(report *Report, summary sql.NullString) {
	if !summary.Valid || summary.String == "" {
		return
	}
	if err := json.Unmarshal([]byte(summary.String), &report.Summary); err != nil {
		r.log.Warn().Err(err).Str("report_id", report.ID).Msg("Malformed report summary JSON, ignoring")
	}
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
