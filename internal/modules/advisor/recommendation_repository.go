package advisor

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/steward/internal/modules/ranking"
	"github.com/aristath/steward/internal/modules/risk"
)

// recommendationsColumns is the canonical column list for recommendation
// queries. Keep in sync with scanRecommendation.
const recommendationsColumns = `id, session_id, profile_id, assessment, candidate_count, ranked, weights, metrics, report_id, created_at`

// RecommendationRepository persists session outcomes in advisory.db.
type RecommendationRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRecommendationRepository creates a new recommendation repository
func NewRecommendationRepository(advisoryDB *sql.DB, log zerolog.Logger) *RecommendationRepository {
	return &RecommendationRepository{
		db:  advisoryDB,
		log: log.With().Str("repo", "recommendations").Logger(),
	}
}

// Save inserts or replaces a recommendation, assigning an id and
// created_at on first save.
func (r *RecommendationRepository) Save(rec *Recommendation) error {
	if rec == nil {
		return fmt.Errorf("recommendation cannot be nil")
	}
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("recommendation session id cannot be empty")
	}
	if strings.TrimSpace(rec.ProfileID) == "" {
		return fmt.Errorf("recommendation profile id cannot be empty")
	}

	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	assessmentJSON, err := json.Marshal(rec.Assessment)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}
	rankedJSON, err := encodeRanked(rec.Ranked)
	if err != nil {
		return fmt.Errorf("failed to encode ranked shortlist: %w", err)
	}
	weightsJSON, err := encodeWeights(rec.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}
	metricsJSON, err := encodeMetrics(rec.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	query := fmt.Sprintf("INSERT OR REPLACE INTO recommendations (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", recommendationsColumns)
	_, err = r.db.Exec(query,
		rec.ID,
		rec.SessionID,
		rec.ProfileID,
		string(assessmentJSON),
		rec.CandidateCount,
		rankedJSON,
		weightsJSON,
		metricsJSON,
		nullableString(rec.ReportID),
		rec.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save recommendation: %w", err)
	}

	r.log.Info().
		Str("recommendation_id", rec.ID).
		Str("session_id", rec.SessionID).
		Int("positions", len(rec.Weights)).
		Msg("Recommendation saved")
	return nil
}

// Get retrieves a recommendation. Returns (nil, nil) when the id is
// unknown.
func (r *RecommendationRepository) Get(id string) (*Recommendation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("recommendation id cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM recommendations WHERE id = ?", recommendationsColumns)
	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query recommendation %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanRecommendation(rows)
}

// Latest returns the newest recommendation for a profile, nil when none
// exists.
func (r *RecommendationRepository) Latest(profileID string) (*Recommendation, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return nil, fmt.Errorf("profile id cannot be empty")
	}

	query := fmt.Sprintf(
		"SELECT %s FROM recommendations WHERE profile_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1",
		recommendationsColumns)
	rows, err := r.db.Query(query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest recommendation for %s: %w", profileID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanRecommendation(rows)
}

// scanRecommendation scans a row in recommendationsColumns order.
func (r *RecommendationRepository) scanRecommendation(rows *sql.Rows) (*Recommendation, error) {
	var rec Recommendation
	var assessment, createdAt string
	var ranked, weights, metrics, reportID sql.NullString

	err := rows.Scan(
		&rec.ID,
		&rec.SessionID,
		&rec.ProfileID,
		&assessment,
		&rec.CandidateCount,
		&ranked,
		&weights,
		&metrics,
		&reportID,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan recommendation: %w", err)
	}

	if err := json.Unmarshal([]byte(assessment), &rec.Assessment); err != nil {
		r.log.Warn().Err(err).Str("recommendation_id", rec.ID).Msg("Malformed assessment JSON, ignoring")
	}
	if ranked.Valid && ranked.String != "" {
		if err := json.Unmarshal([]byte(ranked.String), &rec.Ranked); err != nil {
			r.log.Warn().Err(err).Str("recommendation_id", rec.ID).Msg("Malformed ranked JSON, ignoring")
		}
	}
	if weights.Valid && weights.String != "" {
		if err := json.Unmarshal([]byte(weights.String), &rec.Weights); err != nil {
			r.log.Warn().Err(err).Str("recommendation_id", rec.ID).Msg("Malformed weights JSON, ignoring")
		}
	}
	if metrics.Valid && metrics.String != "" {
		var m risk.PortfolioRiskMetrics
		if err := json.Unmarshal([]byte(metrics.String), &m); err != nil {
			r.log.Warn().Err(err).Str("recommendation_id", rec.ID).Msg("Malformed metrics JSON, ignoring")
		} else {
			rec.Metrics = &m
		}
	}
	if reportID.Valid {
		rec.ReportID = reportID.String
	}
	rec.CreatedAt = parseTimestamp(createdAt)

	return &rec, nil
}

func encodeRanked(ranked []ranking.RankedSecurity) (interface{}, error) {
	if len(ranked) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(ranked)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func encodeWeights(weights map[string]float64) (interface{}, error) {
	if len(weights) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(weights)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}

func encodeMetrics(metrics *risk.PortfolioRiskMetrics) (interface{}, error) {
	if metrics == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return nil, err
	}
	return string(encoded), nil
}
