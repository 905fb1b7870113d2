package universe

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// scoresColumns is the canonical column list for security_scores queries.
// Keep in sync with scanScore.
const scoresColumns = `symbol, value_score, quality_score, momentum_score, sentiment_score, stability_score, composite, rank, components, computed_at`

// ScoreRepository handles database operations for persisted ranking scores.
// The table holds one row per symbol, replaced wholesale on each ranking run.
type ScoreRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(universeDB *sql.DB, log zerolog.Logger) *ScoreRepository {
	return &ScoreRepository{
		db:  universeDB,
		log: log.With().Str("repo", "score").Logger(),
	}
}

// GetBySymbol retrieves the persisted score for a symbol.
// Returns (nil, nil) when the symbol has not been scored.
func (r *ScoreRepository) GetBySymbol(symbol string) (*SecurityScore, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM security_scores WHERE symbol = ?", scoresColumns)
	rows, err := r.db.Query(query, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query score for %s: %w", symbol, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanScore(rows)
}

// GetAll retrieves all persisted scores ordered by rank.
func (r *ScoreRepository) GetAll() ([]SecurityScore, error) {
	query := fmt.Sprintf("SELECT %s FROM security_scores ORDER BY rank", scoresColumns)
	return r.queryScores(query)
}

// GetTopN retrieves the n best-ranked scores.
func (r *ScoreRepository) GetTopN(n int) ([]SecurityScore, error) {
	if n <= 0 {
		return nil, fmt.Errorf("n must be positive, got %d", n)
	}

	query := fmt.Sprintf("SELECT %s FROM security_scores ORDER BY rank LIMIT ?", scoresColumns)
	return r.queryScores(query, n)
}

// SaveScores replaces the persisted score set in a single transaction.
// Symbols absent from the new set are removed so ranks stay dense.
func (r *ScoreRepository) SaveScores(scores []SecurityScore) error {
	if len(scores) == 0 {
		return fmt.Errorf("scores cannot be empty")
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec("DELETE FROM security_scores"); err != nil {
		return fmt.Errorf("failed to clear scores: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO security_scores (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", scoresColumns)
	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("failed to prepare score insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for i := range scores {
		s := &scores[i]
		s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))
		if s.Symbol == "" {
			return fmt.Errorf("score at index %d has empty symbol", i)
		}

		computedAt := now
		if s.ComputedAt != nil {
			computedAt = s.ComputedAt.UTC()
		}

		var componentsJSON interface{}
		if len(s.Components) > 0 {
			encoded, err := json.Marshal(s.Components)
			if err != nil {
				return fmt.Errorf("failed to encode components for %s: %w", s.Symbol, err)
			}
			componentsJSON = string(encoded)
		}

		_, err = stmt.Exec(
			s.Symbol,
			s.ValueScore,
			s.QualityScore,
			s.MomentumScore,
			s.SentimentScore,
			s.StabilityScore,
			s.Composite,
			s.Rank,
			componentsJSON,
			computedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to insert score for %s: %w", s.Symbol, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scores: %w", err)
	}

	r.log.Info().Int("count", len(scores)).Msg("Saved security scores")
	return nil
}

// LatestComputedAt returns the timestamp of the most recent ranking run,
// or nil when no scores are persisted.
func (r *ScoreRepository) LatestComputedAt() (*time.Time, error) {
	var raw sql.NullString
	err := r.db.QueryRow("SELECT MAX(computed_at) FROM security_scores").Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest computed_at: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse computed_at %q: %w", raw.String, err)
	}

	return &t, nil
}

func (r *ScoreRepository) queryScores(query string, args ...interface{}) ([]SecurityScore, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	defer rows.Close()

	var scores []SecurityScore
	for rows.Next() {
		s, err := r.scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, *s)
	}

	return scores, rows.Err()
}

// scanScore scans a row in scoresColumns order.
func (r *ScoreRepository) scanScore(rows *sql.Rows) (*SecurityScore, error) {
	var s SecurityScore
	var components sql.NullString
	var computedAt string

	err := rows.Scan(
		&s.Symbol,
		&s.ValueScore,
		&s.QualityScore,
		&s.MomentumScore,
		&s.SentimentScore,
		&s.StabilityScore,
		&s.Composite,
		&s.Rank,
		&components,
		&computedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan score: %w", err)
	}

	s.Symbol = strings.ToUpper(strings.TrimSpace(s.Symbol))

	if components.Valid && components.String != "" {
		var decoded map[string]float64
		if err := json.Unmarshal([]byte(components.String), &decoded); err != nil {
			r.log.Warn().Err(err).Str("symbol", s.Symbol).Msg("Malformed components JSON, ignoring")
		} else {
			s.Components = decoded
		}
	}

	if computedAt != "" {
		if t, err := time.Parse(time.RFC3339, computedAt); err == nil {
			s.ComputedAt = &t
		}
	}

	return &s, nil
}
