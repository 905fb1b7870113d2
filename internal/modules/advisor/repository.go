package advisor

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// sessionsColumns is the canonical column list for session queries.
// Keep in sync with scanSession.
const sessionsColumns = `id, profile_id, status, stage, error, recommendation_id, started_at, finished_at, created_at`

// SessionRepository persists advisory sessions in advisory.db.
type SessionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(advisoryDB *sql.DB, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:  advisoryDB,
		log: log.With().Str("repo", "sessions").Logger(),
	}
}

// Create inserts a session, generating an id and created_at. A blank
// status defaults to pending.
func (r *SessionRepository) Create(s *Session) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if strings.TrimSpace(s.ProfileID) == "" {
		return fmt.Errorf("session profile id cannot be empty")
	}

	if strings.TrimSpace(s.ID) == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = StatusPending
	}
	s.CreatedAt = time.Now().UTC()

	query := fmt.Sprintf("INSERT INTO sessions (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", sessionsColumns)
	_, err := r.db.Exec(query,
		s.ID,
		s.ProfileID,
		s.Status,
		nullableString(s.Stage),
		nullableString(s.Error),
		nullableString(s.RecommendationID),
		nullableTime(s.StartedAt),
		nullableTime(s.FinishedAt),
		s.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	r.log.Info().Str("session_id", s.ID).Str("profile_id", s.ProfileID).Msg("Session created")
	return nil
}

// Update persists a state transition. Terminal sessions never change:
// updating a completed or failed session errors.
func (r *SessionRepository) Update(s *Session) error {
	if s == nil {
		return fmt.Errorf("session cannot be nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	query := `
		UPDATE sessions SET
			status = ?, stage = ?, error = ?, recommendation_id = ?,
			started_at = ?, finished_at = ?
		WHERE id = ? AND status NOT IN (?, ?)`

	result, err := r.db.Exec(query,
		s.Status,
		nullableString(s.Stage),
		nullableString(s.Error),
		nullableString(s.RecommendationID),
		nullableTime(s.StartedAt),
		nullableTime(s.FinishedAt),
		s.ID,
		StatusCompleted,
		StatusFailed,
	)
	if err != nil {
		return fmt.Errorf("failed to update session %s: %w", s.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found or already terminal: %s", s.ID)
	}

	return nil
}

// Get retrieves a session. Returns (nil, nil) when the id is unknown.
func (r *SessionRepository) Get(id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	query := fmt.Sprintf("SELECT %s FROM sessions WHERE id = ?", sessionsColumns)
	rows, err := r.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query session %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanSession(rows)
}

// List retrieves all sessions, newest first. The rowid tiebreak keeps
// same-second inserts in creation order.
func (r *SessionRepository) List() ([]Session, error) {
	query := fmt.Sprintf("SELECT %s FROM sessions ORDER BY created_at DESC, rowid DESC", sessionsColumns)
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}

// Latest returns the newest session for a profile, nil when none exists.
func (r *SessionRepository) Latest(profileID string) (*Session, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return nil, fmt.Errorf("profile id cannot be empty")
	}

	query := fmt.Sprintf(
		"SELECT %s FROM sessions WHERE profile_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1",
		sessionsColumns)
	rows, err := r.db.Query(query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest session for %s: %w", profileID, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}

	return r.scanSession(rows)
}

// HasActive reports whether the profile has a pending or running session.
func (r *SessionRepository) HasActive(profileID string) (bool, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return false, fmt.Errorf("profile id cannot be empty")
	}

	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM sessions WHERE profile_id = ? AND status IN (?, ?)",
		profileID, StatusPending, StatusRunning,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to count active sessions for %s: %w", profileID, err)
	}

	return count > 0, nil
}

// FailStale marks pending and running sessions older than the cutoff
// as failed. Sessions orphaned by a crash would otherwise block their
// profile forever through the active-session check.
func (r *SessionRepository) FailStale(olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("stale cutoff must be positive")
	}

	now := time.Now().UTC()
	cutoff := now.Add(-olderThan).Format(time.RFC3339)

	result, err := r.db.Exec(`
		UPDATE sessions SET
			status = ?, error = ?, finished_at = ?
		WHERE status IN (?, ?) AND created_at < ?`,
		StatusFailed,
		"session abandoned, marked failed by cleanup",
		now.Format(time.RFC3339),
		StatusPending,
		StatusRunning,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale sessions: %w", err)
	}

	failed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if failed > 0 {
		r.log.Info().Int64("sessions", failed).Msg("Marked stale sessions failed")
	}
	return failed, nil
}

// scanSession scans a row in sessionsColumns order.
func (r *SessionRepository) scanSession(rows *sql.Rows) (*Session, error) {
	var s Session
	var stage, errMsg, recID, startedAt, finishedAt sql.NullString
	var createdAt string

	err := rows.Scan(
		&s.ID,
		&s.ProfileID,
		&s.Status,
		&stage,
		&errMsg,
		&recID,
		&startedAt,
		&finishedAt,
		&createdAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if stage.Valid {
		s.Stage = stage.String
	}
	if errMsg.Valid {
		s.Error = errMsg.String
	}
	if recID.Valid {
		s.RecommendationID = recID.String
	}
	if startedAt.Valid {
		t := parseTimestamp(startedAt.String)
		s.StartedAt = &t
	}
	if finishedAt.Valid {
		t := parseTimestamp(finishedAt.String)
		s.FinishedAt = &t
	}
	s.CreatedAt = parseTimestamp(createdAt)

	return &s, nil
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

func nullableString(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
