package settings

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Repository handles settings rows in advisory.db. Values are stored
// as strings and converted on read; the typed getters return the
// caller's default when the key is absent or unparsable.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a settings repository.
func NewRepository(advisoryDB *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  advisoryDB,
		log: log.With().Str("repo", "settings").Logger(),
	}
}

// Get retrieves a raw setting value. Absent keys return nil, not an error.
func (r *Repository) Get(key string) (*string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return &value, nil
}

// Set stores a setting value, inserting or updating as needed.
func (r *Repository) Set(key, value string) error {
	_, err := r.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetAll returns every stored override as a key to value map.
func (r *Repository) GetAll() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings")
	if err != nil {
		return nil, fmt.Errorf("failed to get all settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			r.log.Warn().Err(err).Msg("Failed to scan setting row")
			continue
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settings: %w", err)
	}
	return result, nil
}

// GetFloat retrieves a setting as float64, falling back to defaultValue
// when the key is absent or the stored value does not parse.
func (r *Repository) GetFloat(key string, defaultValue float64) (float64, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}

	floatVal, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("value", *value).Msg("Failed to parse float setting")
		return defaultValue, nil
	}
	return floatVal, nil
}

// SetFloat stores a float setting.
func (r *Repository) SetFloat(key string, value float64) error {
	return r.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
}

// GetInt retrieves a setting as int. Parses via float first so "12.0"
// round-trips from older writes.
func (r *Repository) GetInt(key string, defaultValue int) (int, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}

	floatVal, err := strconv.ParseFloat(*value, 64)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Str("value", *value).Msg("Failed to parse int setting")
		return defaultValue, nil
	}
	return int(floatVal), nil
}

// SetInt stores an integer setting.
func (r *Repository) SetInt(key string, value int) error {
	return r.Set(key, strconv.Itoa(value))
}

// GetBool retrieves a setting as bool. "true", "1", "yes" and "on"
// count as true, anything else as false.
func (r *Repository) GetBool(key string, defaultValue bool) (bool, error) {
	value, err := r.Get(key)
	if err != nil {
		return defaultValue, err
	}
	if value == nil {
		return defaultValue, nil
	}
	return isTruthy(*value), nil
}

// SetBool stores a boolean setting as "true" or "false".
func (r *Repository) SetBool(key string, value bool) error {
	if value {
		return r.Set(key, "true")
	}
	return r.Set(key, "false")
}

// Delete removes a setting override, reverting the key to its default.
// Deleting an absent key is not an error.
func (r *Repository) Delete(key string) error {
	_, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key)
	if err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

func isTruthy(value string) bool {
	return value == "true" || value == "1" || value == "yes" || value == "on"
}
