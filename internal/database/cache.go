package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// CacheStore is a namespaced key/value store over the calc_cache table.
// Payloads are msgpack-encoded, everything in it can be recomputed.
type CacheStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewCacheStore creates a cache store on the given connection (cache.db).
func NewCacheStore(db *sql.DB, log zerolog.Logger) *CacheStore {
	return &CacheStore{
		db:  db,
		log: log.With().Str("repo", "cache").Logger(),
	}
}

// Get loads a cached value into dest. Returns false on a miss; expired
// entries count as misses and are removed on the way out.
func (s *CacheStore) Get(namespace, key string, dest interface{}) (bool, error) {
	var payload []byte
	var expiresAt sql.NullString

	err := s.db.QueryRow(
		"SELECT payload, expires_at FROM calc_cache WHERE namespace = ? AND cache_key = ?",
		namespace, key,
	).Scan(&payload, &expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cache %s/%s: %w", namespace, key, err)
	}

	if expiresAt.Valid {
		expiry, parseErr := time.Parse(time.RFC3339, expiresAt.String)
		if parseErr != nil || time.Now().UTC().After(expiry) {
			_ = s.Delete(namespace, key)
			return false, nil
		}
	}

	if err := msgpack.Unmarshal(payload, dest); err != nil {
		// Stale encoding from an older build, treat as a miss
		s.log.Warn().Err(err).Str("namespace", namespace).Str("key", key).Msg("Discarding undecodable cache entry")
		_ = s.Delete(namespace, key)
		return false, nil
	}

	return true, nil
}

// Set stores a value under namespace/key. A non-positive ttl means no expiry.
func (s *CacheStore) Set(namespace, key string, value interface{}, ttl time.Duration) error {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache value %s/%s: %w", namespace, key, err)
	}

	var expiresAt interface{}
	if ttl > 0 {
		expiresAt = time.Now().UTC().Add(ttl).Format(time.RFC3339)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO calc_cache (namespace, cache_key, payload, created_at, expires_at)
		VALUES (?, ?, ?, datetime('now'), ?)`,
		namespace, key, payload, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write cache %s/%s: %w", namespace, key, err)
	}

	return nil
}

// Delete removes a single entry. Missing entries are not an error.
func (s *CacheStore) Delete(namespace, key string) error {
	_, err := s.db.Exec("DELETE FROM calc_cache WHERE namespace = ? AND cache_key = ?", namespace, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeletePrefix removes every entry in a namespace whose key starts with prefix.
func (s *CacheStore) DeletePrefix(namespace, prefix string) (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM calc_cache WHERE namespace = ? AND cache_key LIKE ? || '%'",
		namespace, prefix,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete cache prefix %s/%s: %w", namespace, prefix, err)
	}
	return result.RowsAffected()
}

// DeleteNamespace removes every entry in a namespace.
func (s *CacheStore) DeleteNamespace(namespace string) (int64, error) {
	result, err := s.db.Exec("DELETE FROM calc_cache WHERE namespace = ?", namespace)
	if err != nil {
		return 0, fmt.Errorf("failed to clear cache namespace %s: %w", namespace, err)
	}
	return result.RowsAffected()
}

// PurgeExpired removes entries past their expiry. Run from the cleanup job.
func (s *CacheStore) PurgeExpired() (int64, error) {
	result, err := s.db.Exec(
		"DELETE FROM calc_cache WHERE expires_at IS NOT NULL AND expires_at < ?",
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache entries: %w", err)
	}

	purged, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		s.log.Debug().Int64("purged", purged).Msg("Purged expired cache entries")
	}
	return purged, nil
}

// Count returns the number of live entries in a namespace.
func (s *CacheStore) Count(namespace string) (int, error) {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM calc_cache WHERE namespace = ?", namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count cache namespace %s: %w", namespace, err)
	}
	return count, nil
}
