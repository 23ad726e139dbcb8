package store

import (
	"time"
)

// CacheEntry is one TTL-stamped payload persisted for the repository client.
// The store does not interpret the payload; TTL policy lives with the reader.
type CacheEntry struct {
	Key       string
	Payload   []byte
	FetchedAt time.Time
}

// GetCacheEntry returns the entry for a key, or sql.ErrNoRows when absent.
func (s *Store) GetCacheEntry(key string) (*CacheEntry, error) {
	var entry CacheEntry
	err := s.db.QueryRow(`
		SELECT key, payload, fetched_at
		FROM cache_entries
		WHERE key = ?
	`, key).Scan(&entry.Key, &entry.Payload, &entry.FetchedAt)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// PutCacheEntry stores a payload under a key, replacing any previous entry.
// The upsert is a single statement, so readers see the old entry or the new
// one, never a mix.
func (s *Store) PutCacheEntry(key string, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, payload, fetched_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = CURRENT_TIMESTAMP
	`, key, payload)
	return err
}

// DeleteCacheEntry drops an entry. Used when a stored payload turns out to be
// corrupt; a missing key is not an error.
func (s *Store) DeleteCacheEntry(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// ClearCache removes all cached payloads.
func (s *Store) ClearCache() error {
	_, err := s.db.Exec(`DELETE FROM cache_entries`)
	return err
}

// CacheEntryInfo summarizes one cache entry for display.
type CacheEntryInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
}

// ListCacheEntries returns a summary of every cached payload.
func (s *Store) ListCacheEntries() ([]CacheEntryInfo, error) {
	rows, err := s.db.Query(`
		SELECT key, LENGTH(payload), fetched_at
		FROM cache_entries
		ORDER BY key ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CacheEntryInfo
	for rows.Next() {
		var info CacheEntryInfo
		if err := rows.Scan(&info.Key, &info.Size, &info.FetchedAt); err != nil {
			return nil, err
		}
		entries = append(entries, info)
	}
	return entries, rows.Err()
}
