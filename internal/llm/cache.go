package llm

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Cache is the global content-addressed LLM response cache, keyed by the hash
// of (prompt, evidence, model). Entries are immutable, so concurrent product
// runs can share one cache without coordination beyond sqlite's own locking.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
}

// OpenCache opens (creating if needed) the sqlite cache at path.
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS llm_cache (
		key        TEXT PRIMARY KEY,
		model      TEXT NOT NULL,
		response   TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Cache{db: db, ttl: ttl}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error { return c.db.Close() }

// CacheKey hashes the extraction request content.
func CacheKey(prompt, evidence, model string) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(evidence))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached raw response for a key if present and fresh.
func (c *Cache) Get(key string) (string, bool) {
	var response string
	var createdAt int64
	err := c.db.QueryRow(
		`SELECT response, created_at FROM llm_cache WHERE key = ?`, key,
	).Scan(&response, &createdAt)
	if err != nil {
		return "", false
	}
	if time.Since(time.Unix(createdAt, 0)) > c.ttl {
		return "", false
	}
	return response, true
}

// Put stores a raw response under its content key.
func (c *Cache) Put(key, model, response string) error {
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO llm_cache (key, model, response, created_at) VALUES (?, ?, ?, ?)`,
		key, model, response, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Prune deletes expired entries.
func (c *Cache) Prune() (int64, error) {
	cutoff := time.Now().Add(-c.ttl).Unix()
	res, err := c.db.Exec(`DELETE FROM llm_cache WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache prune: %w", err)
	}
	return res.RowsAffected()
}
