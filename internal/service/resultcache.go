package service

import (
	"database/sql"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultResultTTL bounds how long an analysis result stays servable
// without recomputation.
const DefaultResultTTL = 10 * time.Minute

// ResultCache stores msgpack-encoded analysis results in cache.db keyed by
// (operation, portfolio fingerprint, parameters, data version). Entries are
// immutable; recomputation writes a new row. A nil database disables the
// cache entirely.
type ResultCache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
	log zerolog.Logger
}

// NewResultCache creates a result cache. ttl <= 0 selects the default.
func NewResultCache(db *sql.DB, ttl time.Duration, log zerolog.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{
		db:  db,
		ttl: ttl,
		now: time.Now,
		log: log.With().Str("component", "result_cache").Logger(),
	}
}

// CacheKey derives the stable key for one operation invocation. String
// maps are folded in sorted key order; other parameter shapes are
// msgpack-encoded so any field change produces a distinct key.
func CacheKey(operation, fingerprint string, params interface{}, dataVersion string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|", operation, fingerprint, dataVersion)
	switch p := params.(type) {
	case nil:
	case map[string]string:
		keys := make([]string, 0, len(p))
		for k := range p {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=%s|", k, p[k])
		}
	default:
		if blob, err := msgpack.Marshal(params); err == nil {
			h.Write(blob)
		}
	}
	return fmt.Sprintf("%s:%x", operation, h.Sum64())
}

// Get decodes a live entry into out. A miss or an expired row returns false.
func (c *ResultCache) Get(key string, out interface{}) bool {
	if c == nil || c.db == nil {
		return false
	}
	var blob []byte
	var expires int64
	err := c.db.QueryRow(`SELECT value, expires_at FROM result_cache WHERE key = ?`, key).
		Scan(&blob, &expires)
	if err != nil {
		return false
	}
	if c.now().Unix() >= expires {
		return false
	}
	if err := msgpack.Unmarshal(blob, out); err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("Cached result failed to decode, dropping")
		c.db.Exec(`DELETE FROM result_cache WHERE key = ?`, key)
		return false
	}
	return true
}

// Put encodes and stores a result under the user's scope for invalidation.
func (c *ResultCache) Put(key, userID string, value interface{}) {
	if c == nil || c.db == nil {
		return
	}
	blob, err := msgpack.Marshal(value)
	if err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("Result failed to encode, not caching")
		return
	}
	_, err = c.db.Exec(`
		INSERT OR REPLACE INTO result_cache (key, value, user_id, expires_at)
		VALUES (?, ?, ?, ?)`,
		key, blob, userID, c.now().Add(c.ttl).Unix(),
	)
	if err != nil {
		c.log.Warn().Str("key", key).Err(err).Msg("Result cache write failed")
	}
}

// InvalidateUser drops every entry scoped to the user. Called after any
// mutation of the user's portfolio inputs (baskets, risk profile).
func (c *ResultCache) InvalidateUser(userID string) (int64, error) {
	if c == nil || c.db == nil {
		return 0, nil
	}
	res, err := c.db.Exec(`DELETE FROM result_cache WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate user cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Sweep deletes expired entries. Run by the maintenance scheduler.
func (c *ResultCache) Sweep() (int64, error) {
	if c == nil || c.db == nil {
		return 0, nil
	}
	res, err := c.db.Exec(`DELETE FROM result_cache WHERE expires_at <= ?`, c.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep result cache: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
