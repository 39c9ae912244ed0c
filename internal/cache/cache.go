// Package cache implements the persistent file-digest cache of spec §4.2:
// a mapping from relative path to (digest, size, last-modified) that
// accelerates rescans by letting unchanged files skip rehashing.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Entry is one cache record (spec §3 CacheEntry).
type Entry struct {
	Digest   string    `json:"digest"`
	Size     int64     `json:"size"`
	Mtime    time.Time `json:"mtime"`
}

// document is the on-disk JSON shape persisted at <gameRoot>/<cachefile>.
type document struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

const documentVersion = 1

// Cache is the concurrent in-memory table backing the digest cache.
// Reads and writes are lock-free via xsync.MapOf; flush serializes a
// single consistent snapshot (spec §4.2, §5: "a reader's view may be
// slightly stale but never torn").
type Cache struct {
	path  string
	log   zerolog.Logger
	table *xsync.MapOf[string, Entry]
	dirty atomic.Bool
}

// New creates an empty cache that will persist to path.
func New(path string, log zerolog.Logger) *Cache {
	return &Cache{
		path:  path,
		log:   log.With().Str("component", "cache").Logger(),
		table: xsync.NewMapOf[string, Entry](),
	}
}

// normalize applies the cache's case-insensitive key policy (spec §4.2:
// "exact case-insensitive key match").
func normalize(relPath string) string {
	return strings.ToLower(filepath.ToSlash(relPath))
}

// Load reads the cache document from disk. An absent file is not an
// error; a parse failure discards the document and starts empty
// (spec §4.2).
func (c *Cache) Load() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		c.log.Warn().Err(err).Msg("reading digest cache, starting empty")
		return nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		c.log.Warn().Err(err).Msg("corrupt digest cache, discarding and starting empty")
		return nil
	}

	for k, v := range doc.Entries {
		c.table.Store(normalize(k), v)
	}
	return nil
}

// Lookup returns the cache entry for relPath, if any (spec §4.2).
func (c *Cache) Lookup(relPath string) (Entry, bool) {
	return c.table.Load(normalize(relPath))
}

// IsFresh reports whether a cache entry exists whose size and mtime match
// exactly (spec §4.2, §4.4 step 3).
func (c *Cache) IsFresh(relPath string, mtime time.Time, size int64) bool {
	e, ok := c.table.Load(normalize(relPath))
	if !ok {
		return false
	}
	return e.Size == size && e.Mtime.Equal(mtime)
}

// Record inserts or overwrites a cache entry and marks the cache dirty
// (spec §4.2, invariant I4: written only after successful verification by
// callers).
func (c *Cache) Record(relPath, digest string, size int64, mtime time.Time) {
	c.table.Store(normalize(relPath), Entry{Digest: digest, Size: size, Mtime: mtime})
	c.dirty.Store(true)
}

// Len returns the number of entries currently held (used by the `status`
// command and by tests).
func (c *Cache) Len() int { return c.table.Size() }

// Flush writes the cache to disk if dirty. Errors are logged, not
// propagated (spec §4.2: "Errors are logged, not propagated").
func (c *Cache) Flush() {
	if !c.dirty.Load() {
		return
	}

	doc := document{Version: documentVersion, Entries: make(map[string]Entry, c.table.Size())}
	c.table.Range(func(key string, value Entry) bool {
		doc.Entries[key] = value
		return true
	})

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		c.log.Warn().Err(err).Msg("creating digest cache directory")
		return
	}

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		c.log.Warn().Err(err).Msg("serializing digest cache")
		return
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		c.log.Warn().Err(err).Msg("writing digest cache")
		return
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		c.log.Warn().Err(err).Msg("renaming digest cache into place")
		return
	}

	c.dirty.Store(false)
}
