// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the tiered store of previously accepted answers.
//
// Two tiers:
//
//	Hot (RAM)    - bounded map, O(1) exact lookup, oldest-entry eviction
//	Warm (Badger) - embedded persistent store surviving restarts
//
// Plus a small hand-curated table of canonical patterns matched by substring
// containment (see patterns.go).
//
// The cache is an optimization, not a dependency: warm-tier I/O errors are
// logged and reported as a miss, never propagated to the pipeline.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/mathesis-ai/mathesis/services/resolver/datatypes"
)

// DefaultHotCapacity bounds the in-memory tier. The source of truth for an
// evicted entry remains the warm tier.
const DefaultHotCapacity = 10000

// Config configures the tiered store.
type Config struct {
	// Path is the directory for the warm Badger tier. Ignored when
	// InMemory is true.
	Path string

	// InMemory opens the warm tier without disk persistence. For tests.
	InMemory bool

	// HotCapacity is the maximum number of hot-tier entries.
	// Default: DefaultHotCapacity.
	HotCapacity int

	// SyncWrites enables synchronous Badger writes for durability.
	SyncWrites bool

	// GCInterval is how often to run Badger value log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// Logger for store operations. If nil, uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns production defaults for the given directory.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		HotCapacity: DefaultHotCapacity,
		SyncWrites:  true,
		GCInterval:  5 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests: both tiers in RAM,
// no sync, no GC.
func InMemoryConfig() Config {
	return Config{
		InMemory:    true,
		HotCapacity: DefaultHotCapacity,
	}
}

// hotEntry pairs a cache entry with its insertion time for eviction.
type hotEntry struct {
	entry    datatypes.CacheEntry
	cachedAt time.Time
}

// Store is the tiered answer cache.
//
// Thread Safety: Safe for concurrent use. Lookup followed by Store of the
// same key is safe to race; upserts are last-write-wins.
type Store struct {
	mu     sync.RWMutex
	hot    map[string]*hotEntry
	hotCap int

	db     *badger.DB
	logger *slog.Logger

	gcStop chan struct{}
	gcDone chan struct{}

	// Counters use atomics for lock-free reads in Stats.
	hotHits     atomic.Int64
	warmHits    atomic.Int64
	patternHits atomic.Int64
	misses      atomic.Int64
}

// NewStore opens the tiered store.
//
// Description:
//
//	Opens the warm Badger tier at cfg.Path (or in memory) and initializes
//	the bounded hot tier. Starts a GC goroutine when GCInterval is set.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*Store - Ready-to-use store. Caller must Close().
//	error - Non-nil if the warm tier cannot be opened.
//
// Thread Safety: The returned store is safe for concurrent use.
func NewStore(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent cache")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "resolver_cache"))

	hotCap := cfg.HotCapacity
	if hotCap <= 0 {
		hotCap = DefaultHotCapacity
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	s := &Store{
		hot:    make(map[string]*hotEntry),
		hotCap: hotCap,
		db:     db,
		logger: logger,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}

	return s, nil
}

// Lookup returns the entry for a fingerprint, or false on miss.
//
// Description:
//
//	Checks the hot tier first, then the warm tier. A warm hit is promoted
//	into the hot tier. Warm-tier read errors count as a miss and are
//	logged, never returned.
//
//	The returned entry's UseCount is incremented (best effort in the warm
//	tier) before returning, so callers see the post-hit count.
//
// Inputs:
//
//	ctx - Context for cancellation of warm-tier access.
//	fingerprint - The query fingerprint.
//
// Outputs:
//
//	datatypes.CacheEntry - The entry on hit.
//	bool - True on hit.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Lookup(ctx context.Context, fingerprint string) (datatypes.CacheEntry, bool) {
	if fingerprint == "" {
		s.misses.Add(1)
		return datatypes.CacheEntry{}, false
	}

	s.mu.RLock()
	he, ok := s.hot[fingerprint]
	s.mu.RUnlock()
	if ok {
		s.hotHits.Add(1)
		s.mu.Lock()
		he.entry.UseCount++
		entry := he.entry
		s.mu.Unlock()
		s.persistAsync(entry)
		return entry, true
	}

	entry, ok := s.warmLookup(ctx, fingerprint)
	if !ok {
		s.misses.Add(1)
		return datatypes.CacheEntry{}, false
	}

	s.warmHits.Add(1)
	entry.UseCount++
	s.promote(entry)
	s.persistAsync(entry)
	return entry, true
}

// LookupPattern tests the hand-curated canonical pattern table against the
// normalized text.
//
// Description:
//
//	Substring containment against the fixed table in patterns.go,
//	declaration order, independent of the fingerprint. These entries never
//	hit the warm tier.
//
// Inputs:
//
//	normalized - Normalized query text.
//
// Outputs:
//
//	datatypes.CacheEntry - The curated entry on match.
//	bool - True on match.
//
// Thread Safety: Safe for concurrent use (table is read-only).
func (s *Store) LookupPattern(normalized string) (datatypes.CacheEntry, bool) {
	entry, ok := matchCuratedPattern(normalized)
	if !ok {
		return datatypes.CacheEntry{}, false
	}
	s.patternHits.Add(1)
	return entry, true
}

// Store upserts an accepted answer.
//
// Description:
//
//	Writes to both tiers. A repeat key keeps the original CreatedAt and
//	increments UseCount. Warm-tier write errors are logged and swallowed;
//	the hot tier is still updated so the current process benefits.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	key - Fingerprint (or canonical pattern string).
//	solution - Accepted answer text.
//	confidence - Confidence the answer was accepted with.
//	source - Phase that produced the answer.
//
// Thread Safety: Safe for concurrent use; last write wins.
func (s *Store) Store(ctx context.Context, key, solution string, confidence float64, source string) {
	if key == "" {
		return
	}

	now := time.Now()
	entry := datatypes.CacheEntry{
		Key:        key,
		Solution:   solution,
		Confidence: confidence,
		Source:     source,
		CreatedAt:  now,
	}

	s.mu.Lock()
	if prev, ok := s.hot[key]; ok {
		entry.CreatedAt = prev.entry.CreatedAt
		entry.UseCount = prev.entry.UseCount + 1
	}
	if len(s.hot) >= s.hotCap {
		s.evictOldestLocked()
	}
	s.hot[key] = &hotEntry{entry: entry, cachedAt: now}
	s.mu.Unlock()

	if err := s.warmStore(ctx, entry); err != nil {
		s.logger.Warn("cache warm-tier write failed, continuing",
			slog.String("key", truncate(key, 16)),
			slog.String("error", err.Error()))
	}
}

// Stats returns hit/miss counters for both tiers.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Stats() datatypes.CacheStats {
	hot := s.hotHits.Load()
	warm := s.warmHits.Load()
	pattern := s.patternHits.Load()
	misses := s.misses.Load()

	total := hot + warm + pattern + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hot+warm+pattern) / float64(total)
	}

	s.mu.RLock()
	size := len(s.hot)
	s.mu.RUnlock()

	return datatypes.CacheStats{
		HotHits:     hot,
		WarmHits:    warm,
		PatternHits: pattern,
		Misses:      misses,
		HotSize:     size,
		HitRate:     rate,
	}
}

// Close stops GC and closes the warm tier.
func (s *Store) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

// -----------------------------------------------------------------------------
// Internal
// -----------------------------------------------------------------------------

// promote inserts a warm-tier hit into the hot tier.
func (s *Store) promote(entry datatypes.CacheEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.hot) >= s.hotCap {
		s.evictOldestLocked()
	}
	s.hot[entry.Key] = &hotEntry{entry: entry, cachedAt: time.Now()}
}

// evictOldestLocked removes the oldest hot entry. Caller must hold the write
// lock. O(n) scan is acceptable at the default capacity.
func (s *Store) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, he := range s.hot {
		if oldestKey == "" || he.cachedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = he.cachedAt
		}
	}
	if oldestKey != "" {
		delete(s.hot, oldestKey)
	}
}

// warmLookup reads an entry from Badger. Errors degrade to a miss.
func (s *Store) warmLookup(ctx context.Context, key string) (datatypes.CacheEntry, bool) {
	if err := ctx.Err(); err != nil {
		return datatypes.CacheEntry{}, false
	}

	var entry datatypes.CacheEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})

	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.logger.Warn("cache warm-tier read failed, treating as miss",
				slog.String("key", truncate(key, 16)),
				slog.String("error", err.Error()))
		}
		return datatypes.CacheEntry{}, false
	}
	return entry, true
}

// warmStore writes an entry to Badger.
func (s *Store) warmStore(ctx context.Context, entry datatypes.CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(entry.Key), val)
	})
}

// persistAsync updates the warm tier's use counter without blocking the
// request path.
func (s *Store) persistAsync(entry datatypes.CacheEntry) {
	go func() {
		if err := s.warmStore(context.Background(), entry); err != nil {
			s.logger.Debug("cache use-count persist failed",
				slog.String("key", truncate(entry.Key, 16)),
				slog.String("error", err.Error()))
		}
	}()
}

// runGC triggers Badger value log GC at the configured interval.
func (s *Store) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("cache value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// truncate shortens a key for logging.
func truncate(key string, maxLen int) string {
	if len(key) <= maxLen {
		return key
	}
	return key[:maxLen] + "..."
}
