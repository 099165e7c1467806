// Package dedup suppresses re-emission of recently seen events. A rotating
// Bloom filter answers "definitely new" in O(1); when it says "maybe seen",
// a bounded LRU cache gives the exact answer. The filter rotates on an
// interval so it never saturates; the cache is never rotated and relies on
// its own eviction.
package dedup

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

const defaultCacheCapacity = 1000

// Engine is the hybrid filter+cache deduplicator. Safe for concurrent use
// by all pollers; stats are lock-free.
type Engine struct {
	mu           sync.RWMutex // guards filter and lastRotation
	filter       *bloom.BloomFilter
	lastRotation time.Time

	cache *lru.Cache[string, struct{}]

	expectedItems    uint
	fpRate           float64
	rotationInterval time.Duration

	checks     atomic.Uint64
	unique     atomic.Uint64
	duplicates atomic.Uint64
	rotations  atomic.Uint64
	maybeHits  atomic.Uint64
}

// Snapshot is a point-in-time view of the engine counters, served by the
// ops endpoints.
type Snapshot struct {
	TotalChecks               uint64 `json:"total_checks"`
	UniqueItems               uint64 `json:"unique_items"`
	DuplicatesCaught          uint64 `json:"duplicates_caught"`
	BloomRotations            uint64 `json:"bloom_rotations"`
	BloomFalsePositiveRescues uint64 `json:"bloom_false_positive_rescues"`
	LruCacheSize              int    `json:"lru_cache_size"`
}

// New builds an Engine. expectedItems and fpRate size the Bloom filter;
// cacheCapacity bounds the LRU (non-positive values fall back to 1000);
// rotationInterval is how often the filter is replaced with a fresh one.
func New(expectedItems uint, fpRate float64, cacheCapacity int, rotationInterval time.Duration) *Engine {
	if cacheCapacity <= 0 {
		cacheCapacity = defaultCacheCapacity
	}
	cache, err := lru.New[string, struct{}](cacheCapacity)
	if err != nil {
		panic(err) // capacity is positive, lru.New cannot fail
	}

	log.WithFields(log.Fields{
		"expected_items":    expectedItems,
		"fp_rate":           fpRate,
		"cache_capacity":    cacheCapacity,
		"rotation_interval": rotationInterval,
	}).Info("dedup engine initialized")

	return &Engine{
		filter:           bloom.NewWithEstimates(expectedItems, fpRate),
		lastRotation:     time.Now(),
		cache:            cache,
		expectedItems:    expectedItems,
		fpRate:           fpRate,
		rotationInterval: rotationInterval,
	}
}

// CheckAndInsert reports whether key is new. New keys are recorded in both
// the filter and the cache before returning. A "maybe" from the filter that
// the cache cannot confirm is a false positive and counts as new.
func (e *Engine) CheckAndInsert(key string) bool {
	e.checks.Add(1)
	e.maybeRotate()

	e.mu.RLock()
	maybeSeen := e.filter.TestString(key)
	e.mu.RUnlock()

	if maybeSeen {
		e.maybeHits.Add(1)
		if _, ok := e.cache.Get(key); ok {
			e.duplicates.Add(1)
			log.WithField("key", key).Debug("duplicate confirmed by cache")
			return false
		}
		log.WithField("key", key).Debug("filter false positive rescued by cache")
	}

	e.mu.Lock()
	e.filter.AddString(key)
	e.mu.Unlock()
	e.cache.Add(key, struct{}{})

	e.unique.Add(1)
	return true
}

// maybeRotate replaces the filter once the rotation interval has elapsed.
// The threshold is re-checked under the write lock so concurrent callers
// produce exactly one rotation.
func (e *Engine) maybeRotate() {
	e.mu.RLock()
	due := time.Since(e.lastRotation) >= e.rotationInterval
	e.mu.RUnlock()
	if !due {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.lastRotation) < e.rotationInterval {
		return // another caller rotated while we waited for the lock
	}
	e.filter = bloom.NewWithEstimates(e.expectedItems, e.fpRate)
	e.lastRotation = time.Now()
	e.rotations.Add(1)
	log.Info("bloom filter rotated, stale entries forgotten")
}

// Rotations returns the rotation count for the metrics endpoint.
func (e *Engine) Rotations() uint64 {
	return e.rotations.Load()
}

// Snapshot reads all counters and the current cache size.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		TotalChecks:               e.checks.Load(),
		UniqueItems:               e.unique.Load(),
		DuplicatesCaught:          e.duplicates.Load(),
		BloomRotations:            e.rotations.Load(),
		BloomFalsePositiveRescues: e.maybeHits.Load(),
		LruCacheSize:              e.cache.Len(),
	}
}
