// Package cache is the confidence-weighted result cache and the shared
// rate gate, both kept in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"imovel-scraper/metrics"
	"imovel-scraper/utils"
)

// Namespaces with their own TTL and counters.
const (
	NamespaceAIExtraction   = "ai_extraction"
	NamespacePageStructure  = "page_structure"
	NamespaceMarketAnalysis = "market_analysis"
)

// Namespaces lists every namespace the cleanup inspects.
var Namespaces = []string{NamespaceAIExtraction, NamespacePageStructure, NamespaceMarketAnalysis}

// BaseTTL is the retention of an entry stored with confidence 1.0.
var BaseTTL = map[string]time.Duration{
	NamespaceAIExtraction:   7 * 24 * time.Hour,
	NamespacePageStructure:  30 * 24 * time.Hour,
	NamespaceMarketAnalysis: 6 * time.Hour,
}

const (
	defaultTTL = 24 * time.Hour
	// minTTLFactor floors the confidence scaling of a TTL.
	minTTLFactor = 0.1
	// DefaultSimilarity is the freshness threshold below which a cached
	// entry is considered stale.
	DefaultSimilarity = 0.8
)

// Outcomes counted per namespace.
const (
	OutcomeHit           = "hit"
	OutcomeMiss          = "miss"
	OutcomeStore         = "store"
	OutcomeInvalidated   = "invalidated"
	OutcomeLowConfidence = "low_confidence"
)

// TTLFor returns baseTTL(ns) × max(0.1, confidence), rounded to seconds.
func TTLFor(ns string, confidence float64) time.Duration {
	base, ok := BaseTTL[ns]
	if !ok {
		base = defaultTTL
	}
	f := math.Min(1, math.Max(minTTLFactor, confidence))
	return time.Duration(math.Round(base.Seconds()*f)) * time.Second
}

// entry is the stored envelope of a cached value.
type entry struct {
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
	Sketch     []uint64        `json:"sketch,omitempty"`
	StoredAt   time.Time       `json:"stored_at"`
}

// Cache is the namespaced result cache.
type Cache struct {
	rdb     *redis.Client
	logger  *utils.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a Cache on top of rdb.
func New(rdb *redis.Client, logger *utils.Logger, m *metrics.Metrics, opts ...Option) *Cache {
	c := &Cache{rdb: rdb, logger: logger, metrics: m, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func entryKey(ns, key string) string {
	return fmt.Sprintf("cache:%s:%s", ns, key)
}

// PutOption configures a Put.
type PutOption func(*entry)

// WithSketch stores a similarity sketch of content next to the value so a
// later Get can tell whether the source changed.
func WithSketch(content string) PutOption {
	return func(e *entry) { e.Sketch = Sketch(content) }
}

// Put stores value under ns/key with a TTL scaled by confidence.
func (c *Cache) Put(ctx context.Context, ns, key string, value any, confidence float64, opts ...PutOption) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal %s: %w", ns, err)
	}
	e := entry{Value: raw, Confidence: confidence, StoredAt: c.now().UTC()}
	for _, o := range opts {
		o(&e)
	}

	ttl := TTLFor(ns, confidence)
	if err := c.putEntry(ctx, ns, key, &e, ttl); err != nil {
		return err
	}
	c.record(ctx, ns, OutcomeStore)
	c.logger.Debug("[cache] stored %s/%s confidence=%.2f ttl=%v", ns, key, confidence, ttl)
	return nil
}

func (c *Cache) putEntry(ctx context.Context, ns, key string, e *entry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := c.rdb.Set(ctx, entryKey(ns, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s/%s: %w", ns, key, err)
	}
	return nil
}

func (c *Cache) getEntry(ctx context.Context, ns, key string) (*entry, error) {
	data, err := c.rdb.Get(ctx, entryKey(ns, key)).Bytes()
	if err != nil {
		return nil, err
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = c.rdb.Del(ctx, entryKey(ns, key)).Err()
		return nil, fmt.Errorf("cache: corrupt entry %s/%s: %w", ns, key, err)
	}
	return &e, nil
}

// GetOption configures a Get.
type GetOption func(*getOptions)

type getOptions struct {
	content   string
	threshold float64
}

// WithFreshness compares the stored sketch against content; an entry whose
// similarity falls below threshold is evicted and counted as invalidated.
func WithFreshness(content string, threshold float64) GetOption {
	return func(o *getOptions) {
		o.content = content
		o.threshold = threshold
	}
}

// Get loads ns/key into dst. It reports false on a miss, on a stored
// confidence below minConfidence, and on a failed freshness check. Redis
// errors are logged and treated as misses.
func (c *Cache) Get(ctx context.Context, ns, key string, minConfidence float64, dst any, opts ...GetOption) bool {
	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	e, err := c.getEntry(ctx, ns, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("[cache] get %s/%s: %v", ns, key, err)
		}
		c.record(ctx, ns, OutcomeMiss)
		return false
	}

	if e.Confidence < minConfidence {
		c.record(ctx, ns, OutcomeLowConfidence)
		return false
	}

	if o.content != "" && len(e.Sketch) > 0 {
		sim := Similarity(e.Sketch, Sketch(o.content))
		if sim < o.threshold {
			_ = c.rdb.Del(ctx, entryKey(ns, key)).Err()
			c.record(ctx, ns, OutcomeInvalidated)
			c.logger.Debug("[cache] invalidated %s/%s similarity=%.2f", ns, key, sim)
			return false
		}
	}

	if err := json.Unmarshal(e.Value, dst); err != nil {
		c.logger.Warn("[cache] decode %s/%s: %v", ns, key, err)
		c.record(ctx, ns, OutcomeMiss)
		return false
	}

	c.record(ctx, ns, OutcomeHit)
	return true
}

// Invalidate removes ns/key.
func (c *Cache) Invalidate(ctx context.Context, ns, key string) error {
	if err := c.rdb.Del(ctx, entryKey(ns, key)).Err(); err != nil {
		return fmt.Errorf("cache: del %s/%s: %w", ns, key, err)
	}
	c.record(ctx, ns, OutcomeInvalidated)
	return nil
}

func marshalValue(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cache: marshal value: %w", err)
	}
	return raw, nil
}

func unmarshalValue(e *entry, dst any) error {
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return fmt.Errorf("cache: decode value: %w", err)
	}
	return nil
}
