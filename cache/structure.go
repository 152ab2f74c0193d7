package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// promoteAfter is the number of trials before a selector set can be
	// promoted to full confidence.
	promoteAfter = 10
	// promoteRate is the success rate that promotes a selector set.
	promoteRate = 0.9
	// demoteRate is the success rate under which retention is cut to a tenth.
	demoteRate = 0.5
)

// SelectorSet is a cached group of candidate selectors for one page.
type SelectorSet struct {
	URL         string              `json:"url"`
	Selectors   map[string][]string `json:"selectors"`
	UsageCount  int                 `json:"usage_count"`
	Trials      int                 `json:"trials"`
	SuccessRate float64             `json:"success_rate"`
	Confidence  float64             `json:"confidence"`
	CachedAt    time.Time           `json:"cached_at"`
	LastUpdated time.Time           `json:"last_updated"`
}

func structureKey(url string) string {
	return Hash(url)
}

// PutSelectors caches candidate selectors for url at the given confidence.
func (c *Cache) PutSelectors(ctx context.Context, url string, selectors map[string][]string, confidence float64) error {
	now := c.now().UTC()
	set := SelectorSet{
		URL:         url,
		Selectors:   selectors,
		SuccessRate: 1.0,
		Confidence:  confidence,
		CachedAt:    now,
		LastUpdated: now,
	}
	return c.Put(ctx, NamespacePageStructure, structureKey(url), set, confidence)
}

// Selectors returns the cached selectors for url, counting the use. The
// remaining TTL is kept.
func (c *Cache) Selectors(ctx context.Context, url string) (*SelectorSet, bool) {
	var set SelectorSet
	if !c.Get(ctx, NamespacePageStructure, structureKey(url), 0, &set) {
		return nil, false
	}

	set.UsageCount++
	if err := c.rewriteSelectors(ctx, url, &set, redis.KeepTTL); err != nil {
		c.logger.Warn("[cache] usage count for %s: %v", url, err)
	}
	return &set, true
}

// UpdateStructureSuccessRate folds one trial outcome into the running
// success rate of the selectors cached for url. After enough good trials
// the set is promoted to confidence 1.0; a poor rate cuts its retention to
// a tenth of the namespace TTL.
func (c *Cache) UpdateStructureSuccessRate(ctx context.Context, url string, success bool) error {
	e, err := c.getEntry(ctx, NamespacePageStructure, structureKey(url))
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	var set SelectorSet
	if err := unmarshalValue(e, &set); err != nil {
		return err
	}

	s := 0.0
	if success {
		s = 1
	}
	set.SuccessRate = (set.SuccessRate*float64(set.Trials) + s) / float64(set.Trials+1)
	set.Trials++
	set.LastUpdated = c.now().UTC()

	ttl := TTLFor(NamespacePageStructure, set.Confidence)
	switch {
	case set.SuccessRate < demoteRate:
		ttl = BaseTTL[NamespacePageStructure] / 10
	case set.Trials >= promoteAfter && set.SuccessRate >= promoteRate && set.Confidence < 1:
		set.Confidence = 1
		ttl = BaseTTL[NamespacePageStructure]
		c.logger.Info("[cache] selectors for %s promoted after %d trials (rate %.2f)", url, set.Trials, set.SuccessRate)
	}

	c.logger.Debug("[cache] structure success rate %s: %.2f over %d trials", url, set.SuccessRate, set.Trials)
	return c.rewriteSelectors(ctx, url, &set, ttl)
}

func (c *Cache) rewriteSelectors(ctx context.Context, url string, set *SelectorSet, ttl time.Duration) error {
	raw, err := marshalValue(set)
	if err != nil {
		return err
	}
	e := entry{Value: raw, Confidence: set.Confidence, StoredAt: c.now().UTC()}
	if err := c.putEntry(ctx, NamespacePageStructure, structureKey(url), &e, ttl); err != nil {
		return fmt.Errorf("cache: rewrite selectors: %w", err)
	}
	return nil
}
