package cache

import (
	"context"
	"fmt"
	"strconv"
)

const (
	// cleanupMinObservations is the sample size below which a namespace's
	// hit rate is not trusted.
	cleanupMinObservations = 100
	// cleanupMinHitRate is the hit rate under which a namespace is flushed.
	cleanupMinHitRate = 0.3
)

// Stats are the counters of one namespace.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stores        int64 `json:"stores"`
	Invalidated   int64 `json:"invalidated"`
	LowConfidence int64 `json:"low_confidence"`
}

// Observations counts every Get, whatever its outcome.
func (s Stats) Observations() int64 {
	return s.Hits + s.Misses + s.Invalidated + s.LowConfidence
}

// HitRate is hits over observations, 0 without observations.
func (s Stats) HitRate() float64 {
	n := s.Observations()
	if n == 0 {
		return 0
	}
	return float64(s.Hits) / float64(n)
}

func statsKey(ns string) string {
	return "cache_stats:" + ns
}

// record bumps the outcome counter in Redis and Prometheus. Counter
// failures never reach the caller.
func (c *Cache) record(ctx context.Context, ns, outcome string) {
	if c.metrics != nil {
		c.metrics.CacheOutcomes.WithLabelValues(ns, outcome).Inc()
	}
	if err := c.rdb.HIncrBy(ctx, statsKey(ns), outcome, 1).Err(); err != nil {
		c.logger.Debug("[cache] stats %s/%s: %v", ns, outcome, err)
	}
}

// Stats returns the counters of ns.
func (c *Cache) Stats(ctx context.Context, ns string) (Stats, error) {
	vals, err := c.rdb.HGetAll(ctx, statsKey(ns)).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("cache: stats %s: %w", ns, err)
	}
	n := func(field string) int64 {
		v, _ := strconv.ParseInt(vals[field], 10, 64)
		return v
	}
	return Stats{
		Hits:          n(OutcomeHit),
		Misses:        n(OutcomeMiss),
		Stores:        n(OutcomeStore),
		Invalidated:   n(OutcomeInvalidated),
		LowConfidence: n(OutcomeLowConfidence),
	}, nil
}

// Cleanup flushes every namespace whose hit rate over more than 100
// observations is below 30% and resets its counters. It returns the
// flushed namespaces.
func (c *Cache) Cleanup(ctx context.Context) ([]string, error) {
	var flushed []string
	for _, ns := range Namespaces {
		s, err := c.Stats(ctx, ns)
		if err != nil {
			return flushed, err
		}
		if s.Observations() <= cleanupMinObservations || s.HitRate() >= cleanupMinHitRate {
			continue
		}

		n, err := c.Flush(ctx, ns)
		if err != nil {
			return flushed, err
		}
		if err := c.rdb.Del(ctx, statsKey(ns)).Err(); err != nil {
			return flushed, fmt.Errorf("cache: reset stats %s: %w", ns, err)
		}
		if c.metrics != nil {
			c.metrics.CacheFlushes.WithLabelValues(ns).Inc()
		}
		c.logger.Info("[cache] flushed %s: %d entries, hit rate %.2f over %d gets",
			ns, n, s.HitRate(), s.Observations())
		flushed = append(flushed, ns)
	}
	return flushed, nil
}

// Flush deletes every entry of ns and returns how many were removed.
func (c *Cache) Flush(ctx context.Context, ns string) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, entryKey(ns, "*"), 200).Result()
		if err != nil {
			return removed, fmt.Errorf("cache: scan %s: %w", ns, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("cache: flush %s: %w", ns, err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
