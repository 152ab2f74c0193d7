package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	processedTTL = 24 * time.Hour
	// reprocessAfter is how old a processed marker must be before the
	// listing is handled again when no modification time is known.
	reprocessAfter = 12 * time.Hour
)

func processedKey(code string) string {
	return "property_processed:" + code
}

// ShouldProcess reports whether a listing needs handling. A listing with no
// marker always does; with lastModified it does when modified after the
// marker; otherwise when the marker is older than 12 hours.
func (c *Cache) ShouldProcess(ctx context.Context, code string, lastModified *time.Time) bool {
	raw, err := c.rdb.Get(ctx, processedKey(code)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("[cache] processed marker %s: %v", code, err)
		}
		return true
	}
	processed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return true
	}
	if lastModified != nil {
		return lastModified.After(processed)
	}
	return processed.Before(c.now().Add(-reprocessAfter))
}

// MarkProcessed records that code was just handled.
func (c *Cache) MarkProcessed(ctx context.Context, code string) {
	stamp := c.now().UTC().Format(time.RFC3339Nano)
	if err := c.rdb.Set(ctx, processedKey(code), stamp, processedTTL).Err(); err != nil {
		c.logger.Warn("[cache] mark processed %s: %v", code, err)
	}
}
