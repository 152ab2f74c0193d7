package cache

import "context"

func marketKey(region, propertyType string) string {
	return Hash(region + "|" + propertyType)
}

// PutMarketAnalysis caches a market analysis for a region and property type.
func (c *Cache) PutMarketAnalysis(ctx context.Context, region, propertyType string, analysis any) error {
	return c.Put(ctx, NamespaceMarketAnalysis, marketKey(region, propertyType), analysis, 1.0)
}

// MarketAnalysis loads a cached market analysis into dst.
func (c *Cache) MarketAnalysis(ctx context.Context, region, propertyType string, dst any) bool {
	return c.Get(ctx, NamespaceMarketAnalysis, marketKey(region, propertyType), 0, dst)
}
