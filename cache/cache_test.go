package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/metrics"
	"imovel-scraper/utils"
)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, utils.NewNopLogger(), metrics.New(nil), opts...), mr
}

type payload struct {
	Name string `json:"name"`
}

func TestTTLFor(t *testing.T) {
	base := BaseTTL[NamespaceAIExtraction]
	tests := []struct {
		confidence float64
		want       time.Duration
	}{
		{1.0, base},
		{0.5, base / 2},
		{0.05, base / 10},
		{0, base / 10},
		{3, base},
	}
	for _, tt := range tests {
		if got := TTLFor(NamespaceAIExtraction, tt.confidence); got != tt.want {
			t.Errorf("TTLFor(%v): got %v, want %v", tt.confidence, got, tt.want)
		}
	}
	assert.Equal(t, 24*time.Hour, TTLFor("unknown", 1))
}

func TestPutScalesTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NamespaceAIExtraction, "full", payload{"a"}, 1.0))
	require.NoError(t, c.Put(ctx, NamespaceAIExtraction, "floor", payload{"b"}, 0.05))

	assert.Equal(t, 7*24*time.Hour, mr.TTL(entryKey(NamespaceAIExtraction, "full")))
	assert.Equal(t, 7*24*time.Hour/10, mr.TTL(entryKey(NamespaceAIExtraction, "floor")))
}

func TestGetConfidenceGating(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, NamespaceAIExtraction, "k", payload{"x"}, 0.7))

	var got payload
	assert.False(t, c.Get(ctx, NamespaceAIExtraction, "k", 0.9, &got))
	assert.True(t, c.Get(ctx, NamespaceAIExtraction, "k", 0.5, &got))
	assert.Equal(t, "x", got.Name)

	s, err := c.Stats(ctx, NamespaceAIExtraction)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.LowConfidence)
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(0), s.Misses)
	assert.Equal(t, int64(1), s.Stores)
}

func TestGetMissCounted(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	var got payload
	assert.False(t, c.Get(ctx, NamespaceMarketAnalysis, "nothing", 0, &got))

	s, err := c.Stats(ctx, NamespaceMarketAnalysis)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Misses)
}

func TestGetFreshnessInvalidates(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	original := "valor minimo de venda r 95 000 00 modalidade venda direta online condicoes somente a vista imovel residencial"
	require.NoError(t, c.Put(ctx, NamespaceAIExtraction, "k", payload{"x"}, 1.0, WithSketch(original)))

	var got payload
	assert.True(t, c.Get(ctx, NamespaceAIExtraction, "k", 0.8, &got, WithFreshness(original, DefaultSimilarity)))

	changed := "completely different page about an apartment with garage and pool and many new sections added here"
	assert.False(t, c.Get(ctx, NamespaceAIExtraction, "k", 0.8, &got, WithFreshness(changed, DefaultSimilarity)))
	assert.False(t, mr.Exists(entryKey(NamespaceAIExtraction, "k")), "stale entry should be evicted")

	s, err := c.Stats(ctx, NamespaceAIExtraction)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Invalidated)
	assert.Equal(t, int64(1), s.Hits)
}

func TestCleanupFlushesLowHitRate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, NamespaceAIExtraction, "a", payload{"a"}, 1))
	require.NoError(t, c.Put(ctx, NamespaceMarketAnalysis, "m", payload{"m"}, 1))

	var got payload
	for i := 0; i < 110; i++ {
		c.Get(ctx, NamespaceAIExtraction, "missing", 0, &got)
	}
	for i := 0; i < 5; i++ {
		c.Get(ctx, NamespaceMarketAnalysis, "missing", 0, &got)
	}

	flushed, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{NamespaceAIExtraction}, flushed)
	assert.False(t, mr.Exists(entryKey(NamespaceAIExtraction, "a")))
	assert.True(t, mr.Exists(entryKey(NamespaceMarketAnalysis, "m")), "small samples are not trusted")

	s, err := c.Stats(ctx, NamespaceAIExtraction)
	require.NoError(t, err)
	assert.Zero(t, s.Observations())
}

func TestCleanupKeepsHealthyNamespace(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, NamespaceAIExtraction, "a", payload{"a"}, 1))

	var got payload
	for i := 0; i < 120; i++ {
		c.Get(ctx, NamespaceAIExtraction, "a", 0, &got)
	}
	flushed, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Empty(t, flushed)
}

func TestListingKey(t *testing.T) {
	assert.Equal(t, ListingKey("X1"), ListingKey("X1"))
	assert.NotEqual(t, ListingKey("X1"), ListingKey("X2"))
	assert.NotEqual(t, Hash("X1"), ListingKey("X1"))
}

func TestSimilarity(t *testing.T) {
	text := strings.Repeat("imovel residencial com tres quartos e garagem ", 10)
	assert.Equal(t, 1.0, Similarity(Sketch(text), Sketch(text)))
	assert.Equal(t, 1.0, Similarity(nil, nil))
	assert.Equal(t, 0.0, Similarity(Sketch(text), nil))

	other := "apartamento comercial sem vagas no centro da cidade perto do metro"
	assert.Less(t, Similarity(Sketch(text), Sketch(other)), 0.2)
}

func TestMarketAnalysisRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutMarketAnalysis(ctx, "SP/SAO PAULO", "apartamento", payload{"ok"}))
	var got payload
	require.True(t, c.MarketAnalysis(ctx, "SP/SAO PAULO", "apartamento", &got))
	assert.Equal(t, "ok", got.Name)
	assert.Equal(t, 6*time.Hour, mr.TTL(entryKey(NamespaceMarketAnalysis, marketKey("SP/SAO PAULO", "apartamento"))))
}
