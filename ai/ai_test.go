package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/cache"
	"imovel-scraper/config"
	"imovel-scraper/metrics"
	"imovel-scraper/models"
	"imovel-scraper/utils"
)

// fakeOracle replays scripted replies and counts calls.
type fakeOracle struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
	prompts []string
}

func (f *fakeOracle) Complete(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return r, nil
}

func newTestExtractor(t *testing.T, oracle Oracle, limits map[string]cache.Limit) *Extractor {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := utils.NewNopLogger()
	m := metrics.New(nil)
	cfg := &config.Config{AITimeout: time.Second, AIHTMLBudget: DefaultHTMLBudget}
	if limits == nil {
		limits = map[string]cache.Limit{cache.ServiceAI: {Limit: 100, Window: time.Hour}}
	}
	return NewExtractor(oracle, cache.New(rdb, logger, m), cache.NewRateGate(rdb, limits, logger, m), cfg, logger, m,
		WithRetryPolicy(&utils.RetryPolicy{MaxAttempts: 1}))
}

const detailPage = `<html><head><script>var x = 1;</script></head><body>
<div class="content"><span>Valor de venda</span><span>R$ 150.000,00</span></div>
<p>Imóvel com 2 quartos</p></body></html>`

const fullReply = `Claro! Aqui está:
{"aceita_financiamento": false, "valor_venda": 150000, "modalidade_venda": "Venda Online",
 "quartos": 2, "matricula": null, "desconhecido": "x"}
Espero ter ajudado.`

func TestExtractWithAIParsesAndCaches(t *testing.T) {
	oracle := &fakeOracle{replies: []string{fullReply}}
	e := newTestExtractor(t, oracle, nil)
	ctx := context.Background()

	p := e.ExtractWithAI(ctx, detailPage, "X123")
	require.NotNil(t, p.AcceptsFinancing)
	assert.False(t, *p.AcceptsFinancing)
	require.NotNil(t, p.SaleValue)
	assert.Equal(t, 150000.0, *p.SaleValue)
	require.NotNil(t, p.SaleModality)
	assert.Equal(t, "Venda Online", *p.SaleModality)
	require.NotNil(t, p.Bedrooms)
	assert.Equal(t, 2, *p.Bedrooms)
	assert.Nil(t, p.RegistryNumber)

	again := e.ExtractWithAI(ctx, detailPage, "X123")
	assert.Equal(t, p, again)
	assert.Equal(t, 1, oracle.calls, "second extraction must come from the cache")
}

func TestExtractWithAICacheIgnoresCosmeticChanges(t *testing.T) {
	oracle := &fakeOracle{replies: []string{fullReply}}
	e := newTestExtractor(t, oracle, nil)
	ctx := context.Background()

	e.ExtractWithAI(ctx, detailPage, "X123")
	cosmetic := strings.Replace(detailPage, "var x = 1;", "var x = 2; var t = 1700000000;", 1)
	cosmetic = strings.Replace(cosmetic, `class="content"`, `class="content" id="gen-93"`, 1)
	e.ExtractWithAI(ctx, cosmetic, "X123")

	assert.Equal(t, 1, oracle.calls)
}

func TestExtractWithAIChangedPageInvalidates(t *testing.T) {
	oracle := &fakeOracle{replies: []string{fullReply}}
	e := newTestExtractor(t, oracle, nil)
	ctx := context.Background()

	e.ExtractWithAI(ctx, detailPage, "X123")
	changed := `<html><body><table><tr><td>Apartamento em Salvador</td><td>Valor de avaliação R$ 310.000,00</td></tr>
<tr><td>Modalidade</td><td>Licitação Aberta</td></tr><tr><td>Aceita financiamento habitacional</td></tr></table></body></html>`
	e.ExtractWithAI(ctx, changed, "X123")
	assert.Equal(t, 2, oracle.calls, "a rewritten page must not reuse the old extraction")

	e.ExtractWithAI(ctx, changed, "X123")
	assert.Equal(t, 2, oracle.calls, "the fresh extraction is cached for the new page")
}

func TestExtractWithAIPartialResultNotReused(t *testing.T) {
	oracle := &fakeOracle{replies: []string{`{"valor_venda": 90000}`}}
	e := newTestExtractor(t, oracle, nil)
	ctx := context.Background()

	p := e.ExtractWithAI(ctx, detailPage, "X1")
	require.NotNil(t, p.SaleValue)
	e.ExtractWithAI(ctx, detailPage, "X1")

	assert.Equal(t, 2, oracle.calls, "an entry with 1/3 critical fields is below the reuse confidence")
}

func TestExtractWithAIRateGateDenied(t *testing.T) {
	oracle := &fakeOracle{replies: []string{fullReply}}
	e := newTestExtractor(t, oracle, map[string]cache.Limit{cache.ServiceAI: {Limit: 1, Window: time.Hour}})
	ctx := context.Background()

	e.ExtractWithAI(ctx, detailPage, "A")
	p := e.ExtractWithAI(ctx, "<p>outra página</p>", "B")

	assert.True(t, p.Empty())
	assert.Equal(t, 1, oracle.calls)
}

func TestExtractWithAIOracleFailure(t *testing.T) {
	e := newTestExtractor(t, &fakeOracle{err: errors.New("timeout")}, nil)
	p := e.ExtractWithAI(context.Background(), detailPage, "X")
	assert.True(t, p.Empty())
}

func TestExtractWithAIGarbageReply(t *testing.T) {
	e := newTestExtractor(t, &fakeOracle{replies: []string{"desculpe, não consigo"}}, nil)
	p := e.ExtractWithAI(context.Background(), detailPage, "X")
	assert.True(t, p.Empty())
}

func TestExtractWithAIWithoutOracle(t *testing.T) {
	e := newTestExtractor(t, nil, nil)
	p := e.ExtractWithAI(context.Background(), detailPage, "X")
	assert.True(t, p.Empty())
}

func TestExtractionPromptListsFields(t *testing.T) {
	oracle := &fakeOracle{replies: []string{fullReply}}
	e := newTestExtractor(t, oracle, nil)
	e.ExtractWithAI(context.Background(), detailPage, "X123")

	require.Len(t, oracle.prompts, 1)
	prompt := oracle.prompts[0]
	for _, f := range extractionManifest {
		assert.Contains(t, prompt, f.name)
	}
	assert.Contains(t, prompt, "X123")
	assert.NotContains(t, prompt, "var x")
}

func TestAnalyzeStructureChange(t *testing.T) {
	oracle := &fakeOracle{replies: []string{"```json\n" +
		`{"changes_detected": true, "severity": "high", "affected_fields": ["valor_venda"],` +
		` "recommended_actions": ["regenerar seletores"], "new_selectors_needed": true}` + "\n```"}}
	e := newTestExtractor(t, oracle, nil)

	a, ok := e.AnalyzeStructureChange(context.Background(), models.StructureSummary{}, models.StructureSummary{},
		models.Changes{{Type: models.ChangeTableCount, Old: 2, New: 1, Severity: models.SeverityHigh}}, detailPage)
	require.True(t, ok)
	assert.True(t, a.ChangesDetected)
	assert.True(t, a.NewSelectorsNeeded)
	assert.Equal(t, "high", a.Severity)
	assert.Equal(t, []string{"valor_venda"}, a.AffectedFields)
}

func TestGenerateSelectors(t *testing.T) {
	oracle := &fakeOracle{replies: []string{`{
		"aceita_financiamento": {"css": "#fin", "xpath": "//td[@id='fin']", "confidence": 0.9},
		"valor_venda": {"css": "td.valor", "xpath": "", "confidence": 0.8},
		"outro": {"css": "x"}
	}`}}
	e := newTestExtractor(t, oracle, nil)

	got := e.GenerateSelectors(context.Background(), detailPage, SelectorFields)
	assert.Equal(t, map[string][]string{
		models.FieldFinancing: {"//td[@id='fin']", "#fin"},
		models.FieldSaleValue: {"td.valor"},
	}, got)
}
