package detector

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovel-scraper/ai"
	"imovel-scraper/cache"
	"imovel-scraper/models"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/storage"
	"imovel-scraper/utils"
)

type fakeAdvisor struct {
	mu        sync.Mutex
	analyses  int
	generated int
	needNew   bool
}

func (f *fakeAdvisor) AnalyzeStructureChange(_ context.Context, _, _ models.StructureSummary,
	_ models.Changes, _ string) (*ai.StructureAnalysis, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses++
	return &ai.StructureAnalysis{ChangesDetected: true, Severity: "high", NewSelectorsNeeded: f.needNew}, true
}

func (f *fakeAdvisor) GenerateSelectors(_ context.Context, _ string, fields []string) map[string][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	out := make(map[string][]string)
	for _, field := range fields {
		out[field] = []string{"//td[@id='" + field + "']"}
	}
	return out
}

type fakeSelectorCache struct {
	url        string
	selectors  map[string][]string
	confidence float64
}

func (f *fakeSelectorCache) PutSelectors(_ context.Context, url string, selectors map[string][]string, confidence float64) error {
	f.url, f.selectors, f.confidence = url, selectors, confidence
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	changed []string
	failed  []string
}

func (f *fakeNotifier) StructureChanged(_ context.Context, subject string, _ models.Severity, _ models.Changes) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, subject)
}

func (f *fakeNotifier) ListingFailed(_ context.Context, code, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, code)
}

type testRig struct {
	det       *Detector
	store     *storage.MemoryStore
	advisor   *fakeAdvisor
	selectors *fakeSelectorCache
	notifier  *fakeNotifier
	now       time.Time
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	r := &testRig{
		store:     storage.NewMemoryStore(),
		advisor:   &fakeAdvisor{needNew: true},
		selectors: &fakeSelectorCache{},
		notifier:  &fakeNotifier{},
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	r.det = New(r.store, r.advisor, r.selectors, r.notifier, utils.NewNopLogger(), nil,
		WithClock(func() time.Time {
			r.now = r.now.Add(time.Minute)
			return r.now
		}))
	return r
}

func pageWithRows(rows int) string {
	var sb strings.Builder
	sb.WriteString("<html><body><h1>Imóvel</h1><table>")
	for i := 0; i < rows; i++ {
		sb.WriteString("<tr><td>Campo</td><td>Valor</td></tr>")
	}
	sb.WriteString("</table><p>Aceita financiamento</p></body></html>")
	return sb.String()
}

const listingURL = "https://venda-imoveis.caixa.gov.br/sistema/detalhe-imovel.asp?hdnimovel=X123"

func TestDetectPageStateMachine(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	res, err := r.det.DetectPage(ctx, listingURL, pageWithRows(4))
	require.NoError(t, err)
	assert.Equal(t, ReasonBaseline, res.Reason)
	assert.Equal(t, models.StateStable, res.State)
	assert.Equal(t, 1.0, res.Snapshot.Confidence)
	assert.Nil(t, res.Snapshot.ParentID)
	baselineID := res.Snapshot.ID

	res, err = r.det.DetectPage(ctx, listingURL, pageWithRows(4))
	require.NoError(t, err)
	assert.Equal(t, ReasonIdentical, res.Reason)
	assert.False(t, res.Changed)
	assert.Equal(t, models.StateStable, res.State)

	res, err = r.det.DetectPage(ctx, listingURL, pageWithRows(5))
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, models.StateDrifted, res.State)
	assert.Equal(t, models.SeverityHigh, res.Severity)
	assert.Equal(t, 0.5, res.Snapshot.Confidence)
	require.NotNil(t, res.Snapshot.ParentID)
	assert.Equal(t, baselineID, *res.Snapshot.ParentID)
	require.NotNil(t, res.Event)
	assert.Equal(t, models.EventPageStructureChange, res.Event.Type)
	assert.True(t, res.Event.RequiresAttention)
	require.NotNil(t, res.Analysis)

	assert.Equal(t, 1, r.advisor.analyses)
	assert.Equal(t, 1, r.advisor.generated)
	assert.Equal(t, listingURL, r.selectors.url)
	assert.Equal(t, 0.7, r.selectors.confidence)
	assert.Len(t, r.selectors.selectors, len(ai.SelectorFields))
	assert.Equal(t, []string{listingURL}, r.notifier.changed)

	for i := 1; i <= 2; i++ {
		res, err = r.det.DetectPage(ctx, listingURL, pageWithRows(5))
		require.NoError(t, err)
		assert.Equal(t, models.StateDrifted, res.State, "clean check %d", i)
		assert.False(t, res.Changed)
	}

	res, err = r.det.DetectPage(ctx, listingURL, pageWithRows(5))
	require.NoError(t, err)
	assert.Equal(t, ReasonPromoted, res.Reason)
	assert.Equal(t, models.StateStable, res.State)
	assert.Equal(t, 1.0, res.Snapshot.Confidence)

	chain, err := r.store.Chain(ctx, res.SubjectKey, models.PageStructure)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	for i := 1; i < len(chain); i++ {
		assert.False(t, chain[i].CapturedAt.Before(chain[i-1].CapturedAt))
		require.NotNil(t, chain[i].ParentID)
		assert.Equal(t, chain[i-1].ID, *chain[i].ParentID)
	}

	pending, err := r.store.PendingEvents(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestDetectPageDriftResetsCleanChecks(t *testing.T) {
	r := newTestRig(t)
	r.advisor.needNew = false
	ctx := context.Background()

	_, err := r.det.DetectPage(ctx, listingURL, pageWithRows(4))
	require.NoError(t, err)
	_, err = r.det.DetectPage(ctx, listingURL, pageWithRows(5))
	require.NoError(t, err)
	_, err = r.det.DetectPage(ctx, listingURL, pageWithRows(5))
	require.NoError(t, err)

	res, err := r.det.DetectPage(ctx, listingURL, pageWithRows(6))
	require.NoError(t, err)
	assert.Equal(t, models.StateDrifted, res.State)

	st, err := r.store.SubjectStatus(ctx, res.SubjectKey, models.PageStructure)
	require.NoError(t, err)
	assert.Equal(t, 0, st.CleanChecks)
	assert.Equal(t, 0, r.advisor.generated)
}

func TestDetectPageSnapshotsAreImmutable(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	first, err := r.det.DetectPage(ctx, listingURL, pageWithRows(4))
	require.NoError(t, err)
	first.Snapshot.Summary.Page.Counters.TotalElements = 9999

	stored, err := r.store.LatestSnapshot(ctx, first.SubjectKey, models.PageStructure)
	require.NoError(t, err)
	assert.NotEqual(t, 9999, stored.Summary.Page.Counters.TotalElements)
}

func TestDetectPageConcurrentObservations(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(rows int) {
			defer wg.Done()
			_, err := r.det.DetectPage(ctx, listingURL, pageWithRows(rows))
			errs <- err
		}(2 + i%2)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	chain, err := r.store.Chain(ctx, cache.Hash(listingURL), models.PageStructure)
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	assert.Nil(t, chain[0].ParentID)
	for i := 1; i < len(chain); i++ {
		require.NotNil(t, chain[i].ParentID)
		assert.Equal(t, chain[i-1].ID, *chain[i].ParentID)
	}
}

const feedV1 = "N° do imóvel;UF;Cidade\nX1;SP;SAO PAULO\nX2;RJ;NITEROI\n"

func TestDetectFeed(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	feed, err := caixa.ParseFeed([]byte(feedV1))
	require.NoError(t, err)
	res, err := r.det.DetectFeed(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, ReasonBaseline, res.Reason)
	assert.Equal(t, FeedSubject, res.SubjectKey)

	res, err = r.det.DetectFeed(ctx, feed)
	require.NoError(t, err)
	assert.Equal(t, ReasonIdentical, res.Reason)

	reordered, err := caixa.ParseFeed([]byte("Cidade;UF;N° do imóvel\nSAO PAULO;SP;X1\nNITEROI;RJ;X2\n"))
	require.NoError(t, err)
	res, err = r.det.DetectFeed(ctx, reordered)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, models.ChangeColumnsReorder, res.Changes[0].Type)
	require.NotNil(t, res.Event)
	assert.Equal(t, models.EventCSVStructureChange, res.Event.Type)
	assert.False(t, res.Event.RequiresAttention)
	assert.Equal(t, 0, r.advisor.analyses)
	assert.Empty(t, r.notifier.changed)
}
