package ai

import (
	"context"
	"fmt"
	"time"

	"imovel-scraper/cache"
	"imovel-scraper/config"
	"imovel-scraper/metrics"
	"imovel-scraper/models"
	"imovel-scraper/utils"
)

// cacheMinConfidence is the confidence a cached extraction needs to be reused.
const cacheMinConfidence = 0.8

// SelectorFields are the fields selector regeneration is asked for.
var SelectorFields = []string{models.FieldFinancing, models.FieldSaleValue, models.FieldSaleModality}

// StructureAnalysis is the oracle's qualitative opinion on a structure diff.
type StructureAnalysis struct {
	ChangesDetected    bool     `json:"changes_detected"`
	Severity           string   `json:"severity"`
	AffectedFields     []string `json:"affected_fields"`
	RecommendedActions []string `json:"recommended_actions"`
	NewSelectorsNeeded bool     `json:"new_selectors_needed"`
}

// selectorReply is one field of a selector generation reply.
type selectorReply struct {
	CSS        string  `json:"css"`
	XPath      string  `json:"xpath"`
	Confidence float64 `json:"confidence"`
}

// Extractor asks the oracle for what the rule cascade could not find. Every
// call is cached and rate gated, and no method returns an error: failures
// are logged and yield an empty result.
type Extractor struct {
	oracle  Oracle
	cache   *cache.Cache
	gate    *cache.RateGate
	logger  *utils.Logger
	metrics *metrics.Metrics
	timeout time.Duration
	budget  int
	retry   *utils.RetryPolicy
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithRetryPolicy replaces the retry policy wrapped around oracle calls.
func WithRetryPolicy(p *utils.RetryPolicy) Option {
	return func(e *Extractor) { e.retry = p }
}

// NewExtractor creates an Extractor. A nil oracle disables the fallback.
func NewExtractor(oracle Oracle, c *cache.Cache, gate *cache.RateGate, cfg *config.Config,
	logger *utils.Logger, m *metrics.Metrics, opts ...Option) *Extractor {
	e := &Extractor{
		oracle:  oracle,
		cache:   c,
		gate:    gate,
		logger:  logger,
		metrics: m,
		timeout: cfg.AITimeout,
		budget:  cfg.AIHTMLBudget,
		retry: &utils.RetryPolicy{
			MaxAttempts: 2,
			BaseDelay:   time.Second,
			Logger:      logger,
		},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractWithAI extracts listing fields from page with the oracle. Results
// are cached per listing code with the fraction of critical fields found as
// confidence, and dropped once the cleaned page drifts from the one they
// were extracted from.
func (e *Extractor) ExtractWithAI(ctx context.Context, page, code string) models.PartialRecord {
	var p models.PartialRecord
	if e.oracle == nil {
		e.count("unavailable")
		return p
	}

	cleaned := CleanHTML(page, e.budget)
	key := cache.ListingKey(code)
	if e.cache.Get(ctx, cache.NamespaceAIExtraction, key, cacheMinConfidence, &p,
		cache.WithFreshness(cleaned, cache.DefaultSimilarity)) {
		e.logger.Debug("[ai] %s: cached extraction", code)
		e.count("cached")
		return p
	}
	p = models.PartialRecord{}

	if !e.gate.Allow(ctx, cache.ServiceAI, "extraction") {
		e.logger.Warn("[ai] %s: rate gate denied extraction", code)
		e.count("denied")
		return p
	}

	reply, err := e.complete(ctx, "extract "+code, extractionPrompt(cleaned, code))
	if err != nil {
		e.logger.Error("[ai] %s: extraction failed: %v", code, err)
		e.count("failed")
		return p
	}

	p = ParseReply(reply)
	if p.Empty() {
		e.logger.Warn("[ai] %s: reply held no usable fields", code)
		e.count("failed")
		return p
	}

	confidence := float64(p.Found(models.CriticalFields)) / float64(len(models.CriticalFields))
	if err := e.cache.Put(ctx, cache.NamespaceAIExtraction, key, p, confidence, cache.WithSketch(cleaned)); err != nil {
		e.logger.Warn("[ai] %s: cache store: %v", code, err)
	}
	e.logger.Info("[ai] %s: extracted %d/%d critical fields", code,
		p.Found(models.CriticalFields), len(models.CriticalFields))
	e.count("called")
	return p
}

// AnalyzeStructureChange asks the oracle for a second opinion on a detected
// structure diff. ok is false when no opinion could be obtained.
func (e *Extractor) AnalyzeStructureChange(ctx context.Context, previous, current models.StructureSummary,
	changes models.Changes, page string) (*StructureAnalysis, bool) {
	if e.oracle == nil {
		return nil, false
	}
	if !e.gate.Allow(ctx, cache.ServiceAI, "structure") {
		e.logger.Warn("[ai] rate gate denied structure analysis")
		e.count("denied")
		return nil, false
	}

	cleaned := ""
	if page != "" {
		cleaned = CleanHTML(page, e.budget)
	}
	reply, err := e.complete(ctx, "structure analysis", structurePrompt(previous, current, changes, cleaned))
	if err != nil {
		e.logger.Error("[ai] structure analysis failed: %v", err)
		e.count("failed")
		return nil, false
	}

	var a StructureAnalysis
	if !decodeObject(reply, &a) {
		e.logger.Warn("[ai] structure analysis reply is not JSON")
		e.count("failed")
		return nil, false
	}
	e.count("called")
	return &a, true
}

// GenerateSelectors asks the oracle for candidate selectors of fields on
// page. Each field maps to its XPath candidate followed by its CSS one.
func (e *Extractor) GenerateSelectors(ctx context.Context, page string, fields []string) map[string][]string {
	if e.oracle == nil || len(fields) == 0 {
		return nil
	}
	if !e.gate.Allow(ctx, cache.ServiceAI, "selectors") {
		e.logger.Warn("[ai] rate gate denied selector generation")
		e.count("denied")
		return nil
	}

	reply, err := e.complete(ctx, "selector generation", selectorPrompt(CleanHTML(page, e.budget), fields))
	if err != nil {
		e.logger.Error("[ai] selector generation failed: %v", err)
		e.count("failed")
		return nil
	}

	var raw map[string]selectorReply
	if !decodeObject(reply, &raw) {
		e.logger.Warn("[ai] selector reply is not JSON")
		e.count("failed")
		return nil
	}

	out := make(map[string][]string)
	for _, f := range fields {
		s, ok := raw[f]
		if !ok {
			continue
		}
		var cands []string
		if s.XPath != "" {
			cands = append(cands, s.XPath)
		}
		if s.CSS != "" {
			cands = append(cands, s.CSS)
		}
		if len(cands) > 0 {
			out[f] = cands
		}
	}
	e.count("called")
	return out
}

// complete calls the oracle under the retry policy, each attempt bounded by
// the AI timeout.
func (e *Extractor) complete(ctx context.Context, op, prompt string) (string, error) {
	var reply string
	err := e.retry.Do(ctx, "ai "+op, func(ctx context.Context, _ int) error {
		callCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}
		r, err := e.oracle.Complete(callCtx, prompt)
		if err != nil {
			return err
		}
		reply = r
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ai: %w", err)
	}
	return reply, nil
}

func (e *Extractor) count(outcome string) {
	if e.metrics != nil {
		e.metrics.AIExtractions.WithLabelValues(outcome).Inc()
	}
}
