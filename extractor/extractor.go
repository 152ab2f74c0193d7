package extractor

import (
	"maps"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"imovel-scraper/models"
	"imovel-scraper/utils"
)

// Extractor pulls structured fields out of a listing detail page with an
// ordered rule cascade. It holds no per-page state and is safe for
// concurrent use.
type Extractor struct {
	rules     []FieldRules
	financing FinancingRules
	keywords  []string
	logger    *utils.Logger
}

// New creates an Extractor with the built-in rules.
func New(logger *utils.Logger) *Extractor {
	return &Extractor{
		rules:     DefaultRules,
		financing: DefaultFinancingRules,
		keywords:  DefaultFinancingKeywords,
		logger:    logger,
	}
}

// WithFinancingRules returns a copy of e using rules for financing decisions.
func (e *Extractor) WithFinancingRules(rules FinancingRules) *Extractor {
	c := *e
	c.financing = rules
	return &c
}

// Extract runs the built-in rules over page and reports whether every
// critical field was found.
func (e *Extractor) Extract(page string) (models.PartialRecord, bool) {
	return e.ExtractWithCandidates(page, nil)
}

// ExtractWithCandidates runs the built-in rules, then tries candidate
// selectors (XPath when they start with "/" or "(", CSS otherwise) for the
// fields still missing.
func (e *Extractor) ExtractWithCandidates(page string, candidates map[string][]string) (models.PartialRecord, bool) {
	var p models.PartialRecord

	doc, err := htmlquery.Parse(strings.NewReader(page))
	if err != nil {
		e.logger.Warn("[extractor] parse failed: %v", err)
		return p, false
	}

	for _, fr := range e.rules {
		for _, q := range fr.Queries {
			text, ok := firstXPath(doc, q)
			if !ok {
				continue
			}
			if assign(&p, fr.Field, fr.Kind, text, e.financing) {
				e.logger.Debug("[extractor] %s matched %s", fr.Field, q)
				break
			}
		}
	}

	if p.AcceptsFinancing == nil {
		p.AcceptsFinancing = scanFinancing(utils.Fold(page), e.keywords, e.financing)
	}

	if len(candidates) > 0 {
		e.applyCandidates(doc, &p, candidates)
	}

	return p, p.Complete()
}

func (e *Extractor) applyCandidates(doc *html.Node, p *models.PartialRecord, candidates map[string][]string) {
	var gq *goquery.Document
	for _, field := range slices.Sorted(maps.Keys(candidates)) {
		if p.Has(field) {
			continue
		}
		for _, sel := range candidates[field] {
			var text string
			var ok bool
			if isXPath(sel) {
				text, ok = firstXPath(doc, sel)
			} else {
				if gq == nil {
					gq = goquery.NewDocumentFromNode(doc)
				}
				text, ok = firstCSS(gq, sel)
			}
			if ok && assign(p, field, kindOf(field), text, e.financing) {
				e.logger.Debug("[extractor] %s matched candidate %s", field, sel)
				break
			}
		}
	}
}

func isXPath(sel string) bool {
	return strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(")
}

// firstXPath returns the text of the first node matched by expr. Invalid
// expressions count as no match.
func firstXPath(doc *html.Node, expr string) (string, bool) {
	node, err := htmlquery.Query(doc, expr)
	if err != nil || node == nil {
		return "", false
	}
	text := htmlquery.InnerText(node)
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// firstCSS returns the text of the first element matched by sel. goquery
// matches nothing for a selector that does not compile.
func firstCSS(doc *goquery.Document, sel string) (string, bool) {
	s := doc.Find(sel).First()
	if s.Length() == 0 {
		return "", false
	}
	text := s.Text()
	return text, strings.TrimSpace(text) != ""
}
