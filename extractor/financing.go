package extractor

import "imovel-scraper/utils"

// PhraseKind tags a financing rule as asserting or denying financing.
type PhraseKind int

const (
	AffirmativePhrase PhraseKind = iota
	NegativePhrase
)

func (k PhraseKind) String() string {
	if k == AffirmativePhrase {
		return "affirmative"
	}
	return "negative"
}

// FinancingRule matches one phrase in accent-folded, lowercased text.
type FinancingRule struct {
	Kind   PhraseKind
	Phrase string
}

// Match reports whether the rule's phrase occurs in text as whole words.
// text must already be folded.
func (r FinancingRule) Match(text string) bool {
	return utils.ContainsPhrase(text, r.Phrase)
}

// Verdict is the financing value the rule asserts.
func (r FinancingRule) Verdict() bool {
	return r.Kind == AffirmativePhrase
}

// FinancingRules is an ordered rule list: the first matching rule decides.
type FinancingRules []FinancingRule

// DefaultFinancingRules puts negated and compound phrases ahead of the bare
// words they contain, so "nao aceita" is never read as "aceita".
var DefaultFinancingRules = FinancingRules{
	{NegativePhrase, "nao aceita"},
	{NegativePhrase, "financiamento: nao"},
	{NegativePhrase, "somente a vista"},
	{AffirmativePhrase, "financiamento: sim"},
	{AffirmativePhrase, "financiamento aceito"},
	{AffirmativePhrase, "permite financiamento"},
	{AffirmativePhrase, "aceita financiamento"},
	{AffirmativePhrase, "sim"},
	{AffirmativePhrase, "aceita"},
	{AffirmativePhrase, "aceito"},
	{NegativePhrase, "nao"},
	{NegativePhrase, "a vista"},
}

// Decide folds text and returns the verdict of the first matching rule,
// or nil when no rule matches.
func (rs FinancingRules) Decide(text string) *bool {
	folded := utils.Fold(text)
	for _, r := range rs {
		if r.Match(folded) {
			v := r.Verdict()
			return &v
		}
	}
	return nil
}

// DefaultFinancingKeywords are scanned over the whole page when no label
// based query found the financing field.
var DefaultFinancingKeywords = []string{
	"aceita financiamento",
	"financiamento aceito",
	"financiamento: sim",
	"financiamento: nao",
	"financiamento bancario",
	"a vista",
	"somente a vista",
}

const keywordContext = 100

// scanFinancing looks for the first keyword in the folded page and decides
// the financing flag from the text around it.
func scanFinancing(folded string, keywords []string, rules FinancingRules) *bool {
	for _, kw := range keywords {
		i := utils.IndexPhrase(folded, kw)
		if i < 0 {
			continue
		}
		return rules.Decide(contextAround(folded, i, len(kw), keywordContext))
	}
	return nil
}

func contextAround(s string, start, length, radius int) string {
	before := []rune(s[:start])
	after := []rune(s[start+length:])
	from := max(0, len(before)-radius)
	to := min(len(after), radius)
	return string(before[from:]) + s[start:start+length] + string(after[:to])
}
