package detector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"imovel-scraper/models"
	"imovel-scraper/scraper/caixa"
	"imovel-scraper/utils"
)

const (
	// typeSampleRows bounds the rows inspected per column type guess.
	typeSampleRows = 100
	// typeRatio is the share of non-empty values a type needs to win.
	typeRatio = 0.8
	// sampleRows is the number of feed rows kept in the fingerprint.
	sampleRows = 5
)

// titleSelectors are probed for the page's heading text.
var titleSelectors = []string{"h1", "h2", ".title", ".header"}

// keyPhrases are the folded phrases counted in the page text.
var keyPhrases = []string{"financiamento", "leilao", "venda", "matricula"}

var (
	numericValue = regexp.MustCompile(`^[-+]?(R\$\s*)?[0-9][0-9.,]*%?$`)
	dateValue    = regexp.MustCompile(`^(\d{2}/\d{2}/\d{4}|\d{4}-\d{2}-\d{2})([ T]\d{2}:\d{2}(:\d{2})?)?$`)
)

// PageFingerprint extracts the structural fingerprint of a detail page.
func PageFingerprint(page string) (*models.PageFingerprint, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("detector: parse page: %w", err)
	}

	fp := &models.PageFingerprint{
		TitleSelectors: make(map[string]string),
		KeyPatterns:    make(map[string]int),
	}

	for _, sel := range titleSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			fp.TitleSelectors[sel] = utils.CollapseSpace(s.Text())
		}
	}

	doc.Find("table").Each(func(_ int, t *goquery.Selection) {
		fp.Tables = append(fp.Tables, models.TableShape{
			RowCount:  t.Find("tr").Length(),
			HasHeader: t.Find("th, thead").Length() > 0,
		})
	})

	doc.Find("form").Each(func(_ int, f *goquery.Selection) {
		fp.Forms = append(fp.Forms, models.FormShape{
			InputCount: f.Find("input, select, textarea").Length(),
			Action:     f.AttrOr("action", ""),
			Method:     strings.ToLower(f.AttrOr("method", "get")),
		})
	})

	text := utils.Fold(doc.Text())
	for _, phrase := range keyPhrases {
		if n := strings.Count(text, phrase); n > 0 {
			fp.KeyPatterns[phrase] = n
		}
	}

	fp.Counters = models.PageCounters{
		TotalElements: doc.Find("*").Length(),
		TableCount:    len(fp.Tables),
		FormCount:     len(fp.Forms),
		LinkCount:     doc.Find("a").Length(),
	}
	return fp, nil
}

// FeedFingerprint extracts the structural fingerprint of a catalog feed.
func FeedFingerprint(feed *caixa.Feed) *models.FeedFingerprint {
	fp := &models.FeedFingerprint{
		Columns:     append([]string(nil), feed.Header...),
		ColumnCount: len(feed.Header),
		RowCount:    len(feed.Rows),
		Delimiter:   string(caixa.FeedDelimiter),
		Encoding:    feed.Encoding,
		ColumnTypes: make(map[string]string, len(feed.Header)),
	}

	limit := min(len(feed.Rows), typeSampleRows)
	for _, col := range feed.Header {
		values := make([]string, 0, limit)
		for _, r := range feed.Rows[:limit] {
			values = append(values, r.Fields[col])
		}
		fp.ColumnTypes[col] = guessColumnType(values)
	}

	for _, r := range feed.Rows[:min(len(feed.Rows), sampleRows)] {
		row := make([]string, len(feed.Header))
		for i, col := range feed.Header {
			row[i] = r.Fields[col]
		}
		fp.Sample = append(fp.Sample, row)
	}
	return fp
}

// guessColumnType classifies a column as numeric, date, text or empty.
func guessColumnType(values []string) string {
	var nonEmpty, numeric, dates int
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		nonEmpty++
		if numericValue.MatchString(v) {
			numeric++
		}
		if dateValue.MatchString(v) {
			dates++
		}
	}
	switch {
	case nonEmpty == 0:
		return "empty"
	case float64(numeric)/float64(nonEmpty) > typeRatio:
		return "numeric"
	case float64(dates)/float64(nonEmpty) > typeRatio:
		return "date"
	}
	return "text"
}
