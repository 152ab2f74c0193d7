package caixa

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"imovel-scraper/extractor"
	"imovel-scraper/models"
	"imovel-scraper/utils"
)

// FeedDelimiter separates fields in the catalog feed.
const FeedDelimiter = ';'

// codeColumns are the folded header names that hold the listing code.
var codeColumns = []string{"n° do imovel", "no do imovel", "numero do imovel", "codigo do imovel", "codigo"}

// ErrNoHeader is returned when no line of the feed looks like a header.
var ErrNoHeader = errors.New("caixa: feed has no header with a listing code column")

// FeedRow is one listing line of the catalog feed, keyed by header name.
type FeedRow struct {
	Code   string
	Fields map[string]string
}

// Feed is a decoded catalog feed.
type Feed struct {
	Header   []string
	Rows     []FeedRow
	Encoding string
	Skipped  int
	// Text is the UTF-8 feed content, kept for fingerprinting.
	Text string
}

// Codes returns the listing codes in feed order.
func (f *Feed) Codes() []string {
	codes := make([]string, len(f.Rows))
	for i, r := range f.Rows {
		codes[i] = r.Code
	}
	return codes
}

// DecodeFeed converts the raw feed to UTF-8. Content that is already valid
// UTF-8 is kept; anything else is read as ISO-8859-1.
func DecodeFeed(raw []byte) (string, string, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), "UTF-8", nil
	}
	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), raw)
	if err != nil {
		return "", "", fmt.Errorf("caixa: decode feed: %w", err)
	}
	return string(out), "ISO-8859-1", nil
}

// ParseFeed decodes and parses the catalog feed. Lines before the header
// (the published file starts with a title line) are ignored, as are rows
// whose field count differs from the header's.
func ParseFeed(raw []byte) (*Feed, error) {
	text, enc, err := DecodeFeed(raw)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = FeedDelimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	feed := &Feed{Encoding: enc, Text: text}
	codeIdx := -1
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			feed.Skipped++
			continue
		}

		if feed.Header == nil {
			if idx := findCodeColumn(record); idx >= 0 {
				feed.Header = trimAll(record)
				codeIdx = idx
			}
			continue
		}

		if blank(record) {
			continue
		}
		if len(record) != len(feed.Header) {
			feed.Skipped++
			continue
		}

		row := FeedRow{Fields: make(map[string]string, len(record))}
		for i, v := range record {
			row.Fields[feed.Header[i]] = strings.TrimSpace(v)
		}
		row.Code = row.Fields[feed.Header[codeIdx]]
		if row.Code == "" {
			feed.Skipped++
			continue
		}
		feed.Rows = append(feed.Rows, row)
	}

	if feed.Header == nil {
		return nil, ErrNoHeader
	}
	return feed, nil
}

func findCodeColumn(record []string) int {
	for i, col := range record {
		name := utils.Fold(strings.TrimSpace(col))
		for _, alias := range codeColumns {
			if name == alias {
				return i
			}
		}
	}
	return -1
}

func trimAll(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.TrimSpace(v)
	}
	return out
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Get returns the value of the first column whose folded name equals one
// of names.
func (r FeedRow) Get(names ...string) string {
	for _, n := range names {
		want := utils.Fold(n)
		for k, v := range r.Fields {
			if utils.Fold(k) == want {
				return v
			}
		}
	}
	return ""
}

// Listing maps the row onto a catalog-only listing record.
func (r FeedRow) Listing() models.ListingRecord {
	l := models.ListingRecord{
		Code:         r.Code,
		State:        r.Get("UF"),
		City:         r.Get("Cidade"),
		Neighborhood: r.Get("Bairro"),
		Address:      r.Get("Endereço"),
		Description:  r.Get("Descrição"),
		SaleModality: r.Get("Modalidade de venda"),
		Link:         r.Get("Link de acesso", "Link"),
		Source:       models.SourceCatalogFeed,
	}
	if v, ok := extractor.ParsePrice(r.Get("Preço", "Valor de venda")); ok {
		l.SaleValue = &v
	}
	if v, ok := extractor.ParsePrice(r.Get("Valor de avaliação")); ok {
		l.AppraisalValue = &v
	}
	return l
}
