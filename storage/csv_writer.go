package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"imovel-scraper/models"
)

// csvHeader is the column order of the listing export.
var csvHeader = []string{
	"code", "uf", "cidade", "bairro", "endereco", "modalidade_venda", "aceita_financiamento",
	"valor_venda", "valor_avaliacao", "tipo_imovel", "ocupacao", "area_privativa", "quartos",
	"source", "confidence", "scraped_at", "scrape_attempts", "scrape_status", "last_scrape_error", "link",
}

// CSVWriter writes listings to a CSV file for operator inspection.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// Write appends one row per listing. Unknown values are left empty; the
// financing flag is written as sim, nao or empty.
func (c *CSVWriter) Write(listings []models.ListingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range listings {
		if err := c.writer.Write(csvRow(&listings[i])); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

func csvRow(l *models.ListingRecord) []string {
	return []string{
		l.Code,
		l.State,
		l.City,
		l.Neighborhood,
		l.Address,
		l.SaleModality,
		financingText(l.AcceptsFinancing),
		floatText(l.SaleValue),
		floatText(l.AppraisalValue),
		stringText(l.PropertyType),
		stringText(l.Occupancy),
		floatText(l.PrivateArea),
		intText(l.Bedrooms),
		string(l.Source),
		strconv.FormatFloat(l.Confidence, 'f', 2, 64),
		timeText(l.ScrapedAt),
		strconv.Itoa(l.ScrapeAttempts),
		string(l.ScrapeStatus),
		stringText(l.LastScrapeError),
		l.Link,
	}
}

func financingText(b *bool) string {
	switch {
	case b == nil:
		return ""
	case *b:
		return "sim"
	default:
		return "nao"
	}
}

func floatText(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}

func intText(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func stringText(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timeText(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
