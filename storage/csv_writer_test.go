package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"imovel-scraper/models"
)

func TestCSVWriterWritesListings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	w, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}

	listings := []models.ListingRecord{
		{Code: "X1", City: "Recife", AcceptsFinancing: models.Bool(false), SaleValue: models.Float(150000),
			Source: models.SourceScrape, Confidence: 1},
		{Code: "X2", Source: models.SourceCatalogFeed},
	}
	if err := w.Write(listings); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(rows))
	}
	if rows[1][0] != "X1" || rows[1][6] != "nao" || rows[1][7] != "150000.00" {
		t.Errorf("row X1: got %v", rows[1])
	}
	if rows[2][6] != "" || rows[2][7] != "" {
		t.Errorf("row X2: unknown values must be empty, got %v", rows[2])
	}
}
