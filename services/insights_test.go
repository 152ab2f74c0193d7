package services

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"imovel-scraper/models"
)

func sampleListings() []models.ListingRecord {
	scraped := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []models.ListingRecord{
		{Code: "A1", State: "SP", City: "SAO PAULO", SaleValue: models.Float(100000), AppraisalValue: models.Float(200000),
			AcceptsFinancing: models.Bool(true), ScrapedAt: &scraped},
		{Code: "A2", State: "SP", City: "CAMPINAS", SaleValue: models.Float(300000), AppraisalValue: models.Float(400000),
			AcceptsFinancing: models.Bool(false), ScrapedAt: &scraped},
		{Code: "B1", State: "RJ", City: "NITEROI", SaleValue: models.Float(50000)},
		{Code: "C1", State: "MG", ScrapeStatus: models.StatusFailed, LastScrapeError: models.String("fetch: HTTP 503")},
	}
}

func TestInsightCounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if r.TotalListings != 4 {
		t.Errorf("TotalListings: got %d, want 4", r.TotalListings)
	}
	if r.Scraped != 2 || r.CatalogOnly != 1 || r.Failed != 1 {
		t.Errorf("status counts: got scraped=%d catalog=%d failed=%d, want 2/1/1", r.Scraped, r.CatalogOnly, r.Failed)
	}
	if r.Financing != (models.FinancingBreakdown{Accepts: 1, CashOnly: 1, Unknown: 2}) {
		t.Errorf("Financing: got %+v", r.Financing)
	}
	if r.ListingsByState["SP"] != 2 {
		t.Errorf("ListingsByState[SP]: got %d, want 2", r.ListingsByState["SP"])
	}
	if len(r.FailureReasons) != 1 || r.FailureReasons[0].Error != "fetch: HTTP 503" {
		t.Errorf("FailureReasons: got %+v", r.FailureReasons)
	}
}

func TestInsightPrices(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	wantAvg := 150000.0
	if r.AverageSaleValue != wantAvg {
		t.Errorf("AverageSaleValue: got %.2f, want %.2f", r.AverageSaleValue, wantAvg)
	}
	if r.MinSaleValue != 50000 {
		t.Errorf("MinSaleValue: got %.2f, want 50000", r.MinSaleValue)
	}
	if r.MaxSaleValue != 300000 {
		t.Errorf("MaxSaleValue: got %.2f, want 300000", r.MaxSaleValue)
	}
}

func TestInsightTopDiscounts(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(sampleListings())
	if len(r.TopDiscounts) != 2 {
		t.Fatalf("TopDiscounts: got %d, want 2", len(r.TopDiscounts))
	}
	if r.TopDiscounts[0].Code != "A1" || r.TopDiscounts[0].Percent != 50 {
		t.Errorf("TopDiscounts[0]: got %+v, want A1 at 50%%", r.TopDiscounts[0])
	}
	if r.TopDiscounts[1].Percent != 25 {
		t.Errorf("TopDiscounts[1].Percent: got %.2f, want 25", r.TopDiscounts[1].Percent)
	}
}

func TestInsightEmpty(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	r := svc.Generate(nil)
	if r.TotalListings != 0 || r.AverageSaleValue != 0 {
		t.Errorf("empty report: got %+v", r)
	}
}

func TestInsightPrint(t *testing.T) {
	svc := NewInsightService(newTestLogger())
	var buf bytes.Buffer
	svc.Print(&buf, svc.Generate(sampleListings()))

	out := buf.String()
	for _, want := range []string{"Total listings : 4", "Cash only : 1", "R$ 150000.00", "A1", "fetch: HTTP 503"} {
		if !strings.Contains(out, want) {
			t.Errorf("Print output missing %q", want)
		}
	}
}
