package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"imovel-scraper/models"
	"imovel-scraper/utils"
)

const topDiscounts = 5

type InsightService struct {
	logger *utils.Logger
}

func NewInsightService(logger *utils.Logger) *InsightService {
	return &InsightService{logger: logger}
}

func (s *InsightService) Generate(listings []models.ListingRecord) *models.CatalogReport {
	report := &models.CatalogReport{
		ListingsByState: make(map[string]int),
	}

	if len(listings) == 0 {
		return report
	}

	report.TotalListings = len(listings)

	var priced []models.ListingRecord
	var discounts []models.Discount

	for _, l := range listings {
		switch {
		case l.ScrapeStatus == models.StatusFailed:
			report.Failed++
			reason := ""
			if l.LastScrapeError != nil {
				reason = *l.LastScrapeError
			}
			report.FailureReasons = append(report.FailureReasons, models.FailureReason{Code: l.Code, Error: reason})
		case l.ScrapedAt != nil:
			report.Scraped++
		default:
			report.CatalogOnly++
		}

		switch {
		case l.AcceptsFinancing == nil:
			report.Financing.Unknown++
		case *l.AcceptsFinancing:
			report.Financing.Accepts++
		default:
			report.Financing.CashOnly++
		}

		if l.State != "" {
			report.ListingsByState[l.State]++
		}
		if l.SaleValue != nil && *l.SaleValue > 0 {
			priced = append(priced, l)
			if l.AppraisalValue != nil && *l.AppraisalValue > *l.SaleValue {
				discounts = append(discounts, models.Discount{
					Code:    l.Code,
					City:    l.City,
					Sale:    *l.SaleValue,
					Percent: round2((1 - *l.SaleValue / *l.AppraisalValue) * 100),
				})
			}
		}
	}

	// Sale value stats (only listings with a price)
	if len(priced) > 0 {
		report.MinSaleValue = *priced[0].SaleValue
		report.MaxSaleValue = *priced[0].SaleValue
		var total float64
		for _, l := range priced {
			v := *l.SaleValue
			total += v
			if v < report.MinSaleValue {
				report.MinSaleValue = v
			}
			if v > report.MaxSaleValue {
				report.MaxSaleValue = v
			}
		}
		report.AverageSaleValue = round2(total / float64(len(priced)))
		report.MinSaleValue = round2(report.MinSaleValue)
		report.MaxSaleValue = round2(report.MaxSaleValue)
	}

	sort.Slice(discounts, func(i, j int) bool {
		if discounts[i].Percent != discounts[j].Percent {
			return discounts[i].Percent > discounts[j].Percent
		}
		return discounts[i].Code < discounts[j].Code
	})
	if len(discounts) > topDiscounts {
		discounts = discounts[:topDiscounts]
	}
	report.TopDiscounts = discounts

	s.logger.Debug("[insights] report over %d listings", report.TotalListings)
	return report
}

func (s *InsightService) Print(w io.Writer, r *models.CatalogReport) {
	sep := strings.Repeat("═", 54)
	thin := strings.Repeat("─", 54)

	fmt.Fprintf(w, "\n%s\n", sep)
	fmt.Fprintf(w, "  CATALOG REPORT\n")
	fmt.Fprintf(w, "%s\n\n", sep)

	fmt.Fprintf(w, "  Overview\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Total listings : %d\n", r.TotalListings)
	fmt.Fprintf(w, "  Scraped        : %d\n", r.Scraped)
	fmt.Fprintf(w, "  Catalog only   : %d\n", r.CatalogOnly)
	fmt.Fprintf(w, "  Failed         : %d\n", r.Failed)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Financing\n")
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Accepts   : %d\n", r.Financing.Accepts)
	fmt.Fprintf(w, "  Cash only : %d\n", r.Financing.CashOnly)
	fmt.Fprintf(w, "  Unknown   : %d\n", r.Financing.Unknown)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Sale Values\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if r.AverageSaleValue > 0 {
		fmt.Fprintf(w, "  Average : R$ %.2f\n", r.AverageSaleValue)
		fmt.Fprintf(w, "  Minimum : R$ %.2f\n", r.MinSaleValue)
		fmt.Fprintf(w, "  Maximum : R$ %.2f\n", r.MaxSaleValue)
	} else {
		fmt.Fprintf(w, "  No price data available\n")
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Top %d Discounts\n", topDiscounts)
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.TopDiscounts) == 0 {
		fmt.Fprintf(w, "  No discounted listings found\n")
	} else {
		for i, d := range r.TopDiscounts {
			fmt.Fprintf(w, "  %d. %-14s %-24s %6.2f%%\n", i+1, d.Code, truncate(d.City, 22), d.Percent)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  Listings by State\n")
	fmt.Fprintf(w, "  %s\n", thin)
	if len(r.ListingsByState) == 0 {
		fmt.Fprintf(w, "  No location data\n")
	} else {
		type stateCount struct {
			state string
			count int
		}
		var states []stateCount
		for st, cnt := range r.ListingsByState {
			states = append(states, stateCount{st, cnt})
		}
		sort.Slice(states, func(i, j int) bool {
			if states[i].count != states[j].count {
				return states[i].count > states[j].count
			}
			return states[i].state < states[j].state
		})
		for _, sc := range states {
			fmt.Fprintf(w, "  %-4s %6d\n", sc.state, sc.count)
		}
	}

	if len(r.FailureReasons) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  Failed Listings\n")
		fmt.Fprintf(w, "  %s\n", thin)
		for _, f := range r.FailureReasons {
			fmt.Fprintf(w, "  %-14s %s\n", f.Code, truncate(f.Error, 36))
		}
	}

	fmt.Fprintf(w, "\n%s\n\n", sep)
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
