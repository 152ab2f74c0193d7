package models

// FinancingBreakdown counts listings by financing flag.
type FinancingBreakdown struct {
	Accepts  int `json:"accepts"`
	CashOnly int `json:"cash_only"`
	Unknown  int `json:"unknown"`
}

// Discount is the gap between appraisal and sale value of one listing.
type Discount struct {
	Code    string  `json:"code"`
	City    string  `json:"city"`
	Sale    float64 `json:"sale_value"`
	Percent float64 `json:"percent"`
}

// CatalogReport summarizes the stored catalog for operators.
type CatalogReport struct {
	TotalListings    int                `json:"total_listings"`
	Scraped          int                `json:"scraped"`
	CatalogOnly      int                `json:"catalog_only"`
	Failed           int                `json:"failed"`
	Financing        FinancingBreakdown `json:"financing"`
	AverageSaleValue float64            `json:"average_sale_value"`
	MinSaleValue     float64            `json:"min_sale_value"`
	MaxSaleValue     float64            `json:"max_sale_value"`
	ListingsByState  map[string]int     `json:"listings_by_state"`
	TopDiscounts     []Discount         `json:"top_discounts"`
	FailureReasons   []FailureReason    `json:"failure_reasons,omitempty"`
}
