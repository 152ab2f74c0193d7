package models

import "time"

// Source records how a listing's current field values were obtained.
type Source string

const (
	SourceCatalogFeed Source = "catalog_feed"
	SourceScrape      Source = "scrape"
	SourceManual      Source = "manual"
)

// ScrapeStatus is empty until a scrape fails; a later success moves it to active.
type ScrapeStatus string

const (
	StatusActive ScrapeStatus = "active"
	StatusFailed ScrapeStatus = "failed"
)

// ListingRecord is one property listing, keyed by its external code.
type ListingRecord struct {
	Code string `db:"code" json:"code"`

	// Catalog feed fields.
	State        string `db:"uf" json:"uf"`
	City         string `db:"cidade" json:"cidade"`
	Neighborhood string `db:"bairro" json:"bairro"`
	Address      string `db:"endereco" json:"endereco"`
	Description  string `db:"descricao" json:"descricao"`
	SaleModality string `db:"modalidade_venda" json:"modalidade_venda"`
	Link         string `db:"link" json:"link"`

	// Detail page fields.
	AcceptsFinancing *bool    `db:"aceita_financiamento" json:"aceita_financiamento"`
	SaleValue        *float64 `db:"valor_venda" json:"valor_venda"`
	AppraisalValue   *float64 `db:"valor_avaliacao" json:"valor_avaliacao"`
	FullAddress      *string  `db:"endereco_completo" json:"endereco_completo"`
	SaleSituation    *string  `db:"situacao_imovel" json:"situacao_imovel"`
	Occupancy        *string  `db:"ocupacao" json:"ocupacao"`
	PropertyType     *string  `db:"tipo_imovel" json:"tipo_imovel"`
	RegistryNumber   *string  `db:"matricula" json:"matricula"`
	PrivateArea      *float64 `db:"area_privativa" json:"area_privativa"`
	TotalArea        *float64 `db:"area_total" json:"area_total"`
	Bedrooms         *int     `db:"quartos" json:"quartos"`
	Bathrooms        *int     `db:"banheiros" json:"banheiros"`
	ParkingSpaces    *int     `db:"vagas_garagem" json:"vagas_garagem"`

	// Provenance.
	Source          Source       `db:"source" json:"source"`
	Confidence      float64      `db:"confidence" json:"confidence"`
	ScrapedAt       *time.Time   `db:"scraped_at" json:"scraped_at"`
	ScrapeAttempts  int          `db:"scrape_attempts" json:"scrape_attempts"`
	LastAttemptAt   *time.Time   `db:"last_attempt_at" json:"last_attempt_at"`
	LastScrapeError *string      `db:"last_scrape_error" json:"last_scrape_error"`
	ScrapeStatus    ScrapeStatus `db:"scrape_status" json:"scrape_status,omitempty"`
	FailedAt        *time.Time   `db:"failed_at" json:"failed_at"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`
}

// CatalogOnly reports whether the listing has only ever been seen in the feed.
func (l *ListingRecord) CatalogOnly() bool {
	return l.Source == SourceCatalogFeed && l.ScrapedAt == nil
}

// Apply copies every field present in p onto the record. Missing fields
// keep their previous value.
func (l *ListingRecord) Apply(p PartialRecord) {
	if p.AcceptsFinancing != nil {
		l.AcceptsFinancing = p.AcceptsFinancing
	}
	if p.SaleValue != nil {
		l.SaleValue = p.SaleValue
	}
	if p.AppraisalValue != nil {
		l.AppraisalValue = p.AppraisalValue
	}
	if p.Description != nil && *p.Description != "" {
		l.Description = *p.Description
	}
	if p.FullAddress != nil {
		l.FullAddress = p.FullAddress
	}
	if p.SaleModality != nil && *p.SaleModality != "" {
		l.SaleModality = *p.SaleModality
	}
	if p.SaleSituation != nil {
		l.SaleSituation = p.SaleSituation
	}
	if p.Occupancy != nil {
		l.Occupancy = p.Occupancy
	}
	if p.PropertyType != nil {
		l.PropertyType = p.PropertyType
	}
	if p.RegistryNumber != nil {
		l.RegistryNumber = p.RegistryNumber
	}
	if p.PrivateArea != nil {
		l.PrivateArea = p.PrivateArea
	}
	if p.TotalArea != nil {
		l.TotalArea = p.TotalArea
	}
	if p.Bedrooms != nil {
		l.Bedrooms = p.Bedrooms
	}
	if p.Bathrooms != nil {
		l.Bathrooms = p.Bathrooms
	}
	if p.ParkingSpaces != nil {
		l.ParkingSpaces = p.ParkingSpaces
	}
}

// HasAddress reports whether any address text is known for geocoding.
func (l *ListingRecord) HasAddress() bool {
	if l.FullAddress != nil && *l.FullAddress != "" {
		return true
	}
	return l.Address != ""
}

// RunSummary is the machine-readable outcome of a scrape command.
type RunSummary struct {
	RunID     string          `json:"run_id,omitempty"`
	Mode      string          `json:"mode"`
	Processed int             `json:"processed"`
	Errors    int             `json:"errors"`
	Skipped   int             `json:"skipped"`
	Deferred  int             `json:"deferred"`
	Total     int             `json:"total"`
	Failures  []FailureReason `json:"failures,omitempty"`
}

// FailureReason explains why one listing failed during a run.
type FailureReason struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}
