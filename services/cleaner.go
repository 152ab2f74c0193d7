package services

import (
	"math"
	"strings"
	"unicode"

	"imovel-scraper/models"
	"imovel-scraper/utils"
)

// Plausibility bounds for extracted numbers.
const (
	maxPrice       = 1e10
	maxArea        = 1e7
	maxRoomCount   = 50
	maxDescription = 4000
)

// Cleaner validates and normalises extracted fields before they are
// persisted. Implausible values are dropped back to unknown rather than
// stored.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger}
}

// Clean normalises p in place and returns the names of the fields it
// dropped.
func (c *Cleaner) Clean(code string, p *models.PartialRecord) []string {
	var dropped []string
	drop := func(field string) { dropped = append(dropped, field) }

	if !validPrice(p.SaleValue) {
		p.SaleValue = nil
		drop(models.FieldSaleValue)
	}
	if !validPrice(p.AppraisalValue) {
		p.AppraisalValue = nil
		drop(models.FieldAppraisalValue)
	}
	if !validArea(p.PrivateArea) {
		p.PrivateArea = nil
		drop(models.FieldPrivateArea)
	}
	if !validArea(p.TotalArea) {
		p.TotalArea = nil
		drop(models.FieldTotalArea)
	}
	if !validCount(p.Bedrooms) {
		p.Bedrooms = nil
		drop(models.FieldBedrooms)
	}
	if !validCount(p.Bathrooms) {
		p.Bathrooms = nil
		drop(models.FieldBathrooms)
	}
	if !validCount(p.ParkingSpaces) {
		p.ParkingSpaces = nil
		drop(models.FieldParking)
	}

	p.Description = normaliseText(p.Description, maxDescription)
	p.FullAddress = normaliseText(p.FullAddress, 0)
	p.SaleModality = normaliseText(p.SaleModality, 0)
	p.SaleSituation = normaliseText(p.SaleSituation, 0)
	p.Occupancy = normaliseText(p.Occupancy, 0)
	p.PropertyType = normaliseText(p.PropertyType, 0)
	p.RegistryNumber = normaliseRegistry(p.RegistryNumber)

	if len(dropped) > 0 {
		c.logger.Warn("[cleaner] %s: dropped implausible %s", code, strings.Join(dropped, ", "))
	}
	return dropped
}

func validPrice(v *float64) bool {
	if v == nil {
		return true
	}
	return *v > 0 && *v < maxPrice && !math.IsNaN(*v)
}

func validArea(v *float64) bool {
	if v == nil {
		return true
	}
	return *v > 0 && *v < maxArea && !math.IsNaN(*v)
}

func validCount(v *int) bool {
	if v == nil {
		return true
	}
	return *v >= 0 && *v <= maxRoomCount
}

// normaliseText collapses whitespace and cuts the text at limit runes when
// limit is positive. Blank text becomes nil.
func normaliseText(s *string, limit int) *string {
	if s == nil {
		return nil
	}
	out := utils.CollapseSpace(*s)
	if out == "" {
		return nil
	}
	if limit > 0 {
		if r := []rune(out); len(r) > limit {
			out = string(r[:limit])
		}
	}
	return &out
}

// normaliseRegistry keeps the registry number as printed but strips the
// surrounding punctuation some pages add.
func normaliseRegistry(s *string) *string {
	s = normaliseText(s, 0)
	if s == nil {
		return nil
	}
	out := strings.TrimFunc(*s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if out == "" {
		return nil
	}
	return &out
}
