package extractor

import (
	"fmt"
	"math"

	"imovel-scraper/models"
)

// valueKind says how the matched text of a field is converted.
type valueKind int

const (
	kindText valueKind = iota
	kindPrice
	kindArea
	kindCount
	kindFinancing
)

// FieldRules is the ordered query list for one field. The first query whose
// first match converts to a value wins.
type FieldRules struct {
	Field   string
	Kind    valueKind
	Queries []string
}

// labelQueries builds the "value right after a label" queries for each label.
func labelQueries(labels ...string) []string {
	var qs []string
	for _, l := range labels {
		qs = append(qs,
			fmt.Sprintf(`//text()[contains(., "%s")]/following-sibling::text()[1]`, l),
			fmt.Sprintf(`//td[contains(text(), "%s")]/following-sibling::td[1]`, l),
			fmt.Sprintf(`//span[contains(text(), "%s")]/following-sibling::span[1]`, l),
			fmt.Sprintf(`//div[contains(text(), "%s")]/following-sibling::div[1]`, l),
			fmt.Sprintf(`//*[self::strong or self::b][contains(text(), "%s")]/following-sibling::text()[1]`, l),
		)
	}
	return qs
}

func withQueries(base []string, extra ...string) []string {
	return append(append([]string{}, base...), extra...)
}

// DefaultRules is the built-in rule set for detail pages.
var DefaultRules = []FieldRules{
	{Field: models.FieldFinancing, Kind: kindFinancing, Queries: labelQueries("Financiamento", "financiamento")},
	{Field: models.FieldAppraisalValue, Kind: kindPrice, Queries: labelQueries("Avaliação", "avaliação")},
	{Field: models.FieldSaleValue, Kind: kindPrice, Queries: labelQueries("Valor mínimo de venda", "Venda")},
	{Field: models.FieldDescription, Kind: kindText, Queries: []string{
		`//div[@class="descricao"]`,
		`//td[contains(@class, "descricao")]`,
	}},
	{Field: models.FieldFullAddress, Kind: kindText, Queries: withQueries(
		[]string{`//div[contains(@class, "endereco")]`},
		labelQueries("Endereço")...,
	)},
	{Field: models.FieldSaleModality, Kind: kindText, Queries: labelQueries("Modalidade")},
	{Field: models.FieldSaleSituation, Kind: kindText, Queries: labelQueries("Situação")},
	{Field: models.FieldOccupancy, Kind: kindText, Queries: labelQueries("Ocupação")},
	{Field: models.FieldRegistry, Kind: kindText, Queries: withQueries(
		labelQueries("Matrícula"),
		`//a[contains(@href, ".pdf")]/@href`,
	)},
	{Field: models.FieldPropertyType, Kind: kindText, Queries: labelQueries("Tipo de imóvel")},
	{Field: models.FieldPrivateArea, Kind: kindArea, Queries: labelQueries("Área privativa")},
	{Field: models.FieldTotalArea, Kind: kindArea, Queries: labelQueries("Área total")},
	{Field: models.FieldBedrooms, Kind: kindCount, Queries: labelQueries("Quartos")},
	{Field: models.FieldBathrooms, Kind: kindCount, Queries: labelQueries("Banheiros")},
	{Field: models.FieldParking, Kind: kindCount, Queries: labelQueries("Garagem", "Vagas")},
}

// kindOf returns the conversion used for a field name.
func kindOf(field string) valueKind {
	for _, r := range DefaultRules {
		if r.Field == field {
			return r.Kind
		}
	}
	return kindText
}

// assign converts text and stores it on p. It returns false when the text
// does not convert to a usable value.
func assign(p *models.PartialRecord, field string, kind valueKind, text string, rules FinancingRules) bool {
	v := cleanValue(text)
	if v == "" {
		return false
	}
	switch kind {
	case kindFinancing:
		b := rules.Decide(v)
		if b == nil {
			return false
		}
		p.AcceptsFinancing = b
	case kindPrice:
		f, ok := ParsePrice(v)
		if !ok {
			return false
		}
		setFloat(p, field, f)
	case kindArea:
		f, ok := ParseArea(v)
		if !ok {
			return false
		}
		setFloat(p, field, f)
	case kindCount:
		n, ok := ParseCount(v)
		if !ok {
			return false
		}
		setInt(p, field, n)
	default:
		setText(p, field, v)
	}
	return true
}

func setFloat(p *models.PartialRecord, field string, f float64) {
	switch field {
	case models.FieldSaleValue:
		p.SaleValue = &f
	case models.FieldAppraisalValue:
		p.AppraisalValue = &f
	case models.FieldPrivateArea:
		p.PrivateArea = &f
	case models.FieldTotalArea:
		p.TotalArea = &f
	}
}

func setInt(p *models.PartialRecord, field string, n int) {
	switch field {
	case models.FieldBedrooms:
		p.Bedrooms = &n
	case models.FieldBathrooms:
		p.Bathrooms = &n
	case models.FieldParking:
		p.ParkingSpaces = &n
	}
}

func setText(p *models.PartialRecord, field, s string) {
	switch field {
	case models.FieldDescription:
		p.Description = &s
	case models.FieldFullAddress:
		p.FullAddress = &s
	case models.FieldSaleModality:
		p.SaleModality = &s
	case models.FieldSaleSituation:
		p.SaleSituation = &s
	case models.FieldOccupancy:
		p.Occupancy = &s
	case models.FieldRegistry:
		p.RegistryNumber = &s
	case models.FieldPropertyType:
		p.PropertyType = &s
	}
}

// SetField converts text with the conversion registered for field and
// stores it on p. It reports false when nothing usable was found.
func SetField(p *models.PartialRecord, field, text string) bool {
	return assign(p, field, kindOf(field), text, DefaultFinancingRules)
}

// SetNumber stores a numeric value for field, rounding it for count fields.
// It reports false for fields that do not hold numbers.
func SetNumber(p *models.PartialRecord, field string, v float64) bool {
	switch kindOf(field) {
	case kindPrice, kindArea:
		setFloat(p, field, v)
	case kindCount:
		setInt(p, field, int(math.Round(v)))
	default:
		return false
	}
	return true
}
