package models

// Field names shared by the extraction rules, the AI prompt and the cache.
const (
	FieldFinancing      = "aceita_financiamento"
	FieldSaleValue      = "valor_venda"
	FieldAppraisalValue = "valor_avaliacao"
	FieldDescription    = "descricao"
	FieldFullAddress    = "endereco_completo"
	FieldSaleModality   = "modalidade_venda"
	FieldSaleSituation  = "situacao_imovel"
	FieldOccupancy      = "ocupacao"
	FieldRegistry       = "matricula"
	FieldPropertyType   = "tipo_imovel"
	FieldPrivateArea    = "area_privativa"
	FieldTotalArea      = "area_total"
	FieldBedrooms       = "quartos"
	FieldBathrooms      = "banheiros"
	FieldParking        = "vagas_garagem"
)

// CriticalFields must all be present for a standard extraction to count as complete.
var CriticalFields = []string{FieldFinancing, FieldSaleValue, FieldSaleModality}

// PartialRecord holds the fields pulled out of one detail page. A nil
// pointer means the field was not found; for AcceptsFinancing nil is the
// indeterminate state and false is a definite "cash only".
type PartialRecord struct {
	AcceptsFinancing *bool    `json:"aceita_financiamento"`
	SaleValue        *float64 `json:"valor_venda"`
	AppraisalValue   *float64 `json:"valor_avaliacao"`
	Description      *string  `json:"descricao"`
	FullAddress      *string  `json:"endereco_completo"`
	SaleModality     *string  `json:"modalidade_venda"`
	SaleSituation    *string  `json:"situacao_imovel"`
	Occupancy        *string  `json:"ocupacao"`
	RegistryNumber   *string  `json:"matricula"`
	PropertyType     *string  `json:"tipo_imovel"`
	PrivateArea      *float64 `json:"area_privativa"`
	TotalArea        *float64 `json:"area_total"`
	Bedrooms         *int     `json:"quartos"`
	Bathrooms        *int     `json:"banheiros"`
	ParkingSpaces    *int     `json:"vagas_garagem"`
}

// Has reports whether the named field carries a value. Empty strings count
// as missing.
func (p *PartialRecord) Has(field string) bool {
	switch field {
	case FieldFinancing:
		return p.AcceptsFinancing != nil
	case FieldSaleValue:
		return p.SaleValue != nil
	case FieldAppraisalValue:
		return p.AppraisalValue != nil
	case FieldDescription:
		return nonEmpty(p.Description)
	case FieldFullAddress:
		return nonEmpty(p.FullAddress)
	case FieldSaleModality:
		return nonEmpty(p.SaleModality)
	case FieldSaleSituation:
		return nonEmpty(p.SaleSituation)
	case FieldOccupancy:
		return nonEmpty(p.Occupancy)
	case FieldRegistry:
		return nonEmpty(p.RegistryNumber)
	case FieldPropertyType:
		return nonEmpty(p.PropertyType)
	case FieldPrivateArea:
		return p.PrivateArea != nil
	case FieldTotalArea:
		return p.TotalArea != nil
	case FieldBedrooms:
		return p.Bedrooms != nil
	case FieldBathrooms:
		return p.Bathrooms != nil
	case FieldParking:
		return p.ParkingSpaces != nil
	}
	return false
}

// Missing returns the critical fields without a value, in CriticalFields order.
func (p *PartialRecord) Missing() []string {
	var missing []string
	for _, f := range CriticalFields {
		if !p.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Complete reports whether every critical field is present.
func (p *PartialRecord) Complete() bool {
	return len(p.Missing()) == 0
}

// Empty reports whether no field at all was found.
func (p *PartialRecord) Empty() bool {
	return *p == PartialRecord{}
}

// FillMissing copies fields from other only where p has none. Values p
// already holds are never overridden.
func (p *PartialRecord) FillMissing(other PartialRecord) {
	if p.AcceptsFinancing == nil {
		p.AcceptsFinancing = other.AcceptsFinancing
	}
	if p.SaleValue == nil {
		p.SaleValue = other.SaleValue
	}
	if p.AppraisalValue == nil {
		p.AppraisalValue = other.AppraisalValue
	}
	if !nonEmpty(p.Description) && nonEmpty(other.Description) {
		p.Description = other.Description
	}
	if !nonEmpty(p.FullAddress) && nonEmpty(other.FullAddress) {
		p.FullAddress = other.FullAddress
	}
	if !nonEmpty(p.SaleModality) && nonEmpty(other.SaleModality) {
		p.SaleModality = other.SaleModality
	}
	if !nonEmpty(p.SaleSituation) && nonEmpty(other.SaleSituation) {
		p.SaleSituation = other.SaleSituation
	}
	if !nonEmpty(p.Occupancy) && nonEmpty(other.Occupancy) {
		p.Occupancy = other.Occupancy
	}
	if !nonEmpty(p.RegistryNumber) && nonEmpty(other.RegistryNumber) {
		p.RegistryNumber = other.RegistryNumber
	}
	if !nonEmpty(p.PropertyType) && nonEmpty(other.PropertyType) {
		p.PropertyType = other.PropertyType
	}
	if p.PrivateArea == nil {
		p.PrivateArea = other.PrivateArea
	}
	if p.TotalArea == nil {
		p.TotalArea = other.TotalArea
	}
	if p.Bedrooms == nil {
		p.Bedrooms = other.Bedrooms
	}
	if p.Bathrooms == nil {
		p.Bathrooms = other.Bathrooms
	}
	if p.ParkingSpaces == nil {
		p.ParkingSpaces = other.ParkingSpaces
	}
}

// Found returns how many of the given fields are present.
func (p *PartialRecord) Found(fields []string) int {
	n := 0
	for _, f := range fields {
		if p.Has(f) {
			n++
		}
	}
	return n
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}

// Bool, Float, Int and String return pointers to their argument.
func Bool(v bool) *bool { return &v }

func Float(v float64) *float64 { return &v }

func Int(v int) *int { return &v }

func String(v string) *string { return &v }
