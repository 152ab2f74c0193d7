package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"imovel-scraper/models"
)

// promptField is one entry of the extraction manifest.
type promptField struct {
	name string
	kind string
	hint string
}

var extractionManifest = []promptField{
	{models.FieldFinancing, "boolean", "true se aceita financiamento, false se não aceita (ex.: somente à vista), null se indeterminado"},
	{models.FieldSaleValue, "number", "valor de venda em reais"},
	{models.FieldAppraisalValue, "number", "valor de avaliação em reais"},
	{models.FieldSaleModality, "string", "modalidade de venda (leilão, venda direta, licitação aberta...)"},
	{models.FieldSaleSituation, "string", "situação atual do imóvel"},
	{models.FieldOccupancy, "string", "ocupado ou desocupado"},
	{models.FieldFullAddress, "string", "endereço completo"},
	{models.FieldDescription, "string", "descrição do imóvel"},
	{models.FieldRegistry, "string", "número da matrícula"},
	{models.FieldPropertyType, "string", "tipo de imóvel (casa, apartamento, terreno...)"},
	{models.FieldPrivateArea, "number", "área privativa em m²"},
	{models.FieldTotalArea, "number", "área total em m²"},
	{models.FieldBedrooms, "number", "número de quartos"},
	{models.FieldBathrooms, "number", "número de banheiros"},
	{models.FieldParking, "number", "vagas de garagem"},
}

func extractionPrompt(cleaned, code string) string {
	var sb strings.Builder
	sb.WriteString("Você é um especialista em extração de dados de imóveis. Analise o HTML abaixo, ")
	sb.WriteString("da página de detalhes do imóvel ")
	sb.WriteString(code)
	sb.WriteString(" da Caixa Econômica Federal, e extraia os campos pedidos.\n\n")
	sb.WriteString("INSTRUÇÕES:\n")
	sb.WriteString("1. A informação de FINANCIAMENTO é crítica.\n")
	sb.WriteString("2. Valores monetários devem ser números, sem símbolo de moeda.\n")
	sb.WriteString("3. Se não encontrar um campo, use null. Nunca invente valores.\n")
	sb.WriteString("4. Responda APENAS com um objeto JSON válido.\n\n")
	sb.WriteString("CAMPOS:\n")
	for _, f := range extractionManifest {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", f.name, f.kind, f.hint)
	}
	sb.WriteString("\nHTML:\n")
	sb.WriteString(cleaned)
	sb.WriteString("\n\nRESPOSTA (apenas JSON):")
	return sb.String()
}

func structurePrompt(previous, current models.StructureSummary, changes models.Changes, cleaned string) string {
	prev, _ := json.Marshal(previous)
	cur, _ := json.Marshal(current)
	diff, _ := json.Marshal(changes)

	var sb strings.Builder
	sb.WriteString("Compare as duas estruturas abaixo da página de detalhes de imóveis da Caixa e diga ")
	sb.WriteString("se houve mudanças significativas para a extração de dados.\n\n")
	sb.WriteString("FOQUE EM:\n")
	sb.WriteString("1. Mudanças nos seletores CSS/XPath de campos importantes\n")
	sb.WriteString("2. Alterações na estrutura de tabelas ou divs\n")
	sb.WriteString("3. Campos novos ou removidos\n")
	sb.WriteString("4. Mudanças nos textos sobre financiamento\n\n")
	fmt.Fprintf(&sb, "ESTRUTURA ANTERIOR:\n%s\n\nESTRUTURA ATUAL:\n%s\n\nDIFERENÇAS DETECTADAS:\n%s\n\n", prev, cur, diff)
	if cleaned != "" {
		fmt.Fprintf(&sb, "HTML ATUAL:\n%s\n\n", cleaned)
	}
	sb.WriteString("Retorne apenas um JSON com:\n")
	sb.WriteString(`{"changes_detected": boolean, "severity": "low|medium|high", "affected_fields": ["campo"], `)
	sb.WriteString(`"recommended_actions": ["ação"], "new_selectors_needed": boolean}`)
	return sb.String()
}

func selectorPrompt(cleaned string, fields []string) string {
	target, _ := json.Marshal(fields)

	var sb strings.Builder
	sb.WriteString("Analise o HTML e gere seletores CSS e XPath para extrair os campos pedidos.\n\n")
	fmt.Fprintf(&sb, "CAMPOS: %s\n\nHTML:\n%s\n\n", target, cleaned)
	sb.WriteString("Retorne apenas um JSON no formato:\n")
	sb.WriteString(`{"campo": {"css": "seletor css", "xpath": "seletor xpath", "confidence": 0.95}}`)
	return sb.String()
}
