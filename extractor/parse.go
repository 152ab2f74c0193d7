package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"imovel-scraper/utils"
)

var (
	// nonNumeric strips everything except digits and separators.
	nonNumeric = regexp.MustCompile(`[^\d,.]`)
	// thousandsDot matches a dot used as a thousands separator.
	thousandsDot = regexp.MustCompile(`^\d{1,3}(\.\d{3})+$`)
	// firstNumber captures the first integer in a text such as "3 quartos".
	firstNumber = regexp.MustCompile(`\d+`)
	// areaNumber captures the number in "45,50 m²".
	areaNumber = regexp.MustCompile(`\d[\d.]*(?:,\d+)?`)
)

// ParsePrice converts Brazilian-formatted money text ("R$ 1.234,56") into a
// float. ok is false when the text holds no number.
func ParsePrice(raw string) (float64, bool) {
	s := nonNumeric.ReplaceAllString(raw, "")
	s = strings.Trim(s, ",.")
	if s == "" {
		return 0, false
	}

	switch {
	case strings.Contains(s, ","):
		// comma is the decimal separator, dots group thousands
		s = strings.ReplaceAll(s, ".", "")
		if i := strings.LastIndex(s, ","); i >= 0 {
			s = strings.ReplaceAll(s[:i], ",", "") + "." + s[i+1:]
		}
	case thousandsDot.MatchString(s):
		s = strings.ReplaceAll(s, ".", "")
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ParseArea reads the first number of an area text ("45,50 m²").
func ParseArea(raw string) (float64, bool) {
	m := areaNumber.FindString(raw)
	if m == "" {
		return 0, false
	}
	return ParsePrice(m)
}

// ParseCount reads the first integer of a text ("3 quartos").
func ParseCount(raw string) (int, bool) {
	m := firstNumber.FindString(raw)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseFinancing decides a financing flag from free text with the default rules.
func ParseFinancing(raw string) *bool {
	return DefaultFinancingRules.Decide(raw)
}

// cleanValue trims label residue such as a leading colon and collapses whitespace.
func cleanValue(raw string) string {
	s := utils.CollapseSpace(raw)
	s = strings.TrimLeft(s, ":- ")
	return strings.TrimSpace(s)
}
