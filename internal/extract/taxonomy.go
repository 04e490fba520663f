package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Inline XBRL facts from the OEF (Open-End Fund) and DEI taxonomies.
// 485BPOS filings embed these in the primary HTML document.
type structuredFacts struct {
	ProspectusDate  *time.Time
	RegistrantName  string
	DocumentType    string
	ExpenseRatio    *float64
	ManagementFee   *float64
	NetExpenseRatio *float64
	FeeWaiver       *float64
}

func (f structuredFacts) empty() bool {
	return f.ProspectusDate == nil && f.RegistrantName == "" && f.DocumentType == "" &&
		f.ExpenseRatio == nil && f.ManagementFee == nil && f.NetExpenseRatio == nil &&
		f.FeeWaiver == nil
}

var (
	ixNonNumericRe  = regexp.MustCompile(`(?s)<ix:nonNumeric[^>]*name=["']([^"']+)["'][^>]*>(.*?)</ix:nonNumeric>`)
	ixNonFractionRe = regexp.MustCompile(`(?s)<ix:nonFraction[^>]*name=["']([^"']+)["'][^>]*>(.*?)</ix:nonFraction>`)
	innerTagRe      = regexp.MustCompile(`<[^>]+>`)
)

// hasInlineXBRL is the cheap pre-check before running the tag regexes.
func hasInlineXBRL(html string) bool {
	return strings.Contains(html, "<ix:")
}

// parseStructuredFacts extracts OEF/DEI facts from inline XBRL tags. Most
// filings repeat facts per series context; the first occurrence of each
// concept wins.
func parseStructuredFacts(html string) structuredFacts {
	var facts structuredFacts
	if !hasInlineXBRL(html) {
		return facts
	}

	for _, m := range ixNonNumericRe.FindAllStringSubmatch(html, -1) {
		concept, value := m[1], m[2]
		switch concept {
		case "oef:ProspectusDate":
			if facts.ProspectusDate == nil {
				facts.ProspectusDate = parseDatePhrase(cleanInnerHTML(value))
			}
		case "dei:EntityRegistrantName":
			if facts.RegistrantName == "" {
				facts.RegistrantName = cleanInnerHTML(value)
			}
		case "dei:DocumentType":
			if facts.DocumentType == "" {
				facts.DocumentType = cleanInnerHTML(value)
			}
		}
	}

	for _, m := range ixNonFractionRe.FindAllStringSubmatch(html, -1) {
		concept, value := m[1], m[2]
		switch concept {
		case "oef:ExpensesOverAssets":
			if facts.ExpenseRatio == nil {
				facts.ExpenseRatio = parseNumericFact(value)
			}
		case "oef:ManagementFeesOverAssets":
			if facts.ManagementFee == nil {
				facts.ManagementFee = parseNumericFact(value)
			}
		case "oef:NetExpensesOverAssets":
			if facts.NetExpenseRatio == nil {
				facts.NetExpenseRatio = parseNumericFact(value)
			}
		case "oef:FeeWaiverOrReimbursementOverAssets":
			if facts.FeeWaiver == nil {
				facts.FeeWaiver = parseNumericFact(value)
			}
		}
	}

	return facts
}

func cleanInnerHTML(s string) string {
	return normalizeSpacing(innerTagRe.ReplaceAllString(s, " "))
}

// parseNumericFact parses a percentage-like iXBRL numeric value.
func parseNumericFact(s string) *float64 {
	cleaned := innerTagRe.ReplaceAllString(s, "")
	cleaned = strings.ReplaceAll(cleaned, "%", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" || cleaned == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}
