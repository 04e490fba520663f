// Package extract turns fetched filings into normalized extraction records.
// A strategy router picks how much of the filing to read per form code;
// three parsers (SGML header, inline XBRL, full body) do the reading.
package extract

import (
	"github.com/fundwatch/etp-tracker/internal/model"
)

// Strategy names how much of a filing an extraction reads.
type Strategy string

const (
	// StrategyHeaderOnly reads just the SGML header. Cheap; enough for
	// extension notices and supplement cover filings.
	StrategyHeaderOnly Strategy = "header_only"

	// StrategyFull reads the whole submission: header, embedded document
	// bodies, and the primary document.
	StrategyFull Strategy = "full"

	// StrategyFullStructured is StrategyFull plus inline XBRL fact
	// extraction from the primary document.
	StrategyFullStructured Strategy = "full_plus_structured"
)

// strategyByForm routes exact form codes. Unknown codes are absent on
// purpose: they fall through to the full strategy so a new form variant
// degrades to the most thorough read instead of crashing.
var strategyByForm = map[string]Strategy{
	"485BXT": StrategyHeaderOnly, // extension of effectiveness date
	"497J":   StrategyHeaderOnly, // certification of no material change
	"EFFECT": StrategyHeaderOnly, // SEC order notice, no fund content
	"485BPOS": StrategyFullStructured, // post-effective amendments carry OEF iXBRL
	"485APOS": StrategyFull,
	"497":     StrategyFull,
	"497K":    StrategyFull,
}

// StrategyForForm returns the extraction strategy for a form code.
func StrategyForForm(form string) Strategy {
	if s, ok := strategyByForm[form]; ok {
		return s
	}
	return StrategyFull
}

// StrategyFor resolves the strategy for a document, honoring a per-filer
// forced strategy before the form table.
func StrategyFor(filer model.Filer, doc model.Document) Strategy {
	switch Strategy(filer.ForceStrategy) {
	case StrategyHeaderOnly, StrategyFull, StrategyFullStructured:
		return Strategy(filer.ForceStrategy)
	}
	return StrategyForForm(doc.Form)
}
