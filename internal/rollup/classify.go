// Package rollup replays a filer's extraction history into one current
// ProductStatus per fund plus a rename history. The replay is a pure
// function of the ordered record set and an explicit clock; nothing here is
// incremental state.
package rollup

import (
	"strings"
)

// FormClass is the transition a document's form drives in the status state
// machine. Transitions key off form class, never off extracted text alone,
// so parsing noise cannot move a product between states.
type FormClass int

const (
	// ClassOther drives no transition.
	ClassOther FormClass = iota

	// ClassInitialFiling opens a registration: NOT_FILED -> PENDING.
	ClassInitialFiling

	// ClassDelayingAmendment postpones effectiveness: -> DELAYED.
	ClassDelayingAmendment

	// ClassEffectivenessConfirmation confirms launch: -> EFFECTIVE.
	ClassEffectivenessConfirmation
)

// ClassifyForm maps a form code (plus the extracted delaying flag for
// amendment forms) to its transition class.
//
//	485BXT, delaying-flagged 485 amendments -> delaying
//	485BPOS, EFFECT, 497 family            -> effectiveness confirmation
//	485APOS, N-1A, S-1, S-3 families       -> initial filing
func ClassifyForm(form string, delaying bool) FormClass {
	f := strings.ToUpper(strings.TrimSpace(form))

	if strings.HasPrefix(f, "485BXT") {
		return ClassDelayingAmendment
	}
	if delaying && strings.HasPrefix(f, "485") {
		return ClassDelayingAmendment
	}
	if strings.HasPrefix(f, "485B") || f == "EFFECT" || strings.HasPrefix(f, "497") {
		return ClassEffectivenessConfirmation
	}
	if strings.HasPrefix(f, "485A") || strings.HasPrefix(f, "N-1A") ||
		strings.HasPrefix(f, "S-1") || strings.HasPrefix(f, "S-3") {
		return ClassInitialFiling
	}
	return ClassOther
}
