package rollup

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/text/cases"

	"github.com/fundwatch/etp-tracker/internal/model"
)

// defaultEffectivenessDays is the statutory automatic-effectiveness period
// for an initial registration amendment absent a delaying amendment.
const defaultEffectivenessDays = 75

// OrderingError reports a record stream the replay cannot order
// deterministically.
type OrderingError struct {
	Accession string
	Reason    string
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("rollup ordering violated at %s: %s", e.Accession, e.Reason)
}

// Options configures one replay.
type Options struct {
	// Clock is the replay's notion of "now" for the default-effectiveness
	// countdown. Explicit so replays are deterministic and testable.
	Clock time.Time

	// DateOverrides maps product ID to the accession whose effective date a
	// human has pinned. Consulted only as the final tie-break.
	DateOverrides map[string]string
}

// Result is the rollup output for one filer.
type Result struct {
	Statuses []model.ProductStatus
	History  []model.NameChange
}

var foldCaser = cases.Fold()

// ProductID derives the stable product key for a record: the SEC
// class-contract ID, else the series ID, else a case-folded name|ticker
// composite for records predating ID assignment.
func ProductID(r model.ExtractionRecord) string {
	if r.ClassID != "" {
		return r.ClassID
	}
	if r.SeriesID != "" {
		return r.SeriesID
	}
	name := r.DisplayName()
	if name == "" && r.Ticker == "" {
		return ""
	}
	return foldCaser.String(name) + "|" + r.Ticker
}

// productReplay accumulates one product's state while its records stream by
// in time order.
type productReplay struct {
	id    string
	state model.FundStatus

	lastInitial        *time.Time
	delayedSinceFiling bool

	bestDate   *model.ExtractionRecord
	latest     model.ExtractionRecord
	name       string
	ticker     string
	seriesID   string
	classID    string
	reason     string
	history    []model.NameChange
	firstSeen  int // insertion order, for stable output
}

// Replay recomputes ProductStatus and name history for one filer from its
// full extraction record set. Records are replayed strictly in (filing
// date, accession) order; a record without a filing date cannot be placed
// in the sequence and aborts the replay.
func Replay(filer model.Filer, recs []model.ExtractionRecord, opts Options) (*Result, error) {
	for _, r := range recs {
		if r.FilingDate.IsZero() {
			return nil, &OrderingError{Accession: r.Accession, Reason: "record has no filing date"}
		}
	}

	ordered := make([]model.ExtractionRecord, len(recs))
	copy(ordered, recs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].FilingDate.Equal(ordered[j].FilingDate) {
			return ordered[i].FilingDate.Before(ordered[j].FilingDate)
		}
		return ordered[i].Accession < ordered[j].Accession
	})

	products := map[string]*productReplay{}
	orderCounter := 0

	for _, r := range ordered {
		id := ProductID(r)
		if id == "" {
			// No identity to attach status to; the document itself is
			// still accounted for in the manifest.
			continue
		}

		p, ok := products[id]
		if !ok {
			p = &productReplay{id: id, state: model.StatusNotFiled, firstSeen: orderCounter}
			orderCounter++
			products[id] = p
		}

		p.apply(r, opts)
	}

	result := &Result{}
	for _, p := range products {
		p.finish(opts.Clock)
		result.Statuses = append(result.Statuses, p.status(filer))
		result.History = append(result.History, p.history...)
	}

	byOrder := func(id string) int { return products[id].firstSeen }
	sort.Slice(result.Statuses, func(i, j int) bool {
		return byOrder(result.Statuses[i].ProductID) < byOrder(result.Statuses[j].ProductID)
	})
	sort.SliceStable(result.History, func(i, j int) bool {
		if result.History[i].ProductID != result.History[j].ProductID {
			return byOrder(result.History[i].ProductID) < byOrder(result.History[j].ProductID)
		}
		return result.History[i].FilingDate.Before(result.History[j].FilingDate)
	})

	return result, nil
}

// apply folds one record into the product's replay state.
func (p *productReplay) apply(r model.ExtractionRecord, opts Options) {
	p.latest = r
	if r.SeriesID != "" {
		p.seriesID = r.SeriesID
	}
	if r.ClassID != "" {
		p.classID = r.ClassID
	}
	if r.Ticker != "" {
		p.ticker = r.Ticker
	}

	if name := r.DisplayName(); name != "" {
		// Rename history records genuine changes only; case-folded
		// comparison suppresses capitalization-only no-ops.
		if p.name == "" || foldCaser.String(name) != foldCaser.String(p.name) {
			if p.name != "" || len(p.history) == 0 {
				p.history = append(p.history, model.NameChange{
					FilerCIK:   r.FilerCIK,
					ProductID:  p.id,
					Name:       name,
					FilingDate: r.FilingDate,
					Form:       r.Form,
					Accession:  r.Accession,
				})
			}
			p.name = name
		}
	}

	// State transition, driven by form class only.
	switch ClassifyForm(r.Form, r.Delaying) {
	case ClassInitialFiling:
		if p.state == model.StatusNotFiled {
			p.state = model.StatusPending
			p.reason = fmt.Sprintf("%s filed (awaiting effectiveness)", r.Form)
		}
		d := r.FilingDate
		p.lastInitial = &d
		p.delayedSinceFiling = false
	case ClassDelayingAmendment:
		p.state = model.StatusDelayed
		p.delayedSinceFiling = true
		p.reason = fmt.Sprintf("%s with delaying amendment", r.Form)
	case ClassEffectivenessConfirmation:
		p.state = model.StatusEffective
		p.reason = fmt.Sprintf("%s filed (fund trading)", r.Form)
	}

	// Effective-date conflict resolution across records. Deterministic
	// preference order: (1) higher confidence tier, (2) later filing
	// timestamp, (3) the human-pinned accession from DateOverrides. The
	// date never drives the state; only the form class above does.
	if r.EffectiveDate != nil {
		if p.bestDate == nil || betterDate(r, *p.bestDate, p.id, opts.DateOverrides) {
			cp := r
			p.bestDate = &cp
		}
	}
}

// betterDate reports whether candidate beats incumbent for the product's
// effective date.
func betterDate(candidate, incumbent model.ExtractionRecord, productID string, overrides map[string]string) bool {
	if candidate.DateConfidence != incumbent.DateConfidence {
		return candidate.DateConfidence > incumbent.DateConfidence
	}
	if !candidate.FilingDate.Equal(incumbent.FilingDate) {
		return candidate.FilingDate.After(incumbent.FilingDate)
	}
	if pinned, ok := overrides[productID]; ok {
		return candidate.Accession == pinned
	}
	return false
}

// finish applies the default-effectiveness countdown: an initial filing left
// PENDING for the statutory period with no delaying amendment afterwards is
// presumed effective.
func (p *productReplay) finish(clock time.Time) {
	if p.state != model.StatusPending || p.lastInitial == nil || p.delayedSinceFiling {
		return
	}
	deadline := p.lastInitial.AddDate(0, 0, defaultEffectivenessDays)
	if !clock.Before(deadline) {
		p.state = model.StatusEffective
		p.reason = fmt.Sprintf("%s presumed effective (+%d days)", p.latest.Form, defaultEffectivenessDays)
	} else {
		p.reason = fmt.Sprintf("%s +%d day period not elapsed", p.latest.Form, defaultEffectivenessDays)
	}
}

func (p *productReplay) status(filer model.Filer) model.ProductStatus {
	st := model.ProductStatus{
		FilerCIK:         filer.CIK,
		ProductID:        p.id,
		SeriesID:         p.seriesID,
		ClassID:          p.classID,
		Name:             p.name,
		Ticker:           p.ticker,
		Status:           p.state,
		StatusReason:     p.reason,
		LatestForm:       p.latest.Form,
		LatestFilingDate: p.latest.FilingDate,
		LatestAccession:  p.latest.Accession,
	}
	if p.bestDate != nil {
		st.EffectiveDate = p.bestDate.EffectiveDate
		st.DateConfidence = p.bestDate.DateConfidence
	}
	return st
}
