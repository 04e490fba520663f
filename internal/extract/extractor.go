package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundwatch/etp-tracker/internal/fetch"
	"github.com/fundwatch/etp-tracker/internal/manifest"
	"github.com/fundwatch/etp-tracker/internal/model"
)

// ParseError tags a parsing failure with the parser that raised it, so
// manifest error messages say which stage broke.
type ParseError struct {
	Parser    string // "header", "structured", "body"
	Accession string
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s parser failed on %s: %v", e.Parser, e.Accession, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Result is the outcome of extracting one document.
type Result struct {
	Records []model.ExtractionRecord
	// Strategy actually used; differs from the routed one when structured
	// extraction degraded to full.
	Strategy Strategy
	// Fingerprint of the fetched submission bytes.
	Fingerprint string
}

// Extractor runs the strategy-appropriate parsers over one document.
type Extractor struct {
	client  fetch.Client
	version int
}

// New creates an extractor at the given pipeline version.
func New(client fetch.Client, pipelineVersion int) *Extractor {
	return &Extractor{client: client, version: pipelineVersion}
}

// Extract fetches and parses doc per its routed strategy. It always returns
// at least one record on success, even when the filing names no funds, so
// the document's dates and flags survive into the rollup.
func (e *Extractor) Extract(ctx context.Context, filer model.Filer, doc model.Document) (*Result, error) {
	strategy := StrategyFor(filer, doc)
	switch strategy {
	case StrategyHeaderOnly:
		return e.extractHeaderOnly(ctx, doc)
	default:
		return e.extractFull(ctx, doc, strategy == StrategyFullStructured)
	}
}

func (e *Extractor) extractHeaderOnly(ctx context.Context, doc model.Document) (*Result, error) {
	header, err := e.client.FetchHeader(ctx, doc.SubmissionURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch header %s", doc.Accession)
	}
	txt := string(header)

	rows := parseSeriesClasses(txt)

	effDate := headerEffectivenessDate(txt)
	conf := model.ConfidenceHeader
	delaying := false
	if effDate == nil {
		effDate, conf, delaying = findEffectiveDate(txt)
	} else {
		_, _, delaying = findEffectiveDate(txt)
	}

	recs := e.buildRecords(doc, rows, recordShared{
		EffectiveDate:  effDate,
		DateConfidence: confOrNone(effDate, conf),
		Delaying:       delaying,
		Strategy:       StrategyHeaderOnly,
	}, nil, nil)

	return &Result{
		Records:     recs,
		Strategy:    StrategyHeaderOnly,
		Fingerprint: manifest.Fingerprint(header),
	}, nil
}

func (e *Extractor) extractFull(ctx context.Context, doc model.Document, wantStructured bool) (*Result, error) {
	body, err := e.client.Fetch(ctx, doc.SubmissionURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetch submission %s", doc.Accession)
	}
	txt := string(body)

	rows := parseSeriesClasses(txt)

	// Effective-date cascade, best tier first: structured facts, SGML
	// header stamp, then text phrases.
	var effDate *time.Time
	conf := model.ConfidenceNone
	delaying := false
	usedStrategy := StrategyFull
	var facts structuredFacts

	// Primary document body. Fetched eagerly for the structured strategy,
	// lazily (HTML/PDF text only) otherwise.
	var primaryText string
	var primaryHTML string
	if doc.PrimaryURL != "" && (isHTMLDoc(doc.PrimaryDoc) || isPDFDoc(doc.PrimaryDoc)) {
		primBody, err := e.client.Fetch(ctx, doc.PrimaryURL)
		if err != nil {
			// The submission text usually embeds the same content; log and
			// carry on with what we have.
			zap.L().Warn("primary document fetch failed",
				zap.String("accession", doc.Accession),
				zap.String("url", doc.PrimaryURL),
				zap.Error(err),
			)
		} else if isPDFDoc(doc.PrimaryDoc) {
			if isBinaryPDF(primBody) {
				if len(rows) == 0 && len(iterSubmissionDocuments(txt)) == 0 {
					return nil, &ParseError{
						Parser:    "body",
						Accession: doc.Accession,
						Err:       eris.New("primary document is a binary PDF and the submission has no other content"),
					}
				}
				zap.L().Warn("skipping binary PDF primary document",
					zap.String("accession", doc.Accession),
					zap.String("primary_doc", doc.PrimaryDoc),
				)
			} else {
				primaryText = string(primBody)
			}
		} else {
			primaryHTML = string(primBody)
			primaryText = htmlToText(primaryHTML)
		}
	}

	if wantStructured {
		if primaryHTML != "" && hasInlineXBRL(primaryHTML) {
			facts = parseStructuredFacts(primaryHTML)
		}
		if facts.ProspectusDate != nil {
			effDate = facts.ProspectusDate
			conf = model.ConfidenceStructured
			usedStrategy = StrategyFullStructured
		} else {
			// Router expected inline tags and the filing has none usable:
			// degrade to the full-body result for this one document.
			zap.L().Warn("structured tags absent, degrading to full-body extraction",
				zap.String("accession", doc.Accession),
				zap.String("form", doc.Form),
			)
		}
	}

	if effDate == nil {
		if d := headerEffectivenessDate(txt); d != nil {
			effDate = d
			conf = model.ConfidenceHeader
		}
	}

	// Body texts feed the text-date fallback, ticker search, and fund name
	// matching.
	texts := []string{txt}
	var bodyNames []string
	for _, emb := range iterSubmissionDocuments(txt) {
		if !IsContentDocType(emb.Type) {
			continue
		}
		plain := htmlToText(emb.Body)
		if plain == "" {
			continue
		}
		texts = append(texts, plain)
		bodyNames = append(bodyNames, extractFundNames(plain)...)
	}
	if primaryText != "" {
		texts = append(texts, primaryText)
		bodyNames = append(bodyNames, extractFundNames(primaryText)...)
	}

	for _, t := range texts {
		d, c, dl := findEffectiveDate(t)
		delaying = delaying || dl
		if d != nil && c > conf {
			effDate = d
			conf = c
		}
	}

	recs := e.buildRecords(doc, rows, recordShared{
		EffectiveDate:  effDate,
		DateConfidence: confOrNone(effDate, conf),
		Delaying:       delaying,
		Strategy:       usedStrategy,
		Facts:          facts,
	}, texts, bodyNames)

	return &Result{
		Records:     recs,
		Strategy:    usedStrategy,
		Fingerprint: manifest.Fingerprint(body),
	}, nil
}

// IsContentDocType reports whether an embedded document type carries
// prospectus content worth reading (as opposed to exhibits and graphics).
func IsContentDocType(docType string) bool {
	for _, p := range []string{"485A", "485B", "497"} {
		if len(docType) >= len(p) && docType[:len(p)] == p {
			return true
		}
	}
	return false
}

// recordShared holds the per-document values copied onto every record.
type recordShared struct {
	EffectiveDate  *time.Time
	DateConfidence model.Confidence
	Delaying       bool
	Strategy       Strategy
	Facts          structuredFacts
}

func (e *Extractor) buildRecords(doc model.Document, rows []seriesClass, shared recordShared, texts []string, bodyNames []string) []model.ExtractionRecord {
	base := model.ExtractionRecord{
		FilerCIK:        doc.FilerCIK,
		Accession:       doc.Accession,
		Form:            doc.Form,
		FilingDate:      doc.FilingDate,
		EffectiveDate:   shared.EffectiveDate,
		DateConfidence:  shared.DateConfidence,
		Delaying:        shared.Delaying,
		Strategy:        string(shared.Strategy),
		ExpenseRatio:    shared.Facts.ExpenseRatio,
		ManagementFee:   shared.Facts.ManagementFee,
		NetExpenseRatio: shared.Facts.NetExpenseRatio,
		FeeWaiver:       shared.Facts.FeeWaiver,
		PipelineVersion: e.version,
	}

	if len(rows) == 0 {
		// Filing names no funds; keep one record so the document's date and
		// delaying flag still reach the rollup.
		return []model.ExtractionRecord{base}
	}

	recs := make([]model.ExtractionRecord, 0, len(rows))
	for _, row := range rows {
		rec := base
		rec.SeriesID = row.SeriesID
		rec.SeriesName = row.SeriesName
		rec.ClassID = row.ClassID
		rec.ClassName = row.ClassName
		rec.Ticker = row.Ticker

		name := rec.DisplayName()
		if rec.Ticker == "" && len(texts) > 0 {
			rec.Ticker = findTickerForFund(name, texts)
		}
		if len(bodyNames) > 0 {
			rec.ProspectusName = matchProspectusName(name, bodyNames)
		}
		recs = append(recs, rec)
	}
	return recs
}

// confOrNone clears the confidence tier when no date was extracted.
func confOrNone(d *time.Time, c model.Confidence) model.Confidence {
	if d == nil {
		return model.ConfidenceNone
	}
	return c
}
