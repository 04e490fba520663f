// Package model defines the core data types shared across the tracker:
// filers, documents, manifest entries, extraction records, product status
// rollups, name history, and run summaries.
package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Filer is one monitored registrant (an ETP trust), keyed by SEC CIK.
// Filers are read-only to the pipeline; they come from the registry.
type Filer struct {
	CIK  string `json:"cik" yaml:"cik"`
	Name string `json:"name" yaml:"name"`
	// ForceStrategy, when non-empty, overrides the router for every
	// document of this filer ("header_only", "full", "full_plus_structured").
	ForceStrategy string `json:"force_strategy,omitempty" yaml:"force_strategy,omitempty"`
}

// Document is one discovered regulatory filing. Identity and timestamp are
// immutable once fetched; only its extraction may be recomputed.
type Document struct {
	FilerCIK      string    `json:"filer_cik"`
	Accession     string    `json:"accession"`
	Form          string    `json:"form"`
	FilingDate    time.Time `json:"filing_date"`
	PrimaryDoc    string    `json:"primary_doc"`
	PrimaryURL    string    `json:"primary_url"`
	SubmissionURL string    `json:"submission_url"`
	Size          int       `json:"size"`
	HasInlineXBRL bool      `json:"has_inline_xbrl"`
}

// ManifestOutcome records how a processing attempt for a document ended.
type ManifestOutcome string

const (
	OutcomeSuccess ManifestOutcome = "success"
	OutcomeError   ManifestOutcome = "error"
	OutcomeSkipped ManifestOutcome = "skipped"
)

// ManifestEntry is one row of a filer's incremental-processing manifest.
// An accession present with OutcomeSuccess at the current pipeline version
// is never re-extracted.
type ManifestEntry struct {
	FilerCIK        string          `json:"filer_cik"`
	Accession       string          `json:"accession"`
	Form            string          `json:"form"`
	PipelineVersion int             `json:"pipeline_version"`
	Outcome         ManifestOutcome `json:"outcome"`
	ExtractionCount int             `json:"extraction_count"`
	ErrorMessage    string          `json:"error_message,omitempty"`
	RetryCount      int             `json:"retry_count"`
	Fingerprint     string          `json:"fingerprint,omitempty"`
	ProcessedAt     time.Time       `json:"processed_at"`
}

// Confidence ranks how trustworthy an extracted effective date is.
// Higher values win conflicts.
type Confidence int

const (
	ConfidenceNone Confidence = iota
	ConfidenceLowText
	ConfidenceHighText
	ConfidenceHeader
	ConfidenceStructured
)

var confidenceNames = map[Confidence]string{
	ConfidenceNone:       "",
	ConfidenceLowText:    "LOW_TEXT",
	ConfidenceHighText:   "HIGH_TEXT",
	ConfidenceHeader:     "HEADER",
	ConfidenceStructured: "STRUCTURED",
}

func (c Confidence) String() string { return confidenceNames[c] }

// ParseConfidence maps a stored tier name back to its ordered value.
func ParseConfidence(s string) Confidence {
	for k, v := range confidenceNames {
		if v == s {
			return k
		}
	}
	return ConfidenceNone
}

// ExtractionRecord is the normalized output of one extractor for one fund
// referenced by one document. Superseded, never mutated, on re-extraction.
type ExtractionRecord struct {
	FilerCIK        string     `json:"filer_cik"`
	Accession       string     `json:"accession"`
	Form            string     `json:"form"`
	FilingDate      time.Time  `json:"filing_date"`
	SeriesID        string     `json:"series_id,omitempty"`
	ClassID         string     `json:"class_id,omitempty"`
	SeriesName      string     `json:"series_name,omitempty"`
	ClassName       string     `json:"class_name,omitempty"`
	Ticker          string     `json:"ticker,omitempty"`
	ProspectusName  string     `json:"prospectus_name,omitempty"`
	EffectiveDate   *time.Time `json:"effective_date,omitempty"`
	DateConfidence  Confidence `json:"date_confidence"`
	Delaying        bool       `json:"delaying"`
	Strategy        string     `json:"strategy"`
	ExpenseRatio    *float64   `json:"expense_ratio,omitempty"`
	ManagementFee   *float64   `json:"management_fee,omitempty"`
	NetExpenseRatio *float64   `json:"net_expense_ratio,omitempty"`
	FeeWaiver       *float64   `json:"fee_waiver,omitempty"`
	PipelineVersion int        `json:"pipeline_version"`
}

// DisplayName returns the SGML-sourced fund name, class name first.
func (r ExtractionRecord) DisplayName() string {
	if r.ClassName != "" {
		return r.ClassName
	}
	return r.SeriesName
}

// FundStatus is the lifecycle state of one product.
type FundStatus string

const (
	StatusNotFiled  FundStatus = "NOT_FILED"
	StatusPending   FundStatus = "PENDING"
	StatusEffective FundStatus = "EFFECTIVE"
	StatusDelayed   FundStatus = "DELAYED"
)

// ProductStatus is the rollup output: one current row per fund per filer,
// fully reconstructible from the extraction record history.
type ProductStatus struct {
	FilerCIK         string     `json:"filer_cik"`
	ProductID        string     `json:"product_id"`
	SeriesID         string     `json:"series_id,omitempty"`
	ClassID          string     `json:"class_id,omitempty"`
	Name             string     `json:"name"`
	Ticker           string     `json:"ticker,omitempty"`
	Status           FundStatus `json:"status"`
	StatusReason     string     `json:"status_reason"`
	EffectiveDate    *time.Time `json:"effective_date,omitempty"`
	DateConfidence   Confidence `json:"date_confidence"`
	LatestForm       string     `json:"latest_form"`
	LatestFilingDate time.Time  `json:"latest_filing_date"`
	LatestAccession  string     `json:"latest_accession"`
}

// NameChange is one entry of a product's rename history.
type NameChange struct {
	FilerCIK   string    `json:"filer_cik"`
	ProductID  string    `json:"product_id"`
	Name       string    `json:"name"`
	FilingDate time.Time `json:"filing_date"`
	Form       string    `json:"form"`
	Accession  string    `json:"accession"`
}

// FilerResult holds per-filer counts for one run.
type FilerResult struct {
	FilerCIK   string         `json:"filer_cik"`
	New        int            `json:"new"`
	Skipped    int            `json:"skipped"`
	Errored    int            `json:"errored"`
	Products   int            `json:"products"`
	Strategies map[string]int `json:"strategies,omitempty"`
}

// FilerError records a filer-level failure with enough detail to triage.
type FilerError struct {
	FilerCIK string `json:"filer_cik"`
	Step     string `json:"step"`
	Message  string `json:"message"`
}

// RunSummary is the single source of truth for what one orchestrator run
// did and what broke. Appended to a rolling log, never mutated.
type RunSummary struct {
	ID              string         `json:"id"`
	StartedAt       time.Time      `json:"started_at"`
	FinishedAt      time.Time      `json:"finished_at"`
	Duration        time.Duration  `json:"duration"`
	Filers          int            `json:"filers"`
	NewDocs         int            `json:"new_docs"`
	SkippedDocs     int            `json:"skipped_docs"`
	ErroredDocs     int            `json:"errored_docs"`
	Strategies      map[string]int `json:"strategies,omitempty"`
	PerFiler        []FilerResult  `json:"per_filer,omitempty"`
	Errors          []FilerError   `json:"errors,omitempty"`
	PipelineVersion int            `json:"pipeline_version"`
}

// AddStrategy bumps the per-strategy extraction counter.
func (s *RunSummary) AddStrategy(name string, n int) {
	if s.Strategies == nil {
		s.Strategies = map[string]int{}
	}
	s.Strategies[name] += n
}

// SummaryLine renders the run as a single human-readable line.
func (s *RunSummary) SummaryLine() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Processed %d new filings (skipped %d) in %.1fs",
		s.NewDocs, s.SkippedDocs, s.Duration.Seconds())

	if len(s.Strategies) > 0 {
		names := make([]string, 0, len(s.Strategies))
		for name := range s.Strategies {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%d %s", s.Strategies[name], name))
		}
		b.WriteString(" [" + strings.Join(parts, ", ") + "]")
	}

	if n := s.ErroredDocs + len(s.Errors); n > 0 {
		fmt.Fprintf(&b, ", %d errors", n)
	}
	return b.String()
}

