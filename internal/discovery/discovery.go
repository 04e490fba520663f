// Package discovery turns a filer's EDGAR submissions index into the list
// of prospectus filings the pipeline has not processed yet.
package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/fundwatch/etp-tracker/internal/fetch"
	"github.com/fundwatch/etp-tracker/internal/manifest"
	"github.com/fundwatch/etp-tracker/internal/model"
	"github.com/fundwatch/etp-tracker/internal/registry"
)

const (
	submissionsURLFormat = "https://data.sec.gov/submissions/CIK%s.json"
	archivesBase         = "https://www.sec.gov/Archives/edgar/data"
)

// prospectusPrefixes match the registration and prospectus form families the
// tracker cares about. EFFECT is matched exactly; an order notice has no
// variant suffixes.
var prospectusPrefixes = []string{"485A", "485B", "497", "N-1A", "S-1", "S-3"}

// IsProspectusForm reports whether the form code belongs to the prospectus
// pipeline. Everything else in the submissions index (8-K, NPORT, proxy
// material) is ignored.
func IsProspectusForm(form string) bool {
	form = strings.ToUpper(strings.TrimSpace(form))
	if form == "EFFECT" {
		return true
	}
	for _, p := range prospectusPrefixes {
		if strings.HasPrefix(form, p) {
			return true
		}
	}
	return false
}

// submissionsIndex is the shape of the EDGAR submissions JSON. Recent
// filings come as parallel arrays indexed together.
type submissionsIndex struct {
	Name    string `json:"name"`
	Filings struct {
		Recent struct {
			AccessionNumber []string `json:"accessionNumber"`
			Form            []string `json:"form"`
			FilingDate      []string `json:"filingDate"`
			PrimaryDocument []string `json:"primaryDocument"`
			Size            []int    `json:"size"`
			IsInlineXBRL    []int    `json:"isInlineXBRL"`
		} `json:"recent"`
	} `json:"filings"`
}

// Service discovers per-filer work.
type Service struct {
	client fetch.Client
}

// NewService creates a discovery service over the fetch client.
func NewService(client fetch.Client) *Service {
	return &Service{client: client}
}

// Discover fetches and parses the filer's submissions index, returning its
// prospectus filings (all of them; the manifest diff happens in Pending) and
// the registrant name EDGAR reports.
func (s *Service) Discover(ctx context.Context, filer model.Filer) ([]model.Document, string, error) {
	var idx submissionsIndex
	if err := fetch.FetchJSON(ctx, s.client, SubmissionsURL(filer.CIK), &idx); err != nil {
		return nil, "", eris.Wrapf(err, "submissions index for %s", filer.CIK)
	}

	recent := idx.Filings.Recent
	docs := make([]model.Document, 0, len(recent.AccessionNumber))
	for i, accession := range recent.AccessionNumber {
		form := safeIndex(recent.Form, i)
		if accession == "" || !IsProspectusForm(form) {
			continue
		}

		filingDate, err := time.Parse("2006-01-02", safeIndex(recent.FilingDate, i))
		if err != nil {
			// A malformed date drops one row, not the filer.
			zap.L().Warn("skipping filing with unparseable date",
				zap.String("filer_cik", filer.CIK),
				zap.String("accession", accession),
				zap.String("filing_date", safeIndex(recent.FilingDate, i)),
			)
			continue
		}

		primary := safeIndex(recent.PrimaryDocument, i)
		doc := model.Document{
			FilerCIK:      filer.CIK,
			Accession:     accession,
			Form:          strings.ToUpper(strings.TrimSpace(form)),
			FilingDate:    filingDate,
			PrimaryDoc:    primary,
			SubmissionURL: SubmissionTextURL(filer.CIK, accession),
		}
		if primary != "" {
			doc.PrimaryURL = PrimaryDocumentURL(filer.CIK, accession, primary)
		}
		if i < len(recent.Size) {
			doc.Size = recent.Size[i]
		}
		if i < len(recent.IsInlineXBRL) {
			doc.HasInlineXBRL = recent.IsInlineXBRL[i] != 0
		}
		docs = append(docs, doc)
	}

	return docs, idx.Name, nil
}

// Pending filters docs down to the ones this run must process: anything not
// successfully seen at the current pipeline version. Errored documents
// re-enter the queue through the same path; the manifest's retry budget is
// enforced by the caller before extraction. Output is ordered by filing date
// then accession so extraction and rollup see a deterministic stream.
func Pending(docs []model.Document, view *manifest.View) []model.Document {
	out := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		if view.Seen(d.Accession) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FilingDate.Equal(out[j].FilingDate) {
			return out[i].FilingDate.Before(out[j].FilingDate)
		}
		return out[i].Accession < out[j].Accession
	})
	return out
}

// SubmissionsURL returns the submissions index URL for a CIK.
func SubmissionsURL(cik string) string {
	return fmt.Sprintf(submissionsURLFormat, registry.PaddedCIK(cik))
}

// PrimaryDocumentURL returns the archive URL of a filing's primary document.
func PrimaryDocumentURL(cik, accession, primaryDoc string) string {
	return fmt.Sprintf("%s/%s/%s/%s",
		archivesBase, registry.NormalizeCIK(cik), stripAccessionDashes(accession), primaryDoc)
}

// SubmissionTextURL returns the archive URL of the full SGML submission.
func SubmissionTextURL(cik, accession string) string {
	return fmt.Sprintf("%s/%s/%s/%s.txt",
		archivesBase, registry.NormalizeCIK(cik), stripAccessionDashes(accession), accession)
}

func stripAccessionDashes(accession string) string {
	return strings.ReplaceAll(accession, "-", "")
}

func safeIndex(ss []string, i int) string {
	if i < len(ss) {
		return ss[i]
	}
	return ""
}
