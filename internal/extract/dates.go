package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/fundwatch/etp-tracker/internal/model"
)

// delayingPhrases signal a filing that postpones effectiveness. Matched on
// lowercased text.
var delayingPhrases = []string{
	"delaying amendment",
	"delay its effective date",
	"delay the effective date",
	"rule 485(a)",
	"rule 473",
}

// High-confidence phrases: checkbox designations and explicit effective-date
// declarations. The capture group is the date phrase.
var highConfidenceDateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)on\s+([A-Z][a-z]+\s+\d{1,2},?\s+\d{4})\s+pursuant\s+to\s+paragraph`),
	regexp.MustCompile(`(?i)designating\s+([A-Z][a-z]+\s+\d{1,2},?\s+\d{4})\s+as\s+the\s+new\s+effective\s+date`),
	regexp.MustCompile(`(?i)effective\s+date\s+(?:of|is)\s+([A-Z][a-z]+\s+\d{1,2},?\s+\d{4})`),
}

// Lower-confidence phrases: prose mentions of effectiveness.
var lowConfidenceDateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:become|becomes|shall become|will become|will be)\s+effective\s+(?:on|as of)\s+([A-Z][a-z]+\s+\d{1,2},?\s+\d{4})`),
	regexp.MustCompile(`(?i)effective\s+(?:on|as of)\s+(\d{1,2}/\d{1,2}/\d{2,4})`),
	regexp.MustCompile(`(?i)effective\s+on\s+or\s+about\s+([A-Z][a-z]+\s+\d{1,2},?\s+\d{4})`),
}

var dateLayouts = []string{
	"January 2 2006",
	"January 2, 2006",
	"1/2/2006",
	"1/2/06",
	"2006-01-02",
}

// parseDatePhrase turns a captured date phrase into a time, trying the
// formats filings actually use.
func parseDatePhrase(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, s); err == nil {
			return &d
		}
	}
	// Retry with the comma stripped; filers are inconsistent about it.
	stripped := strings.ReplaceAll(s, ",", "")
	for _, layout := range dateLayouts {
		if d, err := time.Parse(layout, stripped); err == nil {
			return &d
		}
	}
	return nil
}

// findEffectiveDate scans filing text for an effective-date phrase and a
// delaying-amendment flag. Delaying detection runs regardless of whether a
// date is found.
func findEffectiveDate(txt string) (*time.Time, model.Confidence, bool) {
	if strings.TrimSpace(txt) == "" {
		return nil, model.ConfidenceNone, false
	}

	lower := strings.ToLower(txt)
	delaying := false
	for _, p := range delayingPhrases {
		if strings.Contains(lower, p) {
			delaying = true
			break
		}
	}

	t := normalizeSpacing(txt)
	for _, re := range highConfidenceDateRes {
		if m := re.FindStringSubmatch(t); m != nil {
			if d := parseDatePhrase(m[1]); d != nil {
				return d, model.ConfidenceHighText, delaying
			}
		}
	}
	for _, re := range lowConfidenceDateRes {
		if m := re.FindStringSubmatch(t); m != nil {
			if d := parseDatePhrase(m[1]); d != nil {
				return d, model.ConfidenceLowText, delaying
			}
		}
	}
	return nil, model.ConfidenceNone, delaying
}
