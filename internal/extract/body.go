package extract

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// embeddedDoc is one <DOCUMENT> block inside a full SGML submission.
type embeddedDoc struct {
	Type     string
	Filename string
	Body     string
}

var (
	documentBlockRe = regexp.MustCompile(`(?is)<DOCUMENT>(.*?)</DOCUMENT>`)
	docTypeRe       = regexp.MustCompile(`(?i)<TYPE>([^<\r\n]+)`)
	docFilenameRe   = regexp.MustCompile(`(?i)<FILENAME>([^<\r\n]+)`)
	docTextRe       = regexp.MustCompile(`(?is)<TEXT>(.*?)</TEXT>`)
)

// iterSubmissionDocuments splits a full submission into its embedded
// documents. Exhibits and graphics are returned too; callers filter by type.
func iterSubmissionDocuments(txt string) []embeddedDoc {
	var out []embeddedDoc
	for _, m := range documentBlockRe.FindAllStringSubmatch(txt, -1) {
		block := m[1]
		doc := embeddedDoc{}
		if tm := docTypeRe.FindStringSubmatch(block); tm != nil {
			doc.Type = strings.ToUpper(normalizeSpacing(tm[1]))
		}
		if fm := docFilenameRe.FindStringSubmatch(block); fm != nil {
			doc.Filename = normalizeSpacing(fm[1])
		}
		if bm := docTextRe.FindStringSubmatch(block); bm != nil {
			doc.Body = bm[1]
		}
		out = append(out, doc)
	}
	return out
}

// htmlToText extracts the visible text of an HTML fragment. A parse failure
// falls back to the raw string; the date and ticker patterns still work on
// tag soup.
func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style":
				return
			}
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.TrimSpace(buf.String())
}

// pdfMagic marks a binary PDF. Text-rendered PDFs (some filers upload those)
// pass straight through as plain bytes.
var pdfMagic = []byte("%PDF-")

func isBinaryPDF(body []byte) bool {
	return bytes.HasPrefix(body, pdfMagic)
}

func isHTMLDoc(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".htm") || strings.HasSuffix(lower, ".html")
}

func isPDFDoc(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// ---- fund name mentions ----

var fundNameRes = []*regexp.Regexp{
	regexp.MustCompile(`[A-Z][A-Za-z0-9\s\-\.]+(?:ETF|Fund|Trust)`),
	regexp.MustCompile(`T-REX\s+[A-Z0-9][A-Za-z0-9\s\-\.]+(?:ETF|Fund)`),
	regexp.MustCompile(`REX\s+[A-Za-z0-9\s\-\.]+(?:ETF|Fund)`),
}

var nameJunkPrefixRe = regexp.MustCompile(`(?i)^(?:SUMMARY\s+PROSPECTUS\s+.*?TRUST\s+SUMMARY\s+PROSPECTUS\s+|SUMMARY\s+PROSPECTUS\s+|Prospectus\s+for\s+|Income\s+ETF\s+|Option\s+Strategy\s+ETF\s+)`)

var conjoinedNameRe = regexp.MustCompile(`(?i)\b(?:ETF|Fund)\s+and\s+`)

const maxFundNames = 50

// extractFundNames scans body text for fund name mentions. Used only to pair
// a marketing ("prospectus") name with the SGML-registered one; never as a
// product identity.
func extractFundNames(text string) []string {
	if text == "" {
		return nil
	}
	var raw []string
	seenRaw := map[string]struct{}{}
	for _, re := range fundNameRes {
		for _, m := range re.FindAllString(text, -1) {
			name := normalizeSpacing(m)
			if len(name) <= 10 {
				continue
			}
			if _, ok := seenRaw[name]; ok {
				continue
			}
			seenRaw[name] = struct{}{}
			raw = append(raw, name)
		}
	}

	var names []string
	seen := map[string]struct{}{}
	for _, r := range raw {
		cleaned := strings.TrimSpace(nameJunkPrefixRe.ReplaceAllString(r, ""))
		if len(cleaned) <= 5 {
			continue
		}
		// "X ETF and Y Fund" spans two funds; drop it.
		if conjoinedNameRe.MatchString(cleaned) {
			continue
		}
		if _, ok := seen[cleaned]; ok {
			continue
		}
		seen[cleaned] = struct{}{}
		names = append(names, cleaned)
		if len(names) >= maxFundNames {
			break
		}
	}
	return names
}

// nameStopTokens are dropped before comparing fund name token sets.
var nameStopTokens = map[string]struct{}{
	"ETF": {}, "FUND": {}, "TRUST": {}, "THE": {}, "AND": {}, "FOR": {},
	"WITH": {}, "DAILY": {}, "TARGET": {}, "CAPITAL": {},
}

var tokenRe = regexp.MustCompile(`[A-Z0-9]+`)

func nameTokens(name string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, tok := range tokenRe.FindAllString(strings.ToUpper(name), -1) {
		if _, stop := nameStopTokens[tok]; stop {
			continue
		}
		out[tok] = struct{}{}
	}
	return out
}

// matchProspectusName finds the body-text fund name that best token-overlaps
// the SGML name, requiring at least half the union to match. Returns ""
// when no candidate clears the bar or the best match is the SGML name
// itself.
func matchProspectusName(sgmlName string, bodyNames []string) string {
	if sgmlName == "" || len(bodyNames) == 0 {
		return ""
	}
	sgmlNorm := strings.ToUpper(normalizeSpacing(sgmlName))
	sgmlToks := nameTokens(sgmlName)
	if len(sgmlToks) == 0 {
		return ""
	}

	best := ""
	bestScore := 0.0
	for _, candidate := range bodyNames {
		if strings.ToUpper(normalizeSpacing(candidate)) == sgmlNorm {
			continue
		}
		candToks := nameTokens(candidate)
		if len(candToks) == 0 {
			continue
		}
		overlap := 0
		for tok := range sgmlToks {
			if _, ok := candToks[tok]; ok {
				overlap++
			}
		}
		union := len(sgmlToks) + len(candToks) - overlap
		score := float64(overlap) / float64(union)
		if score >= 0.5 && score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	return best
}

// ---- ticker search ----

var tickerStopwords = map[string]struct{}{
	"THE": {}, "AND": {}, "FOR": {}, "WITH": {}, "ETF": {}, "FUND": {},
	"RISK": {}, "USD": {}, "MEMBER": {}, "SYMBOL": {}, "NAN": {}, "NONE": {},
	"TBD": {}, "COM": {}, "INC": {}, "LLC": {}, "TRUST": {}, "DAILY": {},
	"TARGET": {},
}

var tickerLabelRe = regexp.MustCompile(`(?i)(?:Ticker|Trading\s*Symbol)\s*[:\-\x{2013}]\s*([A-Z0-9]{1,6})`)

var hasLetterRe = regexp.MustCompile(`[A-Za-z]`)

func validTicker(tok string) bool {
	t := strings.ToUpper(strings.TrimSpace(tok))
	if len(t) < 2 || len(t) > 5 {
		return false
	}
	if _, stop := tickerStopwords[t]; stop {
		return false
	}
	return hasLetterRe.MatchString(t)
}

// tickerSearchWindow is how far around a fund name mention the label rule
// looks for a Ticker/Trading Symbol declaration.
const tickerSearchWindow = 600

// findTickerForFund searches body texts for the fund's trading symbol.
// Two rules, in order: the fund name immediately followed by a
// parenthesized symbol, then a Ticker/Trading Symbol label near any mention
// of the name.
func findTickerForFund(fundName string, texts []string) string {
	if fundName == "" {
		return ""
	}
	namePat := regexp.QuoteMeta(normalizeSpacing(fundName))

	parenRe, err := regexp.Compile(`(?i)` + namePat + `\s*\(\s*([A-Z0-9]{1,6})\s*\)`)
	if err != nil {
		return ""
	}
	for _, t := range texts {
		if m := parenRe.FindStringSubmatch(t); m != nil {
			if cand := strings.ToUpper(m[1]); validTicker(cand) {
				return cand
			}
		}
	}

	nameRe, err := regexp.Compile(`(?i)` + namePat)
	if err != nil {
		return ""
	}
	for _, t := range texts {
		if t == "" {
			continue
		}
		for _, loc := range nameRe.FindAllStringIndex(t, -1) {
			start := loc[0] - tickerSearchWindow
			if start < 0 {
				start = 0
			}
			end := loc[1] + tickerSearchWindow
			if end > len(t) {
				end = len(t)
			}
			if lm := tickerLabelRe.FindStringSubmatch(t[start:end]); lm != nil {
				if cand := strings.ToUpper(lm[1]); validTicker(cand) {
					return cand
				}
			}
		}
	}
	return ""
}
