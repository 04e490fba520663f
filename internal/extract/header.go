package extract

import (
	"regexp"
	"strings"
	"time"
)

// seriesClass is one fund enumerated by the SGML header of a submission.
type seriesClass struct {
	SeriesID   string
	SeriesName string
	ClassID    string
	ClassName  string
	Ticker     string
}

// Placeholder values EDGAR filers put in the ticker field before a symbol is
// assigned.
var badTickers = map[string]struct{}{
	"SYMBOL": {}, "NAN": {}, "NONE": {}, "TBD": {}, "N/A": {}, "NA": {},
	"COM": {}, "INC": {}, "LLC": {}, "TRUST": {}, "DAILY": {}, "TARGET": {},
}

var (
	newSeriesBlockRe = regexp.MustCompile(`(?is)<NEW-SERIES>(.*?)</NEW-SERIES>`)
	seriesBlockRe    = regexp.MustCompile(`(?is)<SERIES>(.*?)</SERIES>`)
	classBlockRe     = regexp.MustCompile(`(?is)<CLASS-CONTRACT>(.*?)</CLASS-CONTRACT>`)

	effectivenessRe = regexp.MustCompile(`(?i)EFFECTIVENESS\s+DATE:\s*(\d{8})`)

	whitespaceRe = regexp.MustCompile(`\s+`)
)

// grabTag returns the normalized text following <TAG> inside an SGML block.
// SGML header tags are unclosed; the value runs to end of line.
func grabTag(block, tag string) string {
	re := regexp.MustCompile(`(?is)<` + tag + `>\s*([^<\r\n]+)`)
	m := re.FindStringSubmatch(block)
	if m == nil {
		return ""
	}
	return normalizeSpacing(m[1])
}

func normalizeSpacing(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// parseSeriesClasses enumerates every fund/class the SGML header declares.
// Initial filings list funds under <NEW-SERIES>; amendments under <SERIES>.
func parseSeriesClasses(txt string) []seriesClass {
	var out []seriesClass
	if txt == "" {
		return out
	}

	emit := func(seriesBlock string) {
		sid := grabTag(seriesBlock, "SERIES-ID")
		sname := grabTag(seriesBlock, "SERIES-NAME")

		classes := classBlockRe.FindAllStringSubmatch(seriesBlock, -1)
		if len(classes) == 0 {
			// A series with no class blocks still names a fund.
			out = append(out, seriesClass{SeriesID: sid, SeriesName: sname})
			return
		}
		for _, cm := range classes {
			blk := cm[1]
			cid := grabTag(blk, "CLASS-CONTRACT-ID")
			if cid == "" {
				cid = grabTag(blk, "CLASS-CONTRACTIDENTIFIER")
			}
			cname := grabTag(blk, "CLASS-CONTRACT-NAME")
			if cname == "" {
				cname = grabTag(blk, "CLASS-NAME")
			}
			sym := grabTag(blk, "CLASS-CONTRACT-TICKER-SYMBOL")
			if sym == "" {
				sym = grabTag(blk, "CLASS-TICKER-SYMBOL")
			}
			if sym == "" {
				sym = grabTag(blk, "CLASS-TICKER")
			}
			out = append(out, seriesClass{
				SeriesID:   sid,
				SeriesName: sname,
				ClassID:    cid,
				ClassName:  cname,
				Ticker:     cleanHeaderTicker(sym),
			})
		}
	}

	for _, m := range newSeriesBlockRe.FindAllStringSubmatch(txt, -1) {
		emit(m[1])
	}
	for _, m := range seriesBlockRe.FindAllStringSubmatch(txt, -1) {
		emit(m[1])
	}

	return out
}

// cleanHeaderTicker drops placeholder and too-short symbols.
func cleanHeaderTicker(sym string) string {
	t := strings.ToUpper(strings.TrimSpace(sym))
	if len(t) < 2 {
		return ""
	}
	if _, bad := badTickers[t]; bad {
		return ""
	}
	return t
}

// headerEffectivenessDate reads the EFFECTIVENESS DATE: YYYYMMDD line EDGAR
// stamps into headers of effectiveness-bearing filings.
func headerEffectivenessDate(txt string) *time.Time {
	m := effectivenessRe.FindStringSubmatch(txt)
	if m == nil {
		return nil
	}
	d, err := time.Parse("20060102", m[1])
	if err != nil {
		return nil
	}
	return &d
}
