// Package registry holds the set of ETP trusts the pipeline tracks, keyed by
// SEC CIK. The built-in table covers the monitored issuers; a YAML overrides
// file can add filers, rename them, remove them, or pin an extraction
// strategy per filer.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/fundwatch/etp-tracker/internal/model"
)

// builtinTrusts maps CIK (no leading zeros) to trust display name.
// CIKs verified against SEC EDGAR submissions JSON.
var builtinTrusts = map[string]string{
	"2043954": "REX ETF Trust",
	"1424958": "Direxion Shares ETF Trust",
	"1040587": "Direxion Funds",
	"1174610": "ProShares Trust",
	"1689873": "GraniteShares ETF Trust",
	"1884021": "Volatility Shares Trust",
	"1976517": "Roundhill ETF Trust",
	"1924868": "Tidal Trust II",
	"1540305": "ETF Series Solutions",
	"1976322": "Themes ETF Trust",
	"1771146": "ETF Opportunities Trust",
	"1452937": "Exchange Traded Concepts Trust",
	"1587982": "Investment Managers Series Trust II",
	"1547950": "Exchange Listed Funds Trust",
	"1579881": "Calamos ETF Trust",
	"826732":  "Calamos Investment Trust",
	"1782952": "Kurv ETF Trust",
	"1722388": "Tidal Trust III",
	"1683471": "Listed Funds Trust",
	"1396092": "World Funds Trust",
	"1415726": "Innovator ETFs Trust",
	"1329377": "First Trust Exchange-Traded Fund",
	"1364608": "First Trust Exchange-Traded Fund II",
	"1424212": "First Trust Exchange-Traded Fund III",
	"1517936": "First Trust Exchange-Traded Fund IV",
	"1561785": "First Trust Exchange-Traded Fund VII",
	"1667919": "First Trust Exchange-Traded Fund VIII",
	"1742912": "Tidal Trust I",
	"1592900": "EA Series Trust",
	"1378872": "Invesco Exchange-Traded Fund Trust II",
	"1418144": "Invesco Actively Managed Exchange-Traded Fund Trust",
	"1067839": "Invesco QQQ Trust Series 1",
	"1432353": "Global X Funds",
	"1485894": "J.P. Morgan Exchange-Traded Fund Trust",
	"1479026": "Goldman Sachs ETF Trust",
	"1882879": "Goldman Sachs ETF Trust II",
	"1848758": "NEOS ETF Trust",
	"1810747": "Simplify Exchange Traded Funds",
	"1137360": "VanEck ETF Trust",
	"1350487": "WisdomTree Trust",
	"1579982": "ARK ETF Trust",
	"1655589": "Franklin Templeton ETF Trust",
	"1976672": "Grayscale Funds Trust",
	"1928561": "Bitwise Funds Trust",
	"1877493": "Valkyrie ETF Trust II",
	"1588489": "Grayscale Bitcoin Trust ETF",
	"1980994": "iShares Bitcoin Trust ETF",
	"1852317": "Fidelity Wise Origin Bitcoin Fund",
	"1838028": "VanEck Bitcoin ETF",
	"1763415": "Bitwise Bitcoin ETF",
	"1869699": "Ark 21Shares Bitcoin ETF",
	"2000638": "iShares Ethereum Trust ETF",
	"2000046": "Fidelity Ethereum Fund",
	"1415311": "ProShares Trust II",
	"1761055": "BlackRock ETF Trust",
	"1064641": "Select Sector SPDR Trust",
	"1797318": "AIM ETF Products Trust",
	"1727074": "PGIM ETF Trust",
	"1616668": "Pacer Funds Trust",
	"1633061": "Amplify ETF Trust",
	"1408970": "AdvisorShares Trust",
	"1547576": "Krane Shares Trust",
	"1454889": "Schwab Strategic Trust",
	"1795351": "T. Rowe Price Exchange-Traded Funds Inc",
	"1529505": "United States Commodity Funds Trust I",
	"1100663": "iShares Trust",
	"1524513": "iShares U.S. ETF Trust",
	"1209466": "Invesco Exchange-Traded Fund Trust",
	"1450011": "PIMCO ETF Trust",
	"1886172": "DoubleLine ETF Trust",
	"1879238": "BondBloxx ETF Trust",
	"1471824": "Teucrium Commodity Trust",
	"1793497": "VS Trust",
	"52848":   "Vanguard World Fund",
	"1021882": "Vanguard Scottsdale Funds",
}

// act33CIKs lists Securities Act of 1933 filers (S-1/10-K registration).
// Every other CIK defaults to the Investment Company Act of 1940 (N-1A).
var act33CIKs = map[string]struct{}{
	"1588489": {}, // Grayscale Bitcoin Trust ETF (GBTC)
	"1980994": {}, // iShares Bitcoin Trust ETF (IBIT)
	"1852317": {}, // Fidelity Wise Origin Bitcoin Fund (FBTC)
	"1838028": {}, // VanEck Bitcoin ETF (HODL)
	"1763415": {}, // Bitwise Bitcoin ETF (BITB)
	"1869699": {}, // Ark 21Shares Bitcoin ETF (ARKB)
	"2000638": {}, // iShares Ethereum Trust ETF (ETHA)
	"2000046": {}, // Fidelity Ethereum Fund (FETH)
	"1415311": {}, // ProShares Trust II (commodity/currency leveraged)
	"1529505": {}, // United States Commodity Funds Trust I (USO, UNG)
	"1793497": {}, // VS Trust (SVIX, UVIX)
	"1471824": {}, // Teucrium Commodity Trust (CANE, WEAT, CORN, SOYB)
}

// overridesFile is the YAML shape of the registry overrides file.
type overridesFile struct {
	Filers []filerOverride `yaml:"filers"`
	Remove []string        `yaml:"remove"`
}

type filerOverride struct {
	CIK           string `yaml:"cik"`
	Name          string `yaml:"name"`
	ForceStrategy string `yaml:"force_strategy"`
}

// Registry is the resolved set of tracked filers.
type Registry struct {
	filers map[string]model.Filer
}

// Builtin returns the registry with only the built-in trust table.
func Builtin() *Registry {
	filers := make(map[string]model.Filer, len(builtinTrusts))
	for cik, name := range builtinTrusts {
		filers[cik] = model.Filer{CIK: cik, Name: name}
	}
	return &Registry{filers: filers}
}

// Load returns the built-in registry merged with the overrides file at path.
// An empty path or a missing file yields the built-in registry unchanged.
func Load(path string) (*Registry, error) {
	reg := Builtin()
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, eris.Wrapf(err, "read registry overrides %s", path)
	}

	var of overridesFile
	if err := yaml.Unmarshal(data, &of); err != nil {
		return nil, eris.Wrapf(err, "parse registry overrides %s", path)
	}

	for _, o := range of.Filers {
		cik := NormalizeCIK(o.CIK)
		if cik == "" {
			return nil, eris.Errorf("registry overrides %s: filer with empty cik", path)
		}
		f, ok := reg.filers[cik]
		if !ok {
			f = model.Filer{CIK: cik}
		}
		if o.Name != "" {
			f.Name = o.Name
		}
		if o.ForceStrategy != "" {
			f.ForceStrategy = o.ForceStrategy
		}
		if f.Name == "" {
			return nil, eris.Errorf("registry overrides %s: new filer %s needs a name", path, cik)
		}
		reg.filers[cik] = f
	}

	for _, cik := range of.Remove {
		delete(reg.filers, NormalizeCIK(cik))
	}

	return reg, nil
}

// All returns every tracked filer sorted by CIK for stable iteration order.
func (r *Registry) All() []model.Filer {
	out := make([]model.Filer, 0, len(r.filers))
	for _, f := range r.filers {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CIK < out[j].CIK })
	return out
}

// Get returns the filer for cik (normalized), if tracked.
func (r *Registry) Get(cik string) (model.Filer, bool) {
	f, ok := r.filers[NormalizeCIK(cik)]
	return f, ok
}

// Len returns the number of tracked filers.
func (r *Registry) Len() int {
	return len(r.filers)
}

// ActType returns "33" for Securities Act filers and "40" for Investment
// Company Act filers.
func ActType(cik string) string {
	if _, ok := act33CIKs[NormalizeCIK(cik)]; ok {
		return "33"
	}
	return "40"
}

// NormalizeCIK strips whitespace and leading zeros, the canonical key form.
func NormalizeCIK(cik string) string {
	cik = strings.TrimSpace(cik)
	cik = strings.TrimLeft(cik, "0")
	return cik
}

// PaddedCIK returns the 10-digit zero-padded form EDGAR URLs require.
func PaddedCIK(cik string) string {
	return fmt.Sprintf("%010s", NormalizeCIK(cik))
}
